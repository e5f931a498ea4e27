package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/markdave123-py/docintel/internal/core"
	"github.com/markdave123-py/docintel/internal/core/agents"
	"github.com/markdave123-py/docintel/internal/core/embedding"
	"github.com/markdave123-py/docintel/internal/models"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 50
	chatContextChunks  = 5
)

type SearchStore interface {
	GetDocumentByID(ctx context.Context, id string) (*models.Document, error)
	SearchDocumentChunks(ctx context.Context, docID string, queryVec []float32, limit int) ([]models.SearchHit, error)
	SearchUserChunks(ctx context.Context, userID string, queryVec []float32, limit int) ([]models.SearchHit, error)
}

type QueryEmbedder interface {
	Embed(ctx context.Context, text, model string) (*embedding.Embedding, error)
	Model() string
}

type Dispatcher interface {
	Dispatch(ctx context.Context, name string, input map[string]any) (*agents.Result, error)
}

// Answer is a QA agent reply with the passages it was given.
type Answer struct {
	Answer     string             `json:"answer"`
	Confidence float64            `json:"confidence"`
	Sources    []models.SearchHit `json:"sources"`
	Parsed     bool               `json:"parsed"`
	Cost       float64            `json:"cost"`
}

type SearchService struct {
	db       SearchStore
	embedder QueryEmbedder
	agents   Dispatcher
	logger   *slog.Logger
}

func NewSearchService(db SearchStore, embedder QueryEmbedder, agents Dispatcher, logger *slog.Logger) *SearchService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SearchService{db: db, embedder: embedder, agents: agents, logger: logger.With(slog.String("component", "search"))}
}

// Search runs a vector search over the user's chunks, or one document's when documentID is set.
func (s *SearchService) Search(ctx context.Context, userID, query, documentID string, limit int) ([]models.SearchHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, core.NewValidationError("query", "is required")
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	limit = min(limit, maxSearchLimit)

	if documentID != "" {
		if err := s.checkOwner(ctx, userID, documentID); err != nil {
			return nil, err
		}
	}

	emb, err := s.embedder.Embed(ctx, query, s.embedder.Model())
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	var hits []models.SearchHit
	if documentID != "" {
		hits, err = s.db.SearchDocumentChunks(ctx, documentID, emb.Vector, limit)
	} else {
		hits, err = s.db.SearchUserChunks(ctx, userID, emb.Vector, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	s.logger.Debug("search", slog.String("user_id", userID), slog.Int("hits", len(hits)), slog.Bool("cached", emb.Cached))
	return hits, nil
}

func (s *SearchService) checkOwner(ctx context.Context, userID, documentID string) error {
	doc, err := s.db.GetDocumentByID(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.UserID != userID {
		return fmt.Errorf("document %s: %w", documentID, core.ErrNotFound)
	}
	return nil
}

// Ask answers a question with the QA agent over the document's closest chunks.
func (s *SearchService) Ask(ctx context.Context, userID, documentID, question string) (*Answer, error) {
	if strings.TrimSpace(documentID) == "" {
		return nil, core.NewValidationError("document_id", "is required")
	}
	hits, err := s.Search(ctx, userID, question, documentID, chatContextChunks)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return &Answer{Answer: "The document has no indexed content yet.", Sources: []models.SearchHit{}}, nil
	}

	var sb strings.Builder
	for i, h := range hits {
		fmt.Fprintf(&sb, "[%d] %s\n---\n", i+1, h.Text)
	}
	res, err := s.agents.Dispatch(ctx, string(agents.QA), map[string]any{
		"question": question,
		"context":  sb.String(),
	})
	if err != nil {
		return nil, err
	}

	var out struct {
		Answer     string    `json:"answer"`
		Confidence float64   `json:"confidence"`
		Sources    []float64 `json:"sources"`
	}
	if err := res.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode answer: %w", err)
	}

	ans := &Answer{Answer: out.Answer, Confidence: out.Confidence, Parsed: res.Parsed, Cost: res.Cost}
	for _, f := range out.Sources {
		n := int(f)
		if n >= 1 && n <= len(hits) {
			ans.Sources = append(ans.Sources, hits[n-1])
		}
	}
	if ans.Sources == nil {
		ans.Sources = hits
	}
	return ans, nil
}
