// Package gateway is the single entry point for hosted AI and blob storage calls.
// Every call runs under the retry policy and reports its cost.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/markdave123-py/docintel/internal/core"
	"github.com/markdave123-py/docintel/internal/core/extraction"
	"github.com/markdave123-py/docintel/internal/core/retry"
)

// ErrEmptyText means extraction produced nothing to analyze.
var ErrEmptyText = errors.New("no text could be extracted from the document")

const (
	MethodOCR   = "ocr"
	MethodLocal = "local"
)

type TextResult struct {
	Text         string  `json:"text"`
	Model        string  `json:"model"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost"`
}

// BlobRef points at a stored upload.
type BlobRef struct {
	Key         string `json:"key"`
	ContentType string `json:"content_type"`
}

type ExtractionResult struct {
	Text   string  `json:"text"`
	Pages  int     `json:"pages"`
	Method string  `json:"method"`
	Cost   float64 `json:"cost"`
}

type EntityResult struct {
	Entities []core.Entity `json:"entities"`
	Cost     float64       `json:"cost"`
}

type StoredBlob struct {
	URL string `json:"url"`
	Key string `json:"key"`
}

type Options struct {
	LLM       core.LLMProvider
	OCR       core.OCRProvider
	Entities  core.EntityProvider
	Extractor core.DocumentExtractor
	Store     core.ObjectClient
	Bucket    string
	Policy    retry.Policy
	Pricing   Pricing
	Logger    *slog.Logger
}

type Gateway struct {
	llm       core.LLMProvider
	ocr       core.OCRProvider
	entities  core.EntityProvider
	extractor core.DocumentExtractor
	store     core.ObjectClient
	bucket    string
	policy    retry.Policy
	prices    Pricing
	logger    *slog.Logger
}

func New(opts Options) *Gateway {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Policy.MaxAttempts == 0 {
		opts.Policy = retry.DefaultPolicy()
	}
	if opts.Pricing.Models == nil {
		opts.Pricing = DefaultPricing()
	}
	return &Gateway{
		llm:       opts.LLM,
		ocr:       opts.OCR,
		entities:  opts.Entities,
		extractor: opts.Extractor,
		store:     opts.Store,
		bucket:    opts.Bucket,
		policy:    opts.Policy,
		prices:    opts.Pricing,
		logger:    opts.Logger.With(slog.String("component", "gateway")),
	}
}

// GenerateText runs one text-generation call.
func (g *Gateway) GenerateText(ctx context.Context, prompt, systemPrompt string, maxTokens int, temperature float32) (*TextResult, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, core.NewValidationError("prompt", "is required")
	}
	if maxTokens <= 0 {
		return nil, core.NewValidationError("max_tokens", "must be positive, got %d", maxTokens)
	}

	gen, err := retry.Do(ctx, g.policy, "generate_text", g.logger, func(ctx context.Context) (*core.Generation, error) {
		return g.llm.Generate(ctx, systemPrompt, prompt, core.GenerateOptions{
			MaxTokens:   maxTokens,
			Temperature: temperature,
		})
	})
	if err != nil {
		return nil, err
	}

	res := &TextResult{
		Text:         gen.Text,
		Model:        gen.Model,
		InputTokens:  gen.InputTokens,
		OutputTokens: gen.OutputTokens,
		Cost:         g.prices.TokenCost(gen.Model, gen.InputTokens, gen.OutputTokens),
	}
	g.logger.Debug("text generated",
		slog.String("model", res.Model),
		slog.Int("input_tokens", res.InputTokens),
		slog.Int("output_tokens", res.OutputTokens),
		slog.Float64("cost", res.Cost),
	)
	return res, nil
}

// ExtractText sends PDFs and images to hosted OCR and converts everything else locally.
// Empty output is a fatal error.
func (g *Gateway) ExtractText(ctx context.Context, ref BlobRef) (*ExtractionResult, error) {
	if ref.Key == "" {
		return nil, core.NewValidationError("blob_key", "is required")
	}
	data, err := g.FetchBlob(ctx, ref.Key)
	if err != nil {
		return nil, err
	}

	var res *ExtractionResult
	if extraction.NeedsOCR(ref.ContentType) {
		res, err = g.ocrText(ctx, data, ref.ContentType)
	} else {
		res, err = g.localText(ctx, data, ref.ContentType)
	}
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(res.Text) == "" {
		return nil, &core.ServiceError{Op: "extract_text", Err: ErrEmptyText}
	}

	g.logger.Info("text extracted",
		slog.String("key", ref.Key),
		slog.String("method", res.Method),
		slog.Int("pages", res.Pages),
		slog.Int("chars", utf8.RuneCountInString(res.Text)),
		slog.Float64("cost", res.Cost),
	)
	return res, nil
}

func (g *Gateway) ocrText(ctx context.Context, data []byte, contentType string) (*ExtractionResult, error) {
	pages := 0
	if extraction.IsPDF(contentType) {
		n, err := extraction.PDFPageCount(data)
		if err != nil {
			g.logger.Warn("pdf page count failed, using OCR page count", slog.Any("error", err))
		} else {
			pages = n
		}
	}

	ocr, err := retry.Do(ctx, g.policy, "ocr", g.logger, func(ctx context.Context) (*core.OCRResult, error) {
		return g.ocr.RecognizeText(ctx, data, contentType)
	})
	if err != nil {
		return nil, err
	}
	if pages == 0 {
		pages = max(ocr.Pages, 1)
	}
	return &ExtractionResult{
		Text:   ocr.Text,
		Pages:  pages,
		Method: MethodOCR,
		Cost:   g.prices.OCRCost(ocr.Model, pages, ocr.InputTokens, ocr.OutputTokens),
	}, nil
}

func (g *Gateway) localText(ctx context.Context, data []byte, contentType string) (*ExtractionResult, error) {
	out, err := g.extractor.ExtractText(ctx, data, contentType)
	if err != nil {
		return nil, &core.ServiceError{Op: "extract_text", Err: err}
	}
	return &ExtractionResult{Text: out.Text, Pages: max(out.Pages, 1), Method: MethodLocal}, nil
}

func (g *Gateway) AnalyzeEntities(ctx context.Context, text string) (*EntityResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, core.NewValidationError("text", "is required")
	}
	ents, err := retry.Do(ctx, g.policy, "analyze_entities", g.logger, func(ctx context.Context) ([]core.Entity, error) {
		return g.entities.DetectEntities(ctx, text)
	})
	if err != nil {
		return nil, err
	}
	if ents == nil {
		ents = []core.Entity{}
	}
	return &EntityResult{Entities: ents, Cost: g.prices.EntityCost(utf8.RuneCountInString(text))}, nil
}

// StoreBlob uploads under users/<owner>/documents/<name>.
func (g *Gateway) StoreBlob(ctx context.Context, data []byte, name, owner, contentType string) (*StoredBlob, error) {
	if len(data) == 0 {
		return nil, core.NewValidationError("file", "is empty")
	}
	if owner == "" {
		return nil, core.NewValidationError("owner", "is required")
	}
	if strings.TrimSpace(name) == "" {
		return nil, core.NewValidationError("name", "is required")
	}
	key := BlobKey(owner, name)

	url, err := retry.Do(ctx, g.policy, "store_blob", g.logger, func(ctx context.Context) (string, error) {
		return g.store.UploadFile(ctx, g.bucket, key, bytes.NewReader(data), contentType)
	})
	if err != nil {
		return nil, err
	}
	return &StoredBlob{URL: url, Key: key}, nil
}

func (g *Gateway) FetchBlob(ctx context.Context, key string) ([]byte, error) {
	return retry.Do(ctx, g.policy, "fetch_blob", g.logger, func(ctx context.Context) ([]byte, error) {
		return g.store.GetFile(ctx, g.bucket, key)
	})
}

func (g *Gateway) DeleteBlob(ctx context.Context, key string) error {
	_, err := retry.Do(ctx, g.policy, "delete_blob", g.logger, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.store.DeleteFile(ctx, g.bucket, key)
	})
	return err
}

// BlobKey creates a consistent object key layout.
func BlobKey(owner, name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, " ", "_")
	return path.Join("users", owner, "documents", name)
}
