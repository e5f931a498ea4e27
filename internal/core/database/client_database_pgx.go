package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/pgvector/pgvector-go"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/markdave123-py/docintel/internal/config"
	"github.com/markdave123-py/docintel/internal/core"
	"github.com/markdave123-py/docintel/internal/models"
)

type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (DbClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	dsn := cfg.DatabaseURL
	if cfg.SslCertPath != "" {
		if _, err := os.Stat(cfg.SslCertPath); err != nil {
			return nil, fmt.Errorf("ssl cert not accessible at %q: %w", cfg.SslCertPath, err)
		}
		u, err := url.Parse(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
		}
		q := u.Query()
		q.Set("sslmode", "verify-ca")
		q.Set("sslrootcert", cfg.SslCertPath)
		u.RawQuery = q.Encode()
		dsn = u.String()
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Users

func (c *DatabaseClient) CreateUser(ctx context.Context, user *models.User) error {
	if user == nil {
		return errors.New("nil user")
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	const q = `
		INSERT INTO users (id, first_name, email, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := c.db.ExecContext(ctx, q,
		user.ID, user.FirstName, user.Email, user.PasswordHash, user.CreatedAt, user.UpdatedAt)
	return err
}

// GetUserByEmail returns nil, nil when no user has that email.
func (c *DatabaseClient) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	const q = `
		SELECT id, first_name, email, password_hash, created_at, updated_at
		FROM users WHERE email = $1
	`
	var u models.User
	err := c.db.QueryRowContext(ctx, q, email).Scan(
		&u.ID, &u.FirstName, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Documents

func (c *DatabaseClient) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	const q = `
		INSERT INTO documents
			(id, user_id, file_name, storage_url, blob_key, content_type, status, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := c.db.ExecContext(ctx, q,
		doc.ID, doc.UserID, doc.FileName, doc.StorageURL, doc.BlobKey, doc.ContentType, doc.Status, doc.CreatedAt, doc.UpdatedAt)
	return err
}

const documentColumns = `id, user_id, file_name, storage_url, blob_key, content_type, status, analysis, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var (
		d        models.Document
		analysis []byte
	)
	if err := row.Scan(
		&d.ID, &d.UserID, &d.FileName, &d.StorageURL, &d.BlobKey, &d.ContentType, &d.Status, &analysis, &d.CreatedAt, &d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(analysis) > 0 {
		d.Analysis = &models.DocumentAnalysis{}
		if err := json.Unmarshal(analysis, d.Analysis); err != nil {
			return nil, fmt.Errorf("decode analysis for %s: %w", d.ID, err)
		}
	}
	return &d, nil
}

func (c *DatabaseClient) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	d, err := scanDocument(c.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	return d, err
}

func (c *DatabaseClient) ListDocumentsByUser(ctx context.Context, userID string) ([]models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := c.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) UpdateDocumentStatus(ctx context.Context, id string, status string) error {
	const q = `
		UPDATE documents
		SET status = $2, updated_at = now()
		WHERE id = $1
	`
	return c.execOne(ctx, "document", id, q, id, status)
}

// SaveDocumentAnalysis stores the aggregate result and marks the document ready.
func (c *DatabaseClient) SaveDocumentAnalysis(ctx context.Context, id string, analysis *models.DocumentAnalysis) error {
	raw, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("encode analysis: %w", err)
	}
	const q = `
		UPDATE documents
		SET analysis = $2, status = $3, updated_at = now()
		WHERE id = $1
	`
	return c.execOne(ctx, "document", id, q, id, raw, models.DocumentStatusReady)
}

// DeleteDocument removes the document; chunks, embeddings and the job row cascade.
func (c *DatabaseClient) DeleteDocument(ctx context.Context, id string) error {
	return c.execOne(ctx, "document", id, `DELETE FROM documents WHERE id = $1`, id)
}

func (c *DatabaseClient) execOne(ctx context.Context, kind, id, q string, args ...any) error {
	res, err := c.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, core.ErrNotFound)
	}
	return nil
}

// Chunks

// ReplaceDocumentChunks swaps the document's chunk set in a single transaction,
// so re-indexing a document never leaves duplicates behind.
func (c *DatabaseClient) ReplaceDocumentChunks(ctx context.Context, documentID string, chunks []models.DocumentChunk) error {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID); err != nil {
		_ = tx.Rollback()
		return err
	}

	const q = `
		INSERT INTO document_chunks
			(id, document_id, position, text, embedding, token_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i := range chunks {
		ch := &chunks[i]
		if ch.CreatedAt.IsZero() {
			ch.CreatedAt = now
		}
		if _, err := stmt.ExecContext(ctx,
			ch.ID, documentID, ch.Position, ch.Text, pgvector.NewVector(ch.Embedding), ch.TokenCount, ch.CreatedAt,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (c *DatabaseClient) GetChunksByDocument(ctx context.Context, documentID string) ([]models.DocumentChunk, error) {
	const q = `
		SELECT id, document_id, position, text, embedding, token_count, created_at
		FROM document_chunks
		WHERE document_id = $1
		ORDER BY position ASC
	`
	rows, err := c.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DocumentChunk
	for rows.Next() {
		var (
			ch  models.DocumentChunk
			emb pgvector.Vector
		)
		if err := rows.Scan(
			&ch.ID, &ch.DocumentID, &ch.Position, &ch.Text, &emb, &ch.TokenCount, &ch.CreatedAt,
		); err != nil {
			return nil, err
		}
		ch.Embedding = emb.Slice()
		out = append(out, ch)
	}
	return out, rows.Err()
}

// SearchDocumentChunks finds the top-k chunks of one document by cosine distance.
func (c *DatabaseClient) SearchDocumentChunks(ctx context.Context, docID string, queryVec []float32, limit int) ([]models.SearchHit, error) {
	const q = `
		SELECT c.id, c.document_id, c.position, c.text, c.token_count, d.file_name, c.embedding <=> $2 AS distance
		FROM document_chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.document_id = $1
		ORDER BY distance
		LIMIT $3
	`
	return c.searchHits(ctx, q, docID, pgvector.NewVector(queryVec), limit)
}

// SearchUserChunks searches across every document the user owns.
func (c *DatabaseClient) SearchUserChunks(ctx context.Context, userID string, queryVec []float32, limit int) ([]models.SearchHit, error) {
	const q = `
		SELECT c.id, c.document_id, c.position, c.text, c.token_count, d.file_name, c.embedding <=> $2 AS distance
		FROM document_chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE d.user_id = $1
		ORDER BY distance
		LIMIT $3
	`
	return c.searchHits(ctx, q, userID, pgvector.NewVector(queryVec), limit)
}

func (c *DatabaseClient) searchHits(ctx context.Context, q string, args ...any) ([]models.SearchHit, error) {
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.SearchHit{}
	for rows.Next() {
		var h models.SearchHit
		if err := rows.Scan(&h.ID, &h.DocumentID, &h.Position, &h.Text, &h.TokenCount, &h.FileName, &h.Distance); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) SaveDocumentEmbedding(ctx context.Context, documentID, model string, vec []float32) error {
	const q = `
		INSERT INTO document_embeddings (document_id, model, embedding, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (document_id) DO UPDATE
		SET model = EXCLUDED.model, embedding = EXCLUDED.embedding, updated_at = now()
	`
	_, err := c.db.ExecContext(ctx, q, documentID, model, pgvector.NewVector(vec))
	return err
}

// Processing jobs

func (c *DatabaseClient) GetJob(ctx context.Context, documentID string) (*models.ProcessingJob, error) {
	const q = `
		SELECT document_id, user_id, state, blob_key, content_type, options, checkpoint,
		       error_message, failed_step, total_cost, started_at, updated_at
		FROM processing_jobs
		WHERE document_id = $1
	`
	var (
		j          models.ProcessingJob
		state      string
		options    []byte
		checkpoint []byte
	)
	err := c.db.QueryRowContext(ctx, q, documentID).Scan(
		&j.DocumentID, &j.UserID, &state, &j.BlobKey, &j.ContentType, &options, &checkpoint,
		&j.ErrorMessage, &j.FailedStep, &j.TotalCost, &j.StartedAt, &j.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", documentID, core.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	j.State = models.JobState(state)
	if err := json.Unmarshal(options, &j.Options); err != nil {
		return nil, fmt.Errorf("decode job options: %w", err)
	}
	if err := json.Unmarshal(checkpoint, &j.Checkpoint); err != nil {
		return nil, fmt.Errorf("decode job checkpoint: %w", err)
	}
	return &j, nil
}

// SaveJob upserts the job row. A job already marked CANCELLED is never overwritten.
func (c *DatabaseClient) SaveJob(ctx context.Context, job *models.ProcessingJob) error {
	if job == nil {
		return errors.New("nil job")
	}
	options, err := json.Marshal(job.Options)
	if err != nil {
		return fmt.Errorf("encode job options: %w", err)
	}
	cp := job.Checkpoint
	if cp == nil {
		cp = models.Checkpoint{}
	}
	checkpoint, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode job checkpoint: %w", err)
	}
	job.UpdatedAt = time.Now().UTC()
	if job.StartedAt.IsZero() {
		job.StartedAt = job.UpdatedAt
	}

	const q = `
		INSERT INTO processing_jobs
			(document_id, user_id, state, blob_key, content_type, options, checkpoint,
			 error_message, failed_step, total_cost, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (document_id) DO UPDATE SET
			state = EXCLUDED.state,
			options = EXCLUDED.options,
			checkpoint = EXCLUDED.checkpoint,
			error_message = EXCLUDED.error_message,
			failed_step = EXCLUDED.failed_step,
			total_cost = EXCLUDED.total_cost,
			started_at = EXCLUDED.started_at,
			updated_at = EXCLUDED.updated_at
		WHERE processing_jobs.state <> 'CANCELLED'
	`
	_, err = c.db.ExecContext(ctx, q,
		job.DocumentID, job.UserID, string(job.State), job.BlobKey, job.ContentType, options, checkpoint,
		job.ErrorMessage, job.FailedStep, job.TotalCost, job.StartedAt, job.UpdatedAt,
	)
	return err
}

var _ DbClient = (*DatabaseClient)(nil)
