package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

func init() {
	// Auto-register sqlite-vec extension
	sqlite_vec.Auto()
}

// NoMemoriesSentinel is returned by Retrieve when nothing matches. It
// reads naturally inside the model conversation.
const NoMemoriesSentinel = "No relevant memories found."

// Store persists agent memories with vector search
type Store struct {
	db        *sql.DB
	logger    zerolog.Logger
	embedder  EmbeddingProvider
	dimension int
}

// Config holds memory store configuration
type Config struct {
	Dir       string
	Dimension int
	Logger    zerolog.Logger
	Embedder  EmbeddingProvider
}

// NewStore creates a new memory store. The database lives inside Dir,
// which is created if missing.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		return nil, errors.New("memory directory is required")
	}
	if cfg.Embedder == nil {
		return nil, errors.New("embedding provider is required")
	}

	dimension := cfg.Dimension
	if dimension <= 0 {
		dimension = cfg.Embedder.Dimension()
	}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create memory directory: %w", err)
	}

	dbPath := filepath.Join(cfg.Dir, "memories.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{
		db:        db,
		logger:    cfg.Logger.With().Str("component", "memory").Logger(),
		embedder:  cfg.Embedder,
		dimension: dimension,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.logger.Info().Str("db", dbPath).Int("dimension", dimension).Msg("Memory store initialized")
	return s, nil
}

// initSchema creates database tables
func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			metadata TEXT,
			created_at INTEGER NOT NULL
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	vectorSchema := fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS embeddings USING vec0(
			memory_id TEXT PRIMARY KEY,
			embedding float[%d] distance_metric=cosine
		);
	`, s.dimension)
	if _, err := s.db.Exec(vectorSchema); err != nil {
		return fmt.Errorf("failed to create vector table: %w", err)
	}

	return nil
}

// Save stores a memory and returns an outcome string for the model.
// When the embedding backend is unavailable the memory is still saved
// under a zero vector so the text is never lost.
func (s *Store) Save(ctx context.Context, text string, metadata map[string]string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", errors.New("memory text cannot be empty")
	}

	embedding, err := s.embedder.GenerateEmbedding(ctx, text)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Embedding failed, saving memory with zero vector")
		embedding = make([]float32, s.dimension)
	}

	var metadataJSON string
	if len(metadata) > 0 {
		data, err := json.Marshal(metadata)
		if err != nil {
			return "", fmt.Errorf("failed to encode metadata: %w", err)
		}
		metadataJSON = string(data)
	}

	embeddingJSON, err := json.Marshal(embedding)
	if err != nil {
		return "", fmt.Errorf("failed to encode embedding: %w", err)
	}

	id := uuid.NewString()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO memories (id, content, metadata, created_at) VALUES (?, ?, ?, ?)",
		id, text, metadataJSON, time.Now().Unix(),
	); err != nil {
		return "", fmt.Errorf("failed to insert memory: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO embeddings (memory_id, embedding) VALUES (?, ?)",
		id, string(embeddingJSON),
	); err != nil {
		return "", fmt.Errorf("failed to insert embedding: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}

	s.logger.Debug().Str("id", id).Msg("Memory saved")
	return fmt.Sprintf("Memory saved with ID %s", id), nil
}

// Retrieve returns the k nearest memories to the query as a bulleted
// block of text, or the no-memories sentinel. Embedding failures
// degrade to the sentinel so retrieval never aborts a task.
func (s *Store) Retrieve(ctx context.Context, query string, k int) (string, error) {
	if strings.TrimSpace(query) == "" {
		return NoMemoriesSentinel, nil
	}
	if k <= 0 {
		k = 3
	}

	embedding, err := s.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Query embedding failed, skipping memory retrieval")
		return NoMemoriesSentinel, nil
	}

	embeddingJSON, err := json.Marshal(embedding)
	if err != nil {
		return "", fmt.Errorf("failed to encode query embedding: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.content
		FROM embeddings e
		JOIN memories m ON m.id = e.memory_id
		ORDER BY vec_distance_cosine(e.embedding, ?) ASC
		LIMIT ?
	`, string(embeddingJSON), k)
	if err != nil {
		return "", fmt.Errorf("vector search failed: %w", err)
	}
	defer rows.Close()

	var docs []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return "", err
		}
		docs = append(docs, "- "+content)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	if len(docs) == 0 {
		return NoMemoriesSentinel, nil
	}

	s.logger.Debug().Str("query", query).Int("results", len(docs)).Msg("Memories retrieved")
	return strings.Join(docs, "\n"), nil
}

// Count returns the number of stored memories
func (s *Store) Count() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM memories").Scan(&count)
	return count, err
}

// Close closes the memory store
func (s *Store) Close() error {
	s.logger.Info().Msg("Closing memory store")
	return s.db.Close()
}
