package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/CTAG07/Logogen/pkg/markov"
	"github.com/google/uuid"
)

// ModelInfo holds the metadata stored alongside a model's distributions.
// BuildID changes every time the model is saved, so callers holding a cached
// copy can tell when it has been retrained.
type ModelInfo struct {
	Id        int       `json:"id"`
	Name      string    `json:"name"`
	BuildID   string    `json:"build_id"`
	TopK      int       `json:"top_k"`
	WordCount int       `json:"word_count"`
	CreatedAt time.Time `json:"created_at"`
}

// GetModelInfos retrieves metadata for all models, ordered by name.
func (s *Store) GetModelInfos(ctx context.Context) ([]ModelInfo, error) {
	rows, err := s.stmtGetModels.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	models := make([]ModelInfo, 0)
	for rows.Next() {
		var info ModelInfo
		var created int64
		if err = rows.Scan(&info.Id, &info.Name, &info.BuildID, &info.TopK, &info.WordCount, &created); err != nil {
			return nil, err
		}
		info.CreatedAt = time.Unix(created, 0).UTC()
		models = append(models, info)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return models, nil
}

// GetModelInfo retrieves the metadata for a single model. It returns
// ErrModelNotFound if no model has that name.
func (s *Store) GetModelInfo(ctx context.Context, name string) (ModelInfo, error) {
	info := ModelInfo{Name: name}
	var created int64
	err := s.stmtGetModelInfo.QueryRowContext(ctx, name).Scan(&info.Id, &info.BuildID, &info.TopK, &info.WordCount, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ModelInfo{}, fmt.Errorf("%w: %q", ErrModelNotFound, name)
		}
		return ModelInfo{}, err
	}
	info.CreatedAt = time.Unix(created, 0).UTC()
	return info, nil
}

// SaveModel stores m under name, replacing any model already saved with that
// name. The metadata row and the three distributions are written in a single
// transaction, so a reader never observes a half-saved model.
func (s *Store) SaveModel(ctx context.Context, name string, m *markov.Model, wordCount int) (ModelInfo, error) {
	if err := m.Validate(); err != nil {
		return ModelInfo{}, fmt.Errorf("refusing to save model %q: %w", name, err)
	}

	info := ModelInfo{
		Name:      name,
		BuildID:   uuid.NewString(),
		TopK:      m.TopK,
		WordCount: wordCount,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ModelInfo{}, err
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	err = tx.QueryRowContext(ctx, `
INSERT INTO word_models (model_name, build_id, top_k, word_count, created_at) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(model_name) DO UPDATE SET
    build_id = excluded.build_id,
    top_k = excluded.top_k,
    word_count = excluded.word_count,
    created_at = excluded.created_at
RETURNING model_id;`,
		info.Name, info.BuildID, info.TopK, info.WordCount, info.CreatedAt.Unix()).Scan(&info.Id)
	if err != nil {
		return ModelInfo{}, fmt.Errorf("could not upsert model %q: %w", name, err)
	}

	stmtPutDistribution, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO word_distributions (model_id, kind, data) VALUES (?, ?, ?);`)
	if err != nil {
		return ModelInfo{}, fmt.Errorf("failed to prepare distribution insert statement: %w", err)
	}
	defer func(stmt *sql.Stmt) {
		_ = stmt.Close()
	}(stmtPutDistribution)

	blobs := []struct {
		kind string
		data []byte
	}{
		{KindStart, encodeVector(&m.Start)},
		{KindInterior, encodeMatrix(&m.Interior)},
		{KindFinal, encodeMatrix(&m.Final)},
	}
	for _, b := range blobs {
		if _, err = stmtPutDistribution.ExecContext(ctx, info.Id, b.kind, b.data); err != nil {
			return ModelInfo{}, fmt.Errorf("could not store %s distribution for model %q: %w", b.kind, name, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return ModelInfo{}, err
	}

	s.logger.InfoContext(ctx, "Model saved",
		slog.String("model_name", info.Name),
		slog.Int("model_id", info.Id),
		slog.String("build_id", info.BuildID),
		slog.Int("word_count", info.WordCount),
	)
	return info, nil
}

// LoadModel reads the model saved under name. It returns ErrModelNotFound if
// the model does not exist and markov.ErrMissingArtifact if the model exists
// but one of its distributions is absent.
func (s *Store) LoadModel(ctx context.Context, name string) (*markov.Model, ModelInfo, error) {
	info, err := s.GetModelInfo(ctx, name)
	if err != nil {
		return nil, ModelInfo{}, err
	}

	m := &markov.Model{TopK: info.TopK}
	load := func(kind string, decode func([]byte) error) error {
		var data []byte
		err := s.stmtGetDistribution.QueryRowContext(ctx, info.Id, kind).Scan(&data)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s distribution of model %q", markov.ErrMissingArtifact, kind, name)
		}
		if err != nil {
			return fmt.Errorf("could not read %s distribution of model %q: %w", kind, name, err)
		}
		if err = decode(data); err != nil {
			return fmt.Errorf("%s distribution of model %q: %w", kind, name, err)
		}
		return nil
	}

	if err = load(KindStart, func(b []byte) error { return decodeVector(b, &m.Start) }); err != nil {
		return nil, ModelInfo{}, err
	}
	if err = load(KindInterior, func(b []byte) error { return decodeMatrix(b, &m.Interior) }); err != nil {
		return nil, ModelInfo{}, err
	}
	if err = load(KindFinal, func(b []byte) error { return decodeMatrix(b, &m.Final) }); err != nil {
		return nil, ModelInfo{}, err
	}
	if err = m.Validate(); err != nil {
		return nil, ModelInfo{}, fmt.Errorf("model %q: %w", name, err)
	}

	s.logger.DebugContext(ctx, "Model loaded",
		slog.String("model_name", name),
		slog.String("build_id", info.BuildID),
	)
	return m, info, nil
}

// RemoveModel deletes a model and its distributions. The operation is
// performed within a transaction.
func (s *Store) RemoveModel(ctx context.Context, info ModelInfo) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if _, err = tx.ExecContext(ctx, "DELETE FROM word_distributions WHERE model_id = ?", info.Id); err != nil {
		return fmt.Errorf("failed to remove distributions for model %d: %w", info.Id, err)
	}

	if _, err = tx.ExecContext(ctx, "DELETE FROM word_models WHERE model_id = ?", info.Id); err != nil {
		return fmt.Errorf("failed to remove model %d: %w", info.Id, err)
	}

	s.logger.InfoContext(ctx, "Model removed successfully",
		slog.String("model_name", info.Name),
		slog.Int("model_id", info.Id),
	)

	return tx.Commit()
}
