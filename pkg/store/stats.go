package store

import "context"

// DBStats holds aggregated statistics for the whole database.
type DBStats struct {
	Models     []ModelInfo `json:"models"`      // Every stored model
	ModelCount int         `json:"model_count"` // The number of stored models
	TotalWords int         `json:"total_words"` // Training words summed over all models
}

// GetStats returns a snapshot of statistics for the entire database.
func (s *Store) GetStats(ctx context.Context) (*DBStats, error) {
	models, err := s.GetModelInfos(ctx)
	if err != nil {
		return nil, err
	}

	var count int
	if err = s.stmtCountModels.QueryRowContext(ctx).Scan(&count); err != nil {
		return nil, err
	}

	var words int
	if err = s.stmtSumWords.QueryRowContext(ctx).Scan(&words); err != nil {
		return nil, err
	}

	return &DBStats{
		Models:     models,
		ModelCount: count,
		TotalWords: words,
	}, nil
}
