package store

import (
	"context"
	"errors"
	"testing"

	"github.com/CTAG07/Logogen/pkg/markov"
)

var testCorpus = []string{"chat", "chien", "cheval", "maison", "montagne", "soleil"}

func TestSaveAndLoadModel(t *testing.T) {
	_, s := setupTestDB(t)
	ctx := context.Background()

	m := markov.Build(testCorpus, markov.WithTopK(4))
	info, err := s.SaveModel(ctx, "french", m, len(testCorpus))
	if err != nil {
		t.Fatalf("SaveModel() failed: %v", err)
	}
	if info.Id == 0 || info.BuildID == "" {
		t.Fatalf("SaveModel() returned incomplete info: %+v", info)
	}

	loaded, loadedInfo, err := s.LoadModel(ctx, "french")
	if err != nil {
		t.Fatalf("LoadModel() failed: %v", err)
	}
	if *loaded != *m {
		t.Errorf("loaded model differs from the saved one")
	}
	if loadedInfo.Id != info.Id || loadedInfo.BuildID != info.BuildID || loadedInfo.TopK != 4 ||
		loadedInfo.WordCount != len(testCorpus) || !loadedInfo.CreatedAt.Equal(info.CreatedAt) {
		t.Errorf("loaded info = %+v, want %+v", loadedInfo, info)
	}
}

func TestSaveModelReplaces(t *testing.T) {
	_, s := setupTestDB(t)
	ctx := context.Background()

	first, err := s.SaveModel(ctx, "french", markov.Build(testCorpus), len(testCorpus))
	if err != nil {
		t.Fatalf("first SaveModel() failed: %v", err)
	}
	replacement := markov.Build([]string{"ox"}, markov.WithTopK(2))
	second, err := s.SaveModel(ctx, "french", replacement, 1)
	if err != nil {
		t.Fatalf("second SaveModel() failed: %v", err)
	}

	if first.Id != second.Id {
		t.Errorf("model id changed on replace: %d -> %d", first.Id, second.Id)
	}
	if first.BuildID == second.BuildID {
		t.Errorf("build id should change on replace")
	}

	loaded, info, err := s.LoadModel(ctx, "french")
	if err != nil {
		t.Fatalf("LoadModel() failed: %v", err)
	}
	if *loaded != *replacement || info.TopK != 2 || info.WordCount != 1 {
		t.Errorf("LoadModel() did not return the replacement model: %+v", info)
	}
}

func TestLoadModelNotFound(t *testing.T) {
	_, s := setupTestDB(t)

	_, _, err := s.LoadModel(context.Background(), "nope")
	if !errors.Is(err, ErrModelNotFound) {
		t.Errorf("expected ErrModelNotFound, got %v", err)
	}
}

func TestLoadModelMissingArtifact(t *testing.T) {
	db, s := setupTestDB(t)
	ctx := context.Background()

	info, err := s.SaveModel(ctx, "french", markov.Build(testCorpus), len(testCorpus))
	if err != nil {
		t.Fatalf("SaveModel() failed: %v", err)
	}
	if _, err = db.ExecContext(ctx, "DELETE FROM word_distributions WHERE model_id = ? AND kind = ?", info.Id, KindFinal); err != nil {
		t.Fatal(err)
	}

	_, _, err = s.LoadModel(ctx, "french")
	if !errors.Is(err, markov.ErrMissingArtifact) {
		t.Errorf("expected ErrMissingArtifact, got %v", err)
	}
}

func TestLoadModelCorruptBlob(t *testing.T) {
	db, s := setupTestDB(t)
	ctx := context.Background()

	info, err := s.SaveModel(ctx, "french", markov.Build(testCorpus), len(testCorpus))
	if err != nil {
		t.Fatalf("SaveModel() failed: %v", err)
	}
	if _, err = db.ExecContext(ctx, "UPDATE word_distributions SET data = ? WHERE model_id = ? AND kind = ?", []byte{1, 2, 3}, info.Id, KindStart); err != nil {
		t.Fatal(err)
	}

	_, _, err = s.LoadModel(ctx, "french")
	if !errors.Is(err, markov.ErrBadShape) {
		t.Errorf("expected ErrBadShape, got %v", err)
	}
}

func TestSaveModelRejectsInvalid(t *testing.T) {
	_, s := setupTestDB(t)

	bad := markov.Build(testCorpus)
	bad.Start[0] = 2
	_, err := s.SaveModel(context.Background(), "bad", bad, 0)
	if !errors.Is(err, markov.ErrBadDistribution) {
		t.Errorf("expected ErrBadDistribution, got %v", err)
	}
}

func TestRemoveModel(t *testing.T) {
	db, s := setupTestDB(t)
	ctx := context.Background()

	info, err := s.SaveModel(ctx, "french", markov.Build(testCorpus), len(testCorpus))
	if err != nil {
		t.Fatalf("SaveModel() failed: %v", err)
	}
	if err = s.RemoveModel(ctx, info); err != nil {
		t.Fatalf("RemoveModel() failed: %v", err)
	}

	if _, err = s.GetModelInfo(ctx, "french"); !errors.Is(err, ErrModelNotFound) {
		t.Errorf("expected ErrModelNotFound after removal, got %v", err)
	}
	var count int
	if err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM word_distributions WHERE model_id = ?", info.Id).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("found %d distributions left after removal", count)
	}
}

func TestGetStats(t *testing.T) {
	_, s := setupTestDB(t)
	ctx := context.Background()

	if _, err := s.SaveModel(ctx, "b_model", markov.Build(testCorpus), 6); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SaveModel(ctx, "a_model", markov.Build([]string{"ox", "ax"}), 2); err != nil {
		t.Fatal(err)
	}

	stats, err := s.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats() failed: %v", err)
	}
	if stats.ModelCount != 2 || stats.TotalWords != 8 {
		t.Errorf("GetStats() = %+v, want 2 models and 8 words", stats)
	}
	if len(stats.Models) != 2 || stats.Models[0].Name != "a_model" {
		t.Errorf("models should be listed by name, got %+v", stats.Models)
	}
}

func TestSetupSchemaIdempotent(t *testing.T) {
	db, _ := setupTestDB(t)
	if err := SetupSchema(db); err != nil {
		t.Errorf("second SetupSchema() failed: %v", err)
	}
}

func TestSaveModelEmptyStart(t *testing.T) {
	_, s := setupTestDB(t)
	ctx := context.Background()

	m := markov.Build(testCorpus)
	m.Start = markov.Vector{}
	if _, err := s.SaveModel(ctx, "headless", m, 0); err != nil {
		t.Fatalf("SaveModel() failed: %v", err)
	}

	loaded, _, err := s.LoadModel(ctx, "headless")
	if err != nil {
		t.Fatalf("LoadModel() failed: %v", err)
	}
	if loaded.Start.Sum() != 0 {
		t.Errorf("expected an empty start distribution, got sum %v", loaded.Start.Sum())
	}
	w, err := loaded.Generate(markov.NewRand(1), 5)
	if err != nil || len(w) != 5 {
		t.Errorf("Generate() = %q, %v", w, err)
	}
}
