package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/ieee0824/emotion-go/internal/config"
	"github.com/ieee0824/emotion-go/internal/logging"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(config.Database{Driver: "sqlite", Name: filepath.Join(t.TempDir(), "test.db")}, logging.Discard())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := Open(config.Database{Driver: "none"}, logging.Discard()); err == nil {
		t.Error("expected error")
	}
}

func TestRuns(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	if _, err := s.LatestRun(ctx); !errors.Is(err, ErrNoRun) {
		t.Fatalf("LatestRun on empty store = %v, want ErrNoRun", err)
	}

	old := &TrainingRun{ID: "run-1", Status: StatusSucceeded, ModelKey: "runs/run-1/model.gob", CreatedAt: time.Now().Add(-time.Hour)}
	failed := &TrainingRun{ID: "run-2", Status: StatusFailed}
	running := &TrainingRun{ID: "run-3", Status: StatusRunning, DatasetRoot: "Dataset"}
	for _, r := range []*TrainingRun{old, failed, running} {
		if err := s.CreateRun(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	latest, err := s.LatestRun(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if latest.ID != "run-1" {
		t.Errorf("latest = %s, want run-1", latest.ID)
	}

	now := time.Now()
	running.Status = StatusSucceeded
	running.FinishedAt = &now
	running.TestAccuracy = 0.75
	if err := s.SaveRun(ctx, running); err != nil {
		t.Fatal(err)
	}
	latest, err = s.LatestRun(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if latest.ID != "run-3" || latest.TestAccuracy != 0.75 || latest.DatasetRoot != "Dataset" {
		t.Errorf("latest = %+v", latest)
	}

	got, err := s.Run(ctx, "run-2")
	if err != nil || got.Status != StatusFailed {
		t.Errorf("Run(run-2) = %+v, %v", got, err)
	}
	if _, err := s.Run(ctx, "missing"); err == nil {
		t.Error("expected error for unknown run")
	}
}

func TestPredictions(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	for i, label := range []string{"anger", "happy", "sadness"} {
		p := &Prediction{
			CreatedAt:      time.Now().Add(time.Duration(i) * time.Second),
			Filename:       label + ".wav",
			ClaimedLabel:   "happy",
			PredictedLabel: label,
			Confidence:     0.5,
			Correct:        label == "happy",
		}
		if err := s.RecordPrediction(ctx, p); err != nil {
			t.Fatal(err)
		}
	}
	recent, err := s.RecentPredictions(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 {
		t.Fatalf("len = %d", len(recent))
	}
	if recent[0].PredictedLabel != "sadness" || recent[1].PredictedLabel != "happy" || !recent[1].Correct {
		t.Errorf("recent = %+v", recent)
	}
}
