package cli

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	emotion "github.com/ieee0824/emotion-go"
	"github.com/ieee0824/emotion-go/internal/artifact"
	"github.com/ieee0824/emotion-go/internal/config"
	"github.com/ieee0824/emotion-go/internal/store"
)

// OpenStore connects to the configured database, or returns nil when
// database.driver is "none".
func OpenStore(cfg config.Database, log logrus.FieldLogger) (*store.Store, error) {
	if cfg.Driver == "none" {
		return nil, nil
	}
	return store.Open(cfg, log)
}

// OpenArtifacts returns the configured artifact client, or nil when
// storage.provider is "none".
func OpenArtifacts(cfg config.Storage) (*artifact.Client, error) {
	if cfg.Provider == "none" {
		return nil, nil
	}
	return artifact.New(cfg)
}

// LoadRecognizer loads the model, scaler and encoder named in cfg. With
// server.from_store set it downloads those of the run named by
// server.run_id, or of the latest successful run.
func LoadRecognizer(ctx context.Context, cfg *config.Config, st *store.Store, log logrus.FieldLogger, opts ...emotion.Option) (*emotion.Recognizer, error) {
	opts = append([]emotion.Option{emotion.WithFeatureConfig(cfg.Features)}, opts...)
	if !cfg.Server.FromStore {
		a := cfg.Artifacts
		return emotion.NewRecognizer(a.Path(a.Model), a.Path(a.Scaler), a.Path(a.Encoder), opts...)
	}

	if st == nil {
		return nil, errors.New("server.from_store needs a database")
	}
	client, err := OpenArtifacts(cfg.Storage)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, errors.New("server.from_store needs a storage provider")
	}
	run, err := storedRun(ctx, st, cfg.Server.RunID)
	if err != nil {
		return nil, err
	}
	keys := emotion.ArtifactKeys{Model: run.ModelKey, Scaler: run.ScalerKey, Encoder: run.EncoderKey}
	if err := checkArtifacts(ctx, client, run.ID, keys); err != nil {
		return nil, err
	}

	dir := cfg.Server.CacheDir
	if dir == "" {
		if dir, err = os.MkdirTemp("", "emotion-"+run.ID); err != nil {
			return nil, err
		}
	}
	log.WithFields(logrus.Fields{"run": run.ID, "accuracy": run.TestAccuracy}).Info("loading model of stored run")
	return emotion.NewRecognizerFromStore(ctx, client, keys, dir, opts...)
}

func storedRun(ctx context.Context, st *store.Store, id string) (*store.TrainingRun, error) {
	if id == "" {
		return st.LatestRun(ctx)
	}
	run, err := st.Run(ctx, id)
	if err != nil {
		return nil, err
	}
	if run.Status != store.StatusSucceeded {
		return nil, errors.Errorf("run %s is %s", id, run.Status)
	}
	return run, nil
}

// checkArtifacts verifies that every key of run is present in storage.
func checkArtifacts(ctx context.Context, client *artifact.Client, runID string, keys emotion.ArtifactKeys) error {
	stored, err := client.List(ctx, runID)
	if err != nil {
		return errors.Wrapf(err, "listing artifacts of run %s", runID)
	}
	have := make(map[string]bool, len(stored))
	for _, k := range stored {
		have[k] = true
	}
	for _, k := range []string{keys.Model, keys.Scaler, keys.Encoder} {
		if k == "" || !have[k] {
			return errors.Errorf("run %s has no stored artifact %q", runID, k)
		}
	}
	return nil
}
