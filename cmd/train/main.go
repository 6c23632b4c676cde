// Command train extracts features from the labeled dataset, trains the
// CNN-LSTM classifier and saves the model with its scaler and encoder.
package main

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ieee0824/emotion-go/internal/cli"
	"github.com/ieee0824/emotion-go/internal/config"
	"github.com/ieee0824/emotion-go/trainer"
)

func main() {
	cli.Execute(newCommand())
}

func newCommand() *cli.Command {
	c := cli.New("train", "Train the emotion classifier on the dataset", run)
	f, v := c.Flags(), c.Viper
	f.Int("epochs", v.GetInt("train.epochs"), "maximum number of epochs")
	f.Int("batch-size", v.GetInt("train.batch_size"), "mini-batch size")
	f.Float64("learning-rate", v.GetFloat64("train.learning_rate"), "initial Adam learning rate")
	f.String("artifacts-dir", v.GetString("artifacts.dir"), "directory for the model, checkpoint, scaler and encoder")
	f.Bool("progress", v.GetBool("train.progress"), "show a feature extraction progress bar")
	c.Bind("train.epochs", "epochs")
	c.Bind("train.batch_size", "batch-size")
	c.Bind("train.learning_rate", "learning-rate")
	c.Bind("artifacts.dir", "artifacts-dir")
	c.Bind("train.progress", "progress")
	return c
}

func run(ctx context.Context, cmd *cobra.Command, cfg *config.Config, log *logrus.Logger) error {
	a := cfg.Artifacts
	if err := os.MkdirAll(a.Dir, 0o755); err != nil {
		return err
	}
	tc := trainer.Config{
		Root:      cfg.Dataset.Root,
		Features:  cfg.Features,
		Train:     cfg.Train.TrainConfig,
		Arch:      cfg.Model,
		TestSize:  cfg.Train.TestSize,
		SplitSeed: cfg.Train.SplitSeed,
		Workers:   cfg.Train.ExtractWorkers,
		Artifacts: trainer.Paths{
			Model:      a.Path(a.Model),
			Checkpoint: a.Path(a.Checkpoint),
			Scaler:     a.Path(a.Scaler),
			Encoder:    a.Path(a.Encoder),
		},
	}
	opts := []trainer.Option{trainer.WithOutput(cmd.OutOrStdout()), trainer.WithLogger(log)}
	if cfg.Train.Progress {
		opts = append(opts, trainer.WithProgress(cmd.ErrOrStderr()))
	}

	st, err := cli.OpenStore(cfg.Database, log)
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
		opts = append(opts, trainer.WithRunStore(st))
	}
	client, err := cli.OpenArtifacts(cfg.Storage)
	if err != nil {
		return err
	}
	if client != nil {
		opts = append(opts, trainer.WithPublisher(client))
	}

	res, err := trainer.New(tc, opts...).Run(ctx)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"run":      res.RunID,
		"accuracy": res.TestAccuracy,
		"epochs":   len(res.History.Epochs),
	}).Info("training finished")
	return nil
}
