// Command predict classifies audio files with the trained model.
package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ieee0824/emotion-go/internal/cli"
	"github.com/ieee0824/emotion-go/internal/config"
)

func main() {
	cli.Execute(newCommand())
}

func newCommand() *cli.Command {
	c := cli.New("predict FILE...", "Predict the emotion of audio files", run)
	c.Args = cobra.MinimumNArgs(1)
	f, v := c.Flags(), c.Viper
	f.String("artifacts-dir", v.GetString("artifacts.dir"), "directory holding the trained artifacts")
	f.Bool("from-store", v.GetBool("server.from_store"), "load the artifacts of a recorded training run")
	f.String("run", v.GetString("server.run_id"), "training run to load with --from-store (default: latest)")
	c.Bind("artifacts.dir", "artifacts-dir")
	c.Bind("server.from_store", "from-store")
	c.Bind("server.run_id", "run")
	return c
}

func run(ctx context.Context, cmd *cobra.Command, cfg *config.Config, log *logrus.Logger) error {
	st, err := cli.OpenStore(cfg.Database, log)
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
	}
	rec, err := cli.LoadRecognizer(ctx, cfg, st, log)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, path := range cmd.Flags().Args() {
		p, err := rec.PredictFile(ctx, path)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s\t%s\t%.4f\n", path, p.Label, p.Confidence)
		for _, l := range p.Ranked() {
			log.WithFields(logrus.Fields{"file": path, "label": l, "p": p.Probabilities[l]}).Debug("probability")
		}
	}
	return nil
}
