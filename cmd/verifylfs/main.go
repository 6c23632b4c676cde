// Command verifylfs checks that the dataset holds real WAV files rather
// than Git LFS pointers.
package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ieee0824/emotion-go/dataset"
	"github.com/ieee0824/emotion-go/diagnose"
	"github.com/ieee0824/emotion-go/internal/cli"
	"github.com/ieee0824/emotion-go/internal/config"
)

func main() {
	var strict bool
	c := cli.New("verifylfs", "Verify that every dataset file is a valid WAV file",
		func(_ context.Context, cmd *cobra.Command, cfg *config.Config, log *logrus.Logger) error {
			r := diagnose.NewRunner(dataset.NewLayout(cfg.Dataset.Root, cfg.Dataset.Labels),
				diagnose.WithOutput(cmd.OutOrStdout()), diagnose.WithLogger(log))
			res, err := r.VerifyLFS()
			if err != nil {
				return err
			}
			if strict && !res.OK() {
				return errors.Errorf("%d invalid files", res.Invalid())
			}
			return nil
		})
	c.Flags().BoolVar(&strict, "strict", false, "exit with status 1 when any file is invalid")
	cli.Execute(c)
}
