// Command identify sniffs the container format of every dataset file.
package main

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ieee0824/emotion-go/dataset"
	"github.com/ieee0824/emotion-go/diagnose"
	"github.com/ieee0824/emotion-go/internal/cli"
	"github.com/ieee0824/emotion-go/internal/config"
)

func main() {
	c := cli.New("identify", "Report the audio format distribution of the dataset",
		func(_ context.Context, cmd *cobra.Command, cfg *config.Config, log *logrus.Logger) error {
			r := diagnose.NewRunner(dataset.NewLayout(cfg.Dataset.Root, cfg.Dataset.Labels),
				diagnose.WithOutput(cmd.OutOrStdout()), diagnose.WithLogger(log))
			_, err := r.IdentifyFormats()
			return err
		})
	cli.Execute(c)
}
