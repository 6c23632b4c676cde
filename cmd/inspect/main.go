// Command inspect prints the first lines of a few dataset files, which
// shows LFS pointers or HTML error pages saved under a .wav name.
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
	var lines int
	c := cli.New("inspect", "Print the beginning of the first dataset files as text",
		func(_ context.Context, cmd *cobra.Command, cfg *config.Config, log *logrus.Logger) error {
			r := diagnose.NewRunner(dataset.NewLayout(cfg.Dataset.Root, cfg.Dataset.Labels),
				diagnose.WithOutput(cmd.OutOrStdout()), diagnose.WithLogger(log))
			_, err := r.InspectContents(lines)
			return err
		})
	c.Flags().IntVar(&lines, "lines", diagnose.DefaultInspectLines, "lines to print per file")
	cli.Execute(c)
}
