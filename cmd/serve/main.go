// Command serve runs the HTTP prediction service used by the web frontend.
package main

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ieee0824/emotion-go/internal/cli"
	"github.com/ieee0824/emotion-go/internal/config"
	"github.com/ieee0824/emotion-go/internal/metrics"
	"github.com/ieee0824/emotion-go/server"
)

func main() {
	cli.Execute(newCommand())
}

func newCommand() *cli.Command {
	c := cli.New("serve", "Serve emotion predictions over HTTP", run)
	f, v := c.Flags(), c.Viper
	f.String("addr", v.GetString("server.addr"), "listen address")
	f.String("artifacts-dir", v.GetString("artifacts.dir"), "directory holding the trained artifacts")
	f.Bool("from-store", v.GetBool("server.from_store"), "load the artifacts of a recorded training run")
	f.String("run", v.GetString("server.run_id"), "training run to load with --from-store (default: latest)")
	c.Bind("server.addr", "addr")
	c.Bind("artifacts.dir", "artifacts-dir")
	c.Bind("server.from_store", "from-store")
	c.Bind("server.run_id", "run")
	return c
}

func run(ctx context.Context, _ *cobra.Command, cfg *config.Config, log *logrus.Logger) error {
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

	m := metrics.New()
	m.ModelFeatures.Set(float64(rec.Model.InputLen))
	opts := []server.Option{
		server.WithMetrics(m),
		server.WithLogger(log),
		server.WithMaxUpload(cfg.Server.MaxUploadMB << 20),
		server.WithDebug(cfg.Server.Debug),
	}
	if st != nil {
		opts = append(opts, server.WithStore(st))
	}
	log.WithField("labels", rec.Labels()).Info("model loaded")
	return server.New(rec, opts...).Run(ctx, cfg.Server.Addr)
}
