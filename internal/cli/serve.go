package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tweetarchive/tweets/internal/api"
	"github.com/tweetarchive/tweets/internal/archive"
	"github.com/tweetarchive/tweets/internal/db"
	"github.com/tweetarchive/tweets/internal/pipeline"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Preview the processed archive over HTTP",
		Long: `serve exposes the processed records, the user index and the url cache
read-only over REST and JSON-RPC, and the grailbird tree as static files.
Records come from the JSON output file when present, otherwise the archive
is processed offline in memory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
	cmd.Flags().String("http-server-host", "127.0.0.1", "preview server host")
	cmd.Flags().Int("http-server-port", 8080, "preview server port")
	addFilterFlags(cmd.Flags())
	addOutputFlags(cmd.Flags())
	return cmd
}

// serveRecords loads the JSON output file, or processes the archive offline
// when there is none.
func (a *app) serveRecords(ctx context.Context) (archive.Set, error) {
	name := a.cfg.Output.Filename
	if name == "" {
		name = defaultFilename("json")
	}
	path := a.outputPath(name)
	if fi, err := os.Stat(path); err == nil && !fi.IsDir() && a.cfg.Output.Format == "json" {
		records, err := archive.LoadRecords(path)
		if err != nil {
			return nil, err
		}
		a.logger.Info("Serving output file", zap.String("path", path), zap.Int("records", len(records)))
		return archive.IndexByID(records), nil
	}

	opts := pipeline.OptionsFromConfig(a.cfg)
	opts.Resolve = false
	opts.DeleteLowBitrate = false
	opts.DryRun = true
	result, _, _, err := a.run(ctx, opts, a.cfg.Media.Local)
	if err != nil {
		return nil, err
	}
	return archive.IndexByID(result.Records), nil
}

func (a *app) serve(ctx context.Context) error {
	records, err := a.serveRecords(ctx)
	if err != nil {
		return err
	}
	users, err := a.loadUsers()
	if err != nil {
		return err
	}
	cache, closeCache, err := a.loadCache()
	if err != nil {
		return err
	}
	defer closeCache()

	src := api.Source{Records: records, Users: users, URLs: cache, GrailbirdDir: a.cfg.Output.GrailbirdDir}
	if a.cfg.Database.Enabled {
		database, err := db.New(&a.cfg.Database, a.cfg.Logging.Level)
		if err != nil {
			return err
		}
		defer database.Close()
		src.DB = database
	}

	engine := api.NewEngine(api.NewRouter(src), a.cfg.Logging.Level == "DEBUG")
	if a.cfg.Telemetry.PrometheusEnabled {
		engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
	return api.Serve(ctx, &a.cfg.Server, engine)
}
