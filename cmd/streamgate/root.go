package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/famomatic/streamgate/client"
	"github.com/famomatic/streamgate/internal/catalog"
	"github.com/famomatic/streamgate/internal/httpapi"
)

func init() {
	flags := rootCmd.Flags()
	flags.String("listen", ":8080", "HTTP listen address")
	flags.String("extractor", "yt-dlp", "Extractor executable")
	flags.String("cookies", "", "Cookie file passed to the extractor")
	flags.Duration("extractor-timeout", 60*time.Second, "Per-extraction timeout")
	flags.String("solver-bin", "", "Challenge solver runtime (empty evaluates scripts in-process)")
	flags.StringSlice("solver-args", nil, "Arguments for the solver runtime")
	flags.String("transcoder", "ffmpeg", "Transcoder executable")
	flags.Int("max-extractors", 2, "Concurrent extractor processes")
	flags.Int("max-solvers", 1, "Concurrent solver processes")
	flags.Int("max-transcoders", 2, "Concurrent transcoder processes")
	flags.Int("cache-entries", 256, "Resolution cache capacity")
	flags.Duration("cache-safety-margin", 2*time.Minute, "Stop serving cached URLs this long before expiry")
	flags.String("user-agent", "", "User-Agent for upstream media requests")
	flags.String("catalog-client-id", "", "Catalog API client id")
	flags.String("catalog-client-secret", "", "Catalog API client secret")
	flags.String("log-level", "info", "Log level (trace, debug, info, warn, error)")

	flags.VisitAll(func(f *pflag.Flag) {
		lo.Must0(viper.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f))
	})

	viper.SetEnvPrefix("streamgate")
	viper.AutomaticEnv()
}

var rootCmd = &cobra.Command{
	Use:   "streamgate",
	Short: "Media resolution and streaming gateway",
	Long:  "streamgate resolves media references through an external extractor and proxies the bytes, with caching, challenge handling and optional transcoding.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func serve() error {
	level, err := zerolog.ParseLevel(viper.GetString("log_level"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	cfg := client.Config{
		ExtractorBin:      viper.GetString("extractor"),
		CookieFile:        viper.GetString("cookies"),
		ExtractorTimeout:  viper.GetDuration("extractor_timeout"),
		SolverBin:         viper.GetString("solver_bin"),
		SolverArgs:        viper.GetStringSlice("solver_args"),
		TranscoderBin:     viper.GetString("transcoder"),
		UserAgent:         viper.GetString("user_agent"),
		MaxExtractors:     viper.GetInt("max_extractors"),
		MaxSolvers:        viper.GetInt("max_solvers"),
		MaxTranscoders:    viper.GetInt("max_transcoders"),
		CacheEntries:      viper.GetInt("cache_entries"),
		CacheSafetyMargin: viper.GetDuration("cache_safety_margin"),
		Logger:            log,
		Registerer:        registry,
	}
	if id := viper.GetString("catalog_client_id"); id != "" {
		cfg.Catalog = catalog.New(catalog.Config{
			ClientID:     id,
			ClientSecret: viper.GetString("catalog_client_secret"),
			Logger:       log,
		})
	}

	gw := client.New(cfg)
	defer gw.Close()

	api := httpapi.NewServer(gw, log)
	router := api.Router()
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              viper.GetString("listen"),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
