// Command syncd runs the reactive synchronization engine as a service.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	reactivesync "github.com/huykn/reactive-sync"
	"github.com/huykn/reactive-sync/cache"
	"github.com/huykn/reactive-sync/config"
	"github.com/huykn/reactive-sync/engine"
	"github.com/huykn/reactive-sync/httpapi"
	"github.com/huykn/reactive-sync/logging"
	"github.com/huykn/reactive-sync/mutation"
	"github.com/huykn/reactive-sync/notify"
	"github.com/huykn/reactive-sync/scope"
	"github.com/huykn/reactive-sync/session"
	"github.com/huykn/reactive-sync/storage"
	rsync "github.com/huykn/reactive-sync/sync"
	"github.com/huykn/reactive-sync/telemetry"
	"github.com/huykn/reactive-sync/types"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		envFile    string
	)

	root := &cobra.Command{
		Use:           "syncd",
		Short:         "Reactive scope synchronization daemon",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", envOr("SYNC_CONFIG", ""), "YAML config file (env SYNC_CONFIG)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine and its HTTP surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(envFile); err != nil {
				return err
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}

	resolveCmd := &cobra.Command{
		Use:   "resolve <mutation-type>...",
		Short: "Print the scopes each mutation type invalidates",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := scope.NewDefaultResolver(nil)
			for _, t := range args {
				scopes := r.Resolve(t)
				if len(scopes) == 1 && scopes[0] == types.AllScopes {
					scopes = r.Scopes()
				}
				names := make([]string, len(scopes))
				for i, s := range scopes {
					names[i] = string(s)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", t, strings.Join(names, ", "))
			}
			return nil
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			info := reactivesync.GetVersionInfo()
			fmt.Fprintf(cmd.OutOrStdout(), "syncd %s (%s)\n", info.Version, info.GoVersion)
		},
	}

	root.AddCommand(serveCmd, resolveCmd, versionCmd)
	return root
}

func serve(ctx context.Context, cfg *config.Config) error {
	zl, err := logging.NewZap(logging.Config{Env: cfg.App.Env, Level: cfg.App.LogLevel, ServiceName: "syncd"})
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer zl.Sync()
	logger := logging.Adapt(zl)

	prom, err := telemetry.NewPrometheusObserver(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	onError := func(err error) {
		zl.Warn("background error", zap.Error(err))
	}

	cacheOpts := cache.DefaultOptions()
	cacheOpts.Logger = logger
	cacheOpts.DebugMode = cfg.App.Debug
	cacheOpts.OnError = onError
	if cfg.LocalCache.Kind == "lru" {
		cacheOpts.LocalCacheFactory = cache.NewLRUCacheFactory(cfg.LocalCache.MaxSize)
	}

	var store *storage.RedisStore
	if cfg.Redis.Addr != "" {
		store, err = storage.NewRedisStore(cfg.RedisOptions())
		if err != nil {
			return err
		}
		defer store.Close()
		cacheOpts.Store = store
	}

	sc, err := cache.New(cacheOpts)
	if err != nil {
		return err
	}
	defer sc.Close()

	var gateway *storage.PostgresGateway
	if cfg.Postgres.DSN != "" {
		gateway, err = storage.NewPostgresGateway(ctx, cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		defer gateway.Close()
		for _, q := range cfg.Scopes {
			if err := sc.Register(types.ScopeKey(q.Name), gateway.QueryFetcher(q.Query)); err != nil {
				return err
			}
		}
	} else if len(cfg.Scopes) > 0 {
		zl.Warn("scopes configured without postgres.dsn, they will fail to load", zap.Int("scopes", len(cfg.Scopes)))
	}

	inbox := notify.NewInbox(cfg.Notifications.TTL)
	opts := cfg.EngineOptions()
	opts.Logger = logger
	opts.Observers = []telemetry.Observer{prom}
	opts.Sink = notify.Fanout{inbox, notify.LogSink{Logger: logger}}
	opts.OnError = onError

	syncCtx, err := engine.New(sc, opts)
	if err != nil {
		return err
	}
	defer syncCtx.Close()

	if store != nil {
		bridge := rsync.NewPubSubBridge(store.GetClient(), cfg.Redis.Channel, cfg.App.PodID, syncCtx.Bus(), logger)
		bridge.OnError(onError)
		if err := bridge.Start(ctx); err != nil {
			return err
		}
		defer bridge.Close()
	}

	var writer *mutation.Writer
	if gateway != nil {
		writer = mutation.NewWriter(gateway, syncCtx, syncCtx.Collector(), logger)
	}

	sess := session.NewSwitch()
	sess.Begin()
	syncCtx.Start(sess)
	defer sess.End()

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: httpapi.NewRouter(httpapi.Options{
			Context: syncCtx,
			Writer:  writer,
			Inbox:   inbox,
			Cache:   sc,
			Logger:  logger,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zl.Info("listening", zap.String("addr", cfg.Server.Addr), zap.String("pod", cfg.App.PodID))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	zl.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
