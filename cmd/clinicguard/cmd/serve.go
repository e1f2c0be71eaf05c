package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/clinicguard"
	"github.com/MrEthical07/clinicguard/audit"
	"github.com/MrEthical07/clinicguard/identity/memory"
	"github.com/MrEthical07/clinicguard/identity/postgres"
	promexport "github.com/MrEthical07/clinicguard/metrics/export/prometheus"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	listenAddr    string
	tlsCert       string
	tlsKey        string
	redisAddr     string
	embeddedRedis bool
	identityKind  string
	trustProxy    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := newLogger()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		deps, cleanup, err := buildDeps(cmd.Context(), log)
		if err != nil {
			return err
		}
		defer cleanup()

		engine, err := deps.builder.Build()
		if err != nil {
			return fmt.Errorf("build engine: %w", err)
		}
		if err := engine.StartSweeper(); err != nil {
			return err
		}
		for _, warning := range engine.SecurityReport().Warnings {
			log.Warn("security report", zap.String("warning", warning))
		}

		srv := &server{
			engine:     engine,
			log:        log.Named("http"),
			consents:   deps.consents,
			metrics:    promexport.NewExporter(engine).Handler(),
			trustProxy: trustProxy,
		}
		httpServer := &http.Server{
			Addr:              listenAddr,
			Handler:           srv.routes(),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		done := make(chan error, 1)
		go func() {
			var err error
			if tlsCert != "" && tlsKey != "" {
				err = httpServer.ListenAndServeTLS(tlsCert, tlsKey)
			} else {
				err = httpServer.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()
		log.Info("listening", zap.String("addr", listenAddr), zap.Bool("tls", tlsCert != ""), zap.Bool("shared_state", engine.Shared()))

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			log.Info("shutting down", zap.String("signal", sig.String()))
		case err := <-done:
			if err != nil {
				_ = engine.Close(context.Background())
				return err
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		shutdownErr := httpServer.Shutdown(ctx)
		if err := engine.Close(ctx); err != nil {
			log.Warn("engine close", zap.Error(err))
		}
		return shutdownErr
	},
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&listenAddr, "addr", ":8443", "listen address")
	f.StringVar(&tlsCert, "tls-cert", "", "TLS certificate file")
	f.StringVar(&tlsKey, "tls-key", "", "TLS key file")
	f.StringVar(&redisAddr, "redis-addr", "", "Redis address for shared state (default $"+envRedisAddr+")")
	f.BoolVar(&embeddedRedis, "embedded-redis", false, "run an in-process Redis for local demos")
	f.StringVar(&identityKind, "identity", "memory", "assignment, consent and binding source: memory or postgres")
	f.BoolVar(&trustProxy, "trust-proxy", false, "trust X-Forwarded-For and X-Forwarded-Proto from a fronting proxy")
}

type serveDeps struct {
	builder  *clinicguard.Builder
	consents consentStore
}

// buildDeps wires the collaborators selected by flags into a builder. The
// returned cleanup releases them in reverse order.
func buildDeps(ctx context.Context, log *zap.Logger) (serveDeps, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (serveDeps, func(), error) {
		cleanup()
		return serveDeps{}, func() {}, err
	}

	cfg, err := loadEngineConfig()
	if err != nil {
		return fail(err)
	}
	keys, err := loadKeys()
	if err != nil {
		return fail(err)
	}

	b := clinicguard.New().
		WithConfig(cfg).
		WithKeys(keys).
		WithLogger(log.Named("engine")).
		WithAuditSink(audit.NewZapSink(log.Named("audit")))

	addr := redisAddr
	if addr == "" {
		addr = os.Getenv(envRedisAddr)
	}
	switch {
	case embeddedRedis:
		mr, err := miniredis.Run()
		if err != nil {
			return fail(fmt.Errorf("start embedded redis: %w", err))
		}
		closers = append(closers, mr.Close)
		addr = mr.Addr()
		log.Warn("using embedded redis; state is lost on exit", zap.String("addr", addr))
		fallthrough
	case addr != "":
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		closers = append(closers, func() { _ = client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			return fail(fmt.Errorf("redis %s: %w", addr, err))
		}
		b = b.WithRedis(client)
	}

	var consents consentStore
	switch identityKind {
	case "memory":
		a := memory.NewAssignments(nil)
		c := memory.NewConsents(nil)
		b = b.WithAssignments(a).WithConsents(c)
		consents = memoryConsents{c: c}
	case "postgres":
		dsn := os.Getenv(envPostgresDSN)
		if dsn == "" {
			return fail(errors.New(envPostgresDSN + " is required for the postgres identity source"))
		}
		store, err := postgres.Open(dsn)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func() { _ = store.Close() })
		if err := store.Ping(ctx); err != nil {
			return fail(fmt.Errorf("postgres: %w", err))
		}
		b = b.WithAssignments(store).WithConsents(store).WithBindings(store)
		consents = store
	default:
		return fail(fmt.Errorf("unknown identity source %q", identityKind))
	}

	return serveDeps{builder: b, consents: consents}, cleanup, nil
}
