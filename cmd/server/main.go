package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"ingest-service/internal/config"
	"ingest-service/internal/factory"
	"ingest-service/internal/handler"
	"ingest-service/internal/util"
)

const shutdownTimeout = 30 * time.Second

// listener is one server plus the way it must be started.
type listener struct {
	name  string
	srv   *http.Server
	serve func(*http.Server) error
}

func main() {
	// Loads config, opens the stores and starts the event mirrors
	f, err := factory.NewFactory()
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	listeners, err := buildListeners(ctx, f, setupRouter(f))
	if err != nil {
		util.Fatal("Failed to configure servers", util.ErrorField(err))
	}

	if err := run(ctx, listeners); err != nil {
		util.Error("Server stopped with error", util.ErrorField(err))
		f.Close()
		os.Exit(1)
	}
}

// setupRouter creates the HTTP router with all handlers using Chi
func setupRouter(f *factory.Factory) http.Handler {
	cfg := f.Config()
	logger := util.Get()

	ingest := f.ServiceFactory().IngestService()
	trackHandler := handler.NewTrackHandler(ingest, f.ClientIPs(), logger)

	// A nil admitter leaves the tracking routes unthrottled.
	var admitter handler.Admitter
	if cfg.RateLimit.Enabled {
		admitter = f.RateLimiter()
	}

	return handler.NewRouter(handler.RouterDeps{
		Track:     trackHandler,
		Health:    handler.NewHealthHandler(logger, f.HealthChecks()...),
		Admitter:  admitter,
		Rules:     cfg.RateLimit.Routes,
		ClientIPs: f.ClientIPs(),
		Metrics:   f.Metrics(),
		Server:    cfg.Server,
		Logger:    logger,
	})
}

func newServer(ctx context.Context, addr string, h http.Handler, cfg *config.Config) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
}

// buildListeners decides what to listen on. Production with AutoCert serves
// the API on 443 and the ACME challenge on 80; otherwise a single server runs
// on the TLS or plain port.
func buildListeners(ctx context.Context, f *factory.Factory, router http.Handler) ([]listener, error) {
	cfg := f.Config()

	if !cfg.Server.EnableTLS {
		util.Warn("Starting HTTP server - TLS is disabled",
			util.String("environment", cfg.Environment),
			util.Int("port", cfg.Server.Port),
		)
		return []listener{{
			name:  "http",
			srv:   newServer(ctx, cfg.GetServerAddress(), router, cfg),
			serve: (*http.Server).ListenAndServe,
		}}, nil
	}

	tlsManager := f.TLSManager()

	if cfg.IsProduction() && cfg.Server.AutoCert {
		autoCertManager := tlsManager.GetAutocertManager()
		if autoCertManager == nil {
			return nil, errors.New("autocert manager is not available in production")
		}

		api := newServer(ctx, ":443", router, cfg)
		api.TLSConfig = tlsManager.GetTLSConfig()

		challenge := newServer(ctx, ":80", autoCertManager.HTTPHandler(nil), cfg)

		util.Info("Starting HTTPS server with AutoCert",
			util.String("domain", cfg.Server.Domain),
		)
		return []listener{
			{name: "https", srv: api, serve: serveTLS("", "")},
			{name: "acme", srv: challenge, serve: (*http.Server).ListenAndServe},
		}, nil
	}

	srv := newServer(ctx, fmt.Sprintf(":%d", cfg.Server.TLSPort), router, cfg)
	srv.TLSConfig = tlsManager.GetTLSConfig()

	util.Info("Starting HTTPS server",
		util.String("environment", cfg.Environment),
		util.Int("port", cfg.Server.TLSPort),
		util.Bool("auto_cert", cfg.Server.AutoCert),
	)

	// GetCertificate covers AutoCert and the development fallback; explicit
	// files are loaded directly.
	certFile, keyFile := "", ""
	if !cfg.Server.AutoCert && cfg.Server.CertFile != "" && cfg.Server.KeyFile != "" {
		certFile, keyFile = cfg.Server.CertFile, cfg.Server.KeyFile
	}
	return []listener{{name: "https", srv: srv, serve: serveTLS(certFile, keyFile)}}, nil
}

func serveTLS(certFile, keyFile string) func(*http.Server) error {
	return func(s *http.Server) error {
		return s.ListenAndServeTLS(certFile, keyFile)
	}
}

// run serves every listener until ctx is cancelled or one of them fails,
// then shuts all of them down.
func run(ctx context.Context, listeners []listener) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, l := range listeners {
		g.Go(func() error {
			util.Info("Server listening",
				util.String("server", l.name),
				util.String("address", l.srv.Addr),
			)
			if err := l.serve(l.srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("%s server: %w", l.name, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		util.Info("Shutting down servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		for _, l := range listeners {
			if err := l.srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("%s shutdown: %w", l.name, err))
			}
		}
		if len(errs) == 0 {
			util.Info("Server shutdown completed")
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}
