package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/psantana5/hpoprun/internal/api"
	"github.com/psantana5/hpoprun/internal/history"
	"github.com/psantana5/hpoprun/pkg/auth"
	"github.com/psantana5/hpoprun/pkg/logging"
	"github.com/psantana5/hpoprun/pkg/ratelimit"
	"github.com/psantana5/hpoprun/pkg/shutdown"
	tlsutil "github.com/psantana5/hpoprun/pkg/tls"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve exposes the propagator over HTTP:

  POST /api/model/custom   {"params": [a, e, i, raan, argp, nu, T, S, F]}
  GET  /api/runs           recorded runs, newest first
  GET  /api/runs/{id}      one run
  GET  /metrics            Prometheus metrics
  GET  /healthz            liveness

Only one propagator runs at a time; later requests wait their turn.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}

	cmd.Flags().String("addr", "", "listen address (default :8090)")
	cmd.Flags().String("tls-cert", "", "TLS certificate file")
	cmd.Flags().String("tls-key", "", "TLS private key file")
	cmd.Flags().Bool("tls-self-signed", false, "serve HTTPS with a generated self-signed certificate")
	a.v.BindPFlag("serve.addr", cmd.Flags().Lookup("addr"))
	a.v.BindPFlag("serve.tls_cert", cmd.Flags().Lookup("tls-cert"))
	a.v.BindPFlag("serve.tls_key", cmd.Flags().Lookup("tls-key"))
	a.v.BindPFlag("serve.tls_self_signed", cmd.Flags().Lookup("tls-self-signed"))
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	log := a.logger.Named("serve")

	var (
		store history.Store
		err   error
	)
	if cfg.History.DSN != "" {
		store, err = history.Open(cfg.History.DSN)
	} else {
		store = history.NewMemoryStore(0)
	}
	if err != nil {
		return fmt.Errorf("failed to open run history: %w", err)
	}

	checker, err := auth.NewKeyChecker(cfg.Serve.APIKeyHash)
	if err != nil {
		store.Close()
		return err
	}
	if !checker.Enabled() {
		log.Warn("No serve.api_key_hash configured; the API is open to anyone who can reach it")
	}

	limiter := ratelimit.NewLimiter(cfg.Serve.RateLimitRPS, cfg.Serve.RateLimitBurst)

	server := api.NewServer(api.Config{
		Executable:     cfg.Executable,
		Dir:            cfg.WorkDir,
		Env:            cfg.Env,
		Timeout:        cfg.Timeout,
		SampleInterval: cfg.SampleInterval,
	}, store, a.metrics, a.logger)

	srv := &http.Server{
		Addr: cfg.Serve.Addr,
		Handler: server.Router(api.RouterOptions{
			Auth:    checker,
			Limiter: limiter,
			Tracing: a.tracer,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Serve.TLSEnabled() {
		tlsConfig, err := a.serverTLS(log)
		if err != nil {
			store.Close()
			return err
		}
		srv.TLSConfig = tlsConfig
	}

	sm := shutdown.New(cfg.Serve.ShutdownTimeout, a.logger)
	sm.Register("history", shutdown.CloseResource(store))
	sm.Register("child", shutdown.WaitFor(func() bool { return !server.Busy() }, 100*time.Millisecond))
	sm.Register("http", shutdown.StopHTTPServer(srv))

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-sm.Done():
				return
			case <-ticker.C:
				limiter.CleanupOldLimiters(10 * time.Minute)
			}
		}
	}()

	errc := make(chan error, 1)
	go func() {
		log.Info("Listening", map[string]interface{}{"addr": srv.Addr, "executable": cfg.Executable, "tls": srv.TLSConfig != nil})
		var err error
		if srv.TLSConfig != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	waitErr := make(chan error, 1)
	go func() { waitErr <- sm.WaitWithContext(waitCtx) }()

	select {
	case err := <-errc:
		cancel()
		<-waitErr
		return fmt.Errorf("server failed: %w", err)
	case err := <-waitErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}
}

// serverTLS loads the configured pair, generating a self-signed one first
// when asked to.
func (a *app) serverTLS(log *logging.Logger) (*tls.Config, error) {
	s := a.cfg.Serve
	certFile, keyFile := s.TLSCert, s.TLSKey

	if certFile == "" && s.TLSSelfSigned {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to locate home directory: %w", err)
		}
		dir := filepath.Join(home, ".hpoprun", "tls")
		certFile = filepath.Join(dir, "server.crt")
		keyFile = filepath.Join(dir, "server.key")

		created, err := tlsutil.EnsureSelfSignedCert(certFile, keyFile, "hpoprun")
		if err != nil {
			return nil, err
		}
		if created {
			log.Info("Generated self-signed certificate", map[string]interface{}{"cert": certFile})
		}
	}

	return tlsutil.LoadTLSConfig(certFile, keyFile, s.TLSClientCA)
}
