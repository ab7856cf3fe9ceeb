package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/glinharesb/hwhash/internal/audit"
	"github.com/glinharesb/hwhash/internal/config"
	"github.com/glinharesb/hwhash/internal/engine"
	"github.com/glinharesb/hwhash/internal/hsm"
	"github.com/glinharesb/hwhash/internal/interceptor"
	"github.com/glinharesb/hwhash/internal/metrics"
	"github.com/glinharesb/hwhash/internal/server"
)

const shutdownTimeout = 10 * time.Second

type serveOptions struct {
	deviceID    string
	grpcAddr    string
	metricsAddr string
	token       string
	confirm     string
	rateLimit   int
}

func newServeCommand(env *Env, opts *deviceOptions) *cobra.Command {
	so := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a software device over gRPC",
		Long: `serve unlocks a provisioned device with its PIN ($HWHASH_DEVICE_PIN or the
terminal) and serves it to hwhash clients. Confirmation prompts are approved
automatically (auto), declined (deny) or asked on this terminal (terminal).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			override(&cfg.DeviceID, flags.Changed("device-id"), so.deviceID)
			override(&cfg.GRPCAddr, flags.Changed("grpc-addr"), so.grpcAddr)
			override(&cfg.MetricsAddr, flags.Changed("metrics-addr"), so.metricsAddr)
			override(&cfg.AuthToken, flags.Changed("token"), so.token)
			override(&cfg.Confirm, flags.Changed("confirm"), so.confirm)
			if flags.Changed("rate-limit") {
				cfg.RateLimitRPS = so.rateLimit
			}
			if err := cfg.Validate(); err != nil {
				return usageErrorf("%v", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, env, cfg)
		},
	}
	f := cmd.Flags()
	f.StringVar(&so.deviceID, "device-id", "", "software device to serve when several are provisioned")
	f.StringVar(&so.grpcAddr, "grpc-addr", "", "gRPC listen address")
	f.StringVar(&so.metricsAddr, "metrics-addr", "", "address of the /metrics endpoint (disabled when empty)")
	f.StringVar(&so.token, "token", "", "bearer token required from clients")
	f.StringVar(&so.confirm, "confirm", "", "confirmation mode: auto, deny or terminal")
	f.IntVar(&so.rateLimit, "rate-limit", 0, "requests per second, 0 disables limiting")
	return cmd
}

func serve(ctx context.Context, env *Env, cfg config.Config) error {
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := newLogger(env.Stderr, level, cfg.LogFormat)
	slog.SetDefault(logger)

	rec, err := resolveRecord(cfg)
	if err != nil {
		return err
	}

	t := NewTerminal(env.Stdin, env.Stderr)
	pin := os.Getenv(pinEnv)
	if pin == "" {
		if pin, err = t.ReadSecret(fmt.Sprintf("PIN for %s: ", rec.Label)); err != nil {
			return err
		}
	}

	m := metrics.New()
	var confirmer hsm.Confirmer
	switch cfg.Confirm {
	case config.ConfirmAuto:
		confirmer = hsm.AutoConfirm
	case config.ConfirmDeny:
		confirmer = hsm.DenyAll
	default:
		confirmer = t
	}

	dev := hsm.NewSoftwareHSM(rec,
		hsm.WithPinPrompter(hsm.PinPrompterFunc(func(context.Context) (string, error) { return pin, nil })),
		hsm.WithConfirmer(server.CountingConfirmer(confirmer, m)),
		hsm.WithLabel(rec.Label),
		hsm.WithDeviceID(rec.ID),
		hsm.WithLogger(logger),
	)
	// Unlock up front so a wrong PIN fails at startup rather than on the first client.
	if _, err := dev.DeriveAddress(ctx, engine.ReferencePath()); err != nil {
		return fmt.Errorf("unlock %s: %w", rec.ID, err)
	}
	logger.Info("device unlocked", "device_id", rec.ID, "label", rec.Label, "confirm", cfg.Confirm)

	auditOut := io.Writer(env.Stdout)
	if cfg.AuditFile != "" {
		f, err := os.OpenFile(cfg.AuditFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("open audit file: %w", err)
		}
		defer f.Close()
		auditOut = f
	}
	auditLogger := audit.NewLogger(cfg.AuditBuffer, auditOut)
	defer auditLogger.Close()

	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			interceptor.RecoveryUnary(),
			interceptor.LoggingUnary(logger),
			interceptor.RateLimitUnary(cfg.RateLimitRPS),
			interceptor.AuthUnary(cfg.AuthToken),
		),
	}
	if cfg.TLSCert != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return fmt.Errorf("load tls: %w", err)
		}
		opts = append(opts, grpc.Creds(creds))
	}
	if cfg.AuthToken == "" {
		logger.Warn("no auth token configured, any client can use the device")
	}

	srv := grpc.NewServer(opts...)
	server.RegisterDeviceService(srv, server.NewDeviceServer(dev, auditLogger, m, logger))

	lis, err := env.listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("metrics listening", "addr", cfg.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", "error", err)
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("device server starting", "addr", lis.Addr().String())
		serveErr <- srv.Serve(lis)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return fmt.Errorf("serve: %w", err)
	}
	logger.Info("shutting down")

	if metricsSrv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		metricsSrv.Shutdown(sctx)
	}

	done := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful shutdown timed out, forcing stop")
		srv.Stop()
	}
	dev.Lock()
	return nil
}
