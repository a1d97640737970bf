package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"

	"github.com/shreyes-7/AyurTrack-sub001/internal/blob"
	"github.com/shreyes-7/AyurTrack-sub001/internal/config"
	"github.com/shreyes-7/AyurTrack-sub001/internal/db"
	"github.com/shreyes-7/AyurTrack-sub001/internal/ledger"
	"github.com/shreyes-7/AyurTrack-sub001/internal/metrics"
	"github.com/shreyes-7/AyurTrack-sub001/internal/migrate"
	"github.com/shreyes-7/AyurTrack-sub001/internal/mirror"
	"github.com/shreyes-7/AyurTrack-sub001/internal/outbox"
	"github.com/shreyes-7/AyurTrack-sub001/internal/service"
)

// app is everything one command needs, opened from herbaltrace.yml.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	conn     *sql.DB
	repo     mirror.Repo
	gw       ledger.Gateway
	blobs    blob.Store
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	outbox   *outbox.Dispatcher
	svc      *service.Service
}

// envOverrides are the settings HERBALTRACE_* variables and flags may replace.
func envOverrides(cfg *config.Config) map[string]*string {
	return map[string]*string{
		"database.driver":       &cfg.Database.Driver,
		"database.dsn":          &cfg.Database.DSN,
		"ledger.mode":           &cfg.Ledger.Mode,
		"ledger.peer_endpoint":  &cfg.Ledger.PeerEndpoint,
		"ledger.gateway_peer":   &cfg.Ledger.GatewayPeer,
		"ledger.tls_cert_path":  &cfg.Ledger.TLSCertPath,
		"ledger.channel":        &cfg.Ledger.Channel,
		"ledger.chaincode":      &cfg.Ledger.Chaincode,
		"ledger.admin_identity": &cfg.Ledger.AdminIdentity,
		"blob.driver":           &cfg.Blob.Driver,
		"blob.dir":              &cfg.Blob.Dir,
		"blob.bucket":           &cfg.Blob.Bucket,
		"blob.endpoint":         &cfg.Blob.Endpoint,
		"metrics.addr":          &cfg.Metrics.Addr,
		"log.level":             &cfg.Log.Level,
		"log.format":            &cfg.Log.Format,
		"qr.base_url":           &cfg.QR.BaseURL,
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	for key, field := range envOverrides(cfg) {
		if viper.IsSet(key) {
			*field = viper.GetString(key)
		}
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.LogConfig) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("invalid log.level %q: %w", cfg.Level, err)
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
}

func openGateway(cfg *config.Config, logger *slog.Logger) (ledger.Gateway, error) {
	if cfg.Ledger.Mode == "fabric" {
		return ledger.NewFabric(cfg.Ledger, cfg.Identities, logger)
	}
	logger.Warn("using the in-process ledger; its state is lost when the command exits")
	return ledger.NewLocal(logger, cfg.Ledger.AdminIdentity), nil
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if _, err := migrate.Migrate(conn, cfg.Database.Driver); err != nil {
		conn.Close()
		return nil, err
	}
	gw, err := openGateway(cfg, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	blobs, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		gw.Close()
		conn.Close()
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, conn: conn, gw: gw, blobs: blobs, registry: prometheus.NewRegistry()}
	a.repo = mirror.New(conn, cfg.Database.Driver)
	a.metrics = metrics.New(a.registry)
	callTimeout := cfg.Ledger.EndorseTimeout + cfg.Ledger.SubmitTimeout + cfg.Ledger.CommitTimeout
	a.outbox = outbox.New(a.repo, gw, cfg.Outbox, callTimeout, logger.With("component", "outbox"), a.metrics)
	a.svc = service.New(a.repo, gw, nil, blobs, service.Options{
		AdminIdentity:   cfg.Ledger.AdminIdentity,
		EvaluateTimeout: cfg.Ledger.EvaluateTimeout,
		QRBaseURL:       cfg.QR.BaseURL,
		QRSize:          cfg.QR.Size,
	}, logger, a.metrics)
	return a, nil
}

func (a *app) Close() {
	if err := a.gw.Close(); err != nil {
		a.logger.Warn("failed to close ledger gateway", "err", err)
	}
	if err := a.conn.Close(); err != nil {
		a.logger.Warn("failed to close mirror database", "err", err)
	}
}

// withApp opens the app for one command. With --sync, jobs the command
// queued are submitted before it returns.
func withApp(ctx context.Context, fn func(context.Context, *app) error) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := fn(ctx, a); err != nil {
		return err
	}
	if viper.GetBool("sync") {
		n, err := a.outbox.RunPending(ctx)
		if err != nil {
			return err
		}
		a.logger.Info("outbox drained", "jobs", n)
	}
	return nil
}
