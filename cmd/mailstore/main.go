package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"mailstore/internal/config"
	"mailstore/internal/credential"
	"mailstore/internal/ingest"
	"mailstore/internal/logging"
	"mailstore/internal/model"
	"mailstore/internal/outbox"
	"mailstore/internal/registry"
	"mailstore/internal/search"
	"mailstore/internal/store"
	msync "mailstore/internal/sync"
	"mailstore/internal/transport/imapsmtp"
	"mailstore/internal/vault"
)

func main() {
	configPath := flag.String("config", config.DefaultConfigPath(), "path to config file")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := logging.New(os.Stderr, level)

	if err := run(*configPath, log); err != nil {
		log.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, log *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	st, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()
	log.Info("store opened", "path", cfg.DBPath)

	v, err := vault.Open(credential.Ring{})
	if err != nil {
		return fmt.Errorf("opening vault: %w", err)
	}
	if v.IsEphemeral() {
		log.Warn("keyring unavailable, secrets will not survive restart")
	}
	secrets := credential.NewSecrets(v, filepath.Join(filepath.Dir(configPath), "secrets"))

	ctx := context.Background()

	reg, err := registry.Load(ctx, st)
	if err != nil {
		return fmt.Errorf("loading registry: %w", err)
	}
	if err := seedAccounts(ctx, reg, cfg.Accounts, log); err != nil {
		return err
	}

	index := search.New()
	if err := index.Rebuild(ctx, st); err != nil {
		return fmt.Errorf("rebuilding search index: %w", err)
	}

	pipeline := ingest.New(st, index, log)
	ob := outbox.New(st, log)
	ob.ReleaseStale(ctx)

	adapter := imapsmtp.New(secrets.Password)

	coordinator := msync.New(st, reg, adapter, pipeline, ob, log, msync.Config{
		Interval:       time.Duration(cfg.Sync.IntervalSec) * time.Second,
		BatchSize:      cfg.Sync.BatchSize,
		OutboxPerCycle: cfg.Sync.OutboxPerCycle,
	})
	coordinator.Start()
	log.Info("sync started", "accounts", len(reg.Accounts()), "interval_sec", cfg.Sync.IntervalSec)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutting down", "signal", sig.String())

	coordinator.Stop()
	return nil
}

// seedAccounts mirrors configured accounts into the store, keyed by the
// config-assigned account ID. Existing accounts are left untouched.
func seedAccounts(ctx context.Context, reg *registry.Registry, accounts []config.AccountConfig, log *slog.Logger) error {
	for _, ac := range accounts {
		if _, ok := reg.Account(ac.ID); ok {
			continue
		}
		_, err := reg.AddAccount(ctx, model.Account{
			ID:       ac.ID,
			Name:     ac.Name,
			Address:  model.EmailAddress{Name: ac.Name, Address: ac.Address},
			Protocol: model.Protocol(ac.Protocol),
			Incoming: model.ServerEndpoint{Host: ac.Incoming.Host, Port: ac.Incoming.Port, TLS: ac.Incoming.TLS},
			Outgoing: model.ServerEndpoint{Host: ac.Outgoing.Host, Port: ac.Outgoing.Port, TLS: ac.Outgoing.TLS},
		})
		if err != nil {
			return fmt.Errorf("registering account %s: %w", ac.ID, err)
		}
		log.Info("account registered", "id", ac.ID, "address", logging.Redacted(ac.Address))
	}
	return nil
}
