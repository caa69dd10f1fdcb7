// Package app wires the service together: configuration, storage,
// security, dispatchers, transports and the HTTP surface.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/overbridge/chatgate/internal/audit"
	"github.com/overbridge/chatgate/internal/bot"
	"github.com/overbridge/chatgate/internal/challenge"
	"github.com/overbridge/chatgate/internal/config"
	"github.com/overbridge/chatgate/internal/dispatcher"
	"github.com/overbridge/chatgate/internal/httpapi"
	"github.com/overbridge/chatgate/internal/identity"
	"github.com/overbridge/chatgate/internal/obs"
	"github.com/overbridge/chatgate/internal/plugins"
	"github.com/overbridge/chatgate/internal/resume"
	"github.com/overbridge/chatgate/internal/security"
	"github.com/overbridge/chatgate/internal/security/providers"
	"github.com/overbridge/chatgate/internal/security/zosmf"
	"github.com/overbridge/chatgate/internal/transport"
	"github.com/overbridge/chatgate/internal/watcher"
)

type Runtime struct {
	cfg    config.Config
	logger *slog.Logger

	mapping  *identity.FileStore
	security *security.Manager
	audit    *audit.Store
	broker   *challenge.Broker
	sweeper  *challenge.Sweeper
	resume   *resume.Engine
	messages *dispatcher.MessageDispatcher
	events   *dispatcher.EventDispatcher
	devchat  *transport.DevChat
	watcher  *watcher.Service

	httpServer *http.Server
}

// New builds the full service. Configuration errors here are fatal: an
// unwritable mapping file or an unsupported strategy must stop startup.
func New(cfg config.Config, logger *slog.Logger) (*Runtime, error) {
	obs.Init()

	key, iv, err := config.LoadEncryptionMaterial(cfg.SecurityFile)
	if err != nil {
		return nil, fmt.Errorf("load encryption material: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.UserStorage), 0o700); err != nil {
		return nil, fmt.Errorf("create user storage directory: %w", err)
	}
	mapping, err := identity.NewFileStore(cfg.UserStorage, key, iv, logger.With("component", "identity"))
	if err != nil {
		return nil, fmt.Errorf("open identity mapping store: %w", err)
	}

	backend := security.Backend{
		Protocol:           cfg.ZosmfProtocol,
		Host:               cfg.ZosmfHost,
		Port:               cfg.ZosmfPort,
		RejectUnauthorized: cfg.ZosmfRejectUnauthorized,
	}
	verifier := zosmf.New(backend, logger.With("component", "zosmf"))

	provider, err := providers.ForStrategy(cfg.AuthStrategy, providers.Options{
		Verifier:         verifier,
		PassticketBinary: cfg.PassticketBinary,
		PassticketApplID: cfg.PassticketApplID,
		Logger:           logger.With("component", "provider"),
	})
	if err != nil {
		return nil, fmt.Errorf("select credential provider: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	auditStore, err := audit.New(cfg.DBPath, logger.With("component", "audit"))
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}
	migrateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := auditStore.AutoMigrate(migrateCtx); err != nil {
		auditStore.Close()
		return nil, fmt.Errorf("migrate audit store: %w", err)
	}

	manager := security.NewManager(mapping, provider, verifier, backend, auditStore, logger.With("component", "security"))

	broker := challenge.NewBroker(
		cfg.PublicURL,
		time.Duration(cfg.ChallengeTTLSeconds)*time.Second,
		logger.With("component", "challenge"),
	)
	sweeper, err := challenge.NewSweeper(broker, cfg.ChallengeSweepCron, logger.With("component", "challenge-sweeper"))
	if err != nil {
		auditStore.Close()
		return nil, fmt.Errorf("configure challenge sweeper: %w", err)
	}

	engine := resume.New(cfg.ResumeWorkers, logger.With("component", "resume"))

	var chatTransport bot.Transport
	var devchat *transport.DevChat
	if cfg.DevChatURL != "" {
		devchat = transport.NewDevChat(cfg.DevChatURL, cfg.BotName, nil, nil, logger.With("component", "devchat"))
		chatTransport = devchat
	} else {
		chatTransport = transport.NewLog(cfg.BotName, logger.With("component", "transport"))
	}

	messages := dispatcher.NewMessageDispatcher(chatTransport, manager, broker, cfg.PluginLimit, logger.With("component", "dispatcher"))
	events := dispatcher.NewEventDispatcher(chatTransport, manager, broker, cfg.PluginLimit, logger.With("component", "event-dispatcher"))
	if devchat != nil {
		devchat.Bind(messages, events)
	}

	manifest := plugins.DefaultManifest()
	if _, statErr := os.Stat(cfg.PluginManifest); statErr == nil {
		manifest, err = plugins.LoadManifest(cfg.PluginManifest)
		if err != nil {
			auditStore.Close()
			return nil, fmt.Errorf("load plugin manifest: %w", err)
		}
	}
	deps := plugins.Deps{
		Security: manager,
		BotName:  cfg.BotName,
		Logger:   logger.With("component", "plugins"),
	}
	if err := plugins.NewRegistry().Register(manifest, deps, messages, events); err != nil {
		auditStore.Close()
		return nil, fmt.Errorf("register plugins: %w", err)
	}

	mappingWatcher, err := watcher.New(cfg.UserStorage, logger.With("component", "watcher"), func(ctx context.Context) {
		if err := mapping.Reload(); err != nil {
			logger.Error("mapping reload failed", "error", err)
		}
	})
	if err != nil {
		auditStore.Close()
		return nil, fmt.Errorf("create mapping watcher: %w", err)
	}

	router := httpapi.NewRouter(httpapi.Dependencies{
		Config:   cfg,
		Security: manager,
		Broker:   broker,
		Resume:   engine,
		Audit:    auditStore,
		Logger:   logger.With("component", "httpapi"),
	})

	return &Runtime{
		cfg:      cfg,
		logger:   logger,
		mapping:  mapping,
		security: manager,
		audit:    auditStore,
		broker:   broker,
		sweeper:  sweeper,
		resume:   engine,
		messages: messages,
		events:   events,
		devchat:  devchat,
		watcher:  mappingWatcher,
		httpServer: &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}
