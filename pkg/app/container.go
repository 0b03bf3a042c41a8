// Package app is the composition root: it turns a loaded configuration into
// a wired execution client and runs it.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/sync/errgroup"

	"github.com/sipeed/execclient/pkg/api"
	"github.com/sipeed/execclient/pkg/bus"
	"github.com/sipeed/execclient/pkg/config"
	"github.com/sipeed/execclient/pkg/ledger"
	"github.com/sipeed/execclient/pkg/logger"
	"github.com/sipeed/execclient/pkg/orchestration"
	"github.com/sipeed/execclient/pkg/plugins"
	_ "github.com/sipeed/execclient/pkg/plugins/builtin"
	"github.com/sipeed/execclient/pkg/providers"
	"github.com/sipeed/execclient/pkg/source"
	"github.com/sipeed/execclient/pkg/store"
)

// ShutdownTimeout bounds how long Run waits for an in-flight tick and the
// status server when stopping.
const ShutdownTimeout = 30 * time.Second

// ---------------------------------------------------------------------------
// Application container: dependency injection root
// ---------------------------------------------------------------------------

// Container holds the wired execution client.
type Container struct {
	Config   *config.Config
	Bus      *bus.MessageBus
	Store    store.Store
	Ledger   *ledger.Client // nil when the ledger is disabled
	Registry *plugins.Registry
	Provider providers.CompletionProvider
	Source   *source.Adapter
	Service  *orchestration.ExecutionClientService
	API      *api.Server // nil when the gateway is disabled

	log *logger.ComponentLogger
}

// Option overrides a collaborator NewContainer would otherwise build from
// configuration.
type Option func(*overrides)

type overrides struct {
	conn     ledger.Conn
	store    store.Store
	provider providers.CompletionProvider
}

// WithLedgerConn uses conn instead of dialing the configured RPC endpoint.
func WithLedgerConn(conn ledger.Conn) Option {
	return func(o *overrides) { o.conn = conn }
}

// WithStore uses st instead of the configured database.
func WithStore(st store.Store) Option {
	return func(o *overrides) { o.store = st }
}

// WithProvider uses p instead of the configured completion provider.
func WithProvider(p providers.CompletionProvider) Option {
	return func(o *overrides) { o.provider = p }
}

// NewContainer wires every collaborator. It performs no network or disk
// I/O beyond loading the ledger keypair.
func NewContainer(cfg *config.Config, opts ...Option) (*Container, error) {
	var o overrides
	for _, opt := range opts {
		opt(&o)
	}
	c := &Container{
		Config: cfg,
		Bus:    bus.NewMessageBus(),
		log:    logger.Component("app"),
	}

	c.Store = o.store
	if c.Store == nil {
		st, err := store.New(cfg)
		if err != nil {
			return nil, err
		}
		c.Store = st
	}

	if cfg.Ledger.Enabled || o.conn != nil {
		client, err := newLedgerClient(cfg, o.conn)
		if err != nil {
			return nil, err
		}
		c.Ledger = client
	}

	if c.Ledger != nil {
		c.Registry = plugins.NewRegistry(plugins.WithLedger(c.Ledger), plugins.WithBus(c.Bus))
	} else {
		c.Registry = plugins.NewRegistry(plugins.WithBus(c.Bus))
	}

	c.Provider = o.provider
	if c.Provider == nil {
		p, err := providers.CreateProvider(cfg.Completion)
		if err != nil {
			return nil, fmt.Errorf("completion provider: %w", err)
		}
		c.Provider = p
	}

	c.Source = source.New(c.Ledger, c.Store)

	schedule, err := orchestration.ScheduleFrom(cfg.Poll)
	if err != nil {
		return nil, err
	}
	svc, err := orchestration.NewExecutionClientService(orchestration.Config{
		ScopeKey: c.ScopeKey(),
		Topics:   cfg.Poll.Topics,
		Limit:    cfg.Poll.Limit,
		Schedule: schedule,
		Retry:    orchestration.RetryPolicyFrom(cfg.Poll),
		Plugins:  cfg.EnabledPlugins(),
	}, orchestration.Deps{
		Store:    c.Store,
		Source:   c.Source,
		Registry: c.Registry,
		Provider: c.Provider,
		Bus:      c.Bus,
	})
	if err != nil {
		return nil, err
	}
	c.Service = svc

	if cfg.Gateway.Enabled {
		var apiOpts []api.ServerOption
		if c.Ledger != nil {
			apiOpts = append(apiOpts, api.WithLedgerPrimary())
		}
		c.API = api.NewServer(cfg.Gateway, svc, c.Store, c.Bus, apiOpts...)
	}

	c.log.Info("Container wired", map[string]interface{}{
		"scope":    c.ScopeKey(),
		"ledger":   c.Ledger != nil,
		"provider": c.Provider.Name(),
		"store":    cfg.Database.Driver,
		"gateway":  cfg.Gateway.Enabled,
	})
	return c, nil
}

func newLedgerClient(cfg *config.Config, conn ledger.Conn) (*ledger.Client, error) {
	programID, err := solana.PublicKeyFromBase58(cfg.Ledger.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("ledger.program_id: %w", err)
	}
	if conn == nil {
		rpcConn, err := ledger.NewRPCConn(ledger.RPCOptions{
			URL:           cfg.Ledger.RPCURL,
			KeypairPath:   cfg.KeypairPath(),
			Commitment:    cfg.Ledger.Commitment,
			SkipPreflight: cfg.Ledger.SkipPreflight,
		})
		if err != nil {
			return nil, err
		}
		conn = rpcConn
	}
	return ledger.NewClient(conn, programID, cfg.App.Name)
}

// ScopeKey identifies the execution client's state record: its derived
// ledger address when the ledger is enabled, otherwise app name and
// identity.
func (c *Container) ScopeKey() string {
	if c.Ledger != nil {
		return c.Ledger.Scope().ExecutionClient.String()
	}
	return c.Config.App.Name + ":" + c.Config.App.Identity
}

// Run initializes and starts the service and, when enabled, the status
// server, then blocks until ctx is cancelled or a component fails. Cleanup
// always runs before Run returns.
func (c *Container) Run(ctx context.Context) error {
	if err := c.Service.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := c.Service.Start(gctx); err != nil {
			return fmt.Errorf("start: %w", err)
		}
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), ShutdownTimeout)
		defer cancel()
		return c.Service.Stop(stopCtx)
	})
	if c.API != nil {
		g.Go(func() error {
			if err := c.API.Start(gctx); err != nil {
				return fmt.Errorf("status server: %w", err)
			}
			<-gctx.Done()
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), ShutdownTimeout)
			defer cancel()
			return c.API.Stop(stopCtx)
		})
	}

	runErr := g.Wait()
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	return errors.Join(runErr, c.Close(context.WithoutCancel(ctx)))
}

// TickOnce initializes the service, runs a single tick and cleans up.
func (c *Container) TickOnce(ctx context.Context) (orchestration.TickResult, error) {
	if err := c.Service.Initialize(ctx); err != nil {
		return orchestration.TickResult{}, fmt.Errorf("initialize: %w", err)
	}
	res, err := c.Service.Tick(ctx)
	return res, errors.Join(err, c.Close(ctx))
}

// Close cleans up the service and closes the bus.
func (c *Container) Close(ctx context.Context) error {
	err := c.Service.Cleanup(ctx)
	c.Bus.Close()
	return err
}
