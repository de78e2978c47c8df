package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"sync"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/fsnotify/fsnotify"
	"github.com/kardianos/service"
	"golang.org/x/sync/errgroup"

	"github.com/Control-D-Inc/domainfilter"
	"github.com/Control-D-Inc/domainfilter/internal/conntrack"
	"github.com/Control-D-Inc/domainfilter/internal/filter"
)

const (
	controlUnixSock      = "domainfilter_control.sock"
	defaultConnTableSize = 4096
)

var svcConfig = &service.Config{
	Name:        "domainfilter",
	DisplayName: "Domain Filter Service",
	Option:      service.KeyValue{},
}

var errReloadInvalidConfig = errors.New("invalid config, reload skipped")

type prog struct {
	mu       sync.Mutex
	reloadMu sync.Mutex
	cfg    *domainfilter.Config
	stopCh chan struct{}
	doneCh chan struct{}

	table  *conntrack.Table
	engine *filter.Engine
	cs     *controlServer
}

// Start builds the filtering components, then runs the servers in background.
func (p *prog) Start(s service.Service) error {
	if err := p.init(); err != nil {
		return err
	}
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	go func() {
		defer close(p.doneCh)
		if err := p.run(); err != nil {
			mainLog.Load().Error().Err(err).Msg("service exited with error")
		}
	}()
	return nil
}

// Stop stops the servers, waiting for them to shutdown.
func (p *prog) Stop(s service.Service) error {
	notifySystemd(daemon.SdNotifyStopping)
	close(p.stopCh)
	<-p.doneCh
	mainLog.Load().Info().Msg("Service stopped")
	return nil
}

func (p *prog) init() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	chain, err := filter.NewChainFromConfig(p.cfg)
	if err != nil {
		return err
	}
	size := p.cfg.Service.ConnTableSize
	if size == 0 {
		size = defaultConnTableSize
	}
	table, err := conntrack.NewTable(size)
	if err != nil {
		return err
	}
	engine, err := filter.NewEngine(chain, table,
		filter.WithVerdictCache(p.cfg.Service.VerdictCacheSize),
		filter.WithObserver(observeResult),
	)
	if err != nil {
		return err
	}
	p.table = table
	p.engine = engine
	mainLog.Load().Notice().Msgf("chain %s loaded with %d filters, policy: %s", chain.Name(), len(chain.Entries()), chain.Policy())
	return nil
}

// run runs the control server, the metrics server and the config watcher
// until the service is stopped.
func (p *prog) run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-p.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.runControlServer(ctx)
	})
	g.Go(func() error {
		return p.runMetricsServer(ctx)
	})
	g.Go(func() error {
		p.watchConfig(ctx)
		return nil
	})
	notifySystemd(daemon.SdNotifyReady)
	return g.Wait()
}

func (p *prog) runControlServer(ctx context.Context) error {
	cs, err := newControlServer(p.controlSocketPath())
	if err != nil {
		return err
	}
	p.cs = cs
	p.registerControlServerHandler()
	if err := cs.start(); err != nil {
		return err
	}
	mainLog.Load().Debug().Msgf("control server started: %s", cs.addr)
	<-ctx.Done()
	return cs.stop()
}

// watchConfig reloads the chain on reload signal, and on every change of the config file.
func (p *prog) watchConfig(ctx context.Context) {
	if v.ConfigFileUsed() != "" {
		v.OnConfigChange(func(e fsnotify.Event) {
			mainLog.Load().Notice().Msgf("config file changed: %s, reloading...", e.Name)
			if err := p.reload(); err != nil {
				mainLog.Load().Error().Err(err).Msg("could not reload config")
			}
		})
		v.WatchConfig()
	}

	sigCh := make(chan os.Signal, 1)
	notifyReloadSigCh(sigCh)
	defer signal.Stop(sigCh)
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigCh:
			mainLog.Load().Notice().Msgf("got signal: %s, reloading...", sig.String())
			if err := p.reload(); err != nil {
				mainLog.Load().Error().Err(err).Msg("could not reload config")
			}
		}
	}
}

// reload re-reads the config, installing the new chain only if it is valid.
// The running chain is kept otherwise.
func (p *prog) reload() error {
	p.reloadMu.Lock()
	defer p.reloadMu.Unlock()
	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return err
		}
	}
	var newCfg domainfilter.Config
	if err := v.Unmarshal(&newCfg); err != nil {
		return err
	}
	return p.applyLocked(&newCfg)
}

// apply installs newCfg, serialized with other reloads so the stored config
// always describes the running chain.
func (p *prog) apply(newCfg *domainfilter.Config) error {
	p.reloadMu.Lock()
	defer p.reloadMu.Unlock()
	return p.applyLocked(newCfg)
}

// applyLocked is like apply, p.reloadMu must be held.
func (p *prog) applyLocked(newCfg *domainfilter.Config) error {
	if err := validateConfig(newCfg); err != nil {
		return errReloadInvalidConfig
	}
	chain, err := filter.NewChainFromConfig(newCfg)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.cfg = newCfg
	p.mu.Unlock()
	old := p.engine.Swap(chain)
	statsRuleHits.Reset()
	mainLog.Load().Notice().Msgf("chain %s reloaded with %d filters, previous: %d", chain.Name(), len(chain.Entries()), len(old.Entries()))
	return nil
}

func (p *prog) config() *domainfilter.Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

func (p *prog) controlSocketPath() string {
	return controlSocketPath(p.config())
}

// controlSocketPath returns the control socket set by flag, then the one set
// in config, or the default one in domainfilter home directory.
func controlSocketPath(cfg *domainfilter.Config) string {
	if controlSocket != "" {
		return controlSocket
	}
	if cfg != nil && cfg.Service.ControlSocket != "" {
		return cfg.Service.ControlSocket
	}
	dir, err := userHomeDir()
	if err != nil {
		return controlUnixSock
	}
	return filepath.Join(dir, controlUnixSock)
}

func notifySystemd(state string) {
	if ok, err := daemon.SdNotify(false, state); err != nil {
		mainLog.Load().Debug().Err(err).Msg("could not notify systemd")
	} else if ok {
		mainLog.Load().Debug().Msgf("notified systemd: %s", state)
	}
}
