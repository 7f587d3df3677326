package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"

	"cptbot/internal/announce"
	"cptbot/internal/bridge"
	"cptbot/internal/eventbus"
	"cptbot/internal/storage"
	"cptbot/internal/training"
	"cptbot/internal/transport/discord"
	logx "cptbot/pkg/logx"
)

// Hard upper bound for one check cycle; a wedged remote call must not block
// the next scheduled run forever.
const cycleTimeout = 5 * time.Minute

type App struct {
	cfgPath string
	cfgm    *ConfigManager

	logs *logx.Service
	log  logx.Logger

	adapter  *discord.Adapter
	source   *training.Client
	bus      eventbus.Bus
	notifier *announce.Notifier
	engine   *announce.Engine
	store    *announce.Store
	checker  *announce.Checker

	history  storage.Store
	recorder *storage.Recorder
	bridge   *bridge.Server

	cron *cron.Cron

	mu        sync.Mutex
	runCancel context.CancelFunc
	started   bool
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "discord"))
	adapter, err := discord.New(discord.Config{
		Token:   cfg.Discord.Token,
		GuildID: cfg.Discord.GuildID,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Discord: logx.DiscordConfig{
			Enabled:    cfg.Logging.Discord.Enabled,
			ChannelID:  cfg.Logging.Discord.ChannelID,
			MinLevel:   cfg.Logging.Discord.MinLevel,
			RatePerSec: cfg.Logging.Discord.RatePerSec,
		},
	}, adapter)
	log = log.With(logx.String("comp", "app"))

	fetchTimeout, err := parseDurationOrDefault("training.timeout", cfg.Training.Timeout, 15*time.Second)
	if err != nil {
		return nil, err
	}
	source := training.NewClient(training.Config{
		URL:     cfg.Training.URL,
		Token:   cfg.Training.Token,
		Timeout: fetchTimeout,
	}, log.With(logx.String("comp", "training")))

	bus := eventbus.New()

	notifier := announce.NewNotifier(adapter, cfg.Discord.CPTChannelID, cfg.Discord.CPTRoleID,
		log.With(logx.String("comp", "notifier")))
	engine := announce.NewEngine(cfg.Training.Prefixes, notifier, bus,
		log.With(logx.String("comp", "engine")))
	store := announce.NewStore(cfg.Check.StatePath, log.With(logx.String("comp", "store")))
	checker := announce.NewChecker(source, engine, store, bus,
		log.With(logx.String("comp", "checker")))
	adapter.SetManualCheck(checker.ManualCheck)

	busyTimeout, err := parseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	history, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open history storage: %w", err)
	}
	recorder := storage.NewRecorder(history, bus, log.With(logx.String("comp", "recorder")))
	if history != nil {
		adapter.SetHistory(func(ctx context.Context) string {
			return storage.RecentSummary(ctx, history, 10)
		})
	}

	var bridgeSrv *bridge.Server
	if cfg.Bridge.Enabled {
		bridgeSrv = bridge.NewServer(bridge.Config{
			Addr:   cfg.Bridge.Addr,
			Secret: cfg.Bridge.Secret,
		}, adapter, bus, log.With(logx.String("comp", "bridge")))
	}

	return &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		logs:     logSvc,
		log:      log,
		adapter:  adapter,
		source:   source,
		bus:      bus,
		notifier: notifier,
		engine:   engine,
		store:    store,
		checker:  checker,
		history:  history,
		recorder: recorder,
		bridge:   bridgeSrv,
		cron:     cron.New(),
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	a.runCancel = cancel

	if err := a.adapter.Start(ctx); err != nil {
		cancel()
		return err
	}

	// Load the record only once the gateway is up, so a failed login never
	// touches state.
	a.checker.Prime()
	a.recorder.Start(runCtx)

	if a.bridge != nil {
		errCh := a.bridge.Start()
		go func() {
			select {
			case <-runCtx.Done():
			case err := <-errCh:
				a.log.Error("bridge listener failed", logx.Err(err))
			}
		}()
	}

	cfg := a.cfgm.Get()
	interval, _ := parseDurationOrDefault("check.interval", cfg.Check.Interval, 3*time.Hour)
	spec := "@every " + interval.String()
	if _, err := a.cron.AddFunc(spec, func() { a.runCycle(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("schedule check cycle: %w", err)
	}
	a.cron.Start()
	a.log.Info("cpt check scheduled", logx.Duration("interval", interval),
		logx.String("prefixes", strings.Join(a.engine.Prefixes(), ",")))

	// First cycle right away; the cron entry only fires after one interval.
	go a.runCycle(runCtx)

	go func() {
		if err := a.cfgm.Watch(runCtx); err != nil {
			a.log.Warn("config watcher stopped", logx.Err(err))
		}
	}()
	go a.applyConfigUpdates(runCtx)

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.started = true
	return nil
}

func (a *App) runCycle(parent context.Context) {
	if parent.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(parent, cycleTimeout)
	defer cancel()
	a.checker.RunCycle(ctx)
}

// applyConfigUpdates reacts to config file changes. Only the hot-reloadable
// parts are applied; token and listener changes need a restart.
func (a *App) applyConfigUpdates(ctx context.Context) {
	sub := a.cfgm.Subscribe(2)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok || cfg == nil {
				return
			}
			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
				Discord: logx.DiscordConfig{
					Enabled:    cfg.Logging.Discord.Enabled,
					ChannelID:  cfg.Logging.Discord.ChannelID,
					MinLevel:   cfg.Logging.Discord.MinLevel,
					RatePerSec: cfg.Logging.Discord.RatePerSec,
				},
			})
			a.engine.SetPrefixes(cfg.Training.Prefixes)
			a.notifier.SetTarget(cfg.Discord.CPTChannelID, cfg.Discord.CPTRoleID)
			a.log.Info("config reloaded")
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return nil
	}
	a.started = false

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	// Let a running cycle (and its save) finish before anything is torn down.
	cronDone := a.cron.Stop()
	select {
	case <-cronDone.Done():
	case <-ctx.Done():
		a.log.Warn("shutdown deadline hit while waiting for running cycle")
	case <-time.After(30 * time.Second):
		a.log.Warn("timed out waiting for running cycle")
	}

	if a.bridge != nil {
		if err := a.bridge.Stop(ctx); err != nil {
			a.log.Warn("bridge shutdown failed", logx.Err(err))
		}
	}

	if a.runCancel != nil {
		a.runCancel()
	}
	a.recorder.Stop()
	if a.history != nil {
		_ = a.history.Close()
	}
	if err := a.adapter.Stop(ctx); err != nil {
		a.log.Warn("discord shutdown failed", logx.Err(err))
	}
	return a.logs.Close()
}
