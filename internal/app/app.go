// Package app wires the process together: config, logging, storage, the
// platform adapter, the execution engine, operator notifications, and the
// midnight quota sweep.
package app

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"blastbot/internal/config"
	"blastbot/internal/engine"
	"blastbot/internal/notify"
	"blastbot/internal/platform/telegram"
	"blastbot/internal/report"
	"blastbot/internal/store"
	logx "blastbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	store  *store.Store
	engine *engine.Service
	cron   *cron.Cron

	watchCancel context.CancelFunc
	watchWG     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "config"))
	cfgm := config.NewManager(cfgPath, bootLog)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(cfg.Logging.Logx())
	log = log.With(logx.String("comp", "app"))

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(store.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, logSvc.Logger().With(logx.String("comp", "store")))
	if err != nil {
		return nil, err
	}

	client, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token},
		logSvc.Logger().With(logx.String("comp", "telegram")))
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	var notifier engine.Notifier
	if cfg.Telegram.OperatorChatID != 0 {
		op, err := notify.New(notify.Config{
			Token:          cfg.Telegram.Token,
			OperatorChatID: cfg.Telegram.OperatorChatID,
		}, logSvc.Logger().With(logx.String("comp", "notify")))
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		notifier = op
	}

	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	gen := report.NewGenerator(st, logSvc.Logger().With(logx.String("comp", "report")))
	eng := engine.New(engCfg, st, client, gen, notifier,
		logSvc.Logger().With(logx.String("comp", "engine")))

	return &App{
		cfgm:   cfgm,
		logs:   logSvc,
		log:    log,
		store:  st,
		engine: eng,
	}, nil
}

// Engine exposes the task execution service to control surfaces.
func (a *App) Engine() *engine.Service { return a.engine }

func (a *App) Start(ctx context.Context) error {
	a.engine.Start(ctx)

	// Midnight sweep keeps sent_today honest for accounts idle overnight;
	// the per-send rollover covers accounts touched mid-run.
	a.cron = cron.New()
	if _, err := a.cron.AddFunc("5 0 * * *", a.sweepQuotas); err != nil {
		return err
	}
	a.cron.Start()

	wctx, cancel := context.WithCancel(ctx)
	a.watchCancel = cancel
	a.watchWG.Add(2)
	sub := a.cfgm.Subscribe(1)
	go func() {
		defer a.watchWG.Done()
		if err := a.cfgm.Watch(wctx); err != nil {
			a.log.Warn("config watcher exited", logx.Err(err))
		}
	}()
	go func() {
		defer a.watchWG.Done()
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-wctx.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(cfg)
			}
		}
	}()

	a.log.Info("blastbot started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.watchCancel != nil {
		a.watchCancel()
	}
	if a.cron != nil {
		<-a.cron.Stop().Done()
	}
	err := a.engine.Stop(ctx)
	a.watchWG.Wait()
	_ = a.store.Close()
	_ = a.logs.Close()
	return err
}

// applyConfig pushes hot-reloadable sections into the running services.
// Storage paths and tokens stay fixed until restart.
func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(cfg.Logging.Logx())
	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		a.log.Warn("engine config not applied", logx.Err(err))
		return
	}
	a.engine.Apply(engCfg)
	a.log.Info("configuration applied")
}

func (a *App) sweepQuotas() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	reset, err := a.store.ResetStaleDailyCounters(ctx, time.Now().UTC())
	if err != nil {
		a.log.Error("quota sweep failed", logx.Err(err))
		return
	}
	if reset > 0 {
		a.log.Info("daily quotas reset", logx.Int("accounts", reset))
	}
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	maxWait, err := config.ParseDurationOrDefault("engine.max_limit_wait", cfg.Engine.MaxLimitWait, time.Hour)
	if err != nil {
		return engine.Config{}, err
	}
	monMin, err := config.ParseDurationOrDefault("engine.monitor_min_interval", cfg.Engine.MonitorMinInterval, 30*time.Second)
	if err != nil {
		return engine.Config{}, err
	}
	monMax, err := config.ParseDurationOrDefault("engine.monitor_max_interval", cfg.Engine.MonitorMaxInterval, time.Minute)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		RatePerSec:         cfg.Engine.RatePerSec,
		MaxLimitWait:       maxWait,
		MonitorMinInterval: monMin,
		MonitorMaxInterval: monMax,
	}, nil
}
