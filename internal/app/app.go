package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"pollguard/internal/config"
	"pollguard/internal/eventbus"
	"pollguard/internal/params"
	"pollguard/internal/runtime/loop"
	"pollguard/internal/runtime/supervisor"
	"pollguard/internal/scheduler"
	"pollguard/internal/storage"
	logx "pollguard/pkg/logx"
	"pollguard/pkg/systemd"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	sd    systemd.Notifier

	loop   *loop.Loop
	host   *loop.Host
	sched  *scheduler.Scheduler
	params *params.Reconciler

	mu        sync.Mutex
	settings  map[string]int
	decision  Decision
	heartbeat scheduler.Handle
	watchdog  scheduler.Handle
	errUnsub  func()
	valUnsub  func()

	stopOnce sync.Once
}

type options struct {
	sourceURL string
	notifier  systemd.Notifier
}

type Option func(*options)

// WithSourceURL overrides params.url and params.file from the config.
func WithSourceURL(raw string) Option {
	return func(o *options) { o.sourceURL = strings.TrimSpace(raw) }
}

// WithNotifier replaces the systemd notify-socket client.
func WithNotifier(n systemd.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

func NewApp(cfgPath string, opts ...Option) (*App, error) {
	o := options{notifier: systemd.Daemon{}}
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetValidator(validateRuntime)
	cfg, err := cfgm.Load(context.Background())
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	logs, root := logx.New(logConfig(cfg.Logging))
	log := root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root.With(logx.String("comp", "config")))

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		_ = logs.Close()
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, root)
		if err != nil {
			_ = logs.Close()
			return nil, fmt.Errorf("open storage: %w", err)
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	src, kind, err := openSource(cfg.Params, o.sourceURL)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		_ = logs.Close()
		return nil, err
	}
	log.Debug("parameter source ready", logx.String("kind", kind))

	l := loop.New(cfg.Runtime.QueueSizeOrDefault(), root.With(logx.String("comp", "loop")))
	host := loop.NewHost(l, cfg.Runtime.FrameRateOrDefault(), root.With(logx.String("comp", "host")))
	sched := scheduler.New(host, root.With(logx.String("comp", "scheduler")))
	rec := params.NewReconciler(src, sched, root.With(logx.String("comp", "params")),
		params.WithGracePeriod(graceFrom(cfg.Params.GracePeriod)))

	return &App{
		cfgm:   cfgm,
		log:    log,
		logs:   logs,
		bus:    eventbus.New(),
		store:  store,
		sd:     o.notifier,
		loop:   l,
		host:   host,
		sched:  sched,
		params: rec,
	}, nil
}

// validateRuntime rejects configs whose values only runtime components can
// check. It runs for the initial load and every hot reload.
func validateRuntime(_ context.Context, cfg *config.Config) error {
	if raw := strings.TrimSpace(cfg.Monitor.Schedule); raw != "" {
		if err := scheduler.ValidateSchedule(raw); err != nil {
			return fmt.Errorf("monitor.schedule: %w", err)
		}
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	return nil
}

func openSource(pc config.ParamsConfig, override string) (params.Source, string, error) {
	switch {
	case override != "":
		loc, err := params.ParseLocation(override)
		if err != nil {
			return nil, "", fmt.Errorf("-url: %w", err)
		}
		return loc, "url", nil
	case strings.TrimSpace(pc.File) != "":
		return params.NewFileSource(strings.TrimSpace(pc.File)), "file", nil
	default:
		loc, err := params.ParseLocation(pc.URL)
		if err != nil {
			return nil, "", fmt.Errorf("params.url: %w", err)
		}
		return loc, "url", nil
	}
}

func graceFrom(raw string) time.Duration {
	if strings.TrimSpace(raw) == "" {
		return params.DefaultGracePeriod
	}
	d, err := config.ParseDurationField("params.grace_period", raw)
	if err != nil {
		return params.DefaultGracePeriod
	}
	return d
}

func logConfig(lc config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   lc.Level,
		Format:  lc.Format,
		Console: lc.Console,
		File:    logx.FileConfig{Enabled: lc.File.Enabled, Path: lc.File.Path},
	}
}

// Bus returns the app's event bus. timer.error, params.invalid and state.*
// events are also written to the audit trail; monitor.heartbeat and
// config.reload are published only for subscribers outside the app.
func (a *App) Bus() eventbus.Bus { return a.bus }

// Settings returns the settings in effect after startup reconciliation.
func (a *App) Settings() map[string]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]int, len(a.settings))
	for k, v := range a.settings {
		out[k] = v
	}
	return out
}

func (a *App) Decision() Decision {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.decision
}

// Done is closed when the app context is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	cfg := a.cfgm.Get()

	// Subscribe before anything can publish.
	events, unsubEvents := a.bus.Subscribe(256,
		eventbus.TypeTimerError,
		eventbus.TypeParamsInvalid,
		eventbus.TypeStateReset,
		eventbus.TypeStateInit,
	)
	a.sup.Go("audit", func(c context.Context) error {
		defer unsubEvents()
		return a.auditLoop(c, events)
	})
	a.sup.Go("loop", a.loop.Run)

	a.setErrorRouting(cfg.Monitor)
	a.mu.Lock()
	a.valUnsub = a.params.OnValidationError(a.onValidationErrors)
	a.mu.Unlock()

	if err := a.reconcile(a.sup.Context(), cfg); err != nil {
		a.sup.Cancel()
		return fmt.Errorf("reconcile state: %w", err)
	}
	if err := a.armMonitor(cfg.Monitor); err != nil {
		a.sup.Cancel()
		return err
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch, 250*time.Millisecond, 5*time.Second)

	if err := a.sd.Ready(); err != nil {
		a.log.Warn("systemd ready notification failed", logx.Err(err))
	}
	a.log.Info("app started",
		logx.String("decision", string(a.Decision())),
		logx.Int("params", len(cfg.Params.Specs)),
	)
	return nil
}

// Stop shuts components down in order. Every step is bounded; a step that
// overruns is logged and skipped. Calling Stop more than once is a no-op.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.stopOnce.Do(func() {
		a.log.Info("stopping", logx.String("reason", string(reason)))
		if err := a.sd.Stopping(); err != nil {
			a.log.Warn("systemd stopping notification failed", logx.Err(err))
		}

		a.step(ctx, "monitor", 500*time.Millisecond, func(context.Context) error {
			a.mu.Lock()
			defer a.mu.Unlock()
			a.disarmMonitorLocked()
			for _, un := range []func(){a.errUnsub, a.valUnsub} {
				if un != nil {
					un()
				}
			}
			return nil
		})

		a.sup.Cancel()
		a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
		a.step(ctx, "storage", time.Second, func(context.Context) error {
			if a.store != nil {
				return a.store.Close()
			}
			return nil
		})

		st := a.loop.Stats()
		a.log.Info("stopped", logx.Uint64("callbacks", st.Ran), logx.Uint64("panics", st.Panics))
		_ = a.logs.Close()
	})
	return nil
}

// step runs fn bounded by max and the caller's deadline, whichever is sooner.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}
