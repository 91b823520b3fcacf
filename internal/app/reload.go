package app

import (
	"context"
	"strings"

	"pollguard/internal/config"
	"pollguard/internal/eventbus"
	logx "pollguard/pkg/logx"
)

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			newCfg = latest(sub, newCfg)
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// latest drains sub without blocking and returns the newest config seen.
func latest(sub <-chan *config.Config, cur *config.Config) *config.Config {
	for {
		select {
		case next, ok := <-sub:
			if !ok {
				return cur
			}
			if next != nil {
				cur = next
			}
		default:
			return cur
		}
	}
}

// applyConfig applies what can change live. runtime and storage changes only
// take effect after a restart; so do parameter declarations, since parameters
// are consumed once at startup.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	if newCfg == nil {
		return
	}
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(logConfig(newCfg.Logging))
		case "params":
			a.params.SetGracePeriod(graceFrom(newCfg.Params.GracePeriod))
			if oldCfg == nil || !sameDeclarations(oldCfg.Params, newCfg.Params) {
				a.log.Warn("parameter declarations changed; they apply on next start")
			}
		case "monitor":
			a.setErrorRouting(newCfg.Monitor)
			if err := a.armMonitor(newCfg.Monitor); err != nil {
				a.log.Warn("monitor reconfigure failed", logx.Err(err))
			}
		}
	}
	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReload, Data: sections})
	a.log.Info("config reloaded", fields...)
}

func sameDeclarations(a, b config.ParamsConfig) bool {
	a.GracePeriod, b.GracePeriod = "", ""
	ca, _ := config.SummarizeConfigChange(&config.Config{Params: a}, &config.Config{Params: b})
	return len(ca) == 0
}
