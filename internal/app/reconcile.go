package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"pollguard/internal/config"
	"pollguard/internal/eventbus"
	"pollguard/internal/params"
	"pollguard/internal/storage"
	logx "pollguard/pkg/logx"
)

// Decision records how startup settings were chosen.
type Decision string

const (
	// DecisionInit: nothing was persisted; parsed values are used and saved.
	DecisionInit Decision = "init"
	// DecisionReset: supplied parameters contradict persisted state.
	DecisionReset Decision = "reset"
	// DecisionKeep: persisted state wins; names it lacks are filled from the parse.
	DecisionKeep Decision = "keep"
)

// StateChange is the payload of state.init and state.reset events.
type StateChange struct {
	Scope    string         `json:"scope"`
	Previous map[string]any `json:"previous,omitempty"`
	Applied  map[string]int `json:"applied"`
}

func (a *App) reconcile(ctx context.Context, cfg *config.Config) error {
	specs := buildSpecs(cfg.Params.Specs)
	parsed := a.params.ParseAndClean(specs)
	scope := cfg.Params.ScopeOrDefault()

	saved, err := a.loadState(ctx, scope)
	if err != nil {
		return err
	}

	applied, decision, dirty := resolve(specs, saved, parsed)
	if dirty && a.store != nil {
		if err := a.store.SaveState(ctx, scope, toAny(applied)); err != nil {
			return fmt.Errorf("save state %q: %w", scope, err)
		}
	}

	a.mu.Lock()
	a.settings = applied
	a.decision = decision
	a.mu.Unlock()

	change := StateChange{Scope: scope, Previous: saved, Applied: applied}
	switch decision {
	case DecisionInit:
		a.bus.Publish(eventbus.Event{Type: eventbus.TypeStateInit, Data: change})
	case DecisionReset:
		a.bus.Publish(eventbus.Event{Type: eventbus.TypeStateReset, Data: change})
	}
	a.log.Info("settings resolved",
		logx.String("scope", scope),
		logx.String("decision", string(decision)),
		logx.Bool("has_params", parsed.HasAnyParams),
		logx.Bool("saved", dirty && a.store != nil),
		logx.Any("settings", applied),
	)
	return nil
}

func (a *App) loadState(ctx context.Context, scope string) (map[string]any, error) {
	if a.store == nil {
		return nil, nil
	}
	saved, err := a.store.LoadState(ctx, scope)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load state %q: %w", scope, err)
	}
	return saved, nil
}

// resolve picks the effective settings. dirty reports whether they differ
// from what is persisted.
func resolve(specs []params.Spec, saved map[string]any, p params.Parsed) (map[string]int, Decision, bool) {
	if saved == nil {
		return copyInts(p.Values), DecisionInit, true
	}
	if params.ShouldResetState(saved, p) {
		return copyInts(p.Values), DecisionReset, true
	}

	out := make(map[string]int, len(p.Values))
	dirty := false
	for _, sp := range specs {
		v, ok := p.Values[sp.Name]
		if !ok {
			continue
		}
		if n, ok := asInt(saved[sp.Name]); ok && (sp.Validate == nil || sp.Validate(n)) {
			out[sp.Name] = n
			continue
		}
		out[sp.Name] = v
		dirty = true
	}
	return out, DecisionKeep, dirty
}

// buildSpecs turns config declarations into params specs. min, max and
// one_of combine.
func buildSpecs(in []config.ParamSpec) []params.Spec {
	out := make([]params.Spec, 0, len(in))
	for _, ps := range in {
		var checks []func(int) bool
		switch {
		case ps.Min != nil && ps.Max != nil:
			checks = append(checks, params.Range(*ps.Min, *ps.Max))
		case ps.Min != nil:
			lo := *ps.Min
			checks = append(checks, func(v int) bool { return v >= lo })
		case ps.Max != nil:
			hi := *ps.Max
			checks = append(checks, func(v int) bool { return v <= hi })
		}
		if len(ps.OneOf) > 0 {
			checks = append(checks, params.OneOf(ps.OneOf...))
		}
		sp := params.Spec{Name: ps.Name, Default: ps.Default}
		if len(checks) > 0 {
			sp.Validate = params.All(checks...)
		}
		out = append(out, sp)
	}
	return out
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		if x < math.MinInt || x > math.MaxInt {
			return 0, false
		}
		return int(x), true
	case float64:
		if x != math.Trunc(x) || x < math.MinInt || x > math.MaxInt {
			return 0, false
		}
		return int(x), true
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return 0, false
		}
		return asInt(n)
	default:
		return 0, false
	}
}

func copyInts(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func toAny(in map[string]int) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
