package plugin

import (
	"context"
	"fmt"

	"github.com/relay-labs/agent-router/internal/logging"
)

// Manager holds the per-stage plugin chains and runs them in
// registration order.
type Manager struct {
	chains map[Stage][]Plugin
	count  int
}

// NewManager creates an empty plugin manager.
func NewManager() *Manager {
	return &Manager{chains: make(map[Stage][]Plugin)}
}

// Register appends a plugin to the chain for stage.
func (m *Manager) Register(stage Stage, p Plugin) error {
	switch stage {
	case StageBeforeRequest, StageAfterRequest, StageOnError:
	default:
		return fmt.Errorf("unknown plugin stage: %s", stage)
	}
	m.chains[stage] = append(m.chains[stage], p)
	m.count++
	logging.Logger.Info("plugin registered", "plugin", p.Name(), "type", p.Type(), "stage", stage)
	return nil
}

// RunBefore executes the before-request chain. A plugin error or an
// explicit rejection aborts the request; Skip stops the chain without
// aborting.
func (m *Manager) RunBefore(ctx context.Context, pctx *Context) error {
	for _, p := range m.chains[StageBeforeRequest] {
		if err := p.Execute(ctx, pctx); err != nil {
			return fmt.Errorf("plugin %s failed: %w", p.Name(), err)
		}
		if pctx.Reject {
			return fmt.Errorf("request rejected by %s: %s", p.Name(), pctx.Reason)
		}
		if pctx.Skip {
			return nil
		}
	}
	return nil
}

// RunAfter executes the after-request chain. The response is already
// committed at this point, so failures are logged and swallowed.
func (m *Manager) RunAfter(ctx context.Context, pctx *Context) {
	m.runObservational(ctx, StageAfterRequest, pctx)
}

// RunOnError executes the on-error chain with the failure attached to
// the context.
func (m *Manager) RunOnError(ctx context.Context, pctx *Context) {
	m.runObservational(ctx, StageOnError, pctx)
}

func (m *Manager) runObservational(ctx context.Context, stage Stage, pctx *Context) {
	for _, p := range m.chains[stage] {
		if err := p.Execute(ctx, pctx); err != nil {
			logging.FromContext(ctx).Warn("plugin error",
				"stage", stage,
				"plugin", p.Name(),
				"error", err.Error(),
			)
		}
		if pctx.Skip {
			return
		}
	}
}

// HasPlugins reports whether any plugin is registered at any stage.
func (m *Manager) HasPlugins() bool {
	return m.count > 0
}
