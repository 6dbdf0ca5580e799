// Package recovery runs startup checks so the device resumes cleanly after a crash or a
// power loss. Components register with a RecoveryManager and are recovered in order.
package recovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ConnectForLife/vxnaid-sub000/internal/files"
	"github.com/ConnectForLife/vxnaid-sub000/internal/metrics"
	"github.com/ConnectForLife/vxnaid-sub000/internal/store"
)

// Recoverable defines the interface for components that can recover their state
type Recoverable interface {
	// RecoverState is called during application startup to restore component state
	RecoverState(ctx context.Context, registry *RecoveryRegistry) error
}

// RecoveryRegistry provides services that components can use during recovery
type RecoveryRegistry struct {
	drafts  store.DraftRepo
	files   files.Store
	metrics *metrics.Metrics
}

// NewRecoveryRegistry creates a new recovery registry
func NewRecoveryRegistry(drafts store.DraftRepo, fs files.Store, m *metrics.Metrics) *RecoveryRegistry {
	return &RecoveryRegistry{drafts: drafts, files: fs, metrics: m}
}

// Drafts provides access to the draft store
func (r *RecoveryRegistry) Drafts() store.DraftRepo { return r.drafts }

// Files provides access to the asset store
func (r *RecoveryRegistry) Files() files.Store { return r.files }

// Metrics provides access to the metrics, which may be nil
func (r *RecoveryRegistry) Metrics() *metrics.Metrics { return r.metrics }

// RecoveryManager orchestrates recovery of all registered components
type RecoveryManager struct {
	registry     *RecoveryRegistry
	recoverables []Recoverable
}

// NewRecoveryManager creates a new recovery manager
func NewRecoveryManager(drafts store.DraftRepo, fs files.Store, m *metrics.Metrics) *RecoveryManager {
	return &RecoveryManager{registry: NewRecoveryRegistry(drafts, fs, m)}
}

// RegisterRecoverable adds a component that can be recovered
func (rm *RecoveryManager) RegisterRecoverable(r Recoverable) {
	rm.recoverables = append(rm.recoverables, r)
}

// RecoverAll performs recovery of all registered components. A failing component does not
// stop the others.
func (rm *RecoveryManager) RecoverAll(ctx context.Context) error {
	slog.Info("Starting application recovery", "components", len(rm.recoverables))

	recoveredCount := 0
	errorCount := 0
	for _, recoverable := range rm.recoverables {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := recoverable.RecoverState(ctx, rm.registry); err != nil {
			slog.Error("Component recovery failed", "error", err, "component", fmt.Sprintf("%T", recoverable))
			errorCount++
			continue
		}
		recoveredCount++
	}

	slog.Info("Application recovery completed", "recovered", recoveredCount, "errors", errorCount)
	if errorCount > 0 {
		return fmt.Errorf("recovery completed with %d errors out of %d components", errorCount, len(rm.recoverables))
	}
	return nil
}

// GetRegistry provides access to the recovery registry
func (rm *RecoveryManager) GetRegistry() *RecoveryRegistry {
	return rm.registry
}
