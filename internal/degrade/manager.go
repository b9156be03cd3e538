package degrade

import (
	"context"
	"sort"

	"github.com/NikhilSetiya/meshgate/pkg/errors"
	"github.com/NikhilSetiya/meshgate/pkg/logging"
	"github.com/NikhilSetiya/meshgate/pkg/metrics"
)

// Operation is the primary call protected by a fallback chain
type Operation func(ctx context.Context) (interface{}, error)

// FallbackStrategy is one rung of a degradation chain. Strategies are tried
// in ascending Priority order; the first success wins.
type FallbackStrategy interface {
	Name() string
	Priority() int
	Enabled() bool
	Execute(ctx context.Context, operation string, cause error) (interface{}, error)
}

// ResultRecorder is implemented by strategies that capture successful
// primary results for later replay.
type ResultRecorder interface {
	Record(ctx context.Context, value interface{})
}

// Manager runs operations with graceful degradation
type Manager struct {
	flags   *FlagSet
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewManager creates a degradation manager
func NewManager(flags *FlagSet, m *metrics.Metrics, logger *logging.Logger) *Manager {
	if flags == nil {
		flags = NewFlagSet(nil)
	}
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &Manager{
		flags:   flags,
		logger:  logger,
		metrics: m,
	}
}

// Flags returns the feature flag set
func (m *Manager) Flags() *FlagSet {
	return m.flags
}

// ExecuteWithFallback runs the primary operation and, on failure, walks the
// fallback chain in ascending priority order. Disabled strategies are
// skipped. If every strategy fails the last error is wrapped in an
// AllFallbacksFailed error.
func (m *Manager) ExecuteWithFallback(ctx context.Context, operation string, primary Operation, chain []FallbackStrategy) (interface{}, error) {
	result, err := primary(ctx)
	if err == nil {
		for _, strategy := range chain {
			if recorder, ok := strategy.(ResultRecorder); ok && strategy.Enabled() {
				recorder.Record(ctx, result)
			}
		}
		return result, nil
	}

	log := m.logger.WithContext(ctx).WithField("component", "degrade")
	log.WithFields(logging.Fields{
		"operation":    operation,
		"error":        err.Error(),
		"chain_length": len(chain),
	}).Warn("Primary operation failed, trying fallback chain")

	ordered := make([]FallbackStrategy, len(chain))
	copy(ordered, chain)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority() < ordered[j].Priority()
	})

	lastErr := err
	for _, strategy := range ordered {
		if !strategy.Enabled() {
			continue
		}

		value, ferr := strategy.Execute(ctx, operation, lastErr)
		if m.metrics != nil {
			m.metrics.RecordFallback(operation, strategy.Name(), ferr == nil)
		}
		if ferr == nil {
			log.WithFields(logging.Fields{
				"operation": operation,
				"strategy":  strategy.Name(),
			}).Info("Fallback strategy succeeded")
			return value, nil
		}

		log.WithFields(logging.Fields{
			"operation": operation,
			"strategy":  strategy.Name(),
			"error":     ferr.Error(),
		}).Warn("Fallback strategy failed")
		lastErr = ferr
	}

	return nil, errors.NewAllFallbacksFailedError(operation).
		WithCause(lastErr).
		WithCorrelationID(logging.GetCorrelationID(ctx))
}
