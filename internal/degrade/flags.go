package degrade

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/NikhilSetiya/meshgate/pkg/errors"
	"github.com/NikhilSetiya/meshgate/pkg/logging"
)

// FeatureFlag gates whether a capability is attempted and how it degrades
type FeatureFlag struct {
	Name              string            `json:"name" binding:"required"`
	Description       string            `json:"description,omitempty"`
	Enabled           bool              `json:"enabled"`
	RolloutPercentage int               `json:"rollout_percentage"`
	Conditions        map[string]string `json:"conditions,omitempty"`
	FallbackBehavior  string            `json:"fallback_behavior,omitempty"`
}

// EvalContext carries the caller attributes a flag is evaluated against
type EvalContext struct {
	UserID     string
	Attributes map[string]string
}

type evalContextKey struct{}

// WithEvalContext attaches flag evaluation attributes to the context
func WithEvalContext(ctx context.Context, eval EvalContext) context.Context {
	return context.WithValue(ctx, evalContextKey{}, eval)
}

// EvalFromContext extracts flag evaluation attributes from the context
func EvalFromContext(ctx context.Context) EvalContext {
	if eval, ok := ctx.Value(evalContextKey{}).(EvalContext); ok {
		return eval
	}
	return EvalContext{UserID: logging.GetUserID(ctx)}
}

// FlagSet holds the process's feature flags
type FlagSet struct {
	mutex  sync.RWMutex
	flags  map[string]FeatureFlag
	logger *logging.Logger
}

// NewFlagSet creates an empty flag set
func NewFlagSet(logger *logging.Logger) *FlagSet {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &FlagSet{
		flags:  make(map[string]FeatureFlag),
		logger: logger,
	}
}

// SetFlag creates or replaces a flag
func (f *FlagSet) SetFlag(flag FeatureFlag) error {
	if flag.Name == "" {
		return errors.NewValidationError("flag name is required")
	}
	if flag.RolloutPercentage < 0 || flag.RolloutPercentage > 100 {
		return errors.NewValidationError("rollout percentage must be between 0 and 100")
	}

	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.flags[flag.Name] = flag

	f.logger.Info("Feature flag updated",
		"flag", flag.Name,
		"enabled", flag.Enabled,
		"rollout", flag.RolloutPercentage,
	)
	return nil
}

// DeleteFlag removes a flag, reporting whether it existed
func (f *FlagSet) DeleteFlag(name string) bool {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if _, ok := f.flags[name]; !ok {
		return false
	}
	delete(f.flags, name)
	return true
}

// GetFlag returns a flag by name
func (f *FlagSet) GetFlag(name string) (FeatureFlag, bool) {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	flag, ok := f.flags[name]
	return flag, ok
}

// ListFlags returns all flags sorted by name
func (f *FlagSet) ListFlags() []FeatureFlag {
	f.mutex.RLock()
	defer f.mutex.RUnlock()

	flags := make([]FeatureFlag, 0, len(f.flags))
	for _, flag := range f.flags {
		flags = append(flags, flag)
	}
	sort.Slice(flags, func(i, j int) bool { return flags[i].Name < flags[j].Name })
	return flags
}

// IsEnabled evaluates a flag against the caller context. Unknown flags are
// disabled. A user lands in the rollout cohort when the stable hash of
// flag name plus user id, mod 100, is below the rollout percentage, so the
// same user gets the same answer on every call.
func (f *FlagSet) IsEnabled(name string, eval EvalContext) bool {
	flag, ok := f.GetFlag(name)
	if !ok || !flag.Enabled {
		return false
	}

	if flag.RolloutPercentage < 100 {
		if rolloutBucket(name, eval.UserID) >= flag.RolloutPercentage {
			return false
		}
	}

	for key, want := range flag.Conditions {
		if eval.Attributes[key] != want {
			return false
		}
	}
	return true
}

func rolloutBucket(flagName, userID string) int {
	h := fnv.New32a()
	h.Write([]byte(flagName + userID))
	return int(h.Sum32() % 100)
}
