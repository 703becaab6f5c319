package session

import (
	"strings"
	"time"
)

// Default context window sizes. Roughly 1 token ≈ 4 bytes for the
// byte-based fallback accounting.
const (
	DefaultMaxContextTokens = 200_000
	DefaultMaxContextBytes  = 800_000
	TokenBytesRatio         = 4
)

// Tuning bundles the timing and sizing knobs consumed by the reducer,
// liveness monitor, and store. All values are plain durations/sizes so
// the core stays deterministic and testable.
type Tuning struct {
	// NotifySilenceWindow suppresses repeat waiting notifications for a
	// session within this window of the previous one.
	NotifySilenceWindow time.Duration
	// NotifyEscalationWindow marks a waiting notification as escalated
	// once the session has been waiting at least this long.
	NotifyEscalationWindow time.Duration

	// OfflineGracePeriod is how long negative process evidence must
	// persist before a session is terminated.
	OfflineGracePeriod time.Duration
	// TerminatedRetention is how long terminated sessions stay queryable
	// before they are purged.
	TerminatedRetention time.Duration
	// HardExpiry force-terminates sessions with no updates for this long
	// regardless of process evidence.
	HardExpiry time.Duration

	// DoneVisibleDuration keeps the aggregate status at "done" this long
	// after a stop event.
	DoneVisibleDuration time.Duration

	// ModelContextTokens maps model-name substrings to context window
	// sizes. The "default" entry is the fallback.
	ModelContextTokens map[string]int
}

// DefaultTuning returns the production defaults.
func DefaultTuning() Tuning {
	return Tuning{
		NotifySilenceWindow:    120 * time.Second,
		NotifyEscalationWindow: 180 * time.Second,
		OfflineGracePeriod:     20 * time.Second,
		TerminatedRetention:    300 * time.Second,
		HardExpiry:             1800 * time.Second,
		DoneVisibleDuration:    5 * time.Second,
		ModelContextTokens: map[string]int{
			"opus":    200_000,
			"sonnet":  200_000,
			"haiku":   128_000,
			"default": DefaultMaxContextTokens,
		},
	}
}

// MaxContextTokensFor resolves the context window for a model name by
// substring match, falling back to the "default" entry.
func (t Tuning) MaxContextTokensFor(model string) int {
	lower := strings.ToLower(model)
	for key, tokens := range t.ModelContextTokens {
		if key == "default" || key == "" {
			continue
		}
		if lower != "" && strings.Contains(lower, key) {
			return tokens
		}
	}
	if tokens, ok := t.ModelContextTokens["default"]; ok {
		return tokens
	}
	return DefaultMaxContextTokens
}
