package advance

import (
	"time"

	"github.com/workrail/durable-core/domain"
)

// Option configures an Orchestrator at construction time.
type Option func(*config)

type config struct {
	autonomy          domain.AutonomyMode
	riskPolicy        domain.RiskPolicy
	validationTimeout time.Duration
}

func defaultConfig() config {
	return config{
		autonomy:          domain.AutonomyGuided,
		validationTimeout: 30 * time.Second,
	}
}

// WithAutonomyMode sets the default autonomy mode new sessions evaluate
// guardrails under.
func WithAutonomyMode(mode domain.AutonomyMode) Option {
	return func(c *config) { c.autonomy = mode }
}

// WithRiskPolicy sets the guardrail suppression policy applied before
// autonomy is consulted.
func WithRiskPolicy(policy domain.RiskPolicy) Option {
	return func(c *config) { c.riskPolicy = policy }
}

// WithValidationTimeout overrides the default 30s hard timeout on
// external validation engine calls.
func WithValidationTimeout(d time.Duration) Option {
	return func(c *config) { c.validationTimeout = d }
}
