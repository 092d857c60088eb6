package alert

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/topazyo/s3-sentinel-connector-sub001/errors"
)

// Severity levels
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Rule fires when Metric on Component stays above Threshold for at least
// Duration. A zero Duration fires on the first breaching observation.
type Rule struct {
	Name      string        `json:"name"`
	Component string        `json:"component"`
	Metric    string        `json:"metric"`
	Threshold float64       `json:"threshold"`
	Duration  time.Duration `json:"duration"`
	Severity  string        `json:"severity,omitempty"`
}

// Validate checks the rule's static fields. An unknown Metric is not an
// error here: such rules are skipped at evaluation time.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Rule", "Validate", "rule name is required")
	}
	if strings.TrimSpace(r.Component) == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Rule", "Validate",
			fmt.Sprintf("rule %s: component is required", r.Name))
	}
	if math.IsNaN(r.Threshold) || math.IsInf(r.Threshold, 0) {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Rule", "Validate",
			fmt.Sprintf("rule %s: threshold must be finite", r.Name))
	}
	if r.Duration < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Rule", "Validate",
			fmt.Sprintf("rule %s: duration cannot be negative", r.Name))
	}
	switch r.Severity {
	case "", SeverityInfo, SeverityWarning, SeverityCritical:
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Rule", "Validate",
			fmt.Sprintf("rule %s: unknown severity %q", r.Name, r.Severity))
	}
	return nil
}

// DefaultRules returns the rules used when none are configured
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:      "sink_error_rate_high",
			Component: "sink",
			Metric:    MetricErrorRate,
			Threshold: 0.05,
			Duration:  5 * time.Minute,
			Severity:  SeverityCritical,
		},
		{
			Name:      "sink_latency_p95_high",
			Component: "sink",
			Metric:    MetricLatencyP95,
			Threshold: 5,
			Duration:  10 * time.Minute,
			Severity:  SeverityWarning,
		},
		{
			Name:      "replay_failures",
			Component: "replay",
			Metric:    MetricErrorRate,
			Threshold: 0.5,
			Duration:  15 * time.Minute,
			Severity:  SeverityWarning,
		},
	}
}
