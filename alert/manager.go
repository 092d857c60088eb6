// Package alert evaluates threshold rules against component metrics.
//
// Each rule moves through three states:
//
//	clear   -> pending   value > Threshold
//	pending -> firing    breach held for at least Duration
//	any     -> clear     first observation with value <= Threshold
//
// A breach is value > Threshold. Resolution is immediate: one observation back
// within threshold clears the rule and resets its timer. Rules whose
// component has no metrics yet, or whose metric kind is unknown, are skipped
// for the tick and leave their state untouched.
//
// Manager is not meant to be driven by more than one evaluator at a time.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/topazyo/s3-sentinel-connector-sub001/errors"
	"github.com/topazyo/s3-sentinel-connector-sub001/metric"
)

// State names
const (
	StateClear   = "clear"
	StatePending = "pending"
	StateFiring  = "firing"
)

// MetricsSource provides component snapshots
type MetricsSource interface {
	GetMetrics(component string) (metric.ComponentSnapshot, bool)
}

// Alert is a rule observation reported to notifiers
type Alert struct {
	Rule      string    `json:"rule"`
	Component string    `json:"component"`
	Metric    string    `json:"metric"`
	Severity  string    `json:"severity"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Since     time.Time `json:"since"`
	At        time.Time `json:"at"`
}

// AlertResult is the outcome of one evaluation pass
type AlertResult struct {
	ActiveAlerts       []Alert `json:"active_alerts"`
	ResolvedAlerts     []Alert `json:"resolved_alerts"`
	TotalAlertsChecked int     `json:"total_alerts_checked"`
}

// RuleStatus is a read-only view of one rule's runtime state
type RuleStatus struct {
	Rule            string     `json:"rule"`
	State           string     `json:"state"`
	BreachStartedAt *time.Time `json:"breach_started_at,omitempty"`
	LastValue       float64    `json:"last_value"`
}

type ruleState struct {
	breachStartedAt *time.Time
	firing          bool
	lastValue       float64
}

// Manager holds the configured rules and their runtime state
type Manager struct {
	source     MetricsSource
	rules      []Rule
	states     []*ruleState
	conditions map[string]Condition
	now        func() time.Time
	logger     *slog.Logger

	mu sync.Mutex
}

// Option configures a Manager
type Option func(*Manager)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the manager logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager validates rules and creates one clear state per rule
func NewManager(source MetricsSource, rules []Rule, opts ...Option) (*Manager, error) {
	if source == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Manager", "NewManager", "metrics source is required")
	}

	m := &Manager{
		source:     source,
		rules:      make([]Rule, len(rules)),
		states:     make([]*ruleState, len(rules)),
		conditions: conditionTable(),
		now:        time.Now,
		logger:     slog.Default().With("component", "alert-manager"),
	}
	for _, opt := range opts {
		opt(m)
	}

	seen := make(map[string]bool, len(rules))
	for i, rule := range rules {
		if err := rule.Validate(); err != nil {
			return nil, err
		}
		if seen[rule.Name] {
			return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Manager", "NewManager",
				fmt.Sprintf("duplicate rule name %s", rule.Name))
		}
		seen[rule.Name] = true

		if rule.Severity == "" {
			rule.Severity = SeverityWarning
		}
		if _, ok := m.conditions[rule.Metric]; !ok {
			m.logger.Warn("Alert rule watches an unknown metric and will be skipped",
				"rule", rule.Name, "metric", rule.Metric)
		}
		m.rules[i] = rule
		m.states[i] = &ruleState{}
	}
	return m, nil
}

// Rules returns a copy of the configured rules
func (m *Manager) Rules() []Rule {
	out := make([]Rule, len(m.rules))
	copy(out, m.rules)
	return out
}

// CheckAlertConditions evaluates every rule once against the current metrics
func (m *Manager) CheckAlertConditions(ctx context.Context) AlertResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := AlertResult{
		ActiveAlerts:   []Alert{},
		ResolvedAlerts: []Alert{},
	}
	now := m.now()

	for i := range m.rules {
		if ctx.Err() != nil {
			m.logger.Debug("Alert evaluation cancelled", "remaining", len(m.rules)-i)
			break
		}

		outcome, evaluated := m.evaluate(i, now)
		if !evaluated {
			continue
		}
		result.TotalAlertsChecked++
		if outcome.active != nil {
			result.ActiveAlerts = append(result.ActiveAlerts, *outcome.active)
		}
		if outcome.resolved != nil {
			result.ResolvedAlerts = append(result.ResolvedAlerts, *outcome.resolved)
		}
	}
	return result
}

type evaluation struct {
	active   *Alert
	resolved *Alert
}

func (m *Manager) evaluate(i int, now time.Time) (out evaluation, evaluated bool) {
	rule := m.rules[i]
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Alert rule evaluation panicked", "rule", rule.Name, "panic", r)
			out, evaluated = evaluation{}, false
		}
	}()

	cond, ok := m.conditions[rule.Metric]
	if !ok {
		m.logger.Debug("Skipping rule with unknown metric", "rule", rule.Name, "metric", rule.Metric)
		return evaluation{}, false
	}
	snap, ok := m.source.GetMetrics(rule.Component)
	if !ok {
		m.logger.Debug("Skipping rule with no metrics yet", "rule", rule.Name, "component", rule.Component)
		return evaluation{}, false
	}
	value := cond.Value(snap)
	if math.IsNaN(value) {
		m.logger.Warn("Skipping rule with undefined value", "rule", rule.Name)
		return evaluation{}, false
	}

	st := m.states[i]
	st.lastValue = value

	if value > rule.Threshold {
		if st.breachStartedAt == nil {
			started := now
			st.breachStartedAt = &started
		}
		if !st.firing && now.Sub(*st.breachStartedAt) >= rule.Duration {
			st.firing = true
			m.logger.Warn("Alert firing",
				"rule", rule.Name,
				"component", rule.Component,
				"metric", rule.Metric,
				"value", value,
				"threshold", rule.Threshold,
				"severity", rule.Severity)
		}
		if st.firing {
			a := m.alert(rule, value, *st.breachStartedAt, now)
			out.active = &a
		}
		return out, true
	}

	if st.firing {
		a := m.alert(rule, value, *st.breachStartedAt, now)
		out.resolved = &a
		m.logger.Info("Alert resolved", "rule", rule.Name, "value", value, "threshold", rule.Threshold)
	}
	st.breachStartedAt = nil
	st.firing = false
	return out, true
}

func (m *Manager) alert(rule Rule, value float64, since, now time.Time) Alert {
	return Alert{
		Rule:      rule.Name,
		Component: rule.Component,
		Metric:    rule.Metric,
		Severity:  rule.Severity,
		Value:     value,
		Threshold: rule.Threshold,
		Since:     since,
		At:        now,
	}
}

// Status returns the runtime state of every rule in configuration order
func (m *Manager) Status() []RuleStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]RuleStatus, len(m.rules))
	for i, rule := range m.rules {
		st := m.states[i]
		status := RuleStatus{Rule: rule.Name, State: StateClear, LastValue: st.lastValue}
		if st.breachStartedAt != nil {
			started := *st.breachStartedAt
			status.BreachStartedAt = &started
			status.State = StatePending
		}
		if st.firing {
			status.State = StateFiring
		}
		out[i] = status
	}
	return out
}

// FiringCount returns how many rules are currently firing
func (m *Manager) FiringCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, st := range m.states {
		if st.firing {
			n++
		}
	}
	return n
}
