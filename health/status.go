package health

import (
	"regexp"
	"sort"
	"strings"
	"time"
)

// Status levels
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

var (
	httpURLRegex     = regexp.MustCompile(`https?://[^\s]+`)
	natsURLRegex     = regexp.MustCompile(`nats://[^\s]+`)
	s3URLRegex       = regexp.MustCompile(`s3://[^\s]+`)
	unixPathRegex    = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	windowsPathRegex = regexp.MustCompile(`[A-Z]:\\[^:\s]+`)
	ipAddrRegex      = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	portRegex        = regexp.MustCompile(`:\d{2,5}\b`)
	credentialRegex  = regexp.MustCompile(`(?i)(password|token|key|secret|credential|sig)[^a-zA-Z]*[:=][^,\s}&]+`)
)

// Status is the health of one dependency, or of the whole pipeline when
// built by Aggregate
type Status struct {
	Name        string        `json:"name"`
	Healthy     bool          `json:"healthy"`
	Status      string        `json:"status"`
	Message     string        `json:"message"`
	Timestamp   time.Time     `json:"timestamp"`
	SubStatuses []Status      `json:"sub_statuses,omitempty"`
	Probe       *ProbeMetrics `json:"probe,omitempty"`
}

// ProbeMetrics describes the most recent probes of a dependency
type ProbeMetrics struct {
	Latency             time.Duration `json:"latency"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastSuccess         time.Time     `json:"last_success,omitzero"`
}

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool {
	return s.Status == StatusHealthy
}

// IsDegraded returns true if the status is degraded
func (s Status) IsDegraded() bool {
	return s.Status == StatusDegraded
}

// IsUnhealthy returns true if the status is unhealthy
func (s Status) IsUnhealthy() bool {
	return s.Status == StatusUnhealthy
}

// WithProbe returns a copy of the status with probe metrics attached
func (s Status) WithProbe(probe *ProbeMetrics) Status {
	s.Probe = probe
	return s
}

func newStatus(name, level, message string) Status {
	return Status{
		Name:      name,
		Healthy:   level == StatusHealthy,
		Status:    level,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy creates a healthy status
func NewHealthy(name, message string) Status {
	return newStatus(name, StatusHealthy, message)
}

// NewUnhealthy creates an unhealthy status
func NewUnhealthy(name, message string) Status {
	return newStatus(name, StatusUnhealthy, message)
}

// NewDegraded creates a degraded status
func NewDegraded(name, message string) Status {
	return newStatus(name, StatusDegraded, message)
}

// FromProbe converts a probe outcome into a status. The error message is
// sanitized before it is stored.
func FromProbe(name string, err error, latency time.Duration) Status {
	var status Status
	if err == nil {
		status = NewHealthy(name, "reachable")
	} else {
		status = NewUnhealthy(name, sanitizeErrorMessage(err.Error()))
	}
	return status.WithProbe(&ProbeMetrics{Latency: latency})
}

// Aggregate folds sub-statuses into one: any unhealthy makes the result
// unhealthy, otherwise any degraded makes it degraded. Sub-statuses are
// copied and sorted by name.
func Aggregate(name string, subStatuses []Status) Status {
	if len(subStatuses) == 0 {
		return NewHealthy(name, "no dependencies checked yet")
	}

	hasUnhealthy := false
	hasDegraded := false
	for _, sub := range subStatuses {
		if sub.IsUnhealthy() {
			hasUnhealthy = true
		} else if sub.IsDegraded() {
			hasDegraded = true
		}
	}

	var status Status
	switch {
	case hasUnhealthy:
		status = NewUnhealthy(name, "one or more dependencies are unreachable")
	case hasDegraded:
		status = NewDegraded(name, "one or more dependencies are degraded")
	default:
		status = NewHealthy(name, "all dependencies reachable")
	}

	status.SubStatuses = make([]Status, len(subStatuses))
	copy(status.SubStatuses, subStatuses)
	sort.Slice(status.SubStatuses, func(i, j int) bool {
		return status.SubStatuses[i].Name < status.SubStatuses[j].Name
	})
	return status
}

// sanitizeErrorMessage strips URLs, paths, addresses, ports and credentials
func sanitizeErrorMessage(err string) string {
	if err == "" {
		return ""
	}

	// URLs first, they contain paths
	sanitized := httpURLRegex.ReplaceAllString(err, "[URL]")
	sanitized = natsURLRegex.ReplaceAllString(sanitized, "[URL]")
	sanitized = s3URLRegex.ReplaceAllString(sanitized, "[URL]")

	sanitized = unixPathRegex.ReplaceAllString(sanitized, "[PATH]")
	sanitized = windowsPathRegex.ReplaceAllString(sanitized, "[PATH]")
	sanitized = ipAddrRegex.ReplaceAllString(sanitized, "[IP]")
	sanitized = portRegex.ReplaceAllString(sanitized, "[PORT]")

	lower := strings.ToLower(sanitized)
	for _, word := range []string{"password", "token", "key", "secret", "credential", "sig"} {
		if strings.Contains(lower, word) {
			sanitized = credentialRegex.ReplaceAllString(sanitized, "[REDACTED]")
			break
		}
	}
	return sanitized
}
