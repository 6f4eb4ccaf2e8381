package config

import (
	"fmt"
	"net/url"
	"strings"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a configuration warning that should be surfaced
	// to users but may not necessarily block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding.
//
// Path is a dotted path into the config (e.g. "queue.uri",
// "transform.workers"). Message is human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasError reports whether any issue in the slice is severity error.
func HasError(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Component selects which binary's requirements Validate enforces. The
// splitter needs queue, blob, transform, and db settings; the processor only
// needs its listener.
type Component string

const (
	ComponentSplitter  Component = "splitter"
	ComponentProcessor Component = "processor"
)

// Validate performs static validation of a loaded Config for the given
// component. It does not mutate the config; callers decide whether warnings
// are fatal.
func Validate(c Config, component Component) []Issue {
	var issues []Issue

	if strings.TrimSpace(c.Job) == "" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "job",
			Message:  "job is empty; metrics and logs will be harder to attribute",
		})
	}

	switch component {
	case ComponentSplitter:
		issues = append(issues, validateQueue(c.Queue)...)
		issues = append(issues, validateBlob(c.Blob)...)
		issues = append(issues, validateTransform(c.Transform)...)
		issues = append(issues, validateDB(c.DB)...)
	case ComponentProcessor:
		if strings.TrimSpace(c.Server.Addr) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "server.addr",
				Message:  "server.addr must not be empty",
			})
		}
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "",
			Message:  fmt.Sprintf("unknown component %q", component),
		})
	}

	issues = append(issues, validateMetrics(c.Metrics)...)
	return issues
}

func validateQueue(q QueueConfig) []Issue {
	var issues []Issue
	if strings.TrimSpace(q.URI) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "queue.uri",
			Message:  "queue.uri must not be empty (or set AMQP_URI)",
		})
	} else if !strings.HasPrefix(q.URI, "amqp://") && !strings.HasPrefix(q.URI, "amqps://") {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "queue.uri",
			Message:  fmt.Sprintf("queue.uri %q does not look like an AMQP URI", q.URI),
		})
	}
	if strings.TrimSpace(q.Name) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "queue.name",
			Message:  "queue.name must not be empty",
		})
	}
	return issues
}

func validateBlob(b BlobConfig) []Issue {
	var issues []Issue
	if strings.TrimSpace(b.Endpoint) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "blob.endpoint",
			Message:  "blob.endpoint must not be empty (or set BLOB_ENDPOINT)",
		})
	}
	if b.AccessKey == "" || b.SecretKey == "" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "blob.access_key",
			Message:  "blob credentials are empty; anonymous access will be attempted",
		})
	}
	return issues
}

func validateTransform(t TransformConfig) []Issue {
	var issues []Issue
	if strings.TrimSpace(t.Endpoint) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "transform.endpoint",
			Message:  "transform.endpoint must not be empty (or set TRANSFORM_ENDPOINT)",
		})
	} else if u, err := url.Parse(t.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "transform.endpoint",
			Message:  fmt.Sprintf("transform.endpoint %q is not an absolute URL", t.Endpoint),
		})
	}
	if t.Workers > 64 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "transform.workers",
			Message:  fmt.Sprintf("workers=%d; very wide fan-out can overload the processor", t.Workers),
		})
	}
	return issues
}

func validateDB(db DBConfig) []Issue {
	var issues []Issue
	if strings.TrimSpace(db.DSN) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "db.dsn",
			Message:  "db.dsn must not be empty (or set DB_DSN)",
		})
	}
	return issues
}

func validateMetrics(m MetricsConfig) []Issue {
	var issues []Issue
	switch m.Backend {
	case "", "none":
	case "pushgateway":
		if strings.TrimSpace(m.PushgatewayURL) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "metrics.pushgateway_url",
				Message:  "pushgateway backend requires metrics.pushgateway_url (or PUSHGATEWAY_URL)",
			})
		}
	case "datadog":
		if strings.TrimSpace(m.StatsdAddr) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "metrics.statsd_addr",
				Message:  "datadog backend requires metrics.statsd_addr",
			})
		}
	default:
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "metrics.backend",
			Message:  fmt.Sprintf("unknown metrics backend %q; metrics will be disabled", m.Backend),
		})
	}
	return issues
}
