package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/threadgate/threadgate/internal/core"
	"github.com/threadgate/threadgate/internal/core/quota"
)

// Format represents an output format.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// AccountReport pairs an account with the limits of its tier.
type AccountReport struct {
	Account core.Account    `json:"account"`
	Limits  core.PlanLimits `json:"limits"`
}

// ClassLimit is one limiter preset.
type ClassLimit struct {
	Class       core.EndpointClass `json:"class"`
	Window      time.Duration      `json:"-"`
	WindowText  string             `json:"window"`
	MaxRequests int                `json:"max_requests"`
}

// LimitsReport lists the limiter presets and the plan limits in effect.
type LimitsReport struct {
	Classes         []ClassLimit      `json:"classes"`
	Plans           []core.PlanLimits `json:"plans"`
	CostPer1KTokens float64           `json:"cost_per_1k_tokens"`
	Timezone        string            `json:"timezone"`
}

// Formatter renders command results.
type Formatter interface {
	FormatAccounts(reports []AccountReport) (string, error)
	FormatLimits(report LimitsReport) (string, error)
	FormatUsage(usage *quota.Usage) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatYAML), "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatYAML:
		return &YAMLFormatter{}
	default:
		return &TableFormatter{}
	}
}

// NewClassLimit describes the preset of class.
func NewClassLimit(class core.EndpointClass, cfg core.WindowConfig) ClassLimit {
	return ClassLimit{
		Class:       class,
		Window:      cfg.Window,
		WindowText:  cfg.Window.String(),
		MaxRequests: cfg.MaxRequests,
	}
}
