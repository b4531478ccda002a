// Package health runs the preflight checks behind jtu doctor.
package health

import (
	"context"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/apeks827/JiraTasksUpdate/internal/config"
)

// Status represents feature or dependency status
type Status int

const (
	StatusOK Status = iota
	StatusWarning
	StatusError
	StatusDisabled
)

// Check represents a health check result
type Check struct {
	Name    string
	Status  Status
	Message string
	Fix     string
}

// FeatureStatus represents a feature with its availability
type FeatureStatus struct {
	Name    string
	Enabled bool
	Status  Status
	Note    string
}

// ConnCheck is a connectivity check run against a live service.
type ConnCheck struct {
	Name string
	Fix  string
	// Run returns a short success message, e.g. the bot username.
	Run func(ctx context.Context) (string, error)
}

// Report contains all health check results
type Report struct {
	Config       []Check
	Connectivity []Check
	Features     []FeatureStatus
}

// connCheckTimeout bounds each connectivity check.
const connCheckTimeout = 10 * time.Second

// RunChecks checks cfg, then runs the connectivity checks in order. They are skipped
// when the configuration itself is invalid.
func RunChecks(ctx context.Context, cfg *config.Config, connChecks ...ConnCheck) *Report {
	report := &Report{
		Config:   checkConfig(cfg),
		Features: checkFeatures(cfg),
	}
	for _, c := range report.Config {
		if c.Status == StatusError {
			return report
		}
	}
	for _, p := range connChecks {
		report.Connectivity = append(report.Connectivity, runConnCheck(ctx, p))
	}
	return report
}

func runConnCheck(ctx context.Context, p ConnCheck) Check {
	ctx, cancel := context.WithTimeout(ctx, connCheckTimeout)
	defer cancel()
	msg, err := p.Run(ctx)
	if err != nil {
		return Check{Name: p.Name, Status: StatusError, Message: err.Error(), Fix: p.Fix}
	}
	return Check{Name: p.Name, Status: StatusOK, Message: msg}
}

func checkConfig(cfg *config.Config) []Check {
	var checks []Check

	if err := cfg.Validate(); err != nil {
		checks = append(checks, Check{
			Name:    "config",
			Status:  StatusError,
			Message: err.Error(),
			Fix:     "edit the config file or run 'jtu config init'",
		})
	} else {
		checks = append(checks, Check{Name: "config", Status: StatusOK, Message: "valid"})
	}

	if cfg.Jira == nil {
		return checks
	}
	if _, err := cfg.JiraToken(); err != nil {
		checks = append(checks, Check{
			Name:    "jira token",
			Status:  StatusError,
			Message: err.Error(),
			Fix:     "export the variable named by jira.token_env_var",
		})
	} else {
		checks = append(checks, Check{Name: "jira token", Status: StatusOK, Message: "set"})
	}

	if cfg.Telegram != nil {
		if _, err := cfg.TelegramToken(); err != nil {
			checks = append(checks, Check{
				Name:    "telegram token",
				Status:  StatusWarning,
				Message: err.Error(),
				Fix:     "export the variable named by telegram.token_env_var, or run with --no-telegram",
			})
		} else {
			checks = append(checks, Check{Name: "telegram token", Status: StatusOK, Message: "set"})
		}
	}

	if cfg.Cache != nil && cfg.Cache.Path != "" {
		if _, err := os.Stat(cfg.Cache.Path); os.IsNotExist(err) {
			checks = append(checks, Check{
				Name:    "processed store",
				Status:  StatusWarning,
				Message: "not created yet: " + cfg.Cache.Path,
				Fix:     "it is created on the first non dry-run start",
			})
		} else {
			checks = append(checks, Check{Name: "processed store", Status: StatusOK, Message: cfg.Cache.Path})
		}
	}
	return checks
}

// checkFeatures checks feature availability
func checkFeatures(cfg *config.Config) []FeatureStatus {
	f := cfg.Features
	if f == nil {
		f = &config.FeaturesConfig{}
	}
	features := []FeatureStatus{
		{Name: "New issues", Enabled: f.MainLoop, Status: boolToStatus(f.MainLoop)},
		{Name: "Updates", Enabled: f.UpdatesWatcher, Status: boolToStatus(f.UpdatesWatcher)},
		{Name: "Bot commands", Enabled: f.TelegramCommands, Status: boolToStatus(f.TelegramCommands)},
	}

	rotation := cfg.Assignee != nil && len(cfg.Assignee.Rotation) > 0
	rot := FeatureStatus{Name: "Rotation", Enabled: rotation, Status: boolToStatus(rotation)}
	if rotation && cfg.Assignee.TransitionID == "" {
		rot.Note = "no transition"
	}
	features = append(features, rot)

	quiet := cfg.TimeControl != nil && cfg.TimeControl.Enabled
	features = append(features, FeatureStatus{Name: "Sleep hours", Enabled: quiet, Status: boolToStatus(quiet)})

	gw := cfg.Gateway != nil && cfg.Gateway.Enabled
	gwStatus := FeatureStatus{Name: "Gateway", Enabled: gw, Status: boolToStatus(gw)}
	if gw {
		gwStatus.Note = cfg.Gateway.Addr()
	}
	features = append(features, gwStatus)

	if cfg.DryRun {
		features = append(features, FeatureStatus{Name: "Dry run", Enabled: true, Status: StatusWarning, Note: "nothing is sent"})
	}
	return features
}

// Summary counts errors and warnings across config and connectivity.
func (r *Report) Summary() (errors, warnings int) {
	for _, list := range [][]Check{r.Config, r.Connectivity} {
		for _, c := range list {
			switch c.Status {
			case StatusError:
				errors++
			case StatusWarning:
				warnings++
			}
		}
	}
	return errors, warnings
}

// ReadyToStart reports whether no check failed.
func (r *Report) ReadyToStart() bool {
	errors, _ := r.Summary()
	return errors == 0
}

// boolToStatus converts bool to Status
func boolToStatus(enabled bool) Status {
	if enabled {
		return StatusOK
	}
	return StatusDisabled
}

// Symbol returns the symbol for a status
func (s Status) Symbol() string {
	switch s {
	case StatusOK:
		return "✓"
	case StatusWarning:
		return "○"
	case StatusError:
		return "✗"
	case StatusDisabled:
		return "·"
	default:
		return "?"
	}
}

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusWarning:
		return "warning"
	case StatusError:
		return "error"
	case StatusDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

var statusColors = map[Status]lipgloss.Color{
	StatusOK:       "#7ec699",
	StatusWarning:  "#d4a054",
	StatusError:    "#d48a8a",
	StatusDisabled: "#6e7681",
}

// ColorSymbol returns Symbol styled for the terminal.
func (s Status) ColorSymbol() string {
	c, ok := statusColors[s]
	if !ok {
		return s.Symbol()
	}
	return lipgloss.NewStyle().Foreground(c).Render(s.Symbol())
}
