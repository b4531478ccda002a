package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/apeks827/JiraTasksUpdate/internal/pipeline"
)

const (
	second = time.Second
	hour   = time.Hour
)

// Duration accepts Go duration strings ("10s", "5m"), a day suffix ("7d")
// and, in YAML, bare integers as seconds.
type Duration struct {
	time.Duration
}

// ParseDuration parses the formats Duration accepts.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.ParseFloat(days, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(n * float64(24*time.Hour)), nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	return d.UnmarshalText([]byte(node.Value))
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// SkipRulesConfig holds the skip rule lists.
type SkipRulesConfig struct {
	IssueKeys       []string `yaml:"issue_keys" toml:"issue_keys"`
	CommentKeywords []string `yaml:"comment_keywords" toml:"comment_keywords"`
	NameKeywords    []string `yaml:"name_keywords" toml:"name_keywords"`
	BodyKeywords    []string `yaml:"body_keywords" toml:"body_keywords"`
	CreatorList     []string `yaml:"creator_list" toml:"creator_list"`
	Labels          []string `yaml:"labels" toml:"labels"`
}

// RuleSet converts the lists into the pipeline's rule set.
func (s *SkipRulesConfig) RuleSet() pipeline.RuleSet {
	if s == nil {
		return pipeline.RuleSet{}
	}
	return pipeline.RuleSet{
		IssueKeys:       s.IssueKeys,
		CommentKeywords: s.CommentKeywords,
		SummaryKeywords: s.NameKeywords,
		BodyKeywords:    s.BodyKeywords,
		Reporters:       s.CreatorList,
		Labels:          s.Labels,
	}
}

// Assignees returns the rotation as pipeline assignees.
func (a *AssigneeConfig) Assignees() []pipeline.Assignee {
	if a == nil {
		return nil
	}
	out := make([]pipeline.Assignee, 0, len(a.Rotation))
	for _, r := range a.Rotation {
		out = append(out, pipeline.Assignee{
			Username: r.Username,
			ChatID:   strconv.FormatInt(r.NotifyChatID, 10),
		})
	}
	return out
}

// Pipeline converts the policy. A nil policy yields the pipeline default.
func (p *RetryPolicy) Pipeline() pipeline.RetryConfig {
	if p == nil {
		return pipeline.DefaultRetryConfig()
	}
	return pipeline.RetryConfig{
		MaxAttempts: p.MaxAttempts,
		BaseDelay:   p.BaseDelay.Duration,
		MaxDelay:    p.MaxDelay.Duration,
		JitterRatio: p.Jitter,
	}
}

// Retention returns the cache bounds.
func (c *CacheConfig) Retention() pipeline.RetentionPolicy {
	if c == nil {
		return pipeline.RetentionPolicy{}
	}
	return pipeline.RetentionPolicy{MaxAge: c.MaxAge.Duration, MaxEntries: c.MaxEntries}
}

// Pipeline validates the quiet hours and resolves the timezone.
func (t *TimeControlConfig) Pipeline() (pipeline.TimeControl, error) {
	if t == nil {
		return pipeline.TimeControl{}, nil
	}
	for _, h := range t.SleepHours {
		if h < 0 || h > 23 {
			return pipeline.TimeControl{}, fmt.Errorf("invalid time_control.sleep_hours entry: %d", h)
		}
	}
	loc := time.Local
	if t.Timezone != "" && t.Timezone != "Local" {
		l, err := time.LoadLocation(t.Timezone)
		if err != nil {
			return pipeline.TimeControl{}, fmt.Errorf("invalid time_control.timezone: %w", err)
		}
		loc = l
	}
	return pipeline.TimeControl{
		Enabled:    t.Enabled,
		SleepHours: t.SleepHours,
		Location:   loc,
	}, nil
}

// ChatIDs returns the allowed ids, falling back to the main chat.
func (t *TelegramConfig) ChatIDs() []int64 {
	if len(t.AllowedIDs) > 0 {
		return t.AllowedIDs
	}
	if t.MainChatID != 0 {
		return []int64{t.MainChatID}
	}
	return nil
}
