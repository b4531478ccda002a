package pipeline

import (
	"fmt"
	"sort"
	"strings"
)

// SkipRule is a predicate over an issue. A matching rule excludes the issue
// from notification without marking it processed.
type SkipRule interface {
	Matches(issue Issue) bool
	Describe() string
}

// KeywordScope selects the issue text a KeywordRule looks at.
type KeywordScope string

const (
	ScopeText     KeywordScope = "text" // summary, body and comments
	ScopeSummary  KeywordScope = "summary"
	ScopeBody     KeywordScope = "body"
	ScopeComments KeywordScope = "comments"
)

// KeywordRule matches when Keyword occurs in the scoped text, ignoring case.
type KeywordRule struct {
	Keyword string
	Scope   KeywordScope
}

func (r KeywordRule) Matches(issue Issue) bool {
	kw := strings.ToLower(r.Keyword)
	if kw == "" {
		return false
	}
	for _, text := range r.texts(issue) {
		if strings.Contains(strings.ToLower(text), kw) {
			return true
		}
	}
	return false
}

func (r KeywordRule) texts(issue Issue) []string {
	switch r.Scope {
	case ScopeSummary:
		return []string{issue.Summary}
	case ScopeBody:
		return []string{issue.Body}
	case ScopeComments:
		return issue.Comments
	default:
		return append([]string{issue.Summary, issue.Body}, issue.Comments...)
	}
}

func (r KeywordRule) Describe() string {
	scope := r.Scope
	if scope == "" {
		scope = ScopeText
	}
	return fmt.Sprintf("keyword %q in %s", r.Keyword, scope)
}

// ReporterRule matches issues whose reporter is in the set.
type ReporterRule struct {
	Reporters map[string]struct{}
}

// NewReporterRule builds a ReporterRule from a list of usernames.
func NewReporterRule(reporters ...string) ReporterRule {
	return ReporterRule{Reporters: toSet(reporters)}
}

func (r ReporterRule) Matches(issue Issue) bool {
	_, ok := r.Reporters[issue.Reporter]
	return ok
}

func (r ReporterRule) Describe() string {
	return "reporter in " + describeSet(r.Reporters)
}

// LabelRule matches issues carrying any label in the set.
type LabelRule struct {
	Labels map[string]struct{}
}

// NewLabelRule builds a LabelRule from a list of labels.
func NewLabelRule(labels ...string) LabelRule {
	return LabelRule{Labels: toSet(labels)}
}

func (r LabelRule) Matches(issue Issue) bool {
	for _, l := range issue.Labels {
		if _, ok := r.Labels[l]; ok {
			return true
		}
	}
	return false
}

func (r LabelRule) Describe() string {
	return "label in " + describeSet(r.Labels)
}

// IssueKeyRule is a permanent skip list of issue keys.
type IssueKeyRule struct {
	Keys map[string]struct{}
}

// NewIssueKeyRule builds an IssueKeyRule from a list of keys.
func NewIssueKeyRule(keys ...string) IssueKeyRule {
	return IssueKeyRule{Keys: toSet(keys)}
}

func (r IssueKeyRule) Matches(issue Issue) bool {
	_, ok := r.Keys[issue.ID]
	return ok
}

func (r IssueKeyRule) Describe() string {
	return "issue key in skip list"
}

// Engine evaluates skip rules in order; the first match wins.
type Engine struct {
	rules []SkipRule
}

// NewEngine returns an engine over a copy of rules.
func NewEngine(rules ...SkipRule) *Engine {
	return &Engine{rules: append([]SkipRule(nil), rules...)}
}

// Match returns the first rule that matches issue.
func (e *Engine) Match(issue Issue) (SkipRule, bool) {
	if e == nil {
		return nil, false
	}
	for _, r := range e.rules {
		if r.Matches(issue) {
			return r, true
		}
	}
	return nil, false
}

// Matches reports whether any rule matches. An empty engine skips nothing.
func (e *Engine) Matches(issue Issue) bool {
	_, ok := e.Match(issue)
	return ok
}

// Len returns the number of configured rules.
func (e *Engine) Len() int {
	if e == nil {
		return 0
	}
	return len(e.rules)
}

// RuleSet is the flat rule configuration loaded from the config file.
type RuleSet struct {
	IssueKeys       []string
	CommentKeywords []string
	SummaryKeywords []string
	BodyKeywords    []string
	Reporters       []string
	Labels          []string
}

// RulesFromSet builds rules in evaluation order: issue keys, comment
// keywords, summary keywords, reporters, labels, body keywords. Empty groups
// contribute no rules.
func RulesFromSet(set RuleSet) []SkipRule {
	var rules []SkipRule
	if len(set.IssueKeys) > 0 {
		rules = append(rules, NewIssueKeyRule(set.IssueKeys...))
	}
	for _, kw := range set.CommentKeywords {
		rules = append(rules, KeywordRule{Keyword: kw, Scope: ScopeComments})
	}
	for _, kw := range set.SummaryKeywords {
		rules = append(rules, KeywordRule{Keyword: kw, Scope: ScopeSummary})
	}
	if len(set.Reporters) > 0 {
		rules = append(rules, NewReporterRule(set.Reporters...))
	}
	if len(set.Labels) > 0 {
		rules = append(rules, NewLabelRule(set.Labels...))
	}
	for _, kw := range set.BodyKeywords {
		rules = append(rules, KeywordRule{Keyword: kw, Scope: ScopeBody})
	}
	return rules
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[it] = struct{}{}
	}
	return set
}

func describeSet(set map[string]struct{}) string {
	items := make([]string, 0, len(set))
	for it := range set {
		items = append(items, it)
	}
	sort.Strings(items)
	return "[" + strings.Join(items, ", ") + "]"
}
