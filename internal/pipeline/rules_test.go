package pipeline

import (
	"testing"
)

func TestKeywordRule(t *testing.T) {
	issue := Issue{
		ID:       "SD911-1",
		Summary:  "Проблема с Пропуском",
		Body:     "Badge reader is broken",
		Comments: []string{"assigned to vivashov"},
	}

	tests := []struct {
		name string
		rule KeywordRule
		want bool
	}{
		{"cyrillic summary ignores case", KeywordRule{Keyword: "пропуск", Scope: ScopeSummary}, true},
		{"body ignores case", KeywordRule{Keyword: "BADGE", Scope: ScopeBody}, true},
		{"comment scope", KeywordRule{Keyword: "vivashov", Scope: ScopeComments}, true},
		{"summary scope misses comment", KeywordRule{Keyword: "vivashov", Scope: ScopeSummary}, false},
		{"default scope covers all text", KeywordRule{Keyword: "vivashov"}, true},
		{"absent keyword", KeywordRule{Keyword: "ноутбук"}, false},
		{"empty keyword never matches", KeywordRule{Keyword: ""}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rule.Matches(issue); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReporterRule_ExactMembership(t *testing.T) {
	rule := NewReporterRule("vivashov", "otitov")

	if !rule.Matches(Issue{Reporter: "otitov"}) {
		t.Error("expected otitov to match")
	}
	if rule.Matches(Issue{Reporter: "OTITOV"}) {
		t.Error("reporter match must be exact")
	}
	if rule.Matches(Issue{Reporter: ""}) {
		t.Error("empty reporter must not match")
	}
}

func TestLabelRule(t *testing.T) {
	rule := NewLabelRule("hardware", "access")

	if !rule.Matches(Issue{Labels: []string{"urgent", "access"}}) {
		t.Error("expected label access to match")
	}
	if rule.Matches(Issue{Labels: []string{"Access"}}) {
		t.Error("label match must be exact")
	}
	if rule.Matches(Issue{}) {
		t.Error("issue without labels must not match")
	}
}

func TestIssueKeyRule(t *testing.T) {
	rule := NewIssueKeyRule("SD911-2689821")
	if !rule.Matches(Issue{ID: "SD911-2689821"}) {
		t.Error("expected listed key to match")
	}
	if rule.Matches(Issue{ID: "SD911-1"}) {
		t.Error("unlisted key must not match")
	}
}

type countingRule struct {
	match bool
	calls *int
	name  string
}

func (r countingRule) Matches(Issue) bool { *r.calls++; return r.match }
func (r countingRule) Describe() string   { return r.name }

func TestEngine_FirstMatchShortCircuits(t *testing.T) {
	var first, second, third int
	engine := NewEngine(
		countingRule{match: false, calls: &first, name: "first"},
		countingRule{match: true, calls: &second, name: "second"},
		countingRule{match: true, calls: &third, name: "third"},
	)

	rule, ok := engine.Match(Issue{ID: "X-1"})
	if !ok {
		t.Fatal("expected a match")
	}
	if rule.Describe() != "second" {
		t.Errorf("matched rule = %q, want second", rule.Describe())
	}
	if first != 1 || second != 1 || third != 0 {
		t.Errorf("calls = %d/%d/%d, want 1/1/0", first, second, third)
	}
}

func TestEngine_Empty(t *testing.T) {
	var nilEngine *Engine
	if nilEngine.Matches(Issue{ID: "X-1", Summary: "anything"}) {
		t.Error("nil engine must skip nothing")
	}
	if NewEngine().Matches(Issue{ID: "X-1", Summary: "anything"}) {
		t.Error("empty engine must skip nothing")
	}
}

func TestRulesFromSet_Order(t *testing.T) {
	rules := RulesFromSet(RuleSet{
		IssueKeys:       []string{"SD911-1"},
		CommentKeywords: []string{"isuvorinov"},
		SummaryKeywords: []string{"пропуск", "скуд"},
		BodyKeywords:    []string{"laptop"},
		Reporters:       []string{"otitov"},
		Labels:          []string{"hr"},
	})

	want := []string{
		"issue key in skip list",
		`keyword "isuvorinov" in comments`,
		`keyword "пропуск" in summary`,
		`keyword "скуд" in summary`,
		"reporter in [otitov]",
		"label in [hr]",
		`keyword "laptop" in body`,
	}
	if len(rules) != len(want) {
		t.Fatalf("got %d rules, want %d", len(rules), len(want))
	}
	for i, r := range rules {
		if r.Describe() != want[i] {
			t.Errorf("rule[%d] = %q, want %q", i, r.Describe(), want[i])
		}
	}

	if got := RulesFromSet(RuleSet{}); len(got) != 0 {
		t.Errorf("empty set produced %d rules", len(got))
	}
}
