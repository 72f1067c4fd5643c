package intent

import (
	"os"
	"path/filepath"
	"testing"
)

func TestClassify_AdminBeforeDomain(t *testing.T) {
	c := New(DefaultRules())

	// Contains both a subscribe keyword and a web_search keyword; admin wins.
	got := c.Classify("Please subscribe me to the weather updates")
	if got != Subscribe {
		t.Fatalf("expected subscribe, got %s", got)
	}
}

func TestClassify_FixedOrder(t *testing.T) {
	c := New(DefaultRules())

	cases := []struct {
		text string
		want Intent
	}{
		{"SUBSCRIBE", Subscribe},
		{"I want to unsubscribe now", Unsubscribe},
		{"any update for me?", RequestUpdate},
		{"what's the weather in Hanoi", WebSearch},
		{"Can you plan a 3-day itinerary?", Planning},
		{"explain how tides work", Reasoning},
		{"hello there", GeneralQuestion},
		{"", GeneralQuestion},
	}

	for _, tc := range cases {
		if got := c.Classify(tc.text); got != tc.want {
			t.Errorf("Classify(%q) = %s, want %s", tc.text, got, tc.want)
		}
	}
}

func TestClassify_Deterministic(t *testing.T) {
	c := New(DefaultRules())
	text := "compare these plans and search for reviews"
	first := c.Classify(text)
	for i := 0; i < 10; i++ {
		if got := c.Classify(text); got != first {
			t.Fatalf("classification not stable: %s vs %s", got, first)
		}
	}
}

func TestTokenBudget(t *testing.T) {
	c := New(DefaultRules())

	if got := c.TokenBudget(Planning); got != 800 {
		t.Errorf("planning budget = %d, want 800", got)
	}
	if got := c.TokenBudget(Reasoning); got != 800 {
		t.Errorf("reasoning budget = %d, want 800", got)
	}
	if got := c.TokenBudget(GeneralQuestion); got != 500 {
		t.Errorf("general budget = %d, want 500", got)
	}
	if got := c.TokenBudget(Subscribe); got != 500 {
		t.Errorf("subscribe budget = %d, want 500", got)
	}
}

func TestInstruction_NonEmpty(t *testing.T) {
	c := New(DefaultRules())
	for _, i := range []Intent{Subscribe, Unsubscribe, RequestUpdate, WebSearch, Planning, Reasoning, GeneralQuestion} {
		if c.Instruction(i) == "" {
			t.Errorf("empty instruction for %s", i)
		}
	}
}

func TestLoadRules_PartialOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	content := "web_search:\n  - btc price\n  - exchange rate\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	rules, err := LoadRules(path)
	if err != nil {
		t.Fatalf("load rules: %v", err)
	}

	c := New(rules)
	if got := c.Classify("what is the btc price"); got != WebSearch {
		t.Errorf("override keyword not applied, got %s", got)
	}
	// Untouched sets keep defaults.
	if got := c.Classify("subscribe please"); got != Subscribe {
		t.Errorf("default subscribe rules lost, got %s", got)
	}
}

func TestLoadRules_MissingFile(t *testing.T) {
	rules, err := LoadRules(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing rules file")
	}
	// Defaults still usable on error.
	if len(rules.Subscribe) == 0 {
		t.Error("expected defaults returned alongside error")
	}
}
