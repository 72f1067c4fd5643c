package intent

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Rules holds the keyword sets per intent. Keywords are matched as
// lowercase substrings; order inside a set does not matter, order across
// sets is fixed by the classifier.
type Rules struct {
	Subscribe     []string `yaml:"subscribe"`
	Unsubscribe   []string `yaml:"unsubscribe"`
	RequestUpdate []string `yaml:"request_update"`
	WebSearch     []string `yaml:"web_search"`
	Planning      []string `yaml:"planning"`
	Reasoning     []string `yaml:"reasoning"`
}

// DefaultRules returns the built-in keyword sets.
func DefaultRules() Rules {
	return Rules{
		Subscribe:     []string{"subscribe", "sign me up", "opt in", "start updates"},
		Unsubscribe:   []string{"unsubscribe", "opt out", "stop updates", "cancel updates"},
		RequestUpdate: []string{"latest update", "any update", "what's new", "status report"},
		WebSearch:     []string{"search", "look up", "news", "weather", "stock price", "find out"},
		Planning:      []string{"plan", "itinerary", "roadmap", "organize", "steps to"},
		Reasoning:     []string{"why", "explain", "analyze", "compare", "pros and cons"},
	}
}

// LoadRules reads keyword overrides from a YAML file. Sets absent from the
// file keep their defaults, so a rules file only lists what it changes.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()

	data, err := os.ReadFile(path)
	if err != nil {
		return rules, fmt.Errorf("read intent rules %s: %w", path, err)
	}

	var override Rules
	if err := yaml.Unmarshal(data, &override); err != nil {
		return rules, fmt.Errorf("parse intent rules %s: %w", path, err)
	}

	if len(override.Subscribe) > 0 {
		rules.Subscribe = override.Subscribe
	}
	if len(override.Unsubscribe) > 0 {
		rules.Unsubscribe = override.Unsubscribe
	}
	if len(override.RequestUpdate) > 0 {
		rules.RequestUpdate = override.RequestUpdate
	}
	if len(override.WebSearch) > 0 {
		rules.WebSearch = override.WebSearch
	}
	if len(override.Planning) > 0 {
		rules.Planning = override.Planning
	}
	if len(override.Reasoning) > 0 {
		rules.Reasoning = override.Reasoning
	}
	return rules, nil
}
