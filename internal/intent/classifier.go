// Package intent categorizes inbound text with deterministic keyword rules.
// No learned model, no side effects: the same input always yields the same
// intent, which keeps the pipeline testable end to end.
package intent

import "strings"

// Intent is the category assigned to one inbound message.
type Intent string

const (
	Subscribe       Intent = "subscribe"
	Unsubscribe     Intent = "unsubscribe"
	RequestUpdate   Intent = "request_update"
	WebSearch       Intent = "web_search"
	Planning        Intent = "planning"
	Reasoning       Intent = "reasoning"
	GeneralQuestion Intent = "general_question"
)

// Token budgets handed to the provider router per intent class.
const (
	budgetDefault  = 500
	budgetExtended = 800
)

// Classifier matches lowercased input against fixed-order keyword sets.
// Administrative intents win over domain heuristics; the first match in rule
// order decides.
type Classifier struct {
	rules Rules
}

func New(rules Rules) *Classifier {
	return &Classifier{rules: rules}
}

// Classify assigns an intent to text. Admin intents are checked first in
// fixed order (subscribe, unsubscribe, request_update), then domain
// heuristics (web_search, planning, reasoning); anything else is a general
// question.
func (c *Classifier) Classify(text string) Intent {
	lower := strings.ToLower(text)

	ordered := []struct {
		intent   Intent
		keywords []string
	}{
		{Subscribe, c.rules.Subscribe},
		{Unsubscribe, c.rules.Unsubscribe},
		{RequestUpdate, c.rules.RequestUpdate},
		{WebSearch, c.rules.WebSearch},
		{Planning, c.rules.Planning},
		{Reasoning, c.rules.Reasoning},
	}

	for _, rule := range ordered {
		for _, kw := range rule.keywords {
			if matchKeyword(lower, kw) {
				return rule.intent
			}
		}
	}
	return GeneralQuestion
}

// matchKeyword matches multi-word keywords as substrings and single words
// against word prefixes, so "subscribe" does not fire inside "unsubscribe"
// while "plan" still covers "plans" and "planning".
func matchKeyword(lower, kw string) bool {
	if strings.ContainsRune(kw, ' ') {
		return strings.Contains(lower, kw)
	}
	for _, field := range strings.FieldsFunc(lower, func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9' || r == '\'')
	}) {
		if strings.HasPrefix(field, kw) {
			return true
		}
	}
	return false
}

// TokenBudget returns the max-token budget for a completion serving the
// given intent: planning and reasoning get the extended budget.
func (c *Classifier) TokenBudget(i Intent) int {
	switch i {
	case Planning, Reasoning:
		return budgetExtended
	default:
		return budgetDefault
	}
}

// Instruction returns the intent-specific suffix appended to the system
// prompt before the provider call.
func (c *Classifier) Instruction(i Intent) string {
	switch i {
	case Subscribe:
		return "The user wants to subscribe to updates. Confirm the subscription warmly in one or two sentences."
	case Unsubscribe:
		return "The user wants to stop receiving updates. Confirm the opt-out politely in one or two sentences."
	case RequestUpdate:
		return "The user is asking for their latest update. Summarize the most recent relevant information from the conversation."
	case WebSearch:
		return "The user is asking about current or external information. Answer from what you know and say clearly when information may be out of date."
	case Planning:
		return "The user wants a plan. Produce a clear, step-by-step plan with short headings."
	case Reasoning:
		return "The user wants an explanation or analysis. Reason through the question step by step before concluding."
	default:
		return "Answer the user's question directly and concisely."
	}
}
