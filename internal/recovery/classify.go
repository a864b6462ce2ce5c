// Package recovery classifies action failures and runs ranked recovery
// strategies against the live page.
package recovery

import (
	"strings"
	"unicode"
)

// Class is the category of an environment failure.
type Class string

const (
	ClassTimeout           Class = "timeout"
	ClassElementNotFound   Class = "element_not_found"
	ClassNavigationFailure Class = "navigation_failure"
	ClassAntiBotChallenge  Class = "anti_bot_challenge"
	ClassNetworkError      Class = "network_error"
	ClassUnknown           Class = "unknown"
)

// classificationRules are evaluated in order; the first rule with a matching
// substring or whole word wins.
var classificationRules = []struct {
	class   Class
	needles []string
	words   []string
}{
	{ClassTimeout, []string{"timeout", "timed out", "deadline exceeded"}, nil},
	{ClassElementNotFound, []string{"not found", "no such element", "could not find", "unable to locate", "no element"}, nil},
	{ClassNavigationFailure, []string{"navigation", "navigate", "net::err_name", "404", "page crashed"}, nil},
	{
		ClassAntiBotChallenge,
		[]string{"captcha", "challenge", "cloudflare", "verify you are human", "access denied", "are you a robot", "not a robot"},
		[]string{"bot", "bots"},
	},
	{ClassNetworkError, []string{"network", "connection", "econn", "socket", "dns", "net::err"}, nil},
}

// Classify maps a failure message to a Class. Matching is case-insensitive and
// every input maps to exactly one class.
func Classify(message string) Class {
	lower := strings.ToLower(message)
	var tokens map[string]bool
	for _, rule := range classificationRules {
		for _, needle := range rule.needles {
			if strings.Contains(lower, needle) {
				return rule.class
			}
		}
		if len(rule.words) == 0 {
			continue
		}
		if tokens == nil {
			tokens = wordSet(lower)
		}
		for _, w := range rule.words {
			if tokens[w] {
				return rule.class
			}
		}
	}
	return ClassUnknown
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.FieldsFunc(s, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) }) {
		set[w] = true
	}
	return set
}
