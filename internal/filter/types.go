package filter

import (
	"fmt"

	"github.com/Control-D-Inc/domainfilter"
)

// Verdict is the decision taken for a connection.
type Verdict string

const (
	VerdictAccept Verdict = domainfilter.PolicyAccept
	VerdictDrop   Verdict = domainfilter.PolicyDrop
)

// ParseVerdict parses a chain policy name.
func ParseVerdict(s string) (Verdict, error) {
	switch v := Verdict(s); v {
	case VerdictAccept, VerdictDrop:
		return v, nil
	}
	return "", fmt.Errorf("invalid verdict: %q", s)
}

// verdictFor returns the verdict of a matching rule with the given mode.
func verdictFor(mode domainfilter.Mode) Verdict {
	if mode == domainfilter.ModeAllow {
		return VerdictAccept
	}
	return VerdictDrop
}

// Entry is a rule installed in a chain.
type Entry struct {
	Key  string
	Name string
	Rule *domainfilter.Rule
}

// MatchRequest contains all the information needed for rule matching.
type MatchRequest struct {
	Conn   domainfilter.ConnKey
	Domain string
}

// MatchResult represents the result of evaluating a chain.
type MatchResult struct {
	Chain       string  `json:"chain"`
	Domain      string  `json:"domain"`
	Matched     bool    `json:"matched"`
	Verdict     Verdict `json:"verdict"`
	MatchedRule string  `json:"matched_rule"`
	RuleKey     string  `json:"rule_key,omitempty"`
	RuleName    string  `json:"rule_name,omitempty"`
	RuleIndex   int     `json:"rule_index"`
	Cached      bool    `json:"cached"`
}

const noRule = "no rule"
