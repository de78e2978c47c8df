package domainfilter

import (
	"errors"
	"fmt"

	"github.com/Control-D-Inc/domainfilter/internal/rulematcher"
)

// Wildcard is the token matching any run of bytes at either end of a pattern.
const Wildcard = rulematcher.Wildcard

// MaxPatternLen is the size of a pattern buffer, terminator slot included.
// A valid pattern is strictly shorter than MaxPatternLen.
const MaxPatternLen = rulematcher.MaxPatternLen

var (
	// ErrPatternTooLong is returned when a pattern does not fit MaxPatternLen.
	ErrPatternTooLong = errors.New("domain pattern too long")
	// ErrEmptyPattern is returned for the empty pattern.
	ErrEmptyPattern = errors.New("domain pattern is empty")
	// ErrInvalidMode is returned when a rule is not exactly one of allow or deny.
	ErrInvalidMode = errors.New("rule mode must be exactly one of allow or deny")
)

// Mode is the designation of a rule.
type Mode uint8

const (
	ModeAllow Mode = iota + 1
	ModeDeny
)

// String returns the name of mode.
func (m Mode) String() string {
	switch m {
	case ModeAllow:
		return "allow"
	case ModeDeny:
		return "deny"
	}
	return "invalid"
}

// ModeFlags is the caller representation of a rule designation.
// Both flags, or none, is an illegal state rejected by NewRule.
type ModeFlags uint8

const (
	FlagAllow ModeFlags = 1 << iota
	FlagDeny
)

// ModeFlagsOf returns the flags for the given allow/deny booleans.
func ModeFlagsOf(allow, deny bool) ModeFlags {
	var f ModeFlags
	if allow {
		f |= FlagAllow
	}
	if deny {
		f |= FlagDeny
	}
	return f
}

func (f ModeFlags) mode() (Mode, bool) {
	switch f {
	case FlagAllow:
		return ModeAllow, true
	case FlagDeny:
		return ModeDeny, true
	}
	return 0, false
}

// Rule is a validated domain filtering rule. It is immutable once created.
type Rule struct {
	pattern string
	mode    Mode
}

// NewRule validates pattern and flags, returning the installed rule.
//
// This is the only place where malformed configuration is rejected, the
// matcher trusts the pattern length of every Rule it is given.
func NewRule(pattern string, flags ModeFlags) (*Rule, error) {
	if err := validatePattern(pattern); err != nil {
		return nil, err
	}
	mode, ok := flags.mode()
	if !ok {
		return nil, fmt.Errorf("%w: pattern %q", ErrInvalidMode, pattern)
	}
	return &Rule{pattern: pattern, mode: mode}, nil
}

func validatePattern(pattern string) error {
	switch {
	case pattern == "":
		return ErrEmptyPattern
	case len(pattern) >= MaxPatternLen:
		return fmt.Errorf("%w: %d bytes, must be less than %d", ErrPatternTooLong, len(pattern), MaxPatternLen)
	}
	return nil
}

// Pattern returns the rule pattern.
func (r *Rule) Pattern() string {
	return r.pattern
}

// Mode returns the rule mode.
func (r *Rule) Mode() Mode {
	return r.mode
}

// Matches reports whether domain satisfies the rule pattern.
// An empty domain means no domain is known yet, and never matches.
func (r *Rule) Matches(domain string) bool {
	if r == nil {
		return false
	}
	return rulematcher.Match(r.pattern, domain)
}

func (r *Rule) String() string {
	return r.mode.String() + " " + r.pattern
}
