// Package redact implements the pluggable PII pre-filter applied to a
// transcript before Stage 1 when a pipeline run requests redact_pii
// (spec §4.5). Grounded on the teacher's pkg/masking/masker.go pluggable
// Masker interface and pkg/masking/service.go's fail-closed/fail-open
// split — transcript redaction runs fail-closed, since a silently
// unredacted transcript is the failure mode this component exists to
// prevent (pkg/masking/service.go takes the same stance for tool-result
// masking, where a failure can leak a served secret).
package redact

import (
	"context"
	"fmt"
	"regexp"
)

// Masker is a structural or pattern-based PII detector. Defensive by
// contract: Mask should never panic, but a Masker that encounters
// malformed input should return an error rather than silently pass
// text through, since Filter treats any Masker error as fail-closed.
type Masker interface {
	Name() string
	Mask(text string) (string, error)
}

// Filter applies a sequence of Maskers in order and satisfies
// pipeline.Redactor.
type Filter struct {
	maskers []Masker
}

// New builds a Filter from an ordered list of maskers.
func New(maskers ...Masker) *Filter {
	return &Filter{maskers: maskers}
}

// Redact runs text through every configured masker in order. On any
// masker error the whole call fails (fail-closed): the caller must not
// fall back to the unredacted transcript.
func (f *Filter) Redact(_ context.Context, text string) (string, error) {
	out := text
	for _, m := range f.maskers {
		masked, err := m.Mask(out)
		if err != nil {
			return "", fmt.Errorf("redact: masker %q failed: %w", m.Name(), err)
		}
		out = masked
	}
	return out, nil
}

// RegexMasker replaces every match of pattern with replacement. Used
// for structurally-simple PII (emails, phone numbers, SSNs).
type RegexMasker struct {
	name        string
	pattern     *regexp.Regexp
	replacement string
}

// NewRegexMasker compiles pattern once at construction time, mirroring
// the teacher's eager-compile-at-startup discipline in
// pkg/masking/service.go's NewMaskingService.
func NewRegexMasker(name, pattern, replacement string) (*RegexMasker, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("redact: compiling pattern for masker %q: %w", name, err)
	}
	return &RegexMasker{name: name, pattern: re, replacement: replacement}, nil
}

func (m *RegexMasker) Name() string { return m.name }

func (m *RegexMasker) Mask(text string) (string, error) {
	return m.pattern.ReplaceAllString(text, m.replacement), nil
}

// Built-in pattern masker constructors for the common PII categories a
// call-transcript redactor needs. Each is a RegexMasker with a
// pre-validated pattern, so construction cannot fail in practice — the
// error return exists for interface uniformity and future maskers that
// do parse structured input.

// EmailMasker redacts email addresses.
func EmailMasker() *RegexMasker {
	m, _ := NewRegexMasker("email", `[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`, "[REDACTED_EMAIL]")
	return m
}

// PhoneMasker redacts US-style phone numbers in common delimited forms.
func PhoneMasker() *RegexMasker {
	m, _ := NewRegexMasker("phone", `\b(\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`, "[REDACTED_PHONE]")
	return m
}

// SSNMasker redacts US Social Security Numbers.
func SSNMasker() *RegexMasker {
	m, _ := NewRegexMasker("ssn", `\b\d{3}-\d{2}-\d{4}\b`, "[REDACTED_SSN]")
	return m
}

// CreditCardMasker redacts 13-19 digit card numbers, with or without
// separators.
func CreditCardMasker() *RegexMasker {
	m, _ := NewRegexMasker("credit_card", `\b(?:\d[ -]*?){13,19}\b`, "[REDACTED_CARD]")
	return m
}

// DefaultFilter builds a Filter with the standard transcript masker set.
func DefaultFilter() *Filter {
	return New(EmailMasker(), PhoneMasker(), SSNMasker(), CreditCardMasker())
}
