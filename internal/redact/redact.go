// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

// Package redact masks personal identifiers in text before it is
// persisted. Content is NFKC-normalized and stripped of zero-width
// characters first so Unicode tricks cannot hide a match.
package redact

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	quillerr "github.com/quill-dev/quill/pkg/errors"
)

// Policy redacts sensitive spans from text. Implementations must be
// safe for concurrent use.
type Policy interface {
	Redact(text string) string
}

// Rule defines one redaction pattern. Matches are replaced with
// "[" + Name + "]".
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
}

// RegexPolicy applies an ordered list of rules to normalized text.
type RegexPolicy struct {
	rules []Rule
}

// NewRegexPolicy validates the rules and builds a policy.
func NewRegexPolicy(rules []Rule) (*RegexPolicy, error) {
	for i, r := range rules {
		if r.Name == "" {
			return nil, quillerr.Errorf(quillerr.CodeInternal, "redaction rule %d has empty name", i)
		}
		if r.Pattern == nil {
			return nil, quillerr.Errorf(quillerr.CodeInternal, "redaction rule %d (%s) has nil pattern", i, r.Name)
		}
	}
	return &RegexPolicy{rules: rules}, nil
}

// Redact returns text with every rule match replaced by its placeholder.
// Rules run in order against the normalized form, so later rules see the
// placeholders of earlier ones.
func (p *RegexPolicy) Redact(text string) string {
	text = normalize(text)
	for _, r := range p.rules {
		text = r.Pattern.ReplaceAllString(text, "["+strings.ToUpper(r.Name)+"]")
	}
	return text
}

// invisibleCharReplacer strips zero-width and other invisible Unicode
// characters. Allocated once at package init.
var invisibleCharReplacer = strings.NewReplacer(
	"\u200b", "", // zero-width space
	"\u200c", "", // zero-width non-joiner
	"\u200d", "", // zero-width joiner
	"\ufeff", "", // zero-width no-break space / BOM
	"\u00ad", "", // soft hyphen
	"\u2060", "", // word joiner
)

func normalize(s string) string {
	s = invisibleCharReplacer.Replace(s)
	return norm.NFKC.String(s)
}

// DefaultRules returns the built-in personal-identifier rule set.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "email", Pattern: regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)},
		{Name: "ssn", Pattern: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
		{Name: "phone", Pattern: regexp.MustCompile(`(?:\+?1[-. ]?)?\(?\d{3}\)?[-. ]\d{3}[-. ]\d{4}\b`)},
		{Name: "mrn", Pattern: regexp.MustCompile(`\b(?i:mrn)[:#]?\s?\d{6,10}\b`)},
	}
}

// NewDefaultPolicy builds a policy over DefaultRules. It never fails;
// the rules are compiled at init.
func NewDefaultPolicy() *RegexPolicy {
	p, err := NewRegexPolicy(DefaultRules())
	if err != nil {
		panic(err)
	}
	return p
}
