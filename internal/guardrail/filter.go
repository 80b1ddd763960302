// Omnicast - Omnichannel Message Delivery Core
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/omnicast

// Package guardrail screens message content before it reaches an AI model or
// an external channel endpoint. Filtering is a pure function of the input
// text and the configured mode: no I/O, no clock, so identical input always
// produces an identical verdict. Callers decide what to log and how to
// record blocked content.
package guardrail

import (
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"
)

// Risk is the screening verdict severity.
type Risk int

const (
	RiskSafe Risk = iota
	RiskLow
	RiskMedium
	RiskHigh
	RiskBlocked
)

// String returns the wire representation of the risk level.
func (r Risk) String() string {
	switch r {
	case RiskSafe:
		return "safe"
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	case RiskBlocked:
		return "blocked"
	}
	return "unknown"
}

// Violation identifies a policy violation category.
type Violation string

const (
	ViolationPromptInjection Violation = "prompt_injection"
	ViolationMaliciousURL    Violation = "malicious_url"
	ViolationProfanity       Violation = "profanity"
	ViolationSpam            Violation = "spam"
	ViolationPIIExposure     Violation = "pii_exposure"
	ViolationBrandSafety     Violation = "brand_safety"
	ViolationOffTopic        Violation = "off_topic"
)

// Result is the screening verdict for one piece of content.
type Result struct {
	// Safe reports whether the content may proceed under the filter's mode.
	Safe bool

	// Risk is the highest risk level any check raised.
	Risk Risk

	// Violations lists every category that matched, in detection order.
	Violations []Violation

	// Sanitized is the cleaned content. Empty when Safe is false.
	Sanitized string

	// Reason summarizes the violations for error messages and logs.
	Reason string
}

// Patterns that indicate an attempt to steer a downstream AI model.
// A match blocks outright regardless of mode.
var promptInjectionPatterns = compileAll(
	`(?i)ignore\s+(previous|all|above)\s+(instructions?|prompts?)`,
	`(?i)disregard\s+(previous|all|above)`,
	`(?i)forget\s+(everything|all|previous)`,
	`(?i)new\s+instructions?:`,
	`(?i)system\s*:\s*`,
	`(?i)<\s*system\s*>`,
	`(?i)\[\s*system\s*\]`,
	`(?i)you\s+are\s+now\s+`,
	`(?i)act\s+as\s+(if|a)\s+`,
	`(?i)pretend\s+(to\s+be|you\s+are)`,
	`(?i)roleplay\s+as`,
	`(?i)jailbreak`,
	`(?i)bypass\s+(filter|safety|restriction)`,
	`(?i)override\s+(instruction|safety|filter)`,
	`(?i)execute\s+(command|code|script)`,
	`(?i)run\s+(command|code|script)`,
	`(?i)eval\s*\(`,
	`(?i)exec\s*\(`,
)

// Known URL shorteners. Shortened links hide their destination, so they are
// treated as malicious.
var shortenerPatterns = compileAll(
	`(?i)bit\.ly`,
	`(?i)tinyurl\.com`,
	`(?i)t\.co`,
	`(?i)goo\.gl`,
	`(?i)ow\.ly`,
	`(?i)is\.gd`,
	`(?i)buff\.ly`,
	`(?i)adf\.ly`,
	`(?i)j\.mp`,
	`(?i)dlvr\.it`,
)

// Domains allowed to appear in content without raising the risk level.
var allowedURLDomains = []string{
	"aws.amazon.com",
	"amazon.com",
	"linkedin.com",
	"github.com",
	"twitter.com",
	"x.com",
	"facebook.com",
	"instagram.com",
	"youtube.com",
	"credly.com",
	"certmetrics.com",
}

// PII patterns checked on outbound content: SSN, bare credit card numbers,
// email addresses, and phone numbers.
var piiPatterns = compileAll(
	`\b\d{3}[-.]?\d{2}[-.]?\d{4}\b`,
	`\b\d{16}\b`,
	`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`,
	`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`,
)

var profanityPatterns = compileAll(
	`(?i)\bdamn\s+(scam|fraud)\b`,
)

// Promotional bait phrasing.
var spamPatterns = compileAll(
	`(?i)(buy|sell|purchase)\s+(now|today|cheap)`,
	`(?i)(click|visit)\s+(here|now|link)`,
	`(?i)(free|discount|offer)\s+(money|gift|prize)`,
)

// Content categories that never belong on the managed channels.
var brandSafetyPatterns = compileAll(
	`(?i)(casino|gambling|lottery)`,
)

var offTopicPatterns = compileAll(
	`(?i)(crypto|bitcoin|nft)\s+(invest|buy|sell)`,
)

var (
	urlPattern     = regexp.MustCompile(`https?://\S+`)
	htmlTagPattern = regexp.MustCompile(`<[^>]+>`)
)

func compileAll(patterns ...string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		compiled[i] = regexp.MustCompile(p)
	}
	return compiled
}

// Filter screens content for policy violations.
type Filter struct {
	strict bool
}

// New creates a filter. In strict mode medium-risk content is rejected;
// otherwise only blocked content is rejected.
func New(strict bool) *Filter {
	return &Filter{strict: strict}
}

// FilterInput screens author-supplied content before it is handed to an AI
// model or a channel endpoint.
func (f *Filter) FilterInput(content string) Result {
	var violations []Violation
	risk := RiskSafe

	for _, p := range promptInjectionPatterns {
		if p.MatchString(content) {
			violations = append(violations, ViolationPromptInjection)
			risk = RiskBlocked
			break
		}
	}

	if risk != RiskBlocked {
		for _, u := range urlPattern.FindAllString(content, -1) {
			switch classifyURL(u) {
			case RiskHigh:
				violations = append(violations, ViolationMaliciousURL)
				risk = maxRisk(risk, RiskHigh)
			case RiskLow:
				risk = maxRisk(risk, RiskLow)
			}
		}
	}

	if risk < RiskHigh {
		risk = f.scanCategories(content, &violations, risk)
	}

	return f.verdict(risk, violations, sanitizeInput(content))
}

// FilterOutput screens model-generated content before it is published.
// It additionally scans for PII and for injection artifacts that would
// indicate the model itself was steered.
func (f *Filter) FilterOutput(content string) Result {
	var violations []Violation
	risk := RiskSafe

	for _, p := range piiPatterns {
		if p.MatchString(content) {
			violations = append(violations, ViolationPIIExposure)
			risk = maxRisk(risk, RiskHigh)
			break
		}
	}

	for _, u := range urlPattern.FindAllString(content, -1) {
		switch classifyURL(u) {
		case RiskHigh:
			violations = append(violations, ViolationMaliciousURL)
			risk = maxRisk(risk, RiskHigh)
		case RiskLow:
			risk = maxRisk(risk, RiskLow)
		}
	}

	for _, p := range promptInjectionPatterns {
		if p.MatchString(content) {
			violations = append(violations, ViolationPromptInjection)
			risk = RiskBlocked
			break
		}
	}

	return f.verdict(risk, violations, sanitizeOutput(content))
}

// scanCategories runs the medium-severity category checks.
func (f *Filter) scanCategories(content string, violations *[]Violation, risk Risk) Risk {
	type categoryCheck struct {
		patterns  []*regexp.Regexp
		violation Violation
		level     Risk
	}
	checks := []categoryCheck{
		{profanityPatterns, ViolationProfanity, RiskMedium},
		{spamPatterns, ViolationSpam, RiskMedium},
		{brandSafetyPatterns, ViolationBrandSafety, RiskMedium},
		{offTopicPatterns, ViolationOffTopic, RiskMedium},
	}

	for _, check := range checks {
		for _, p := range check.patterns {
			if p.MatchString(content) {
				*violations = append(*violations, check.violation)
				risk = maxRisk(risk, check.level)
				break
			}
		}
	}
	return risk
}

func (f *Filter) verdict(risk Risk, violations []Violation, sanitized string) Result {
	safe := risk <= RiskLow
	if !f.strict {
		safe = risk != RiskBlocked
	}

	result := Result{
		Safe:       safe,
		Risk:       risk,
		Violations: violations,
	}
	if safe {
		result.Sanitized = sanitized
	}
	if len(violations) > 0 {
		parts := make([]string, len(violations))
		for i, v := range violations {
			parts[i] = string(v)
		}
		result.Reason = fmt.Sprintf("violations: %s", strings.Join(parts, ", "))
	}
	return result
}

// classifyURL grades a URL: shorteners and unparseable URLs are high risk,
// allow-listed domains are safe, and any other host is low risk. Low risk
// never blocks on its own; it surfaces in the verdict for logging.
func classifyURL(raw string) Risk {
	for _, p := range shortenerPatterns {
		if p.MatchString(raw) {
			return RiskHigh
		}
	}

	parsed, err := url.Parse(strings.TrimRight(raw, ".,;:)"))
	if err != nil || parsed.Host == "" {
		return RiskHigh
	}

	domain := strings.ToLower(parsed.Hostname())
	domain = strings.TrimPrefix(domain, "www.")
	for _, allowed := range allowedURLDomains {
		if domain == allowed || strings.HasSuffix(domain, "."+allowed) {
			return RiskSafe
		}
	}
	return RiskLow
}

// sanitizeInput HTML-escapes the content, strips null bytes, and collapses
// all whitespace runs to single spaces.
func sanitizeInput(content string) string {
	s := html.EscapeString(content)
	s = strings.ReplaceAll(s, "\x00", "")
	return strings.Join(strings.Fields(s), " ")
}

// sanitizeOutput strips HTML tags and null bytes while preserving line
// breaks, then collapses whitespace within each line.
func sanitizeOutput(content string) string {
	s := htmlTagPattern.ReplaceAllString(content, "")
	s = strings.ReplaceAll(s, "\x00", "")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func maxRisk(a, b Risk) Risk {
	if a >= b {
		return a
	}
	return b
}
