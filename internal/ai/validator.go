// internal/ai/validator.go
package ai

import (
	"fmt"
	"regexp"
	"strings"
)

// ValidationConfig bounds what generated content may be sent.
// MaxLength is the provider hard cap (LINE: 5000 characters).
type ValidationConfig struct {
	ProhibitedWords []string
	MaxLength       int
}

// ValidationResult carries the sanitized content plus everything an
// operator needs to understand why content was blocked or altered.
type ValidationResult struct {
	IsValid          bool
	SanitizedContent string
	Errors           []string
	Warnings         []string
}

var (
	validatorEmailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	validatorPhonePattern = regexp.MustCompile(`0\d{1,4}-?\d{1,4}-?\d{4}`)
	validatorCardPattern  = regexp.MustCompile(`\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}`)
	personalIDPattern     = regexp.MustCompile(`\d{4}-?\d{6}`)
	urlPattern            = regexp.MustCompile(`https?://\S+`)
	scriptTagPattern      = regexp.MustCompile(`(?is)<script\b.*?</script>`)
	htmlTagPattern        = regexp.MustCompile(`<[^>]+>`)
	multiSpacePattern     = regexp.MustCompile(` {2,}`)
	multiNewlinePattern   = regexp.MustCompile(`\n{3,}`)
)

var sentenceEndings = []rune{'。', '！', '？', '.', '!', '?'}

// Validate checks and sanitizes generated content before it may reach a
// recipient. Content is invalid only when empty or when it contains a
// prohibited word; prohibited content is rejected outright and never
// auto-corrected. Everything else produces warnings plus a sanitized
// copy safe to transmit.
func Validate(content string, config ValidationConfig) ValidationResult {
	var errs, warnings []string

	if strings.TrimSpace(content) == "" {
		return ValidationResult{
			IsValid: false,
			Errors:  []string{"empty response"},
		}
	}

	sanitized := content
	if config.MaxLength > 0 && len([]rune(content)) > config.MaxLength {
		warnings = append(warnings, fmt.Sprintf("response exceeds maximum length (%d/%d)", len([]rune(content)), config.MaxLength))
		sanitized = truncate(content, config.MaxLength)
	}

	if found := findProhibited(content, config.ProhibitedWords); len(found) > 0 {
		errs = append(errs, "response contains prohibited words: "+strings.Join(found, ", "))
		return ValidationResult{
			IsValid:  false,
			Errors:   errs,
			Warnings: warnings,
		}
	}

	warnings = append(warnings, checkPII(content)...)
	warnings = append(warnings, checkContentPatterns(content)...)

	sanitized = stripHTML(sanitized)
	sanitized = collapseWhitespace(sanitized)

	return ValidationResult{
		IsValid:          true,
		SanitizedContent: sanitized,
		Errors:           errs,
		Warnings:         warnings,
	}
}

func findProhibited(content string, words []string) []string {
	lower := strings.ToLower(content)
	var found []string
	for _, w := range words {
		if w == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(w)) {
			found = append(found, w)
		}
	}
	return found
}

// truncate cuts at the last sentence terminator at or before the limit,
// falling back to a hard cut with an ellipsis when none exists.
func truncate(content string, maxLength int) string {
	runes := []rune(content)
	if len(runes) <= maxLength {
		return content
	}
	cut := runes[:maxLength]
	for i := len(cut) - 1; i >= 0; i-- {
		for _, e := range sentenceEndings {
			if cut[i] == e {
				return string(cut[:i+1])
			}
		}
	}
	return string(cut[:maxLength-3]) + "..."
}

func checkPII(content string) []string {
	var warnings []string
	if validatorEmailPattern.MatchString(content) {
		warnings = append(warnings, "response may contain email address")
	}
	if validatorPhonePattern.MatchString(content) {
		warnings = append(warnings, "response may contain phone number")
	}
	if validatorCardPattern.MatchString(content) {
		warnings = append(warnings, "response may contain credit card number")
	}
	if personalIDPattern.MatchString(content) {
		warnings = append(warnings, "response may contain personal identification number")
	}
	return warnings
}

func checkContentPatterns(content string) []string {
	var warnings []string
	if urlPattern.MatchString(content) {
		warnings = append(warnings, "response contains URLs")
	}
	if len(content) > 20 {
		upper := 0
		for _, r := range content {
			if r >= 'A' && r <= 'Z' {
				upper++
			}
		}
		if float64(upper)/float64(len([]rune(content))) > 0.5 {
			warnings = append(warnings, "response contains excessive uppercase letters")
		}
	}
	if hasRepeatedRun(content, 6) {
		warnings = append(warnings, "response contains excessive repeated characters")
	}
	return warnings
}

// hasRepeatedRun reports whether content contains a run of at least n
// identical characters. RE2 has no backreferences, so this is a loop.
func hasRepeatedRun(content string, n int) bool {
	var prev rune
	count := 0
	for _, r := range content {
		if r == prev {
			count++
		} else {
			prev = r
			count = 1
		}
		if count >= n {
			return true
		}
	}
	return false
}

var entityReplacer = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&amp;", "&",
	"&quot;", `"`,
	"&#x27;", "'",
)

// stripHTML iterates strip-then-decode to a fixpoint: decoding entities
// can materialize new tags (&lt;b&gt; becomes <b>), which must not
// survive into the sanitized output.
func stripHTML(content string) string {
	sanitized := content
	for {
		next := scriptTagPattern.ReplaceAllString(sanitized, "")
		next = htmlTagPattern.ReplaceAllString(next, "")
		next = entityReplacer.Replace(next)
		if next == sanitized {
			return next
		}
		sanitized = next
	}
}

func collapseWhitespace(content string) string {
	sanitized := multiSpacePattern.ReplaceAllString(content, " ")
	sanitized = multiNewlinePattern.ReplaceAllString(sanitized, "\n\n")
	return strings.TrimSpace(sanitized)
}

var (
	boldPattern   = regexp.MustCompile(`\*\*(.+?)\*\*`)
	italicPattern = regexp.MustCompile(`\*(.+?)\*`)
)

// FormatForLine normalizes generated text for LINE delivery: CRLF to LF
// and markdown emphasis markers stripped, since LINE renders plain text.
func FormatForLine(content string) string {
	formatted := strings.ReplaceAll(content, "\r\n", "\n")
	formatted = boldPattern.ReplaceAllString(formatted, "$1")
	formatted = italicPattern.ReplaceAllString(formatted, "$1")
	return formatted
}
