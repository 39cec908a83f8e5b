// Package matcher extracts order-code and invoice-number candidates from
// free-text bank transfer references.
//
// References are typed by humans and mangled by banking software: codes
// get split across lines, dashes turn into spaces, and several references
// can share one field. The matcher builds a single alternation pattern
// from the known prefixes of the owner scope and runs it against two
// normalizations of the reference text, keeping whichever finds more.
package matcher

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Match is one (prefix, code) candidate extracted from a reference
type Match struct {
	Prefix string
	Code   string
}

// ReferencePattern matches order codes and invoice numbers for one
// owner scope. Build it once per import job.
type ReferencePattern struct {
	re *regexp.Regexp
}

// BuildPattern compiles the alternation pattern
// (prefix1|prefix2|...)[\s\-_]*([A-Z0-9]{min,max}).
//
// Prefixes are sorted longest-first. With an event "CONF" and an event
// "CONF2022", the reference "CONF2022-001" must match CONF2022, not CONF
// followed by the code "2022". Literal dashes inside prefixes are relaxed
// to optional dash-or-space runs since banks rewrite them freely.
func BuildPattern(prefixes []string, minLen, maxLen int) (*ReferencePattern, error) {
	if len(prefixes) == 0 {
		return nil, fmt.Errorf("at least one prefix is required")
	}
	if minLen < 1 || maxLen < minLen {
		return nil, fmt.Errorf("invalid code length bounds [%d,%d]", minLen, maxLen)
	}

	escaped := make([]string, 0, len(prefixes))
	seen := make(map[string]bool, len(prefixes))
	for _, p := range prefixes {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		escaped = append(escaped, strings.ReplaceAll(regexp.QuoteMeta(p), "-", `[\- ]*`))
	}
	if len(escaped) == 0 {
		return nil, fmt.Errorf("at least one non-empty prefix is required")
	}

	sort.SliceStable(escaped, func(i, j int) bool {
		return len(escaped[i]) > len(escaped[j])
	})

	re, err := regexp.Compile(fmt.Sprintf(`(%s)[\s\-_]*([A-Z0-9]{%d,%d})`,
		strings.Join(escaped, "|"), minLen, maxLen))
	if err != nil {
		return nil, fmt.Errorf("failed to compile reference pattern: %w", err)
	}

	return &ReferencePattern{re: re}, nil
}

// Extract returns the (prefix, code) candidates found in a reference.
//
// Whitespace in references is unreliable since linebreaks and spaces can
// occur almost anywhere, e.g. DEMOCON-123\n45 should be matched to
// DEMOCON-12345. However, sometimes whitespace is important, e.g. when
// there are two references: "DEMOCON-12345 DEMOCON-45678" would otherwise
// be parsed as "DEMOCON-12345DE" in some conditions. We naively take
// whatever variant has more matches.
//
// The result is de-duplicated preserving first-seen order.
func (p *ReferencePattern) Extract(reference string) []Match {
	upper := strings.ToUpper(reference)

	withWhitespace := p.findAll(strings.ReplaceAll(upper, "\n", " "))
	withoutWhitespace := p.findAll(stripWhitespace(upper))

	matches := withWhitespace
	if len(withoutWhitespace) > len(withWhitespace) {
		matches = withoutWhitespace
	}

	return dedup(matches)
}

func (p *ReferencePattern) findAll(text string) []Match {
	var matches []Match
	for _, m := range p.re.FindAllStringSubmatch(text, -1) {
		matches = append(matches, Match{Prefix: m[1], Code: m[2]})
	}
	return matches
}

func stripWhitespace(s string) string {
	return strings.Join(strings.Fields(s), "")
}

func dedup(matches []Match) []Match {
	if len(matches) < 2 {
		return matches
	}

	seen := make(map[Match]bool, len(matches))
	out := matches[:0]
	for _, m := range matches {
		if seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}
