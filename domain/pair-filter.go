package domain

import (
	"regexp"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// A rule line that looks like a plain symbol stays literal-only; anything else
// is additionally compiled as a case-insensitive regex.
var plainSymbolRe = regexp.MustCompile(`^[A-Za-z][\w:/-]+$`)

type regexRule struct {
	raw string
	re  *regexp.Regexp
}

// PairFilter decides symbol membership from literal and regex rules. Literal
// matches are case-insensitive O(1) lookups; regex rules live in an LRU list so
// recently used patterns are re-tested first when similar inputs recur.
//
// A filter with no rules accepts everything.
type PairFilter struct {
	mu       sync.Mutex
	literals map[string]struct{}
	regexes  []*regexRule
}

func NewPairFilter() *PairFilter {
	return &PairFilter{
		literals: make(map[string]struct{}),
	}
}

// AddRules parses a rules blob: lines separated by '\r', '\n' or ';'; lines
// starting with '#' or '//' are comments. Every remaining trimmed line becomes
// a literal; lines failing the plain-symbol check also become regex rules.
// Patterns that do not compile are skipped with a warning.
func (f *PairFilter) AddRules(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	lines := strings.FieldsFunc(text, func(r rune) bool {
		return r == '\r' || r == '\n' || r == ';'
	})

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}

		f.literals[strings.ToUpper(line)] = struct{}{}

		if !plainSymbolRe.MatchString(line) {
			re, err := regexp.Compile("(?i)" + line)
			if err != nil {
				logrus.WithField("component", "pair-filter").
					WithField("pattern", line).
					Warnf("skipping rule that is not a valid regex: %s", err)
				continue
			}
			f.regexes = append(f.regexes, &regexRule{raw: line, re: re})
		}
	}
}

// Match reports whether input is tracked. Regex hits promote their rule to the
// head of the list.
func (f *PairFilter) Match(input string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.literals) == 0 {
		return true
	}
	if input == "" {
		return false
	}

	if _, ok := f.literals[strings.ToUpper(input)]; ok {
		return true
	}

	for i, rule := range f.regexes {
		if rule.re.MatchString(input) {
			if i > 0 {
				copy(f.regexes[1:i+1], f.regexes[:i])
				f.regexes[0] = rule
			}
			return true
		}
	}

	return false
}

// Size reports the number of literal rules.
func (f *PairFilter) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.literals)
}

// regexOrder exposes the raw patterns in LRU order, for tests.
func (f *PairFilter) regexOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	order := make([]string, len(f.regexes))
	for i, rule := range f.regexes {
		order[i] = rule.raw
	}
	return order
}
