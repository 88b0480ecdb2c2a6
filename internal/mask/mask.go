// Package mask matches nick!user@host sender masks with * and ? globs.
package mask

import (
	"fmt"
	"regexp"
	"strings"
)

// Mask is a compiled nick!user@host glob.
type Mask struct {
	raw string
	re  *regexp.Regexp
}

// Parse compiles a mask such as "*!*@*.example.net". Matching ignores case.
func Parse(s string) (*Mask, error) {
	s = strings.TrimSpace(s)
	bang := strings.IndexByte(s, '!')
	at := strings.LastIndexByte(s, '@')
	if bang <= 0 || at <= bang+1 || at == len(s)-1 {
		return nil, fmt.Errorf("mask %q doesn't match nick!user@host", s)
	}

	var b strings.Builder
	b.WriteString("(?i)^")
	for _, r := range s {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("mask %q: %w", s, err)
	}
	return &Mask{raw: s, re: re}, nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) *Mask {
	m, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return m
}

// String returns the mask as written.
func (m *Mask) String() string {
	return m.raw
}

// Match reports whether the sender hostmask matches.
func (m *Mask) Match(hostmask string) bool {
	return m.re.MatchString(hostmask)
}

// MatchUser matches the three parts of a sender.
func (m *Mask) MatchUser(nick, user, host string) bool {
	return m.Match(nick + "!" + user + "@" + host)
}

// Set is a list of masks; a sender is accepted if any mask matches.
type Set []*Mask

// ParseSet compiles every mask, failing on the first invalid one.
func ParseSet(masks []string) (Set, error) {
	set := make(Set, 0, len(masks))
	for _, s := range masks {
		m, err := Parse(s)
		if err != nil {
			return nil, err
		}
		set = append(set, m)
	}
	return set, nil
}

// Match reports whether any mask in the set matches hostmask.
func (s Set) Match(hostmask string) bool {
	for _, m := range s {
		if m.Match(hostmask) {
			return true
		}
	}
	return false
}
