package irc

import (
	"sort"
	"strings"
)

// modeTable is a snapshot of what the server told us about modes in 005.
type modeTable struct {
	letters   []rune
	symbols   []rune
	chanModes [4]string
	chanTypes string
}

func defaultModeTable() modeTable {
	letters, symbols, _ := parsePrefix(defaultPrefix)
	mt := modeTable{letters: letters, symbols: symbols, chanTypes: defaultChanTypes}
	mt.chanModes, _ = parseChanModes(defaultChanModes)
	return mt
}

// parsePrefix splits a PREFIX value such as "(ov)@+" on its parenthesis
// boundary. It fails unless both halves have the same length.
func parsePrefix(value string) (letters, symbols []rune, ok bool) {
	if !strings.HasPrefix(value, "(") {
		return nil, nil, false
	}
	l, s, found := strings.Cut(value[1:], ")")
	if !found {
		return nil, nil, false
	}
	letters, symbols = []rune(l), []rune(s)
	if len(letters) != len(symbols) {
		return nil, nil, false
	}
	return letters, symbols, true
}

// parseChanModes splits CHANMODES=A,B,C,D. Extra groups are ignored.
func parseChanModes(value string) ([4]string, bool) {
	var out [4]string
	groups := strings.Split(value, ",")
	if len(groups) < 4 {
		return out, false
	}
	copy(out[:], groups[:4])
	return out, true
}

func (mt modeTable) isPrefix(mode rune) bool {
	for _, l := range mt.letters {
		if l == mode {
			return true
		}
	}
	return false
}

// letterFor maps an access symbol such as '@' to its mode letter.
func (mt modeTable) letterFor(symbol rune) (rune, bool) {
	for i, s := range mt.symbols {
		if s == symbol {
			return mt.letters[i], true
		}
	}
	return 0, false
}

// symbolFor maps a mode letter such as 'o' to its access symbol.
func (mt modeTable) symbolFor(letter rune) (rune, bool) {
	for i, l := range mt.letters {
		if l == letter {
			return mt.symbols[i], true
		}
	}
	return 0, false
}

func (mt modeTable) isChannel(name string) bool {
	return name != "" && strings.ContainsRune(mt.chanTypes, rune(name[0]))
}

func (mt modeTable) takesArg(mode rune, add bool) bool {
	if mt.isPrefix(mode) {
		return true
	}
	switch {
	case strings.ContainsRune(mt.chanModes[0], mode), strings.ContainsRune(mt.chanModes[1], mode):
		return true
	case strings.ContainsRune(mt.chanModes[2], mode):
		return add
	}
	return false
}

type modeChange struct {
	add    bool
	mode   rune
	arg    string
	hasArg bool
}

// parseModes walks a mode string like "+ov-b" where each sign applies to the
// letters after it. Argument-taking letters consume args in order; a letter
// whose argument is missing is dropped.
func (mt modeTable) parseModes(modes string, args []string) []modeChange {
	add := true
	var out []modeChange
	for _, r := range modes {
		switch r {
		case '+':
			add = true
			continue
		case '-':
			add = false
			continue
		}

		mc := modeChange{add: add, mode: r}
		if mt.takesArg(r, add) {
			if len(args) == 0 {
				continue
			}
			mc.arg, mc.hasArg = args[0], true
			args = args[1:]
		}
		out = append(out, mc)
	}
	return out
}

// formatModes renders a channel mode map as "+klnt key 10".
func formatModes(modes map[rune]string) string {
	if len(modes) == 0 {
		return ""
	}
	letters := make([]rune, 0, len(modes))
	for r := range modes {
		letters = append(letters, r)
	}
	sort.Slice(letters, func(i, j int) bool { return letters[i] < letters[j] })

	var b strings.Builder
	var args []string
	b.WriteByte('+')
	for _, r := range letters {
		b.WriteRune(r)
		if modes[r] != "" {
			args = append(args, modes[r])
		}
	}
	if len(args) > 0 {
		b.WriteByte(' ')
		b.WriteString(strings.Join(args, " "))
	}
	return b.String()
}
