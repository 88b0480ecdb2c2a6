package mask

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		mask     string
		hostmask string
		want     bool
	}{
		{"*!*@*", "alice!al@host.example.net", true},
		{"*!*@*.example.net", "alice!al@host.example.net", true},
		{"*!*@*.example.net", "alice!al@example.org", false},
		{"alice!*@*", "ALICE!al@somewhere", true},
		{"al?ce!*@*", "alace!x@y", true},
		{"[bot]!*@*", "[bot]!b@h", true},
		{"[bot]!*@*", "b!b@h", false},
		{"*!~ident@*", "nick!~ident@1.2.3.4", true},
	}

	for _, tt := range tests {
		m, err := Parse(tt.mask)
		require.NoError(t, err, tt.mask)
		assert.Equal(t, tt.want, m.Match(tt.hostmask), "%s vs %s", tt.mask, tt.hostmask)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, s := range []string{"", "nick", "nick@host", "!user@host", "nick!@host", "nick!user@"} {
		_, err := Parse(s)
		assert.Error(t, err, s)
	}
	assert.Panics(t, func() { MustParse("bad") })
}

func TestSet(t *testing.T) {
	set, err := ParseSet([]string{"op!*@*", "*!*@trusted.net"})
	require.NoError(t, err)

	assert.True(t, set.Match("op!x@y"))
	assert.True(t, set.Match("anyone!x@trusted.net"))
	assert.False(t, set.Match("anyone!x@y"))
	assert.True(t, set[0].MatchUser("op", "x", "y"))
	assert.Equal(t, "op!*@*", set[0].String())

	_, err = ParseSet([]string{"ok!*@*", "bad"})
	assert.Error(t, err)
}
