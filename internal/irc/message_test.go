package irc

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessageRoundTrip(t *testing.T) {
	lines := []string{
		":alice!al@host.example PRIVMSG #chan :hello there",
		":bob!~b@1.2.3.4 NOTICE me :psst: colons: inside",
		":c!c@c PRIVMSG me ::leading colon",
		":d!d@d.e.f PRIVMSG #x :",
	}

	for _, line := range lines {
		m, err := parseMessage(line)
		require.NoError(t, err, line)

		source := line[1:strings.IndexByte(line, ' ')]
		rest := line[len(source)+2:]
		_, rest, _ = strings.Cut(rest, " ")
		target, text, _ := strings.Cut(rest, " :")

		assert.Equal(t, source, m.Source, line)
		assert.Equal(t, target, m.Target(), line)
		assert.Equal(t, text, m.Trailing(), line)
		assert.Equal(t, line, m.Raw)

		nick, user, host := splitSource(m.Source)
		assert.Equal(t, source, nick+"!"+user+"@"+host, line)
	}
}

func TestParseMessageCommandAndParams(t *testing.T) {
	m, err := parseMessage(":irc.example.net 352 me #chan u h s nick H@ :0 Real Name")
	require.NoError(t, err)
	assert.Equal(t, "352", m.Command)
	assert.Equal(t, "me", m.Target())
	assert.Equal(t, "nick", m.Param(5))
	assert.Equal(t, "", m.Param(42))
	assert.Equal(t, "0 Real Name", m.Trailing())
	assert.Equal(t, "irc.example.net", m.Nick())

	m, err = parseMessage("ping :token")
	require.NoError(t, err)
	assert.Equal(t, "PING", m.Command)
	assert.Equal(t, "", m.Trailing())
}

func TestParseMessageErrors(t *testing.T) {
	_, err := parseMessage("   ")
	assert.True(t, errors.Is(err, errEmptyLine))

	_, err = parseMessage(":only.a.source")
	assert.Error(t, err)

	perr := &ParseError{Line: "x", Err: err}
	assert.ErrorIs(t, perr, err)
	assert.Contains(t, perr.Error(), `"x"`)
}

func TestPlainText(t *testing.T) {
	pm := &PrivateMessage{Text: "\x02bold\x02 and \x0304red\x03"}
	assert.Equal(t, "bold and red", pm.PlainText())
}
