package irc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ergochat/irc-go/ircfmt"
	"github.com/ergochat/irc-go/ircmsg"
)

// Message is the parsed view of one inbound line.
type Message struct {
	Raw     string
	Source  string // nick!user@host or server name
	Command string
	Params  []string
}

// ParseError wraps a failure to interpret one inbound line.
type ParseError struct {
	Line string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("irc: parsing error on %q: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

var errEmptyLine = errors.New("irc: empty line")

func parseMessage(line string) (*Message, error) {
	if strings.TrimSpace(line) == "" {
		return nil, errEmptyLine
	}
	m, err := ircmsg.ParseLine(line)
	if err != nil {
		return nil, err
	}
	return &Message{
		Raw:     line,
		Source:  m.Source,
		Command: strings.ToUpper(m.Command),
		Params:  m.Params,
	}, nil
}

// Target is the first parameter, usually the channel or nick addressed.
func (m *Message) Target() string {
	return m.Param(0)
}

// Trailing is the last parameter of a command that has more than one.
func (m *Message) Trailing() string {
	if len(m.Params) < 2 {
		return ""
	}
	return m.Params[len(m.Params)-1]
}

// Param returns the i-th parameter or "" when absent.
func (m *Message) Param(i int) string {
	if i < 0 || i >= len(m.Params) {
		return ""
	}
	return m.Params[i]
}

// Nick returns the nick portion of the source.
func (m *Message) Nick() string {
	nick, _, _ := splitSource(m.Source)
	return nick
}

// splitSource breaks nick!user@host apart. Server sources come back as the
// nick with empty user and host.
func splitSource(source string) (nick, user, host string) {
	nuh, err := ircmsg.ParseNUH(source)
	if err != nil {
		return source, "", ""
	}
	return nuh.Name, nuh.User, nuh.Host
}

func formatLine(command string, params ...string) (string, error) {
	m := ircmsg.MakeMessage(nil, "", command, params...)
	return m.Line()
}

// Conversation is something messages can be sent to: a channel or a user.
type Conversation interface {
	Name() string
	SendMessage(text string)
	SendNotice(text string)
}

// User is a user-scope conversation synthesized from a message sender.
type User struct {
	Nick string
	User string
	Host string

	session *Session
}

func (u *User) Name() string { return u.Nick }

// Hostmask returns nick!user@host.
func (u *User) Hostmask() string {
	return u.Nick + "!" + u.User + "@" + u.Host
}

func (u *User) SendMessage(text string) { u.session.Privmsg(u.Nick, text) }

func (u *User) SendNotice(text string) { u.session.Notice(u.Nick, text) }

// PrivateMessage is a PRIVMSG or NOTICE addressed to a channel or to us.
type PrivateMessage struct {
	Text   string
	Sender *User
	Target string
	// Conversation is the channel for channel targets, otherwise the sender.
	Conversation Conversation
	// CTCP holds the request token when Text carried a CTCP payload.
	CTCP string
}

// PlainText returns Text with formatting codes removed.
func (p *PrivateMessage) PlainText() string {
	return ircfmt.Strip(p.Text)
}
