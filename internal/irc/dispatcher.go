package irc

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dalnet/ircengine/internal/ctcp"
)

// dispatcher turns lines from one transport into state changes and events.
type dispatcher struct {
	s *Session
	t *transport
}

func (d *dispatcher) run() {
	for line := range d.t.Lines() {
		if d.s.closed() {
			return
		}
		d.handle(line)
	}
}

// handle dispatches one line. Failures are reported as exception events
// and never stop the loop.
func (d *dispatcher) handle(line string) {
	defer func() {
		if r := recover(); r != nil {
			d.s.log.Error("dispatch panicked", zap.String("line", line), zap.Any("panic", r))
			d.s.fire(Event{Kind: KindException, Err: &ParseError{Line: line, Err: fmt.Errorf("panic: %v", r)}})
		}
	}()

	msg, err := parseMessage(line)
	if err != nil {
		if errors.Is(err, errEmptyLine) {
			return
		}
		d.s.fire(Event{Kind: KindException, Err: &ParseError{Line: line, Err: err}})
		return
	}

	d.dispatch(msg)
	d.s.fire(Event{Kind: KindRaw, Raw: msg})
}

func (d *dispatcher) dispatch(m *Message) {
	switch m.Command {
	case "PING":
		d.onPing(m)
	case "PRIVMSG":
		d.onMessage(m, KindPrivateMessage)
	case "NOTICE":
		d.onMessage(m, KindNotice)
	case RplWelcome:
		d.onWelcome(m)
	case RplISupport:
		d.onISupport(m)
	case RplEndOfMOTD, ErrNoMOTD:
		d.s.fire(Event{Kind: KindLifecycle, Lifecycle: Connected})
	case "JOIN":
		d.onJoin(m)
	case "PART":
		d.onPart(m)
	case "KICK":
		d.onKick(m)
	case "QUIT":
		d.onQuit(m)
	case "NICK":
		d.onNick(m)
	case RplChannelModeIs:
		d.onChannelModeIs(m)
	case "MODE":
		d.onMode(m)
	case RplWhoReply:
		d.onWhoReply(m)
	case RplEndOfWho:
		d.onEndOfWho(m)
	case "TOPIC":
		d.onTopic(m.Param(0), m)
	case RplTopic:
		d.onTopic(m.Param(1), m)
	case ErrBannedFromChan:
		d.onBanned(m)
	case ErrNicknameInUse, ErrErroneusNick:
		d.onNickRejected(m)
	case "ERROR":
		d.s.log.Warn("server error", zap.String("message", m.Param(0)))
	}
}

func (d *dispatcher) onPing(m *Message) {
	line, err := formatLine("PONG", m.Params...)
	if err != nil {
		d.s.log.Warn("cannot answer PING", zap.Error(err))
		return
	}
	d.s.SendRaw(line)
}

// onMessage handles PRIVMSG and NOTICE: sender!user@host CMD target :text
func (d *dispatcher) onMessage(m *Message, kind EventKind) {
	if len(m.Params) < 2 {
		return
	}
	nick, user, host := splitSource(m.Source)
	// server notices carry no user@host; private messages must
	if kind == KindPrivateMessage && (user == "" || host == "") {
		return
	}

	sender := &User{Nick: nick, User: user, Host: host, session: d.s}
	pm := &PrivateMessage{Text: m.Params[1], Sender: sender, Target: m.Params[0]}

	if d.s.modeTable().isChannel(pm.Target) {
		c, _ := d.s.channelFor(pm.Target)
		pm.Conversation = c
	} else {
		pm.Conversation = sender
	}

	if req, args, ok := ctcp.Decode(pm.Text); ok {
		pm.CTCP = strings.ToUpper(req)
		if kind == KindPrivateMessage {
			if reply, found := d.s.ctcp.Reply(req, args); found {
				d.s.Notice(nick, ctcp.Encode(req, reply))
			}
		}
	}

	d.s.fire(Event{Kind: kind, Message: pm})
}

func (d *dispatcher) onWelcome(m *Message) {
	if nick := m.Param(0); nick != "" {
		d.s.setNick(nick)
	}
}

// onISupport reads PREFIX, CHANMODES and CHANTYPES from 005 tokens.
func (d *dispatcher) onISupport(m *Message) {
	if len(m.Params) < 3 {
		return
	}
	for _, tok := range m.Params[1 : len(m.Params)-1] {
		key, value, _ := strings.Cut(tok, "=")
		switch key {
		case "PREFIX":
			letters, symbols, ok := parsePrefix(value)
			if !ok {
				d.s.log.Debug("ignoring malformed PREFIX", zap.String("token", tok))
				continue
			}
			d.s.mu.Lock()
			d.s.letters, d.s.symbols = letters, symbols
			d.s.mu.Unlock()
		case "CHANMODES":
			if groups, ok := parseChanModes(value); ok {
				d.s.mu.Lock()
				d.s.chanModes = &groups
				d.s.mu.Unlock()
			}
		case "CHANTYPES":
			if value != "" {
				d.s.mu.Lock()
				d.s.chanTypes = value
				d.s.mu.Unlock()
			}
		}
	}
}

func (d *dispatcher) onJoin(m *Message) {
	nick, user, host := splitSource(m.Source)
	name := m.Param(0)
	if name == "" || user == "" || host == "" {
		return
	}

	c, _ := d.s.channelFor(name)
	if d.s.isSelf(nick) {
		c.start()
	}
	u := newChannelUser(nick, nil, user, host, c)
	c.addUser(u)
	d.s.fire(Event{Kind: KindChannelUser, Channel: c, User: u, UserChange: UserJoined})
}

func (d *dispatcher) onPart(m *Message) {
	nick, user, host := splitSource(m.Source)
	name := m.Param(0)
	if name == "" {
		return
	}

	c, _ := d.s.channelFor(name)
	u := c.User(nick)
	if u == nil {
		u = newChannelUser(nick, nil, user, host, c)
	}
	d.s.fire(Event{Kind: KindChannelUser, Channel: c, User: u, UserChange: UserParted})

	c.removeUser(nick)
	if d.s.isSelf(nick) {
		c.halt()
	}
}

// onKick: source KICK #channel nick :reason
func (d *dispatcher) onKick(m *Message) {
	if len(m.Params) < 2 {
		return
	}
	c := d.s.Channel(m.Params[0])
	if c == nil {
		return
	}
	nick := m.Params[1]

	if u := c.User(nick); u != nil {
		d.s.fire(Event{Kind: KindChannelUser, Channel: c, User: u, UserChange: UserKicked})
	}
	c.removeUser(nick)
	if d.s.isSelf(nick) {
		if c.kicked() {
			d.s.log.Info("kicked, rejoining", zap.String("channel", c.Name()))
		}
	}
}

func (d *dispatcher) onQuit(m *Message) {
	nick := m.Nick()
	for _, c := range d.s.Channels() {
		if u := c.removeUser(nick); u != nil {
			d.s.fire(Event{Kind: KindChannelUser, Channel: c, User: u, UserChange: UserQuit})
		}
	}
}

// onNick renames the member in every channel that has it. Channels are
// updated one at a time.
func (d *dispatcher) onNick(m *Message) {
	oldNick := m.Nick()
	newNick := m.Param(0)
	if oldNick == "" || newNick == "" {
		return
	}
	if d.s.isSelf(oldNick) {
		d.s.setNick(newNick)
	}
	for _, c := range d.s.Channels() {
		if u := c.renameUser(oldNick, newNick); u != nil {
			d.s.fire(Event{Kind: KindChannelUser, Channel: c, User: u, UserChange: UserRenamed, OldNick: oldNick})
		}
	}
}

// onChannelModeIs: server 324 me #channel +modes [args...]
func (d *dispatcher) onChannelModeIs(m *Message) {
	if len(m.Params) < 3 {
		return
	}
	c := d.s.Channel(m.Params[1])
	if c == nil {
		return
	}
	d.applyModes(c, m.Params[2], m.Params[3:], false)
	d.s.fire(Event{Kind: KindChannel, Channel: c, ChannelChange: ChannelModeChanged})
}

// onMode: source MODE #channel modes [args...]. User mode changes on our
// own nick are ignored.
func (d *dispatcher) onMode(m *Message) {
	if len(m.Params) < 2 {
		return
	}
	c := d.s.Channel(m.Params[0])
	if c == nil {
		return
	}
	modes, args := m.Params[1], m.Params[2:]
	if len(args) == 0 {
		d.applyModes(c, modes, nil, false)
		d.s.fire(Event{Kind: KindChannel, Channel: c, ChannelChange: ChannelModeChanged})
		return
	}
	d.applyModes(c, modes, args, true)
}

// applyModes applies each change: bans go to the ban list, access modes to
// the member named by the argument, anything else to the channel modes.
// With perChange set, an event is fired for every applied change.
func (d *dispatcher) applyModes(c *Channel, modes string, args []string, perChange bool) {
	mt := d.s.modeTable()
	for _, mc := range mt.parseModes(modes, args) {
		switch {
		case mc.mode == 'b':
			if !mc.hasArg {
				continue
			}
			if mc.add {
				c.addBan(mc.arg)
			} else {
				c.removeBan(mc.arg)
			}
		case mt.isPrefix(mc.mode):
			u := c.User(mc.arg)
			if u == nil {
				continue
			}
			if mc.add {
				u.addMode(mc.mode)
			} else {
				u.removeMode(mc.mode)
			}
			if perChange {
				d.s.fire(Event{Kind: KindChannelUser, Channel: c, User: u, UserChange: UserModeChanged})
			}
			continue
		default:
			c.setMode(mc)
		}
		if perChange {
			d.s.fire(Event{Kind: KindChannel, Channel: c, ChannelChange: ChannelModeChanged})
		}
	}
}

// onWhoReply: server 352 me #channel user host server nick flags :hops realname
func (d *dispatcher) onWhoReply(m *Message) {
	if len(m.Params) < 7 {
		return
	}
	c := d.s.Channel(m.Params[1])
	if c == nil {
		return
	}
	user, host, nick, flags := m.Params[2], m.Params[3], m.Params[5], m.Params[6]

	mt := d.s.modeTable()
	var modes []rune
	for _, r := range flags {
		if strings.ContainsRune(whoStatusFlags, r) {
			continue
		}
		if letter, ok := mt.letterFor(r); ok {
			modes = append(modes, letter)
		}
	}
	c.addPending(newChannelUser(nick, modes, user, host, c))
}

// onEndOfWho: server 315 me #channel :End of /WHO list.
func (d *dispatcher) onEndOfWho(m *Message) {
	c := d.s.Channel(m.Param(1))
	if c == nil {
		return
	}
	c.swapRoster()
	d.s.fire(Event{Kind: KindChannel, Channel: c, ChannelChange: ChannelRosterRefreshed})
}

func (d *dispatcher) onTopic(name string, m *Message) {
	if name == "" || len(m.Params) < 2 {
		return
	}
	c := d.s.Channel(name)
	if c == nil {
		return
	}
	c.setTopic(m.Params[len(m.Params)-1])
	d.s.fire(Event{Kind: KindChannel, Channel: c, ChannelChange: ChannelTopicChanged})
}

// onNickRejected: server 433 <current> <wanted> :reason. Before
// registration current is "*"; afterwards it is the nick the server still
// knows us by, which undoes the optimistic NICK bookkeeping.
func (d *dispatcher) onNickRejected(m *Message) {
	if cur := m.Param(0); cur != "" && cur != "*" {
		d.s.setNick(cur)
	}
}

// onBanned: server 474 me #channel :Cannot join channel (+b)
func (d *dispatcher) onBanned(m *Message) {
	if !d.s.isSelf(m.Param(0)) {
		return
	}
	if c := d.s.Channel(m.Param(1)); c != nil {
		c.halt()
	}
}
