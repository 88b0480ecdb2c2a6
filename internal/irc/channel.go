package irc

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ChannelUser is one member of a channel.
type ChannelUser struct {
	mu    sync.RWMutex
	nick  string
	modes []rune
	user  string
	host  string

	// channel is for lookup only; the channel owns its members.
	channel *Channel
}

func newChannelUser(nick string, modes []rune, user, host string, c *Channel) *ChannelUser {
	return &ChannelUser{nick: nick, modes: modes, user: user, host: host, channel: c}
}

func (u *ChannelUser) Nick() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.nick
}

func (u *ChannelUser) User() string { return u.user }

func (u *ChannelUser) Host() string { return u.host }

// Channel returns the channel this member belongs to.
func (u *ChannelUser) Channel() *Channel { return u.channel }

// Modes returns the member's mode letters, e.g. "ov".
func (u *ChannelUser) Modes() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return string(u.modes)
}

func (u *ChannelUser) HasMode(mode rune) bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	for _, m := range u.modes {
		if m == mode {
			return true
		}
	}
	return false
}

func (u *ChannelUser) addMode(mode rune) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, m := range u.modes {
		if m == mode {
			return
		}
	}
	u.modes = append(u.modes, mode)
}

func (u *ChannelUser) removeMode(mode rune) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for i, m := range u.modes {
		if m == mode {
			u.modes = append(u.modes[:i:i], u.modes[i+1:]...)
			return
		}
	}
}

func (u *ChannelUser) setNick(nick string) {
	u.mu.Lock()
	u.nick = nick
	u.mu.Unlock()
}

// Display renders the nick with its highest access symbol, e.g. "@alice".
func (u *ChannelUser) Display() string {
	nick := u.Nick()
	if u.channel == nil || u.channel.session == nil {
		return nick
	}
	mt := u.channel.session.modeTable()
	for _, l := range mt.letters {
		if u.HasMode(l) {
			sym, _ := mt.symbolFor(l)
			return string(sym) + nick
		}
	}
	return nick
}

// Channel models one channel: its live roster, the pending roster being
// rebuilt by WHO, bans, topic and channel modes.
type Channel struct {
	name    string
	session *Session

	mu         sync.RWMutex
	users      []*ChannelUser
	pending    []*ChannelUser
	bans       []string
	topic      string
	modes      map[rune]string
	running    bool
	stop       chan struct{}
	autoRejoin bool
}

func newChannel(name string, s *Session) *Channel {
	return &Channel{name: name, session: s, modes: make(map[rune]string)}
}

func (c *Channel) Name() string { return c.name }

func (c *Channel) Session() *Session { return c.session }

// Users returns a copy of the live roster.
func (c *Channel) Users() []*ChannelUser {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*ChannelUser(nil), c.users...)
}

// User finds a live member by nick.
func (c *Channel) User(nick string) *ChannelUser {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, u := findUser(c.users, nick)
	return u
}

// Names renders the roster with access symbols.
func (c *Channel) Names() []string {
	users := c.Users()
	out := make([]string, len(users))
	for i, u := range users {
		out[i] = u.Display()
	}
	return out
}

func (c *Channel) Bans() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.bans...)
}

func (c *Channel) Topic() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.topic
}

// Modes renders channel-level modes, e.g. "+knt secret".
func (c *Channel) Modes() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return formatModes(c.modes)
}

// Running reports whether we are in the channel and polling its roster.
func (c *Channel) Running() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// SetAutoRejoin makes the channel rejoin after we are kicked.
func (c *Channel) SetAutoRejoin(on bool) {
	c.mu.Lock()
	c.autoRejoin = on
	c.mu.Unlock()
}

func (c *Channel) SendMessage(text string) { c.session.Privmsg(c.name, text) }

func (c *Channel) SendNotice(text string) { c.session.Notice(c.name, text) }

func (c *Channel) SendAction(text string) { c.session.Action(c.name, text) }

// Join sends JOIN and makes sure the roster poller is running.
func (c *Channel) Join() {
	c.session.SendRaw("JOIN " + c.name)
	c.start()
}

// Part leaves the channel and stops its poller.
func (c *Channel) Part(reason string) {
	c.halt()
	if reason == "" {
		c.session.SendRaw("PART " + c.name)
		return
	}
	c.session.send("PART", c.name, reason)
}

func findUser(list []*ChannelUser, nick string) (int, *ChannelUser) {
	for i, u := range list {
		if strings.EqualFold(u.Nick(), nick) {
			return i, u
		}
	}
	return -1, nil
}

// addUser appends u, replacing any member with the same nick.
func (c *Channel) addUser(u *ChannelUser) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i, _ := findUser(c.users, u.Nick()); i >= 0 {
		c.users[i] = u
		return
	}
	c.users = append(c.users, u)
}

func (c *Channel) removeUser(nick string) *ChannelUser {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, u := findUser(c.users, nick)
	if i < 0 {
		return nil
	}
	c.users = append(c.users[:i:i], c.users[i+1:]...)
	return u
}

// renameUser rewrites a member's nick in place. A member already holding
// the new nick is dropped so nicks stay unique.
func (c *Channel) renameUser(oldNick, newNick string) *ChannelUser {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, u := findUser(c.users, oldNick)
	if u == nil {
		return nil
	}
	if j, other := findUser(c.users, newNick); other != nil && other != u {
		c.users = append(c.users[:j:j], c.users[j+1:]...)
	}
	u.setNick(newNick)
	return u
}

func (c *Channel) addPending(u *ChannelUser) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i, _ := findUser(c.pending, u.Nick()); i >= 0 {
		c.pending[i] = u
		return
	}
	c.pending = append(c.pending, u)
}

// swapRoster replaces the live roster with the pending one in a single step.
func (c *Channel) swapRoster() {
	c.mu.Lock()
	c.users = c.pending
	c.pending = nil
	c.mu.Unlock()
}

func (c *Channel) addBan(mask string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range c.bans {
		if b == mask {
			return
		}
	}
	c.bans = append(c.bans, mask)
}

func (c *Channel) removeBan(mask string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, b := range c.bans {
		if b == mask {
			c.bans = append(c.bans[:i:i], c.bans[i+1:]...)
			return
		}
	}
}

func (c *Channel) setTopic(topic string) {
	c.mu.Lock()
	c.topic = topic
	c.mu.Unlock()
}

func (c *Channel) setMode(mc modeChange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if mc.add {
		c.modes[mc.mode] = mc.arg
	} else {
		delete(c.modes, mc.mode)
	}
}

func (c *Channel) memberCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.users)
}

// start marks the channel running and launches its roster poller.
func (c *Channel) start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	stop := make(chan struct{})
	c.stop = stop
	c.mu.Unlock()

	if !c.session.spawn(func() { c.poll(stop) }) {
		c.halt()
	}
}

// halt clears the running flag and wakes the poller so it exits.
func (c *Channel) halt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.running = false
	close(c.stop)
}

// kicked handles our own removal. It reports whether we rejoined.
func (c *Channel) kicked() bool {
	c.halt()
	c.mu.RLock()
	rejoin := c.autoRejoin
	c.mu.RUnlock()
	if rejoin {
		c.Join()
	}
	return rejoin
}

// poll asks for the roster, sleeping briefly while the roster is empty
// and for the long interval once members are known.
func (c *Channel) poll(stop <-chan struct{}) {
	opts := c.session.opts
	timer := time.NewTimer(opts.WhoInterval)
	defer timer.Stop()

	for {
		c.session.SendRaw("WHO " + c.name)

		interval := opts.WhoInterval
		if c.memberCount() == 0 {
			interval = opts.WhoInitialInterval
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(interval)

		select {
		case <-stop:
			c.session.log.Debug("channel poller stopped", zap.String("channel", c.name))
			return
		case <-timer.C:
		}
	}
}
