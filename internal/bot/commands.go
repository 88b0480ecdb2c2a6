package bot

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/dalnet/ircengine/internal/irc"
)

// onPrivMsg answers !commands sent to us directly. Channel chatter and
// CTCP requests are ignored.
func (b *Bot) onPrivMsg(s *irc.Session, pm *irc.PrivateMessage) {
	if pm.CTCP != "" || pm.Sender == nil {
		return
	}
	// our nick may be mid-change; anything not sent to a channel is for us
	if _, direct := pm.Conversation.(*irc.User); !direct {
		return
	}
	message := strings.TrimSpace(pm.PlainText())
	if !strings.HasPrefix(message, "!") {
		return
	}
	b.handleCommand(s, pm.Sender, message)
}

// handleCommand dispatches one command line. Everything except !help and
// !version needs a sender matching an admin mask.
func (b *Bot) handleCommand(s *irc.Session, from *irc.User, message string) {
	fields := strings.Fields(message)
	cmd := strings.ToLower(fields[0])
	args := fields[1:]
	hostmask := from.Hostmask()
	nick := from.Nick

	switch cmd {
	case "!help":
		b.logCommand(hostmask, message)
		b.cmdHelp(s, nick, b.isAdmin(hostmask))
		return
	case "!version":
		b.logCommand(hostmask, message)
		b.cmdVersion(s, nick)
		return
	case "!channels", "!users", "!topic", "!join", "!part", "!nick", "!reconnect", "!shutdown":
	default:
		return
	}

	if !b.isAdmin(hostmask) {
		s.Privmsg(nick, "Sorry, only my admins can issue that command")
		b.log.Warn("refused command", zap.String("hostmask", hostmask), zap.String("command", message))
		return
	}
	b.logCommand(hostmask, message)

	switch cmd {
	case "!channels":
		b.cmdChannels(s, nick)
	case "!users":
		b.cmdUsers(s, nick, args)
	case "!topic":
		b.cmdTopic(s, nick, args)
	case "!join":
		b.cmdJoin(s, nick, args)
	case "!part":
		b.cmdPart(s, nick, args)
	case "!nick":
		b.cmdNick(s, nick, args)
	case "!reconnect":
		b.cmdReconnect(s, nick, args)
	case "!shutdown":
		b.cmdShutdown(s, nick)
	}
}

func (b *Bot) cmdHelp(s *irc.Session, nick string, admin bool) {
	s.Privmsg(nick, "Available commands:")
	s.Privmsg(nick, "!help - this list")
	s.Privmsg(nick, "!version - displays bot version information")
	s.Privmsg(nick, "CTCP replies: "+strings.Join(s.CTCP().Requests(), ", "))

	if admin {
		s.Privmsg(nick, " ")
		s.Privmsg(nick, "Admin commands:")
		s.Privmsg(nick, "!channels - channels I know about")
		s.Privmsg(nick, "!users <#channel> - members of a channel")
		s.Privmsg(nick, "!topic <#channel> - topic and modes of a channel")
		s.Privmsg(nick, "!join <#channel>")
		s.Privmsg(nick, "!part <#channel> [reason]")
		s.Privmsg(nick, "!nick <newnick> - if you need to change my nick")
		s.Privmsg(nick, "!reconnect [on|off] - show or set auto-reconnect")
		s.Privmsg(nick, "!shutdown")
	}
}

func (b *Bot) cmdVersion(s *irc.Session, nick string) {
	s.Privmsg(nick, fmt.Sprintf("ircengine version %s", Version))
	s.Privmsg(nick, fmt.Sprintf("Built: %s", BuildDate))
	s.Privmsg(nick, fmt.Sprintf("Commit: %s", GitCommit))
}

func (b *Bot) cmdChannels(s *irc.Session, nick string) {
	channels := s.Channels()
	if len(channels) == 0 {
		s.Privmsg(nick, "I'm not in any channels")
		return
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i].Name() < channels[j].Name() })

	for _, c := range channels {
		state := "parted"
		if c.Running() {
			state = "joined"
		}
		s.Privmsg(nick, fmt.Sprintf("%s (%s, %d users)", c.Name(), state, len(c.Users())))
	}
}

// channelArg resolves the channel named by the first argument, replying
// with usage or an error when it can't.
func (b *Bot) channelArg(s *irc.Session, nick, usage string, args []string) *irc.Channel {
	if len(args) == 0 {
		s.Privmsg(nick, "Usage: "+usage)
		return nil
	}
	c := s.Channel(args[0])
	if c == nil {
		s.Privmsg(nick, fmt.Sprintf("I don't know %s", args[0]))
	}
	return c
}

func (b *Bot) cmdUsers(s *irc.Session, nick string, args []string) {
	c := b.channelArg(s, nick, "!users <#channel>", args)
	if c == nil {
		return
	}
	names := c.Names()
	if len(names) == 0 {
		s.Privmsg(nick, fmt.Sprintf("No users known in %s yet", c.Name()))
		return
	}
	sort.Strings(names)
	s.Privmsg(nick, fmt.Sprintf("%s (%d): %s", c.Name(), len(names), strings.Join(names, " ")))
}

func (b *Bot) cmdTopic(s *irc.Session, nick string, args []string) {
	c := b.channelArg(s, nick, "!topic <#channel>", args)
	if c == nil {
		return
	}
	topic := c.Topic()
	if topic == "" {
		topic = "(no topic)"
	}
	s.Privmsg(nick, fmt.Sprintf("%s: %s", c.Name(), topic))
	if modes := c.Modes(); modes != "" {
		s.Privmsg(nick, fmt.Sprintf("Modes: %s", modes))
	}
}

func (b *Bot) cmdJoin(s *irc.Session, nick string, args []string) {
	if len(args) == 0 {
		s.Privmsg(nick, "Usage: !join <#channel>")
		return
	}
	c := b.join(s, args[0])
	s.Privmsg(nick, fmt.Sprintf("Joining %s", c.Name()))
}

func (b *Bot) cmdPart(s *irc.Session, nick string, args []string) {
	c := b.channelArg(s, nick, "!part <#channel> [reason]", args)
	if c == nil {
		return
	}
	c.Part(strings.Join(args[1:], " "))
	s.Privmsg(nick, fmt.Sprintf("Left %s", c.Name()))
}

func (b *Bot) cmdNick(s *irc.Session, nick string, args []string) {
	if len(args) == 0 {
		s.Privmsg(nick, "Usage: !nick <newnick>")
		return
	}
	s.SetNick(args[0])
	s.Privmsg(nick, fmt.Sprintf("Changing nick to %s", args[0]))
}

func (b *Bot) cmdReconnect(s *irc.Session, nick string, args []string) {
	if len(args) > 0 {
		switch strings.ToLower(args[0]) {
		case "on":
			s.SetAutoReconnect(true)
		case "off":
			s.SetAutoReconnect(false)
		default:
			s.Privmsg(nick, "Usage: !reconnect [on|off]")
			return
		}
	}
	state := "off"
	if s.AutoReconnect() {
		state = "on"
	}
	s.Privmsg(nick, "Auto-reconnect is "+state)
}

func (b *Bot) cmdShutdown(s *irc.Session, nick string) {
	s.Privmsg(nick, "Shutting down")
	if b.OnShutdown != nil {
		b.OnShutdown()
	}
}

func (b *Bot) logCommand(hostmask, command string) {
	b.log.Info("command", zap.String("hostmask", hostmask), zap.String("command", command))
}
