// Package bot is the application layer on top of an irc.Session: it
// registers with the server, joins the configured channels, recovers after
// reconnects and answers operator commands.
package bot

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/dalnet/ircengine/internal/config"
	"github.com/dalnet/ircengine/internal/irc"
	"github.com/dalnet/ircengine/internal/mask"
)

// Version information (set at build time or here)
var (
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// ErrConnectionLost is returned by Run when the connection died and
// auto-reconnect was off.
var ErrConnectionLost = errors.New("bot: connection lost")

// Bot drives one session from a Config.
type Bot struct {
	log *zap.Logger

	mu      sync.RWMutex
	cfg     *config.Config
	admins  mask.Set
	session *irc.Session

	// Shutdown callback, invoked from !shutdown
	OnShutdown func()
}

// New validates cfg and compiles its admin masks.
func New(cfg *config.Config, log *zap.Logger) (*Bot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	admins, err := mask.ParseSet(cfg.Admins)
	if err != nil {
		return nil, fmt.Errorf("config: admins: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Bot{log: log.Named("bot"), cfg: cfg, admins: admins}, nil
}

// VersionString is the CTCP VERSION reply.
func VersionString() string {
	return fmt.Sprintf("ircengine %s (built %s, commit %s)", Version, BuildDate, GitCommit)
}

func (b *Bot) config() *config.Config {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg
}

// Session returns the live session, or nil before Run connects.
func (b *Bot) Session() *irc.Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.session
}

func (b *Bot) isAdmin(hostmask string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.admins.Match(hostmask)
}

func (b *Bot) options() irc.Options {
	cfg := b.config()
	opts := irc.Options{
		Host:               cfg.Server,
		Port:               cfg.Port,
		Nick:               cfg.Nick,
		AutoReconnect:      cfg.Reconnect,
		Version:            VersionString(),
		CTCPReplies:        cfg.CTCP,
		WhoInterval:        cfg.Timing.WhoInterval,
		WhoInitialInterval: cfg.Timing.WhoInitialInterval,
		FlushInterval:      cfg.Timing.FlushInterval,
		ReconnectDelay:     cfg.Timing.ReconnectDelay,
		QuitGrace:          cfg.Timing.QuitGrace,
		DialTimeout:        cfg.Timing.DialTimeout,
		DebugRaw:           cfg.DebugRaw,
		Logger:             b.log.Named("irc"),
	}
	if cfg.UseTLS {
		opts.TLSConfig = &tls.Config{
			ServerName:         cfg.Server,
			InsecureSkipVerify: cfg.TLSInsecure,
		}
	}
	return opts
}

// Run connects and blocks until ctx is cancelled or the connection is lost
// for good. Cancelling ctx sends QUIT.
func (b *Bot) Run(ctx context.Context) error {
	cfg := b.config()
	b.log.Info("connecting", zap.String("server", cfg.Addr()), zap.Bool("tls", cfg.UseTLS))

	s, err := irc.Dial(ctx, b.options())
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.session = s
	b.mu.Unlock()

	s.AddListener(&irc.Handlers{
		Raw:            b.onRaw,
		PrivateMessage: b.onPrivMsg,
		Lifecycle:      b.onLifecycle,
		Exception:      b.onException,
	})
	b.register(s)

	select {
	case <-ctx.Done():
		s.Quit("Shutting down")
		return nil
	case <-s.Stopped():
		s.Quit("")
		if ctx.Err() != nil {
			return nil
		}
		return ErrConnectionLost
	}
}

// register identifies the connection. It runs after the first dial and
// again after every reconnect.
func (b *Bot) register(s *irc.Session) {
	cfg := b.config()
	if cfg.ServerPass != "" {
		s.SendRaw("PASS " + cfg.ServerPass)
	}
	s.SetNick(cfg.Nick)
	s.SendRaw(fmt.Sprintf("USER %s 0 * :%s", cfg.Username, cfg.IRCName))
}

func (b *Bot) onLifecycle(s *irc.Session, l irc.Lifecycle) {
	switch l {
	case irc.Connected:
		b.onConnect(s)
	case irc.Disconnected:
		b.log.Info("reconnected, registering again")
		b.register(s)
	case irc.Quit:
		b.log.Info("quitting")
	}
}

func (b *Bot) onConnect(s *irc.Session) {
	b.log.Info("connected to IRC server", zap.String("nick", s.Nick()))
	cfg := b.config()

	// Identify to NickServ
	if cfg.NickPass != "" {
		s.Privmsg("NickServ", fmt.Sprintf("IDENTIFY %s %s", cfg.Nick, cfg.NickPass))
	}

	for _, name := range cfg.Channels {
		if name == "" {
			continue
		}
		b.join(s, name)
	}
}

// join enters name, rejoining channels we were in before a reconnect.
func (b *Bot) join(s *irc.Session, name string) *irc.Channel {
	c := s.Channel(name)
	if c == nil {
		c = s.JoinChannel(name)
	} else {
		c.Join()
	}
	c.SetAutoRejoin(b.config().AutoRejoin)
	return c
}

func (b *Bot) onRaw(s *irc.Session, m *irc.Message) {
	switch m.Command {
	case irc.ErrNicknameInUse, irc.ErrErroneusNick:
		b.onNickRejected(s, m)
	}
}

func (b *Bot) onNickRejected(s *irc.Session, m *irc.Message) {
	// registered: the server kept our old nick, so there is nothing to recover
	if cur := m.Param(0); cur != "" && cur != "*" {
		b.log.Warn("nick change rejected",
			zap.String("nick", cur),
			zap.String("wanted", m.Param(1)),
			zap.String("reply", m.Trailing()))
		return
	}

	alt := b.config().Alternate
	if alt == "" || strings.EqualFold(s.Nick(), alt) {
		b.log.Error("nick rejected and no alternate left", zap.String("nick", s.Nick()), zap.String("reply", m.Trailing()))
		return
	}
	b.log.Warn("nick rejected, switching to alternate",
		zap.String("nick", s.Nick()),
		zap.String("alternate", alt),
		zap.String("numeric", m.Command))
	s.SetNick(alt)
}

func (b *Bot) onException(s *irc.Session, err error) {
	b.log.Warn("session error", zap.Error(err))
}

// Reload applies a freshly loaded config: admin masks, CTCP overrides and
// the auto-reconnect flag take effect immediately. Connection settings are
// used on the next Run.
func (b *Bot) Reload(cfg *config.Config) error {
	admins, err := mask.ParseSet(cfg.Admins)
	if err != nil {
		return fmt.Errorf("config: admins: %w", err)
	}

	b.mu.Lock()
	b.cfg = cfg
	b.admins = admins
	s := b.session
	b.mu.Unlock()

	if s != nil {
		for req, resp := range cfg.CTCP {
			s.CTCP().Add(req, resp)
		}
		s.SetAutoReconnect(cfg.Reconnect)
	}
	b.log.Info("configuration reloaded", zap.Int("admins", len(admins)), zap.Int("ctcp", len(cfg.CTCP)))
	return nil
}
