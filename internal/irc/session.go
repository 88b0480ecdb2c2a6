package irc

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dalnet/ircengine/internal/ctcp"
	"github.com/dalnet/ircengine/internal/eventbus"
)

// Options configures a Session.
type Options struct {
	Host string
	Port int
	// Nick is the nick we expect to hold; NICK commands sent later update it.
	Nick string

	// Dialer opens the stream. When nil a TLS dialer is used if TLSConfig
	// is set, otherwise a plain TCP dialer.
	Dialer    ContextDialer
	TLSConfig *tls.Config

	AutoReconnect bool

	// Version answers CTCP VERSION; CTCPReplies are added on top of the
	// built-in replies and may override them.
	Version     string
	CTCPReplies map[string]string

	WhoInterval        time.Duration
	WhoInitialInterval time.Duration
	FlushInterval      time.Duration
	ReconnectDelay     time.Duration
	QuitGrace          time.Duration
	DialTimeout        time.Duration

	DebugRaw bool
	Logger   *zap.Logger
	Clock    func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Port == 0 {
		o.Port = 6667
	}
	if o.Version == "" {
		o.Version = "ircengine"
	}
	if o.WhoInterval <= 0 {
		o.WhoInterval = 90 * time.Second
	}
	if o.WhoInitialInterval <= 0 {
		o.WhoInitialInterval = 5 * time.Second
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 100 * time.Millisecond
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = time.Second
	}
	if o.QuitGrace <= 0 {
		o.QuitGrace = 100 * time.Millisecond
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

func (o Options) addr() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

func (o Options) dialer() ContextDialer {
	if o.Dialer != nil {
		return o.Dialer
	}
	if o.TLSConfig != nil {
		return &tls.Dialer{Config: o.TLSConfig}
	}
	return &net.Dialer{KeepAlive: time.Minute}
}

// Session is one live connection to a server together with everything
// learned from it: our nick, the channels and their members, and the mode
// table advertised in 005.
type Session struct {
	id   string
	opts Options
	log  *zap.Logger
	ctcp *ctcp.Registry
	bus  *eventbus.Bus[Event]

	mu        sync.RWMutex
	nick      string
	channels  map[string]*Channel
	letters   []rune
	symbols   []rune
	chanModes *[4]string
	chanTypes string

	conn          atomic.Pointer[transport]
	autoReconnect atomic.Bool

	lifeMu   sync.Mutex
	quitting bool
	loops    sync.WaitGroup
	quitOnce sync.Once
	done     chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc

	livenessDone chan struct{}
}

// Dial connects to opts.Host:opts.Port and starts the session loops. A
// failure to open the socket is returned as *ConnectError.
func Dial(ctx context.Context, opts Options) (*Session, error) {
	s := newSession(opts)

	dctx, cancel := context.WithTimeout(ctx, s.opts.DialTimeout)
	defer cancel()
	t, err := dialTransport(dctx, s.opts.dialer(), s.opts.addr(), s.log, s.opts.DebugRaw)
	if err != nil {
		s.shutdown()
		return nil, err
	}

	s.attach(t)
	s.spawn(s.supervise)
	s.log.Info("connected", zap.String("remote", t.RemoteAddr()))
	return s, nil
}

func newSession(opts Options) *Session {
	opts = opts.withDefaults()
	id := uuid.NewString()
	log := opts.Logger.With(zap.String("session", id), zap.String("server", opts.addr()))

	registry := ctcp.NewWithDefaults(opts.Version, opts.Clock)
	for req, resp := range opts.CTCPReplies {
		registry.Add(req, resp)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:           id,
		opts:         opts,
		log:          log,
		ctcp:         registry,
		bus:          eventbus.New[Event](log),
		nick:         opts.Nick,
		channels:     make(map[string]*Channel),
		done:         make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
		livenessDone: make(chan struct{}),
	}
	s.autoReconnect.Store(opts.AutoReconnect)
	s.bus.Start()
	return s
}

// Stopped is closed when the liveness loop exits: after Quit, or after a
// connection failure while auto-reconnect is off.
func (s *Session) Stopped() <-chan struct{} { return s.livenessDone }

// ID identifies the session in logs.
func (s *Session) ID() string { return s.id }

// Addr is the host:port the session dials.
func (s *Session) Addr() string { return s.opts.addr() }

// CTCP returns the reply registry consulted for incoming CTCP requests.
func (s *Session) CTCP() *ctcp.Registry { return s.ctcp }

// AddListener registers l for events fired from now on.
func (s *Session) AddListener(l Listener) {
	s.bus.AddListener(l.HandleEvent)
	s.log.Debug("listener added", zap.Int("listeners", s.bus.Len()))
}

// SetAutoReconnect toggles reconnecting when the liveness check fails.
func (s *Session) SetAutoReconnect(on bool) {
	s.autoReconnect.Store(on)
}

func (s *Session) AutoReconnect() bool {
	return s.autoReconnect.Load()
}

// Connected reports whether the current socket is up.
func (s *Session) Connected() bool {
	t := s.conn.Load()
	return t != nil && t.Connected()
}

// Done is closed once Quit has started tearing the session down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Nick returns our current nick as last seen or requested.
func (s *Session) Nick() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nick
}

func (s *Session) setNick(nick string) {
	s.mu.Lock()
	s.nick = nick
	s.mu.Unlock()
}

func (s *Session) isSelf(nick string) bool {
	return strings.EqualFold(nick, s.Nick())
}

// ModeLetters returns the access mode letters from PREFIX, or nil before
// the server advertised them.
func (s *Session) ModeLetters() []rune {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]rune(nil), s.letters...)
}

// ModeSymbols returns the access symbols parallel to ModeLetters.
func (s *Session) ModeSymbols() []rune {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]rune(nil), s.symbols...)
}

var defaultModes = defaultModeTable()

func (s *Session) modeTable() modeTable {
	mt := defaultModes
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.letters != nil {
		mt.letters, mt.symbols = s.letters, s.symbols
	}
	if s.chanModes != nil {
		mt.chanModes = *s.chanModes
	}
	if s.chanTypes != "" {
		mt.chanTypes = s.chanTypes
	}
	return mt
}

// Channel looks up a channel by name, falling back to a case-insensitive
// match. It returns nil when unknown.
func (s *Session) Channel(name string) *Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookupLocked(name)
}

func (s *Session) lookupLocked(name string) *Channel {
	if c, ok := s.channels[name]; ok {
		return c
	}
	for key, c := range s.channels {
		if strings.EqualFold(key, name) {
			return c
		}
	}
	return nil
}

// channelFor resolves name, creating the channel on first reference.
func (s *Session) channelFor(name string) (*Channel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c := s.lookupLocked(name); c != nil {
		return c, false
	}
	c := newChannel(name, s)
	s.channels[name] = c
	return c, true
}

// Channels returns every known channel.
func (s *Session) Channels() []*Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Channel, 0, len(s.channels))
	for _, c := range s.channels {
		out = append(out, c)
	}
	return out
}

// JoinChannel returns the channel named name, joining it unless it is
// already running.
func (s *Session) JoinChannel(name string) *Channel {
	c, created := s.channelFor(strings.TrimSpace(name))
	if created || !c.Running() {
		c.Join()
	}
	return c
}

// SendRaw queues one raw protocol line. Write failures are logged; the
// liveness loop notices dead sockets.
func (s *Session) SendRaw(line string) {
	trimmed := strings.TrimSpace(line)
	if cmd, rest, _ := strings.Cut(trimmed, " "); strings.EqualFold(cmd, "NICK") {
		if nick := strings.TrimPrefix(strings.TrimSpace(rest), ":"); nick != "" {
			s.setNick(nick)
		}
	}

	t := s.conn.Load()
	if t == nil {
		s.log.Debug("dropping line, no transport", zap.String("line", trimmed))
		return
	}
	if err := t.WriteLine(line); err != nil {
		s.log.Debug("write failed", zap.String("line", trimmed), zap.Error(err))
	}
}

func (s *Session) send(command string, params ...string) {
	line, err := formatLine(command, params...)
	if err != nil {
		s.log.Warn("cannot encode command", zap.String("command", command), zap.Error(err))
		return
	}
	s.SendRaw(line)
}

func (s *Session) Privmsg(target, text string) { s.send("PRIVMSG", target, text) }

func (s *Session) Notice(target, text string) { s.send("NOTICE", target, text) }

// Action sends a CTCP ACTION ("/me").
func (s *Session) Action(target, text string) {
	s.send("PRIVMSG", target, ctcp.Encode("ACTION", text))
}

func (s *Session) SetNick(nick string) { s.send("NICK", nick) }

func (s *Session) fire(e Event) {
	e.Session = s
	s.bus.Fire(e)
}

func (s *Session) closed() bool {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	return s.quitting
}

// spawn runs fn as a session loop unless the session is quitting.
func (s *Session) spawn(fn func()) bool {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.quitting {
		return false
	}
	s.loops.Add(1)
	go func() {
		defer s.loops.Done()
		fn()
	}()
	return true
}

// attach installs t as the current transport and starts a dispatcher for it.
func (s *Session) attach(t *transport) bool {
	d := &dispatcher{s: s, t: t}
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.quitting {
		_ = t.Close()
		return false
	}
	s.conn.Store(t)
	s.loops.Add(1)
	go func() {
		defer s.loops.Done()
		d.run()
	}()
	return true
}

// Quit sends QUIT, stops every loop and closes the socket. Further calls
// do nothing.
func (s *Session) Quit(message string) {
	s.quitOnce.Do(func() {
		s.fire(Event{Kind: KindLifecycle, Lifecycle: Quit})

		s.lifeMu.Lock()
		s.quitting = true
		s.lifeMu.Unlock()

		if t := s.conn.Load(); t != nil && t.Connected() {
			line := "QUIT"
			if message != "" {
				if l, err := formatLine("QUIT", message); err == nil {
					line = l
				}
			}
			if err := t.WriteLine(line); err == nil {
				_ = t.Flush()
			}
		}
		time.Sleep(s.opts.QuitGrace)

		s.shutdown()
		s.log.Info("session closed")
	})
}

func (s *Session) shutdown() {
	s.lifeMu.Lock()
	s.quitting = true
	s.lifeMu.Unlock()

	for _, c := range s.Channels() {
		c.halt()
	}
	close(s.done)
	s.cancel()
	if t := s.conn.Load(); t != nil {
		_ = t.Close()
	}
	s.loops.Wait()
	if t := s.conn.Load(); t != nil {
		_ = t.Close()
	}
	s.bus.Close()
}
