package irc

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isLifecycle(l Lifecycle) func(Event) bool {
	return func(e Event) bool {
		return e.Kind == KindLifecycle && e.Lifecycle == l
	}
}

func TestDialFailureIsConnectError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	opts := testOptions()
	opts.Port = port
	_, err = Dial(context.Background(), opts)
	require.Error(t, err)

	var cerr *ConnectError
	require.True(t, errors.As(err, &cerr))
	assert.Contains(t, cerr.Addr, "127.0.0.1:")
}

func TestReconnectOnDeadConnection(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.AutoReconnect = true })
	first := h.fc

	first.conn.Close()
	second := h.fs.accept(t)

	h.waitEvent(isLifecycle(Disconnected))
	assert.Eventually(t, h.s.Connected, waitTimeout, 5*time.Millisecond)

	// the new transport has a fresh dispatcher
	second.send(t, "PING :again")
	second.expect(t, "PONG again")

	// exactly one disconnected event for one failure
	deadline := time.After(150 * time.Millisecond)
	for {
		select {
		case e := <-h.col.ch:
			assert.False(t, isLifecycle(Disconnected)(e), "unexpected second disconnected event")
		case <-deadline:
			return
		}
	}
}

func TestNoReconnectWhenDisabled(t *testing.T) {
	h := newHarness(t, nil)
	assert.False(t, h.s.AutoReconnect())

	h.fc.conn.Close()

	select {
	case <-h.s.Stopped():
	case <-time.After(waitTimeout):
		t.Fatal("liveness loop kept running")
	}
	assert.False(t, h.s.Connected())

	select {
	case <-h.fs.conns:
		t.Fatal("unexpected reconnection")
	case e := <-h.col.ch:
		assert.False(t, isLifecycle(Disconnected)(e), "unexpected disconnected event")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBlockedListenerDoesNotStallDispatch(t *testing.T) {
	h := newHarness(t, nil)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	h.s.AddListener(ListenerFunc(func(Event) { <-release }))

	for i := 0; i < 50; i++ {
		h.fc.send(t, ":alice!al@host PRIVMSG me :spam")
	}
	h.fc.send(t, "PING :through")
	h.fc.expect(t, "PONG through")
}

func TestQuitSequence(t *testing.T) {
	h := newHarness(t, nil)
	c := h.joined("#chan")

	h.s.Quit("see you")
	h.fc.expect(t, "QUIT :see you")
	h.waitEvent(isLifecycle(Quit))

	assert.False(t, c.Running())
	assert.False(t, h.s.Connected())
	select {
	case <-h.s.Done():
	default:
		t.Fatal("Done not closed after Quit")
	}

	// idempotent, and sends after quit are dropped quietly
	h.s.Quit("again")
	h.s.Privmsg("#chan", "late")
}

func TestPollerRequestsRoster(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.WhoInitialInterval = 10 * time.Millisecond
	})
	c := h.joined("#chan")

	// empty roster: fast polling
	whos := 0
	for _, l := range h.fc.drain(150 * time.Millisecond) {
		if l == "WHO #chan" {
			whos++
		}
	}
	assert.GreaterOrEqual(t, whos, 3)

	c.Part("bye")
	h.fc.expect(t, "PART #chan bye")
	assert.False(t, c.Running())

	// let an in-flight WHO land, then expect silence
	h.fc.drain(30 * time.Millisecond)
	for _, l := range h.fc.drain(100 * time.Millisecond) {
		assert.False(t, strings.HasPrefix(l, "WHO"), "poller still running: %q", l)
	}
}

func TestPollerSlowsDownOnceMembersKnown(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.WhoInitialInterval = 10 * time.Millisecond
	})
	h.joined("#chan", "alice")

	// the next WHO finds a member and switches to the hour-long interval
	h.fc.drain(50 * time.Millisecond)
	for _, l := range h.fc.drain(100 * time.Millisecond) {
		assert.NotEqual(t, "WHO #chan", l)
	}
}

func TestJoinChannelReusesRunningChannel(t *testing.T) {
	h := newHarness(t, nil)
	c := h.joined("#chan")

	again := h.s.JoinChannel("#chan")
	assert.Same(t, c, again)
	for _, l := range h.fc.drain(50 * time.Millisecond) {
		assert.NotEqual(t, "JOIN #chan", l)
	}

	c.Part("")
	h.fc.expect(t, "PART #chan")
	assert.Same(t, c, h.s.JoinChannel("#chan"))
	h.fc.expect(t, "JOIN #chan")
	assert.True(t, c.Running())
	assert.Len(t, h.s.Channels(), 1)
}

func TestOutboundHelpers(t *testing.T) {
	h := newHarness(t, nil)

	h.s.Privmsg("#chan", "hello world")
	h.fc.expect(t, "PRIVMSG #chan :hello world")
	h.s.Notice("bob", "hi")
	h.fc.expect(t, "NOTICE bob hi")
	h.s.Action("#chan", "waves")
	h.fc.expect(t, "PRIVMSG #chan :\x01ACTION waves\x01")

	h.s.SetNick("other")
	h.fc.expect(t, "NICK other")
	assert.Equal(t, "other", h.s.Nick())

	h.s.SendRaw("NICK :rawnick")
	h.fc.expect(t, "NICK :rawnick")
	assert.Equal(t, "rawnick", h.s.Nick())
}

func TestReconnectClosesOldSocketBeforeBackoff(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.AutoReconnect = true
		o.ReconnectDelay = time.Second
	})

	// half-close: the client sees EOF, its socket stays open until it closes it
	require.NoError(t, h.fc.conn.(*net.TCPConn).CloseWrite())

	deadline := time.After(500 * time.Millisecond)
	for {
		select {
		case _, ok := <-h.fc.lines:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("old socket still open during the reconnect delay")
		}
	}
}

func TestHandlersRouteByKind(t *testing.T) {
	h := newHarness(t, nil)
	h.joined("#chan", "alice")

	type rename struct {
		channel, nick, old string
		change             UserChange
	}
	renames := make(chan rename, 4)
	lifecycle := make(chan Lifecycle, 4)
	h.s.AddListener(&Handlers{
		ChannelUser: func(s *Session, c *Channel, u *ChannelUser, change UserChange, oldNick string) {
			renames <- rename{channel: c.Name(), nick: u.Nick(), old: oldNick, change: change}
		},
		Lifecycle: func(s *Session, l Lifecycle) { lifecycle <- l },
	})

	h.feed(":alice!al@host.example NICK alicia")
	select {
	case r := <-renames:
		assert.Equal(t, rename{channel: "#chan", nick: "alicia", old: "alice", change: UserRenamed}, r)
	case <-time.After(waitTimeout):
		t.Fatal("no channel-user callback")
	}

	h.feed(":irc.example.net 422 me :MOTD File is missing")
	select {
	case l := <-lifecycle:
		assert.Equal(t, Connected, l)
	case <-time.After(waitTimeout):
		t.Fatal("no lifecycle callback")
	}
}
