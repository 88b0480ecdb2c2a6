package bot

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dalnet/ircengine/internal/config"
)

const waitTimeout = 3 * time.Second

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type serverConn struct {
	conn  net.Conn
	lines chan string
}

func (sc *serverConn) send(t *testing.T, line string) {
	t.Helper()
	_, err := fmt.Fprintf(sc.conn, "%s\r\n", line)
	require.NoError(t, err)
}

func (sc *serverConn) expect(t *testing.T, want string) {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case line, ok := <-sc.lines:
			if !ok {
				t.Fatalf("connection closed while waiting for %q", want)
			}
			if line == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

type testServer struct {
	ln    net.Listener
	conns chan *serverConn
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ts := &testServer{ln: ln, conns: make(chan *serverConn, 4)}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			sc := &serverConn{conn: c, lines: make(chan string, 1024)}
			go func() {
				defer close(sc.lines)
				scanner := bufio.NewScanner(c)
				for scanner.Scan() {
					sc.lines <- strings.TrimRight(scanner.Text(), "\r")
				}
			}()
			ts.conns <- sc
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return ts
}

func (ts *testServer) accept(t *testing.T) *serverConn {
	t.Helper()
	select {
	case sc := <-ts.conns:
		t.Cleanup(func() { sc.conn.Close() })
		return sc
	case <-time.After(waitTimeout):
		t.Fatal("bot never connected")
		return nil
	}
}

func testConfig(port int) *config.Config {
	return &config.Config{
		Nick:      "me",
		Alternate: "me_",
		Server:    "127.0.0.1",
		Port:      port,
		Username:  "ircengine",
		IRCName:   "Engine Bot",
		Channels:  []string{"#a", "#b"},
		Admins:    []string{"*!*@admin.example"},
		Timing: config.Timing{
			WhoInterval:        time.Hour,
			WhoInitialInterval: time.Hour,
			FlushInterval:      5 * time.Millisecond,
			ReconnectDelay:     10 * time.Millisecond,
			QuitGrace:          5 * time.Millisecond,
			DialTimeout:        time.Second,
		},
	}
}

type running struct {
	b      *Bot
	ts     *testServer
	sc     *serverConn
	cancel context.CancelFunc
	errc   chan error
}

func startBot(t *testing.T, tweak func(*config.Config), setup ...func(*Bot)) *running {
	t.Helper()
	ts := newTestServer(t)
	cfg := testConfig(ts.ln.Addr().(*net.TCPAddr).Port)
	if tweak != nil {
		tweak(cfg)
	}
	b, err := New(cfg, nil)
	require.NoError(t, err)
	for _, fn := range setup {
		fn(b)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- b.Run(ctx) }()

	r := &running{b: b, ts: ts, cancel: cancel, errc: errc}
	t.Cleanup(func() {
		cancel()
		select {
		case <-errc:
		case <-time.After(waitTimeout):
			t.Error("Run did not return")
		}
	})
	r.sc = ts.accept(t)
	r.sc.expect(t, "NICK me")
	return r
}

func TestNewRejectsBadAdminMask(t *testing.T) {
	cfg := testConfig(6667)
	cfg.Admins = []string{"not-a-mask"}
	_, err := New(cfg, nil)
	assert.Error(t, err)

	cfg = testConfig(6667)
	cfg.Nick = ""
	_, err = New(cfg, nil)
	assert.Error(t, err)
}

func TestRegistersIdentifiesAndJoins(t *testing.T) {
	ts := newTestServer(t)
	cfg := testConfig(ts.ln.Addr().(*net.TCPAddr).Port)
	cfg.ServerPass = "serverpw"
	cfg.NickPass = "secret"
	b, err := New(cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- b.Run(ctx) }()
	sc := ts.accept(t)

	sc.expect(t, "PASS serverpw")
	sc.expect(t, "NICK me")
	sc.expect(t, "USER ircengine 0 * :Engine Bot")

	sc.send(t, ":irc.test 001 me :Welcome")
	sc.send(t, ":irc.test 376 me :End of /MOTD command.")
	sc.expect(t, "PRIVMSG NickServ :IDENTIFY me secret")
	sc.expect(t, "JOIN #a")
	sc.expect(t, "JOIN #b")

	cancel()
	sc.expect(t, "QUIT :Shutting down")
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNickInUseSwitchesToAlternate(t *testing.T) {
	r := startBot(t, nil)

	r.sc.send(t, ":irc.test 433 * me :Nickname is already in use")
	r.sc.expect(t, "NICK me_")
	assert.Equal(t, "me_", r.b.Session().Nick())

	// the alternate is taken too: nothing left to try
	r.sc.send(t, ":irc.test 433 * me_ :Nickname is already in use")
	r.sc.send(t, "PING :sync")
	r.sc.expect(t, "PONG sync")
	assert.Equal(t, "me_", r.b.Session().Nick())
}

func TestCommandsRequireAdmin(t *testing.T) {
	r := startBot(t, nil)

	r.sc.send(t, ":alice!a@elsewhere PRIVMSG me :!join #evil")
	r.sc.expect(t, "PRIVMSG alice :Sorry, only my admins can issue that command")

	r.sc.send(t, ":alice!a@elsewhere PRIVMSG me :!version")
	r.sc.expect(t, "PRIVMSG alice :ircengine version dev")

	// channel messages are not commands
	r.sc.send(t, ":boss!b@admin.example PRIVMSG #a :!join #nope")
	r.sc.send(t, ":boss!b@admin.example PRIVMSG me :!join #new")
	r.sc.expect(t, "JOIN #new")
	r.sc.expect(t, "PRIVMSG boss :Joining #new")
	assert.Nil(t, r.b.Session().Channel("#nope"))
	assert.Nil(t, r.b.Session().Channel("#evil"))
}

func TestAdminCommands(t *testing.T) {
	shutdown := make(chan struct{})
	r := startBot(t, nil, func(b *Bot) {
		b.OnShutdown = func() { close(shutdown) }
	})

	say := func(text string) {
		r.sc.send(t, ":boss!b@admin.example PRIVMSG me :"+text)
	}

	say("!join #new")
	r.sc.expect(t, "JOIN #new")
	r.sc.send(t, ":bob!b@h JOIN #new")
	r.sc.send(t, ":irc.test 332 me #new :hello world")

	say("!users #new")
	r.sc.expect(t, "PRIVMSG boss :#new (1): bob")

	say("!topic #new")
	r.sc.expect(t, "PRIVMSG boss :#new: hello world")

	say("!channels")
	r.sc.expect(t, "PRIVMSG boss :#new (joined, 1 users)")

	say("!users #unknown")
	r.sc.expect(t, "PRIVMSG boss :I don't know #unknown")

	say("!reconnect on")
	r.sc.expect(t, "PRIVMSG boss :Auto-reconnect is on")
	assert.True(t, r.b.Session().AutoReconnect())

	say("!part #new going away")
	r.sc.expect(t, "PART #new :going away")
	assert.False(t, r.b.Session().Channel("#new").Running())

	say("!nick other")
	r.sc.expect(t, "NICK other")

	say("!shutdown")
	r.sc.expect(t, "PRIVMSG boss :Shutting down")
	select {
	case <-shutdown:
	case <-time.After(waitTimeout):
		t.Fatal("OnShutdown not called")
	}
}

func TestRunReturnsWhenConnectionLost(t *testing.T) {
	r := startBot(t, nil)

	r.sc.conn.Close()
	select {
	case err := <-r.errc:
		assert.ErrorIs(t, err, ErrConnectionLost)
		r.errc <- err
	case <-time.After(waitTimeout):
		t.Fatal("Run kept going after the connection died")
	}
}

func TestRegistersAgainAfterReconnect(t *testing.T) {
	r := startBot(t, func(c *config.Config) { c.Reconnect = true })
	r.sc.send(t, ":irc.test 376 me :End of /MOTD command.")
	r.sc.expect(t, "JOIN #a")

	r.sc.conn.Close()
	second := r.ts.accept(t)
	second.expect(t, "NICK me")
	second.expect(t, "USER ircengine 0 * :Engine Bot")

	second.send(t, ":irc.test 422 me :MOTD File is missing")
	second.expect(t, "JOIN #a")
	second.expect(t, "JOIN #b")
	assert.Len(t, r.b.Session().Channels(), 2)
}

func TestReloadUpdatesAdminsAndCTCP(t *testing.T) {
	r := startBot(t, nil)

	cfg := testConfig(6667)
	cfg.Admins = []string{"alice!*@*"}
	cfg.CTCP = map[string]string{"FINGER": "no fingers here"}
	cfg.Reconnect = true
	require.NoError(t, r.b.Reload(cfg))

	got, ok := r.b.Session().CTCP().Get("finger")
	assert.True(t, ok)
	assert.Equal(t, "no fingers here", got)
	assert.True(t, r.b.Session().AutoReconnect())

	r.sc.send(t, ":alice!a@elsewhere PRIVMSG me :!reconnect")
	r.sc.expect(t, "PRIVMSG alice :Auto-reconnect is on")

	bad := testConfig(6667)
	bad.Admins = []string{"broken"}
	assert.Error(t, r.b.Reload(bad))
	assert.True(t, r.b.isAdmin("alice!a@elsewhere"))
}

func TestRejectedNickChangeKeepsCommandsWorking(t *testing.T) {
	r := startBot(t, nil)
	r.sc.send(t, ":irc.test 001 me :Welcome")

	r.sc.send(t, ":boss!b@admin.example PRIVMSG me :!nick taken")
	r.sc.expect(t, "NICK taken")
	r.sc.send(t, ":irc.test 433 me taken :Nickname is already in use")

	// still addressed by the nick the server kept
	r.sc.send(t, ":alice!a@elsewhere PRIVMSG me :!help")
	r.sc.expect(t, "PRIVMSG alice :Available commands:")
	r.sc.expect(t, "PRIVMSG alice :CTCP replies: VERSION, TIME, PING")
	// the 433 was handled before the help request, so a fallback to the
	// alternate would already show here
	assert.Equal(t, "me", r.b.Session().Nick())
}
