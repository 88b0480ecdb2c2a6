package irc

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// supervise is the liveness loop. It flushes the write buffer on every
// tick; a failed flush means the socket is dead. With auto-reconnect on,
// the transport is replaced and a Disconnected event fired, otherwise the
// loop ends.
func (s *Session) supervise() {
	defer close(s.livenessDone)

	ticker := time.NewTicker(s.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}

		t := s.conn.Load()
		err := t.Flush()
		if err == nil {
			continue
		}
		if s.closed() {
			return
		}
		if !s.autoReconnect.Load() {
			s.log.Warn("connection lost, auto-reconnect disabled", zap.Error(err))
			return
		}

		s.log.Warn("connection lost, reconnecting",
			zap.Error(err),
			zap.Duration("delay", s.opts.ReconnectDelay))
		if err := s.reconnect(t); err != nil {
			s.log.Warn("reconnect failed", zap.Error(err))
		}
	}
}

func (s *Session) reconnect(old *transport) error {
	_ = old.Close()
	select {
	case <-time.After(s.opts.ReconnectDelay):
	case <-s.done:
		return ErrSessionClosed
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.opts.DialTimeout)
	defer cancel()
	t, err := dialTransport(ctx, s.opts.dialer(), s.opts.addr(), s.log, s.opts.DebugRaw)
	if err != nil {
		return err
	}
	if !s.attach(t) {
		return ErrSessionClosed
	}

	s.log.Info("reconnected", zap.String("remote", t.RemoteAddr()))
	s.fire(Event{Kind: KindLifecycle, Lifecycle: Disconnected})
	return nil
}
