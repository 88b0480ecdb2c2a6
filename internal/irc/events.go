package irc

// EventKind tags which fields of an Event are meaningful.
type EventKind int

const (
	KindRaw EventKind = iota
	KindPrivateMessage
	KindNotice
	KindChannel
	KindChannelUser
	KindLifecycle
	KindException
)

func (k EventKind) String() string {
	switch k {
	case KindRaw:
		return "raw"
	case KindPrivateMessage:
		return "privmsg"
	case KindNotice:
		return "notice"
	case KindChannel:
		return "channel"
	case KindChannelUser:
		return "channel-user"
	case KindLifecycle:
		return "lifecycle"
	case KindException:
		return "exception"
	}
	return "unknown"
}

// ChannelChange describes a channel-scoped state change.
type ChannelChange int

const (
	ChannelModeChanged ChannelChange = iota + 1
	ChannelTopicChanged
	ChannelRosterRefreshed
)

// UserChange describes what happened to a member of a channel.
type UserChange int

const (
	UserJoined UserChange = iota + 1
	UserParted
	UserKicked
	UserModeChanged
	UserRenamed
	UserQuit
)

func (c UserChange) String() string {
	switch c {
	case UserJoined:
		return "joined"
	case UserParted:
		return "parted"
	case UserKicked:
		return "kicked"
	case UserModeChanged:
		return "mode-changed"
	case UserRenamed:
		return "renamed"
	case UserQuit:
		return "quit"
	}
	return "unknown"
}

// Lifecycle is a session-level transition.
type Lifecycle int

const (
	Connected Lifecycle = iota + 1
	Disconnected
	Quit
)

func (l Lifecycle) String() string {
	switch l {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Quit:
		return "quit"
	}
	return "unknown"
}

// Event is delivered to listeners. Kind selects the populated fields:
//
//	KindRaw             Raw
//	KindPrivateMessage  Message
//	KindNotice          Message
//	KindChannel         Channel, ChannelChange
//	KindChannelUser     Channel, User, UserChange (OldNick for renames)
//	KindLifecycle       Lifecycle
//	KindException       Err
type Event struct {
	Kind    EventKind
	Session *Session

	Raw     *Message
	Message *PrivateMessage

	Channel       *Channel
	ChannelChange ChannelChange

	User       *ChannelUser
	UserChange UserChange
	OldNick    string

	Lifecycle Lifecycle
	Err       error
}

// Listener receives every event fired on a session.
type Listener interface {
	HandleEvent(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

func (f ListenerFunc) HandleEvent(e Event) { f(e) }

// Handlers routes events by kind to whichever callbacks are set.
type Handlers struct {
	Raw            func(*Session, *Message)
	PrivateMessage func(*Session, *PrivateMessage)
	Notice         func(*Session, *PrivateMessage)
	Channel        func(*Session, *Channel, ChannelChange)
	// ChannelUser gets the old nick for renames, "" otherwise.
	ChannelUser    func(*Session, *Channel, *ChannelUser, UserChange, string)
	Lifecycle      func(*Session, Lifecycle)
	Exception      func(*Session, error)
}

func (h *Handlers) HandleEvent(e Event) {
	switch e.Kind {
	case KindRaw:
		if h.Raw != nil {
			h.Raw(e.Session, e.Raw)
		}
	case KindPrivateMessage:
		if h.PrivateMessage != nil {
			h.PrivateMessage(e.Session, e.Message)
		}
	case KindNotice:
		if h.Notice != nil {
			h.Notice(e.Session, e.Message)
		}
	case KindChannel:
		if h.Channel != nil {
			h.Channel(e.Session, e.Channel, e.ChannelChange)
		}
	case KindChannelUser:
		if h.ChannelUser != nil {
			h.ChannelUser(e.Session, e.Channel, e.User, e.UserChange, e.OldNick)
		}
	case KindLifecycle:
		if h.Lifecycle != nil {
			h.Lifecycle(e.Session, e.Lifecycle)
		}
	case KindException:
		if h.Exception != nil {
			h.Exception(e.Session, e.Err)
		}
	}
}
