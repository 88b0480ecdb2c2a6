package irc

// Server numerics the dispatcher recognizes.
const (
	RplWelcome        = "001"
	RplISupport       = "005"
	RplEndOfWho       = "315"
	RplChannelModeIs  = "324"
	RplTopic          = "332"
	RplWhoReply       = "352"
	RplEndOfMOTD      = "376"
	ErrNoMOTD         = "422"
	ErrErroneusNick   = "432"
	ErrNicknameInUse  = "433"
	ErrBannedFromChan = "474"
)

// Assumed until the server advertises otherwise in 005.
const (
	defaultChanTypes = "#&"
	defaultPrefix    = "(ov)@+"
	defaultChanModes = "beI,k,l,imnpst"
)

// WHO reply flags that describe user status rather than channel access.
const whoStatusFlags = "HG*"
