// Package ctcp holds the client-to-client query reply table and the
// delimiter framing used to carry CTCP inside message text.
package ctcp

import (
	"strings"
	"sync"
	"time"
)

// Delim marks the start and end of a CTCP payload.
const Delim = "\x01"

// ReplyFunc builds the response for a request; args is whatever followed
// the request token.
type ReplyFunc func(args string) string

type reply struct {
	request string
	fn      ReplyFunc
}

// Registry maps request tokens to responses. Lookups are case-insensitive.
type Registry struct {
	mu      sync.RWMutex
	replies []reply
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{}
}

// NewWithDefaults returns a registry answering VERSION, TIME and PING.
func NewWithDefaults(version string, now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	r := New()
	r.Add("VERSION", version)
	r.AddFunc("TIME", func(string) string {
		return now().Format(time.UnixDate)
	})
	r.AddFunc("PING", func(args string) string {
		return args
	})
	return r
}

// Add registers a fixed response, replacing any entry for the same request.
func (r *Registry) Add(request, response string) {
	r.AddFunc(request, func(string) string { return response })
}

// AddFunc registers a computed response, replacing any entry for the same request.
func (r *Registry) AddFunc(request string, fn ReplyFunc) {
	request = strings.TrimSpace(request)
	if request == "" || fn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.replies {
		if strings.EqualFold(r.replies[i].request, request) {
			r.replies[i].fn = fn
			return
		}
	}
	r.replies = append(r.replies, reply{request: request, fn: fn})
}

// Get returns the response for request with no arguments.
func (r *Registry) Get(request string) (string, bool) {
	return r.Reply(request, "")
}

// Reply returns the response for request. The first matching entry wins.
func (r *Registry) Reply(request, args string) (string, bool) {
	r.mu.RLock()
	var fn ReplyFunc
	for _, rep := range r.replies {
		if strings.EqualFold(rep.request, request) {
			fn = rep.fn
			break
		}
	}
	r.mu.RUnlock()

	if fn == nil {
		return "", false
	}
	return fn(args), true
}

// Requests lists the registered request tokens in insertion order.
func (r *Registry) Requests() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.replies))
	for i, rep := range r.replies {
		out[i] = rep.request
	}
	return out
}

// IsCTCP reports whether message text carries a CTCP payload.
func IsCTCP(text string) bool {
	return strings.HasPrefix(text, Delim)
}

// Decode strips the delimiters and splits the payload into its request
// token and arguments.
func Decode(text string) (request, args string, ok bool) {
	if !IsCTCP(text) {
		return "", "", false
	}
	payload := strings.ReplaceAll(text, Delim, "")
	request, args, _ = strings.Cut(payload, " ")
	if request == "" {
		return "", "", false
	}
	return request, args, true
}

// Encode frames request and args as a CTCP payload.
func Encode(request, args string) string {
	if args == "" {
		return Delim + request + Delim
	}
	return Delim + request + " " + args + Delim
}
