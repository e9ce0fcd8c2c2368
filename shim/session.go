package shim

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

// DefaultSessionName is used when the session.name ini setting is empty.
const DefaultSessionName = "PHPSESSID"

var ErrSessionHeadersSent = errors.New("session cannot be started after headers have already been sent")

// Session is an in-memory session seeded from the parent. Nothing is
// persisted beyond the life of the child; the parent gets the final state
// back in the trailer.
type Session struct {
	name      string
	id        string
	seed      map[string]any
	data      map[string]any
	started   bool
	destroyed bool
}

func newSession(name string, seed map[string]any) *Session {
	if name == "" {
		name = DefaultSessionName
	}
	return &Session{name: name, seed: seed}
}

func (s *Session) Name() string { return s.name }

func (s *Session) ID() string { return s.id }

func (s *Session) Started() bool { return s.started }

// SessionStart starts the session on first call: it picks an id (the
// incoming cookie if there is one), emits the session cookie and loads the
// seed data. Later calls return the live data unchanged.
func (rt *Runtime) SessionStart() (map[string]any, error) {
	s := rt.session
	if s.started {
		return s.data, nil
	}
	if rt.headers.Sent() {
		rt.log.Warnw("Session cannot be started after headers have already been sent")
		return nil, ErrSessionHeadersSent
	}

	if id := rt.Cookie[s.name]; id != "" {
		s.id = id
	} else if s.id == "" {
		s.id = newSessionID()
	}

	if err := rt.headers.Header("Set-Cookie: "+s.name+"="+s.id+"; path=/", false, 0); err != nil {
		return nil, err
	}

	s.data = make(map[string]any, len(s.seed))
	if !s.destroyed {
		for k, v := range s.seed {
			s.data[k] = v
		}
	}
	s.started = true
	return s.data, nil
}

// Session returns the live session data, or nil before SessionStart.
func (rt *Runtime) Session() map[string]any {
	if !rt.session.started {
		return nil
	}
	return rt.session.data
}

// SessionID returns the current session id, empty before SessionStart.
func (rt *Runtime) SessionID() string {
	return rt.session.id
}

// SessionDestroy discards all session data.
func (rt *Runtime) SessionDestroy() {
	s := rt.session
	s.data = map[string]any{}
	s.started = false
	s.destroyed = true
}

// snapshot is the session state reported in the trailer. A session that
// was never started hands the seed back unchanged.
func (s *Session) snapshot() map[string]any {
	src := s.seed
	if s.started || s.destroyed {
		src = s.data
	}
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func newSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
