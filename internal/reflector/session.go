package reflector

import (
	"time"

	"github.com/roach88/island/internal/protocol"
)

// Clock supplies wall time. Session time is derived from it.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// session is the reflector's view of one replicated session.
// All fields are guarded by Hub.mu.
type session struct {
	id      string
	clients []*Client // join order

	seq  uint64
	time int64 // last issued time; never decreases

	// Virtual time runs while at least one client is live:
	// now = base + (wall clock - wall).
	running bool
	base    int64
	wall    time.Time

	lastTick    int64
	lastSnapReq int64

	// log holds reflected messages after the latest checkpoint, for SYNC
	// backlogs.
	log  []protocol.RecvArgs
	snap *protocol.SnapArgs

	// waiting maps a joining client id to the id of the client asked to
	// serve it a snapshot.
	waiting map[string]string
}

func newSession(id string) *session {
	return &session{id: id, waiting: make(map[string]string)}
}

// now returns the current session time.
func (s *session) now(c Clock) int64 {
	if s.running {
		if t := s.base + c.Now().Sub(s.wall).Milliseconds(); t > s.time {
			s.time = t
		}
	}
	return s.time
}

// resume starts the session clock at no earlier than at.
func (s *session) resume(c Clock, at int64) {
	if s.running {
		return
	}
	s.time = max(s.time, at)
	s.base = s.time
	s.wall = c.Now()
	s.running = true
}

// pause freezes session time.
func (s *session) pause(c Clock) {
	s.now(c)
	s.running = false
}

func (s *session) client(id string) *Client {
	for _, c := range s.clients {
		if c.id == id {
			return c
		}
	}
	return nil
}

// server picks the longest-connected live client, skipping except.
func (s *session) server(except *Client) *Client {
	for _, c := range s.clients {
		if c.live && c != except {
			return c
		}
	}
	return nil
}

func (s *session) remove(c *Client) {
	for n, o := range s.clients {
		if o == c {
			s.clients = append(s.clients[:n], s.clients[n+1:]...)
			return
		}
	}
}

// backlog returns logged messages with seq > after. ok is false when the
// log no longer reaches back that far.
func (s *session) backlog(after uint64) ([]protocol.RecvArgs, bool) {
	if len(s.log) > 0 && s.log[0].Seq > after+1 {
		return nil, false
	}
	if len(s.log) == 0 && s.seq > after {
		return nil, false
	}
	var out []protocol.RecvArgs
	for _, r := range s.log {
		if r.Seq > after {
			out = append(out, r)
		}
	}
	return out, true
}

// checkpoint records a snapshot and trims the log to what follows it.
func (s *session) checkpoint(snap protocol.SnapArgs) {
	if s.snap != nil && (snap.Time < s.snap.Time || snap.Seq < s.snap.Seq) {
		return
	}
	s.snap = &snap
	n := 0
	for n < len(s.log) && s.log[n].Seq <= snap.Seq {
		n++
	}
	s.log = append([]protocol.RecvArgs(nil), s.log[n:]...)
}

func (s *session) liveCount() int {
	n := 0
	for _, c := range s.clients {
		if c.live {
			n++
		}
	}
	return n
}
