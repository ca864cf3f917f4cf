package trackmilter

import (
	"sync/atomic"
	"time"
)

// SessionsCount returns number of MTA sessions accepted since server started
func (srv *Server) SessionsCount() uint64 {
	return atomic.LoadUint64(&srv.sessionsAll)
}

// ActiveSessions returns number of MTA sessions being served right now
func (srv *Server) ActiveSessions() int32 {
	return atomic.LoadInt32(&srv.sessionsActive)
}

// LastSessionStartedAt returns moment the most recent MTA session started,
// zero time if none was accepted yet
func (srv *Server) LastSessionStartedAt() time.Time {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.lastSessionStartedAt
}
