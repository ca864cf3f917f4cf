package trackmilter

import (
	"fmt"
	"net"
	"testing"
)

// TestLogger routes server logs into test output
type TestLogger struct {
	Suite *testing.T
}

func (tl *TestLogger) Tracef(session *Session, format string, args ...any) {
	tl.Suite.Logf("TRACE: [%s] %s %s\n",
		tl.Suite.Name(), session.ID, fmt.Sprintf(format, args...))
}

func (tl *TestLogger) Debugf(session *Session, format string, args ...any) {
	tl.Suite.Logf("DEBUG: [%s] %s %s\n",
		tl.Suite.Name(), session.ID, fmt.Sprintf(format, args...))
}

func (tl *TestLogger) Infof(session *Session, format string, args ...any) {
	tl.Suite.Logf("INFO: [%s] %s %s\n",
		tl.Suite.Name(), session.ID, fmt.Sprintf(format, args...))
}

func (tl *TestLogger) Warnf(session *Session, format string, args ...any) {
	tl.Suite.Logf("WARN: [%s] %s %s\n",
		tl.Suite.Name(), session.ID, fmt.Sprintf(format, args...))
}

func (tl *TestLogger) Errorf(session *Session, format string, args ...any) {
	tl.Suite.Logf("ERROR: [%s] %s %s\n",
		tl.Suite.Name(), session.ID, fmt.Sprintf(format, args...))
}

func (tl *TestLogger) Fatalf(session *Session, format string, args ...any) {
	tl.Suite.Logf("FATAL: [%s] %s %s\n",
		tl.Suite.Name(), session.ID, fmt.Sprintf(format, args...))
	tl.Suite.Errorf(format, args...)
}

// RunTestServer starts milter server on a random local port, returning its
// address and a closer
func RunTestServer(t *testing.T, server *Server) (addr string, closer func()) {
	logger := TestLogger{Suite: t}
	server.Logger = &logger
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	go func() {
		server.Serve(ln)
	}()
	done := make(chan bool)
	go func() {
		<-done
		ln.Close()
	}()
	return ln.Addr().String(), func() {
		done <- true
	}
}
