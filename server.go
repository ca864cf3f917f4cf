package trackmilter

import (
	"bufio"
	"context"
	"errors"
	"log"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/openpixel/trackmilter/msgid"
	"github.com/openpixel/trackmilter/store"
)

// FooterLookup resolves domain wide footer HTML for envelope sender domain.
// Empty string means no footer is configured for this domain.
type FooterLookup func(ctx context.Context, domain string) (string, error)

// Server defines the parameters for running the milter server which Postfix
// and Sendmail dial for every outgoing SMTP transaction
type Server struct {
	// Hostname is how we name ourselves in logs and disclosure headers, default is "localhost.localdomain"
	Hostname string
	// ReadTimeout is socket timeout for read operations. (default: 60s)
	ReadTimeout time.Duration
	// WriteTimeout is socket timeout for write operations. (default: 60s)
	WriteTimeout time.Duration
	// DataTimeout is socket timeout while we wait for message body chunks (default: 5m)
	DataTimeout time.Duration

	// MaxConnections sets maximum number of concurrent MTA connections, use -1 to disable. (default: 100)
	MaxConnections int
	// MaxMessageSize in bytes, messages bigger than it are passed through untracked. (default: 10240000)
	MaxMessageSize int

	// RequireOptIn makes tracking apply only to messages carrying the OptInHeader
	// with an affirmative value. When false, every message is tracked.
	RequireOptIn bool
	// OptInHeader is name of header senders use to request tracking (default: "X-Track")
	OptInHeader string
	// Disclose enables adding DisclosureHeader to every tracked message
	Disclose bool
	// DisclosureHeader is name of header we add to tracked messages (default: "X-Tracked-By")
	DisclosureHeader string
	// BaseURL is where beacon server is published, message id is appended as query parameter
	BaseURL string
	// FooterLookup, while being not nil, provides per sender domain footer HTML
	// to inject together with the beacon
	FooterLookup FooterLookup

	// Store is where original messages and open events are persisted
	Store *store.Store

	// Logger is interface being used as protocol/rewrite/errors logger
	Logger Logger
	// Tracer is OpenTelemetry tracer used to report per message spans
	Tracer trace.Tracer

	// mu guards doneChan and makes closing it and listener atomic from
	// perspective of Serve()
	mu         sync.Mutex
	doneChan   chan struct{}
	listener   *net.Listener
	waitgrp    sync.WaitGroup
	inShutdown atomic.Bool

	sessionsAll          uint64
	sessionsActive       int32
	lastSessionStartedAt time.Time
}

// startSession takes network connection from the MTA and wraps it into
// Session object to handle all milter protocol interactions on it.
func (srv *Server) startSession(c net.Conn) (s *Session) {
	id, err := msgid.Random()
	if err != nil {
		panic(err) // its extremely unlikely
	}
	ctx, cancel := context.WithCancel(context.Background())
	s = &Session{
		ID:        id,
		StartedAt: time.Now(),

		server:     srv,
		ServerName: srv.Hostname,
		Logger:     srv.Logger,

		conn:   c,
		reader: bufio.NewReader(c),
		writer: bufio.NewWriter(c),
		Addr:   c.RemoteAddr(),

		ctx:    ctx,
		cancel: cancel,
	}
	atomic.AddUint64(&srv.sessionsAll, 1)
	srv.mu.Lock()
	srv.lastSessionStartedAt = s.StartedAt
	srv.mu.Unlock()
	return
}

// ListenAndServe starts the milter server and listens on the address provided,
// addresses in form `unix:/run/trackd/milter.sock` make it listen on unix socket
func (srv *Server) ListenAndServe(addr string) error {
	if srv.inShutdown.Load() {
		return ErrServerClosed
	}
	srv.configureDefaults()
	network := "tcp"
	if after, found := strings.CutPrefix(addr, "unix:"); found {
		network = "unix"
		addr = after
	}
	l, err := net.Listen(network, addr)
	if err != nil {
		return err
	}
	return srv.Serve(l)
}

// Serve starts the milter server and listens on the Listener provided
func (srv *Server) Serve(l net.Listener) error {
	if srv.inShutdown.Load() {
		return ErrServerClosed
	}
	srv.configureDefaults()
	l = &onceCloseListener{Listener: l}
	defer l.Close()
	srv.listener = &l
	var limiter chan struct{}
	if srv.MaxConnections > 0 {
		limiter = make(chan struct{}, srv.MaxConnections)
	}
	for {
		conn, e := l.Accept()
		if e != nil {
			select {
			case <-srv.getDoneChan():
				return ErrServerClosed
			default:
			}
			var ne net.Error
			if errors.As(e, &ne) && ne.Timeout() {
				time.Sleep(time.Second)
				continue
			}
			return e
		}
		session := srv.startSession(conn)
		srv.waitgrp.Add(1)
		go func() {
			defer srv.waitgrp.Done()
			atomic.AddInt32(&srv.sessionsActive, 1)
			defer atomic.AddInt32(&srv.sessionsActive, -1)
			if limiter != nil {
				select {
				case limiter <- struct{}{}:
					session.serve()
					srv.Logger.Infof(session, "milter session serving is finished")
					<-limiter
				default:
					session.reject()
					srv.Logger.Infof(session, "milter session is rejected, server is busy")
				}
			} else {
				session.serve()
				srv.Logger.Infof(session, "milter session serving is finished")
			}
		}()
	}
}

// Shutdown instructs the server to shut down, starting by closing the
// associated listener. If wait is true, it will wait for the shutdown
// to complete. If wait is false, Wait must be called afterwards.
func (srv *Server) Shutdown(wait bool) error {
	var lnerr error
	srv.inShutdown.Store(true)

	// First close the listener
	srv.mu.Lock()
	if srv.listener != nil {
		lnerr = (*srv.listener).Close()
	}
	srv.closeDoneChanLocked()
	srv.mu.Unlock()

	// Now wait for all MTA connections to close
	if wait {
		srv.Wait()
	}

	return lnerr
}

// Wait waits for all MTA connections to close and the server to finish
// shutting down.
func (srv *Server) Wait() error {
	if !srv.inShutdown.Load() {
		return errors.New("server has not been shutdown")
	}
	srv.waitgrp.Wait()
	return nil
}

// Address returns the listening address of the server
func (srv *Server) Address() net.Addr {
	return (*srv.listener).Addr()
}

func (srv *Server) configureDefaults() {
	if srv.MaxMessageSize == 0 {
		srv.MaxMessageSize = 10240000
	}
	if srv.MaxConnections == 0 {
		srv.MaxConnections = 100
	}
	if srv.ReadTimeout == 0 {
		srv.ReadTimeout = time.Second * 60
	}
	if srv.WriteTimeout == 0 {
		srv.WriteTimeout = time.Second * 60
	}
	if srv.DataTimeout == 0 {
		srv.DataTimeout = time.Minute * 5
	}
	if srv.Hostname == "" {
		srv.Hostname = "localhost.localdomain"
	}
	if srv.OptInHeader == "" {
		srv.OptInHeader = "X-Track"
	}
	if srv.DisclosureHeader == "" {
		srv.DisclosureHeader = "X-Tracked-By"
	}
	if srv.Store == nil {
		log.Fatal("Cannot run milter server without message store")
	}
	if srv.Logger == nil {
		srv.Logger = &DefaultLogger{
			Logger: log.Default(),
			Level:  InfoLevel,
		}
	}
	if srv.Tracer == nil {
		srv.Tracer = otel.Tracer("trackmilter")
	}
}

// From net/http/server.go

func (srv *Server) shuttingDown() bool {
	return srv.inShutdown.Load()
}

func (srv *Server) getDoneChan() <-chan struct{} {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.getDoneChanLocked()
}

func (srv *Server) getDoneChanLocked() chan struct{} {
	if srv.doneChan == nil {
		srv.doneChan = make(chan struct{})
	}
	return srv.doneChan
}

func (srv *Server) closeDoneChanLocked() {
	ch := srv.getDoneChanLocked()
	select {
	case <-ch:
		// Already closed. Don't close again.
	default:
		// Safe to close here. We're the only closer, guarded
		// by s.mu.
		close(ch)
	}
}

// onceCloseListener wraps a net.Listener, protecting it from
// multiple Close calls.
type onceCloseListener struct {
	net.Listener
	once     sync.Once
	closeErr error
}

// Close closes
func (oc *onceCloseListener) Close() error {
	oc.once.Do(oc.close)
	return oc.closeErr
}

func (oc *onceCloseListener) close() { oc.closeErr = oc.Listener.Close() }
