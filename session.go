package trackmilter

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Session used to handle all milter protocol interactions with one MTA
// connection. MTA reuses the same connection for many SMTP transactions,
// per message state lives in the letter accumulator and is reset when
// MAIL FROM arrives or the transaction is aborted.
type Session struct {
	// ID is unique session identificator
	ID string `json:"id"`
	// StartedAt depicts moment when MTA dialed us
	StartedAt time.Time

	// ServerName depicts how our milter server names itself
	ServerName string
	// Addr depicts network address of the MTA speaking to us
	Addr net.Addr
	// ClientHostname is remote SMTP client hostname as MTA reported it via SMFIC_CONNECT
	ClientHostname string
	// ClientAddr is remote SMTP client address as MTA reported it via SMFIC_CONNECT
	ClientAddr string

	// Logger is logging system inherited from server
	Logger Logger
	// Span is per message tracing span, recreated when new message starts
	Span trace.Span

	// letter is per message accumulator, nil until MAIL FROM arrives
	letter *letter

	ctx    context.Context
	cancel context.CancelFunc

	server *Server
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer

	// negotiated means option negotiation with MTA succeeded
	negotiated bool
}

// letter accumulates one in-flight message of the session, it is an owned
// value passed through the packet handlers, never shared between goroutines.
type letter struct {
	// MessageID is freshly minted sortable identifier for this message
	MessageID string
	// MailFrom is envelope sender address without angle brackets
	MailFrom string
	// Headers is ordered raw header block as received, CRLF separated
	Headers bytes.Buffer
	// Body is raw message body as received via SMFIC_BODY chunks
	Body bytes.Buffer
	// ShouldTrack is latched while headers are inspected
	ShouldTrack bool
	// OptInIndex counts opt-in header occurrences, used to strip them
	// from the delivered message
	OptInIndex uint32
	// Oversized is set when body went over Server.MaxMessageSize,
	// such messages are passed through untracked
	Oversized bool
}

// Context returns session context, which is canceled when session is closed
func (s *Session) Context() context.Context {
	if s.ctx == nil {
		return context.TODO()
	}
	return s.ctx
}

// MessageID returns identifier of message being accumulated, empty string
// if no message is in flight
func (s *Session) MessageID() string {
	if s.letter == nil {
		return ""
	}
	return s.letter.MessageID
}
