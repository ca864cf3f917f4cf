package trackmilter

import (
	"encoding/binary"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openpixel/trackmilter/msgid"
)

// handle dispatches one milter packet, returned false means session
// should be closed
func (s *Session) handle(p packet) bool {
	switch p.command {
	case cmdOptNeg:
		return s.handleOptNeg(p)
	case cmdMacro:
		s.handleMacro(p)
	case cmdConnect:
		s.handleConnect(p)
	case cmdHelo:
		s.reply(respContinue, nil)
	case cmdMail:
		s.handleMail(p)
	case cmdRcpt:
		s.reply(respContinue, nil)
	case cmdData:
		s.reply(respContinue, nil)
	case cmdHeader:
		s.handleHeader(p)
	case cmdEOH:
		s.handleEOH(p)
	case cmdBody:
		s.handleBody(p)
	case cmdBodyEOB:
		s.handleEndOfMessage(p)
	case cmdAbort:
		s.LogDebug("MTA aborted message %s", s.MessageID())
		s.resetLetter()
	case cmdQuit:
		s.LogDebug("MTA says goodbye")
		return false
	default:
		// tracking is best effort, unknown packets should not break mail flow
		s.LogDebug("Unsupported milter command received: %q", p.command)
		s.reply(respContinue, nil)
	}
	return true
}

func (s *Session) handleOptNeg(p packet) bool {
	offer, err := decodeOptNeg(p.payload)
	if err != nil {
		s.LogError(err, "while decoding SMFIC_OPTNEG")
		return false
	}
	if offer.version < protocolVersion {
		s.LogWarn("MTA offers milter protocol version %v, we need at least %v", offer.version, protocolVersion)
		return false
	}
	s.LogDebug("MTA offers milter protocol version %v with actions %b", offer.version, offer.actions)
	s.reply(respOptNeg, optNeg{
		version:  protocolVersion,
		actions:  actionAddHeader | actionChangeBody | actionChangeHeader,
		protocol: 0, // we want all events
	}.encode())
	s.negotiated = true
	return true
}

// handleMacro absorbs MTA macros, first payload byte is the command they
// belong to. Macro packets are not replied to.
func (s *Session) handleMacro(p packet) {
	if len(p.payload) < 1 {
		return
	}
	for _, pair := range decodeStrings(p.payload[1:]) {
		s.LogTrace("macro for %q: %s", p.payload[0], pair)
	}
}

func (s *Session) handleConnect(p packet) {
	parts := decodeStrings(p.payload)
	if len(parts) > 0 {
		s.ClientHostname = parts[0]
	}
	// payload after hostname NUL is family byte + uint16 port + address NUL
	if i := indexAfterFirstNul(p.payload); i >= 0 && len(p.payload) > i+3 {
		family := p.payload[i]
		if family == familyInet || family == familyInet6 {
			addr := decodeStrings(p.payload[i+3:])
			if len(addr) > 0 {
				s.ClientAddr = addr[0]
			}
		}
	}
	s.LogDebug("MTA reports SMTP client %s [%s]", s.ClientHostname, s.ClientAddr)
	s.reply(respContinue, nil)
}

func (s *Session) handleMail(p packet) {
	s.resetLetter() // residual state of previous message on this connection
	args := decodeStrings(p.payload)
	if len(args) == 0 {
		s.LogDebug("MAIL FROM packet without sender, treating as null sender")
		args = []string{"<>"}
	}
	id := msgid.New()
	var span trace.Span
	_, span = s.server.Tracer.Start(s.Context(), "message",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	span.SetAttributes(attribute.String("message.id", id))
	span.SetAttributes(attribute.String("from", stripAngles(args[0])))
	s.Span = span
	s.letter = &letter{
		MessageID:   id,
		MailFrom:    stripAngles(args[0]),
		ShouldTrack: !s.server.RequireOptIn,
	}
	s.LogDebug("Message %s from %s started", id, s.letter.MailFrom)
	s.reply(respContinue, nil)
}

func (s *Session) handleHeader(p packet) {
	if s.letter == nil {
		s.LogDebug("header packet without MAIL FROM, ignoring")
		s.reply(respContinue, nil)
		return
	}
	parts := strings.SplitN(string(p.payload), "\x00", 3)
	if len(parts) < 2 {
		s.LogDebug("malformed header packet, ignoring")
		s.reply(respContinue, nil)
		return
	}
	name, value := parts[0], parts[1]
	s.letter.Headers.WriteString(name)
	s.letter.Headers.WriteString(": ")
	s.letter.Headers.WriteString(value)
	s.letter.Headers.WriteString("\r\n")
	if s.server.RequireOptIn && strings.EqualFold(name, s.server.OptInHeader) {
		s.letter.OptInIndex++
		if isAffirmative(value) {
			s.LogDebug("sender requested tracking via %s: %s", name, value)
			s.letter.ShouldTrack = true
		}
	}
	s.reply(respContinue, nil)
}

func (s *Session) handleEOH(_ packet) {
	if s.letter != nil {
		s.LogDebug("headers complete for message %s, tracking=%v",
			s.letter.MessageID, s.letter.ShouldTrack)
		if s.Span != nil {
			s.Span.SetAttributes(attribute.Bool("tracking", s.letter.ShouldTrack))
		}
	}
	s.reply(respContinue, nil)
}

func (s *Session) handleBody(p packet) {
	if s.letter == nil {
		s.reply(respContinue, nil)
		return
	}
	if !s.letter.Oversized {
		s.letter.Body.Write(p.payload)
		if s.letter.Body.Len() > s.server.MaxMessageSize {
			s.LogWarn("message %s is bigger than %v bytes, passing through untracked",
				s.letter.MessageID, s.server.MaxMessageSize)
			s.letter.Oversized = true
			s.letter.Body.Reset()
		}
	}
	s.reply(respContinue, nil)
}

// indexAfterFirstNul returns position right after first NUL byte, -1 if none
func indexAfterFirstNul(payload []byte) int {
	for i := range payload {
		if payload[i] == 0 {
			return i + 1
		}
	}
	return -1
}

// encodeChangeHeader packs SMFIR_CHGHEADER payload, empty value removes
// the header occurrence
func encodeChangeHeader(index uint32, name, value string) []byte {
	out := make([]byte, 4, 4+len(name)+len(value)+2)
	binary.BigEndian.PutUint32(out, index)
	out = append(out, name...)
	out = append(out, 0)
	out = append(out, value...)
	out = append(out, 0)
	return out
}
