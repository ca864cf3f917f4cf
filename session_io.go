package trackmilter

import (
	"errors"
	"io"
	"time"
)

func (s *Session) serve() {
	defer s.close()
	for {
		timeout := s.server.ReadTimeout
		if s.letter != nil {
			// body chunks of big messages can take a while to arrive
			timeout = s.server.DataTimeout
		}
		s.conn.SetReadDeadline(time.Now().Add(timeout))
		p, err := readPacket(s.reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.LogDebug("MTA closed connection")
				return
			}
			s.LogError(err, "while reading milter packet")
			return
		}
		s.LogTrace("received: %q with %v bytes of payload", p.command, len(p.payload))
		if !s.handle(p) {
			return
		}
	}
}

// reply sends a single response packet to the MTA
func (s *Session) reply(command byte, payload []byte) {
	s.LogTrace("sending: %q with %v bytes of payload", command, len(payload))
	err := writePacket(s.writer, command, payload)
	if err != nil {
		s.LogError(err, "while writing milter packet")
	}
	s.flush()
}

func (s *Session) flush() {
	s.conn.SetWriteDeadline(time.Now().Add(s.server.WriteTimeout))
	s.writer.Flush()
}

// reject is called when the server is too busy to take one more MTA
// connection, closing the socket makes MTA fall back to its own
// milter_default_action
func (s *Session) reject() {
	s.close()
}

func (s *Session) close() {
	s.LogDebug("Closing milter session...")
	s.resetLetter()
	s.writer.Flush()
	s.conn.Close()
	s.cancel()
}

// resetLetter discards per message accumulator and closes its tracing span
func (s *Session) resetLetter() {
	if s.Span != nil {
		s.Span.End()
		s.Span = nil
	}
	s.letter = nil
}
