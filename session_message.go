package trackmilter

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/openpixel/trackmilter/metrics"
	"github.com/openpixel/trackmilter/rewrite"
)

// VerdictKind tells the MTA what to do with the message
type VerdictKind uint8

const (
	// VerdictContinue means deliver the message unmodified
	VerdictContinue VerdictKind = iota
	// VerdictReplaceBody means deliver with replaced body and possibly
	// changed headers
	VerdictReplaceBody
	// VerdictReject refuses the message. Tracking itself never rejects,
	// the kind exists for completeness of the protocol adapter.
	VerdictReject
)

// Header is a header to add or replace on the delivered message
type Header struct {
	Name  string
	Value string
}

// Verdict is outcome of end-of-message processing, computed by judge()
// without touching the network, then translated into milter actions
// by sendVerdict()
type Verdict struct {
	Kind       VerdictKind
	Body       []byte
	AddHeaders []Header
	SetHeaders []Header
	// StripOptIn is how many opt-in header occurrences to remove from
	// the delivered message
	StripOptIn uint32
}

func (s *Session) handleEndOfMessage(_ packet) {
	if s.letter == nil {
		s.reply(respContinue, nil)
		return
	}
	verdict := s.judge()
	s.sendVerdict(verdict)
	s.resetLetter()
}

// judge decides the fate of accumulated message. The overriding contract is
// "never reject or corrupt a message because tracking failed", so every
// failure path collapses into VerdictContinue.
func (s *Session) judge() (verdict Verdict) {
	l := s.letter
	if l.Oversized {
		s.LogInfo("message %s from %s is oversized, passing through", l.MessageID, l.MailFrom)
		return Verdict{Kind: VerdictContinue}
	}
	if !l.ShouldTrack {
		s.LogInfo("message %s from %s is not tracked, passing through", l.MessageID, l.MailFrom)
		// the record is still kept, reporting counts untracked mail too
		err := s.server.Store.Create(l.MessageID, l.MailFrom, l.Headers.Bytes(), l.Body.Bytes(), false)
		if err != nil {
			s.LogError(err, "while persisting message "+l.MessageID)
			metrics.StoreFailures.Inc()
		}
		return Verdict{Kind: VerdictContinue}
	}
	err := s.server.Store.Create(l.MessageID, l.MailFrom, l.Headers.Bytes(), l.Body.Bytes(), true)
	if err != nil {
		s.LogError(err, "while persisting message "+l.MessageID)
		metrics.StoreFailures.Inc()
		if s.Span != nil {
			s.Span.RecordError(err)
			s.Span.SetStatus(codes.Error, "message store failed")
		}
		// no record means no beacon to correlate with, deliver as is
		return Verdict{Kind: VerdictContinue}
	}
	var disclosure []Header
	if s.server.Disclose {
		disclosure = []Header{{
			Name:  s.server.DisclosureHeader,
			Value: s.server.Hostname,
		}}
	}
	var footer string
	if s.server.FooterLookup != nil {
		footer, err = s.server.FooterLookup(s.Context(), domainOf(l.MailFrom))
		if err != nil {
			s.LogWarn("%s : while fetching footer for domain %s", err, domainOf(l.MailFrom))
			footer = ""
		}
	}
	res := rewrite.Message(l.Headers.Bytes(), l.Body.Bytes(), l.MessageID, rewrite.Options{
		BaseURL:    s.server.BaseURL,
		FooterHTML: footer,
	})
	metrics.RewritesTotal.WithLabelValues(res.Mode.String()).Inc()
	if s.Span != nil {
		s.Span.SetAttributes(attribute.String("rewrite.mode", res.Mode.String()))
	}
	if !res.Changed {
		// tracked but nothing to rewrite, the message is still disclosed
		// and its consumed opt-in headers still removed
		s.LogInfo("message %s from %s has nothing to rewrite, passing through", l.MessageID, l.MailFrom)
		return Verdict{
			Kind:       VerdictContinue,
			AddHeaders: disclosure,
			StripOptIn: l.OptInIndex,
		}
	}
	verdict = Verdict{
		Kind:       VerdictReplaceBody,
		Body:       res.Body,
		AddHeaders: disclosure,
		StripOptIn: l.OptInIndex,
	}
	for _, h := range res.Headers {
		verdict.SetHeaders = append(verdict.SetHeaders, Header{Name: h.Name, Value: h.Value})
	}
	s.LogInfo("message %s from %s is tracked, body rewritten to %v bytes",
		l.MessageID, l.MailFrom, len(res.Body))
	return verdict
}

// sendVerdict translates Verdict into milter modification actions followed
// by the final response. MTA does not reply to modification packets.
func (s *Session) sendVerdict(verdict Verdict) {
	if verdict.Kind == VerdictReject {
		s.reply(respReject, nil)
		return
	}
	for _, h := range verdict.AddHeaders {
		s.LogTrace("adding header %s: %s", h.Name, h.Value)
		s.reply(respAddHeader, encodeStrings(h.Name, h.Value))
	}
	for _, h := range verdict.SetHeaders {
		s.LogTrace("replacing header %s: %s", h.Name, h.Value)
		s.reply(respChangeHeader, encodeChangeHeader(1, h.Name, h.Value))
	}
	// MTA renumbers remaining occurrences after every delete, so the
	// first occurrence is deleted as many times as there were headers
	for i := uint32(0); i < verdict.StripOptIn; i++ {
		s.LogTrace("removing opt-in header %s", s.server.OptInHeader)
		s.reply(respChangeHeader, encodeChangeHeader(1, s.server.OptInHeader, ""))
	}
	if verdict.Kind == VerdictReplaceBody {
		body := verdict.Body
		for len(body) > 0 {
			chunk := body
			if len(chunk) > bodyChunkSize {
				chunk = chunk[:bodyChunkSize]
			}
			s.reply(respReplaceBody, chunk)
			body = body[len(chunk):]
		}
	}
	s.reply(respContinue, nil)
}
