// Package rewrite rebuilds raw outgoing messages so that every HTML part
// carries an open-tracking beacon and, when configured, a domain wide
// footer. It never errors towards the caller: anything it cannot parse is
// returned untouched, because tracking must not break mail delivery.
package rewrite

import (
	"bytes"
	"fmt"
	"html"
	"mime"
	"net/textproto"
	"strings"
)

// Options configure injection
type Options struct {
	// BaseURL is beacon endpoint, message id is appended as ?id= query parameter
	BaseURL string
	// FooterHTML is domain wide footer injected before the beacon, can be empty
	FooterHTML string
}

// Mode tells which pipeline stage produced the result
type Mode uint8

const (
	// ModePassThrough means nothing applicable was found, output equals input
	ModePassThrough Mode = iota
	// ModeStructured means full MIME part tree was parsed and rewritten
	ModeStructured
	// ModeHeuristic means structured parsing failed and the body was
	// treated as a single blob
	ModeHeuristic
)

// String returns mode name for logs and metrics
func (m Mode) String() string {
	switch m {
	case ModeStructured:
		return "structured"
	case ModeHeuristic:
		return "heuristic"
	}
	return "pass-through"
}

// Header is a message header the delivered message must get to match the
// rewritten body, like Content-Type after a plain text upgrade
type Header struct {
	Name  string
	Value string
}

// Result of rewriting one message
type Result struct {
	Mode Mode
	// Changed means Body differs from input and should replace it
	Changed bool
	// Body is the rewritten message body, valid only when Changed
	Body []byte
	// Headers to set on the delivered message, valid only when Changed
	Headers []Header
}

// Pixel renders the beacon tag for one message
func Pixel(baseURL, id string) string {
	return fmt.Sprintf(`<img src="%s?id=%s" width="1" height="1" style="display:none;max-height:0;overflow:hidden" alt="">`,
		baseURL, id)
}

// Message rewrites raw message given as separate header block and body.
// Two stage pipeline: structured MIME walk first, then a heuristic scan of
// the blob, then pass-through.
func Message(headers, body []byte, id string, o Options) Result {
	injection := o.FooterHTML + Pixel(o.BaseURL, id)
	mimeHeader, ok := parseHeaderBlock(headers)
	if !ok {
		return heuristic(body, injection)
	}
	mediaType, params, err := mime.ParseMediaType(mimeHeader.Get("Content-Type"))
	if err != nil {
		if mimeHeader.Get("Content-Type") == "" {
			// no Content-Type means text/plain per RFC 2045
			mediaType = "text/plain"
		} else {
			return heuristic(body, injection)
		}
	}
	encoding := strings.ToLower(strings.TrimSpace(mimeHeader.Get("Content-Transfer-Encoding")))
	switch {
	case strings.HasPrefix(mediaType, "multipart/"):
		boundary := params["boundary"]
		if boundary == "" {
			return heuristic(body, injection)
		}
		out, changed, ok := rewriteMultipart(body, boundary, injection)
		if !ok {
			return heuristic(body, injection)
		}
		if !changed {
			return Result{Mode: ModeStructured}
		}
		return Result{Mode: ModeStructured, Changed: true, Body: out}
	case mediaType == "text/html":
		out, ok := injectEncoded(body, encoding, injection)
		if !ok {
			return heuristic(body, injection)
		}
		return Result{Mode: ModeStructured, Changed: true, Body: out}
	case mediaType == "text/plain":
		out, ok := upgradePlainText(body, encoding, params["charset"], injection)
		if !ok {
			return Result{Mode: ModeStructured}
		}
		return Result{
			Mode:    ModeStructured,
			Changed: true,
			Body:    out,
			Headers: []Header{
				{Name: "Content-Type", Value: `text/html; charset="utf-8"`},
				{Name: "Content-Transfer-Encoding", Value: "quoted-printable"},
			},
		}
	}
	// attachments, images, signed blobs and the like stay untouched
	return Result{Mode: ModePassThrough}
}

// heuristic treats the body as a single blob. Messages that smell like HTML
// get the injection appended at the right spot, everything else passes
// through unmodified.
func heuristic(body []byte, injection string) Result {
	lower := bytes.ToLower(body)
	if !bytes.Contains(lower, []byte("<html")) && !bytes.Contains(lower, []byte("<body")) {
		return Result{Mode: ModePassThrough}
	}
	return Result{
		Mode:    ModeHeuristic,
		Changed: true,
		Body:    []byte(injectHTML(string(body), injection)),
	}
}

// injectHTML places injection immediately before the closing body tag,
// before the closing html tag if there is no body tag, or appends it at the
// very end as a last resort.
func injectHTML(doc, injection string) string {
	lower := strings.ToLower(doc)
	if i := strings.LastIndex(lower, "</body>"); i >= 0 {
		return doc[:i] + injection + doc[i:]
	}
	if i := strings.LastIndex(lower, "</html>"); i >= 0 {
		return doc[:i] + injection + doc[i:]
	}
	return doc + injection
}

// injectEncoded decodes transfer encoding, injects, encodes back with the
// same encoding so the untouched headers stay truthful
func injectEncoded(body []byte, encoding, injection string) (out []byte, ok bool) {
	decoded, ok := decodeTransfer(body, encoding)
	if !ok {
		return nil, false
	}
	injected := injectHTML(string(decoded), injection)
	return encodeTransfer([]byte(injected), encoding)
}

// upgradePlainText wraps escaped plain text into a minimal HTML document
// with the injection, output is quoted-printable encoded
func upgradePlainText(body []byte, encoding, charset, injection string) (out []byte, ok bool) {
	if charset != "" && !isASCIICompatible(charset) {
		// legacy multibyte charsets are out of scope, do not corrupt them
		return nil, false
	}
	decoded, ok := decodeTransfer(body, encoding)
	if !ok {
		return nil, false
	}
	doc := "<html><body><pre style=\"font-family:inherit;white-space:pre-wrap\">" +
		html.EscapeString(string(decoded)) +
		"</pre>" + injection + "</body></html>"
	return encodeTransfer([]byte(doc), "quoted-printable")
}

// parseHeaderBlock reads raw header block into a MIME header, false means
// the block is hopeless and heuristics should take over
func parseHeaderBlock(headers []byte) (h textproto.MIMEHeader, ok bool) {
	normalized := append(bytes.TrimRight(headers, "\r\n"), "\r\n\r\n"...)
	reader := textproto.NewReader(newBufioReader(normalized))
	h, err := reader.ReadMIMEHeader()
	if err != nil {
		return nil, false
	}
	return h, true
}

func isASCIICompatible(charset string) bool {
	switch strings.ToLower(charset) {
	case "us-ascii", "ascii", "utf-8", "utf8", "iso-8859-1", "latin1", "windows-1252":
		return true
	}
	return false
}
