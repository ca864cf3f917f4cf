package rewrite

import (
	"bytes"
	"mime"
	"strings"
)

// rewriteMultipart walks a multipart body delimited by boundary, injecting
// into every text/html part and recursing into nested multiparts. Untouched
// parts, delimiter lines, preamble and epilogue are preserved byte for
// byte. Returned ok=false means the boundary structure is malformed and the
// caller should degrade to the heuristic path.
func rewriteMultipart(body []byte, boundary, injection string) (out []byte, changed, ok bool) {
	if boundary == "" {
		return nil, false, false
	}
	delim := []byte("--" + boundary)
	var preamble, epilogue [][]byte
	var closing []byte
	type segment struct {
		delimLine []byte
		lines     [][]byte
	}
	var segments []segment
	const (
		inPreamble = iota
		inPart
		inEpilogue
	)
	state := inPreamble
	for _, line := range splitLines(body) {
		switch {
		case isDelimiter(line, delim, true):
			if state != inPart {
				return nil, false, false
			}
			closing = line
			state = inEpilogue
		case isDelimiter(line, delim, false):
			if state == inEpilogue {
				return nil, false, false
			}
			segments = append(segments, segment{delimLine: line})
			state = inPart
		default:
			switch state {
			case inPreamble:
				preamble = append(preamble, line)
			case inPart:
				last := &segments[len(segments)-1]
				last.lines = append(last.lines, line)
			case inEpilogue:
				epilogue = append(epilogue, line)
			}
		}
	}
	if len(segments) == 0 || closing == nil {
		return nil, false, false
	}
	buf := bytes.NewBuffer(nil)
	for _, line := range preamble {
		buf.Write(line)
	}
	for i := range segments {
		buf.Write(segments[i].delimLine)
		buf.Write(rewritePart(bytes.Join(segments[i].lines, nil), injection, &changed))
	}
	buf.Write(closing)
	for _, line := range epilogue {
		buf.Write(line)
	}
	return buf.Bytes(), changed, true
}

// rewritePart processes single part of a multipart body, returning it
// verbatim when there is nothing applicable inside
func rewritePart(part []byte, injection string, changed *bool) []byte {
	headerBlock, pbody, found := cutHeaderBlock(part)
	if !found {
		return part
	}
	h, ok := parseHeaderBlock(headerBlock)
	if !ok {
		return part
	}
	mediaType, params, err := mime.ParseMediaType(h.Get("Content-Type"))
	if err != nil {
		return part
	}
	switch {
	case strings.HasPrefix(mediaType, "multipart/"):
		nested, nestedChanged, ok := rewriteMultipart(pbody, params["boundary"], injection)
		if !ok || !nestedChanged {
			return part
		}
		*changed = true
		return append(append([]byte{}, headerBlock...), nested...)
	case mediaType == "text/html":
		encoding := strings.ToLower(strings.TrimSpace(h.Get("Content-Transfer-Encoding")))
		trimmed, tail := cutTrailingNewline(pbody)
		injected, ok := injectEncoded(trimmed, encoding, injection)
		if !ok {
			return part
		}
		*changed = true
		out := append([]byte{}, headerBlock...)
		out = append(out, injected...)
		return append(out, tail...)
	}
	return part
}

// cutHeaderBlock splits a part into its header block (including the blank
// separator line) and body
func cutHeaderBlock(part []byte) (headerBlock, body []byte, found bool) {
	if i := bytes.Index(part, []byte("\r\n\r\n")); i >= 0 {
		return part[:i+4], part[i+4:], true
	}
	if i := bytes.Index(part, []byte("\n\n")); i >= 0 {
		return part[:i+2], part[i+2:], true
	}
	return nil, nil, false
}

// cutTrailingNewline separates the line terminator preceding the next
// boundary delimiter, it belongs to the delimiter per RFC 2046
func cutTrailingNewline(body []byte) (trimmed, tail []byte) {
	if bytes.HasSuffix(body, []byte("\r\n")) {
		return body[:len(body)-2], body[len(body)-2:]
	}
	if bytes.HasSuffix(body, []byte("\n")) {
		return body[:len(body)-1], body[len(body)-1:]
	}
	return body, nil
}

// splitLines splits preserving line terminators
func splitLines(b []byte) (lines [][]byte) {
	start := 0
	for i := 0; i < len(b); i++ {
		if b[i] == '\n' {
			lines = append(lines, b[start:i+1])
			start = i + 1
		}
	}
	if start < len(b) {
		lines = append(lines, b[start:])
	}
	return
}

// isDelimiter tells if line is a boundary delimiter, optionally the closing
// one, ignoring trailing transport padding
func isDelimiter(line, delim []byte, closing bool) bool {
	trimmed := bytes.TrimRight(line, "\r\n")
	trimmed = bytes.TrimRight(trimmed, " \t")
	if closing {
		return bytes.Equal(trimmed, append(append([]byte{}, delim...), '-', '-'))
	}
	return bytes.Equal(trimmed, delim)
}
