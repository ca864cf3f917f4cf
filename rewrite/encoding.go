package rewrite

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"io"
	"mime/quotedprintable"
)

func newBufioReader(b []byte) *bufio.Reader {
	return bufio.NewReader(bytes.NewReader(b))
}

// decodeTransfer undoes Content-Transfer-Encoding, false means the
// encoding is unknown or the payload does not match it
func decodeTransfer(body []byte, encoding string) (out []byte, ok bool) {
	switch encoding {
	case "", "7bit", "8bit", "binary":
		return body, true
	case "quoted-printable":
		decoded, err := io.ReadAll(quotedprintable.NewReader(bytes.NewReader(body)))
		if err != nil {
			return nil, false
		}
		return decoded, true
	case "base64":
		clean := stripWhitespace(body)
		decoded := make([]byte, base64.StdEncoding.DecodedLen(len(clean)))
		n, err := base64.StdEncoding.Decode(decoded, clean)
		if err != nil {
			return nil, false
		}
		return decoded[:n], true
	}
	return nil, false
}

// encodeTransfer applies Content-Transfer-Encoding back after injection
func encodeTransfer(body []byte, encoding string) (out []byte, ok bool) {
	switch encoding {
	case "", "7bit", "8bit", "binary":
		return body, true
	case "quoted-printable":
		buf := bytes.NewBuffer(nil)
		w := quotedprintable.NewWriter(buf)
		_, err := w.Write(body)
		if err != nil {
			return nil, false
		}
		err = w.Close()
		if err != nil {
			return nil, false
		}
		return buf.Bytes(), true
	case "base64":
		encoded := base64.StdEncoding.EncodeToString(body)
		buf := bytes.NewBuffer(nil)
		for len(encoded) > lineLength {
			buf.WriteString(encoded[:lineLength])
			buf.WriteString("\r\n")
			encoded = encoded[lineLength:]
		}
		buf.WriteString(encoded)
		return buf.Bytes(), true
	}
	return nil, false
}

const lineLength = 76

func stripWhitespace(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		switch c {
		case ' ', '\t', '\r', '\n':
			continue
		}
		out = append(out, c)
	}
	return out
}
