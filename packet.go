package trackmilter

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// packet is a single milter wire frame. On the wire it is a big endian
// uint32 length followed by `length` bytes, of which the first one is the
// command and the rest is command-specific payload.
type packet struct {
	command byte
	payload []byte
}

// readPacket reads a single frame from the MTA
func readPacket(r io.Reader) (p packet, err error) {
	var size uint32
	err = binary.Read(r, binary.BigEndian, &size)
	if err != nil {
		return
	}
	if size == 0 {
		err = ProtocolError{Message: "zero length packet"}
		return
	}
	if size > maxPacketSize {
		err = ProtocolError{Message: fmt.Sprintf("packet of %v bytes is bigger than %v bytes allowed", size, maxPacketSize)}
		return
	}
	raw := make([]byte, size)
	_, err = io.ReadFull(r, raw)
	if err != nil {
		return
	}
	p.command = raw[0]
	p.payload = raw[1:]
	return
}

// writePacket sends a single frame to the MTA
func writePacket(w io.Writer, command byte, payload []byte) (err error) {
	err = binary.Write(w, binary.BigEndian, uint32(len(payload)+1))
	if err != nil {
		return
	}
	_, err = w.Write([]byte{command})
	if err != nil {
		return
	}
	_, err = w.Write(payload)
	return
}

// decodeStrings splits a payload of NUL terminated strings, the way
// SMFIC_MAIL, SMFIC_RCPT and SMFIC_MACRO arguments are packed
func decodeStrings(payload []byte) (out []string) {
	for _, chunk := range bytes.Split(payload, []byte{0}) {
		if len(chunk) > 0 {
			out = append(out, string(chunk))
		}
	}
	return
}

// encodeStrings packs strings as NUL terminated sequence
func encodeStrings(args ...string) []byte {
	buf := bytes.NewBuffer(nil)
	for _, a := range args {
		buf.WriteString(a)
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

// optNeg is the SMFIC_OPTNEG payload in both directions
type optNeg struct {
	version  uint32
	actions  uint32
	protocol uint32
}

func decodeOptNeg(payload []byte) (o optNeg, err error) {
	if len(payload) != 12 {
		err = ProtocolError{Command: cmdOptNeg, Message: fmt.Sprintf("payload is %v bytes instead of 12", len(payload))}
		return
	}
	o.version = binary.BigEndian.Uint32(payload[0:4])
	o.actions = binary.BigEndian.Uint32(payload[4:8])
	o.protocol = binary.BigEndian.Uint32(payload[8:12])
	return
}

func (o optNeg) encode() []byte {
	out := make([]byte, 12)
	binary.BigEndian.PutUint32(out[0:4], o.version)
	binary.BigEndian.PutUint32(out[4:8], o.actions)
	binary.BigEndian.PutUint32(out[8:12], o.protocol)
	return out
}
