// Package internal holds helpers used by tests of the milter server, the
// main one being a minimal MTA side implementation of the milter protocol.
package internal

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"
)

// MilterClient speaks the MTA side of milter protocol version 2, just
// enough to drive tests
type MilterClient struct {
	conn net.Conn
}

// DialMilter connects to milter server listening on addr
func DialMilter(addr string) (*MilterClient, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, err
	}
	return &MilterClient{conn: conn}, nil
}

// Close closes underlying connection
func (c *MilterClient) Close() error {
	return c.conn.Close()
}

func (c *MilterClient) send(cmd byte, payload []byte) error {
	buf := bytes.NewBuffer(nil)
	binary.Write(buf, binary.BigEndian, uint32(len(payload)+1))
	buf.WriteByte(cmd)
	buf.Write(payload)
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err := c.conn.Write(buf.Bytes())
	return err
}

func (c *MilterClient) recv() (cmd byte, payload []byte, err error) {
	var size uint32
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	err = binary.Read(c.conn, binary.BigEndian, &size)
	if err != nil {
		return
	}
	raw := make([]byte, size)
	_, err = io.ReadFull(c.conn, raw)
	if err != nil {
		return
	}
	return raw[0], raw[1:], nil
}

func (c *MilterClient) expectContinue(what string) error {
	cmd, _, err := c.recv()
	if err != nil {
		return fmt.Errorf("%s : while waiting for reply to %s", err, what)
	}
	if cmd != 'c' {
		return fmt.Errorf("unexpected reply %q to %s", cmd, what)
	}
	return nil
}

// OptNeg performs option negotiation
func (c *MilterClient) OptNeg() error {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], 2)    // version
	binary.BigEndian.PutUint32(payload[4:8], 0x3f) // all v2 actions
	binary.BigEndian.PutUint32(payload[8:12], 0)
	err := c.send('O', payload)
	if err != nil {
		return err
	}
	cmd, _, err := c.recv()
	if err != nil {
		return err
	}
	if cmd != 'O' {
		return fmt.Errorf("unexpected reply %q to option negotiation", cmd)
	}
	return nil
}

// Connect announces the remote SMTP client
func (c *MilterClient) Connect(hostname, address string) error {
	payload := bytes.NewBuffer(nil)
	payload.WriteString(hostname)
	payload.WriteByte(0)
	payload.WriteByte('4') // inet
	binary.Write(payload, binary.BigEndian, uint16(2525))
	payload.WriteString(address)
	payload.WriteByte(0)
	err := c.send('C', payload.Bytes())
	if err != nil {
		return err
	}
	return c.expectContinue("connect")
}

// MailFrom starts a new message
func (c *MilterClient) MailFrom(sender string) error {
	err := c.send('M', nulTerminated("<"+sender+">"))
	if err != nil {
		return err
	}
	return c.expectContinue("mail from")
}

// Header sends one message header
func (c *MilterClient) Header(name, value string) error {
	payload := append(nulTerminated(name), nulTerminated(value)...)
	err := c.send('L', payload)
	if err != nil {
		return err
	}
	return c.expectContinue("header " + name)
}

// EndOfHeaders signals header block is complete
func (c *MilterClient) EndOfHeaders() error {
	err := c.send('N', nil)
	if err != nil {
		return err
	}
	return c.expectContinue("end of headers")
}

// BodyChunk sends a piece of message body
func (c *MilterClient) BodyChunk(chunk []byte) error {
	err := c.send('B', chunk)
	if err != nil {
		return err
	}
	return c.expectContinue("body chunk")
}

// Abort discards the in-flight message, no reply is expected
func (c *MilterClient) Abort() error {
	return c.send('A', nil)
}

// Quit says goodbye, no reply is expected
func (c *MilterClient) Quit() error {
	return c.send('Q', nil)
}

// ChangedHeader is SMFIR_CHGHEADER action received from the milter
type ChangedHeader struct {
	Index uint32
	Name  string
	Value string
}

// Modifications collect everything the milter did to the message at
// end-of-message, plus the final action
type Modifications struct {
	Action         byte
	AddedHeaders   [][2]string
	ChangedHeaders []ChangedHeader
	Body           []byte
}

// BodyReplaced tells if milter replaced message body
func (m Modifications) BodyReplaced() bool {
	return m.Body != nil
}

// AddedHeader returns value of added header by name, empty string if absent
func (m Modifications) AddedHeader(name string) string {
	for _, h := range m.AddedHeaders {
		if h[0] == name {
			return h[1]
		}
	}
	return ""
}

// EndOfMessage finishes the message and collects modification actions until
// the final one arrives
func (c *MilterClient) EndOfMessage() (mods Modifications, err error) {
	err = c.send('E', nil)
	if err != nil {
		return
	}
	for {
		cmd, payload, err := c.recv()
		if err != nil {
			return mods, fmt.Errorf("%s : while waiting for end-of-message actions", err)
		}
		switch cmd {
		case 'h':
			parts := bytes.SplitN(bytes.TrimSuffix(payload, []byte{0}), []byte{0}, 2)
			if len(parts) == 2 {
				mods.AddedHeaders = append(mods.AddedHeaders, [2]string{string(parts[0]), string(parts[1])})
			}
		case 'm':
			if len(payload) > 4 {
				parts := bytes.SplitN(bytes.TrimSuffix(payload[4:], []byte{0}), []byte{0}, 2)
				changed := ChangedHeader{Index: binary.BigEndian.Uint32(payload[:4])}
				changed.Name = string(parts[0])
				if len(parts) == 2 {
					changed.Value = string(parts[1])
				}
				mods.ChangedHeaders = append(mods.ChangedHeaders, changed)
			}
		case 'b':
			mods.Body = append(mods.Body, payload...)
		case 'c', 'a', 'r', 't', 'd':
			mods.Action = cmd
			return mods, nil
		default:
			return mods, fmt.Errorf("unexpected action %q at end-of-message", cmd)
		}
	}
}

func nulTerminated(s string) []byte {
	return append([]byte(s), 0)
}
