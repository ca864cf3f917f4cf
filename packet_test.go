package trackmilter

import (
	"bytes"
	"testing"
)

func TestPacketRoundTrip(t *testing.T) {
	buf := bytes.NewBuffer(nil)
	err := writePacket(buf, cmdHeader, encodeStrings("Subject", "test"))
	if err != nil {
		t.Errorf("%s : while writing packet", err)
	}
	p, err := readPacket(buf)
	if err != nil {
		t.Errorf("%s : while reading packet", err)
	}
	if p.command != cmdHeader {
		t.Errorf("unexpected command %q", p.command)
	}
	args := decodeStrings(p.payload)
	if len(args) != 2 || args[0] != "Subject" || args[1] != "test" {
		t.Errorf("unexpected arguments %v", args)
	}
}

func TestPacketZeroLength(t *testing.T) {
	_, err := readPacket(bytes.NewReader([]byte{0, 0, 0, 0}))
	if err == nil {
		t.Errorf("zero length packet was accepted")
	}
}

func TestPacketTooBig(t *testing.T) {
	_, err := readPacket(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff}))
	if err == nil {
		t.Errorf("oversized packet was accepted")
	}
}

func TestOptNegRoundTrip(t *testing.T) {
	in := optNeg{version: protocolVersion, actions: actionAddHeader | actionChangeBody, protocol: 0}
	out, err := decodeOptNeg(in.encode())
	if err != nil {
		t.Errorf("%s : while decoding", err)
	}
	if out != in {
		t.Errorf("got %+v instead of %+v", out, in)
	}
	_, err = decodeOptNeg([]byte{1, 2, 3})
	if err == nil {
		t.Errorf("truncated option negotiation payload was accepted")
	}
}

func TestIsAffirmative(t *testing.T) {
	for _, v := range []string{"yes", "YES", " true ", "1", "On"} {
		if !isAffirmative(v) {
			t.Errorf("%q should be affirmative", v)
		}
	}
	for _, v := range []string{"", "no", "0", "off", "maybe"} {
		if isAffirmative(v) {
			t.Errorf("%q should not be affirmative", v)
		}
	}
}

func TestStripAngles(t *testing.T) {
	if stripAngles("<scuba@example.org>") != "scuba@example.org" {
		t.Errorf("angle brackets are not stripped")
	}
	if stripAngles("scuba@example.org") != "scuba@example.org" {
		t.Errorf("bare address is mangled")
	}
}

func TestDomainOf(t *testing.T) {
	if domainOf("scuba@example.org") != "example.org" {
		t.Errorf("unexpected domain %q", domainOf("scuba@example.org"))
	}
	if domainOf("no-at-sign") != "" {
		t.Errorf("address without domain should yield empty string")
	}
}
