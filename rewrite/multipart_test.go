package rewrite

import (
	"strings"
	"testing"
)

const multipartFixture = "This is a multi-part message in MIME format.\r\n" +
	"--frontier\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Hi there\r\n" +
	"--frontier\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<html><body><p>Hi there</p></body></html>\r\n" +
	"--frontier--\r\n" +
	"epilogue is preserved too\r\n"

func TestMultipartInjectsIntoHTMLPartOnly(t *testing.T) {
	headers := []byte(`Content-Type: multipart/alternative; boundary="frontier"` + "\r\n")
	res := Message(headers, []byte(multipartFixture), testID, testOptions())
	if res.Mode != ModeStructured {
		t.Errorf("unexpected mode %s", res.Mode)
	}
	if !res.Changed {
		t.Fatalf("multipart message was not changed")
	}
	want := strings.Replace(multipartFixture,
		"<html><body><p>Hi there</p></body></html>",
		"<html><body><p>Hi there</p>"+Pixel(testBase, testID)+"</body></html>",
		1)
	if string(res.Body) != want {
		t.Errorf("everything but the html part must be byte identical\ngot:\n%s\nwant:\n%s", res.Body, want)
	}
	if got := strings.Count(string(res.Body), "<img"); got != 1 {
		t.Errorf("expected exactly one beacon, got %v", got)
	}
}

func TestNestedMultipart(t *testing.T) {
	inner := "--inner\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"plain alternative\r\n" +
		"--inner\r\n" +
		"Content-Type: text/html\r\n" +
		"\r\n" +
		"<html><body>rich alternative</body></html>\r\n" +
		"--inner--\r\n"
	outer := "--outer\r\n" +
		`Content-Type: multipart/alternative; boundary="inner"` + "\r\n" +
		"\r\n" +
		inner +
		"--outer\r\n" +
		"Content-Type: application/pdf\r\n" +
		"Content-Transfer-Encoding: base64\r\n" +
		"\r\n" +
		"JVBERi0xLjQ=\r\n" +
		"--outer--\r\n"
	headers := []byte(`Content-Type: multipart/mixed; boundary="outer"` + "\r\n")
	res := Message(headers, []byte(outer), testID, testOptions())
	if !res.Changed {
		t.Fatalf("nested multipart was not changed")
	}
	out := string(res.Body)
	if !strings.Contains(out, Pixel(testBase, testID)+"</body></html>") {
		t.Errorf("beacon is not inside the nested html part:\n%s", out)
	}
	if !strings.Contains(out, "JVBERi0xLjQ=\r\n") {
		t.Errorf("attachment part was corrupted:\n%s", out)
	}
	if got := strings.Count(out, "<img"); got != 1 {
		t.Errorf("expected exactly one beacon, got %v", got)
	}
}

func TestMultipartWithoutHTMLPartUnchanged(t *testing.T) {
	body := "--frontier\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"just text\r\n" +
		"--frontier--\r\n"
	headers := []byte(`Content-Type: multipart/mixed; boundary="frontier"` + "\r\n")
	res := Message(headers, []byte(body), testID, testOptions())
	if res.Changed {
		t.Errorf("multipart without html parts must stay unchanged")
	}
	if res.Mode != ModeStructured {
		t.Errorf("unexpected mode %s", res.Mode)
	}
}

func TestMultipartMissingClosingDelimiter(t *testing.T) {
	body := "--frontier\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"just text, delivery truncated the rest\r\n"
	headers := []byte(`Content-Type: multipart/mixed; boundary="frontier"` + "\r\n")
	res := Message(headers, []byte(body), testID, testOptions())
	// no closing delimiter and no html markers, nothing to do safely
	if res.Changed || res.Mode != ModePassThrough {
		t.Errorf("malformed multipart must pass through, got mode %s changed %v", res.Mode, res.Changed)
	}
}

func TestMultipartDelimiterWithTransportPadding(t *testing.T) {
	if !isDelimiter([]byte("--frontier \t\r\n"), []byte("--frontier"), false) {
		t.Errorf("transport padding after delimiter must be tolerated")
	}
	if !isDelimiter([]byte("--frontier--\r\n"), []byte("--frontier"), true) {
		t.Errorf("closing delimiter not recognized")
	}
	if isDelimiter([]byte("--frontier-x\r\n"), []byte("--frontier"), false) {
		t.Errorf("prefix match must not count as delimiter")
	}
}

func TestCutTrailingNewline(t *testing.T) {
	trimmed, tail := cutTrailingNewline([]byte("abc\r\n"))
	if string(trimmed) != "abc" || string(tail) != "\r\n" {
		t.Errorf("crlf terminator was not separated: %q %q", trimmed, tail)
	}
	trimmed, tail = cutTrailingNewline([]byte("abc"))
	if string(trimmed) != "abc" || tail != nil {
		t.Errorf("body without terminator was mangled: %q %q", trimmed, tail)
	}
}
