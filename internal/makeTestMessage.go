package internal

import (
	"fmt"
	"time"
)

// TestHeaders builds a plausible header list for a message from -> to,
// callers append Content-Type and friends as the scenario needs
func TestHeaders(from, to string) [][2]string {
	now := time.Now()
	return [][2]string{
		{"Date", now.Format(time.RFC1123Z)},
		{"To", to},
		{"From", from},
		{"Subject", fmt.Sprintf("Test email sent on %s", now.Format(time.RFC1123Z))},
		{"Message-Id", fmt.Sprintf("<%s@localhost>", now.Format("20060102150405"))},
	}
}

// TestHTMLBody is a small well formed HTML document
const TestHTMLBody = "<html><body><p>Hi</p></body></html>"

// TestPlainBody is a small plain text message body
const TestPlainBody = "This is a test message.\r\nNothing to see here.\r\n"
