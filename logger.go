package trackmilter

import (
	"fmt"
	"log"
)

// Logger is interface all Server loggers must satisfy
type Logger interface {
	Tracef(session *Session, format string, args ...any)
	Debugf(session *Session, format string, args ...any)
	Infof(session *Session, format string, args ...any)
	Warnf(session *Session, format string, args ...any)
	Errorf(session *Session, format string, args ...any)
	Fatalf(session *Session, format string, args ...any)
}

// LoggerLevel describes logging level like JournalD has by
// https://github.com/coreos/go-systemd/blob/main/journal/journal.go
type LoggerLevel uint8

// TraceLevel is used when we record very verbose messages like raw milter packets being received and sent
const TraceLevel LoggerLevel = 8

// DebugLevel is used when we log information that is diagnostically helpful to people more than just developers (IT, sysadmins, etc.)
const DebugLevel LoggerLevel = 7

// InfoLevel is used when we log generally useful information
// (service start/stop, configuration assumptions, message verdicts).
// This is my out-of-the-box config level.
const InfoLevel LoggerLevel = 6

// WarnLevel is used when we log anything that can potentially cause application oddities,
// but for which we are automatically recovering, like a failed rewrite we pass through.
const WarnLevel LoggerLevel = 4

// ErrorLevel is used for any error which is fatal to the operation, but not the service
// (can't write message record, storage gone read-only, etc.).
// These errors will force administrator intervention.
const ErrorLevel LoggerLevel = 3

// FatalLevel is used for any error that is forcing a shutdown of the service
// to prevent data loss (or further data loss).
const FatalLevel LoggerLevel = 2

// DefaultLogger is logger used by default with standard library logger as backend https://pkg.go.dev/log
type DefaultLogger struct {
	*log.Logger
	Level LoggerLevel
}

// Tracef sends TraceLevel message
func (d *DefaultLogger) Tracef(session *Session, format string, args ...any) {
	if d.Level >= TraceLevel {
		d.Printf("TRACE [%s]: %s", session.ID, fmt.Sprintf(format, args...))
	}
}

// Debugf sends DebugLevel message
func (d *DefaultLogger) Debugf(session *Session, format string, args ...any) {
	if d.Level >= DebugLevel {
		d.Printf("DEBUG [%s]: %s", session.ID, fmt.Sprintf(format, args...))
	}
}

// Infof sends InfoLevel message
func (d *DefaultLogger) Infof(session *Session, format string, args ...any) {
	if d.Level >= InfoLevel {
		d.Printf("INFO [%s]: %s", session.ID, fmt.Sprintf(format, args...))
	}
}

// Warnf sends WarnLevel message
func (d *DefaultLogger) Warnf(session *Session, format string, args ...any) {
	if d.Level >= WarnLevel {
		d.Printf("WARN [%s]: %s", session.ID, fmt.Sprintf(format, args...))
	}
}

// Errorf sends ErrorLevel message
func (d *DefaultLogger) Errorf(session *Session, format string, args ...any) {
	if d.Level >= ErrorLevel {
		d.Printf("ERROR [%s]: %s", session.ID, fmt.Sprintf(format, args...))
	}
}

// Fatalf sends FatalLevel message and stops application with exit code 1
func (d *DefaultLogger) Fatalf(session *Session, format string, args ...any) {
	d.Logger.Fatalf("FATAL [%s]: %s", session.ID, fmt.Sprintf(format, args...))
}
