package trackmilter

// LogTrace is used to send trace level message to server logger
func (s *Session) LogTrace(format string, args ...any) {
	s.server.Logger.Tracef(s, format, args...)
}

// LogDebug is used to send debug level message to server logger
func (s *Session) LogDebug(format string, args ...any) {
	s.server.Logger.Debugf(s, format, args...)
}

// LogInfo is used to send info level message to server logger
func (s *Session) LogInfo(format string, args ...any) {
	s.server.Logger.Infof(s, format, args...)
}

// LogWarn is used to send warning level message to server logger
func (s *Session) LogWarn(format string, args ...any) {
	s.server.Logger.Warnf(s, format, args...)
}

// LogError is used to send error level message to server logger
func (s *Session) LogError(err error, desc string) {
	s.server.Logger.Errorf(s, "%s: %v ", desc, err)
}
