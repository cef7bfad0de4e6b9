package hostdb

import "log"

// Logger is the small logging seam HostDB uses, mirroring the
// teacher's debugLog/errorLog split (logger.go) but expressed as an
// interface so cmd/hostdbproxy can share one *log.Logger across the
// proxy and the cache rather than each reaching for the package-level
// logger independently.
type Logger interface {
	Debugf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
}

// StdLogger adapts the standard library's *log.Logger to Logger, with
// Debugf gated by a debug flag exactly the way the teacher's debugLog
// gates on s.config.Debug.
type StdLogger struct {
	*log.Logger
	Debug bool
}

func (l *StdLogger) Debugf(format string, v ...interface{}) {
	if l.Debug {
		l.Printf(format, v...)
	}
}

func (l *StdLogger) Errorf(format string, v ...interface{}) {
	l.Printf(format, v...)
}
