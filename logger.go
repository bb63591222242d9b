package raft

import (
	"fmt"

	"go.uber.org/zap"
)

// Logger is the fallback logging interface for servers whose host does
// not install a Log callback. The package default discards everything;
// replace it with SetLogger.
type Logger interface {
	Debugf(format string, v ...interface{})
	Infof(format string, v ...interface{})
	Warningf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
}

var raftLogger Logger = NewZapLogger(zap.NewNop())

// SetLogger replaces the package-level fallback logger.
func SetLogger(lg Logger) {
	if lg == nil {
		panic("raft: cannot use nil Logger")
	}
	raftLogger = lg
}

// logLevel filters what reaches the Log callback and the fallback
// logger. Defaults to LogInfo.
var logLevel = LogInfo

// SetLogLevel sets the maximum level that is logged.
func SetLogLevel(level LogLevel) {
	logLevel = level
}

type zapLogger struct {
	lg *zap.SugaredLogger
}

// NewZapLogger adapts a zap logger to the package Logger interface.
func NewZapLogger(lg *zap.Logger) Logger {
	return &zapLogger{lg: lg.WithOptions(zap.AddCallerSkip(2)).Sugar()}
}

func (z *zapLogger) Debugf(format string, v ...interface{})   { z.lg.Debugf(format, v...) }
func (z *zapLogger) Infof(format string, v ...interface{})    { z.lg.Infof(format, v...) }
func (z *zapLogger) Warningf(format string, v ...interface{}) { z.lg.Warnf(format, v...) }
func (z *zapLogger) Errorf(format string, v ...interface{})   { z.lg.Errorf(format, v...) }

// logf routes a diagnostic either to the host's Log callback or to the
// package logger. node is the peer the message concerns, if any.
func (s *Server) logf(n *Node, level LogLevel, format string, v ...interface{}) {
	if level > logLevel {
		return
	}

	if s.cb.Log != nil {
		s.cb.Log(s, n, level, fmt.Sprintf(format, v...))
		return
	}

	switch level {
	case LogError:
		raftLogger.Errorf(format, v...)
	case LogDebug:
		raftLogger.Debugf(format, v...)
	default:
		raftLogger.Infof(format, v...)
	}
}
