package logger

import "log/slog"

// PrettyStyledLogger implements StyledLogger with ANSI-coloured route and
// address attributes for a terminal. fastReplaceAttr/stripAnsiCodes strip
// the colour back out for any non-terminal sink sharing the same
// simpleMultiHandler (e.g. the rotating file handler), so colour never
// leaks into a log file.
type PrettyStyledLogger struct {
	logger *slog.Logger
}

func NewPrettyStyledLogger(logger *slog.Logger) *PrettyStyledLogger {
	return &PrettyStyledLogger{logger: logger}
}

func (sl *PrettyStyledLogger) Debug(msg string, args ...any) { sl.logger.Debug(msg, args...) }
func (sl *PrettyStyledLogger) Info(msg string, args ...any)  { sl.logger.Info(msg, args...) }
func (sl *PrettyStyledLogger) Warn(msg string, args ...any)  { sl.logger.Warn(msg, args...) }
func (sl *PrettyStyledLogger) Error(msg string, args ...any) { sl.logger.Error(msg, args...) }

func (sl *PrettyStyledLogger) WithRoute(socketAddress, proxyKind string) StyledLogger {
	return sl.With("route", ansiCyan+socketAddress+ansiReset, "proxy", proxyKind)
}

func (sl *PrettyStyledLogger) WithAddress(host string, port int, scheme string) StyledLogger {
	return sl.With("host", ansiCyan+host+ansiReset, "port", port, "scheme", scheme)
}

func (sl *PrettyStyledLogger) GetUnderlying() *slog.Logger {
	return sl.logger
}

func (sl *PrettyStyledLogger) WithAttrs(attrs ...slog.Attr) StyledLogger {
	args := make([]any, 0, len(attrs)*2)
	for _, attr := range attrs {
		args = append(args, attr.Key, attr.Value)
	}
	return &PrettyStyledLogger{logger: sl.logger.With(args...)}
}

func (sl *PrettyStyledLogger) With(args ...any) StyledLogger {
	return &PrettyStyledLogger{logger: sl.logger.With(args...)}
}
