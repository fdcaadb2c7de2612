package logger

import "log/slog"

// StyledLogger is what every connection-core component (pool, planner,
// finder, connect plan) takes: plain slog semantics plus a couple of
// connection-domain convenience wrappers. Two implementations exist --
// PlainStyledLogger and PrettyStyledLogger -- selected by NewStyled from
// Config.PrettyLogs.
type StyledLogger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	// WithRoute attaches the route's socket address and proxy kind as
	// structured attributes to every subsequent log line.
	WithRoute(socketAddress, proxyKind string) StyledLogger
	// WithAddress attaches an AddressKey's host/port/scheme.
	WithAddress(host string, port int, scheme string) StyledLogger

	With(args ...any) StyledLogger
	WithAttrs(attrs ...slog.Attr) StyledLogger

	GetUnderlying() *slog.Logger
}

// NewStyled picks PrettyStyledLogger when cfg.PrettyLogs is set and
// PlainStyledLogger otherwise; terminal detection only decides, inside New,
// whether the pretty handler writes colour or JSON.
func NewStyled(cfg *Config) (*slog.Logger, StyledLogger, func(), error) {
	log, cleanup, err := New(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	if cfg.PrettyLogs {
		return log, NewPrettyStyledLogger(log), cleanup, nil
	}
	return log, NewPlainStyledLogger(log), cleanup, nil
}
