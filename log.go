package roam

import (
	"context"
	"log/slog"
)

func (m *Machine) logerr(msg string, attrs ...slog.Attr) {
	m.logattrs(slog.LevelError, msg, attrs...)
}

func (m *Machine) warn(msg string, attrs ...slog.Attr) {
	m.logattrs(slog.LevelWarn, msg, attrs...)
}

func (m *Machine) info(msg string, attrs ...slog.Attr) {
	m.logattrs(slog.LevelInfo, msg, attrs...)
}

func (m *Machine) debug(msg string, attrs ...slog.Attr) {
	m.logattrs(slog.LevelDebug, msg, attrs...)
}

func (m *Machine) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if m.logger == nil {
		return
	}
	m.logger.LogAttrs(context.Background(), level, msg, attrs...)
}
