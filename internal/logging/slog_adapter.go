// Pelorus - Real-time AIS Vessel Tracking and Tile Streaming
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/pelorus

package logging

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"
)

// slogHandler bridges log/slog records into the global zerolog
// logger. The supervisor's event hook (sutureslog) speaks slog; this
// adapter keeps its output in the same stream and format as
// everything else.
type slogHandler struct {
	attrs []slog.Attr
}

// NewSlogLogger returns a *slog.Logger that writes through the global
// zerolog logger.
func NewSlogLogger() *slog.Logger {
	return slog.New(&slogHandler{})
}

func (h *slogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return slogToZerologLevel(level) >= zerolog.GlobalLevel()
}

func (h *slogHandler) Handle(_ context.Context, rec slog.Record) error {
	logger := Logger()
	ev := logger.WithLevel(slogToZerologLevel(rec.Level))
	for _, attr := range h.attrs {
		ev = ev.Interface(attr.Key, attr.Value.Any())
	}
	rec.Attrs(func(attr slog.Attr) bool {
		ev = ev.Interface(attr.Key, attr.Value.Any())
		return true
	})
	ev.Msg(rec.Message)
	return nil
}

func (h *slogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &slogHandler{attrs: merged}
}

func (h *slogHandler) WithGroup(name string) slog.Handler {
	// Groups are flattened; the supervisor hook does not nest.
	return h
}

func slogToZerologLevel(level slog.Level) zerolog.Level {
	switch {
	case level >= slog.LevelError:
		return zerolog.ErrorLevel
	case level >= slog.LevelWarn:
		return zerolog.WarnLevel
	case level >= slog.LevelInfo:
		return zerolog.InfoLevel
	default:
		return zerolog.DebugLevel
	}
}
