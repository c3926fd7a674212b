package sram512

import (
	"context"
	"encoding/hex"
	"log/slog"

	"golang.org/x/exp/constraints"
)

// LevelTrace is used for per-event chatter, below slog.LevelDebug.
const LevelTrace slog.Level = slog.LevelDebug - 1

func (d *Decoder) debug(msg string, attrs ...slog.Attr) {
	d.logattrs(slog.LevelDebug, msg, attrs...)
}

func (d *Decoder) trace(msg string, attrs ...slog.Attr) {
	d.logattrs(LevelTrace, msg, attrs...)
}

func (d *Decoder) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if d.logger == nil {
		return
	}
	d.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

// Hex formats an unsigned integer as a fixed width hexadecimal string with 0x prefix.
func Hex[T constraints.Unsigned](v T, digits int) string {
	const hextable = "0123456789abcdef"
	buf := make([]byte, 2+digits)
	buf[0], buf[1] = '0', 'x'
	for i := len(buf) - 1; i >= 2; i-- {
		buf[i] = hextable[v&0xf]
		v >>= 4
	}
	return string(buf)
}

func hexBytes(b []byte) string {
	if len(b) == 0 {
		return "none"
	}
	buf := make([]byte, 0, 3*len(b))
	for i, c := range b {
		if i > 0 {
			buf = append(buf, ' ')
		}
		buf = append(buf, hex.EncodeToString([]byte{c})...)
	}
	return string(buf)
}
