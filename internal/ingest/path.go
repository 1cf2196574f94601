package ingest

import (
	"fmt"
	"path"
	"strings"
	"time"
	"unicode"
)

const maxNameLen = 80

// StoragePath builds <owner>/<yyyy>/<mm>/<dd>/<unixnano>-<id8>-<name>.
func StoragePath(owner, name, id string, at time.Time) string {
	at = at.UTC()
	short := strings.ReplaceAll(id, "-", "")
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("%s/%04d/%02d/%02d/%d-%s-%s",
		sanitize(owner, "anonymous"), at.Year(), int(at.Month()), at.Day(), at.UnixNano(), short, sanitize(path.Base(name), "upload"))
}

// sanitize keeps letters, digits, dot, dash and underscore; everything else becomes '_'.
func sanitize(s, fallback string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	for _, r := range s {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)), r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return fallback
	}
	if len(out) > maxNameLen {
		out = out[len(out)-maxNameLen:]
	}
	return out
}
