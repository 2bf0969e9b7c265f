package config

import (
	"path/filepath"
	"strings"

	"github.com/banshee-data/opticsim/internal/simerr"
)

// File and directory names inside a run directory.
const (
	ParamsFile    = "params.json"
	FieldsFile    = "fields.db"
	AtmosphereDir = "atmosphere"
	AberrationDir = "aberrations"
)

// RunDir returns the output directory for the named run. The name must be a
// plain directory name: anything SanitizeName would alter is rejected, which
// also keeps the result inside DataDir.
func (io IO) RunDir(name string) (string, error) {
	if name == "" || SanitizeName(name) != name {
		return "", simerr.Configf("run name %q must contain only letters, digits, '.', '_' or '-'", name)
	}
	return filepath.Join(io.DataDir, name), nil
}

// SanitizeName makes a safe directory name from an arbitrary string. Runs of
// characters other than ASCII letters, digits, dot, underscore or dash become
// a single underscore; leading and trailing dots and underscores are trimmed.
func SanitizeName(s string) string {
	const maxLen = 128
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_':
			b.WriteRune(r)
			lastUnderscore = true
		default:
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
