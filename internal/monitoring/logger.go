// Package monitoring holds the process-wide diagnostic loggers used by the
// simulation packages.
package monitoring

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var base = newBase()

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// Logf is the package-level diagnostic logger. It defaults to the logrus
// backend at info level but may be replaced by SetLogger. Tests or production
// code can redirect or mute it.
var Logf func(format string, v ...interface{}) = base.Infof

// SetLogger replaces the printf-style logger. Passing nil mutes both Logf and
// the structured logger returned by Log.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		base.SetOutput(io.Discard)
		return
	}
	Logf = f
}

// SetOutput redirects the structured logger. A nil writer restores stderr.
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	base.SetOutput(w)
}

// SetVerbose switches the structured logger between info and debug level.
func SetVerbose(verbose bool) {
	if verbose {
		base.SetLevel(logrus.DebugLevel)
		return
	}
	base.SetLevel(logrus.InfoLevel)
}

// Log returns the structured logger for field-tagged events such as worker
// failures and cache decisions.
func Log() *logrus.Entry {
	return logrus.NewEntry(base)
}
