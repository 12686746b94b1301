package debug

import (
	"io"
	"log"
	"os"
)

// Logger writes debug output when enabled. A nil *Logger discards everything.
type Logger struct {
	enabled bool
	out     *log.Logger
	closer  io.Closer
}

// NewLogger opens path for appending when enabled. If the file cannot be
// opened the logger falls back to stderr.
func NewLogger(enabled bool, path string) *Logger {
	if !enabled {
		return &Logger{}
	}
	var w io.Writer = os.Stderr
	var closer io.Closer
	if path != "" {
		if f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666); err == nil {
			w, closer = f, f
		}
	}
	l := &Logger{enabled: true, out: log.New(w, "", log.LstdFlags), closer: closer}
	l.Printf("=== DEBUG MODE ENABLED ===")
	return l
}

// NewWriterLogger logs to w; used by tests and the stdio action server.
func NewWriterLogger(w io.Writer) *Logger {
	return &Logger{enabled: true, out: log.New(w, "", 0)}
}

// With returns a logger that prefixes every line with "[component] ".
func (d *Logger) With(component string) *Logger {
	if d == nil || !d.enabled {
		return d
	}
	return &Logger{
		enabled: true,
		out:     log.New(d.out.Writer(), d.out.Prefix()+"["+component+"] ", d.out.Flags()),
	}
}

func (d *Logger) Printf(format string, args ...interface{}) {
	if d != nil && d.enabled {
		d.out.Printf(format, args...)
	}
}

func (d *Logger) Println(args ...interface{}) {
	if d != nil && d.enabled {
		d.out.Println(args...)
	}
}

func (d *Logger) IsEnabled() bool {
	return d != nil && d.enabled
}

func (d *Logger) Close() error {
	if d == nil || d.closer == nil {
		return nil
	}
	return d.closer.Close()
}
