package connio

import (
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/consolemux/consolemux/internal/object"
)

// ExpandLogTemplate expands the %N (console name) and %D (date,
// YYYY-MM-DD) placeholders used in logfile filename templates.
func ExpandLogTemplate(template, consoleName string, now time.Time) string {
	r := strings.NewReplacer(
		"%N", consoleName,
		"%D", now.Format("2006-01-02"),
	)
	return r.Replace(template)
}

// OpenLogfile opens path in append mode (truncating exactly once if
// truncateOnce is set, for the zero-logs startup flag), acquires a
// non-blocking advisory write lock so a second daemon instance logging to
// the same file is a startup-fatal collision rather than silent
// interleaving, and sets close-on-exec.
func OpenLogfile(path string, truncateOnce bool) (*os.File, error) {
	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if truncateOnce {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("connio: open logfile %s: %w", path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("connio: logfile %s already locked by another instance: %w", path, err)
	}
	if err := setCloseOnExec(int(f.Fd())); err != nil {
		f.Close()
		return nil, fmt.Errorf("connio: logfile %s: %w", path, err)
	}
	return f, nil
}

// ReopenLogfile implements the SIGHUP reopen path: always append, never
// truncate, regardless of the startup zero-logs flag.
func ReopenLogfile(path string) (*os.File, error) {
	return OpenLogfile(path, false)
}

func setCloseOnExec(fd int) error {
	_, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC)
	return err
}

// NewLogfileObject builds a Logfile object bound to console, with fd -1
// until the caller opens the file and assigns it.
func NewLogfileObject(name string, console *object.Object, pathTemplate string, ringSize int) *object.Object {
	obj := object.New(name, object.Logfile, ringSize)
	obj.Aux = &object.LogfileAux{
		Console: console,
		Path:    pathTemplate,
	}
	return obj
}
