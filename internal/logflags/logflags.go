// Package logflags configures and exposes component loggers for the
// unwinding engine, following the same gate-then-log pattern the teacher's
// stack iterator calls through logflags.Stack() / logflags.StackLogger():
// callers check the boolean gate before doing any formatting work, then
// fetch the shared logger only if logging is actually enabled.
package logflags

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	mu          sync.Mutex
	unwindFlag  bool
	exprFlag    bool
	memviewFlag bool
	logger      = logrus.New()
)

func init() {
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// Setup enables or disables the named component loggers and sets the shared
// logrus level. Component names are "unwind", "dwarfexpr", "memview".
func Setup(level logrus.Level, components ...string) {
	mu.Lock()
	defer mu.Unlock()
	logger.SetLevel(level)
	unwindFlag, exprFlag, memviewFlag = false, false, false
	for _, c := range components {
		switch c {
		case "unwind":
			unwindFlag = true
		case "dwarfexpr":
			exprFlag = true
		case "memview":
			memviewFlag = true
		}
	}
}

// Unwind reports whether the unwind component logger is enabled.
func Unwind() bool {
	mu.Lock()
	defer mu.Unlock()
	return unwindFlag
}

// DwarfExpr reports whether the dwarfexpr component logger is enabled.
func DwarfExpr() bool {
	mu.Lock()
	defer mu.Unlock()
	return exprFlag
}

// MemView reports whether the memview component logger is enabled.
func MemView() bool {
	mu.Lock()
	defer mu.Unlock()
	return memviewFlag
}

// UnwindLogger returns the shared logger tagged for the unwind component.
func UnwindLogger() *logrus.Entry {
	return logger.WithField("layer", "unwind")
}

// DwarfExprLogger returns the shared logger tagged for the dwarfexpr component.
func DwarfExprLogger() *logrus.Entry {
	return logger.WithField("layer", "dwarfexpr")
}

// MemViewLogger returns the shared logger tagged for the memview component.
func MemViewLogger() *logrus.Entry {
	return logger.WithField("layer", "memview")
}
