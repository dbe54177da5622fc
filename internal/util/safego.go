package util

import (
	"runtime/debug"

	"github.com/whalestrategy/whalestake/internal/logging"
)

// SafeGoWithName runs fn on a new goroutine. A panic is recovered and logged
// with the goroutine name and stack instead of taking the process down.
func SafeGoWithName(name string, fn func()) {
	go func() {
		defer Recover(name)
		fn()
	}()
}

// Recover logs a recovered panic. It must be called directly via defer.
func Recover(name string) {
	if r := recover(); r != nil {
		logging.Error("goroutine panic recovered",
			"goroutine", name,
			"panic", r,
			"stack", string(debug.Stack()),
		)
	}
}
