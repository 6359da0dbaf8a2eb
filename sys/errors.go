package sys

import (
	"runtime/debug"

	"github.com/agentuity/diskcache/logger"
	"github.com/cockroachdb/errors"
)

func panicError(depth int, r interface{}) error {
	if err, ok := r.(error); ok {
		return errors.WithStackDepth(errors.Wrap(err, "panic"), depth+1)
	}
	return errors.WithStackDepth(errors.Newf("panic: %v", r), depth+1)
}

// RecoverPanic logs a recovered panic with its stack. It must be deferred directly:
//
//	defer sys.RecoverPanic(log)
func RecoverPanic(log logger.Logger) {
	if r := recover(); r != nil {
		log.Error("%s\n%s", panicError(1, r), debug.Stack())
	}
}
