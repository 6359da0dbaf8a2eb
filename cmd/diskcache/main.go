package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/agentuity/diskcache/logger"
	"github.com/agentuity/diskcache/sys"
	"github.com/cockroachdb/errors"
)

func run() int {
	log.SetFlags(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer sys.RecoverPanic(logger.NewConsoleLogger())

	a := &app{}
	defer func() {
		if err := a.close(); err != nil {
			fmt.Fprintf(os.Stderr, "error: %s\n", err)
		}
	}()

	if err := newRootCommand(a).ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errNotFound) && !errors.Is(err, errKeyExists) {
			fmt.Fprintf(os.Stderr, "error: %s\n", err)
		}
		return 1
	}
	return 0
}

func main() {
	os.Exit(run())
}
