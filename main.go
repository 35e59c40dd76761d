package main

import (
	"errors"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// The summary line was already printed; only the exit code remains.
		if errors.Is(err, errCycleHadFailures) {
			os.Exit(1)
		}

		exitOnError(err)
	}
}
