// openfd - firmware installer for embedded boards.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"openfd/cmd"
	"openfd/internal/core"
)

func main() {
	// Signals are handled by the run's abort controller, which releases
	// the console and devices before the process exits.
	err := cmd.Execute(context.Background(), os.Args[1:])
	if err == nil {
		return
	}
	var re *core.RunError
	if !errors.As(err, &re) {
		fmt.Fprintf(os.Stderr, "openfd: %v\n", err)
	}
	os.Exit(core.ExitCode(err))
}
