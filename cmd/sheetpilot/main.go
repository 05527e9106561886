// sheetpilot cleans tabular data files from the command line.
//
// Usage:
//
//	sheetpilot clean -i <input> -o <output> [--impute "..."] [--normalize "..."] [--outlier "..."]
//	sheetpilot clean -i <input> -o <output> -c <pipeline.yaml>
//	sheetpilot modules [--plugins-dir <dir>]
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
