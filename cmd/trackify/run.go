package main

import (
	"context"
	"fmt"
	"os"

	"github.com/0neda/trackify/internal/cli"
)

// Run executes the CLI and returns the process exit code. Split from
// main so tests can drive the command tree without os.Exit.
func Run(ctx context.Context, args []string) int {
	root := cli.NewRootCmd(Version)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		// cobra has already printed usage where that applies.
		fmt.Fprintln(os.Stderr, err.Error())
		return 1
	}
	return 0
}
