package main

import (
	"fmt"
	"os"
)

func main() {
	os.Exit(Main())
}

// Main runs the command line and returns the process exit status.
func Main() int {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}
