// Command stsh is a small job-control shell: pipelines, redirection,
// background jobs and the fg/bg/jobs builtins.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
