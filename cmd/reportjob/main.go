// Package main is the one-shot CLI for MIS reports: run variants from cron
// or a container task, list them, or fetch a delivered report from storage.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
