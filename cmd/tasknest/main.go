// Package main is the entry point for the tasknest CLI.
package main

import "github.com/tasknest/tasknest-cli/internal/cli"

func main() {
	cli.Execute()
}
