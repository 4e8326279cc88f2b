// Command tally scores agent-produced workspaces and runs repeated suites.
package main

import "github.com/lemon07r/tally/internal/cli"

func main() {
	cli.Execute()
}
