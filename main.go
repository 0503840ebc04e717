// ./main.go
package main

import (
	"github.com/auditpitcrew/audit-pit-crew/cmd"
)

// main is the entry point for the audit-pit-crew service.
func main() {
	// Execute the root command defined in the cmd package.
	// This handles all command-line parsing, configuration, and execution.
	cmd.Execute()
}
