// -- cmd/version.go --
package cmd

// Version is the application version. It is overridden at build time via
// -ldflags "-X github.com/auditpitcrew/audit-pit-crew/cmd.Version=...".
var Version = "0.1.0-dev"
