// Package globals holds CLI flags shared across every subcommand.
package globals

// Globals are the flags kong injects into every subcommand's Run method.
type Globals struct {
	Verbose bool `help:"Enable verbose (debug) logging" short:"v"`
}
