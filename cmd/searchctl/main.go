// Command searchctl indexes and searches participants from the command line,
// and publishes document events for a running indexer.
package main

import (
	"os"

	"github.com/Adithya-Monish-Kumar-K/searchcore/cmd/searchctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
