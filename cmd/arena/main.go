// Command arena runs blind head-to-head tournaments between language models
// in the terminal and maintains their Elo leaderboard.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
