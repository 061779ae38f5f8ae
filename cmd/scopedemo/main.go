// Command scopedemo walks through scopes, failure policies, lifecycles and
// broadcasters, printing what happens at each step.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
