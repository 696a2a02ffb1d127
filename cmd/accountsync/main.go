// Command accountsync reads and watches on-chain accounts through the
// cached, retrying account sync engine.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
