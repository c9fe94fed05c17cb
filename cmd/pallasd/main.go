// Command pallasd runs one validator node of a pallas BFT network.
package main

import (
	"fmt"
	"os"

	"github.com/pallaschain/pallas/cmd/pallasd/cli"
)

func main() {
	if err := cli.NewRoot().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
