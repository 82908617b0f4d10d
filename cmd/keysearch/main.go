// Command keysearch runs a complete key search in a single process and
// provides the helpers used to prepare inputs for distributed runs.
//
//	keysearch encrypt --key 18014398509481983 --in message.txt --out message.bin
//	keysearch run --in message.bin --workers 8
//	keysearch run --in message.txt --key 123456 --max-key 1000000
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
