// Command gpctl fits Gaussian process surrogates on CSV data and uses them
// to predict, rank candidates and draw learning curves.
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
