// Command scentctl manages the ScentMatch catalog and missing-product queue.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
