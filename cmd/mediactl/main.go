// Command mediactl is the operator tool for storage accounts, usage counters and billing status.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
