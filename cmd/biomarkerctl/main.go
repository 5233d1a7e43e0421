// Command biomarkerctl is the operator CLI of the biomarker normalizer.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
