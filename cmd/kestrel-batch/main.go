// Kestrel - Biotech scoring and comparables valuation engine.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"errors"
	"fmt"
	"os"
)

// Exit codes for different failure modes
const (
	ExitSuccess        = 0 // Every company analyzed
	ExitCompanyFailure = 1 // One or more companies failed or were cancelled
	ExitError          = 2 // Configuration or runtime error
)

// BatchFailureError reports a batch that ran but did not analyze every
// company.
type BatchFailureError struct {
	Failed    int
	Cancelled int
}

func (e *BatchFailureError) Error() string {
	return fmt.Sprintf("batch finished with %d failed and %d cancelled companies", e.Failed, e.Cancelled)
}

func main() {
	if err := execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)

		var failure *BatchFailureError
		if errors.As(err, &failure) {
			os.Exit(ExitCompanyFailure)
		}
		os.Exit(ExitError)
	}
}
