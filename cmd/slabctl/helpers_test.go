package main

import (
	"bytes"
	"testing"
)

// captureOutput redirects command output while fn runs and restores the
// global output flags afterwards.
func captureOutput(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	origStdout, origJSON, origQuiet, origVerbose := stdout, jsonOut, quiet, verbose
	t.Cleanup(func() {
		stdout, jsonOut, quiet, verbose = origStdout, origJSON, origQuiet, origVerbose
	})

	var buf bytes.Buffer
	stdout = &buf
	err := fn()
	return buf.String(), err
}
