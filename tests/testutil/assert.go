package testutil

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// AssertNoSecretLeak asserts that none of the secret values appear in output.
func AssertNoSecretLeak(t *testing.T, output string, secrets []string) {
	t.Helper()

	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		assert.NotContains(t, output, secret, "Secret value %q leaked into output", secret)
	}
}

// AssertLinesContain asserts that each expected fragment appears on some
// line of output, in order.
func AssertLinesContain(t *testing.T, output string, expected []string) {
	t.Helper()

	lines := strings.Split(output, "\n")
	next := 0
	for _, want := range expected {
		found := false
		for next < len(lines) {
			line := lines[next]
			next++
			if strings.Contains(line, want) {
				found = true
				break
			}
		}
		if !found {
			assert.Fail(t, fmt.Sprintf("Expected a line containing %q (in order) in:\n%s", want, output))
			return
		}
	}
}
