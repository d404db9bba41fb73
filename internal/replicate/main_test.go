package replicate

import (
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	// memguard's coffer rekeys in the background once the first enclave is
	// sealed, and regexp2 starts a shared clock on the first timed match.
	// Both live for the rest of the process.
	goleak.VerifyTestMain(m,
		goleak.IgnoreCurrent(),
		goleak.IgnoreTopFunction("github.com/awnumar/memguard/core.NewCoffer.func1"),
		goleak.IgnoreTopFunction("github.com/dlclark/regexp2.runClock"),
	)
}
