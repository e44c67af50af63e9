package app

import (
	"os"
	"strconv"
)

// TestModeEnv is set by the testing package; binaries return before dialing
// Postgres or Redis when it is true.
const TestModeEnv = "BACKOFFICE_TEST_MODE"

// InTestMode reports whether the process runs under go test.
func InTestMode() bool {
	on, err := strconv.ParseBool(os.Getenv(TestModeEnv))
	return err == nil && on
}
