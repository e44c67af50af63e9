// Package testing puts the back-office binaries into test mode. Import it for
// side effects from _test.go files that build routers or commands.
package testing

import "os"

// Env mirrors app.TestModeEnv; importing app here would cycle with its tests.
const Env = "BACKOFFICE_TEST_MODE"

func init() {
	if _, set := os.LookupEnv(Env); !set {
		_ = os.Setenv(Env, "1")
	}
}
