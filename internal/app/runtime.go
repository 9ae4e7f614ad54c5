package app

import (
	"os"
	"strconv"
)

const testModeEnv = "ODYSSEY_TEST_MODE"

// InTestMode reports whether binaries should return before opening
// connections. Any true value accepted by strconv.ParseBool enables it.
func InTestMode() bool {
	on, err := strconv.ParseBool(os.Getenv(testModeEnv))
	return err == nil && on
}
