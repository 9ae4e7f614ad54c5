// Package testing prepares the process environment for tests that load
// configuration or start binaries. Import it for its side effects.
package testing

import (
	"os"
	"sync"
)

// Defaults are applied to variables the environment leaves unset.
var Defaults = map[string]string{
	"ODYSSEY_TEST_MODE":         "1",
	"DEFERRAL_DEFAULT_CURRENCY": "IDR",
	"LOG_FORMAT":                "pretty",
}

var once sync.Once

// Apply sets every missing default once per process.
func Apply() {
	once.Do(func() {
		for key, value := range Defaults {
			if _, ok := os.LookupEnv(key); !ok {
				_ = os.Setenv(key, value)
			}
		}
	})
}

func init() {
	Apply()
}
