package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

const testModeEnv = "ODYSSEY_TEST_MODE"

var once sync.Once

// ensureTestMode flags the process so binaries skip connecting to Postgres and Redis.
func ensureTestMode() {
	once.Do(func() {
		if os.Getenv(testModeEnv) == "" {
			_ = os.Setenv(testModeEnv, "1")
		}
	})
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
