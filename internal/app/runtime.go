package app

import (
	"os"
	"strconv"
	"strings"
	"sync"
)

// testModeEnv is set by the blank-imported testing package; the pos and
// worker binaries return before dialing Postgres or Redis while it is on.
const testModeEnv = "ODYSSEY_TEST_MODE"

var testMode = &envSwitch{name: testModeEnv}

// envSwitch is a boolean environment variable read lazily and cached.
// Anything strconv.ParseBool rejects counts as off.
type envSwitch struct {
	name string
	once sync.Once
	mu   sync.RWMutex
	on   bool
}

func (s *envSwitch) load() {
	on, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(s.name)))
	s.mu.Lock()
	s.on = err == nil && on
	s.mu.Unlock()
}

func (s *envSwitch) enabled() bool {
	s.once.Do(s.load)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.on
}

func (s *envSwitch) reload() {
	s.once.Do(func() {})
	s.load()
}

// InTestMode reports whether the binaries should skip startup side effects.
func InTestMode() bool {
	return testMode.enabled()
}

// RefreshTestMode re-reads the environment after it changed.
func RefreshTestMode() {
	testMode.reload()
}
