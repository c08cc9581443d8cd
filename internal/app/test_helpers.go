package app

import (
	"bytes"
	"context"
	"os"
	"sync"
	"testing"

	"github.com/vk/snippetrunner/internal/config"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// StaticLoader is a config.Loader returning a fixed model.
type StaticLoader struct {
	Model *config.Model
	Err   error
}

// Load implements config.Loader.
func (l StaticLoader) Load(context.Context, string) (*config.Model, error) {
	if l.Err != nil {
		return nil, l.Err
	}
	m := *l.Model
	m.Defaults()
	return &m, nil
}

// SetupAppTest creates a new app instance for system testing.
func SetupAppTest(t *testing.T, appConfig *Config, loader config.Loader) (*App, *SafeBuffer) {
	t.Helper()

	logBuffer := &SafeBuffer{}
	appConfig.LogLevel = "debug"
	testApp := NewApp(logBuffer, appConfig, loader)

	t.Cleanup(func() {
		if os.Getenv("SNIPPETRUNNER_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logBuffer.String())
		}
	})

	return testApp, logBuffer
}
