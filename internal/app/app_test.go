package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/snippetrunner/internal/compiler"
	"github.com/vk/snippetrunner/internal/config"
	"github.com/vk/snippetrunner/internal/model"
	"github.com/vk/snippetrunner/internal/store/memory"
)

func TestNewConfig_Validation(t *testing.T) {
	cfg, err := NewConfig(Config{LogFormat: "json", LogLevel: "debug", HealthcheckPort: 8081})
	require.NoError(t, err)
	assert.Equal(t, 8081, cfg.HealthcheckPort)

	_, err = NewConfig(Config{LogFormat: "xml", LogLevel: "loud", HealthcheckPort: -1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log format")
	assert.Contains(t, err.Error(), "invalid log level")
	assert.Contains(t, err.Error(), "invalid healthcheck port")
}

func TestNewApp_AddrOverride(t *testing.T) {
	app, logs := SetupAppTest(t, &Config{Addr: "127.0.0.1:0"}, StaticLoader{Model: &config.Model{}})

	assert.Equal(t, "127.0.0.1:0", app.Model().Server.Addr)
	assert.Equal(t, config.DriverMemory, app.Model().Store.Driver)
	assert.Contains(t, logs.String(), "Configuration loaded.")
}

func TestNewApp_PanicsOnLoadFailure(t *testing.T) {
	assert.PanicsWithError(t, "failed to load configuration: boom", func() {
		NewApp(io.Discard, &Config{}, StaticLoader{Err: errors.New("boom")})
	})
}

func TestOpenMedium(t *testing.T) {
	ctx := context.Background()

	m, closeFn, err := openMedium(ctx, config.Store{Driver: config.DriverMemory})
	require.NoError(t, err)
	require.NotNil(t, m)
	require.NoError(t, closeFn())

	path := filepath.Join(t.TempDir(), "runner.db")
	m, closeFn, err = openMedium(ctx, config.Store{Driver: config.DriverSQLite, DSN: path, PollInterval: 50 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, m.Write(ctx, "c", "blob"))
	got, ok, err := m.Read(ctx, "c")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "blob", got)
	require.NoError(t, closeFn())

	_, closeFn, err = openMedium(ctx, config.Store{Driver: "mongo"})
	require.Error(t, err)
	assert.NotNil(t, closeFn)
}

func TestNewResolver_Overrides(t *testing.T) {
	r, err := newResolver("https://cdn.jsdelivr.net/npm/${name}", []string{"host.js"}, "https://example.com/host.js")
	require.NoError(t, err)

	refs := r.Resolve("jquery\nhost.js")
	assert.Equal(t, []string{"https://cdn.jsdelivr.net/npm/jquery"}, refs.Scripts)
	assert.Equal(t, "https://example.com/host.js", refs.HostRuntime)

	_, err = newResolver("https://cdn.example/${pkg}", nil, "")
	require.Error(t, err)
}

func TestBuildServer_WiresLibraryOverrides(t *testing.T) {
	app, _ := SetupAppTest(t, &Config{}, StaticLoader{Model: &config.Model{
		Libraries: config.Libraries{CDN: "https://cdn.jsdelivr.net/npm/${name}"},
	}})
	srv, comp, err := app.buildServer(memory.NewSpace().Medium())
	require.NoError(t, err)
	require.NotNil(t, comp)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	data := `{"id":"a1","name":"Wired","host":"EXCEL","script":{"content":"console.log(1)"},"libraries":"jquery"}`
	resp, err := http.PostForm(ts.URL+"/compile", url.Values{
		compiler.KeyData:      {data},
		compiler.KeyHost:      {"EXCEL"},
		compiler.KeyID:        {"a1"},
		compiler.KeyRunnerURL: {ts.URL},
		compiler.KeyReturnURL: {config.DefaultOrigin + "/"},
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Contains(t, string(body), "cdn.jsdelivr.net/npm/jquery")
}

func TestBuildServer_DefaultConfigTrustsCustomFunctions(t *testing.T) {
	app, _ := SetupAppTest(t, &Config{}, StaticLoader{Model: &config.Model{}})
	_, comp, err := app.buildServer(memory.NewSpace().Medium())
	require.NoError(t, err)

	post, err := compiler.ParsePostData(url.Values{
		compiler.KeyHost:      {"EXCEL"},
		compiler.KeyID:        {"f1"},
		compiler.KeyRunnerURL: {config.DefaultOrigin},
		compiler.KeyReturnURL: {config.DefaultOrigin + "/"},
	})
	require.NoError(t, err)

	script := "/**\n * Adds two numbers.\n * @customfunction\n * @sync\n * @param a First number\n * @param b Second number\n */\nfunction sum(a: number, b: number): number {\n  return a + b;\n}\n"
	got, err := comp.Compile(context.Background(), &model.Snippet{
		ID:     "f1",
		Name:   "Functions",
		Host:   "EXCEL",
		Script: model.Code{Content: script, Language: "typescript"},
	}, post)
	require.NoError(t, err)
	require.Len(t, got.CustomFunctions, 1)
	assert.Equal(t, "sum", got.CustomFunctions[0].Name)
	assert.Equal(t, model.StatusGood, got.CustomFunctions[0].Status)
}

func TestHealthHandler(t *testing.T) {
	app, _ := SetupAppTest(t, &Config{}, StaticLoader{Model: &config.Model{}})

	rec := httptest.NewRecorder()
	app.healthHandler(memory.NewSpace().Medium())(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK\n", rec.Body.String())
}

func TestRun_StopsOnCancel(t *testing.T) {
	app, logs := SetupAppTest(t, &Config{Addr: "127.0.0.1:0"}, StaticLoader{Model: &config.Model{}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool {
		return strings.Contains(logs.String(), "Snippet runner ready.")
	}, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestRun_FailsOnBadStorage(t *testing.T) {
	app, _ := SetupAppTest(t, &Config{}, StaticLoader{Model: &config.Model{}})
	app.config.Store = config.Store{Driver: "mongo"}

	err := app.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown storage driver")
}
