package compiler

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/snippetrunner/internal/fault"
	"github.com/vk/snippetrunner/internal/model"
)

type fakeInner struct {
	last InnerDocument
	err  error
}

func (f *fakeInner) RenderInner(doc InnerDocument) (string, error) {
	f.last = doc
	if f.err != nil {
		return "", f.err
	}
	return "<inner>" + doc.Title + "</inner>", nil
}

func newCompiler(t *testing.T, inner InnerRenderer) *Compiler {
	t.Helper()
	c, err := New(Options{Inner: inner, Trusted: true})
	require.NoError(t, err)
	return c
}

func samplePost(t *testing.T) PostData {
	t.Helper()
	post, err := ParsePostData(url.Values{
		KeyData:       {`{"id":"L123","script":{"content":"console.log(1)"}}`},
		KeyHost:       {"EXCEL"},
		KeyID:         {"L123"},
		KeyRunnerURL:  {"https://runner.example.com/"},
		KeyReturnURL:  {"https://editor.example.com/edit"},
		KeyRefreshURL: {"https://stale.example.com"},
		KeyPlatform:   {"PC"},
		"extra":       {"1"},
	})
	require.NoError(t, err)
	return post
}

func sampleSnippet() *model.Snippet {
	return &model.Snippet{
		ID:         "L123",
		Name:       "Blank snippet",
		Author:     "someone",
		Host:       "Excel",
		ModifiedAt: 100,
		Script:     model.Code{Content: "console.log(1)", Language: "typescript"},
		Template:   model.Code{Content: "<button>Run</button>", Language: "html"},
		Style:      model.Code{Content: "body { margin: 0 }", Language: "css"},
		Library:    "jquery\nhttps://x.com/a.css\n# comment\noffice.js\n",
	}
}

func TestCompile_MissingContent(t *testing.T) {
	c := newCompiler(t, &fakeInner{})
	post := samplePost(t)

	for name, snippet := range map[string]*model.Snippet{
		"nil snippet":  nil,
		"empty script": {ID: "a", Host: "EXCEL"},
		"blank script": {ID: "a", Host: "EXCEL", Script: model.Code{Content: "  \n"}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := c.Compile(context.Background(), snippet, post)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMissingContent))
			assert.Equal(t, fault.Malformed, fault.KindOf(err))
		})
	}
}

func TestCompile_Context(t *testing.T) {
	inner := &fakeInner{}
	c := newCompiler(t, inner)

	got, err := c.Compile(context.Background(), sampleSnippet(), samplePost(t))
	require.NoError(t, err)

	assert.Equal(t, "Blank snippet", got.SnippetName)
	assert.Equal(t, "someone", got.SnippetAuthor)
	assert.Equal(t, "excel", got.Host)
	assert.Equal(t, "<inner>Blank snippet</inner>", got.InnerContent)
	assert.True(t, got.IsHostSnippet)
	assert.True(t, got.ReservePadding)
	assert.Equal(t, "https://appsforoffice.microsoft.com/lib/1/hosted/office.js", got.HostRuntime)
	assert.Equal(t, "https://editor.example.com/edit", got.ReturnURL)
	assert.Equal(t, "https://runner.example.com/", got.RunnerURL)

	assert.Equal(t, []string{"https://unpkg.com/jquery"}, inner.last.Scripts)
	assert.Equal(t, []string{"https://x.com/a.css"}, inner.last.Links)
	assert.Equal(t, "console.log(1)", inner.last.Script)
}

func TestCompile_RefreshURLExcludesBodyAndItself(t *testing.T) {
	c := newCompiler(t, &fakeInner{})
	got, err := c.Compile(context.Background(), sampleSnippet(), samplePost(t))
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(got.RefreshURL, "https://runner.example.com/run?"), got.RefreshURL)
	u, err := url.Parse(got.RefreshURL)
	require.NoError(t, err)

	q := u.Query()
	assert.NotContains(t, q, KeyData)
	assert.NotContains(t, q, KeyRefreshURL)
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	assert.ElementsMatch(t, []string{KeyHost, KeyID, KeyRunnerURL, KeyReturnURL, KeyPlatform, "extra"}, keys)
	assert.Equal(t, "L123", q.Get(KeyID))
}

func TestCompile_WebSnippetHasNoRuntime(t *testing.T) {
	c := newCompiler(t, &fakeInner{})
	snippet := sampleSnippet()
	snippet.Host = "web"

	got, err := c.Compile(context.Background(), snippet, samplePost(t))
	require.NoError(t, err)
	assert.False(t, got.IsHostSnippet)
	assert.Empty(t, got.HostRuntime)
	assert.Equal(t, "web", got.Host)
}

func TestCompile_CustomFunctions(t *testing.T) {
	c := newCompiler(t, &fakeInner{})
	snippet := sampleSnippet()
	snippet.Script.Content = "/** @customfunction */\nfunction add(a: number, b: number): number { return a + b; }\n"

	got, err := c.Compile(context.Background(), snippet, samplePost(t))
	require.NoError(t, err)
	require.Len(t, got.CustomFunctions, 1)
	assert.Equal(t, model.StatusGood, got.CustomFunctions[0].Status)
}

func TestCompile_InnerRenderFailure(t *testing.T) {
	c := newCompiler(t, &fakeInner{err: errors.New("boom")})
	_, err := c.Compile(context.Background(), sampleSnippet(), samplePost(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestParsePostData_MandatoryKeys(t *testing.T) {
	full := url.Values{
		KeyHost:      {"EXCEL"},
		KeyID:        {"1"},
		KeyRunnerURL: {"https://r"},
		KeyReturnURL: {"https://e"},
	}
	_, err := ParsePostData(full)
	require.NoError(t, err)

	for _, key := range []string{KeyHost, KeyID, KeyRunnerURL, KeyReturnURL} {
		t.Run(key, func(t *testing.T) {
			partial := url.Values{}
			for k, v := range full {
				if k != key {
					partial[k] = v
				}
			}
			_, err := ParsePostData(partial)
			require.Error(t, err)
			assert.Equal(t, fault.Malformed, fault.KindOf(err))
			assert.Contains(t, fault.UserMessage(err, ""), key)
		})
	}
}

func TestNew_RequiresInnerRenderer(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestParsePlatform(t *testing.T) {
	assert.Equal(t, PlatformPC, ParsePlatform("pc"))
	assert.Equal(t, PlatformOnline, ParsePlatform("OfficeOnline"))
	assert.Equal(t, PlatformUnknown, ParsePlatform("toaster"))
	assert.False(t, PlatformMac.ReservesScrollbarPadding())
}
