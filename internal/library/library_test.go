package library

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/snippetrunner/internal/fault"
)

func TestResolve_ClassifiesReferences(t *testing.T) {
	refs := Default().Resolve("jquery\nhttps://x.com/a.css\n# comment\noffice.js\n")

	assert.Equal(t, []string{"https://unpkg.com/jquery"}, refs.Scripts)
	assert.Equal(t, []string{"https://x.com/a.css"}, refs.Links)
	assert.Equal(t, DefaultHostRuntime.URL, refs.HostRuntime)
	assert.Empty(t, refs.Diagnostics)
}

func TestResolve_DropsCommentsAndTypeDeclarations(t *testing.T) {
	text := `
// a comment
/* block start
block end */
@types/jquery
dt~office-js
https://example.com/lib/index.d.ts
office-ui-fabric-js@1.4.0/dist/css/fabric.min.css
core-js@2.4.1/client/core.min.js
`
	refs := Default().Resolve(text)

	assert.Equal(t, []string{"https://unpkg.com/core-js@2.4.1/client/core.min.js"}, refs.Scripts)
	assert.Equal(t, []string{"https://unpkg.com/office-ui-fabric-js@1.4.0/dist/css/fabric.min.css"}, refs.Links)
	assert.Empty(t, refs.HostRuntime)
}

func TestResolve_SkipsLinesInsideBlockComment(t *testing.T) {
	text := "/*\nlodash\nhttps://x.com/a.css\n*/\njquery\n/* one line */\nmoment\n"
	refs := Default().Resolve(text)

	assert.Equal(t, []string{"https://unpkg.com/jquery", "https://unpkg.com/moment"}, refs.Scripts)
	assert.Empty(t, refs.Links)
	assert.Empty(t, refs.Diagnostics)
}

func TestResolve_HostRuntimeMatchedCaseInsensitively(t *testing.T) {
	refs := Default().Resolve("https://appsforoffice.microsoft.com/lib/beta/hosted/Office.Debug.js\nlodash")

	assert.Equal(t, "https://appsforoffice.microsoft.com/lib/beta/hosted/Office.Debug.js", refs.HostRuntime)
	assert.Equal(t, []string{"https://unpkg.com/lodash"}, refs.Scripts)
}

func TestResolve_FirstSeenOrderAndDeduplication(t *testing.T) {
	refs := Default().Resolve("b\na\nhttps://unpkg.com/b\nc.css\na")

	assert.Equal(t, []string{"https://unpkg.com/b", "https://unpkg.com/a"}, refs.Scripts)
	assert.Equal(t, []string{"https://unpkg.com/c.css"}, refs.Links)
}

func TestResolve_MalformedLineDoesNotAbortSiblings(t *testing.T) {
	refs := Default().Resolve("jquery\nnot a package\nhttps://x.com/has space.js\nlodash")

	assert.Equal(t, []string{"https://unpkg.com/jquery", "https://unpkg.com/lodash"}, refs.Scripts)
	require.Len(t, refs.Diagnostics, 2)
	assert.Equal(t, 2, refs.Diagnostics[0].Line)
	assert.Equal(t, 3, refs.Diagnostics[1].Line)
	assert.True(t, fault.Is(refs.Diagnostics[0].Err, fault.Malformed))
	assert.NotEmpty(t, refs.Diagnostics[0].Reason)
}

func TestResolve_IsDeterministic(t *testing.T) {
	inputs := []string{
		"",
		"jquery\nhttps://x.com/a.css\n# comment\noffice.js\n",
		"c\nb\na\nb.css\na.css\n@types/a\n",
		"  padded  \n\n\n\tlodash@4\n",
	}
	r := Default()
	for _, in := range inputs {
		first := r.Resolve(in)
		second := r.Resolve(in)
		if diff := cmp.Diff(first, second, cmpopts.IgnoreFields(Diagnostic{}, "Err")); diff != "" {
			t.Errorf("Resolve(%q) is not deterministic (-first +second):\n%s", in, diff)
		}
	}
}

func TestResolve_CustomCDNTemplate(t *testing.T) {
	cdn, err := ParseTemplate("https://cdn.jsdelivr.net/npm/${name}")
	require.NoError(t, err)

	refs := NewResolver(cdn, DefaultHostRuntime).Resolve("jquery@3")
	assert.Equal(t, []string{"https://cdn.jsdelivr.net/npm/jquery@3"}, refs.Scripts)
}

func TestParseTemplate_RejectsUnknownVariables(t *testing.T) {
	_, err := ParseTemplate("https://cdn/${version}/${name}")
	assert.ErrorContains(t, err, "version")

	_, err = ParseTemplate("https://cdn/${name")
	assert.Error(t, err)
}
