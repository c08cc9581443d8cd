package customfunctions

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/snippetrunner/internal/model"
)

const sampleScript = `
/**
 * Adds two numbers.
 * @customfunction
 * @sync
 * @param a First number
 * @param b Second number
 */
function sum(a: number, b: number): number {
  return a + b;
}

/**
 * Adds two numbers, but is not registered.
 */
function sum2(a: number, b: number): number {
  return a + b;
}

function sum3(a: number, b: number): number {
  // "@customfunction" inside a function body does nothing
  return a + b;
}
`

func TestExtract_SampleYieldsOneGoodFunction(t *testing.T) {
	got := Extract(sampleScript, Options{Trusted: true})

	want := []model.FunctionMetadata{{
		Name:        "sum",
		Description: "Adds two numbers.",
		Parameters: []model.ParameterMetadata{
			{Name: "a", Description: "First number", Type: model.TypeNumber, Dimensionality: model.Scalar},
			{Name: "b", Description: "Second number", Type: model.TypeNumber, Dimensionality: model.Scalar},
		},
		Result:  model.ResultMetadata{Type: model.TypeNumber, Dimensionality: model.Scalar},
		Options: model.FunctionOptions{Sync: true, Stream: false, Volatile: false, Cancelable: true},
		Status:  model.StatusGood,
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Extract() mismatch (-want +got):\n%s", diff)
	}
}

func TestExtract_NoMarkerNoEntries(t *testing.T) {
	got := Extract("function f(a: number): number { return a }", Options{Trusted: true})
	assert.Empty(t, got)
	assert.False(t, HasMarker("function f() {}"))
	assert.True(t, HasMarker(sampleScript))
}

func TestExtract_Options(t *testing.T) {
	script := `
/**
 * Ticks.
 * @customfunction
 * @streaming
 * @volatile
 * @noncancelable
 */
export function clock(step: number, invocation: CustomFunctions.StreamingInvocation<string>): void {
  setInterval(() => invocation.setResult(new Date().toISOString()), step);
}

/** @customfunction */
export async function fetchPrice(ticker: string): Promise<number> {
  return 1;
}
`
	got := Extract(script, Options{Trusted: true})
	require.Len(t, got, 2)

	clock := got[0]
	assert.Equal(t, model.StatusGood, clock.Status, clock.Reason)
	assert.Equal(t, model.FunctionOptions{Sync: false, Stream: true, Volatile: true, Cancelable: false}, clock.Options)
	require.Len(t, clock.Parameters, 1)
	assert.Equal(t, "step", clock.Parameters[0].Name)
	assert.Equal(t, model.ResultMetadata{Type: model.TypeString, Dimensionality: model.Scalar}, clock.Result)

	price := got[1]
	assert.Equal(t, model.StatusGood, price.Status, price.Reason)
	assert.False(t, price.Options.Sync)
	assert.Equal(t, model.TypeNumber, price.Result.Type)
}

func TestExtract_RegexLiteralBracesDoNotNest(t *testing.T) {
	script := `
const open = /\{[^}/]*/g;
const ratio = 4 / 2 / 1;

/** @customfunction */
function half(x: number): number {
  return x.toString().replace(/}/, "") ? x / 2 : 0;
}
`
	got := Extract(script, Options{Trusted: true})
	require.Len(t, got, 1)
	assert.Equal(t, "half", got[0].Name)
	assert.Equal(t, model.StatusGood, got[0].Status, got[0].Reason)
}

func TestLexer_SlashAfterOperandIsDivision(t *testing.T) {
	var kinds []tokenType
	for _, tok := range newLexer("a / b / /x/i").all() {
		kinds = append(kinds, tok.typ)
	}
	want := []tokenType{tokIdent, tokPunct, tokIdent, tokPunct, tokRegex, tokEOF}
	if diff := cmp.Diff(want, kinds); diff != "" {
		t.Errorf("token kinds mismatch (-want +got):\n%s", diff)
	}
}

func TestExtract_MatrixTypes(t *testing.T) {
	script := `
/** @customfunction */
function total(values: number[][], labels: Array<string>): boolean[][] { return [[true]]; }
`
	got := Extract(script, Options{Trusted: true})
	require.Len(t, got, 1)
	fn := got[0]
	assert.Equal(t, model.StatusGood, fn.Status, fn.Reason)
	assert.Equal(t, model.Matrix, fn.Parameters[0].Dimensionality)
	assert.Equal(t, model.TypeString, fn.Parameters[1].Type)
	assert.Equal(t, model.Matrix, fn.Parameters[1].Dimensionality)
	assert.Equal(t, model.ResultMetadata{Type: model.TypeBoolean, Dimensionality: model.Matrix}, fn.Result)
}

func TestExtract_ErrorsKeepTheEntry(t *testing.T) {
	script := `
/** @customfunction */
function anyParam(a: any): number { return 1; }

/** @customfunction */
function untyped(a): number { return 1; }

/** @customfunction */
function noResult(a: number) { return 1; }

/** @customfunction
 * @streaming */
function badStream(a: number): void {}

/** @customfunction */
function fine(a: number): number { return a; }
`
	got := Extract(script, Options{Trusted: true})
	require.Len(t, got, 5)

	for _, fn := range got[:4] {
		assert.Equal(t, model.StatusError, fn.Status, fn.Name)
		assert.NotEmpty(t, fn.Reason, fn.Name)
	}
	assert.Equal(t, model.StatusGood, got[4].Status)
}

func TestExtract_NestedIsSkipped(t *testing.T) {
	script := `
namespace outer {
  /** @customfunction */
  function inner(a: number): number { return a; }
}
`
	got := Extract(script, Options{Trusted: true})
	require.Len(t, got, 1)
	assert.Equal(t, model.StatusSkipped, got[0].Status)
}

func TestExtract_UntrustedAndDuplicates(t *testing.T) {
	script := `
/** @customfunction */
function twice(a: number): number { return a * 2; }

/** @customfunction */
function twice(a: string): string { return a + a; }

/** @customfunction */
function broken(a: object): number { return 1; }
`
	got := Extract(script, Options{Trusted: false})
	require.Len(t, got, 3)
	assert.Equal(t, model.StatusUntrusted, got[0].Status)
	assert.Equal(t, model.StatusUntrusted, got[1].Status)
	assert.Equal(t, model.StatusError, got[2].Status)
	assert.Equal(t, got[0].Name, got[1].Name)
}

func TestExtract_BracesInStringsAndComments(t *testing.T) {
	script := `
const s = "{ not a scope";
// }
/* { */
/** @customfunction */
function after(a: boolean): boolean { return !a; }
`
	got := Extract(script, Options{Trusted: true})
	require.Len(t, got, 1)
	assert.Equal(t, model.StatusGood, got[0].Status, got[0].Reason)
}

func TestRegistration_OnlyGood(t *testing.T) {
	funcs := Extract(sampleScript+`
/** @customfunction */
function bad(a: any): number { return 1; }
`, Options{Trusted: true})
	require.Len(t, funcs, 2)

	m := Registration(funcs)
	require.Len(t, m.Functions, 1)
	assert.Equal(t, "SUM", m.Functions[0].ID)
	assert.Equal(t, "SUM", m.Functions[0].Name)
	assert.Len(t, m.Functions[0].Parameters, 2)

	raw, err := m.JSON()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"functions":[{"id":"SUM"`)
}

func TestRegistration_EmptyIsArray(t *testing.T) {
	raw, err := Registration(nil).JSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"functions":[]}`, string(raw))
}
