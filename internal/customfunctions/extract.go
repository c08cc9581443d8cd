package customfunctions

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/vk/snippetrunner/internal/model"
)

// Marker is the inclusion annotation.
const Marker = "@customfunction"

// Options controls status assignment.
type Options struct {
	// Trusted reports whether the snippet may register functions. Functions
	// of an untrusted snippet that would otherwise be Good are Untrusted.
	Trusted bool
}

// HasMarker reports whether script mentions the inclusion marker at all. It is
// a cheap pre-check before Extract.
func HasMarker(script string) bool {
	return strings.Contains(script, Marker)
}

// Extract returns metadata for every marked function declaration in script,
// in declaration order. Duplicate names are reported individually.
func Extract(script string, opts Options) []model.FunctionMetadata {
	toks := newLexer(script).all()
	out := []model.FunctionMetadata{}

	var doc *token
	async := false
	depth := 0

	for i := 0; i < len(toks); i++ {
		t := toks[i]
		switch {
		case t.typ == tokDoc:
			doc, async = &toks[i], false
			continue
		case t.typ == tokPunct && t.text == "{":
			depth++
		case t.typ == tokPunct && t.text == "}":
			if depth > 0 {
				depth--
			}
		case t.typ == tokIdent && (t.text == "export" || t.text == "default" || t.text == "declare"):
			continue
		case t.typ == tokIdent && t.text == "async":
			async = true
			continue
		case t.typ == tokIdent && t.text == "function" && doc != nil:
			tags := parseDoc(doc.text)
			if tags.marked {
				decl, next := parseDeclaration(toks, i+1)
				decl.async = async
				out = append(out, build(decl, tags, depth > 0, opts))
				i = next - 1
			}
		}
		doc, async = nil, false
	}
	return out
}

// declaration is the raw signature of one function.
type declaration struct {
	name       string
	generator  bool
	async      bool
	params     []rawParam
	returnType string
	problem    string
}

type rawParam struct {
	name     string
	typ      string
	optional bool
	rest     bool
}

// parseDeclaration reads "name(params): type" starting after the function
// keyword. It returns the index of the first token it did not consume.
func parseDeclaration(toks []token, i int) (declaration, int) {
	var d declaration
	if i < len(toks) && toks[i].text == "*" {
		d.generator = true
		i++
	}
	if i >= len(toks) || toks[i].typ != tokIdent {
		d.problem = "function has no name"
		return d, i
	}
	d.name = toks[i].text
	i++

	if i < len(toks) && toks[i].text == "<" {
		_, i = collectUntil(toks, i+1, ">")
		i++
	}
	if i >= len(toks) || toks[i].text != "(" {
		d.problem = "missing parameter list"
		return d, i
	}

	var paramToks []token
	paramToks, i = collectUntil(toks, i+1, ")")
	i++
	for _, group := range splitTopLevel(paramToks, ",") {
		if len(group) == 0 {
			continue
		}
		d.params = append(d.params, parseParam(group))
	}

	if i < len(toks) && toks[i].text == ":" {
		var retToks []token
		retToks, i = collectUntil(toks, i+1, "{")
		d.returnType = joinTokens(retToks)
	}
	return d, i
}

// collectUntil gathers tokens until closer appears at nesting level zero.
func collectUntil(toks []token, i int, closer string) ([]token, int) {
	var out []token
	level := 0
	for ; i < len(toks) && toks[i].typ != tokEOF; i++ {
		t := toks[i]
		if t.typ == tokPunct {
			if level == 0 && t.text == closer {
				return out, i
			}
			switch t.text {
			case "(", "[", "<":
				level++
			case ")", "]", ">":
				if level > 0 {
					level--
				}
			case "{":
				if closer != "{" {
					level++
				}
			case "}":
				if closer != "{" && level > 0 {
					level--
				}
			}
		}
		out = append(out, t)
	}
	return out, i
}

func splitTopLevel(toks []token, sep string) [][]token {
	var groups [][]token
	var cur []token
	level := 0
	for _, t := range toks {
		if t.typ == tokPunct {
			switch t.text {
			case "(", "[", "<", "{":
				level++
			case ")", "]", ">", "}":
				if level > 0 {
					level--
				}
			}
			if level == 0 && t.text == sep {
				groups = append(groups, cur)
				cur = nil
				continue
			}
		}
		cur = append(cur, t)
	}
	return append(groups, cur)
}

func parseParam(group []token) rawParam {
	var p rawParam
	i := 0
	if len(group) >= 3 && group[0].text == "." && group[1].text == "." && group[2].text == "." {
		p.rest = true
		i = 3
	}
	if i < len(group) {
		p.name = group[i].text
		i++
	}
	if i < len(group) && group[i].text == "?" {
		p.optional = true
		i++
	}
	if i < len(group) && group[i].text == ":" {
		typeToks, _ := collectUntil(group, i+1, "=")
		p.typ = joinTokens(typeToks)
	}
	return p
}

func joinTokens(toks []token) string {
	var b strings.Builder
	for _, t := range toks {
		b.WriteString(t.text)
	}
	return b.String()
}

// docTags is the parsed documentation block.
type docTags struct {
	marked        bool
	description   string
	params        map[string]string
	streaming     bool
	volatile      bool
	sync          bool
	noncancelable bool
}

var paramTag = regexp.MustCompile(`^@param\s+(?:\{[^}]*\}\s*)?\[?([A-Za-z_$][\w$]*)[^\s]*\s*(?:-\s*)?(.*)$`)

func parseDoc(text string) docTags {
	text = strings.TrimSuffix(strings.TrimPrefix(text, "/**"), "*/")
	tags := docTags{params: make(map[string]string)}
	var desc []string
	inDesc := true

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimSpace(strings.TrimPrefix(line, "*"))
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "@") {
			if inDesc {
				desc = append(desc, line)
			}
			continue
		}
		inDesc = false
		tag := strings.Fields(line)[0]
		switch tag {
		case Marker:
			tags.marked = true
		case "@streaming":
			tags.streaming = true
		case "@volatile":
			tags.volatile = true
		case "@sync":
			tags.sync = true
		case "@noncancelable":
			tags.noncancelable = true
		case "@param":
			if m := paramTag.FindStringSubmatch(line); m != nil {
				tags.params[m[1]] = strings.TrimSpace(m[2])
			}
		}
	}
	tags.description = strings.Join(desc, " ")
	return tags
}

var (
	promiseType   = regexp.MustCompile(`^Promise<(.+)>$`)
	arrayGeneric  = regexp.MustCompile(`^Array<(.+)>$`)
	streamingType = regexp.MustCompile(`^(?:CustomFunctions\.StreamingInvocation|IStreamingCustomFunctionHandler)<(.+)>$`)
)

func build(d declaration, tags docTags, nested bool, opts Options) model.FunctionMetadata {
	fn := model.FunctionMetadata{
		Name:        d.name,
		Description: tags.description,
		Parameters:  []model.ParameterMetadata{},
		Options: model.FunctionOptions{
			Sync:       true,
			Stream:     tags.streaming,
			Volatile:   tags.volatile,
			Cancelable: !tags.noncancelable,
		},
	}
	fail := func(format string, args ...any) model.FunctionMetadata {
		fn.Status = model.StatusError
		fn.Reason = fmt.Sprintf(format, args...)
		return fn
	}

	if d.problem != "" {
		return fail("%s", d.problem)
	}
	if nested {
		fn.Status = model.StatusSkipped
		fn.Reason = fmt.Sprintf("%s is not declared at the top level of the script", d.name)
		return fn
	}
	if d.generator {
		return fail("generator functions cannot be registered")
	}

	params := d.params
	returnType := d.returnType
	if m := promiseType.FindStringSubmatch(returnType); m != nil {
		returnType = m[1]
		fn.Options.Sync = false
	}
	if d.async {
		fn.Options.Sync = false
	}
	if tags.sync {
		fn.Options.Sync = true
	}

	if tags.streaming {
		fn.Options.Sync = false
		if len(params) == 0 {
			return fail("streaming function %s must take a CustomFunctions.StreamingInvocation parameter last", d.name)
		}
		last := params[len(params)-1]
		m := streamingType.FindStringSubmatch(last.typ)
		if m == nil {
			return fail("streaming function %s must take a CustomFunctions.StreamingInvocation parameter last, got %q", d.name, last.typ)
		}
		params = params[:len(params)-1]
		returnType = m[1]
	}

	for _, p := range params {
		if p.rest {
			return fail("rest parameter %s is not supported", p.name)
		}
		if p.typ == "" {
			return fail("parameter %s has no declared type", p.name)
		}
		vt, dim, err := classify(p.typ)
		if err != nil {
			return fail("parameter %s: %v", p.name, err)
		}
		fn.Parameters = append(fn.Parameters, model.ParameterMetadata{
			Name:           p.name,
			Description:    tags.params[p.name],
			Type:           vt,
			Dimensionality: dim,
		})
	}

	if returnType == "" {
		return fail("%s has no declared return type", d.name)
	}
	vt, dim, err := classify(returnType)
	if err != nil {
		return fail("result: %v", err)
	}
	fn.Result = model.ResultMetadata{Type: vt, Dimensionality: dim}

	if !opts.Trusted {
		fn.Status = model.StatusUntrusted
		fn.Reason = "the snippet has not been trusted to register custom functions"
		return fn
	}
	fn.Status = model.StatusGood
	return fn
}

// classify maps a declared type to a primitive value type and dimensionality.
func classify(typ string) (model.ValueType, model.Dimensionality, error) {
	base, dims := typ, 0
	for {
		switch {
		case strings.HasSuffix(base, "[]"):
			base = strings.TrimSuffix(base, "[]")
			dims++
			continue
		case arrayGeneric.MatchString(base):
			base = arrayGeneric.FindStringSubmatch(base)[1]
			dims++
			continue
		}
		break
	}
	if dims > 2 {
		return model.TypeInvalid, model.Scalar, fmt.Errorf("type %q has more than two dimensions", typ)
	}

	var vt model.ValueType
	switch base {
	case "number":
		vt = model.TypeNumber
	case "string":
		vt = model.TypeString
	case "boolean":
		vt = model.TypeBoolean
	default:
		return model.TypeInvalid, model.Scalar, fmt.Errorf("unsupported type %q (only number, string and boolean are allowed)", typ)
	}
	if dims > 0 {
		return vt, model.Matrix, nil
	}
	return vt, model.Scalar, nil
}
