package eval

import (
	"context"
	"encoding/xml"
	"strings"

	"github.com/helix90/wilddoc/internal/value"
)

// evalAttr evaluates one raw attribute: a `:dialect` suffix routes
// the value through that engine; otherwise the value is parsed as JSON,
// falling back to a plain string. Returns the attribute's effective name
// (the dialect suffix stripped) and its Value.
func (ev *Evaluator) evalAttr(ctx context.Context, a xml.Attr) (string, value.Value, error) {
	name := a.Name.Local
	if a.Name.Space != "" {
		name = a.Name.Space + ":" + a.Name.Local
	}

	if i := strings.LastIndex(name, ":"); i >= 0 {
		dialect := name[i+1:]
		if eng, ok := ev.scripts.Get(dialect); ok {
			v, err := eng.Eval(ctx, a.Value, ev.vars)
			if err != nil {
				ev.log().Error("script eval failed", "dialect", dialect, "error", err)
				return "", value.Null, &ScriptError{Dialect: dialect, Err: err}
			}
			return name[:i], v, nil
		}
	}

	if v, ok := value.ParseJSON(a.Value); ok {
		return name, v, nil
	}
	return name, value.NewString(a.Value), nil
}

// attrMap evaluates every attribute of start into a name->Value map, for
// operators that consume their whole attribute set (wd:local).
func (ev *Evaluator) attrMap(ctx context.Context, start xml.StartElement) (map[string]value.Value, error) {
	out := make(map[string]value.Value, len(start.Attr))
	for _, a := range start.Attr {
		name, v, err := ev.evalAttr(ctx, a)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

// reqAttr evaluates a single named attribute, returning value.Null if
// absent. name is the attribute's effective (dialect-suffix-stripped)
// name, so callers asking for "value" also match a "value:js" attribute.
func (ev *Evaluator) reqAttr(ctx context.Context, start xml.StartElement, name string) (value.Value, error) {
	for _, a := range start.Attr {
		effName, v, err := ev.evalAttr(ctx, a)
		if err != nil {
			return value.Null, err
		}
		if effName == name {
			return v, nil
		}
	}
	return value.Null, nil
}

// rawAttr returns an attribute's literal source text without dialect
// dispatch or JSON parsing, for operator grammar that is always a plain
// string (e.g. collection names, field names). It matches only
// unprefixed attributes, since a dialect-suffixed form implies the caller
// wants evaluation (use reqAttr instead).
func rawAttr(start xml.StartElement, name string) (string, bool) {
	for _, a := range start.Attr {
		if a.Name.Space == "" && a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}
