// Package eval implements the evaluator: the recursive, tokenizer-driven
// walk that turns a wd: template plus an input document into output bytes
// and an options side-channel, dispatching control-flow and
// session/transaction operators along the way.
package eval

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"

	"github.com/helix90/wilddoc/internal/include"
	"github.com/helix90/wilddoc/internal/script"
	"github.com/helix90/wilddoc/internal/session"
	"github.com/helix90/wilddoc/internal/store"
	"github.com/helix90/wilddoc/internal/value"
	"github.com/helix90/wilddoc/internal/varstack"
	"github.com/helix90/wilddoc/internal/xmlutil"
)

// wdSpace is what encoding/xml.Decoder puts in a Name's Space field for a
// prefixed element whose prefix is not bound by an xmlns declaration: the
// literal prefix text itself. Every template in this system uses the
// literal prefix "wd" without declaring it, so this is the namespace the
// operator table dispatches on.
const wdSpace = "wd"

// NewScripts builds a script registry bound to one evaluation's variable
// stack. Dialects like "js" own per-evaluation engine state (a V8
// isolate/context pair) and cannot be shared across concurrent
// evaluations, so the registry is rebuilt fresh for every Run call rather
// than held ready-made on Config. The returned close func releases that
// state once the evaluation finishes.
type NewScripts func(stack *varstack.Stack) (scripts *script.Registry, close func())

// Config wires an Evaluator to its external collaborators: the store, the
// script-engine factory, and the include adaptor. One Config may back many
// concurrent evaluations; each Run call builds its own Evaluator and its
// own script registry.
type Config struct {
	Scripts NewScripts
	Include include.Resolver
	Store   store.Store
	// Logger receives script-error, store-error and session lifecycle
	// events. Defaults to slog.Default() when nil.
	Logger *slog.Logger
}

// Evaluator is the state of one evaluation: its own variable stack, session
// stack, script registry, output buffer, and include-path stack (used only
// to label script module evaluation). Not safe for concurrent use; Run
// constructs one per call.
type Evaluator struct {
	cfg          Config
	vars         *varstack.Stack
	sessions     *session.Stack
	scripts      *script.Registry
	out          bytes.Buffer
	includePath  []string
	maxDepth     int
	currentDepth int
}

const defaultMaxDepth = 256

// parseCtx bundles a token decoder with the raw byte slice it reads from,
// so operators that need the unevaluated source text of their body (wd:for
// replay, wd:letitgo verbatim emission) can slice it directly using the
// decoder's input offsets.
type parseCtx struct {
	dec *xml.Decoder
	raw []byte
}

func newParseCtx(raw []byte) *parseCtx {
	return &parseCtx{dec: xml.NewDecoder(bytes.NewReader(raw)), raw: raw}
}

// Run evaluates template against input (a JSON document, "{}" if empty),
// returning the rendered body and the global frame's options side-channel.
func Run(ctx context.Context, cfg Config, template, input []byte) (body []byte, options *value.Object, err error) {
	ev := &Evaluator{
		cfg:      cfg,
		vars:     varstack.New(),
		sessions: session.New(),
		maxDepth: defaultMaxDepth,
	}
	scripts, closeScripts := cfg.Scripts(ev.vars)
	ev.scripts = scripts
	defer closeScripts()

	if len(bytes.TrimSpace(input)) == 0 {
		input = []byte("{}")
	}
	inputVal, perr := value.FromOrderedJSON(input)
	if perr != nil {
		return nil, nil, &ParseError{Msg: "invalid input document: " + perr.Error()}
	}
	ev.vars.RegisterGlobal([]string{"input"}, inputVal)

	startDepth := ev.vars.Depth()
	pc := newParseCtx(template)
	if err := ev.renderUntil(ctx, pc, xml.Name{}, true); err != nil {
		return nil, nil, err
	}
	if ev.vars.Depth() != startDepth {
		return nil, nil, &ParseError{Msg: "unbalanced variable frame at end of evaluation"}
	}
	return ev.out.Bytes(), ev.vars.Global().Snapshot(), nil
}

// renderUntil reads tokens from pc, emitting ordinary content and
// dispatching wd: operators, until it consumes the EndElement matching end
// (when top is false) or reaches EOF (when top is true).
func (ev *Evaluator) renderUntil(ctx context.Context, pc *parseCtx, end xml.Name, top bool) error {
	ev.currentDepth++
	defer func() { ev.currentDepth-- }()
	if ev.currentDepth > ev.maxDepth {
		return &ParseError{Msg: "maximum nesting depth exceeded"}
	}

	for {
		tok, err := pc.dec.Token()
		if err == io.EOF {
			if top {
				return nil
			}
			return &ParseError{Msg: fmt.Sprintf("missing end tag for %s", end.Local)}
		}
		if err != nil {
			return &ParseError{Msg: err.Error()}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Space == wdSpace {
				if err := ev.dispatch(ctx, pc, t); err != nil {
					return err
				}
				continue
			}
			if err := ev.emitOrdinaryStart(ctx, t); err != nil {
				return err
			}
			if err := ev.renderUntil(ctx, pc, t.Name, false); err != nil {
				return err
			}
			ev.emitOrdinaryEnd(t.Name)

		case xml.EndElement:
			if !top {
				return nil
			}
			// A stray end tag at the top level has no opening match; ignore
			// it rather than abort, matching the tokenizer's forward-only,
			// no-recovery design applying only to genuinely malformed XML.

		case xml.CharData:
			ev.out.Write(t)

		case xml.Comment:
			ev.out.WriteString("<!--")
			ev.out.Write(t)
			ev.out.WriteString("-->")

		case xml.Directive:
			ev.out.WriteString("<!")
			ev.out.Write(t)
			ev.out.WriteString(">")

		case xml.ProcInst:
			if err := ev.handleProcInst(ctx, t); err != nil {
				return err
			}
		}
	}
}

// handleProcInst dispatches <?dialect ...?> to its script engine as a
// module, or re-emits unknown targets verbatim.
func (ev *Evaluator) handleProcInst(ctx context.Context, t xml.ProcInst) error {
	eng, ok := ev.scripts.Get(t.Target)
	if !ok {
		ev.out.WriteString("<?")
		ev.out.WriteString(t.Target)
		ev.out.WriteByte(' ')
		ev.out.Write(t.Inst)
		ev.out.WriteString("?>")
		return nil
	}
	file := ev.currentIncludeFile()
	if err := eng.EvaluateModule(ctx, file, string(t.Inst), ev.vars); err != nil {
		ev.log().Error("script module failed", "dialect", t.Target, "file", file, "error", err)
		return &ScriptError{Dialect: t.Target, Err: err}
	}
	return nil
}

func (ev *Evaluator) currentIncludeFile() string {
	if len(ev.includePath) == 0 {
		return ""
	}
	return ev.includePath[len(ev.includePath)-1]
}

// emitOrdinaryStart rewrites a non-wd start tag's attributes through the
// attribute evaluator and writes the resulting open tag.
func (ev *Evaluator) emitOrdinaryStart(ctx context.Context, t xml.StartElement) error {
	ev.out.WriteByte('<')
	ev.out.WriteString(qualifiedName(t.Name))

	var replace string
	hasReplace := false
	for _, a := range t.Attr {
		name, v, err := ev.evalAttr(ctx, a)
		if err != nil {
			return err
		}
		if name == "wd-attr:replace" {
			replace = v.String()
			hasReplace = true
			continue
		}
		ev.out.WriteByte(' ')
		ev.out.WriteString(name)
		ev.out.WriteString(`="`)
		ev.out.WriteString(xmlutil.EscapeHTML(v.String()))
		ev.out.WriteByte('"')
	}
	if hasReplace {
		ev.out.WriteByte(' ')
		ev.out.WriteString(replace)
	}
	ev.out.WriteByte('>')
	return nil
}

func (ev *Evaluator) emitOrdinaryEnd(name xml.Name) {
	ev.out.WriteString("</")
	ev.out.WriteString(qualifiedName(name))
	ev.out.WriteByte('>')
}

// log returns the evaluation's logger, falling back to slog.Default() so
// an Evaluator built without a Config.Logger still logs somewhere.
func (ev *Evaluator) log() *slog.Logger {
	if ev.cfg.Logger != nil {
		return ev.cfg.Logger
	}
	return slog.Default()
}

func qualifiedName(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}

// captureRaw consumes pc up through the end tag matching the StartElement
// already read as start, returning the inner content (excluding the
// closing tag) as raw, unevaluated bytes of the original source. Used by
// operators that need to replay or emit their body without the normal
// token-by-token evaluation: wd:for/while (replay per iteration) and
// wd:letitgo (verbatim emission).
func captureRaw(pc *parseCtx, start xml.Name) ([]byte, error) {
	begin := pc.dec.InputOffset()
	if err := pc.dec.Skip(); err != nil {
		return nil, &ParseError{Msg: err.Error()}
	}
	end := pc.dec.InputOffset()
	raw := pc.raw[begin:end]
	idx := bytes.LastIndex(raw, []byte("</"))
	if idx < 0 {
		return raw, nil
	}
	return raw[:idx], nil
}

// renderRawAsTemplate evaluates raw bytes as a fresh top-level template
// fragment, sharing this Evaluator's vars, sessions and output.
func (ev *Evaluator) renderRawAsTemplate(ctx context.Context, raw []byte) error {
	pc := newParseCtx(raw)
	return ev.renderUntil(ctx, pc, xml.Name{}, true)
}
