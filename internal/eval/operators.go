package eval

import (
	"context"
	"encoding/xml"
	"strings"

	"github.com/helix90/wilddoc/internal/value"
	"github.com/helix90/wilddoc/internal/xmlutil"
)

// dispatch routes one wd: start element (already consumed from pc) to its
// operator handler.
func (ev *Evaluator) dispatch(ctx context.Context, pc *parseCtx, start xml.StartElement) error {
	switch start.Name.Local {
	case "print":
		return ev.opPrint(ctx, pc, start, false)
	case "print_escape_html":
		return ev.opPrint(ctx, pc, start, true)
	case "global":
		return ev.opGlobal(ctx, pc, start)
	case "local":
		return ev.opLocal(ctx, pc, start)
	case "include":
		return ev.opInclude(ctx, pc, start)
	case "re":
		return ev.opRe(ctx, pc, start)
	case "letitgo":
		return ev.opLetItGo(ctx, pc, start)
	case "comment":
		return pc.dec.Skip()
	case "tag":
		return ev.opTag(ctx, pc, start)
	case "case":
		return ev.opCase(ctx, pc, start)
	case "if":
		return ev.opIf(ctx, pc, start)
	case "for":
		return ev.opFor(ctx, pc, start)
	case "while":
		return ev.opWhile(ctx, pc, start)
	case "session":
		return ev.opSession(ctx, pc, start)
	case "session_gc":
		return ev.opSessionGC(ctx, pc, start)
	case "session_sequence_cursor":
		return ev.opSessionSequenceCursor(ctx, pc, start)
	case "sessions":
		return ev.opSessions(ctx, pc, start)
	case "collections":
		return ev.opCollections(ctx, pc, start)
	case "delete_collection":
		return ev.opDeleteCollection(ctx, pc, start)
	case "update":
		return ev.opUpdate(ctx, pc, start)
	case "search":
		return ev.opSearch(ctx, pc, start)
	case "sort":
		return ev.opSort(ctx, pc, start)
	case "record":
		return ev.opRecord(ctx, pc, start)
	default:
		// Unknown wd: element: consume and drop it with its body. (An
		// unrecognized processing instruction target is re-emitted
		// verbatim instead.)
		return pc.dec.Skip()
	}
}

func (ev *Evaluator) opPrint(ctx context.Context, pc *parseCtx, start xml.StartElement, escape bool) error {
	v, err := ev.reqAttr(ctx, start, "value")
	if err != nil {
		return err
	}
	if err := pc.dec.Skip(); err != nil {
		return &ParseError{Msg: err.Error()}
	}
	s := v.String()
	if escape {
		s = xmlutil.EscapeHTML(s)
	}
	ev.out.WriteString(s)
	return nil
}

func (ev *Evaluator) opGlobal(ctx context.Context, pc *parseCtx, start xml.StartElement) error {
	name, _ := rawAttr(start, "var")
	v, err := ev.reqAttr(ctx, start, "value")
	if err != nil {
		return err
	}
	if err := pc.dec.Skip(); err != nil {
		return &ParseError{Msg: err.Error()}
	}
	if name != "" {
		ev.vars.RegisterGlobal(strings.Split(name, "."), v)
	}
	return nil
}

func (ev *Evaluator) opLocal(ctx context.Context, pc *parseCtx, start xml.StartElement) error {
	attrs, err := ev.attrMap(ctx, start)
	if err != nil {
		return err
	}
	f := ev.vars.Push()
	for k, v := range attrs {
		f.Set(k, v)
	}
	defer ev.vars.Pop()
	return ev.renderUntil(ctx, pc, start.Name, false)
}

func (ev *Evaluator) opIf(ctx context.Context, pc *parseCtx, start xml.StartElement) error {
	v, err := ev.reqAttr(ctx, start, "value")
	if err != nil {
		return err
	}
	if !v.Truthy() {
		return pc.dec.Skip()
	}
	return ev.renderUntil(ctx, pc, start.Name, false)
}

func (ev *Evaluator) opCase(ctx context.Context, pc *parseCtx, start xml.StartElement) error {
	caseVal, err := ev.reqAttr(ctx, start, "value")
	if err != nil {
		return err
	}
	matched := false
	for {
		tok, err := pc.dec.Token()
		if err != nil {
			return &ParseError{Msg: err.Error()}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local != "when" && t.Name.Local != "else" {
				if err := pc.dec.Skip(); err != nil {
					return &ParseError{Msg: err.Error()}
				}
				continue
			}
			doThis := false
			if !matched {
				if t.Name.Local == "else" {
					doThis = true
				} else {
					whenVal, err := ev.reqAttr(ctx, t, "value")
					if err != nil {
						return err
					}
					doThis = caseVal.Equal(whenVal)
				}
			}
			if doThis {
				matched = true
				if err := ev.renderUntil(ctx, pc, t.Name, false); err != nil {
					return err
				}
			} else {
				if err := pc.dec.Skip(); err != nil {
					return &ParseError{Msg: err.Error()}
				}
			}
		case xml.EndElement:
			if t.Name == start.Name {
				return nil
			}
		}
	}
}

func (ev *Evaluator) opFor(ctx context.Context, pc *parseCtx, start xml.StartElement) error {
	varName, _ := rawAttr(start, "var")
	keyName, _ := rawAttr(start, "key")
	in, err := ev.reqAttr(ctx, start, "in")
	if err != nil {
		return err
	}
	raw, err := captureRaw(pc, start.Name)
	if err != nil {
		return err
	}

	iterate := func(item, key value.Value) error {
		f := ev.vars.Push()
		f.Set(varName, item)
		if keyName != "" {
			f.Set(keyName, key)
		}
		err := ev.renderRawAsTemplate(ctx, raw)
		ev.vars.Pop()
		return err
	}

	switch in.Kind() {
	case value.KindArray:
		for i, item := range in.Array() {
			if err := iterate(item, value.NewInt(int64(i+1))); err != nil {
				return err
			}
		}
	case value.KindObject:
		obj := in.Object()
		if obj == nil {
			return nil
		}
		for _, k := range obj.Keys() {
			v, _ := obj.Get(k)
			if err := iterate(v, value.NewString(k)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (ev *Evaluator) opWhile(ctx context.Context, pc *parseCtx, start xml.StartElement) error {
	raw, err := captureRaw(pc, start.Name)
	if err != nil {
		return err
	}
	for {
		cont, err := ev.reqAttr(ctx, start, "continue")
		if err != nil {
			return err
		}
		if !cont.Truthy() {
			return nil
		}
		ev.vars.Push()
		err = ev.renderRawAsTemplate(ctx, raw)
		ev.vars.Pop()
		if err != nil {
			return err
		}
	}
}

func (ev *Evaluator) opLetItGo(_ context.Context, pc *parseCtx, start xml.StartElement) error {
	raw, err := captureRaw(pc, start.Name)
	if err != nil {
		return err
	}
	ev.out.Write(raw)
	return nil
}

func (ev *Evaluator) opRe(ctx context.Context, pc *parseCtx, start xml.StartElement) error {
	inner := &Evaluator{cfg: ev.cfg, vars: ev.vars, sessions: ev.sessions, scripts: ev.scripts, maxDepth: ev.maxDepth, includePath: ev.includePath}
	if err := inner.renderUntil(ctx, pc, start.Name, false); err != nil {
		return err
	}
	return ev.renderRawAsTemplate(ctx, inner.out.Bytes())
}

func (ev *Evaluator) opTag(ctx context.Context, pc *parseCtx, start xml.StartElement) error {
	tagName := "div"
	for _, a := range start.Attr {
		if a.Name.Space == "wd-tag" && a.Name.Local == "name" {
			tagName = a.Value
			break
		}
	}

	ev.out.WriteByte('<')
	ev.out.WriteString(tagName)
	for _, a := range start.Attr {
		if a.Name.Space == "wd-tag" {
			continue
		}
		name, v, err := ev.evalAttr(ctx, a)
		if err != nil {
			return err
		}
		ev.out.WriteByte(' ')
		ev.out.WriteString(name)
		ev.out.WriteString(`="`)
		ev.out.WriteString(xmlutil.EscapeHTML(v.String()))
		ev.out.WriteByte('"')
	}
	ev.out.WriteByte('>')

	if err := ev.renderUntil(ctx, pc, start.Name, false); err != nil {
		return err
	}

	ev.out.WriteString("</")
	ev.out.WriteString(tagName)
	ev.out.WriteByte('>')
	return nil
}

func (ev *Evaluator) opInclude(ctx context.Context, pc *parseCtx, start xml.StartElement) error {
	src, _ := rawAttr(start, "src")
	substitute, hasSubstitute := rawAttr(start, "substitute")
	withParseV, err := ev.reqAttr(ctx, start, "with_parse")
	if err != nil {
		return err
	}
	if err := pc.dec.Skip(); err != nil {
		return &ParseError{Msg: err.Error()}
	}

	var data []byte
	if ev.cfg.Include != nil && src != "" {
		d, ok, rerr := ev.cfg.Include.Resolve(ctx, src)
		if rerr != nil {
			return &IncludeError{Src: src, Err: rerr}
		}
		if ok {
			data = d
		}
	}
	if data == nil && hasSubstitute {
		data = []byte(substitute)
	}
	if data == nil {
		return nil
	}

	if !withParseV.Truthy() {
		ev.out.Write(data)
		return nil
	}

	ev.includePath = append(ev.includePath, src)
	err = ev.renderRawAsTemplate(ctx, data)
	ev.includePath = ev.includePath[:len(ev.includePath)-1]
	if err != nil {
		return &IncludeError{Src: src, Err: err}
	}
	return nil
}
