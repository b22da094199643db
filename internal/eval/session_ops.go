package eval

import (
	"context"
	"encoding/xml"
	"time"

	"github.com/helix90/wilddoc/internal/session"
	"github.com/helix90/wilddoc/internal/value"
)

const defaultSessionExpire = 86400 * time.Second

func (ev *Evaluator) opSession(ctx context.Context, pc *parseCtx, start xml.StartElement) error {
	name, _ := rawAttr(start, "name")
	expire := defaultSessionExpire
	if exp, err := ev.reqAttr(ctx, start, "expire"); err == nil && exp.Kind() == value.KindNumber {
		expire = time.Duration(exp.Int()) * time.Second
	}
	initV, err := ev.reqAttr(ctx, start, "initialize")
	if err != nil {
		return err
	}
	commitV, err := ev.reqAttr(ctx, start, "commit_on_close")
	if err != nil {
		return err
	}
	clearV, err := ev.reqAttr(ctx, start, "clear_on_close")
	if err != nil {
		return err
	}

	sessionID, err := ev.cfg.Store.OpenSession(ctx, name, expire, initV.Truthy())
	if err != nil {
		ev.log().Error("session open failed", "name", name, "error", err)
		return &StoreError{Op: "session", Err: err}
	}
	ev.log().Info("session opened", "session", sessionID, "name", name, "initialize", initV.Truthy())
	ev.sessions.Push(session.Entry{ID: sessionID, CommitOnClose: commitV.Truthy(), ClearOnClose: clearV.Truthy()})

	err = ev.renderUntil(ctx, pc, start.Name, false)

	entry, _ := ev.sessions.Pop()
	if entry.CommitOnClose {
		if _, cerr := ev.cfg.Store.CommitSession(ctx, entry.ID); cerr != nil {
			ev.log().Error("session commit failed", "session", entry.ID, "error", cerr)
			if err == nil {
				err = &StoreError{Op: "session commit", Err: cerr}
			}
		} else {
			ev.log().Info("session committed", "session", entry.ID)
		}
	} else if entry.ClearOnClose {
		if cerr := ev.cfg.Store.ClearSession(ctx, entry.ID); cerr != nil {
			ev.log().Error("session clear failed", "session", entry.ID, "error", cerr)
			if err == nil {
				err = &StoreError{Op: "session clear", Err: cerr}
			}
		} else {
			ev.log().Info("session cleared", "session", entry.ID)
		}
	}
	return err
}

func (ev *Evaluator) opSessionGC(ctx context.Context, pc *parseCtx, start xml.StartElement) error {
	expire := defaultSessionExpire
	if exp, err := ev.reqAttr(ctx, start, "expire"); err == nil && exp.Kind() == value.KindNumber {
		expire = time.Duration(exp.Int()) * time.Second
	}
	if err := pc.dec.Skip(); err != nil {
		return &ParseError{Msg: err.Error()}
	}
	if _, err := ev.cfg.Store.GC(ctx, expire); err != nil {
		return &StoreError{Op: "session_gc", Err: err}
	}
	return nil
}

// opSessionSequenceCursor, opSessions and opCollections all push a fresh
// frame binding var to the materialized result, render their body in it
// (so the body can consume var), then pop — the same frame-scoped pattern
// as wd:record and wd:result, per the variable-frame note in 3.
func (ev *Evaluator) opSessionSequenceCursor(ctx context.Context, pc *parseCtx, start xml.StartElement) error {
	varName, _ := rawAttr(start, "var")
	current, max, err := ev.cfg.Store.SessionSequenceCursor(ctx, ev.sessions.Current())
	if err != nil {
		return &StoreError{Op: "session_sequence_cursor", Err: err}
	}
	obj := value.NewOrderedObject()
	obj.Set("current", value.NewInt(current))
	obj.Set("max", value.NewInt(max))

	f := ev.vars.Push()
	if varName != "" {
		f.Set(varName, value.NewObject(obj))
	}
	defer ev.vars.Pop()
	return ev.renderUntil(ctx, pc, start.Name, false)
}

func (ev *Evaluator) opSessions(ctx context.Context, pc *parseCtx, start xml.StartElement) error {
	varName, _ := rawAttr(start, "var")
	names, err := ev.cfg.Store.Sessions(ctx)
	if err != nil {
		return &StoreError{Op: "sessions", Err: err}
	}
	vs := make([]value.Value, len(names))
	for i, n := range names {
		vs[i] = value.NewString(n)
	}

	f := ev.vars.Push()
	if varName != "" {
		f.Set(varName, value.NewArray(vs))
	}
	defer ev.vars.Pop()
	return ev.renderUntil(ctx, pc, start.Name, false)
}

func (ev *Evaluator) opCollections(ctx context.Context, pc *parseCtx, start xml.StartElement) error {
	varName, _ := rawAttr(start, "var")
	names, err := ev.cfg.Store.Collections(ctx)
	if err != nil {
		return &StoreError{Op: "collections", Err: err}
	}
	vs := make([]value.Value, len(names))
	for i, n := range names {
		vs[i] = value.NewString(n)
	}

	f := ev.vars.Push()
	if varName != "" {
		f.Set(varName, value.NewArray(vs))
	}
	defer ev.vars.Pop()
	return ev.renderUntil(ctx, pc, start.Name, false)
}

func (ev *Evaluator) opDeleteCollection(ctx context.Context, pc *parseCtx, start xml.StartElement) error {
	name, _ := rawAttr(start, "name")
	if err := pc.dec.Skip(); err != nil {
		return &ParseError{Msg: err.Error()}
	}
	if name == "" {
		return nil
	}
	if err := ev.cfg.Store.DeleteCollection(ctx, name); err != nil {
		return &StoreError{Op: "delete_collection", Err: err}
	}
	return nil
}
