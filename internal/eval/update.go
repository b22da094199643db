package eval

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/helix90/wilddoc/internal/store"
	"github.com/helix90/wilddoc/internal/value"
)

const termLayout = "2006-01-02 15:04:05"

// pendsBlock remembers one <pends key="K">...</pends> child until the
// record it was nested in has been applied and its row is known, since
// each pends child's depend points back at that just-assigned row.
type pendsBlock struct {
	key  string
	body []byte
}

// opUpdate parses wd:update's <collection> tree and applies it.
// Each top-level collection record (and, depth-first, each of its pends
// descendants) is applied with its own Store.Update call so a pends
// child's back-depend can name the parent's just-assigned row; within an
// open session these all stage onto the same overlay, so the update
// tag's own commit still applies as one transaction.
func (ev *Evaluator) opUpdate(ctx context.Context, pc *parseCtx, start xml.StartElement) error {
	withoutSession, err := ev.reqAttr(ctx, start, "without_session")
	if err != nil {
		return err
	}
	commit, err := ev.reqAttr(ctx, start, "commit")
	if err != nil {
		return err
	}
	rowsSetGlobal, _ := rawAttr(start, "rows_set_global")

	sessionID := ev.sessions.Current()
	if withoutSession.Truthy() {
		sessionID = ""
	}

	var applied []store.CollectionRow
	for {
		tok, err := pc.dec.Token()
		if err != nil {
			return &ParseError{Msg: err.Error()}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local != "collection" {
				if err := pc.dec.Skip(); err != nil {
					return &ParseError{Msg: err.Error()}
				}
				continue
			}
			rows, err := ev.applyRecordTree(ctx, pc, t, sessionID, nil)
			if err != nil {
				return err
			}
			applied = append(applied, rows...)
		case xml.EndElement:
			if t.Name == start.Name {
				goto done
			}
		}
	}
done:

	var committed []store.CollectionRow
	if commit.Truthy() && sessionID != "" {
		committed, err = ev.cfg.Store.CommitSession(ctx, sessionID)
		if err != nil {
			return &StoreError{Op: "update commit", Err: err}
		}
	}

	if rowsSetGlobal != "" {
		obj := value.NewOrderedObject()
		obj.Set("commit_rows", collectionRowsToValue(committed))
		obj.Set("session_rows", collectionRowsToValue(applied))
		ev.vars.RegisterGlobal(strings.Split(rowsSetGlobal, "."), value.NewObject(obj))
	}
	return nil
}

func collectionRowsToValue(rows []store.CollectionRow) value.Value {
	vs := make([]value.Value, len(rows))
	for i, r := range rows {
		obj := value.NewOrderedObject()
		obj.Set("collection_id", value.NewInt(r.CollectionID))
		obj.Set("row", value.NewInt(r.Row))
		vs[i] = value.NewObject(obj)
	}
	return value.NewArray(vs)
}

// applyRecordTree parses one <collection> element (already consumed as
// start), applies it, then applies each pends descendant depth-first with
// a depend pointing back at the row just assigned. Returns every row
// touched, parent first.
func (ev *Evaluator) applyRecordTree(ctx context.Context, pc *parseCtx, start xml.StartElement, sessionID string, parentDepend *store.Depend) ([]store.CollectionRow, error) {
	colName, _ := rawAttr(start, "name")
	rowStr, _ := rawAttr(start, "row")
	row, _ := strconv.ParseInt(rowStr, 10, 64)

	op := store.RecordOp{Row: row}
	if del, _ := rawAttr(start, "delete"); del == "true" {
		op.Delete = true
	}
	if act, ok := rawAttr(start, "activity"); ok {
		if act == "inactive" || act == "0" {
			op.Activity = store.ActivityInactive
		}
	}
	if tb, ok := rawAttr(start, "term_begin"); ok {
		if t, err := time.ParseInLocation(termLayout, tb, time.Local); err == nil {
			op.Term.Begin = t.Unix()
			op.HasTerm = true
		}
	}
	if te, ok := rawAttr(start, "term_end"); ok {
		if t, err := time.ParseInLocation(termLayout, te, time.Local); err == nil {
			op.Term.End = t.Unix()
			op.HasTerm = true
		}
	}
	if inh, _ := rawAttr(start, "inherit_depend_if_empty"); inh == "true" {
		op.InheritDependIfEmpty = true
	}
	op.Fields = make(map[string][]byte)

	var pends []pendsBlock
	for {
		tok, err := pc.dec.Token()
		if err != nil {
			return nil, &ParseError{Msg: err.Error()}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "field":
				name, _ := rawAttr(t, "name")
				isB64, _ := rawAttr(t, "base64")
				text, err := readElementText(pc)
				if err != nil {
					return nil, err
				}
				raw := []byte(text)
				if isB64 == "true" {
					decoded, err := base64.StdEncoding.DecodeString(text)
					if err != nil {
						return nil, &ParseError{Msg: "invalid base64 field: " + err.Error()}
					}
					raw = decoded
				}
				if name != "" {
					op.Fields[name] = raw
				}
			case "depend":
				key, _ := rawAttr(t, "key")
				colRef, _ := rawAttr(t, "collection")
				depRowStr, _ := rawAttr(t, "row")
				depRow, _ := strconv.ParseInt(depRowStr, 10, 64)
				if err := pc.dec.Skip(); err != nil {
					return nil, &ParseError{Msg: err.Error()}
				}
				if depRow == 0 {
					return nil, &DependError{Err: errors.New("depend row 0 is invalid")}
				}
				colID, _ := ev.cfg.Store.CollectionID(ctx, colRef)
				op.Depends = append(op.Depends, store.Depend{Key: key, CollectionID: colID, Row: depRow})
			case "pends":
				key, _ := rawAttr(t, "key")
				body, err := captureRaw(pc, t.Name)
				if err != nil {
					return nil, err
				}
				pends = append(pends, pendsBlock{key: key, body: body})
			default:
				if err := pc.dec.Skip(); err != nil {
					return nil, &ParseError{Msg: err.Error()}
				}
			}
		case xml.EndElement:
			if t.Name == start.Name {
				goto parsed
			}
		}
	}
parsed:

	if parentDepend != nil {
		op.Depends = append(op.Depends, *parentDepend)
	}

	colID, ok := ev.cfg.Store.CollectionID(ctx, colName)
	if !ok {
		// The collection doesn't exist yet; driving a no-op search with
		// create_collection_if_not_exists materializes it the same way a
		// fresh wd:search would, so the update can proceed against a real id.
		resolvedID, err := ev.resolveOrCreateCollection(ctx, colName)
		if err != nil {
			return nil, &StoreError{Op: "update", Err: err}
		}
		colID = resolvedID
	}
	op.CollectionID = colID

	results, err := ev.cfg.Store.Update(ctx, sessionID, []store.RecordOp{op})
	if err != nil {
		if errors.Is(err, store.ErrDependInvalid) {
			ev.log().Warn("update rejected: invalid depend", "collection", colName, "row", row, "error", err)
			return nil, &DependError{Err: err}
		}
		ev.log().Error("update failed", "collection", colName, "row", row, "error", err)
		return nil, &StoreError{Op: "update", Err: err}
	}
	if len(results) == 0 {
		return nil, nil
	}
	assigned := results[0]
	out := []store.CollectionRow{assigned}

	for _, pb := range pends {
		children, err := ev.applyPendsChildren(ctx, pb, sessionID, store.Depend{Key: pb.key, CollectionID: assigned.CollectionID, Row: assigned.Row})
		if err != nil {
			return nil, err
		}
		out = append(out, children...)
	}
	return out, nil
}

func (ev *Evaluator) applyPendsChildren(ctx context.Context, pb pendsBlock, sessionID string, back store.Depend) ([]store.CollectionRow, error) {
	pc := newParseCtx(pb.body)
	var out []store.CollectionRow
	for {
		tok, err := pc.dec.Token()
		if err != nil {
			break
		}
		if t, ok := tok.(xml.StartElement); ok && t.Name.Local == "collection" {
			rows, err := ev.applyRecordTree(ctx, pc, t, sessionID, &back)
			if err != nil {
				return nil, err
			}
			out = append(out, rows...)
		}
	}
	return out, nil
}

// resolveOrCreateCollection allocates a collection id for an update whose
// target collection does not exist yet, by driving a no-op search with
// create_collection_if_not_exists set — the same path the store uses to
// materialize a brand new collection on first reference.
func (ev *Evaluator) resolveOrCreateCollection(ctx context.Context, name string) (int64, error) {
	_, _, err := ev.cfg.Store.Search(ctx, "", store.Query{Collection: name, CreateCollectionIfMissing: true})
	if err != nil {
		return 0, err
	}
	id, _ := ev.cfg.Store.CollectionID(ctx, name)
	return id, nil
}

// readElementText reads character data up to the end tag already implied
// by the most recently consumed StartElement, concatenating any CharData
// runs (entities, CDATA sections) into the element's text content.
func readElementText(pc *parseCtx) (string, error) {
	var sb strings.Builder
	depth := 0
	for {
		tok, err := pc.dec.Token()
		if err != nil {
			return "", &ParseError{Msg: err.Error()}
		}
		switch t := tok.(type) {
		case xml.CharData:
			sb.Write(t)
		case xml.StartElement:
			depth++
		case xml.EndElement:
			if depth == 0 {
				return sb.String(), nil
			}
			depth--
		}
	}
}
