package eval

import (
	"context"
	"encoding/xml"
	"strings"

	"github.com/helix90/wilddoc/internal/store"
	"github.com/helix90/wilddoc/internal/value"
)

// opRecord projects one row into a nested object and binds it to
// var in a fresh frame, rendering the body in it before popping. An
// optional fields="a,b,..." attribute narrows the projected field set to
// just those names, in that order, dropping any not present on the row;
// without it every field on the row is projected.
func (ev *Evaluator) opRecord(ctx context.Context, pc *parseCtx, start xml.StartElement) error {
	collection, _ := rawAttr(start, "collection")
	varName, _ := rawAttr(start, "var")
	var fields []string
	if fieldsAttr, ok := rawAttr(start, "fields"); ok {
		for _, f := range strings.Split(fieldsAttr, ",") {
			if f = strings.TrimSpace(f); f != "" {
				fields = append(fields, f)
			}
		}
	}
	rowV, err := ev.reqAttr(ctx, start, "row")
	if err != nil {
		return err
	}
	row := rowV.Int()

	obj := value.NewOrderedObject()
	if row != 0 {
		rec, ok, serr := ev.cfg.Store.Record(ctx, ev.sessions.Current(), collection, row)
		if serr != nil {
			return &StoreError{Op: "record", Err: serr}
		}
		if ok {
			obj.Set("row", value.NewInt(rec.Row))
			obj.Set("uuid", value.NewString(rec.UUID))
			obj.Set("serial", value.NewInt(rec.Serial))
			act := "active"
			if rec.Activity == store.ActivityInactive {
				act = "inactive"
			}
			obj.Set("activity", value.NewString(act))
			obj.Set("term_begin", value.NewInt(rec.Term.Begin))
			obj.Set("term_end", value.NewInt(rec.Term.End))
			obj.Set("last_updated", value.NewInt(rec.LastUpdated))

			fieldObj := value.NewOrderedObject()
			if fields != nil {
				for _, name := range fields {
					if raw, ok := rec.Fields[name]; ok {
						fieldObj.Set(name, value.NewBlob(raw))
					}
				}
			} else {
				for name, raw := range rec.Fields {
					fieldObj.Set(name, value.NewBlob(raw))
				}
			}
			obj.Set("field", value.NewObject(fieldObj))

			dependObj := value.NewOrderedObject()
			for _, d := range rec.Depends {
				one := value.NewOrderedObject()
				one.Set("collection_id", value.NewInt(d.CollectionID))
				one.Set("collection_name", value.NewString(d.CollectionName))
				one.Set("row", value.NewInt(d.Row))
				dependObj.Set(d.Key, value.NewObject(one))
			}
			obj.Set("depends", value.NewObject(dependObj))
		}
	}

	f := ev.vars.Push()
	if varName != "" {
		f.Set(varName, value.NewObject(obj))
	}
	defer ev.vars.Pop()
	return ev.renderUntil(ctx, pc, start.Name, false)
}
