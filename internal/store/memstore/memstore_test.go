package memstore

import (
	"context"
	"testing"

	"github.com/helix90/wilddoc/internal/store"
)

func TestInsertSearchRecordRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()

	q := store.Query{Collection: "p", Activity: "all", CreateCollectionIfMissing: true}
	_, _, err := s.Search(ctx, "", q)
	if err != nil {
		t.Fatal(err)
	}
	colID, ok := s.CollectionID(ctx, "p")
	if !ok {
		t.Fatal("expected collection p to exist")
	}

	rows, err := s.Update(ctx, "", []store.RecordOp{
		{CollectionID: colID, Row: 0, Fields: map[string][]byte{"n": []byte("A")}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 committed row, got %d", len(rows))
	}

	res, ok, err := s.Search(ctx, "", store.Query{Collection: "p", Activity: "all"})
	if err != nil || !ok {
		t.Fatalf("search failed: ok=%v err=%v", ok, err)
	}
	if len(res.Rows()) != 1 {
		t.Fatalf("expected 1 result row, got %d", len(res.Rows()))
	}

	rec, ok, err := s.Record(ctx, "", "p", res.Rows()[0].Row)
	if err != nil || !ok {
		t.Fatalf("record failed: ok=%v err=%v", ok, err)
	}
	if string(rec.Fields["n"]) != "A" {
		t.Fatalf("field n = %q, want A", rec.Fields["n"])
	}
}

func TestSessionClearOnCloseHidesRows(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.Search(ctx, "", store.Query{Collection: "p", CreateCollectionIfMissing: true})
	colID, _ := s.CollectionID(ctx, "p")

	sid, err := s.OpenSession(ctx, "t", 0, false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Update(ctx, sid, []store.RecordOp{
		{CollectionID: colID, Row: -1, Fields: map[string][]byte{"n": []byte("X")}},
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.ClearSession(ctx, sid); err != nil {
		t.Fatal(err)
	}

	res, ok, err := s.Search(ctx, sid, store.Query{Collection: "p", Activity: "all"})
	if err != nil {
		t.Fatal(err)
	}
	if ok && len(res.Rows()) != 0 {
		t.Fatalf("expected no rows after session clear, got %d", len(res.Rows()))
	}
}

func TestDependRowZeroIsError(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.Search(ctx, "", store.Query{Collection: "c", CreateCollectionIfMissing: true})
	colID, _ := s.CollectionID(ctx, "c")

	_, err := s.Update(ctx, "", []store.RecordOp{
		{CollectionID: colID, Row: 0, Depends: []store.Depend{{Key: "k", CollectionID: colID, Row: 0}}},
	})
	if err == nil {
		t.Fatal("expected an error for depend row 0")
	}
}

func TestSortByJoinLenDescending(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.Search(ctx, "", store.Query{Collection: "a", CreateCollectionIfMissing: true})
	s.Search(ctx, "", store.Query{Collection: "b", CreateCollectionIfMissing: true})
	aID, _ := s.CollectionID(ctx, "a")
	bID, _ := s.CollectionID(ctx, "b")

	// two target rows in b, three deps to row1, one to row2
	rows, err := s.Update(ctx, "", []store.RecordOp{
		{CollectionID: bID, Row: 0},
		{CollectionID: bID, Row: 0},
	})
	if err != nil {
		t.Fatal(err)
	}
	row1, row2 := rows[0].Row, rows[1].Row

	var ops []store.RecordOp
	for i := 0; i < 3; i++ {
		ops = append(ops, store.RecordOp{
			CollectionID: aID, Row: 0,
			Depends: []store.Depend{{Key: "J", CollectionID: bID, Row: row1}},
		})
	}
	ops = append(ops, store.RecordOp{
		CollectionID: aID, Row: 0,
		Depends: []store.Depend{{Key: "J", CollectionID: bID, Row: row2}},
	})
	if _, err := s.Update(ctx, "", ops); err != nil {
		t.Fatal(err)
	}

	res, ok, err := s.Search(ctx, "", store.Query{
		Collection: "b", Activity: "all",
		Conditions: []store.Condition{{Join: &store.Join{Name: "J", Relation: "J"}}},
	})
	if err != nil || !ok {
		t.Fatalf("search failed: ok=%v err=%v", ok, err)
	}
	ordered := res.Sort([]store.SortKey{{Kind: store.SortJoinLen, Join: "J", Desc: true}})
	if len(ordered) != 2 || ordered[0] != row1 || ordered[1] != row2 {
		t.Fatalf("sort by join.J.len desc = %v, want [%d %d]", ordered, row1, row2)
	}
}

// A depend staged in a session but not yet committed still counts toward
// the session-scoped search's join length for the row it targets.
func TestSortByJoinLenCountsSessionOverlay(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.Search(ctx, "", store.Query{Collection: "a", CreateCollectionIfMissing: true})
	s.Search(ctx, "", store.Query{Collection: "b", CreateCollectionIfMissing: true})
	aID, _ := s.CollectionID(ctx, "a")
	bID, _ := s.CollectionID(ctx, "b")

	rows, err := s.Update(ctx, "", []store.RecordOp{{CollectionID: bID, Row: 0}})
	if err != nil {
		t.Fatal(err)
	}
	row1 := rows[0].Row

	sid, err := s.OpenSession(ctx, "sess-join", 0, true)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Update(ctx, sid, []store.RecordOp{
		{CollectionID: aID, Row: -1, Depends: []store.Depend{{Key: "J", CollectionID: bID, Row: row1}}},
	}); err != nil {
		t.Fatal(err)
	}

	withSession, ok, err := s.Search(ctx, sid, store.Query{
		Collection: "b", Activity: "all",
		Conditions: []store.Condition{{Join: &store.Join{Name: "J", Relation: "J"}}},
	})
	if err != nil || !ok {
		t.Fatalf("search failed: ok=%v err=%v", ok, err)
	}
	var joined int
	for _, rr := range withSession.Rows() {
		if rr.Row == row1 {
			joined = len(rr.Joins["J"])
		}
	}
	if joined != 1 {
		t.Fatalf("expected 1 session-staged join for row %d, got %d", row1, joined)
	}

	withoutSession, ok, err := s.Search(ctx, "", store.Query{
		Collection: "b", Activity: "all",
		Conditions: []store.Condition{{Join: &store.Join{Name: "J", Relation: "J"}}},
	})
	if err != nil || !ok {
		t.Fatalf("search failed: ok=%v err=%v", ok, err)
	}
	joined = -1
	for _, rr := range withoutSession.Rows() {
		if rr.Row == row1 {
			joined = len(rr.Joins["J"])
		}
	}
	if joined != 0 {
		t.Fatalf("expected 0 joins outside the session for row %d, got %d", row1, joined)
	}
}
