package sqlstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/helix90/wilddoc/internal/store"
)

func TestInsertSearchRecordRoundTrip(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "wilddoc.sqlite")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if _, _, err := s.Search(ctx, "", store.Query{Collection: "p", CreateCollectionIfMissing: true}); err != nil {
		t.Fatal(err)
	}
	colID, ok := s.CollectionID(ctx, "p")
	if !ok {
		t.Fatal("expected collection p")
	}

	rows, err := s.Update(ctx, "", []store.RecordOp{
		{CollectionID: colID, Row: 0, Fields: map[string][]byte{"n": []byte("A")}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}

	res, ok, err := s.Search(ctx, "", store.Query{Collection: "p", Activity: "all"})
	if err != nil || !ok {
		t.Fatalf("search: ok=%v err=%v", ok, err)
	}
	if len(res.Rows()) != 1 {
		t.Fatalf("expected 1 result, got %d", len(res.Rows()))
	}

	rec, ok, err := s.Record(ctx, "", "p", res.Rows()[0].Row)
	if err != nil || !ok {
		t.Fatalf("record: ok=%v err=%v", ok, err)
	}
	if string(rec.Fields["n"]) != "A" {
		t.Fatalf("field n = %q, want A", rec.Fields["n"])
	}
}

func TestSearchJoinLen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "wilddoc.sqlite")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if _, _, err := s.Search(ctx, "", store.Query{Collection: "parent", CreateCollectionIfMissing: true}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Search(ctx, "", store.Query{Collection: "child", CreateCollectionIfMissing: true}); err != nil {
		t.Fatal(err)
	}
	parentID, _ := s.CollectionID(ctx, "parent")
	childID, _ := s.CollectionID(ctx, "child")

	parents, err := s.Update(ctx, "", []store.RecordOp{
		{CollectionID: parentID, Row: 0, Fields: map[string][]byte{"n": []byte("p1")}},
		{CollectionID: parentID, Row: 0, Fields: map[string][]byte{"n": []byte("p2")}},
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.Update(ctx, "", []store.RecordOp{
		{CollectionID: childID, Row: 0, Fields: map[string][]byte{"n": []byte("c1")},
			Depends: []store.Depend{{Key: "J", CollectionID: parentID, Row: parents[0].Row}}},
		{CollectionID: childID, Row: 0, Fields: map[string][]byte{"n": []byte("c2")},
			Depends: []store.Depend{{Key: "J", CollectionID: parentID, Row: parents[0].Row}}},
	}); err != nil {
		t.Fatal(err)
	}

	joinCond := store.Condition{Join: &store.Join{Name: "J", Relation: "J"}}
	res, ok, err := s.Search(ctx, "", store.Query{Collection: "parent", Activity: "all", Conditions: []store.Condition{joinCond}})
	if err != nil || !ok {
		t.Fatalf("search: ok=%v err=%v", ok, err)
	}
	ids := res.Sort([]store.SortKey{{Kind: store.SortJoinLen, Join: "J", Desc: true}})
	if len(ids) != 2 || ids[0] != parents[0].Row {
		t.Fatalf("expected parent with 2 children first, got %v (want first=%d)", ids, parents[0].Row)
	}

	for _, rr := range res.Rows() {
		if rr.Row == parents[0].Row && len(rr.Joins["J"]) != 2 {
			t.Fatalf("expected 2 joined children for row %d, got %d", rr.Row, len(rr.Joins["J"]))
		}
		if rr.Row == parents[1].Row && len(rr.Joins["J"]) != 0 {
			t.Fatalf("expected 0 joined children for row %d, got %d", rr.Row, len(rr.Joins["J"]))
		}
	}
}
