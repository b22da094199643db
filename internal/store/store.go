// Package store defines the record-store contract the evaluator's session,
// search, update, sort, and record operators consume, as an external
// collaborator specified only by this interface; concrete backends live
// in sibling packages (memstore, sqlstore).
package store

import (
	"context"
	"errors"
	"time"
)

// ErrDependInvalid is wrapped by any backend error reporting the depend
// failure modes 4.8 names: a zero row, or a session-local row with no
// matching overlay entry. The evaluator maps it to a DependError.
var ErrDependInvalid = errors.New("store: invalid depend")

// Activity is the row activity flag.
type Activity int

const (
	ActivityActive Activity = iota
	ActivityInactive
)

// Term is the validity window of a row.
type Term struct {
	Begin int64 // unix seconds
	End   int64
}

// Depend is a directed relation edge: key, from-row implicit (the row being
// built), to (collection, row). Row may be negative, meaning session-local.
type Depend struct {
	Key          string
	CollectionID int64
	Row          int64
}

// Row is one collection row as the store returns it: activity, term,
// identity, and named byte-blob fields plus resolved depends.
type Row struct {
	CollectionID int64
	Row          int64
	UUID         string
	Serial       int64
	Activity     Activity
	Term         Term
	LastUpdated  int64
	Fields       map[string][]byte
	Depends      []ResolvedDepend
}

// ResolvedDepend names both the target collection id and its resolved name,
// matching wd:record's depends: {key -> {collection_id, collection_name, row}}.
type ResolvedDepend struct {
	Key            string
	CollectionID   int64
	CollectionName string
	Row            int64
}

// RecordOp is one row mutation: insert (Row=0), update (Row>0) or stage
// session-locally (Row<0). Delete removes just that row; rows that depend
// on it are left in place.
type RecordOp struct {
	CollectionID         int64
	Row                  int64 // 0 = insert, >0 = update, <0 = session-local
	Delete               bool
	Activity             Activity
	Term                 Term
	HasTerm              bool
	InheritDependIfEmpty bool
	Fields               map[string][]byte
	Depends              []Depend
}

// CollectionRow names a committed or staged row result.
type CollectionRow struct {
	CollectionID int64
	Row          int64
}

// ConditionMethod enumerates the search condition operators wd:search
// conditions can use.
type ConditionMethod int

const (
	MethodMatch ConditionMethod = iota
	MethodMin
	MethodMax
	MethodPartial
	MethodForward
	MethodBackward
	MethodRange
	MethodValueForward
	MethodValueBackward
	MethodValuePartial
)

// FieldCondition is a `field name method value [negate]` leaf.
type FieldCondition struct {
	Field  string
	Method ConditionMethod
	Value  string
	Negate bool
}

// RowCondition is a `row method value` leaf (in/min/max/range).
type RowCondition struct {
	Method ConditionMethod
	Values []int64 // for "in"; Range uses Values[0],Values[1]
}

// DependCondition is a `depend key collection row` leaf.
type DependCondition struct {
	Key          string
	CollectionID int64
	Row          int64
}

// Group combines child conditions with AND (Narrow) or OR (Wide).
type GroupKind int

const (
	GroupNarrow GroupKind = iota
	GroupWide
)

// Condition is a node in the search condition tree.
type Condition struct {
	Field  *FieldCondition
	RowC   *RowCondition
	Depend *DependCondition
	UUIDs  []string
	Group  *Group
	Join   *Join
}

type Group struct {
	Kind     GroupKind
	Children []Condition
}

// Join registers a named relational sub-query bound by a relation key.
type Join struct {
	Name       string
	Relation   string
	Conditions []Condition
}

// TermSelect chooses which validity window a search matches against.
type TermSelect int

const (
	TermAll TermSelect = iota
	TermIn
	TermFuture
	TermPast
)

// Query describes a wd:search request.
type Query struct {
	Collection                string
	Activity                  string // "active" | "inactive" | "all"
	Term                      TermSelect
	TermAt                    int64
	Conditions                []Condition
	CreateCollectionIfMissing bool
}

// SortKey is one clause of a sort spec.
type SortKey struct {
	Kind  SortKeyKind
	Field string // for SortField
	Join  string // for SortJoinLen
	Desc  bool
}

type SortKeyKind int

const (
	SortSerial SortKeyKind = iota
	SortRow
	SortTermBegin
	SortTermEnd
	SortLastUpdate
	SortField
	SortJoinLen
)

// Result is the store's own search-result handle, implemented by each
// backend so the evaluator never has to know the concrete one. Its Rows()
// returns ResultRow, not value.SearchRow; the evaluator wraps it in an
// adapter to bind it as a value.SearchResult.
type Result interface {
	Rows() []ResultRow
	Sort(keys []SortKey) []int64 // returns row ids (possibly negative) in new order
}

type ResultRow struct {
	CollectionID int64
	Row          int64
	Joins        map[string][]ResultRow
}

// Store is the full record-store contract the evaluator drives.
type Store interface {
	// Search builds and executes a query, honoring a possible session
	// overlay (sessionID == "" means no session open).
	Search(ctx context.Context, sessionID string, q Query) (Result, bool, error)

	// Record projects a single row (base store or session overlay).
	Record(ctx context.Context, sessionID string, collection string, row int64) (Row, bool, error)

	// Update applies or stages RecordOps. If sessionID == "", applies and
	// commits immediately. Otherwise stages on that session.
	Update(ctx context.Context, sessionID string, ops []RecordOp) ([]CollectionRow, error)

	// OpenSession creates/opens a named session overlay.
	OpenSession(ctx context.Context, name string, expire time.Duration, initialize bool) (sessionID string, err error)
	CommitSession(ctx context.Context, sessionID string) ([]CollectionRow, error)
	ClearSession(ctx context.Context, sessionID string) error

	SessionSequenceCursor(ctx context.Context, sessionID string) (current int64, max int64, err error)
	Sessions(ctx context.Context) ([]string, error)
	Collections(ctx context.Context) ([]string, error)
	DeleteCollection(ctx context.Context, name string) error
	CollectionID(ctx context.Context, name string) (int64, bool)
	CollectionName(ctx context.Context, id int64) (string, bool)

	// GC evicts sessions whose last activity is older than expire.
	GC(ctx context.Context, expire time.Duration) (evicted int, err error)
}
