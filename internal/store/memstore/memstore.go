// Package memstore is an in-memory store.Store implementation: plain
// Go maps guarded by a mutex. Nothing is saved or loaded; the data is
// gone when the process exits.
// It is the default backend for the CLI's `run` subcommand and for the
// evaluator's tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/helix90/wilddoc/internal/store"
)

type row struct {
	row         int64
	uuid        string
	serial      int64
	activity    store.Activity
	term        store.Term
	lastUpdated int64
	fields      map[string][]byte
	depends     []store.Depend
	deleted     bool
}

type collection struct {
	id      int64
	name    string
	rows    map[int64]*row
	nextRow int64
	nextSer int64
}

type sessionOverlay struct {
	id           string
	createdAt    time.Time
	lastActivity time.Time
	// temporary collections keyed by base collection id; rows keyed by
	// negative row id (session-local).
	temp      map[int64]map[int64]*row
	nextLocal int64
}

// Store is a concurrency-safe in-memory record store.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
	nextColID   int64
	sessions    map[string]*sessionOverlay
}

func New() *Store {
	return &Store{
		collections: make(map[string]*collection),
		sessions:    make(map[string]*sessionOverlay),
		nextColID:   1,
	}
}

func (s *Store) getOrCreateCollection(name string) *collection {
	c, ok := s.collections[name]
	if ok {
		return c
	}
	c = &collection{id: s.nextColID, name: name, rows: make(map[int64]*row), nextRow: 1, nextSer: 1}
	s.nextColID++
	s.collections[name] = c
	return c
}

func (s *Store) collectionByID(id int64) *collection {
	for _, c := range s.collections {
		if c.id == id {
			return c
		}
	}
	return nil
}

func (s *Store) CollectionID(_ context.Context, name string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return 0, false
	}
	return c.id, true
}

func (s *Store) CollectionName(_ context.Context, id int64) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.collectionByID(id)
	if c == nil {
		return "", false
	}
	return c.name, true
}

func (s *Store) Collections(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.collections))
	for n := range s.collections {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) DeleteCollection(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, name)
	return nil
}

// --- sessions ---

func (s *Store) OpenSession(_ context.Context, name string, _ time.Duration, initialize bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := name
	if existing, ok := s.sessions[id]; ok && !initialize {
		existing.lastActivity = time.Now()
		return id, nil
	}
	s.sessions[id] = &sessionOverlay{
		id:           id,
		createdAt:    time.Now(),
		lastActivity: time.Now(),
		temp:         make(map[int64]map[int64]*row),
		nextLocal:    -1,
	}
	return id, nil
}

func (s *Store) CommitSession(_ context.Context, sessionID string) ([]store.CollectionRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ov, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("store: unknown session %q", sessionID)
	}
	var committed []store.CollectionRow
	for colID, rows := range ov.temp {
		c := s.collectionByID(colID)
		if c == nil {
			continue
		}
		for _, r := range rows {
			if r.deleted {
				continue
			}
			nr := c.nextRow
			c.nextRow++
			r.row = nr
			c.rows[nr] = r
			committed = append(committed, store.CollectionRow{CollectionID: colID, Row: nr})
		}
	}
	delete(s.sessions, sessionID)
	return committed, nil
}

func (s *Store) ClearSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

func (s *Store) SessionSequenceCursor(_ context.Context, sessionID string) (int64, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ov, ok := s.sessions[sessionID]
	if !ok {
		return 0, 0, fmt.Errorf("store: unknown session %q", sessionID)
	}
	return ov.nextLocal, -1, nil
}

func (s *Store) Sessions(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.sessions))
	for n := range s.sessions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) GC(_ context.Context, expire time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	now := time.Now()
	for id, ov := range s.sessions {
		if now.Sub(ov.lastActivity) > expire {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

// --- update ---

func (s *Store) Update(_ context.Context, sessionID string, ops []store.RecordOp) ([]store.CollectionRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ov *sessionOverlay
	if sessionID != "" {
		o, ok := s.sessions[sessionID]
		if !ok {
			return nil, fmt.Errorf("store: unknown session %q", sessionID)
		}
		ov = o
		ov.lastActivity = time.Now()
	}

	var results []store.CollectionRow
	for _, op := range ops {
		for _, d := range op.Depends {
			if d.Row == 0 {
				return nil, fmt.Errorf("%w: row 0 is invalid", store.ErrDependInvalid)
			}
			if d.Row < 0 {
				if ov == nil {
					return nil, fmt.Errorf("%w: session-local depend outside a session", store.ErrDependInvalid)
				}
				rows, ok := ov.temp[d.CollectionID]
				if !ok {
					return nil, fmt.Errorf("%w: session-local depend refers to nonexistent row", store.ErrDependInvalid)
				}
				if _, ok := rows[d.Row]; !ok {
					return nil, fmt.Errorf("%w: session-local depend refers to nonexistent row", store.ErrDependInvalid)
				}
			}
		}

		cr, err := s.applyOne(ov, op)
		if err != nil {
			return nil, err
		}
		if cr != nil {
			results = append(results, *cr)
		}
	}
	return results, nil
}

func (s *Store) applyOne(ov *sessionOverlay, op store.RecordOp) (*store.CollectionRow, error) {
	c := s.collectionByID(op.CollectionID)
	if c == nil {
		return nil, fmt.Errorf("store: unknown collection id %d", op.CollectionID)
	}

	if op.Delete {
		if op.Row > 0 {
			delete(c.rows, op.Row)
		} else if ov != nil {
			if rows, ok := ov.temp[op.CollectionID]; ok {
				delete(rows, op.Row)
			}
		}
		return nil, nil
	}

	// An insert (row 0) inside a session is staged on the overlay like a
	// session-local row; it reaches the base collection only on commit.
	if op.Row < 0 || (op.Row == 0 && ov != nil) {
		if ov == nil {
			return nil, fmt.Errorf("store: session-local row outside a session")
		}
		rows, ok := ov.temp[op.CollectionID]
		if !ok {
			rows = make(map[int64]*row)
			ov.temp[op.CollectionID] = rows
		}
		id := ov.nextLocal
		ov.nextLocal--
		r := &row{
			row:         id,
			uuid:        uuid.NewString(),
			serial:      id,
			activity:    op.Activity,
			term:        op.Term,
			lastUpdated: time.Now().Unix(),
			fields:      op.Fields,
			depends:     op.Depends,
		}
		rows[id] = r
		return &store.CollectionRow{CollectionID: op.CollectionID, Row: id}, nil
	}

	if op.Row == 0 {
		id := c.nextRow
		c.nextRow++
		ser := c.nextSer
		c.nextSer++
		r := &row{
			row:         id,
			uuid:        uuid.NewString(),
			serial:      ser,
			activity:    op.Activity,
			term:        op.Term,
			lastUpdated: time.Now().Unix(),
			fields:      op.Fields,
			depends:     op.Depends,
		}
		c.rows[id] = r
		return &store.CollectionRow{CollectionID: op.CollectionID, Row: id}, nil
	}

	existing, ok := c.rows[op.Row]
	if !ok {
		return nil, fmt.Errorf("store: no row %d in collection %s", op.Row, c.name)
	}
	if existing.fields == nil {
		existing.fields = make(map[string][]byte)
	}
	for k, v := range op.Fields {
		existing.fields[k] = v
	}
	if op.HasTerm {
		existing.term = op.Term
	}
	existing.activity = op.Activity
	if len(op.Depends) > 0 {
		existing.depends = op.Depends
	} else if !op.InheritDependIfEmpty {
		existing.depends = nil
	}
	existing.lastUpdated = time.Now().Unix()
	return &store.CollectionRow{CollectionID: op.CollectionID, Row: op.Row}, nil
}

// --- record projection ---

func (s *Store) Record(_ context.Context, sessionID string, collectionName string, rowID int64) (store.Row, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[collectionName]
	if !ok || rowID == 0 {
		return store.Row{}, false, nil
	}

	var r *row
	if rowID < 0 {
		if sessionID == "" {
			return store.Row{}, false, nil
		}
		ov, ok := s.sessions[sessionID]
		if !ok {
			return store.Row{}, false, nil
		}
		rows, ok := ov.temp[c.id]
		if !ok {
			return store.Row{}, false, nil
		}
		r, ok = rows[rowID]
		if !ok {
			return store.Row{}, false, nil
		}
	} else {
		r, ok = c.rows[rowID]
		if !ok {
			return store.Row{}, false, nil
		}
	}

	return s.toStoreRow(c, r), true, nil
}

func (s *Store) toStoreRow(c *collection, r *row) store.Row {
	out := store.Row{
		CollectionID: c.id,
		Row:          r.row,
		UUID:         r.uuid,
		Serial:       r.serial,
		Activity:     r.activity,
		Term:         r.term,
		LastUpdated:  r.lastUpdated,
		Fields:       r.fields,
	}
	for _, d := range r.depends {
		name, _ := s.CollectionName(context.Background(), d.CollectionID)
		out.Depends = append(out.Depends, store.ResolvedDepend{
			Key: d.Key, CollectionID: d.CollectionID, CollectionName: name, Row: d.Row,
		})
	}
	return out
}

// --- search ---

type result struct {
	rows []store.ResultRow
	s    *Store
	col  *collection
}

func (r *result) Rows() []store.ResultRow { return r.rows }

func (r *result) Sort(keys []store.SortKey) []int64 {
	fieldOf := func(rr store.ResultRow, name string) string {
		row, ok := r.col.rows[rr.Row]
		if !ok {
			return ""
		}
		return string(row.fields[name])
	}
	return store.SortRows(r.rows, keys, fieldOf)
}

func (s *Store) Search(_ context.Context, sessionID string, q store.Query) (store.Result, bool, error) {
	s.mu.RLock()
	c, ok := s.collections[q.Collection]
	s.mu.RUnlock()
	if !ok {
		if !q.CreateCollectionIfMissing {
			return nil, false, nil
		}
		s.mu.Lock()
		c = s.getOrCreateCollection(q.Collection)
		s.mu.Unlock()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []store.ResultRow
	for _, r := range c.rows {
		if !store.MatchesQuery(s.toStoreRow(c, r), q) {
			continue
		}
		rows = append(rows, store.ResultRow{CollectionID: c.id, Row: r.row})
	}

	if sessionID != "" {
		if ov, ok := s.sessions[sessionID]; ok {
			if temp, ok := ov.temp[c.id]; ok {
				for _, r := range temp {
					if r.deleted || !store.MatchesQuery(s.toStoreRow(c, r), q) {
						continue
					}
					rows = append(rows, store.ResultRow{CollectionID: c.id, Row: r.row})
				}
			}
		}
	}

	s.resolveJoins(sessionID, c, rows, q.Conditions)

	sort.Slice(rows, func(i, j int) bool { return rows[i].Row < rows[j].Row })
	return &result{rows: rows, s: s, col: c}, true, nil
}

// resolveJoins associates, with each outer row, every row anywhere in the
// store whose depends list names that outer row under the join's relation
// key — e.g. "join J relation J" on collection b surfaces, per b-row, the
// a-rows that depend on it with key J. This is what sort="join.J.len"
// orders by. When sessionID names an open session, each candidate
// collection's session-local overlay rows are searched too, so a row
// staged but not yet committed still counts toward another row's join
// length within that session.
func (s *Store) resolveJoins(sessionID string, c *collection, rows []store.ResultRow, conds []store.Condition) {
	var joins []*store.Join
	store.CollectJoins(conds, &joins)
	if len(joins) == 0 {
		return
	}
	var ov *sessionOverlay
	if sessionID != "" {
		ov = s.sessions[sessionID]
	}
	for i := range rows {
		rows[i].Joins = make(map[string][]store.ResultRow)
		for _, j := range joins {
			var matched []store.ResultRow
			for _, other := range s.collections {
				for _, r := range other.rows {
					for _, d := range r.depends {
						if d.Key == j.Relation && d.CollectionID == c.id && d.Row == rows[i].Row {
							matched = append(matched, store.ResultRow{CollectionID: other.id, Row: r.row})
						}
					}
				}
				if ov == nil {
					continue
				}
				for _, r := range ov.temp[other.id] {
					if r.deleted {
						continue
					}
					for _, d := range r.depends {
						if d.Key == j.Relation && d.CollectionID == c.id && d.Row == rows[i].Row {
							matched = append(matched, store.ResultRow{CollectionID: other.id, Row: r.row})
						}
					}
				}
			}
			rows[i].Joins[j.Name] = matched
		}
	}
}
