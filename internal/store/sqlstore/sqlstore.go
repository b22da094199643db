// Package sqlstore is a store.Store backend persisted through
// database/sql on top of modernc.org/sqlite (pure Go, no cgo). Base
// collection rows live in SQLite; session overlays stay in-memory for
// the lifetime of the session, since sessions are inherently short-lived
// staging areas rather than data that needs its own durability.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/helix90/wilddoc/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS wd_collections (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT UNIQUE NOT NULL,
	next_row INTEGER NOT NULL DEFAULT 1,
	next_serial INTEGER NOT NULL DEFAULT 1
);
CREATE TABLE IF NOT EXISTS wd_rows (
	collection_id INTEGER NOT NULL,
	row INTEGER NOT NULL,
	uuid TEXT NOT NULL,
	serial INTEGER NOT NULL,
	activity INTEGER NOT NULL,
	term_begin INTEGER NOT NULL DEFAULT 0,
	term_end INTEGER NOT NULL DEFAULT 0,
	last_updated INTEGER NOT NULL,
	fields_json TEXT NOT NULL,
	depends_json TEXT NOT NULL,
	PRIMARY KEY (collection_id, row)
);
`

// Store is a SQLite-backed store.Store. Safe for concurrent use.
type Store struct {
	db *sql.DB

	mu       sync.Mutex
	sessions map[string]*sessionOverlay
}

type overlayRow struct {
	row     int64
	uuid    string
	fields  map[string][]byte
	depends []store.Depend
	term    store.Term
}

type sessionOverlay struct {
	lastActivity time.Time
	temp         map[int64]map[int64]*overlayRow
	nextLocal    int64
}

// Open creates (or reuses) the pure-Go SQLite file at path and ensures
// schema.
func Open(path string) (*Store, error) {
	return OpenWithDriver("sqlite", path)
}

// OpenWithDriver opens the database/sql driver registered under driverName
// and applies the same schema. The schema uses SQLite syntax
// (AUTOINCREMENT) and the queries use "?" placeholders, so only SQLite
// drivers fit: "sqlite" (modernc.org/sqlite) and, in cgo builds,
// "sqlite3" (github.com/mattn/go-sqlite3, registered by
// internal/store/sqlbackends.go). No other driver is imported.
func OpenWithDriver(driverName, dsn string) (*Store, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %q via %s: %w", dsn, driverName, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: schema: %w", err)
	}
	return &Store{db: db, sessions: make(map[string]*sessionOverlay)}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) CollectionID(ctx context.Context, name string) (int64, bool) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM wd_collections WHERE name = ?`, name).Scan(&id)
	if err != nil {
		return 0, false
	}
	return id, true
}

func (s *Store) CollectionName(ctx context.Context, id int64) (string, bool) {
	var name string
	err := s.db.QueryRowContext(ctx, `SELECT name FROM wd_collections WHERE id = ?`, id).Scan(&name)
	if err != nil {
		return "", false
	}
	return name, true
}

func (s *Store) getOrCreateCollection(ctx context.Context, name string) (int64, error) {
	if id, ok := s.CollectionID(ctx, name); ok {
		return id, nil
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO wd_collections (name) VALUES (?)`, name)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) Collections(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM wd_collections ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (s *Store) DeleteCollection(ctx context.Context, name string) error {
	id, ok := s.CollectionID(ctx, name)
	if !ok {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM wd_rows WHERE collection_id = ?`, id); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM wd_collections WHERE id = ?`, id)
	return err
}

// --- sessions (in-memory overlay) ---

func (s *Store) OpenSession(_ context.Context, name string, _ time.Duration, initialize bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[name]; ok && !initialize {
		existing.lastActivity = time.Now()
		return name, nil
	}
	s.sessions[name] = &sessionOverlay{
		lastActivity: time.Now(),
		temp:         make(map[int64]map[int64]*overlayRow),
		nextLocal:    -1,
	}
	return name, nil
}

func (s *Store) CommitSession(ctx context.Context, sessionID string) ([]store.CollectionRow, error) {
	s.mu.Lock()
	ov, ok := s.sessions[sessionID]
	if ok {
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("sqlstore: unknown session %q", sessionID)
	}

	var committed []store.CollectionRow
	for colID, rows := range ov.temp {
		for _, r := range rows {
			newRow, err := s.insertRow(ctx, colID, r.fields, r.depends, r.term, store.ActivityActive)
			if err != nil {
				return nil, err
			}
			committed = append(committed, store.CollectionRow{CollectionID: colID, Row: newRow})
		}
	}
	return committed, nil
}

func (s *Store) ClearSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

func (s *Store) SessionSequenceCursor(_ context.Context, sessionID string) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ov, ok := s.sessions[sessionID]
	if !ok {
		return 0, 0, fmt.Errorf("sqlstore: unknown session %q", sessionID)
	}
	return ov.nextLocal, -1, nil
}

func (s *Store) Sessions(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for n := range s.sessions {
		names = append(names, n)
	}
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

func (s *Store) Update(ctx context.Context, sessionID string, ops []store.RecordOp) ([]store.CollectionRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ov *sessionOverlay
	if sessionID != "" {
		o, ok := s.sessions[sessionID]
		if !ok {
			return nil, fmt.Errorf("sqlstore: unknown session %q", sessionID)
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

		cr, err := s.applyOne(ctx, ov, op)
		if err != nil {
			return nil, err
		}
		if cr != nil {
			results = append(results, *cr)
		}
	}
	return results, nil
}

func (s *Store) applyOne(ctx context.Context, ov *sessionOverlay, op store.RecordOp) (*store.CollectionRow, error) {
	if op.Delete {
		if op.Row > 0 {
			_, err := s.db.ExecContext(ctx, `DELETE FROM wd_rows WHERE collection_id = ? AND row = ?`, op.CollectionID, op.Row)
			return nil, err
		}
		if ov != nil {
			if rows, ok := ov.temp[op.CollectionID]; ok {
				delete(rows, op.Row)
			}
		}
		return nil, nil
	}

	if op.Row < 0 {
		if ov == nil {
			return nil, fmt.Errorf("sqlstore: session-local row outside a session")
		}
		rows, ok := ov.temp[op.CollectionID]
		if !ok {
			rows = make(map[int64]*overlayRow)
			ov.temp[op.CollectionID] = rows
		}
		id := ov.nextLocal
		ov.nextLocal--
		rows[id] = &overlayRow{row: id, uuid: uuid.NewString(), fields: op.Fields, depends: op.Depends, term: op.Term}
		return &store.CollectionRow{CollectionID: op.CollectionID, Row: id}, nil
	}

	if op.Row == 0 {
		newRow, err := s.insertRow(ctx, op.CollectionID, op.Fields, op.Depends, op.Term, op.Activity)
		if err != nil {
			return nil, err
		}
		return &store.CollectionRow{CollectionID: op.CollectionID, Row: newRow}, nil
	}

	existing, ok, err := s.rowByID(ctx, op.CollectionID, op.Row)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("sqlstore: no row %d in collection %d", op.Row, op.CollectionID)
	}
	for k, v := range op.Fields {
		if existing.Fields == nil {
			existing.Fields = make(map[string][]byte)
		}
		existing.Fields[k] = v
	}
	depends := existing.Depends
	if len(op.Depends) > 0 {
		depends = make([]store.ResolvedDepend, 0, len(op.Depends))
		for _, d := range op.Depends {
			depends = append(depends, store.ResolvedDepend{Key: d.Key, CollectionID: d.CollectionID, Row: d.Row})
		}
	} else if !op.InheritDependIfEmpty {
		depends = nil
	}
	term := existing.Term
	if op.HasTerm {
		term = op.Term
	}
	if err := s.updateRow(ctx, op.CollectionID, op.Row, existing.Fields, depends, term, op.Activity); err != nil {
		return nil, err
	}
	return &store.CollectionRow{CollectionID: op.CollectionID, Row: op.Row}, nil
}

func (s *Store) insertRow(ctx context.Context, colID int64, fields map[string][]byte, depends []store.Depend, term store.Term, activity store.Activity) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var nextRow, nextSer int64
	if err := tx.QueryRowContext(ctx, `SELECT next_row, next_serial FROM wd_collections WHERE id = ?`, colID).Scan(&nextRow, &nextSer); err != nil {
		return 0, err
	}

	fieldsJSON, depsJSON, err := encodeRowPayload(fields, depends)
	if err != nil {
		return 0, err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO wd_rows
		(collection_id, row, uuid, serial, activity, term_begin, term_end, last_updated, fields_json, depends_json)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		colID, nextRow, uuid.NewString(), nextSer, int(activity), term.Begin, term.End, time.Now().Unix(), fieldsJSON, depsJSON)
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE wd_collections SET next_row = ?, next_serial = ? WHERE id = ?`, nextRow+1, nextSer+1, colID); err != nil {
		return 0, err
	}
	return nextRow, tx.Commit()
}

func (s *Store) updateRow(ctx context.Context, colID, row int64, fields map[string][]byte, depends []store.ResolvedDepend, term store.Term, activity store.Activity) error {
	var simple []store.Depend
	for _, d := range depends {
		simple = append(simple, store.Depend{Key: d.Key, CollectionID: d.CollectionID, Row: d.Row})
	}
	fieldsJSON, depsJSON, err := encodeRowPayload(fields, simple)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE wd_rows SET fields_json=?, depends_json=?, term_begin=?, term_end=?, activity=?, last_updated=?
		WHERE collection_id=? AND row=?`,
		fieldsJSON, depsJSON, term.Begin, term.End, int(activity), time.Now().Unix(), colID, row)
	return err
}

func encodeRowPayload(fields map[string][]byte, depends []store.Depend) (string, string, error) {
	fb, err := json.Marshal(fields)
	if err != nil {
		return "", "", err
	}
	db, err := json.Marshal(depends)
	if err != nil {
		return "", "", err
	}
	return string(fb), string(db), nil
}

func (s *Store) rowByID(ctx context.Context, colID, row int64) (store.Row, bool, error) {
	var r store.Row
	var fieldsJSON, dependsJSON, rowUUID string
	var activity int
	err := s.db.QueryRowContext(ctx, `SELECT uuid, serial, activity, term_begin, term_end, last_updated, fields_json, depends_json
		FROM wd_rows WHERE collection_id = ? AND row = ?`, colID, row).
		Scan(&rowUUID, &r.Serial, &activity, &r.Term.Begin, &r.Term.End, &r.LastUpdated, &fieldsJSON, &dependsJSON)
	if err == sql.ErrNoRows {
		return store.Row{}, false, nil
	}
	if err != nil {
		return store.Row{}, false, err
	}
	r.CollectionID = colID
	r.Row = row
	r.UUID = rowUUID
	r.Activity = store.Activity(activity)
	if err := json.Unmarshal([]byte(fieldsJSON), &r.Fields); err != nil {
		return store.Row{}, false, err
	}
	var deps []store.Depend
	if err := json.Unmarshal([]byte(dependsJSON), &deps); err != nil {
		return store.Row{}, false, err
	}
	for _, d := range deps {
		name, _ := s.CollectionName(ctx, d.CollectionID)
		r.Depends = append(r.Depends, store.ResolvedDepend{Key: d.Key, CollectionID: d.CollectionID, CollectionName: name, Row: d.Row})
	}
	return r, true, nil
}

func (s *Store) Record(ctx context.Context, sessionID, collectionName string, row int64) (store.Row, bool, error) {
	if row == 0 {
		return store.Row{}, false, nil
	}
	colID, ok := s.CollectionID(ctx, collectionName)
	if !ok {
		return store.Row{}, false, nil
	}
	if row < 0 {
		if sessionID == "" {
			return store.Row{}, false, nil
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		ov, ok := s.sessions[sessionID]
		if !ok {
			return store.Row{}, false, nil
		}
		rows, ok := ov.temp[colID]
		if !ok {
			return store.Row{}, false, nil
		}
		r, ok := rows[row]
		if !ok {
			return store.Row{}, false, nil
		}
		out := store.Row{CollectionID: colID, Row: r.row, UUID: r.uuid, Fields: r.fields, Term: r.term}
		for _, d := range r.depends {
			name, _ := s.CollectionName(ctx, d.CollectionID)
			out.Depends = append(out.Depends, store.ResolvedDepend{Key: d.Key, CollectionID: d.CollectionID, CollectionName: name, Row: d.Row})
		}
		return out, true, nil
	}
	return s.rowByID(ctx, colID, row)
}

// --- search ---

type result struct {
	rows []store.ResultRow
	s    *Store
}

func (r *result) Rows() []store.ResultRow { return r.rows }

func (r *result) Sort(keys []store.SortKey) []int64 {
	fieldOf := func(rr store.ResultRow, name string) string {
		rec, ok, err := r.s.rowByID(context.Background(), rr.CollectionID, rr.Row)
		if err != nil || !ok {
			return ""
		}
		return string(rec.Fields[name])
	}
	return store.SortRows(r.rows, keys, fieldOf)
}

func (s *Store) Search(ctx context.Context, sessionID string, q store.Query) (store.Result, bool, error) {
	colID, ok := s.CollectionID(ctx, q.Collection)
	if !ok {
		if !q.CreateCollectionIfMissing {
			return nil, false, nil
		}
		id, err := s.getOrCreateCollection(ctx, q.Collection)
		if err != nil {
			return nil, false, err
		}
		colID = id
	}

	rows, err := s.db.QueryContext(ctx, `SELECT row, uuid, serial, activity, term_begin, term_end, last_updated, fields_json, depends_json
		FROM wd_rows WHERE collection_id = ?`, colID)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var matched []store.ResultRow
	for rows.Next() {
		var r store.Row
		var fieldsJSON, dependsJSON string
		var activity int
		if err := rows.Scan(&r.Row, &r.UUID, &r.Serial, &activity, &r.Term.Begin, &r.Term.End, &r.LastUpdated, &fieldsJSON, &dependsJSON); err != nil {
			return nil, false, err
		}
		r.CollectionID = colID
		r.Activity = store.Activity(activity)
		if err := json.Unmarshal([]byte(fieldsJSON), &r.Fields); err != nil {
			return nil, false, err
		}
		if store.MatchesQuery(r, q) {
			matched = append(matched, store.ResultRow{CollectionID: colID, Row: r.Row})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	if sessionID != "" {
		s.mu.Lock()
		if ov, ok := s.sessions[sessionID]; ok {
			if temp, ok := ov.temp[colID]; ok {
				for _, r := range temp {
					rec := store.Row{CollectionID: colID, Row: r.row, UUID: r.uuid, Fields: r.fields, Term: r.term, Activity: store.ActivityActive}
					if store.MatchesQuery(rec, q) {
						matched = append(matched, store.ResultRow{CollectionID: colID, Row: r.row})
					}
				}
			}
		}
		s.mu.Unlock()
	}

	if err := s.resolveJoins(ctx, sessionID, colID, matched, q.Conditions); err != nil {
		return nil, false, err
	}

	return &result{rows: matched, s: s}, true, nil
}

// resolveJoins mirrors memstore's join resolution over the SQL-backed
// representation: it loads every row's depends (base table plus, if a
// session is open, each collection's session-local overlay) and, for each
// outer row, collects every candidate whose depends name that row under
// the join's relation key. This is what sort="join.J.len" orders by.
func (s *Store) resolveJoins(ctx context.Context, sessionID string, colID int64, rows []store.ResultRow, conds []store.Condition) error {
	var joins []*store.Join
	store.CollectJoins(conds, &joins)
	if len(joins) == 0 {
		return nil
	}

	type candidate struct {
		collectionID int64
		row          int64
		depends      []store.Depend
	}
	var candidates []candidate

	dbRows, err := s.db.QueryContext(ctx, `SELECT collection_id, row, depends_json FROM wd_rows`)
	if err != nil {
		return err
	}
	for dbRows.Next() {
		var cand candidate
		var depJSON string
		if err := dbRows.Scan(&cand.collectionID, &cand.row, &depJSON); err != nil {
			dbRows.Close()
			return err
		}
		if err := json.Unmarshal([]byte(depJSON), &cand.depends); err != nil {
			dbRows.Close()
			return err
		}
		candidates = append(candidates, cand)
	}
	if err := dbRows.Err(); err != nil {
		dbRows.Close()
		return err
	}
	dbRows.Close()

	if sessionID != "" {
		s.mu.Lock()
		if ov, ok := s.sessions[sessionID]; ok {
			for otherColID, temp := range ov.temp {
				for _, r := range temp {
					candidates = append(candidates, candidate{collectionID: otherColID, row: r.row, depends: r.depends})
				}
			}
		}
		s.mu.Unlock()
	}

	for i := range rows {
		rows[i].Joins = make(map[string][]store.ResultRow)
		for _, j := range joins {
			var matched []store.ResultRow
			for _, cand := range candidates {
				for _, d := range cand.depends {
					if d.Key == j.Relation && d.CollectionID == colID && d.Row == rows[i].Row {
						matched = append(matched, store.ResultRow{CollectionID: cand.collectionID, Row: cand.row})
					}
				}
			}
			rows[i].Joins[j.Name] = matched
		}
	}
	return nil
}
