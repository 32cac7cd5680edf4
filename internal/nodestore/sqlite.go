package nodestore

import (
	"bytes"
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Bitlatte/contentpages/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore persists records in a SQLite database. Children and fields are
// stored as JSON columns.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	if path == ":memory:" {
		dsn = path
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// an in-memory database lives and dies with its connection
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		content, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("execute migration %s: %w", name, err)
		}
	}
	return nil
}

// CreateNode inserts rec.
func (s *SQLiteStore) CreateNode(ctx context.Context, rec model.ContentRecord) error {
	if rec.ID == "" || rec.Type == "" {
		return fmt.Errorf("create node: id and type are required")
	}

	children := rec.Children
	if children == nil {
		children = []string{}
	}
	childrenJSON, err := json.Marshal(children)
	if err != nil {
		return fmt.Errorf("encode children of %s: %w", rec.ID, err)
	}
	fields := rec.Fields
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode fields of %s: %w", rec.ID, err)
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM nodes WHERE id = ?`, rec.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("create node %s: %w", rec.ID, err)
	}
	if exists > 0 {
		return fmt.Errorf("create node %s: %w", rec.ID, ErrDuplicateNode)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO nodes (id, type, parent, children, fields)
		VALUES (?, ?, ?, ?, ?)
	`, rec.ID, rec.Type, rec.Parent, string(childrenJSON), string(fieldsJSON))
	if err != nil {
		return fmt.Errorf("create node %s: %w", rec.ID, err)
	}
	return nil
}

// GetNodesByIds returns matches in the order the ids were given.
func (s *SQLiteStore) GetNodesByIds(ctx context.Context, sel Selector, opts Options) ([]model.ContentRecord, error) {
	if len(sel.IDs) == 0 {
		return []model.ContentRecord{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(sel.IDs)), ",")
	args := make([]interface{}, 0, len(sel.IDs)+1)
	for _, id := range sel.IDs {
		args = append(args, id)
	}
	query := `SELECT id, type, parent, children, fields FROM nodes WHERE id IN (` + placeholders + `)`
	if sel.Type != "" {
		query += ` AND type = ?`
		args = append(args, sel.Type)
	}

	found, err := s.queryNodes(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]model.ContentRecord, len(found))
	for _, rec := range found {
		byID[rec.ID] = rec
	}
	result := make([]model.ContentRecord, 0, len(found))
	for _, id := range sel.IDs {
		if rec, ok := byID[id]; ok {
			result = append(result, rec)
		}
	}
	return result, nil
}

func (s *SQLiteStore) GetNode(ctx context.Context, id string) (model.ContentRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, type, parent, children, fields FROM nodes WHERE id = ?`, id)
	rec, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ContentRecord{}, false, nil
	}
	if err != nil {
		return model.ContentRecord{}, false, err
	}
	return rec, true, nil
}

func (s *SQLiteStore) GetAllNodes(ctx context.Context, nodeType string) ([]model.ContentRecord, error) {
	return s.queryNodes(ctx, `
		SELECT id, type, parent, children, fields
		FROM nodes
		WHERE type = ?
		ORDER BY seq ASC
	`, nodeType)
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM nodes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count nodes: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Types(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT type FROM nodes ORDER BY type ASC`)
	if err != nil {
		return nil, fmt.Errorf("list types: %w", err)
	}
	defer rows.Close()

	var types []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan type: %w", err)
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

func (s *SQLiteStore) queryNodes(ctx context.Context, query string, args ...interface{}) ([]model.ContentRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	var result []model.ContentRecord
	for rows.Next() {
		rec, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanNode(row scanner) (model.ContentRecord, error) {
	var (
		rec                  model.ContentRecord
		childrenJSON, fields string
	)
	if err := row.Scan(&rec.ID, &rec.Type, &rec.Parent, &childrenJSON, &fields); err != nil {
		return model.ContentRecord{}, err
	}
	if err := json.Unmarshal([]byte(childrenJSON), &rec.Children); err != nil {
		return model.ContentRecord{}, fmt.Errorf("decode children of %s: %w", rec.ID, err)
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(fields)))
	dec.UseNumber()
	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return model.ContentRecord{}, fmt.Errorf("decode fields of %s: %w", rec.ID, err)
	}
	rec.Fields = make(map[string]interface{}, len(raw))
	for k, v := range raw {
		rec.Fields[k] = normalizeNumbers(v)
	}
	return rec, nil
}

// normalizeNumbers turns json.Number into int64 or float64 so records read
// back from SQLite look like the ones the content source produced.
func normalizeNumbers(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = normalizeNumbers(e)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = normalizeNumbers(e)
		}
		return out
	default:
		return v
	}
}
