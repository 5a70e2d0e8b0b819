package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/kartikbazzad/bunpub/internal/types"
)

// persister write-throughs documents to a sqlite file so a restarted server
// comes back with its collections intact. Mutations hit sqlite before the
// in-memory state changes; a failed write leaves both sides untouched.
type persister struct {
	db *sql.DB
}

func openPersister(path string) (*persister, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open persistence db: %w", err)
	}
	// The store serializes writes under its own lock.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		doc_id     TEXT NOT NULL,
		fields     TEXT NOT NULL,
		PRIMARY KEY (collection, doc_id)
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create documents table: %w", err)
	}
	return &persister{db: db}, nil
}

func (p *persister) loadAll() (map[string]map[string]types.Fields, error) {
	rows, err := p.db.Query(`SELECT collection, doc_id, fields FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	defer rows.Close()

	out := make(map[string]map[string]types.Fields)
	for rows.Next() {
		var collection, id, raw string
		if err := rows.Scan(&collection, &id, &raw); err != nil {
			return nil, fmt.Errorf("scan document row: %w", err)
		}
		var fields types.Fields
		if err := json.Unmarshal([]byte(raw), &fields); err != nil {
			return nil, fmt.Errorf("decode document %s/%s: %w", collection, id, err)
		}
		if out[collection] == nil {
			out[collection] = make(map[string]types.Fields)
		}
		out[collection][id] = fields
	}
	return out, rows.Err()
}

func (p *persister) upsert(collection, id string, fields types.Fields) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode document %s/%s: %w", collection, id, err)
	}
	_, err = p.db.Exec(
		`INSERT INTO documents (collection, doc_id, fields) VALUES (?, ?, ?)
		 ON CONFLICT (collection, doc_id) DO UPDATE SET fields = excluded.fields`,
		collection, id, string(raw),
	)
	if err != nil {
		return fmt.Errorf("persist document %s/%s: %w", collection, id, err)
	}
	return nil
}

func (p *persister) delete(collection, id string) error {
	_, err := p.db.Exec(`DELETE FROM documents WHERE collection = ? AND doc_id = ?`, collection, id)
	if err != nil {
		return fmt.Errorf("delete document %s/%s: %w", collection, id, err)
	}
	return nil
}

func (p *persister) close() error {
	return p.db.Close()
}
