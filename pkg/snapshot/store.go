package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/devicelab-dev/xpath-healer/pkg/core"
)

// Store is a SQLite-backed page store.
type Store struct {
	DB *sql.DB
}

// PageSummary is a row of ListPages.
type PageSummary struct {
	ID        string
	Name      string
	States    int
	Locators  int
	UpdatedAt time.Time
}

// Open opens (or creates) the store at path and applies the schema.
// ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{DB: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

// SavePage inserts or replaces a page with all its states, versions and locators.
func (s *Store) SavePage(ctx context.Context, p *Page) error {
	if p == nil || p.ID == "" {
		return errors.New("page id is required")
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UnixMilli()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO pages (id, name, created_at, updated_at) VALUES (?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, updated_at = excluded.updated_at`,
		p.ID, p.Name, now, now,
	); err != nil {
		return err
	}
	for _, table := range []string{"locators", "versions", "states"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE page_id = ?`, p.ID); err != nil {
			return err
		}
	}

	for i, st := range p.States {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO states (page_id, state_id, name, position) VALUES (?,?,?,?)`,
			p.ID, st.ID, st.Name, i,
		); err != nil {
			return fmt.Errorf("state %s: %w", st.ID, err)
		}
		for platform, v := range st.Versions {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO versions (page_id, state_id, platform, screenshot, page_source) VALUES (?,?,?,?,?)`,
				p.ID, st.ID, platform, v.ScreenShot, v.PageSource,
			); err != nil {
				return fmt.Errorf("state %s/%s: %w", st.ID, platform, err)
			}
		}
	}

	if err := saveLocators(ctx, tx, p.ID, p.Locators); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveLocators replaces the locators of an existing page.
func (s *Store) SaveLocators(ctx context.Context, pageID string, locators []core.Locator) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM locators WHERE page_id = ?`, pageID); err != nil {
		return err
	}
	if err := saveLocators(ctx, tx, pageID, locators); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE pages SET updated_at = ? WHERE id = ?`,
		time.Now().UnixMilli(), pageID); err != nil {
		return err
	}
	return tx.Commit()
}

func saveLocators(ctx context.Context, tx *sql.Tx, pageID string, locators []core.Locator) error {
	for i, loc := range locators {
		body, err := json.Marshal(loc)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO locators (page_id, locator_id, state_id, platform, position, body)
			VALUES (?,?,?,?,?,?)`,
			pageID, loc.ID, loc.StateID, string(loc.Platform), i, string(body),
		); err != nil {
			return fmt.Errorf("locator %s: %w", loc.ID, err)
		}
	}
	return nil
}

// LoadPage implements Source.
func (s *Store) LoadPage(ctx context.Context, id string) (*Page, error) {
	p := &Page{}
	err := s.DB.QueryRowContext(ctx, `SELECT id, name FROM pages WHERE id = ?`, id).Scan(&p.ID, &p.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrSnapshotNotFound.WithDetails(map[string]interface{}{"page": id})
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx,
		`SELECT state_id, name FROM states WHERE page_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	index := make(map[string]int)
	for rows.Next() {
		var st State
		if err := rows.Scan(&st.ID, &st.Name); err != nil {
			rows.Close()
			return nil, err
		}
		st.Versions = make(map[string]Version)
		index[st.ID] = len(p.States)
		p.States = append(p.States, st)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.DB.QueryContext(ctx,
		`SELECT state_id, platform, screenshot, page_source FROM versions WHERE page_id = ?`, id)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var stateID, platform string
		var v Version
		if err := rows.Scan(&stateID, &platform, &v.ScreenShot, &v.PageSource); err != nil {
			rows.Close()
			return nil, err
		}
		if i, ok := index[stateID]; ok {
			p.States[i].Versions[platform] = v
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	p.Locators, err = s.LoadLocators(ctx, id)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// LoadLocators returns the locators of a page in saved order.
func (s *Store) LoadLocators(ctx context.Context, pageID string) ([]core.Locator, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT body FROM locators WHERE page_id = ? ORDER BY position`, pageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Locator
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var loc core.Locator
		if err := json.Unmarshal([]byte(body), &loc); err != nil {
			return nil, fmt.Errorf("decode locator: %w", err)
		}
		out = append(out, loc)
	}
	return out, rows.Err()
}

// ListPages returns a summary of every stored page, most recently updated first.
func (s *Store) ListPages(ctx context.Context) ([]PageSummary, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT p.id, p.name, p.updated_at,
		       (SELECT COUNT(*) FROM states st WHERE st.page_id = p.id),
		       (SELECT COUNT(*) FROM locators l WHERE l.page_id = p.id)
		FROM pages p ORDER BY p.updated_at DESC, p.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PageSummary
	for rows.Next() {
		var ps PageSummary
		var updated int64
		if err := rows.Scan(&ps.ID, &ps.Name, &updated, &ps.States, &ps.Locators); err != nil {
			return nil, err
		}
		ps.UpdatedAt = time.UnixMilli(updated)
		out = append(out, ps)
	}
	return out, rows.Err()
}

// DeletePage removes a page and everything recorded against it.
func (s *Store) DeletePage(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM pages WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrSnapshotNotFound.WithDetails(map[string]interface{}{"page": id})
	}
	return nil
}
