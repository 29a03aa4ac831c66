package scenario

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/horizon/internal/database"
	"github.com/aristath/horizon/internal/domain"
)

// ErrNotFound indicates the requested scenario does not exist.
var ErrNotFound = errors.New("scenario not found")

const schema = `
CREATE TABLE IF NOT EXISTS scenarios (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	currency   TEXT NOT NULL,
	months     INTEGER NOT NULL,
	document   TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scenarios_name ON scenarios(name);
`

// Repository persists validated scenarios as JSON documents with a few
// queryable metadata columns.
type Repository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRepository creates the repository and ensures the schema exists.
func NewRepository(db *database.DB, log zerolog.Logger) (*Repository, error) {
	if _, err := db.Conn().Exec(schema); err != nil {
		return nil, fmt.Errorf("creating scenarios schema: %w", err)
	}
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "scenarios").Logger(),
	}, nil
}

// Meta is the list view of a stored scenario.
type Meta struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Currency  string    `json:"currency"`
	Months    int       `json:"months"`
	CreatedAt time.Time `json:"created_at"`
}

// Save stores a scenario and returns its generated id.
func (r *Repository) Save(scn *domain.Scenario) (string, error) {
	doc, err := Encode(scn)
	if err != nil {
		return "", err
	}

	id := uuid.New().String()
	_, err = r.db.Conn().Exec(
		`INSERT INTO scenarios (id, name, currency, months, document, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, scn.Name, string(scn.Currency), scn.Months, string(doc), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return "", fmt.Errorf("saving scenario %q: %w", scn.Name, err)
	}

	r.log.Info().Str("id", id).Str("name", scn.Name).Msg("scenario saved")
	return id, nil
}

// Get loads one scenario by id.
func (r *Repository) Get(id string) (*domain.Scenario, error) {
	var doc string
	err := r.db.Conn().QueryRow(`SELECT document FROM scenarios WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("scenario %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading scenario %s: %w", id, err)
	}
	return Parse([]byte(doc))
}

// List returns metadata for all stored scenarios, newest first.
func (r *Repository) List() ([]Meta, error) {
	rows, err := r.db.Conn().Query(
		`SELECT id, name, currency, months, created_at FROM scenarios ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing scenarios: %w", err)
	}
	defer rows.Close()

	var metas []Meta
	for rows.Next() {
		var m Meta
		var createdAt string
		if err := rows.Scan(&m.ID, &m.Name, &m.Currency, &m.Months, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning scenario row: %w", err)
		}
		m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

// Delete removes a scenario. Runs referencing it are kept; they carry their
// own copy of the summary.
func (r *Repository) Delete(id string) error {
	result, err := r.db.Conn().Exec(`DELETE FROM scenarios WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting scenario %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("scenario %s: %w", id, ErrNotFound)
	}
	return nil
}
