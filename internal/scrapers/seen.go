package scrapers

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rwa-platform/compliance-oracle/internal/database"
)

// SeenRepository records which update ids have already been emitted per
// source, so a feed entry that stays on the regulator's page for days is not
// re-fed to the oracle on every tick.
type SeenRepository struct {
	db *database.DB
}

// NewSeenRepository creates the repository.
func NewSeenRepository(db *database.DB) *SeenRepository {
	return &SeenRepository{db: db}
}

// FilterNew inserts the updates it has not seen before and returns only
// those. The insert and the check happen in one transaction.
func (r *SeenRepository) FilterNew(source string, updates []Update) ([]Update, error) {
	if len(updates) == 0 {
		return nil, nil
	}

	var fresh []Update
	err := database.WithTransaction(r.db.Conn(), func(tx *sql.Tx) error {
		now := time.Now().Format(time.RFC3339)
		for _, u := range updates {
			res, err := tx.Exec(
				`INSERT OR IGNORE INTO seen_updates (update_id, source, title, url, first_seen) VALUES (?, ?, ?, ?, ?)`,
				u.ID, source, u.Title, u.URL, now,
			)
			if err != nil {
				return fmt.Errorf("failed to record update %s: %w", u.ID, err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to check insert result for %s: %w", u.ID, err)
			}
			if affected > 0 {
				fresh = append(fresh, u)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fresh, nil
}

// Count reports how many updates have been recorded for a source.
func (r *SeenRepository) Count(source string) (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM seen_updates WHERE source = ?`, source).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count seen updates for %s: %w", source, err)
	}
	return n, nil
}
