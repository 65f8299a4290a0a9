package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/opina/server/internal/db"
	"github.com/opina/server/internal/model"
)

// ConstraintPollTitle is the unique constraint on poll titles
const ConstraintPollTitle = "sondages_titre_key"

// PollRepo defines the interface for poll and option repository operations
type PollRepo interface {
	ListOpen(ctx context.Context, now time.Time, categoryID *int64) ([]model.Poll, error)
	ListAll(ctx context.Context) ([]model.Poll, error)
	GetByID(ctx context.Context, id int64) (model.Poll, error)
	Options(ctx context.Context, pollID int64) ([]model.Option, error)
	TitleTaken(ctx context.Context, title string, exceptID int64) (bool, error)
	CreateWithOptions(ctx context.Context, p model.Poll, options []model.NewOption) (int64, error)
	Update(ctx context.Context, p model.Poll, options model.Optional[[]model.NewOption], now time.Time) error
	Delete(ctx context.Context, id int64) error
}

type pollRepo struct {
	db *sql.DB
}

// NewPollRepo creates a new PollRepo instance
func NewPollRepo(db *sql.DB) PollRepo {
	return &pollRepo{db: db}
}

const pollSummaryQuery = `
	SELECT s.id, s.titre, s.description, s.id_createur, u.nom,
	       c.id, c.nom, c.couleur,
	       s.date_debut, s.date_fin, s.date_creation, s.date_modification,
	       (SELECT COUNT(*) FROM votes v WHERE v.id_sondage = s.id AND v.est_valide) AS nombre_votes
	FROM sondages s
	JOIN utilisateurs u ON u.id = s.id_createur
	LEFT JOIN categories c ON c.id = s.id_categorie
`

func scanPoll(row interface{ Scan(...any) error }) (model.Poll, error) {
	var p model.Poll
	var catID sql.NullInt64
	var catName, catColor sql.NullString
	err := row.Scan(
		&p.ID,
		&p.Title,
		&p.Description,
		&p.CreatorID,
		&p.CreatorName,
		&catID,
		&catName,
		&catColor,
		&p.Start,
		&p.End,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.ValidatedVotes,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Poll{}, ErrNotFound
		}
		return model.Poll{}, fmt.Errorf("scan poll: %w", err)
	}
	if catID.Valid {
		p.Category = &model.CategoryRef{ID: catID.Int64, Name: catName.String, Color: catColor.String}
	}
	return p, nil
}

func (r *pollRepo) queryPolls(ctx context.Context, query string, args ...any) ([]model.Poll, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query polls: %w", err)
	}
	defer rows.Close()

	polls := []model.Poll{}
	for rows.Next() {
		p, err := scanPoll(rows)
		if err != nil {
			return nil, err
		}
		polls = append(polls, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query polls: %w", err)
	}
	return polls, nil
}

// ListOpen returns polls not yet closed at now, soonest start first, newest first on ties
func (r *pollRepo) ListOpen(ctx context.Context, now time.Time, categoryID *int64) ([]model.Poll, error) {
	return r.queryPolls(ctx, pollSummaryQuery+`
		WHERE s.date_fin > $1 AND ($2::bigint IS NULL OR s.id_categorie = $2)
		ORDER BY s.date_debut ASC, s.date_creation DESC
	`, now, categoryID)
}

// ListAll returns every poll, newest first
func (r *pollRepo) ListAll(ctx context.Context) ([]model.Poll, error) {
	return r.queryPolls(ctx, pollSummaryQuery+` ORDER BY s.date_creation DESC`)
}

// GetByID retrieves one poll summary
func (r *pollRepo) GetByID(ctx context.Context, id int64) (model.Poll, error) {
	p, err := scanPoll(r.db.QueryRowContext(ctx, pollSummaryQuery+` WHERE s.id = $1`, id))
	if err != nil {
		return model.Poll{}, fmt.Errorf("get poll %d: %w", id, err)
	}
	return p, nil
}

// Options returns the options of a poll in display order
func (r *pollRepo) Options(ctx context.Context, pollID int64) ([]model.Option, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, id_sondage, texte, description, ordre
		FROM options_sondage
		WHERE id_sondage = $1
		ORDER BY ordre
	`, pollID)
	if err != nil {
		return nil, fmt.Errorf("query options: %w", err)
	}
	defer rows.Close()

	options := []model.Option{}
	for rows.Next() {
		var o model.Option
		if err := rows.Scan(&o.ID, &o.PollID, &o.Text, &o.Description, &o.Order); err != nil {
			return nil, fmt.Errorf("scan option: %w", err)
		}
		options = append(options, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query options: %w", err)
	}
	return options, nil
}

// TitleTaken reports whether another poll (id != exceptID) uses title
func (r *pollRepo) TitleTaken(ctx context.Context, title string, exceptID int64) (bool, error) {
	var taken bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM sondages WHERE titre = $1 AND id <> $2)`, title, exceptID,
	).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("check poll title: %w", err)
	}
	return taken, nil
}

func insertOptions(ctx context.Context, tx *sql.Tx, pollID int64, options []model.NewOption) error {
	for i, o := range options {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO options_sondage (id_sondage, texte, description, ordre)
			VALUES ($1, $2, $3, $4)
		`, pollID, o.Text, o.Description, i)
		if err != nil {
			return fmt.Errorf("insert option %d: %w", i, err)
		}
	}
	return nil
}

// CreateWithOptions inserts the poll and its options in one transaction.
// Option order follows the slice index.
func (r *pollRepo) CreateWithOptions(ctx context.Context, p model.Poll, options []model.NewOption) (int64, error) {
	var id int64
	err := db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO sondages (titre, description, id_createur, id_categorie, date_debut, date_fin)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		`, p.Title, p.Description, p.CreatorID, p.CategoryID(), p.Start, p.End).Scan(&id)
		if err != nil {
			return fmt.Errorf("insert poll: %w", err)
		}
		return insertOptions(ctx, tx, id, options)
	})
	if err != nil {
		return 0, classify(err)
	}
	return id, nil
}

// Update writes the full poll row and, when options is set, replaces every
// option of the poll. Deleting options cascades to the votes on them.
// The write only applies while the poll has not started at now.
func (r *pollRepo) Update(ctx context.Context, p model.Poll, options model.Optional[[]model.NewOption], now time.Time) error {
	err := db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE sondages
			SET titre = $2, description = $3, id_categorie = $4,
			    date_debut = $5, date_fin = $6, date_modification = NOW()
			WHERE id = $1 AND date_debut > $7
		`, p.ID, p.Title, p.Description, p.CategoryID(), p.Start, p.End, now)
		if err != nil {
			return fmt.Errorf("update poll: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return ErrStateChanged
		}

		replacement, ok := options.Get()
		if !ok {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM options_sondage WHERE id_sondage = $1`, p.ID); err != nil {
			return fmt.Errorf("delete options: %w", err)
		}
		return insertOptions(ctx, tx, p.ID, replacement)
	})
	return classify(err)
}

// Delete removes a poll; options, votes and tokens go with it
func (r *pollRepo) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sondages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete poll: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
