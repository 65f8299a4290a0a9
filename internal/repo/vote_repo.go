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

// ConstraintVoteUnique enforces one vote per (poll, user)
const ConstraintVoteUnique = "votes_sondage_utilisateur_unique"

// PendingVote is an unvalidated vote and its first validation token.
// DiscardVoteID, when non-zero, names an expired pending vote of the same
// pair that is deleted in the same transaction before the insert.
type PendingVote struct {
	Vote          model.Vote
	Token         model.ValidationToken
	DiscardVoteID int64
}

// VoteRepo defines the interface for vote and validation token operations
type VoteRepo interface {
	FindByPollAndUser(ctx context.Context, pollID, userID int64) (model.Vote, error)
	GetForUser(ctx context.Context, voteID, userID int64) (model.Vote, error)
	OptionBelongsToPoll(ctx context.Context, optionID, pollID int64) (bool, error)
	CreatePending(ctx context.Context, p PendingVote, now time.Time) (model.Vote, error)
	AddToken(ctx context.Context, t model.ValidationToken) error
	LatestToken(ctx context.Context, voteID int64) (model.ValidationToken, error)
	LiveTokenCount(ctx context.Context, voteID int64, now time.Time) (int, error)
	FindUsableToken(ctx context.Context, voteID int64, code string, now time.Time) (model.ValidationToken, error)
	Confirm(ctx context.Context, voteID, tokenID int64, now time.Time) error
	DeletePending(ctx context.Context, voteID int64) error
	History(ctx context.Context, userID int64) ([]model.HistoryEntry, error)
	OptionCounts(ctx context.Context, pollID int64) ([]model.OptionCount, error)
}

type voteRepo struct {
	db *sql.DB
}

// NewVoteRepo creates a new VoteRepo instance
func NewVoteRepo(db *sql.DB) VoteRepo {
	return &voteRepo{db: db}
}

const voteColumns = `id, id_sondage, id_utilisateur, id_option, est_valide, date_vote`

func scanVote(row interface{ Scan(...any) error }) (model.Vote, error) {
	var v model.Vote
	if err := row.Scan(&v.ID, &v.PollID, &v.UserID, &v.OptionID, &v.Validated, &v.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Vote{}, ErrNotFound
		}
		return model.Vote{}, fmt.Errorf("scan vote: %w", err)
	}
	return v, nil
}

const tokenColumns = `id, id_vote, code, type, utilise, expire_le, date_creation`

func scanToken(row interface{ Scan(...any) error }) (model.ValidationToken, error) {
	var t model.ValidationToken
	var channel string
	if err := row.Scan(&t.ID, &t.VoteID, &t.Code, &channel, &t.Used, &t.ExpiresAt, &t.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ValidationToken{}, ErrNotFound
		}
		return model.ValidationToken{}, fmt.Errorf("scan token: %w", err)
	}
	t.Channel = model.Channel(channel)
	return t, nil
}

// FindByPollAndUser returns the vote of a user on a poll, validated or not
func (r *voteRepo) FindByPollAndUser(ctx context.Context, pollID, userID int64) (model.Vote, error) {
	return scanVote(r.db.QueryRowContext(ctx,
		`SELECT `+voteColumns+` FROM votes WHERE id_sondage = $1 AND id_utilisateur = $2`, pollID, userID))
}

// GetForUser returns a vote only when it belongs to userID
func (r *voteRepo) GetForUser(ctx context.Context, voteID, userID int64) (model.Vote, error) {
	return scanVote(r.db.QueryRowContext(ctx,
		`SELECT `+voteColumns+` FROM votes WHERE id = $1 AND id_utilisateur = $2`, voteID, userID))
}

// OptionBelongsToPoll reports whether the option is one of the poll's options
func (r *voteRepo) OptionBelongsToPoll(ctx context.Context, optionID, pollID int64) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM options_sondage WHERE id = $1 AND id_sondage = $2)`, optionID, pollID,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check option: %w", err)
	}
	return ok, nil
}

// CreatePending inserts an unvalidated vote and its token in one transaction.
// A concurrent vote by the same user on the same poll fails on the unique
// constraint and surfaces as a *DuplicateError.
func (r *voteRepo) CreatePending(ctx context.Context, p PendingVote, now time.Time) (model.Vote, error) {
	var created model.Vote
	err := db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if p.DiscardVoteID != 0 {
			result, err := tx.ExecContext(ctx, `
				DELETE FROM votes v
				WHERE v.id = $1 AND NOT v.est_valide
				  AND NOT EXISTS (
				      SELECT 1 FROM tokens_validation t
				      WHERE t.id_vote = v.id AND NOT t.utilise AND t.expire_le > $2
				  )
			`, p.DiscardVoteID, now)
			if err != nil {
				return fmt.Errorf("discard expired vote: %w", err)
			}
			if n, _ := result.RowsAffected(); n == 0 {
				return ErrStateChanged
			}
		}

		var err error
		created, err = scanVote(tx.QueryRowContext(ctx, `
			INSERT INTO votes (id_sondage, id_utilisateur, id_option, est_valide)
			VALUES ($1, $2, $3, FALSE)
			RETURNING `+voteColumns, p.Vote.PollID, p.Vote.UserID, p.Vote.OptionID))
		if err != nil {
			return fmt.Errorf("insert vote: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO tokens_validation (id_vote, code, type, expire_le)
			VALUES ($1, $2, $3, $4)
		`, created.ID, p.Token.Code, string(p.Token.Channel), p.Token.ExpiresAt)
		if err != nil {
			return fmt.Errorf("insert token: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.Vote{}, classify(err)
	}
	return created, nil
}

// AddToken stores an additional validation token for a vote
func (r *voteRepo) AddToken(ctx context.Context, t model.ValidationToken) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tokens_validation (id_vote, code, type, expire_le)
		VALUES ($1, $2, $3, $4)
	`, t.VoteID, t.Code, string(t.Channel), t.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

// LatestToken returns the most recently issued token of a vote
func (r *voteRepo) LatestToken(ctx context.Context, voteID int64) (model.ValidationToken, error) {
	return scanToken(r.db.QueryRowContext(ctx, `
		SELECT `+tokenColumns+` FROM tokens_validation
		WHERE id_vote = $1
		ORDER BY date_creation DESC, id DESC
		LIMIT 1
	`, voteID))
}

// LiveTokenCount counts unused tokens of a vote that expire after now
func (r *voteRepo) LiveTokenCount(ctx context.Context, voteID int64, now time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM tokens_validation
		WHERE id_vote = $1 AND NOT utilise AND expire_le > $2
	`, voteID, now).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count live tokens: %w", err)
	}
	return count, nil
}

// FindUsableToken returns an unused, unexpired token of the vote whose code matches exactly
func (r *voteRepo) FindUsableToken(ctx context.Context, voteID int64, code string, now time.Time) (model.ValidationToken, error) {
	return scanToken(r.db.QueryRowContext(ctx, `
		SELECT `+tokenColumns+` FROM tokens_validation
		WHERE id_vote = $1 AND code = $2 AND NOT utilise AND expire_le > $3
		ORDER BY date_creation DESC
		LIMIT 1
	`, voteID, code, now))
}

// Confirm marks the vote validated then the token used, in one transaction.
// Both updates are guarded so that a concurrent confirmation fails with
// ErrStateChanged instead of applying twice.
func (r *voteRepo) Confirm(ctx context.Context, voteID, tokenID int64, now time.Time) error {
	return db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE votes SET est_valide = TRUE WHERE id = $1 AND NOT est_valide`, voteID)
		if err != nil {
			return fmt.Errorf("validate vote: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return ErrStateChanged
		}

		result, err = tx.ExecContext(ctx, `
			UPDATE tokens_validation SET utilise = TRUE
			WHERE id = $1 AND id_vote = $2 AND NOT utilise AND expire_le > $3
		`, tokenID, voteID, now)
		if err != nil {
			return fmt.Errorf("consume token: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return ErrStateChanged
		}
		return nil
	})
}

// DeletePending removes a vote that has not been validated
func (r *voteRepo) DeletePending(ctx context.Context, voteID int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM votes WHERE id = $1 AND NOT est_valide`, voteID)
	if err != nil {
		return fmt.Errorf("delete pending vote: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// History returns the validated votes of a user, most recent first.
// Options of each entry are left empty.
func (r *voteRepo) History(ctx context.Context, userID int64) ([]model.HistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT v.id, v.date_vote, v.id_option,
		       s.id, s.titre, s.date_debut, s.date_fin,
		       (SELECT COUNT(*) FROM votes w WHERE w.id_sondage = s.id AND w.est_valide) AS nombre_votes_total
		FROM votes v
		JOIN sondages s ON s.id = v.id_sondage
		WHERE v.id_utilisateur = $1 AND v.est_valide
		ORDER BY v.date_vote DESC, v.id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	entries := []model.HistoryEntry{}
	for rows.Next() {
		var e model.HistoryEntry
		err := rows.Scan(&e.VoteID, &e.VotedAt, &e.OptionID, &e.PollID, &e.Title, &e.Start, &e.End, &e.TotalVotes)
		if err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	return entries, nil
}

// OptionCounts returns every option of the poll with its validated vote count, in display order
func (r *voteRepo) OptionCounts(ctx context.Context, pollID int64) ([]model.OptionCount, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT o.id, o.id_sondage, o.texte, o.description, o.ordre, COUNT(v.id)
		FROM options_sondage o
		LEFT JOIN votes v ON v.id_option = o.id AND v.est_valide
		WHERE o.id_sondage = $1
		GROUP BY o.id
		ORDER BY o.ordre
	`, pollID)
	if err != nil {
		return nil, fmt.Errorf("query option counts: %w", err)
	}
	defer rows.Close()

	counts := []model.OptionCount{}
	for rows.Next() {
		var c model.OptionCount
		o := &c.Option
		if err := rows.Scan(&o.ID, &o.PollID, &o.Text, &o.Description, &o.Order, &c.Count); err != nil {
			return nil, fmt.Errorf("scan option count: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query option counts: %w", err)
	}
	return counts, nil
}
