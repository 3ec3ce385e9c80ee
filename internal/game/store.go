package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Temur101/dictionary/internal/domain"
)

// Patch is a partial session update. Nil fields are left untouched;
// present fields overwrite last-write-wins, with no concurrency token.
// Answers always carries the full append-only slice, so re-applying the
// same patch is safe.
type Patch struct {
	CurrentIndex *int
	Answers      []domain.Answer
	Finished     *bool
}

// Store persists sessions to Postgres.
type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Create inserts the session and assigns its ID.
func (s *Store) Create(ctx context.Context, ss *domain.Session) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate session ID: %w", err)
	}

	answers, err := marshalAnswers(ss.Answers)
	if err != nil {
		return err
	}

	const stmt = `
INSERT INTO game_sessions
	(session_id, user_id, list_ids, mode, word_ids, current_word_index, answers, is_finished, started_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);`

	_, err = s.db.Exec(ctx, stmt,
		id, ss.UserID, ss.ListIDs, string(ss.Mode), ss.WordIDs,
		ss.CurrentIndex, answers, ss.Finished, ss.StartedAt, ss.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	ss.SessionID = id.String()
	return nil
}

// Patch applies a partial field-level update to the session.
func (s *Store) Patch(ctx context.Context, sessionID string, p Patch) error {
	set := []string{"updated_at = $2"}
	args := []any{sessionID, time.Now()}

	if p.CurrentIndex != nil {
		args = append(args, *p.CurrentIndex)
		set = append(set, fmt.Sprintf("current_word_index = $%d", len(args)))
	}
	if p.Answers != nil {
		answers, err := marshalAnswers(p.Answers)
		if err != nil {
			return err
		}
		args = append(args, answers)
		set = append(set, fmt.Sprintf("answers = $%d", len(args)))
	}
	if p.Finished != nil {
		args = append(args, *p.Finished)
		set = append(set, fmt.Sprintf("is_finished = $%d", len(args)))
	}

	stmt := fmt.Sprintf("UPDATE game_sessions SET %s WHERE session_id = $1;", strings.Join(set, ", "))
	if _, err := s.db.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("patch session: %w", err)
	}

	return nil
}

// FinishActive marks every unfinished session of the user finished.
// The cleanup is user-scoped so sessions left behind by other processes
// are swept too.
func (s *Store) FinishActive(ctx context.Context, userID string) error {
	const stmt = `
UPDATE game_sessions
SET is_finished = TRUE, updated_at = $2
WHERE user_id = $1 AND is_finished = FALSE;`

	if _, err := s.db.Exec(ctx, stmt, userID, time.Now()); err != nil {
		return fmt.Errorf("finish active sessions: %w", err)
	}

	return nil
}

// FetchActive returns the most recently touched unfinished session of the
// user, or nil when there is none.
func (s *Store) FetchActive(ctx context.Context, userID string) (*domain.Session, error) {
	const stmt = sessionSelect + `
WHERE user_id = $1 AND is_finished = FALSE
ORDER BY updated_at DESC
LIMIT 1;`

	rows, err := s.db.Query(ctx, stmt, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch active session: %w", err)
	}

	ss, err := pgx.CollectOneRow(rows, scanSession)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch active session: %w", err)
	}

	return &ss, nil
}

// FetchFinished returns the user's finished sessions ordered by start time.
func (s *Store) FetchFinished(ctx context.Context, userID string) ([]domain.Session, error) {
	const stmt = sessionSelect + `
WHERE user_id = $1 AND is_finished = TRUE
ORDER BY started_at, session_id;`

	rows, err := s.db.Query(ctx, stmt, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch finished sessions: %w", err)
	}

	sessions, err := pgx.CollectRows(rows, scanSession)
	if err != nil {
		return nil, fmt.Errorf("fetch finished sessions: %w", err)
	}

	return sessions, nil
}

const sessionSelect = `
SELECT session_id, user_id, list_ids, mode, word_ids, current_word_index, answers, is_finished, started_at, updated_at
FROM game_sessions`

func scanSession(r pgx.CollectableRow) (domain.Session, error) {
	var (
		ss      domain.Session
		mode    string
		answers []byte
	)
	if err := r.Scan(&ss.SessionID, &ss.UserID, &ss.ListIDs, &mode, &ss.WordIDs,
		&ss.CurrentIndex, &answers, &ss.Finished, &ss.StartedAt, &ss.UpdatedAt); err != nil {
		return domain.Session{}, err
	}
	ss.Mode = domain.Mode(mode)
	if err := json.Unmarshal(answers, &ss.Answers); err != nil {
		return domain.Session{}, fmt.Errorf("unmarshal answers: %w", err)
	}
	return ss, nil
}

func marshalAnswers(answers []domain.Answer) ([]byte, error) {
	if answers == nil {
		answers = []domain.Answer{}
	}
	b, err := json.Marshal(answers)
	if err != nil {
		return nil, fmt.Errorf("marshal answers: %w", err)
	}
	return b, nil
}
