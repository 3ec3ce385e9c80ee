package word

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Temur101/dictionary/internal/domain"
)

type Config struct {
	DB *pgxpool.Pool
}

// Service reads the dictionary: words grouped into per-user lists.
// The game only ever needs reads; list and word management has its own
// surface elsewhere.
type Service struct {
	db *pgxpool.Pool
}

func NewService(c Config) *Service {
	return &Service{
		db: c.DB,
	}
}

// ListWords returns the words belonging to the given lists, in creation order.
func (s *Service) ListWords(ctx context.Context, listIDs []string) ([]domain.Word, error) {
	const stmt = `
SELECT word_id, en, ru, COALESCE(description, ''), list_id, user_id
FROM words
WHERE list_id = ANY($1)
ORDER BY created_at, word_id;`

	rows, err := s.db.Query(ctx, stmt, listIDs)
	if err != nil {
		return nil, fmt.Errorf("list words: %w", err)
	}

	return collectWords(rows)
}

// ListOwnedWords returns every word the user has, across all lists.
func (s *Service) ListOwnedWords(ctx context.Context, userID string) ([]domain.Word, error) {
	const stmt = `
SELECT word_id, en, ru, COALESCE(description, ''), list_id, user_id
FROM words
WHERE user_id = $1
ORDER BY created_at, word_id;`

	rows, err := s.db.Query(ctx, stmt, userID)
	if err != nil {
		return nil, fmt.Errorf("list owned words: %w", err)
	}

	return collectWords(rows)
}

// GetByIDs returns the words with the given IDs, in the order requested.
// Missing IDs are skipped.
func (s *Service) GetByIDs(ctx context.Context, wordIDs []string) ([]domain.Word, error) {
	const stmt = `
SELECT word_id, en, ru, COALESCE(description, ''), list_id, user_id
FROM words
WHERE word_id = ANY($1);`

	rows, err := s.db.Query(ctx, stmt, wordIDs)
	if err != nil {
		return nil, fmt.Errorf("get words: %w", err)
	}

	words, err := collectWords(rows)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]domain.Word, len(words))
	for _, w := range words {
		byID[w.WordID] = w
	}

	ordered := make([]domain.Word, 0, len(wordIDs))
	for _, id := range wordIDs {
		if w, ok := byID[id]; ok {
			ordered = append(ordered, w)
		}
	}

	return ordered, nil
}

func collectWords(rows pgx.Rows) ([]domain.Word, error) {
	words, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Word, error) {
		var w domain.Word
		if err := r.Scan(&w.WordID, &w.En, &w.Ru, &w.Description, &w.ListID, &w.UserID); err != nil {
			return domain.Word{}, err
		}
		return w, nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect words: %w", err)
	}

	return words, nil
}
