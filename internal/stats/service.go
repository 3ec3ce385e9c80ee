package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/Temur101/dictionary/internal/domain"
	"github.com/Temur101/dictionary/internal/errors"
	"github.com/Temur101/dictionary/internal/event"
)

const defaultRecentSize = 5

// SessionSource reads the finished sessions stats are folded from.
type SessionSource interface {
	FetchFinished(ctx context.Context, userID string) ([]domain.Session, error)
}

type Config struct {
	EventBus *event.Bus
	Sessions SessionSource
	Redis    redis.UniversalClient
	Prefix   string
}

// Service derives performance statistics from finished sessions. Lifetime
// stats are a pure fold over the store; the recent-activity view is served
// from a per-user redis sorted set kept fresh by game.finished events.
type Service struct {
	eb       *event.Bus
	sessions SessionSource
	redis    redis.UniversalClient
	prefix   string
}

func NewService(c Config) *Service {
	s := &Service{
		eb:       c.EventBus,
		sessions: c.Sessions,
		redis:    c.Redis,
		prefix:   c.Prefix,
	}

	s.eb.Subscribe(domain.EventNameGameFinished, func(ctx context.Context, e event.Event) error {
		return s.RecordResult(ctx, e.(domain.EventGameFinished))
	})

	return s
}

type GetStatsRequest struct {
	UserID string
}

// GetStats recomputes the user's lifetime stats from every finished
// session. An empty history yields all zeroes.
func (s *Service) GetStats(ctx context.Context, req GetStatsRequest) (*domain.Stats, error) {
	sessions, err := s.sessions.FetchFinished(ctx, req.UserID)
	if err != nil {
		return nil, errors.New(errors.CodeUnavailable,
			errors.WithMessagef("fetch finished sessions"),
			errors.WithCause(err))
	}

	st := Aggregate(sessions)
	return &st, nil
}

// Aggregate folds finished sessions into lifetime stats. Pure; history
// keeps the input order for equal start times.
func Aggregate(sessions []domain.Session) domain.Stats {
	var st domain.Stats
	for _, ss := range sessions {
		if !ss.Finished {
			continue
		}
		st.History = append(st.History, ss.Result())
	}

	sort.SliceStable(st.History, func(i, j int) bool {
		return st.History[i].Date.Before(st.History[j].Date)
	})

	st.TotalGames = len(st.History)
	if st.TotalGames == 0 {
		return st
	}

	percentages := make([]decimal.Decimal, len(st.History))
	for i, r := range st.History {
		percentages[i] = decimal.NewFromInt(int64(r.Percentage))
		if r.Percentage > st.BestScore {
			st.BestScore = r.Percentage
		}
	}
	st.AveragePercentage = decimal.Avg(percentages[0], percentages[1:]...).InexactFloat64()

	return st
}

type RecentActivityRequest struct {
	UserID string
	Limit  int
}

// RecentActivity returns the user's last N game results, newest first.
// Served from the redis history set; falls back to the store and backfills
// the cache when the set is empty.
func (s *Service) RecentActivity(ctx context.Context, req RecentActivityRequest) ([]domain.GameResult, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultRecentSize
	}

	members, err := s.redis.ZRevRange(ctx, s.historyKey(req.UserID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}

	if len(members) == 0 {
		return s.rebuildHistory(ctx, req.UserID, limit)
	}

	results := make([]domain.GameResult, 0, len(members))
	for _, m := range members {
		var r domain.GameResult
		if err := json.Unmarshal([]byte(m), &r); err != nil {
			return nil, fmt.Errorf("decode history entry: %w", err)
		}
		results = append(results, r)
	}

	return results, nil
}

// RecordResult folds a just-finished session into the history set and
// announces the refreshed stats.
func (s *Service) RecordResult(ctx context.Context, e domain.EventGameFinished) error {
	if err := s.push(ctx, e.Session.UserID, e.Result); err != nil {
		return err
	}

	s.eb.Publish(ctx, domain.EventStatsUpdated{
		UserID: e.Session.UserID,
		Result: e.Result,
	})

	return nil
}

func (s *Service) rebuildHistory(ctx context.Context, userID string, limit int) ([]domain.GameResult, error) {
	sessions, err := s.sessions.FetchFinished(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch finished sessions: %w", err)
	}

	st := Aggregate(sessions)
	for _, r := range st.History {
		if err := s.push(ctx, userID, r); err != nil {
			return nil, err
		}
	}

	recent := make([]domain.GameResult, 0, limit)
	for i := len(st.History) - 1; i >= 0 && len(recent) < limit; i-- {
		recent = append(recent, st.History[i])
	}

	return recent, nil
}

func (s *Service) push(ctx context.Context, userID string, r domain.GameResult) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	if err := s.redis.ZAdd(ctx, s.historyKey(userID), redis.Z{
		Score:  float64(r.Date.UnixMilli()),
		Member: b,
	}).Err(); err != nil {
		return fmt.Errorf("update history: %w", err)
	}

	return nil
}

func (s *Service) historyKey(userID string) string {
	return fmt.Sprintf("%s:%s:history", s.prefix, userID)
}
