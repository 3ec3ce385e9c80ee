package stats_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Temur101/dictionary/internal/domain"
	"github.com/Temur101/dictionary/internal/event"
	"github.com/Temur101/dictionary/internal/stats"
)

func TestAggregate(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	session := func(started time.Time, answers ...domain.Answer) domain.Session {
		return domain.Session{
			SessionID: started.String(),
			UserID:    "u1",
			Finished:  true,
			Answers:   answers,
			StartedAt: started,
		}
	}

	tests := map[string]struct {
		sessions []domain.Session
		want     func(t *testing.T, st domain.Stats)
	}{
		"empty history yields zeroes": {
			sessions: nil,
			want: func(t *testing.T, st domain.Stats) {
				assert.Equal(t, 0, st.TotalGames)
				assert.Equal(t, 0.0, st.AveragePercentage)
				assert.Equal(t, 0, st.BestScore)
				assert.Empty(t, st.History)
			},
		},

		"a session with no answers scores zero percent without crashing": {
			sessions: []domain.Session{
				session(base),
			},
			want: func(t *testing.T, st domain.Stats) {
				require.Len(t, st.History, 1)
				assert.Equal(t, 0, st.History[0].TotalQuestions)
				assert.Equal(t, 0, st.History[0].Percentage)
			},
		},

		"percentage is rounded and averaged over all games": {
			sessions: []domain.Session{
				session(base,
					domain.Answer{WordID: "w1", Correct: true},
					domain.Answer{WordID: "w2"},
				), // 50%
				session(base.Add(time.Hour),
					domain.Answer{WordID: "w1", Correct: true},
					domain.Answer{WordID: "w2", Correct: true},
					domain.Answer{WordID: "w3"},
				), // 67%
			},
			want: func(t *testing.T, st domain.Stats) {
				assert.Equal(t, 2, st.TotalGames)
				assert.Equal(t, 67, st.BestScore)
				assert.InDelta(t, 58.5, st.AveragePercentage, 0.001)
			},
		},

		"unfinished sessions are excluded": {
			sessions: []domain.Session{
				session(base, domain.Answer{WordID: "w1", Correct: true}),
				{UserID: "u1", StartedAt: base.Add(time.Hour)},
			},
			want: func(t *testing.T, st domain.Stats) {
				assert.Equal(t, 1, st.TotalGames)
			},
		},

		"history is ordered by start time": {
			sessions: []domain.Session{
				session(base.Add(time.Hour)),
				session(base),
			},
			want: func(t *testing.T, st domain.Stats) {
				require.Len(t, st.History, 2)
				assert.True(t, st.History[0].Date.Before(st.History[1].Date))
			},
		},

		"incorrect word ids are collected in answer order": {
			sessions: []domain.Session{
				session(base,
					domain.Answer{WordID: "w1"},
					domain.Answer{WordID: "w2", Correct: true},
					domain.Answer{WordID: "w3"},
				),
			},
			want: func(t *testing.T, st domain.Stats) {
				require.Len(t, st.History, 1)
				assert.Equal(t, []string{"w1", "w3"}, st.History[0].IncorrectWordIDs)
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			tt.want(t, stats.Aggregate(tt.sessions))
		})
	}
}

func TestService_RecordResult(t *testing.T) {
	s, _ := makeService(t)

	err := s.RecordResult(context.Background(), finishedEvent("u1", "s1", time.Now(), 2, 1))
	require.NoError(t, err)

	recent, err := s.RecentActivity(context.Background(), stats.RecentActivityRequest{UserID: "u1"})
	require.NoError(t, err)

	require.Len(t, recent, 1)
	assert.Equal(t, "s1", recent[0].SessionID)
	assert.Equal(t, 50, recent[0].Percentage)
}

func TestService_RecentActivity(t *testing.T) {
	t.Run("returns the last N results newest first", func(t *testing.T) {
		s, _ := makeService(t)

		base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		for i := 0; i < 8; i++ {
			err := s.RecordResult(context.Background(),
				finishedEvent("u1", sessionID(i), base.Add(time.Duration(i)*time.Hour), 1, 1))
			require.NoError(t, err)
		}

		recent, err := s.RecentActivity(context.Background(), stats.RecentActivityRequest{UserID: "u1"})
		require.NoError(t, err)

		require.Len(t, recent, 5)
		assert.Equal(t, sessionID(7), recent[0].SessionID)
		assert.Equal(t, sessionID(3), recent[4].SessionID)
	})

	t.Run("users do not see each other's history", func(t *testing.T) {
		s, _ := makeService(t)

		err := s.RecordResult(context.Background(), finishedEvent("u1", "s1", time.Now(), 1, 1))
		require.NoError(t, err)

		recent, err := s.RecentActivity(context.Background(), stats.RecentActivityRequest{UserID: "u2"})
		require.NoError(t, err)
		assert.Empty(t, recent)
	})

	t.Run("rebuilds the cache from the store when empty", func(t *testing.T) {
		src := &memSource{}
		base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		src.sessions = []domain.Session{
			{
				SessionID: "s1", UserID: "u1", Finished: true, StartedAt: base,
				Answers: []domain.Answer{{WordID: "w1", Correct: true}},
			},
			{
				SessionID: "s2", UserID: "u1", Finished: true, StartedAt: base.Add(time.Hour),
				Answers: []domain.Answer{{WordID: "w1"}},
			},
		}

		s, _ := makeService(t, withSource(src))

		recent, err := s.RecentActivity(context.Background(), stats.RecentActivityRequest{UserID: "u1"})
		require.NoError(t, err)

		require.Len(t, recent, 2)
		assert.Equal(t, "s2", recent[0].SessionID)
		assert.Equal(t, "s1", recent[1].SessionID)

		// The cache is warm now: a second read works without the store.
		src.fail = true
		recent, err = s.RecentActivity(context.Background(), stats.RecentActivityRequest{UserID: "u1"})
		require.NoError(t, err)
		assert.Len(t, recent, 2)
	})
}

func TestService_OnGameFinished(t *testing.T) {
	eb := event.NewBus()

	var (
		mu        sync.Mutex
		published []domain.EventStatsUpdated
	)
	eb.Subscribe(domain.EventNameStatsUpdated, func(ctx context.Context, e event.Event) error {
		mu.Lock()
		published = append(published, e.(domain.EventStatsUpdated))
		mu.Unlock()
		return nil
	})

	s, _ := makeService(t, withEventBus(eb))

	eb.Publish(context.Background(), finishedEvent("u1", "s1", time.Now(), 2, 2))
	eb.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, published, 1)
	assert.Equal(t, "u1", published[0].UserID)
	assert.Equal(t, 100, published[0].Result.Percentage)

	recent, err := s.RecentActivity(context.Background(), stats.RecentActivityRequest{UserID: "u1"})
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestService_GetStats(t *testing.T) {
	src := &memSource{}
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	src.sessions = []domain.Session{
		{
			SessionID: "s1", UserID: "u1", Finished: true, StartedAt: base,
			Answers: []domain.Answer{
				{WordID: "w1", Correct: true},
				{WordID: "w2", Correct: true},
			},
		},
		{
			SessionID: "s2", UserID: "u1", Finished: true, StartedAt: base.Add(time.Hour),
			Answers: []domain.Answer{
				{WordID: "w1", Correct: true},
				{WordID: "w2"},
			},
		},
	}

	s, _ := makeService(t, withSource(src))

	st, err := s.GetStats(context.Background(), stats.GetStatsRequest{UserID: "u1"})
	require.NoError(t, err)

	assert.Equal(t, 2, st.TotalGames)
	assert.Equal(t, 100, st.BestScore)
	assert.InDelta(t, 75.0, st.AveragePercentage, 0.001)
}

func makeService(t *testing.T, opts ...options) (*stats.Service, redis.UniversalClient) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	c := stats.Config{
		EventBus: event.NewBus(),
		Sessions: &memSource{},
		Redis:    rc,
		Prefix:   "test",
	}

	for _, opt := range opts {
		opt(&c)
	}

	return stats.NewService(c), rc
}

type options func(c *stats.Config)

func withEventBus(eb *event.Bus) options {
	return func(c *stats.Config) {
		c.EventBus = eb
	}
}

func withSource(src stats.SessionSource) options {
	return func(c *stats.Config) {
		c.Sessions = src
	}
}

type memSource struct {
	sessions []domain.Session
	fail     bool
}

func (m *memSource) FetchFinished(_ context.Context, userID string) ([]domain.Session, error) {
	if m.fail {
		return nil, context.DeadlineExceeded
	}

	var out []domain.Session
	for _, ss := range m.sessions {
		if ss.UserID == userID {
			out = append(out, ss)
		}
	}
	return out, nil
}

func finishedEvent(userID, sessionID string, started time.Time, total, correct int) domain.EventGameFinished {
	ss := domain.Session{
		SessionID: sessionID,
		UserID:    userID,
		Finished:  true,
		StartedAt: started,
	}
	for i := 0; i < total; i++ {
		ss.Answers = append(ss.Answers, domain.Answer{
			WordID:  sessionID + "-w",
			Correct: i < correct,
		})
	}
	ss.WordIDs = make([]string, total)

	return domain.EventGameFinished{
		Session: ss,
		Result:  ss.Result(),
	}
}

func sessionID(i int) string {
	return "s" + string(rune('0'+i))
}
