package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Temur101/dictionary/internal/domain"
)

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	StatsUpdate struct {
		SessionID      string `json:"session_id"`
		TotalQuestions int    `json:"total_questions"`
		CorrectCount   int    `json:"correct_count"`
		Percentage     int    `json:"percentage"`
	}
)

// PublishStatsUpdated pushes a finished-game notification to the owning
// user's channel, so open clients can refresh their stats view.
func (a *API) PublishStatsUpdated(ctx context.Context, e domain.EventStatsUpdated) error {
	return a.publishNotification(ctx, e.UserID, e.Name(), StatsUpdate{
		SessionID:      e.Result.SessionID,
		TotalQuestions: e.Result.TotalQuestions,
		CorrectCount:   e.Result.CorrectCount,
		Percentage:     e.Result.Percentage,
	})
}

func (a *API) publishNotification(ctx context.Context, user, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, fmt.Sprintf("%s:user:%s", a.prefix, user), b).Err()
}
