package domain

const (
	EventNameGameFinished = "game.finished"
	EventNameStatsUpdated = "stats.updated"
)

type EventGameFinished struct {
	Session Session
	Result  GameResult
}

func (EventGameFinished) Name() string { return EventNameGameFinished }

type EventStatsUpdated struct {
	UserID string
	Result GameResult
}

func (EventStatsUpdated) Name() string { return EventNameStatsUpdated }
