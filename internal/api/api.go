package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/Temur101/dictionary/internal/domain"
	"github.com/Temur101/dictionary/internal/errors"
	"github.com/Temur101/dictionary/internal/event"
	"github.com/Temur101/dictionary/internal/game"
	"github.com/Temur101/dictionary/internal/stats"
)

type Config struct {
	Engine       *gin.Engine
	EventBus     *event.Bus
	Game         *game.Service
	Stats        *stats.Service
	Redis        Redis
	PubsubPrefix string
	AuthSecret   string
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type API struct {
	gs *game.Service
	ss *stats.Service

	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		gs:     c.Game,
		ss:     c.Stats,
		redis:  c.Redis,
		prefix: c.PubsubPrefix,
	}

	g := c.Engine.Group("/api/v1", Auth(c.AuthSecret))
	g.POST("/game/sessions", a.StartSession)
	g.GET("/game/sessions/active", a.ActiveSession)
	g.GET("/game/question", a.CurrentQuestion)
	g.POST("/game/answers", a.SubmitAnswer)
	g.POST("/game/timeout", a.ReportTimeout)
	g.POST("/game/finish", a.FinishEarly)
	g.POST("/game/repeat", a.RepeatMistakes)
	g.GET("/stats", a.GetStats)
	g.GET("/stats/recent", a.RecentActivity)

	// Register event handlers
	c.EventBus.Subscribe(domain.EventNameStatsUpdated, func(ctx context.Context, e event.Event) error {
		return a.PublishStatsUpdated(ctx, e.(domain.EventStatsUpdated))
	})

	return a
}

type (
	StartSessionRequest struct {
		ListIDs []string `json:"list_ids" binding:"required,min=1"`
		Mode    string   `json:"mode" binding:"required"`
	}

	SubmitAnswerRequest struct {
		Text string `json:"text"`
	}

	RecentActivityRequest struct {
		Limit int `form:"limit" binding:"omitempty,min=1,max=100"`
	}

	Session struct {
		SessionID    string    `json:"session_id"`
		ListIDs      []string  `json:"list_ids"`
		Mode         string    `json:"mode"`
		CurrentIndex int       `json:"current_index"`
		Total        int       `json:"total"`
		Finished     bool      `json:"finished"`
		PendingWrite bool      `json:"pending_write"`
		StartedAt    time.Time `json:"started_at"`
		UpdatedAt    time.Time `json:"updated_at"`

		Result *domain.GameResult `json:"result,omitempty"`
	}

	SubmitResult struct {
		Accepted bool   `json:"accepted"`
		Correct  bool   `json:"correct"`
		Expected string `json:"expected,omitempty"`
		Finished bool   `json:"finished"`
		Index    int    `json:"index"`
	}

	Question struct {
		Index       int      `json:"index"`
		Total       int      `json:"total"`
		Mode        string   `json:"mode"`
		Prompt      string   `json:"prompt"`
		Options     []string `json:"options,omitempty"`
		SecondsLeft int      `json:"seconds_left,omitempty"`
	}

	Stats struct {
		TotalGames        int                 `json:"total_games"`
		AveragePercentage float64             `json:"average_percentage"`
		BestScore         int                 `json:"best_score"`
		History           []domain.GameResult `json:"history"`
	}
)

func (a *API) StartSession(c *gin.Context) {
	var req StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	sn, err := a.gs.Start(c.Request.Context(), game.StartRequest{
		UserID:  userID(c),
		ListIDs: req.ListIDs,
		Mode:    domain.Mode(req.Mode),
	})
	if err != nil {
		abortError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toSession(sn))
}

func (a *API) ActiveSession(c *gin.Context) {
	sn, err := a.gs.Active(c.Request.Context(), game.ActiveRequest{UserID: userID(c)})
	if err != nil {
		abortError(c, err)
		return
	}

	c.JSON(http.StatusOK, toSession(sn))
}

func (a *API) CurrentQuestion(c *gin.Context) {
	qv, err := a.gs.Question(c.Request.Context(), game.QuestionRequest{UserID: userID(c)})
	if err != nil {
		abortError(c, err)
		return
	}

	c.JSON(http.StatusOK, Question{
		Index:       qv.Index,
		Total:       qv.Total,
		Mode:        string(qv.Mode),
		Prompt:      qv.Prompt,
		Options:     qv.Options,
		SecondsLeft: qv.SecondsLeft,
	})
}

func (a *API) SubmitAnswer(c *gin.Context) {
	var req SubmitAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	res, err := a.gs.SubmitAnswer(c.Request.Context(), game.SubmitAnswerRequest{
		UserID: userID(c),
		Text:   req.Text,
	})
	if err != nil {
		abortError(c, err)
		return
	}

	c.JSON(http.StatusOK, toSubmitResult(res))
}

func (a *API) ReportTimeout(c *gin.Context) {
	res, err := a.gs.ReportTimeout(c.Request.Context(), game.ReportTimeoutRequest{UserID: userID(c)})
	if err != nil {
		abortError(c, err)
		return
	}

	c.JSON(http.StatusOK, toSubmitResult(res))
}

func (a *API) FinishEarly(c *gin.Context) {
	sn, err := a.gs.FinishEarly(c.Request.Context(), game.FinishEarlyRequest{UserID: userID(c)})
	if err != nil {
		abortError(c, err)
		return
	}

	c.JSON(http.StatusOK, toSession(sn))
}

func (a *API) RepeatMistakes(c *gin.Context) {
	sn, err := a.gs.RepeatMistakes(c.Request.Context(), game.RepeatMistakesRequest{UserID: userID(c)})
	if err != nil {
		abortError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toSession(sn))
}

func (a *API) GetStats(c *gin.Context) {
	st, err := a.ss.GetStats(c.Request.Context(), stats.GetStatsRequest{UserID: userID(c)})
	if err != nil {
		abortError(c, err)
		return
	}

	history := st.History
	if history == nil {
		history = []domain.GameResult{}
	}

	c.JSON(http.StatusOK, Stats{
		TotalGames:        st.TotalGames,
		AveragePercentage: st.AveragePercentage,
		BestScore:         st.BestScore,
		History:           history,
	})
}

func (a *API) RecentActivity(c *gin.Context) {
	var req RecentActivityRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		abortError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	results, err := a.ss.RecentActivity(c.Request.Context(), stats.RecentActivityRequest{
		UserID: userID(c),
		Limit:  req.Limit,
	})
	if err != nil {
		abortError(c, err)
		return
	}

	if results == nil {
		results = []domain.GameResult{}
	}

	c.JSON(http.StatusOK, results)
}

func toSession(sn *game.Snapshot) Session {
	ss := sn.Session
	return Session{
		SessionID:    ss.SessionID,
		ListIDs:      ss.ListIDs,
		Mode:         string(ss.Mode),
		CurrentIndex: ss.CurrentIndex,
		Total:        ss.Total(),
		Finished:     ss.Finished,
		PendingWrite: sn.PendingWrite,
		StartedAt:    ss.StartedAt,
		UpdatedAt:    ss.UpdatedAt,
		Result:       sn.Result,
	}
}

func toSubmitResult(res *game.SubmitResult) SubmitResult {
	return SubmitResult{
		Accepted: res.Accepted,
		Correct:  res.Correct,
		Expected: res.Expected,
		Finished: res.Finished,
		Index:    res.Index,
	}
}

func abortError(c *gin.Context, err error) {
	e := errors.Convert(err)
	c.AbortWithStatusJSON(e.HTTPStatusCode(), gin.H{
		"code":    e.Code.String(),
		"message": e.Message,
	})
}
