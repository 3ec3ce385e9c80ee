package game

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Temur101/dictionary/internal/domain"
	"github.com/Temur101/dictionary/internal/errors"
	"github.com/Temur101/dictionary/internal/event"
)

const (
	defaultFeedbackDelay = 1200 * time.Millisecond
	defaultQuestionTime  = 15 * time.Second

	persistTimeout = 10 * time.Second
)

// SessionStore is the durable store behind the state machine. Writes are
// last-write-wins at the field level; see Patch.
type SessionStore interface {
	Create(ctx context.Context, ss *domain.Session) error
	Patch(ctx context.Context, sessionID string, p Patch) error
	FinishActive(ctx context.Context, userID string) error
	FetchActive(ctx context.Context, userID string) (*domain.Session, error)
	FetchFinished(ctx context.Context, userID string) ([]domain.Session, error)
}

// WordSource provides the dictionary reads the game needs.
type WordSource interface {
	ListWords(ctx context.Context, listIDs []string) ([]domain.Word, error)
	ListOwnedWords(ctx context.Context, userID string) ([]domain.Word, error)
	GetByIDs(ctx context.Context, wordIDs []string) ([]domain.Word, error)
}

type Config struct {
	Store    SessionStore
	Words    WordSource
	EventBus *event.Bus

	// FeedbackDelay is how long the correct/incorrect feedback stays on
	// screen before the next question unblocks.
	FeedbackDelay time.Duration
	// QuestionTime is the per-question countdown in timed mode.
	QuestionTime time.Duration
	NewTimerFunc NewTimerFunc
}

// Service owns the quiz session lifecycle: at most one unfinished session
// per user, an append-only answer log that always matches the cursor, and
// an optimistic local copy that stays authoritative when the store is
// unreachable.
type Service struct {
	store SessionStore
	words WordSource
	eb    *event.Bus

	feedbackDelay time.Duration
	questionTime  time.Duration
	newTimer      NewTimerFunc

	mu      sync.Mutex
	runners map[string]*runner
}

func NewService(c Config) *Service {
	s := &Service{
		store:         c.Store,
		words:         c.Words,
		eb:            c.EventBus,
		feedbackDelay: c.FeedbackDelay,
		questionTime:  c.QuestionTime,
		newTimer:      c.NewTimerFunc,
		runners:       make(map[string]*runner),
	}

	if s.feedbackDelay <= 0 {
		s.feedbackDelay = defaultFeedbackDelay
	}
	if s.questionTime <= 0 {
		s.questionTime = defaultQuestionTime
	}
	if s.newTimer == nil {
		s.newTimer = newSysTimer
	}

	return s
}

// runner is the in-memory side of one user's session. All fields are
// guarded by mu; mutating operations for a user are serialized through it.
type runner struct {
	mu      sync.Mutex
	session *domain.Session
	words   []domain.Word
	pool    []domain.Word
	options []string

	// awaiting blocks further submissions while the feedback window for
	// the previous answer is open.
	awaiting bool
	// pending marks local state that is ahead of the store after a failed
	// write.
	pending bool

	countdown  Timer
	cancelFire chan struct{}
	deadline   time.Time
}

// Snapshot is a read-only copy of a session plus its write-confirmation
// status.
type Snapshot struct {
	Session      domain.Session
	PendingWrite bool
	Result       *domain.GameResult
}

type StartRequest struct {
	UserID  string
	ListIDs []string
	Mode    domain.Mode
}

// Start creates a new session over the words of the chosen lists. Any
// still-unfinished session of the user is finished first, last writer wins.
func (s *Service) Start(ctx context.Context, req StartRequest) (*Snapshot, error) {
	if !req.Mode.Valid() {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("unknown game mode: %q", req.Mode))
	}
	if len(req.ListIDs) == 0 {
		return nil, errEmptySelection()
	}

	words, err := s.words.ListWords(ctx, req.ListIDs)
	if err != nil {
		return nil, remoteError("list words", err)
	}
	words = ownedBy(words, req.UserID)
	if len(words) == 0 {
		return nil, errEmptySelection()
	}

	return s.start(ctx, req.UserID, req.ListIDs, req.Mode, words)
}

func (s *Service) start(ctx context.Context, userID string, listIDs []string, mode domain.Mode, words []domain.Word) (*Snapshot, error) {
	r := s.runner(userID)
	r.mu.Lock()
	defer r.mu.Unlock()

	// Finish whatever is still open, locally and in the store.
	if prev := r.session; prev != nil && !prev.Finished {
		r.stopCountdown()
		prev.Finished = true
		prev.UpdatedAt = time.Now()
		s.eb.Publish(ctx, domain.EventGameFinished{
			Session: cloneSession(prev),
			Result:  prev.Result(),
		})
	}
	if err := s.store.FinishActive(ctx, userID); err != nil {
		slog.WarnContext(ctx, "game: finish stale sessions failed", "user", userID, "error", err)
	}

	var pool []domain.Word
	if mode == domain.ModeChoice {
		var err error
		pool, err = s.words.ListOwnedWords(ctx, userID)
		if err != nil {
			slog.WarnContext(ctx, "game: load distractor pool failed", "user", userID, "error", err)
			pool = words
		}
	}

	now := time.Now()
	ss := &domain.Session{
		UserID:    userID,
		ListIDs:   slices.Clone(listIDs),
		Mode:      mode,
		WordIDs:   wordIDs(words),
		Answers:   []domain.Answer{},
		StartedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.Create(ctx, ss); err != nil {
		r.session = nil
		return nil, remoteError("create session", err)
	}

	r.session = ss
	r.words = words
	r.pool = pool
	r.options = nil
	r.awaiting = false
	r.pending = false

	if mode == domain.ModeChoice {
		r.options = ChoiceOptions(words[0], pool)
	}
	if mode.Timed() {
		s.armCountdown(r)
	}

	return r.snapshotLocked(), nil
}

type SubmitAnswerRequest struct {
	UserID string
	Text   string
}

// SubmitResult reports how a submission was handled. Accepted is false
// when the submission was ignored: the feedback window for the previous
// answer is still open, or the input was blank in a mode that requires it.
type SubmitResult struct {
	Accepted bool
	Correct  bool
	Expected string
	Finished bool
	Index    int
}

// SubmitAnswer evaluates the user's input against the current question and
// advances the session. The resulting state is pushed to the store
// concurrently with the feedback window; the next submission is accepted
// only once both have completed.
func (s *Service) SubmitAnswer(ctx context.Context, req SubmitAnswerRequest) (*SubmitResult, error) {
	r, err := s.resume(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil || r.session.Finished {
		return nil, errNoActiveSession()
	}

	return s.submitLocked(ctx, r, req.Text, false), nil
}

type ReportTimeoutRequest struct {
	UserID string
}

// ReportTimeout records a countdown expiry as an incorrect answer with
// empty input. Only legal in timed mode.
func (s *Service) ReportTimeout(ctx context.Context, req ReportTimeoutRequest) (*SubmitResult, error) {
	r, err := s.resume(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil || r.session.Finished {
		return nil, errNoActiveSession()
	}
	if !r.session.Mode.Timed() {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("timeout is only legal in timed mode, session mode is %q", r.session.Mode))
	}

	return s.submitLocked(ctx, r, "", true), nil
}

type FinishEarlyRequest struct {
	UserID string
}

// FinishEarly terminates the active session; the partial answer log stands
// as final.
func (s *Service) FinishEarly(ctx context.Context, req FinishEarlyRequest) (*Snapshot, error) {
	r, err := s.resume(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ss := r.session
	if ss == nil || ss.Finished {
		return nil, errNoActiveSession()
	}

	r.stopCountdown()
	ss.Finished = true
	ss.UpdatedAt = time.Now()

	s.eb.Publish(ctx, domain.EventGameFinished{
		Session: cloneSession(ss),
		Result:  ss.Result(),
	})

	finished := true
	err = s.store.Patch(ctx, ss.SessionID, Patch{
		Answers:  slices.Clone(ss.Answers),
		Finished: &finished,
	})
	if err != nil {
		// Local state is the source of truth for this session now.
		r.pending = true
		slog.WarnContext(ctx, "game: persist finish failed", "session", ss.SessionID, "error", err)
	} else {
		r.pending = false
	}

	return r.snapshotLocked(), nil
}

type RepeatMistakesRequest struct {
	UserID string
}

// RepeatMistakes starts a new session over exactly the words answered
// incorrectly in the user's most recent finished session, keeping its mode.
func (s *Service) RepeatMistakes(ctx context.Context, req RepeatMistakesRequest) (*Snapshot, error) {
	last, err := s.lastFinished(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if last == nil {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("no finished session to repeat"))
	}

	res := last.Result()
	if len(res.IncorrectWordIDs) == 0 {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("no mistakes in the last game"))
	}

	words, err := s.words.GetByIDs(ctx, res.IncorrectWordIDs)
	if err != nil {
		return nil, remoteError("get words", err)
	}
	words = ownedBy(words, req.UserID)
	if len(words) == 0 {
		return nil, errEmptySelection()
	}

	return s.start(ctx, req.UserID, listIDs(words), last.Mode, words)
}

type ActiveRequest struct {
	UserID string
}

// Active returns the user's current session, resuming it from the store if
// this process has not seen it yet. A just-finished session remains
// observable until a new one starts.
func (s *Service) Active(ctx context.Context, req ActiveRequest) (*Snapshot, error) {
	r, err := s.resume(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("no session for user"))
	}

	return r.snapshotLocked(), nil
}

type QuestionRequest struct {
	UserID string
}

type QuestionView struct {
	Index  int
	Total  int
	Mode   domain.Mode
	Prompt string
	// Options is the four-entry option set, choice mode only.
	Options []string
	// SecondsLeft is the remaining countdown, timed mode only.
	SecondsLeft int
}

// Question returns the current prompt of the active session.
func (s *Service) Question(ctx context.Context, req QuestionRequest) (*QuestionView, error) {
	r, err := s.resume(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ss := r.session
	if ss == nil || ss.Finished {
		return nil, errNoActiveSession()
	}

	w := r.words[ss.CurrentIndex]
	qv := &QuestionView{
		Index:  ss.CurrentIndex,
		Total:  ss.Total(),
		Mode:   ss.Mode,
		Prompt: w.Prompt(ss.Mode),
	}
	if ss.Mode == domain.ModeChoice {
		qv.Options = slices.Clone(r.options)
	}
	if ss.Mode.Timed() {
		qv.SecondsLeft = int(s.questionTime.Seconds())
		if !r.deadline.IsZero() {
			qv.SecondsLeft = max(0, int(time.Until(r.deadline).Seconds()))
		}
	}

	return qv, nil
}

// submitLocked is the single answer path shared by submissions, manual
// timeout reports and countdown expiry. Caller holds r.mu and has checked
// the session is active.
func (s *Service) submitLocked(ctx context.Context, r *runner, input string, timedOut bool) *SubmitResult {
	ss := r.session

	if r.awaiting {
		return &SubmitResult{Index: ss.CurrentIndex}
	}
	if !timedOut && !ss.Mode.Timed() && strings.TrimSpace(input) == "" {
		return &SubmitResult{Index: ss.CurrentIndex}
	}

	w := r.words[ss.CurrentIndex]
	ans := Evaluate(ss.Mode, w, input, timedOut)

	ss.Answers = append(ss.Answers, ans)
	ss.CurrentIndex++
	ss.UpdatedAt = time.Now()
	r.stopCountdown()

	idx := ss.CurrentIndex
	p := Patch{CurrentIndex: &idx, Answers: slices.Clone(ss.Answers)}
	if ss.CurrentIndex == ss.Total() {
		ss.Finished = true
		finished := true
		p.Finished = &finished
		s.eb.Publish(ctx, domain.EventGameFinished{
			Session: cloneSession(ss),
			Result:  ss.Result(),
		})
	} else if ss.Mode == domain.ModeChoice {
		r.options = ChoiceOptions(r.words[idx], r.pool)
	}

	r.awaiting = true
	go s.completeAdvance(r, ss.SessionID, p)

	return &SubmitResult{
		Accepted: true,
		Correct:  ans.Correct,
		Expected: w.Expected(ss.Mode),
		Finished: ss.Finished,
		Index:    ss.CurrentIndex,
	}
}

// completeAdvance runs the store write and the feedback window
// concurrently and unblocks the next submission once both are done. A
// failed write leaves the local copy authoritative and flags it pending.
func (s *Service) completeAdvance(r *runner, sessionID string, p Patch) {
	t := s.newTimer(s.feedbackDelay)
	defer t.Stop()

	var eg errgroup.Group
	eg.Go(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()

		err := s.store.Patch(ctx, sessionID, p)

		r.mu.Lock()
		if err != nil {
			r.pending = true
			slog.ErrorContext(ctx, "game: patch session failed", "session", sessionID, "error", err)
		} else {
			// Every patch carries the full answer log, so a successful
			// write also confirms any earlier missed one.
			r.pending = false
		}
		r.mu.Unlock()
		return nil
	})
	eg.Go(func() error {
		<-t.C()
		return nil
	})
	_ = eg.Wait()

	r.mu.Lock()
	r.awaiting = false
	if ss := r.session; ss != nil && ss.SessionID == sessionID && !ss.Finished && ss.Mode.Timed() {
		s.armCountdown(r)
	}
	r.mu.Unlock()
}

// armCountdown starts the timed-mode countdown for the current question.
// Caller holds r.mu.
func (s *Service) armCountdown(r *runner) {
	idx := r.session.CurrentIndex
	t := s.newTimer(s.questionTime)
	cancel := make(chan struct{})

	r.countdown = t
	r.cancelFire = cancel
	r.deadline = time.Now().Add(s.questionTime)

	go func() {
		select {
		case <-t.C():
		case <-cancel:
			return
		}
		s.fireTimeout(r, idx)
	}()
}

// fireTimeout auto-submits an expired question. The index check discards
// stale fires against a question that already advanced.
func (s *Service) fireTimeout(r *runner, idx int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ss := r.session
	if ss == nil || ss.Finished || ss.CurrentIndex != idx || r.awaiting {
		return
	}

	s.submitLocked(context.Background(), r, "", true)
}

// resume returns the user's runner, rebuilding it from the store when this
// process has no local state for an unfinished remote session.
func (s *Service) resume(ctx context.Context, userID string) (*runner, error) {
	r := s.runner(userID)

	r.mu.Lock()
	if r.session != nil {
		r.mu.Unlock()
		return r, nil
	}
	r.mu.Unlock()

	ss, err := s.store.FetchActive(ctx, userID)
	if err != nil {
		return nil, remoteError("fetch active session", err)
	}
	if ss == nil {
		return r, nil
	}

	words, err := s.words.GetByIDs(ctx, ss.WordIDs)
	if err != nil {
		return nil, remoteError("get session words", err)
	}
	if len(words) != len(ss.WordIDs) {
		// The question set can no longer be reconstructed; close the
		// session out rather than resuming it with holes.
		slog.WarnContext(ctx, "game: session words missing, finishing session", "session", ss.SessionID)
		finished := true
		if err := s.store.Patch(ctx, ss.SessionID, Patch{Finished: &finished}); err != nil {
			slog.ErrorContext(ctx, "game: finish unresumable session failed", "session", ss.SessionID, "error", err)
		}
		return r, nil
	}

	var pool []domain.Word
	if ss.Mode == domain.ModeChoice {
		pool, err = s.words.ListOwnedWords(ctx, userID)
		if err != nil {
			slog.WarnContext(ctx, "game: load distractor pool failed", "user", userID, "error", err)
			pool = words
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session != nil {
		return r, nil
	}

	r.session = ss
	r.words = words
	r.pool = pool
	if ss.Mode == domain.ModeChoice {
		r.options = ChoiceOptions(words[ss.CurrentIndex], pool)
	}
	if ss.Mode.Timed() {
		s.armCountdown(r)
	}

	return r, nil
}

func (s *Service) lastFinished(ctx context.Context, userID string) (*domain.Session, error) {
	r := s.runner(userID)

	r.mu.Lock()
	if ss := r.session; ss != nil && ss.Finished {
		cp := cloneSession(ss)
		r.mu.Unlock()
		return &cp, nil
	}
	r.mu.Unlock()

	sessions, err := s.store.FetchFinished(ctx, userID)
	if err != nil {
		return nil, remoteError("fetch finished sessions", err)
	}
	if len(sessions) == 0 {
		return nil, nil
	}

	last := sessions[len(sessions)-1]
	return &last, nil
}

func (s *Service) runner(userID string) *runner {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runners[userID]
	if !ok {
		r = &runner{}
		s.runners[userID] = r
	}

	return r
}

func (r *runner) snapshotLocked() *Snapshot {
	sn := &Snapshot{
		Session:      cloneSession(r.session),
		PendingWrite: r.pending,
	}
	if sn.Session.Finished {
		res := sn.Session.Result()
		sn.Result = &res
	}

	return sn
}

// stopCountdown tears down the timed-mode timer so a stale expiry can
// never fire against the wrong question. Caller holds r.mu.
func (r *runner) stopCountdown() {
	if r.countdown == nil {
		return
	}

	r.countdown.Stop()
	close(r.cancelFire)
	r.countdown = nil
	r.cancelFire = nil
	r.deadline = time.Time{}
}

func cloneSession(ss *domain.Session) domain.Session {
	cp := *ss
	cp.ListIDs = slices.Clone(ss.ListIDs)
	cp.WordIDs = slices.Clone(ss.WordIDs)
	cp.Answers = slices.Clone(ss.Answers)
	return cp
}

func wordIDs(words []domain.Word) []string {
	ids := make([]string, len(words))
	for i, w := range words {
		ids[i] = w.WordID
	}
	return ids
}

func listIDs(words []domain.Word) []string {
	var ids []string
	seen := make(map[string]bool)
	for _, w := range words {
		if !seen[w.ListID] {
			seen[w.ListID] = true
			ids = append(ids, w.ListID)
		}
	}
	return ids
}

func ownedBy(words []domain.Word, userID string) []domain.Word {
	owned := words[:0]
	for _, w := range words {
		if w.UserID == userID {
			owned = append(owned, w)
		}
	}
	return owned
}

func errEmptySelection() error {
	return errors.New(errors.CodeInvalidArgument,
		errors.WithMessagef("no words available for the chosen lists"))
}

func errNoActiveSession() error {
	return errors.New(errors.CodeFailedPrecondition,
		errors.WithMessagef("no active session"))
}

func remoteError(op string, err error) error {
	return errors.New(errors.CodeUnavailable,
		errors.WithMessagef("%s", op),
		errors.WithCause(err))
}
