package domain

import (
	"time"
)

// Mode selects how a game session asks and checks questions.
type Mode string

const (
	// ModeRegular shows the English word and expects the Russian translation.
	ModeRegular Mode = "regular"
	// ModeTimed is ModeRegular with a per-question countdown; running out
	// of time records an incorrect answer.
	ModeTimed Mode = "timed"
	// ModeReverse swaps the roles: shows the Russian word, expects English.
	ModeReverse Mode = "reverse"
	// ModeChoice shows the English word and four translation options.
	ModeChoice Mode = "choice"
)

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeRegular, ModeTimed, ModeReverse, ModeChoice:
		return true
	}
	return false
}

// Timed reports whether the mode runs a per-question countdown.
func (m Mode) Timed() bool { return m == ModeTimed }

// Word is a dictionary entry owned by exactly one list.
type Word struct {
	WordID      string
	En          string
	Ru          string
	Description string
	ListID      string
	UserID      string
}

// Prompt returns the side of the word shown to the user under the given mode.
func (w Word) Prompt(m Mode) string {
	if m == ModeReverse {
		return w.Ru
	}
	return w.En
}

// Expected returns the side of the word the user is asked to produce.
func (w Word) Expected(m Mode) string {
	if m == ModeReverse {
		return w.En
	}
	return w.Ru
}

// Answer is one submitted (or timed-out) answer within a session.
// Records are append-only: once written they are never edited.
type Answer struct {
	WordID  string `json:"word_id"`
	Answer  string `json:"answer"`
	Correct bool   `json:"correct"`
}

// Session is a quiz run over a fixed, ordered set of words.
// The word order is frozen at start; later edits to the underlying
// words are not reflected for the remaining questions.
type Session struct {
	SessionID    string
	UserID       string
	ListIDs      []string
	Mode         Mode
	WordIDs      []string
	CurrentIndex int
	Answers      []Answer
	Finished     bool
	StartedAt    time.Time
	UpdatedAt    time.Time
}

// Total returns the number of questions in the session.
func (s *Session) Total() int { return len(s.WordIDs) }

// Result folds a finished session into its read-only projection.
func (s *Session) Result() GameResult {
	r := GameResult{
		SessionID: s.SessionID,
		Date:      s.StartedAt,
	}
	for _, a := range s.Answers {
		r.TotalQuestions++
		if a.Correct {
			r.CorrectCount++
		} else {
			r.IncorrectWordIDs = append(r.IncorrectWordIDs, a.WordID)
		}
	}
	if r.TotalQuestions > 0 {
		r.Percentage = int(float64(r.CorrectCount)/float64(r.TotalQuestions)*100 + 0.5)
	}
	return r
}

// GameResult is the per-session projection consumed by the stats view.
type GameResult struct {
	SessionID        string    `json:"session_id"`
	Date             time.Time `json:"date"`
	TotalQuestions   int       `json:"total_questions"`
	CorrectCount     int       `json:"correct_count"`
	Percentage       int       `json:"percentage"`
	IncorrectWordIDs []string  `json:"incorrect_word_ids,omitempty"`
}

// Stats is a user's lifetime performance, recomputed from finished
// sessions and never independently stored.
type Stats struct {
	TotalGames        int
	AveragePercentage float64
	BestScore         int
	History           []GameResult
}
