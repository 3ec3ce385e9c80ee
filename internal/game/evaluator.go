package game

import (
	"math/rand"
	"strings"

	"github.com/Temur101/dictionary/internal/domain"
)

// optionCount is the size of a choice-mode option set: the correct
// translation plus three distractors.
const optionCount = 4

// Evaluate decides whether a submission answers the question word
// correctly and produces the immutable answer record for it.
//
// Regular, timed and reverse modes compare trimmed input
// case-insensitively against the expected translation. Choice mode
// compares exactly, since options are taken verbatim from existing
// translations. A timeout records an empty incorrect answer.
func Evaluate(mode domain.Mode, w domain.Word, input string, timedOut bool) domain.Answer {
	if timedOut {
		return domain.Answer{WordID: w.WordID}
	}

	if mode == domain.ModeChoice {
		return domain.Answer{
			WordID:  w.WordID,
			Answer:  input,
			Correct: input == w.Expected(mode),
		}
	}

	trimmed := strings.TrimSpace(input)
	return domain.Answer{
		WordID:  w.WordID,
		Answer:  trimmed,
		Correct: strings.EqualFold(trimmed, w.Expected(mode)),
	}
}

// ChoiceOptions builds the shuffled option set shown for w in choice mode:
// its own translation plus three distinct distractors drawn uniformly from
// the other translations in pool. When the pool is too small the set is
// padded with placeholders that cannot collide with a real translation.
// The set is rebuilt from scratch for every question.
func ChoiceOptions(w domain.Word, pool []domain.Word) []string {
	taken := map[string]bool{w.Ru: true}

	var candidates []string
	for _, p := range pool {
		if p.WordID == w.WordID || taken[p.Ru] {
			continue
		}
		taken[p.Ru] = true
		candidates = append(candidates, p.Ru)
	}

	rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	if len(candidates) > optionCount-1 {
		candidates = candidates[:optionCount-1]
	}

	options := append([]string{w.Ru}, candidates...)
	for i := 0; len(options) < optionCount; i++ {
		options = append(options, placeholder(i, taken))
	}

	rand.Shuffle(len(options), func(i, j int) {
		options[i], options[j] = options[j], options[i]
	})

	return options
}

func placeholder(n int, taken map[string]bool) string {
	p := strings.Repeat("•", n+3)
	for taken[p] {
		p += "•"
	}
	taken[p] = true
	return p
}
