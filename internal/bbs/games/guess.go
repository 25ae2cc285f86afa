package games

import (
	"fmt"
	"strconv"
	"strings"
)

// GuessModule is a number-guessing game: the caller has a bounded
// number of tries to find a target between 1 and Max.
type GuessModule struct {
	Max      int
	MaxTries int
	// Pick returns the secret number for a new round. Tests inject a
	// deterministic value; production wires a real RNG at construction
	// time since this package otherwise has no time/random dependency.
	Pick func() int
}

// NewGuessModule builds a GuessModule with the given bounds and a pick
// function supplying the secret number for each new round.
func NewGuessModule(max, maxTries int, pick func() int) *GuessModule {
	return &GuessModule{Max: max, MaxTries: maxTries, Pick: pick}
}

func (g *GuessModule) Name() string        { return "guess" }
func (g *GuessModule) Description() string { return fmt.Sprintf("guess a number 1-%d", g.Max) }

func (g *GuessModule) Start() Session {
	return &guessSession{target: g.Pick(), max: g.Max, triesLeft: g.MaxTries}
}

type guessSession struct {
	target    int
	max       int
	triesLeft int
}

func (s *guessSession) Prompt() string {
	return fmt.Sprintf("Guess a number between 1 and %d (%d tries left): ", s.max, s.triesLeft)
}

func (s *guessSession) HandleInput(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if strings.EqualFold(line, "quit") {
		return fmt.Sprintf("Giving up? It was %d.", s.target), true
	}

	n, err := strconv.Atoi(line)
	if err != nil {
		return "Please enter a number, or 'quit'.", false
	}

	s.triesLeft--
	switch {
	case n == s.target:
		return fmt.Sprintf("Correct! It was %d.", s.target), true
	case s.triesLeft <= 0:
		return fmt.Sprintf("Out of tries. It was %d.", s.target), true
	case n < s.target:
		return fmt.Sprintf("Too low. %d tries left.", s.triesLeft), false
	default:
		return fmt.Sprintf("Too high. %d tries left.", s.triesLeft), false
	}
}
