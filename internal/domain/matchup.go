package domain

import "slices"

// NextMatchup computes the next pair for t without mutating it. It returns
// nil when the bracket has nothing left to play.
//
// Round 0 pairs the first two contenders in pool order, skipping the final
// challenger. Later rounds pair the champion with the first unused
// contender; the final challenger is only picked when it is the last unused
// contender, so it always plays the final round.
func NextMatchup(t *Tournament) (*Pair, error) {
	if t.Completed || len(t.Remaining) <= 1 {
		return nil, nil
	}

	order := challengerLast(t.Contenders, t.FinalChallenger)

	if t.Round == 0 || t.Champion() == "" {
		if len(order) < 2 {
			return nil, ErrNoCandidate
		}
		return &Pair{Left: order[0], Right: order[1]}, nil
	}

	champion := t.Champion()
	for _, c := range order {
		if c == champion || t.HasPlayed(c) {
			continue
		}
		return &Pair{Left: champion, Right: c}, nil
	}
	return nil, ErrNoCandidate
}

// challengerLast returns the pool with the final challenger moved to the end.
func challengerLast(pool []string, challenger string) []string {
	if challenger == "" || !slices.Contains(pool, challenger) {
		return pool
	}
	out := make([]string, 0, len(pool))
	for _, c := range pool {
		if c != challenger {
			out = append(out, c)
		}
	}
	return append(out, challenger)
}
