package rules

import rand "math/rand/v2"

// GrantKind selects the shape of a pre-deal card grant, earned through
// missions or a take-card item.
type GrantKind int

const (
	// GrantRampage hands out both jokers, if neither is already taken.
	GrantRampage GrantKind = iota + 1
	// GrantSequence hands out one card of each rank in a run starting
	// at Rank, Count ranks long.
	GrantSequence
	// GrantOfRank hands out Count cards of rank Rank.
	GrantOfRank
)

// Grant is a pre-deal card allocation for one seat. A grant that cannot
// be satisfied from the remaining deck is skipped in full, never
// partially applied.
type Grant struct {
	Kind  GrantKind
	Seat  int
	Rank  int
	Count int
}

// minSequenceLen keeps sequence grants at least a playable run.
const minSequenceLen = 5

// Deck is the dealing state for one round. Grants consume specific
// cards first; Finish shuffles the remainder into the three hands and
// the hidden set.
type Deck struct {
	taken [DeckSize]bool
	hands [3][]Card
	rng   *rand.Rand
}

func NewDeck(rng *rand.Rand) *Deck {
	return &Deck{rng: rng}
}

// Apply satisfies a grant if possible and reports whether any cards
// were handed out.
func (d *Deck) Apply(g Grant) bool {
	if g.Seat < 0 || g.Seat > 2 {
		return false
	}
	switch g.Kind {
	case GrantRampage:
		if d.taken[RedJoker] || d.taken[BlackJoker] {
			return false
		}
		d.give(g.Seat, RedJoker)
		d.give(g.Seat, BlackJoker)
		return true
	case GrantSequence:
		return d.applySequence(g)
	case GrantOfRank:
		return d.applyOfRank(g)
	}
	return false
}

func (d *Deck) applySequence(g Grant) bool {
	if g.Count < minSequenceLen || g.Rank < 3 || g.Rank+g.Count-1 > maxRunRank {
		return false
	}
	// Validate every rank group has a free card before taking any.
	picks := make([]Card, 0, g.Count)
	for r := g.Rank; r < g.Rank+g.Count; r++ {
		free := d.freeOfRank(r)
		if len(free) == 0 {
			return false
		}
		picks = append(picks, free[d.rng.IntN(len(free))])
	}
	for _, c := range picks {
		d.give(g.Seat, c)
	}
	return true
}

func (d *Deck) applyOfRank(g Grant) bool {
	if g.Count <= 0 {
		return false
	}
	free := d.freeOfRank(g.Rank)
	if len(free) < g.Count {
		return false
	}
	for i := 0; i < g.Count; i++ {
		p := d.rng.IntN(len(free))
		d.give(g.Seat, free[p])
		free = append(free[:p], free[p+1:]...)
	}
	return true
}

func (d *Deck) freeOfRank(rank int) []Card {
	var free []Card
	for c := Card(0); c < DeckSize; c++ {
		if !d.taken[c] && c.Rank() == rank {
			free = append(free, c)
		}
	}
	return free
}

func (d *Deck) give(seat int, c Card) {
	d.taken[c] = true
	d.hands[seat] = append(d.hands[seat], c)
}

// Finish shuffles the ungranted cards, tops every hand up to HandSize
// and returns the three hands plus the hidden cards kept for the round.
// A seat whose grants somehow exceed HandSize keeps the surplus.
func (d *Deck) Finish() (hands [3][]Card, hidden []Card) {
	var rest []Card
	for c := Card(0); c < DeckSize; c++ {
		if !d.taken[c] {
			rest = append(rest, c)
		}
	}
	d.rng.Shuffle(len(rest), func(i, j int) {
		rest[i], rest[j] = rest[j], rest[i]
	})
	for seat := 0; seat < 3; seat++ {
		hands[seat] = d.hands[seat]
		for len(hands[seat]) < HandSize && len(rest) > 0 {
			hands[seat] = append(hands[seat], rest[0])
			rest = rest[1:]
		}
	}
	hidden = rest
	return hands, hidden
}

// Deal is the plain path with no grants.
func Deal(rng *rand.Rand) (hands [3][]Card, hidden []Card) {
	return NewDeck(rng).Finish()
}
