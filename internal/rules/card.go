// Package rules implements the Poker3 card rules engine: hand
// classification, beat comparison and dealing. All functions are pure;
// illegal input yields Illegal/false rather than an error so callers can
// treat it as user-input rejection.
package rules

import (
	"sort"
	"strconv"
)

// Card identifies one of the 54 cards in the deck. Cards 0..51 are the
// four suits of 3,4,...,K,A,2 in ascending rank order; 52 is the red
// joker and 53 the black joker.
type Card int

const (
	RedJoker   Card = 52
	BlackJoker Card = 53

	// DeckSize is the full deck: 13 ranks x 4 suits plus two jokers.
	DeckSize = 54

	// HandSize is each player's dealt hand; HiddenCount cards stay back
	// for the dealer.
	HandSize    = 17
	HiddenCount = 3
)

// Rank ordering: 3..10 map to themselves, J=11, Q=12, K=13, A=14, 2=15,
// red joker 16, black joker 17. Nothing above an ace may appear in a run.
const (
	rankTwo      = 15
	rankRedJoker = 16
	maxRunRank   = 14
)

// Rank returns the comparison value of a card.
func (c Card) Rank() int {
	switch {
	case c < 0 || c >= DeckSize:
		return 0
	case c == RedJoker:
		return rankRedJoker
	case c == BlackJoker:
		return rankRedJoker + 1
	default:
		return 3 + int(c)/4
	}
}

// String renders a card the way the client names them: rank plus suit
// letter, jokers as "0a"/"0s".
func (c Card) String() string {
	if c == RedJoker {
		return "0a"
	}
	if c == BlackJoker {
		return "0s"
	}
	if c < 0 || c >= DeckSize {
		return "??"
	}
	suits := [4]string{"a", "s", "e", "r"}
	var rank string
	switch r := c.Rank(); r {
	case 11:
		rank = "J"
	case 12:
		rank = "Q"
	case 13:
		rank = "K"
	case 14:
		rank = "A"
	case rankTwo:
		rank = "2"
	default:
		rank = strconv.Itoa(r)
	}
	return rank + suits[int(c)%4]
}

// sortDesc orders a copy of the set highest card first, which is the
// layout every classification helper assumes.
func sortDesc(cards []Card) []Card {
	sorted := make([]Card, len(cards))
	copy(sorted, cards)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] > sorted[j] })
	return sorted
}
