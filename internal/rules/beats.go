package rules

// lowRank is the rank of the lowest card in a descending-sorted set.
func lowRank(cards []Card) int {
	return cards[len(cards)-1].Rank()
}

// blockRank is the rank of the combo's defining block: the trio for
// plane shapes, the quad for four-with-kicker shapes.
func blockRank(cards []Card, g groupInfo) int {
	return cards[g.index[0]].Rank()
}

// Beats reports whether combo c may be played over prev. An empty prev
// means c leads the trick and anything legal goes. Joker-kicker shapes
// are only ever beaten by a bomb; a bomb falls to a bigger bomb or the
// rampage; the rampage falls to nothing.
func (c Combo) Beats(prev Combo) bool {
	if c.Kind == Illegal {
		return false
	}
	if len(prev.Cards) == 0 {
		return true
	}

	trump := c.Kind.BombClass()
	switch prev.Kind {
	case Single, Pair, Trio:
		if trump {
			return true
		}
		return c.Kind == prev.Kind && lowRank(c.Cards) > lowRank(prev.Cards)

	case TrioSingle, TrioPair, TwoTrios, TwoTriosSingle, TwoTriosTwoSingles,
		TwoTriosPair, TwoTriosTwoPairs, ThreeTrios:
		if trump {
			return true
		}
		return c.Kind == prev.Kind &&
			blockRank(c.Cards, trioInfo(c.Cards)) > blockRank(prev.Cards, trioInfo(prev.Cards))

	case QuadSingle, QuadTwoSingles, QuadPair, QuadTwoPairs:
		if trump {
			return true
		}
		return c.Kind == prev.Kind &&
			blockRank(c.Cards, quadInfo(c.Cards)) > blockRank(prev.Cards, quadInfo(prev.Cards))

	case JokersSingle, JokersTwoSingles, JokersPair, JokersTwoPairs:
		return c.Kind == Bomb

	case Run, PairRun:
		if trump {
			return true
		}
		return c.Kind == prev.Kind && len(c.Cards) == len(prev.Cards) &&
			lowRank(c.Cards) > lowRank(prev.Cards)

	case Bomb:
		if c.Kind == Rampage {
			return true
		}
		return c.Kind == Bomb && lowRank(c.Cards) > lowRank(prev.Cards)
	}
	return false
}
