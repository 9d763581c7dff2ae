package rules

// Combo is a classified card set. Cards are kept sorted highest first so
// comparison helpers can index into them directly.
type Combo struct {
	Kind  Kind
	Cards []Card
}

// groupInfo locates same-rank blocks inside a descending-sorted set.
type groupInfo struct {
	count int
	index []int
}

// countPairs counts adjacent equal-rank pairs. A trio contributes two
// and a quad three, which the per-length tables rely on.
func countPairs(cards []Card) int {
	n := 0
	for i := 0; i+1 < len(cards); i++ {
		if cards[i].Rank() == cards[i+1].Rank() {
			n++
		}
	}
	return n
}

// countTrios counts adjacent equal-rank triples, again overlapping: a
// quad contributes two.
func countTrios(cards []Card) int {
	n := 0
	for i := 0; i+2 < len(cards); i++ {
		if cards[i].Rank() == cards[i+1].Rank() && cards[i+1].Rank() == cards[i+2].Rank() {
			n++
		}
	}
	return n
}

// trioInfo finds up to three trios and validates that multiple trios
// are rank-consecutive (a plane). Non-consecutive trios yield count 0.
func trioInfo(cards []Card) groupInfo {
	var g groupInfo
	for i := 0; i+2 < len(cards); i++ {
		if cards[i].Rank() == cards[i+1].Rank() && cards[i+1].Rank() == cards[i+2].Rank() {
			g.index = append(g.index, i)
			g.count++
		}
	}
	rank := func(n int) int { return cards[g.index[n]].Rank() }
	switch {
	case g.count == 1:
		return g
	case g.count == 2 && rank(0) == rank(1)+1:
		return g
	case g.count == 3 && rank(0) == rank(1)+1 && rank(1) == rank(2)+1:
		return g
	}
	return groupInfo{}
}

func quadInfo(cards []Card) groupInfo {
	var g groupInfo
	for i := 0; i+3 < len(cards); i++ {
		if cards[i].Rank() == cards[i+1].Rank() && cards[i+1].Rank() == cards[i+2].Rank() && cards[i+2].Rank() == cards[i+3].Rank() {
			g.index = append(g.index, i)
			g.count++
		}
	}
	return g
}

// isRun reports a rank-consecutive descending sequence. Twos and jokers
// never run.
func isRun(cards []Card) bool {
	if cards[0].Rank() > maxRunRank {
		return false
	}
	for i := 0; i+1 < len(cards); i++ {
		if cards[i].Rank() != cards[i+1].Rank()+1 {
			return false
		}
	}
	return true
}

// isPairRun reports consecutive pairs, e.g. JJ QQ KK.
func isPairRun(cards []Card) bool {
	if len(cards)%2 != 0 {
		return false
	}
	heads := make([]Card, 0, len(cards)/2)
	for i := 0; i < len(cards); i += 2 {
		if cards[i].Rank() != cards[i+1].Rank() {
			return false
		}
		heads = append(heads, cards[i])
	}
	return isRun(heads)
}

// isJokerLead reports that the two highest cards are the joker pair.
func isJokerLead(cards []Card) bool {
	return cards[0] == BlackJoker && cards[1] == RedJoker
}

// trioNotTwos reports that the leading trio is below rank 2. Plane
// shapes with kickers may not be built on twos.
func trioNotTwos(cards []Card, trios groupInfo) bool {
	if trios.count == 0 {
		return true
	}
	return cards[trios.index[0]].Rank() != rankTwo
}

// Classify determines the kind of a card set. The input is not
// modified; the returned combo holds its own descending-sorted copy.
func Classify(cards []Card) Combo {
	if len(cards) == 0 {
		return Combo{Kind: Illegal}
	}
	sorted := sortDesc(cards)
	trios := trioInfo(sorted)
	quads := quadInfo(sorted)

	kind := Illegal
	switch len(sorted) {
	case 1:
		kind = Single
	case 2:
		switch {
		case countPairs(sorted) > 0:
			kind = Pair
		case isJokerLead(sorted):
			kind = Rampage
		}
	case 3:
		switch {
		case trios.count == 1:
			kind = Trio
		case isJokerLead(sorted):
			kind = JokersSingle
		}
	case 4:
		switch {
		case quads.count == 1:
			kind = Bomb
		case trios.count == 1:
			kind = TrioSingle
		case countPairs(sorted) == 0 && isJokerLead(sorted):
			kind = JokersTwoSingles
		case countPairs(sorted) == 1 && isJokerLead(sorted):
			kind = JokersPair
		}
	case 5:
		switch {
		case isRun(sorted):
			kind = Run
		case quads.count == 1:
			kind = QuadSingle
		case trios.count == 1 && countPairs(sorted) == 3:
			kind = TrioPair
		}
	case 6:
		switch {
		case isRun(sorted):
			kind = Run
		case isPairRun(sorted):
			kind = PairRun
		case !isJokerLead(sorted) && quads.count == 1 && countPairs(sorted) == 3:
			kind = QuadTwoSingles
		case quads.count == 1 && countPairs(sorted) == 4:
			kind = QuadPair
		case trios.count == 2:
			kind = TwoTrios
		case isJokerLead(sorted) && countPairs(sorted) == 2:
			kind = JokersTwoPairs
		}
	case 7:
		switch {
		case isRun(sorted):
			kind = Run
		case quads.count == 0 && trios.count == 2 &&
			(sorted[0].Rank() != rankTwo || sorted[0].Rank() != sorted[1].Rank()):
			kind = TwoTriosSingle
		}
	case 8:
		switch {
		case isRun(sorted):
			kind = Run
		case isPairRun(sorted):
			kind = PairRun
		case quads.count == 0 && trios.count == 2 && trioNotTwos(sorted, trios) &&
			!isJokerLead(sorted) && countPairs(sorted) == 4:
			kind = TwoTriosTwoSingles
		case quads.count == 0 && trios.count == 2 && trioNotTwos(sorted, trios) &&
			countPairs(sorted) == 5:
			kind = TwoTriosPair
		case quads.count == 1 && countTrios(sorted) == 2 && countPairs(sorted) == 5:
			kind = QuadTwoPairs
		}
	case 9:
		switch {
		case isRun(sorted):
			kind = Run
		case quads.count == 0 && trios.count == 3 && trioNotTwos(sorted, trios):
			kind = ThreeTrios
		}
	case 10:
		switch {
		case isRun(sorted):
			kind = Run
		case isPairRun(sorted):
			kind = PairRun
		case quads.count == 0 && trios.count == 2 && trioNotTwos(sorted, trios) &&
			countPairs(sorted) == 6:
			kind = TwoTriosTwoPairs
		}
	case 11:
		if isRun(sorted) {
			kind = Run
		}
	case 12:
		switch {
		case isRun(sorted):
			kind = Run
		case isPairRun(sorted):
			kind = PairRun
		}
	case 14, 16, 18, 20:
		if isPairRun(sorted) {
			kind = PairRun
		}
	}
	return Combo{Kind: kind, Cards: sorted}
}
