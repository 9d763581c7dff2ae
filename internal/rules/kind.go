package rules

// Kind is the shape of a played card set. The ordering matters: Beats
// switches on the previous set's kind, and only the exact same kind (or
// a bomb class) may follow it.
type Kind int

const (
	Single Kind = iota + 1
	Pair
	Trio
	TrioSingle
	TrioPair
	TwoTrios
	TwoTriosSingle
	TwoTriosTwoSingles
	TwoTriosPair
	TwoTriosTwoPairs
	ThreeTrios
	QuadSingle
	QuadTwoSingles
	QuadPair
	QuadTwoPairs
	JokersSingle
	JokersTwoSingles
	JokersPair
	JokersTwoPairs
	Run
	PairRun
	Bomb
	Rampage
	Illegal
)

var kindNames = map[Kind]string{
	Single:             "single",
	Pair:               "pair",
	Trio:               "trio",
	TrioSingle:         "trio+1",
	TrioPair:           "trio+pair",
	TwoTrios:           "plane",
	TwoTriosSingle:     "plane+1",
	TwoTriosTwoSingles: "plane+2",
	TwoTriosPair:       "plane+pair",
	TwoTriosTwoPairs:   "plane+2pairs",
	ThreeTrios:         "triple plane",
	QuadSingle:         "quad+1",
	QuadTwoSingles:     "quad+2",
	QuadPair:           "quad+pair",
	QuadTwoPairs:       "quad+2pairs",
	JokersSingle:       "jokers+1",
	JokersTwoSingles:   "jokers+2",
	JokersPair:         "jokers+pair",
	JokersTwoPairs:     "jokers+2pairs",
	Run:                "run",
	PairRun:            "pair run",
	Bomb:               "bomb",
	Rampage:            "rampage",
	Illegal:            "illegal",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "illegal"
}

// BombClass reports whether the kind beats any non-joker-kicker set
// regardless of shape.
func (k Kind) BombClass() bool {
	return k == Bomb || k == Rampage
}
