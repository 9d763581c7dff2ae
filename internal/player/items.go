package player

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jewelpark/poker3/internal/rules"
)

// ItemClass is when an item's effect applies.
type ItemClass int

const (
	// ClassInstant items resolve the moment they are used.
	ClassInstant ItemClass = 0x01
	// ClassPerTurn items queue and fire on the owner's next turn.
	ClassPerTurn ItemClass = 0x02
	// ClassPerRound items queue and fire when the next round is dealt.
	ClassPerRound ItemClass = 0x03
)

// Effect is the typed behaviour of an item. The store validates the raw
// effect descriptor once at load; rooms then switch on the concrete
// type instead of dispatching on strings.
type Effect interface {
	Class() ItemClass
}

// Binocular reveals one random card from the target's hand.
type Binocular struct{}

func (Binocular) Class() ItemClass { return ClassInstant }

// Freeze skips the victim's next turn. Target seat is chosen at use
// time.
type Freeze struct{}

func (Freeze) Class() ItemClass { return ClassPerTurn }

// TakeCard guarantees specific cards in the user's next dealt hand.
type TakeCard struct {
	Grant rules.Grant
}

func (TakeCard) Class() ItemClass { return ClassPerRound }

// Item is an owned, consumable ability. Used counts uses within the
// current round and resets on each deal; UseLimit caps it.
type Item struct {
	ID       int64
	Name     string
	Cost     int64
	Effect   Effect
	Count    int
	Used     int
	UseLimit int
}

// Usable reports whether the item has stock left and is under its
// per-round cap.
func (i *Item) Usable() bool {
	return i != nil && i.Count > 0 && i.Used < i.UseLimit
}

// ParseUseLimit reads the per-round use cap from the front of an effect
// descriptor. Descriptors without one allow a single use.
func ParseUseLimit(argument string) int {
	first, _, _ := strings.Cut(argument, ",")
	n, err := strconv.Atoi(strings.TrimSpace(first))
	if err != nil || n <= 0 {
		return 1
	}
	return n
}

// ParseEffect turns a stored effect descriptor into a typed Effect.
// The argument format for take-card is "slot,grantKind,rankName,count"
// with rank names matching card labels (3..10, J, Q, K, A, 2).
func ParseEffect(name, argument string) (Effect, error) {
	switch name {
	case "useBinocular":
		return Binocular{}, nil
	case "useFreeze":
		return Freeze{}, nil
	case "useTakeCard":
		grant, err := parseGrant(argument)
		if err != nil {
			return nil, fmt.Errorf("take-card item: %w", err)
		}
		return TakeCard{Grant: grant}, nil
	}
	return nil, fmt.Errorf("unknown item effect %q", name)
}

func parseGrant(argument string) (rules.Grant, error) {
	parts := strings.Split(argument, ",")
	if len(parts) != 4 {
		return rules.Grant{}, fmt.Errorf("malformed argument %q", argument)
	}
	kind, err := strconv.Atoi(parts[1])
	if err != nil {
		return rules.Grant{}, fmt.Errorf("grant kind: %w", err)
	}
	count, err := strconv.Atoi(parts[3])
	if err != nil {
		return rules.Grant{}, fmt.Errorf("grant count: %w", err)
	}
	g := rules.Grant{Count: count}
	switch kind {
	case 6:
		g.Kind = rules.GrantRampage
	case 5:
		g.Kind = rules.GrantSequence
	case 1, 2, 3, 4:
		g.Kind = rules.GrantOfRank
	default:
		return rules.Grant{}, fmt.Errorf("grant kind %d out of range", kind)
	}
	if g.Kind != rules.GrantRampage {
		rank, err := parseRank(parts[2])
		if err != nil {
			return rules.Grant{}, err
		}
		g.Rank = rank
	}
	return g, nil
}

func parseRank(label string) (int, error) {
	switch label {
	case "J":
		return 11, nil
	case "Q":
		return 12, nil
	case "K":
		return 13, nil
	case "A":
		return 14, nil
	case "2":
		return 15, nil
	}
	n, err := strconv.Atoi(label)
	if err != nil || n < 3 || n > 10 {
		return 0, fmt.Errorf("bad rank label %q", label)
	}
	return n, nil
}
