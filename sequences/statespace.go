// Package sequences models constrained label chains: the legal
// transition graph over states and the forward-backwards message
// passing kernel that scores paths through it.
package sequences

import (
	"fmt"
	"sort"

	"github.com/codeaudit/ml-1/indexer"
)

type Error string

func (e Error) Error() string { return string(e) }

const (
	ErrConfig     = Error("sequences: invalid state space configuration")
	ErrDimension  = Error("sequences: dimension mismatch")
	ErrNumeric    = Error("sequences: numeric failure")
	ErrInfeasible = Error("sequences: no feasible path")
)

// Transition is a legal (from, to) state pair. SelfIndex is its dense
// index among all transitions of the state space.
type Transition struct {
	From      int
	To        int
	SelfIndex int
}

// StateSpace is the legal transition graph over label states, with
// designated start and stop sentinels. It is immutable after
// construction and safe for concurrent readers.
type StateSpace[S comparable] struct {
	states      *indexer.Indexer[S]
	transitions []Transition
	byPair      map[[2]int]Transition
	outgoing    [][]Transition
	incoming    [][]Transition
	start       int
	stop        int
}

// NewStateSpace builds a state space from the given states, the
// start/stop sentinels, and the allowed (from, to) state pairs. Pairs
// are assigned dense SelfIndex values in (from, to) sorted order.
// Duplicate states, duplicate pairs, unknown states in pairs, or
// missing start/stop designations are configuration errors.
func NewStateSpace[S comparable](states []S, start, stop S, pairs [][2]S) (*StateSpace[S], error) {
	ix := indexer.Of(states)
	if ix.Size() != len(states) {
		return nil, fmt.Errorf("%w: duplicate states", ErrConfig)
	}
	startIdx := ix.IndexOf(start)
	stopIdx := ix.IndexOf(stop)
	if startIdx < 0 || stopIdx < 0 {
		return nil, fmt.Errorf("%w: start or stop state not among states", ErrConfig)
	}

	idxPairs := make([][2]int, 0, len(pairs))
	for _, p := range pairs {
		from := ix.IndexOf(p[0])
		to := ix.IndexOf(p[1])
		if from < 0 || to < 0 {
			return nil, fmt.Errorf("%w: transition references unknown state %v -> %v", ErrConfig, p[0], p[1])
		}
		idxPairs = append(idxPairs, [2]int{from, to})
	}
	sort.Slice(idxPairs, func(i, j int) bool {
		if idxPairs[i][0] != idxPairs[j][0] {
			return idxPairs[i][0] < idxPairs[j][0]
		}
		return idxPairs[i][1] < idxPairs[j][1]
	})

	ss := &StateSpace[S]{
		states:   ix,
		byPair:   make(map[[2]int]Transition, len(idxPairs)),
		outgoing: make([][]Transition, ix.Size()),
		incoming: make([][]Transition, ix.Size()),
		start:    startIdx,
		stop:     stopIdx,
	}
	for _, p := range idxPairs {
		if _, ok := ss.byPair[p]; ok {
			return nil, fmt.Errorf("%w: duplicate transition %v -> %v",
				ErrConfig, ix.Get(p[0]), ix.Get(p[1]))
		}
		t := Transition{From: p[0], To: p[1], SelfIndex: len(ss.transitions)}
		ss.transitions = append(ss.transitions, t)
		ss.byPair[p] = t
		ss.outgoing[t.From] = append(ss.outgoing[t.From], t)
		ss.incoming[t.To] = append(ss.incoming[t.To], t)
	}
	return ss, nil
}

// NewStateSpaceFromLabeled builds the state space observed in a corpus
// of label sequences. Sequences carry raw labels without sentinels;
// start and stop are added, with a transition from start into each
// observed first label, between each observed adjacent pair, and from
// each observed last label into stop.
func NewStateSpaceFromLabeled[S comparable](start, stop S, corpus [][]S) (*StateSpace[S], error) {
	states := []S{start, stop}
	seen := map[[2]S]bool{}
	var pairs [][2]S
	add := func(from, to S) {
		p := [2]S{from, to}
		if !seen[p] {
			seen[p] = true
			pairs = append(pairs, p)
		}
	}
	for _, labels := range corpus {
		if len(labels) == 0 {
			continue
		}
		states = append(states, labels...)
		add(start, labels[0])
		for i := 0; i+1 < len(labels); i++ {
			add(labels[i], labels[i+1])
		}
		add(labels[len(labels)-1], stop)
	}
	return NewStateSpace(indexer.Of(states).Elements(), start, stop, pairs)
}

// States returns the state indexer.
func (ss *StateSpace[S]) States() *indexer.Indexer[S] { return ss.states }

// Transitions returns all transitions in SelfIndex order. The returned
// slice must not be modified.
func (ss *StateSpace[S]) Transitions() []Transition { return ss.transitions }

// NumTransitions returns the number of legal transitions.
func (ss *StateSpace[S]) NumTransitions() int { return len(ss.transitions) }

// TransitionFor returns the transition for (from, to) state indices.
// The second result is false when the edge is illegal.
func (ss *StateSpace[S]) TransitionFor(from, to int) (Transition, bool) {
	t, ok := ss.byPair[[2]int{from, to}]
	return t, ok
}

// StartStateIndex returns the index of the start sentinel.
func (ss *StateSpace[S]) StartStateIndex() int { return ss.start }

// StopStateIndex returns the index of the stop sentinel.
func (ss *StateSpace[S]) StopStateIndex() int { return ss.stop }

// TransitionsFrom returns the transitions leaving state s, ordered by
// destination state.
func (ss *StateSpace[S]) TransitionsFrom(s int) []Transition { return ss.outgoing[s] }

// TransitionsTo returns the transitions entering state s, ordered by
// source state.
func (ss *StateSpace[S]) TransitionsTo(s int) []Transition { return ss.incoming[s] }
