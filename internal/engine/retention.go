package engine

import (
	"unicode/utf8"
)

// RetentionPolicy decides whether a completed turn's input becomes a memory.
type RetentionPolicy interface {
	Retain(turn *Turn) bool
}

// RetentionFunc adapts a function to RetentionPolicy.
type RetentionFunc func(turn *Turn) bool

// Retain implements RetentionPolicy.
func (f RetentionFunc) Retain(turn *Turn) bool {
	return f(turn)
}

// NeverRetain keeps nothing.
var NeverRetain RetentionPolicy = RetentionFunc(func(*Turn) bool { return false })

// MinLengthPolicy retains inputs strictly longer than MinRunes characters.
type MinLengthPolicy struct {
	MinRunes int
}

// DefaultRetentionPolicy returns the length heuristic with a 10 character floor.
func DefaultRetentionPolicy() MinLengthPolicy {
	return MinLengthPolicy{MinRunes: 10}
}

// Retain implements RetentionPolicy.
func (p MinLengthPolicy) Retain(turn *Turn) bool {
	if turn == nil {
		return false
	}
	return utf8.RuneCountInString(turn.Input) > p.MinRunes
}

// memoryText is the ledger text stored for a retained input.
func memoryText(input string) string {
	return "User said: " + input
}
