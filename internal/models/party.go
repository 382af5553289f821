package models

import "sort"

// PartyKey identifies a ledger party. Only equality and hashing are assumed.
type PartyKey string

// String returns an abbreviated form of the key for logs.
func (k PartyKey) String() string {
	if len(k) <= 12 {
		return string(k)
	}
	return string(k[:12])
}

// KeySet is a set of party keys.
type KeySet map[PartyKey]struct{}

// NewKeySet builds a set from the given keys.
func NewKeySet(keys ...PartyKey) KeySet {
	s := make(KeySet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// Has reports whether k is in the set.
func (s KeySet) Has(k PartyKey) bool {
	_, ok := s[k]
	return ok
}

// Add inserts k into the set.
func (s KeySet) Add(k PartyKey) {
	s[k] = struct{}{}
}

// ContainsAll reports whether every key of other is in s.
func (s KeySet) ContainsAll(other KeySet) bool {
	for k := range other {
		if !s.Has(k) {
			return false
		}
	}
	return true
}

// Equal reports whether both sets hold the same keys.
func (s KeySet) Equal(other KeySet) bool {
	return len(s) == len(other) && s.ContainsAll(other)
}

// Sorted returns the keys in ascending order.
func (s KeySet) Sorted() []PartyKey {
	keys := make([]PartyKey, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	SortKeys(keys)
	return keys
}

// SortKeys sorts keys in place in ascending order.
func SortKeys(keys []PartyKey) {
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
}

// normalizeKeys returns a sorted copy of keys without duplicates.
func normalizeKeys(keys []PartyKey) []PartyKey {
	return NewKeySet(keys...).Sorted()
}
