// Package subscription implements component J: the FLX subscription-set
// store, a small versioned table tracking each subscription set's state
// machine from Uncommitted through Complete (spec.md §4.J, Property 6).
package subscription

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// State is one stage of a subscription set's lifecycle.
type State int

const (
	Uncommitted State = iota
	Pending
	Bootstrapping
	AwaitingMark
	Complete
	Error
)

func (s State) String() string {
	switch s {
	case Uncommitted:
		return "uncommitted"
	case Pending:
		return "pending"
	case Bootstrapping:
		return "bootstrapping"
	case AwaitingMark:
		return "awaiting_mark"
	case Complete:
		return "complete"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// allowedTransitions encodes the table in spec.md §4.J. Complete is
// terminal; the store-level supersede of older sets is a side effect that
// transition applies when a set reaches Complete, not a same-row
// transition.
var allowedTransitions = map[State][]State{
	Uncommitted:   {Pending},
	Pending:       {Bootstrapping},
	Bootstrapping: {AwaitingMark, Error},
	AwaitingMark:  {Complete},
}

func isAllowed(from, to State) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Embedded is one query registered in a subscription set.
type Embedded struct {
	Name       string
	ObjectType string
	Query      string
}

// Set is one versioned row of the subscription table.
type Set struct {
	Version       int64
	State         State
	ErrorStr      string
	Subscriptions []Embedded
}

var bucketSets = []byte("flx_subscriptions")

// Store owns the flx_subscriptions bucket.
type Store struct {
	db *bolt.DB
}

// Open creates the subscription bucket inside db, a bbolt handle shared
// with every other table store that lives in the same Realm file
// (spec.md §6); the caller owns db's lifetime and closes it once, after
// every store built on it has stopped using it.
func Open(db *bolt.DB) (*Store, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSets)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("subscription: create bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Close is a no-op: the bbolt handle is shared with other stores and is
// closed by whoever opened it, not here.
func (s *Store) Close() error { return nil }

func versionKey(v int64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	return buf[:]
}

func (s *Store) get(tx *bolt.Tx, version int64) (Set, bool, error) {
	data := tx.Bucket(bucketSets).Get(versionKey(version))
	if data == nil {
		return Set{}, false, nil
	}
	var set Set
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&set); err != nil {
		return Set{}, false, err
	}
	return set, true, nil
}

func (s *Store) put(tx *bolt.Tx, set Set) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(set); err != nil {
		return err
	}
	return tx.Bucket(bucketSets).Put(versionKey(set.Version), buf.Bytes())
}

func (s *Store) maxVersion(tx *bolt.Tx) int64 {
	c := tx.Bucket(bucketSets).Cursor()
	k, _ := c.Last()
	if k == nil {
		return 0
	}
	return int64(binary.BigEndian.Uint64(k))
}

// MakeMutableCopy clones the highest-versioned set (or starts from an
// empty set if the store is new), assigns max(version)+1, and persists it
// in Uncommitted state.
func (s *Store) MakeMutableCopy() (Set, error) {
	var out Set
	err := s.db.Update(func(tx *bolt.Tx) error {
		next := s.maxVersion(tx) + 1
		latest, ok, err := s.get(tx, s.maxVersion(tx))
		if err != nil {
			return err
		}
		out = Set{Version: next, State: Uncommitted}
		if ok {
			out.Subscriptions = append([]Embedded(nil), latest.Subscriptions...)
		}
		return s.put(tx, out)
	})
	return out, err
}

// Commit transitions version from Uncommitted to Pending and publishes it.
func (s *Store) Commit(version int64) error {
	return s.transition(version, Pending)
}

// SetState applies an arbitrary allowed transition, or Error with a
// message via SetError. version Complete triggers supersede of every
// older set (Property 6).
func (s *Store) SetState(version int64, to State) error {
	return s.transition(version, to)
}

// SetError transitions version to Error carrying msg, allowed only from
// Bootstrapping per spec.md §4.J.
func (s *Store) SetError(version int64, msg string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		set, ok, err := s.get(tx, version)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("subscription: unknown version %d", version)
		}
		if !isAllowed(set.State, Error) {
			return fmt.Errorf("subscription: %s -> error not allowed", set.State)
		}
		set.State = Error
		set.ErrorStr = msg
		return s.put(tx, set)
	})
}

func (s *Store) transition(version int64, to State) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		set, ok, err := s.get(tx, version)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("subscription: unknown version %d", version)
		}
		if !isAllowed(set.State, to) {
			return fmt.Errorf("subscription: %s -> %s not allowed", set.State, to)
		}
		set.State = to
		if err := s.put(tx, set); err != nil {
			return err
		}
		if to == Complete {
			return s.supersedeOlderThan(tx, version)
		}
		return nil
	})
}

// supersedeOlderThan removes every set with a lower version than
// keepVersion (Property 6).
func (s *Store) supersedeOlderThan(tx *bolt.Tx, keepVersion int64) error {
	b := tx.Bucket(bucketSets)
	c := b.Cursor()
	for k, _ := c.First(); k != nil && int64(binary.BigEndian.Uint64(k)) < keepVersion; k, _ = c.Next() {
		if err := c.Delete(); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the set at the given version, if it still exists in the
// store (it may have been superseded away, per Property 6).
func (s *Store) Get(version int64) (Set, bool, error) {
	var out Set
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		out, found, err = s.get(tx, version)
		return err
	})
	return out, found, err
}

// GetActive returns the highest-versioned Complete set, falling back to
// the highest-versioned set of any state if none is Complete.
func (s *Store) GetActive() (Set, bool, error) {
	var out Set
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSets)
		c := b.Cursor()
		var fallback Set
		var haveFallback bool
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var set Set
			if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&set); err != nil {
				return err
			}
			if !haveFallback {
				fallback = set
				haveFallback = true
			}
			if set.State == Complete {
				out = set
				found = true
				return nil
			}
		}
		if haveFallback {
			out = fallback
			found = true
		}
		return nil
	})
	return out, found, err
}
