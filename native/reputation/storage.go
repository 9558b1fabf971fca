package reputation

import (
	"fmt"

	"jobledger/native/common"
)

// storage abstracts the subset of state manager functionality required by the
// reputation ledger.
type storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

var (
	profilePrefix     = "reputation/profile/"
	ratingPrefix      = "reputation/rating/"
	ratingsByRatedPre = "reputation/ratings/"
)

func profileKey(addr [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", profilePrefix, addr))
}

func ratingKey(id [32]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", ratingPrefix, id))
}

func ratingsByRatedKey(addr [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", ratingsByRatedPre, addr))
}

var (
	// ErrProfileNotFound marks participants without a profile.
	ErrProfileNotFound = fmt.Errorf("reputation: profile %w", common.ErrNotFound)
	// ErrRatingNotFound marks missing rating records.
	ErrRatingNotFound = fmt.Errorf("reputation: rating %w", common.ErrNotFound)
	// ErrProfileExists is returned when a participant creates a second profile.
	ErrProfileExists = fmt.Errorf("reputation: %w: profile already exists", common.ErrDuplicate)
	// ErrAlreadyRated is returned when a rater reviews the same job twice in
	// the same direction.
	ErrAlreadyRated = fmt.Errorf("reputation: %w: job already rated", common.ErrDuplicate)
	// ErrInsufficientStake marks stakes below the role minimum.
	ErrInsufficientStake = fmt.Errorf("reputation: %w", common.ErrInsufficientStake)
	// ErrStakeLocked is returned while a penalty lock is in force.
	ErrStakeLocked = fmt.Errorf("reputation: %w: stake locked", common.ErrInvalidState)
	// ErrInvalidRatingValue marks ratings outside [1, 100].
	ErrInvalidRatingValue = fmt.Errorf("reputation: %w: rating value must be between 1 and 100", common.ErrValidation)
	ErrInvalidRole        = fmt.Errorf("reputation: %w: invalid role", common.ErrValidation)
	ErrInvalidRatingType  = fmt.Errorf("reputation: %w: invalid rating type", common.ErrValidation)
	ErrInvalidAmount      = fmt.Errorf("reputation: %w: amount must be positive", common.ErrValidation)
	ErrInvalidSpecialty   = fmt.Errorf("reputation: %w: invalid specialties", common.ErrValidation)
	ErrSelfRating         = fmt.Errorf("reputation: %w: participants cannot rate themselves", common.ErrValidation)
	ErrInvalidPenalty     = fmt.Errorf("reputation: %w: penalty points must be positive", common.ErrValidation)
)

// Ledger persists profiles and ratings.
type Ledger struct {
	store storage
}

// NewLedger constructs a ledger bound to the provided storage backend.
func NewLedger(store storage) *Ledger {
	return &Ledger{store: store}
}

// Profile loads the profile of addr.
func (l *Ledger) Profile(addr [20]byte) (*Profile, error) {
	profile := new(Profile)
	ok, err := l.store.KVGet(profileKey(addr), profile)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrProfileNotFound
	}
	return profile, nil
}

// HasProfile reports whether addr has a profile.
func (l *Ledger) HasProfile(addr [20]byte) (bool, error) {
	return l.store.KVGet(profileKey(addr), nil)
}

// PutProfile stores the profile under its participant address.
func (l *Ledger) PutProfile(p *Profile) error {
	if p == nil || p.Participant == ([20]byte{}) {
		return fmt.Errorf("reputation: %w: participant required", common.ErrValidation)
	}
	if !p.Role.Valid() {
		return ErrInvalidRole
	}
	return l.store.KVPut(profileKey(p.Participant), p)
}

// Rating loads a rating by identifier.
func (l *Ledger) Rating(id [32]byte) (*Rating, error) {
	rating := new(Rating)
	ok, err := l.store.KVGet(ratingKey(id), rating)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrRatingNotFound
	}
	return rating, nil
}

// PutRating stores a new rating and indexes it under the rated participant.
// Ratings are write-once.
func (l *Ledger) PutRating(r *Rating) error {
	exists, err := l.store.KVGet(ratingKey(r.ID), nil)
	if err != nil {
		return err
	}
	if exists {
		return ErrAlreadyRated
	}
	if err := l.store.KVPut(ratingKey(r.ID), r); err != nil {
		return err
	}
	return l.store.KVAppend(ratingsByRatedKey(r.Rated), r.ID[:])
}

// RatingsFor lists the ratings received by addr in submission order.
func (l *Ledger) RatingsFor(addr [20]byte) ([]*Rating, error) {
	var ids [][]byte
	if err := l.store.KVGetList(ratingsByRatedKey(addr), &ids); err != nil {
		return nil, err
	}
	out := make([]*Rating, 0, len(ids))
	for _, raw := range ids {
		var id [32]byte
		copy(id[:], raw)
		rating, err := l.Rating(id)
		if err != nil {
			return nil, err
		}
		out = append(out, rating)
	}
	return out, nil
}
