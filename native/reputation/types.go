package reputation

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/text/unicode/norm"
)

// Role selects which side of the marketplace a participant acts on.
type Role uint8

const (
	RoleWorker Role = iota + 1
	RoleClient
	RoleBoth
)

func (r Role) String() string {
	switch r {
	case RoleWorker:
		return "worker"
	case RoleClient:
		return "client"
	case RoleBoth:
		return "both"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// Valid reports whether the role is known.
func (r Role) Valid() bool {
	return r >= RoleWorker && r <= RoleBoth
}

// ParseRole normalises a textual role.
func ParseRole(raw string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "worker":
		return RoleWorker, nil
	case "client":
		return RoleClient, nil
	case "both":
		return RoleBoth, nil
	default:
		return 0, fmt.Errorf("%w: unknown role %q", ErrInvalidRole, raw)
	}
}

// RatingType records which counterparty wrote a rating.
type RatingType uint8

const (
	RatingClientToWorker RatingType = iota + 1
	RatingWorkerToClient
)

func (t RatingType) String() string {
	switch t {
	case RatingClientToWorker:
		return "client_to_worker"
	case RatingWorkerToClient:
		return "worker_to_client"
	default:
		return fmt.Sprintf("rating(%d)", uint8(t))
	}
}

// Valid reports whether the rating type is known.
func (t RatingType) Valid() bool {
	return t == RatingClientToWorker || t == RatingWorkerToClient
}

// MaxRatingValue is the highest value a single rating may carry; the lowest
// is 1.
const MaxRatingValue = 100

// MaxSpecialties bounds the specialty tags stored on a profile.
const MaxSpecialties = 16

// Profile is the per-participant reputation record. Profiles are keyed by
// participant address and never deleted.
type Profile struct {
	Participant          [20]byte
	Role                 Role
	Stake                *big.Int
	JobsCompleted        uint64
	JobsPosted           uint64
	TotalRatingsReceived uint64
	SumRatings           uint64
	CurrentReputation    uint64
	LastActivity         uint64
	StakeLockedUntil     uint64
	Verified             bool
	Specialties          []string
	PenaltyPoints        uint64
	CreatedAt            uint64
}

// Clone returns a deep copy of the profile.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Stake = new(big.Int)
	if p.Stake != nil {
		clone.Stake.Set(p.Stake)
	}
	clone.Specialties = append([]string(nil), p.Specialties...)
	return &clone
}

// Rating is an immutable review left by one counterparty for another.
type Rating struct {
	ID          [32]byte
	Rater       [20]byte
	Rated       [20]byte
	JobID       uint64
	Value       uint64
	Feedback    string
	Type        RatingType
	SubmittedAt uint64
	Verified    bool
}

// RatingID derives the identifier of the single rating a rater may leave for
// a job in one direction.
func RatingID(rater [20]byte, jobID uint64, kind RatingType) [32]byte {
	job := new(big.Int).SetUint64(jobID).Bytes()
	return ethcrypto.Keccak256Hash([]byte("rating"), rater[:], job, []byte{byte(kind)})
}

// normalizeSpecialties lowercases, trims and de-duplicates specialty tags,
// returning them sorted.
func normalizeSpecialties(in []string) ([]string, error) {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, raw := range in {
		tag := norm.NFKC.String(strings.ToLower(strings.TrimSpace(raw)))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	if len(out) > MaxSpecialties {
		return nil, fmt.Errorf("%w: at most %d specialties", ErrInvalidSpecialty, MaxSpecialties)
	}
	sort.Strings(out)
	return out, nil
}
