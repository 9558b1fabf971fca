package common

import (
	"fmt"

	"github.com/google/uuid"
)

// CapabilityKind identifies which privileged surface a token unlocks.
type CapabilityKind uint8

const (
	CapabilityRegistryAdmin CapabilityKind = iota + 1
	CapabilityReputationAdmin
	CapabilityDisputeResolver
)

func (k CapabilityKind) String() string {
	switch k {
	case CapabilityRegistryAdmin:
		return "registry-admin"
	case CapabilityReputationAdmin:
		return "reputation-admin"
	case CapabilityDisputeResolver:
		return "dispute-resolver"
	default:
		return fmt.Sprintf("capability(%d)", uint8(k))
	}
}

// Capability is an unforgeable credential. Its fields are unexported so a
// token can only be obtained from MintCapabilities and passed by reference.
type Capability struct {
	kind CapabilityKind
	id   uuid.UUID
}

// Kind reports the capability kind.
func (c *Capability) Kind() CapabilityKind {
	if c == nil {
		return 0
	}
	return c.kind
}

// ID returns the token identity. It is safe to log.
func (c *Capability) ID() string {
	if c == nil {
		return ""
	}
	return c.id.String()
}

// Capabilities bundles the three admin tokens minted at initialisation.
type Capabilities struct {
	RegistryAdmin   *Capability
	ReputationAdmin *Capability
	DisputeResolver *Capability
}

// MintCapabilities creates a fresh, distinct token of every kind. A node calls
// it exactly once during construction and hands each engine the token it must
// demand; tokens minted by another call are rejected by that node's engines.
func MintCapabilities() *Capabilities {
	return &Capabilities{
		RegistryAdmin:   &Capability{kind: CapabilityRegistryAdmin, id: uuid.New()},
		ReputationAdmin: &Capability{kind: CapabilityReputationAdmin, id: uuid.New()},
		DisputeResolver: &Capability{kind: CapabilityDisputeResolver, id: uuid.New()},
	}
}

// Authorize verifies presented is the expected token of the given kind.
func Authorize(expected, presented *Capability, kind CapabilityKind) error {
	if expected == nil || expected.kind != kind {
		return fmt.Errorf("%w: %s capability not configured", ErrUnauthorized, kind)
	}
	if presented == nil {
		return fmt.Errorf("%w: %s capability required", ErrUnauthorized, kind)
	}
	if presented.kind != kind {
		return fmt.Errorf("%w: wrong capability %s, want %s", ErrUnauthorized, presented.kind, kind)
	}
	if presented.id != expected.id {
		return fmt.Errorf("%w: unrecognised %s capability", ErrUnauthorized, kind)
	}
	return nil
}
