package models

import "slices"

// ClaimStatus records whether a claim value has been proven to belong to the
// identity, for example by following an emailed verification link.
type ClaimStatus string

const (
	ClaimUnverified ClaimStatus = "unverified"
	ClaimVerified   ClaimStatus = "verified"
)

// Well-known claim names used by the identity service.
const (
	ClaimEmail    = "email"
	ClaimUsername = "username"
)

// Claim is a named attribute of an identity with a verification status.
type Claim struct {
	Name   string      `json:"name"`
	Value  string      `json:"value"`
	Status ClaimStatus `json:"status"`
}

// Identification is the per-request identity fact produced by the identity
// service and consumed by downstream request handling.
//
// A non-empty Purposes list marks a restricted credential: the
// authentication may only be used for the actions it lists.
type Identification struct {
	// Identity is the identity identifier, empty when unknown.
	Identity string

	// IsAnonymous is true when the caller has no identity at all. The
	// combination IsAnonymous=false with an empty Identity is the
	// unresolved state that triggers session renewal.
	IsAnonymous bool

	// Status is the outcome of the authentication attempt that produced
	// this session state. It distinguishes a visitor whose credentials
	// were rejected (AuthNotFound) from one who never attempted to sign
	// in; both are anonymous. Empty for an unresolved session.
	Status AuthStatus

	Purposes []string
	Claims   []Claim
}

// NeedsRenewal reports whether the identification is in the ambiguous
// "signed in but session expired" state that requires the remember-me
// renewal round trip.
func (id *Identification) NeedsRenewal() bool {
	return !id.IsAnonymous && id.Identity == ""
}

// AllowsPurpose reports whether the identification may be used for the named
// action. An unrestricted credential (no purposes) allows everything.
func (id *Identification) AllowsPurpose(action string) bool {
	if len(id.Purposes) == 0 {
		return true
	}
	return slices.Contains(id.Purposes, action)
}

// Claim returns the named claim, or a zero Claim if absent.
func (id *Identification) Claim(name string) (Claim, bool) {
	for _, c := range id.Claims {
		if c.Name == name {
			return c, true
		}
	}
	return Claim{}, false
}
