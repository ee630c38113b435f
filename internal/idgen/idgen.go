// Package idgen provides cryptographically random ID generation.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// Entity ID prefixes used across the platform.
const (
	PrefixAccount      = "acct_"
	PrefixTransaction  = "txn_"
	PrefixContract     = "ct_"
	PrefixMilestone    = "ms_"
	PrefixProject      = "prj_"
	PrefixProposal     = "prop_"
	PrefixSettings     = "set_"
	PrefixTier         = "tier_"
	PrefixSubscription = "sub_"
	PrefixEvent        = "evt_"
)

// WithPrefix generates a random ID: prefix + 24 hex chars (12 random bytes).
func WithPrefix(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}

// Hex generates a random hex string of the given byte length.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
