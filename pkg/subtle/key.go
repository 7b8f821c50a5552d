package subtle

import (
	"fmt"
	"strings"
)

// CryptoKey is the uniform handle for any key material known to the host.
//
// A key is Ephemeral until SaveKey attaches an alias, then Persisted.
// DeleteKey destroys a persisted key host-side. CryptoKey values are
// immutable: operations that change the lifecycle state return a new value.
type CryptoKey struct {
	// ID is the host-assigned or caller-chosen handle. Never empty for a
	// materialized key.
	ID string `json:"id"`

	// Alias is the persisted name, present only after a successful save.
	Alias *string `json:"alias"`

	// Type is "secret", "private" or "public".
	Type string `json:"type"`

	Extractable bool     `json:"extractable"`
	Family      string   `json:"family"`
	Usages      []string `json:"usages"`
	Algorithm   string   `json:"algorithm"`
}

// IsPersisted reports whether the key carries a non-empty alias.
func (k CryptoKey) IsPersisted() bool {
	return k.Alias != nil && *k.Alias != ""
}

// AliasName returns the alias, or "" for an ephemeral key.
func (k CryptoKey) AliasName() string {
	if k.Alias == nil {
		return ""
	}
	return *k.Alias
}

// WithAlias returns a copy of k carrying the given alias.
func (k CryptoKey) WithAlias(alias string) CryptoKey {
	k.Alias = &alias
	k.Usages = append([]string(nil), k.Usages...)
	return k
}

// HasUsage reports whether the key declares the capability tag.
func (k CryptoKey) HasUsage(usage string) bool {
	for _, u := range k.Usages {
		if u == usage {
			return true
		}
	}
	return false
}

func (k CryptoKey) String() string {
	return fmt.Sprintf("CryptoKey: name: %s, algorithm: %s, extractable: %t, usages: %s",
		k.ID, k.Algorithm, k.Extractable, strings.Join(k.Usages, ", "))
}

// VerifySignResult is the outcome of Verify. A signature mismatch is a
// normal result with IsValid false, never an error.
type VerifySignResult struct {
	IsValid bool `json:"is_valid"`
}
