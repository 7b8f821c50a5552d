package wire

import (
	"fmt"
	"math"
)

// KeyUsage is the host identifier of a key capability tag.
type KeyUsage uint8

const (
	UsageEncrypt    KeyUsage = 0
	UsageDecrypt    KeyUsage = 1
	UsageSign       KeyUsage = 2
	UsageVerify     KeyUsage = 3
	UsageDeriveKey  KeyUsage = 4
	UsageDeriveBits KeyUsage = 5
	UsageWrapKey    KeyUsage = 6
	UsageUnwrapKey  KeyUsage = 7

	// UsageUnknown is sent for unrecognized tags; the host rejects it.
	UsageUnknown KeyUsage = math.MaxUint8
)

var usageByName = map[string]KeyUsage{
	"encrypt":     UsageEncrypt,
	"decrypt":     UsageDecrypt,
	"sign":        UsageSign,
	"verify":      UsageVerify,
	"derive_key":  UsageDeriveKey,
	"derive_bits": UsageDeriveBits,
	"wrap_key":    UsageWrapKey,
	"unwrap_key":  UsageUnwrapKey,
}

var usageNames = map[KeyUsage]string{
	UsageEncrypt:    "encrypt",
	UsageDecrypt:    "decrypt",
	UsageSign:       "sign",
	UsageVerify:     "verify",
	UsageDeriveKey:  "derive_key",
	UsageDeriveBits: "derive_bits",
	UsageWrapKey:    "wrap_key",
	UsageUnwrapKey:  "unwrap_key",
}

// ParseKeyUsage maps a capability tag to its identifier. Unrecognized tags
// map to UsageUnknown.
func ParseKeyUsage(name string) KeyUsage {
	if u, ok := usageByName[name]; ok {
		return u
	}
	return UsageUnknown
}

// String returns the capability tag.
func (u KeyUsage) String() string {
	if name, ok := usageNames[u]; ok {
		return name
	}
	return "unknown"
}

// UsageIDs maps capability tags to their host identifiers, preserving order.
func UsageIDs(names []string) []uint8 {
	ids := make([]uint8, 0, len(names))
	for _, name := range names {
		ids = append(ids, uint8(ParseKeyUsage(name)))
	}
	return ids
}

// UsageNames maps host identifiers back to capability tags. It fails on
// UsageUnknown or any undeclared identifier.
func UsageNames(ids []uint8) ([]string, error) {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		name, ok := usageNames[KeyUsage(id)]
		if !ok {
			return nil, fmt.Errorf("unknown key usage id %d", id)
		}
		names = append(names, name)
	}
	return names, nil
}
