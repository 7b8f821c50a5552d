package keys

import "github.com/remiblancher/hostcrypto/pkg/subtle"

// Digest hashes data with the named hash (sha-256, sha3-512, sha1, ...)
// through the host.
func Digest(client *subtle.Client, hash string, data []byte) ([]byte, error) {
	return client.Digest(hash, data)
}
