package internal

import "crypto/sha256"

// HashBindingValue fingerprints a client attribute such as the user agent.
// The empty string hashes to the zero value so unbound sessions stay
// distinguishable from bound ones.
func HashBindingValue(v string) [32]byte {
	if v == "" {
		return [32]byte{}
	}
	return sha256.Sum256([]byte(v))
}
