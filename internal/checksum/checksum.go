// Package checksum fingerprints webhook payloads so redeliveries can be
// recognised.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// secretField is excluded from payload fingerprints.
const secretField = "token"

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Payload fingerprints a JSON webhook body independently of key order and
// whitespace, leaving out the shared secret. Bodies that are not JSON
// objects are hashed as-is.
func Payload(body []byte) string {
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return Sum(body)
	}
	delete(obj, secretField)
	// encoding/json writes map keys in sorted order.
	canonical, err := json.Marshal(obj)
	if err != nil {
		return Sum(body)
	}
	return Sum(canonical)
}
