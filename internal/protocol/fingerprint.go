package protocol

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Fingerprint derives the flood-suppression key for a request.
//
// Content-bearing operations hash the payload, so the same event double-tapped
// from one app collapses while distinct events from the same app do not.
// Identity lookups have no content; caller+operation is the whole identity of
// the request.
func Fingerprint(req Request) string {
	h := blake3.New()
	_, _ = h.Write([]byte(req.Operation))
	_, _ = h.Write([]byte{0})
	if req.Operation == OpGetPublicKey {
		_, _ = h.Write([]byte(req.Caller))
	} else {
		sum := blake3.Sum256([]byte(req.Payload))
		_, _ = h.Write(sum[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}
