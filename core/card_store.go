package core

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// CardStore is the TTL-bounded key/value contract the core requires from the
// shared smart-card cache. The core never assumes durability beyond the TTL
// and never stores raw canonical content through this interface, only ids,
// pointers and small fused-result metadata.
type CardStore interface {
	// Put stores value under key for at most ttl. A zero ttl means the
	// store's default retention.
	Put(key string, value []byte, ttl time.Duration) error

	// Get returns the stored value, or ErrCardNotFound from the concrete
	// store if the key is absent or expired.
	Get(key string) ([]byte, error)

	// Delete removes the key if present. Deleting an absent key is not an error.
	Delete(key string) error
}

// CardRef is the pointer-only record cached after a successful dispatch:
// the task id, fusion metadata and a digest of the fused payload, never the
// payload itself.
type CardRef struct {
	TaskID         string       `json:"task_id"`
	PayloadDigest  string       `json:"payload_digest"`
	AgreementScore float64      `json:"agreement_score"`
	Contributing   []string     `json:"contributing"`
	Flags          []ResultFlag `json:"flags,omitempty"`
	FusedAt        time.Time    `json:"fused_at"`
}

// NewCardRef derives the cacheable reference for a fused result.
func NewCardRef(r FusedResult) CardRef {
	sum := sha256.Sum256(r.Payload)
	return CardRef{
		TaskID:         r.TaskID,
		PayloadDigest:  hex.EncodeToString(sum[:]),
		AgreementScore: r.AgreementScore,
		Contributing:   append([]string(nil), r.Contributing...),
		Flags:          append([]ResultFlag(nil), r.Flags...),
		FusedAt:        time.Now(),
	}
}
