package hashing

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/rkohli77/chatbot/internal/ratelimit"
	"github.com/rkohli77/chatbot/internal/util"
)

// digestSize is 128 bits, plenty for counter keys.
const digestSize = 16

// Hasher turns client identities (IPs) into keyed digests so raw addresses
// never reach the counter store.
type Hasher struct {
	key []byte
}

// NewHasher keys the hasher with secret. An empty secret gets a random
// per-process key, which only works for a single replica.
func NewHasher(secret string) (*Hasher, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate identity key: %w", err)
		}
		util.Warn("No identity secret configured, using an ephemeral key")
	}
	if len(key) > blake2b.Size {
		sum := blake2b.Sum256(key)
		key = sum[:]
	}
	return &Hasher{key: key}, nil
}

func (h *Hasher) Hash(identity string) string {
	mac, err := blake2b.New(digestSize, h.key)
	if err != nil {
		// Only reachable with a key longer than 64 bytes, which NewHasher prevents.
		util.Error("failed to create identity hash", zap.Error(err))
		return identity
	}
	mac.Write([]byte(identity))
	return hex.EncodeToString(mac.Sum(nil))
}

// Identity wraps extract so the limiter counts against the digest.
func (h *Hasher) Identity(extract ratelimit.IdentityFunc) ratelimit.IdentityFunc {
	if extract == nil {
		extract = ratelimit.ClientIP
	}
	return func(r *http.Request) string {
		id := extract(r)
		if id == "" {
			return ""
		}
		return h.Hash(id)
	}
}
