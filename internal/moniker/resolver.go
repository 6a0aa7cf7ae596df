package moniker

import (
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"github.com/cometbft/cometbft/crypto"
)

// Resolver maps identity addresses to display names. Names come from the
// configured list in registration order; once it runs out they are
// generated. Node addresses can be aliased to their owner's name.
type Resolver struct {
	mu      sync.RWMutex
	names   []string
	next    int
	cache   map[string]string // hex addr -> moniker
	pubkeys map[string]string // base64 pub key -> moniker
}

func NewResolver(names []string) *Resolver {
	return &Resolver{
		names:   names,
		cache:   map[string]string{},
		pubkeys: map[string]string{},
	}
}

func normalize(addrHex string) string {
	return strings.TrimPrefix(strings.ToUpper(addrHex), "0X")
}

// Register assigns the next moniker to the identity behind pub and returns
// it. Registering the same key twice returns the first name.
func (r *Resolver) Register(pub crypto.PubKey) string {
	if r == nil || pub == nil {
		return ""
	}
	key := base64.StdEncoding.EncodeToString(pub.Bytes())
	addr := normalize(pub.Address().String())

	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.pubkeys[key]; ok {
		return m
	}
	m := fmt.Sprintf("node-%d", r.next+1)
	if r.next < len(r.names) {
		m = r.names[r.next]
	}
	r.next++
	r.pubkeys[key] = m
	r.cache[addr] = m
	return m
}

// Alias makes addr resolve to the moniker of owner.
func (r *Resolver) Alias(addr, owner crypto.Address) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.cache[normalize(owner.String())]; ok {
		r.cache[normalize(addr.String())] = m
	}
}

func (r *Resolver) Resolve(addrHex string) string {
	if r == nil || addrHex == "" {
		return ""
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cache[normalize(addrHex)]
}

// ResolvePubKey looks a moniker up by base64 public key.
func (r *Resolver) ResolvePubKey(pubKey string) string {
	if r == nil || pubKey == "" {
		return ""
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.pubkeys[pubKey]; ok {
		return m
	}
	for k, m := range r.pubkeys {
		if matchPubKey(pubKey, k) {
			return m
		}
	}
	return ""
}

// matchPubKey compares two base64 keys, tolerating padding differences
func matchPubKey(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	aBytes, err1 := base64.RawStdEncoding.DecodeString(strings.TrimRight(a, "="))
	bBytes, err2 := base64.RawStdEncoding.DecodeString(strings.TrimRight(b, "="))
	if err1 == nil && err2 == nil {
		return string(aBytes) == string(bBytes)
	}
	return false
}
