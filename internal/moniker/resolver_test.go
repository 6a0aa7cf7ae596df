package moniker

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/cometbft/cometbft/crypto"
	"github.com/cometbft/cometbft/crypto/ed25519"
	"github.com/stretchr/testify/assert"
)

func TestRegisterAssignsNamesInOrder(t *testing.T) {
	r := NewResolver([]string{"alpha", "beta"})
	keys := []crypto.PubKey{
		ed25519.GenPrivKey().PubKey(),
		ed25519.GenPrivKey().PubKey(),
		ed25519.GenPrivKey().PubKey(),
	}
	assert.Equal(t, "alpha", r.Register(keys[0]))
	assert.Equal(t, "beta", r.Register(keys[1]))
	assert.Equal(t, "node-3", r.Register(keys[2]))
	assert.Equal(t, "alpha", r.Register(keys[0]), "stable on re-register")

	addr := keys[1].Address().String()
	assert.Equal(t, "beta", r.Resolve(addr))
	assert.Equal(t, "beta", r.Resolve("0x"+strings.ToLower(addr)))
	assert.Empty(t, r.Resolve("DEADBEEF"))
}

func TestAliasAndPubKeyLookup(t *testing.T) {
	r := NewResolver(nil)
	pub := ed25519.GenPrivKey().PubKey()
	name := r.Register(pub)

	node := crypto.AddressHash([]byte("node"))
	r.Alias(node, pub.Address())
	assert.Equal(t, name, r.Resolve(node.String()))

	b64 := base64.StdEncoding.EncodeToString(pub.Bytes())
	assert.Equal(t, name, r.ResolvePubKey(b64))
	assert.Equal(t, name, r.ResolvePubKey(strings.TrimRight(b64, "=")))
	assert.Empty(t, r.ResolvePubKey("AAAA"))
}

func TestNilResolver(t *testing.T) {
	var r *Resolver
	assert.Empty(t, r.Resolve("AB"))
	assert.Empty(t, r.Register(ed25519.GenPrivKey().PubKey()))
	r.Alias(nil, nil)
}
