package oracle

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/cometbft/cometbft/crypto/tmhash"
)

const (
	CommitmentSize = tmhash.Size
	NonceSize      = 32
)

// Commitment binds a hidden vote: H(byte(vote) || nonce).
type Commitment [CommitmentSize]byte

// Nonce is the caller-chosen randomness mixed into a commitment.
type Nonce [NonceSize]byte

// NewNonce draws a nonce from the OS random source.
func NewNonce() (Nonce, error) {
	var n Nonce
	if _, err := rand.Read(n[:]); err != nil {
		return Nonce{}, fmt.Errorf("read nonce: %w", err)
	}
	return n, nil
}

func voteByte(vote bool) byte {
	if vote {
		return 0x01
	}
	return 0x00
}

// NewCommitment computes the commitment for (vote, nonce).
func NewCommitment(vote bool, nonce Nonce) Commitment {
	buf := make([]byte, 0, 1+NonceSize)
	buf = append(buf, voteByte(vote))
	buf = append(buf, nonce[:]...)
	var c Commitment
	copy(c[:], tmhash.Sum(buf))
	return c
}

// Opens reports whether (vote, nonce) is the preimage of c.
func (c Commitment) Opens(vote bool, nonce Nonce) bool {
	h := NewCommitment(vote, nonce)
	return subtle.ConstantTimeCompare(c[:], h[:]) == 1
}

func (c Commitment) String() string { return hex.EncodeToString(c[:]) }

func (c Commitment) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(c[:]))
}

func (c *Commitment) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	bz, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("commitment: %w", err)
	}
	if len(bz) != CommitmentSize {
		return fmt.Errorf("commitment: want %d bytes, got %d", CommitmentSize, len(bz))
	}
	copy(c[:], bz)
	return nil
}

// ParseCommitment decodes a hex commitment.
func ParseCommitment(s string) (Commitment, error) {
	var c Commitment
	bz, err := hex.DecodeString(s)
	if err != nil {
		return c, fmt.Errorf("commitment: %w", err)
	}
	if len(bz) != CommitmentSize {
		return c, fmt.Errorf("commitment: want %d bytes, got %d", CommitmentSize, len(bz))
	}
	copy(c[:], bz)
	return c, nil
}
