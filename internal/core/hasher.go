package core

import (
	"crypto/sha256"
	"encoding/binary"
)

const GenesisHashSeed = "PredictLedger:genesis:v1"

// hashChain links every applied command to the one before it:
//
//	hash[N] = SHA-256(hash[N-1] || N || commandType || digest[N])
//
// The command type is length-prefixed so two types can never collide with
// a digest boundary.
type hashChain struct {
	tip [32]byte
}

func newHashChain() *hashChain {
	return &hashChain{tip: sha256.Sum256([]byte(GenesisHashSeed))}
}

// Extend moves the tip forward and returns the new hash.
func (c *hashChain) Extend(sequence int64, commandType string, digest []byte) [32]byte {
	h := sha256.New()
	h.Write(c.tip[:])

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(sequence))
	h.Write(buf[:])
	binary.BigEndian.PutUint32(buf[:4], uint32(len(commandType)))
	h.Write(buf[:4])
	h.Write([]byte(commandType))
	h.Write(digest)

	h.Sum(c.tip[:0])
	return c.tip
}

func (c *hashChain) Tip() [32]byte {
	return c.tip
}

// Reset moves the tip, e.g. to the hash stored with a snapshot.
func (c *hashChain) Reset(tip [32]byte) {
	c.tip = tip
}
