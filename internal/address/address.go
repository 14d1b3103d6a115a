// Package address derives deterministic, collision-free record addresses
// from a namespace tag and key fields.
//
// An address is BLAKE2b-256 over the length-prefixed namespace followed by
// each length-prefixed key, so ("ab","c") and ("a","bc") never collide.
package address

import (
	"encoding/binary"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Record namespaces.
const (
	NamespaceConfig      = "game"
	NamespaceRound       = "round"
	NamespaceParticipant = "player"
)

// Address is a 32-byte record address.
type Address [blake2b.Size256]byte

func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// Derive maps (namespace, keys...) to an address.
func Derive(namespace string, keys ...[]byte) Address {
	h, _ := blake2b.New256(nil) // only errors for oversized keys
	writeField(h, []byte(namespace))
	for _, k := range keys {
		writeField(h, k)
	}
	var a Address
	copy(a[:], h.Sum(nil))
	return a
}

type writer interface {
	Write(p []byte) (int, error)
}

func writeField(w writer, b []byte) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(b)))
	w.Write(n[:])
	w.Write(b)
}

// Config is the address of the protocol singleton.
func Config() Address {
	return Derive(NamespaceConfig)
}

// Round is the address of the round with the given id (little-endian key).
func Round(id uint64) Address {
	var k [8]byte
	binary.LittleEndian.PutUint64(k[:], id)
	return Derive(NamespaceRound, k[:])
}

// Participant is the address of owner's ledger record.
func Participant(owner string) Address {
	return Derive(NamespaceParticipant, []byte(owner))
}
