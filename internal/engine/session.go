package engine

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"

	"github.com/glinharesb/hwhash/internal/hsm"
)

// IVSize is the length of the session IV in bytes.
const IVSize = 16

const (
	referencePath   = "m/44'/0'/0'/0/0"
	hashAddressPath = "m/44'/0'/0'/0/999"
)

// ReferencePath is the path of the wallet's first receive address. It is only
// derived so the operator can recognise the wallet; it never feeds the IV.
func ReferencePath() hsm.Path { return hsm.MustParsePath(referencePath) }

// HashAddressPath is the path of the address the IV is derived from. Index 999
// keeps it away from addresses used for payments.
func HashAddressPath() hsm.Path { return hsm.MustParsePath(hashAddressPath) }

// HashNode is the node path scoping the device key used for hash encryption:
// the big-endian words of "TRZR" and "HASH".
func HashNode() hsm.Path {
	return hsm.Path{
		binary.BigEndian.Uint32([]byte("TRZR")),
		binary.BigEndian.Uint32([]byte("HASH")),
	}
}

// Session is the per-device state derived once by InitializeSession.
// It is immutable and safe to share between goroutines.
type Session struct {
	address string
	iv      [IVSize]byte
}

// Address returns the wallet address the IV was derived from.
func (s *Session) Address() string { return s.address }

// IV returns a copy of the 16-byte initialization vector.
func (s *Session) IV() []byte {
	iv := make([]byte, IVSize)
	copy(iv, s.iv[:])
	return iv
}

// DeriveIV computes the session IV as the raw MD5 digest of the UTF-8 address.
func DeriveIV(address string) ([]byte, error) {
	return deriveIV(md5Sum, address)
}

func deriveIV(digest func([]byte) []byte, address string) ([]byte, error) {
	iv := digest([]byte(address))
	if len(iv) != IVSize {
		return nil, fmt.Errorf("%w: iv is %d bytes, want %d", ErrInvariantViolation, len(iv), IVSize)
	}
	return iv, nil
}

func md5Sum(b []byte) []byte {
	sum := md5.Sum(b)
	return sum[:]
}
