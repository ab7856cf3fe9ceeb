// Package engine turns text into a deterministic digest that depends on a
// secret held by a hardware wallet.
//
// A Session is initialized once per device from two address derivations. Each
// ComputeHash call then hashes the input with SHA-256, has the device encrypt
// the hash under a key that never leaves it, hashes the ciphertext again and
// returns it as 64 lowercase hex characters. Changing any constant in this
// package changes every digest ever produced.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/glinharesb/hwhash/internal/hsm"
)

// KeyLabel is the key string passed to the device. It is shown on the device
// screen and mixed into the device's key derivation; the inner spacing is part
// of the protocol.
const KeyLabel = "Allow  HASH      encryption?"

// DigestSize is the size of the SHA-256 digests and the device ciphertext.
const DigestSize = sha256.Size

var (
	// ErrInvariantViolation reports an internal consistency failure. It is fatal.
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrInvalidInput is returned for input text that is not valid UTF-8.
	ErrInvalidInput = errors.New("input is not valid UTF-8")
)

// Protocol selects the output finalization.
type Protocol int

const (
	// ProtocolV1 hex-encodes the device ciphertext directly.
	ProtocolV1 Protocol = iota + 1
	// ProtocolV2 hashes the ciphertext with SHA-256 before encoding.
	ProtocolV2
)

func (p Protocol) String() string {
	switch p {
	case ProtocolV1:
		return "v1"
	case ProtocolV2:
		return "v2"
	default:
		return "unknown"
	}
}

// ParseProtocol parses "v1" or "v2".
func ParseProtocol(s string) (Protocol, error) {
	switch s {
	case "v1", "1":
		return ProtocolV1, nil
	case "v2", "2", "":
		return ProtocolV2, nil
	}
	return 0, fmt.Errorf("unknown protocol %q (want v1 or v2)", s)
}

// Engine computes digests against one device. Calls are serialized: the
// device never sees two overlapping requests from the same Engine.
type Engine struct {
	mu       sync.Mutex
	dev      hsm.Provider
	protocol Protocol
	newHash  func() hash.Hash
	ivDigest func([]byte) []byte
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithProtocol selects the protocol version. Defaults to ProtocolV2.
func WithProtocol(p Protocol) Option {
	return func(e *Engine) { e.protocol = p }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithHash replaces the SHA-256 constructor used for both hashing steps.
func WithHash(newHash func() hash.Hash) Option {
	return func(e *Engine) { e.newHash = newHash }
}

// WithIVDigest replaces the MD5 digest used to derive the session IV.
func WithIVDigest(digest func([]byte) []byte) Option {
	return func(e *Engine) { e.ivDigest = digest }
}

// New returns an Engine that borrows dev. The caller keeps ownership of the
// device connection and must not use it concurrently from elsewhere.
func New(dev hsm.Provider, opts ...Option) *Engine {
	e := &Engine{
		dev:      dev,
		protocol: ProtocolV2,
		newHash:  sha256.New,
		ivDigest: md5Sum,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Protocol reports the protocol version in use.
func (e *Engine) Protocol() Protocol { return e.protocol }

// InitializeSession derives the session address and IV from the device.
func (e *Engine) InitializeSession(ctx context.Context) (*Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ref, err := e.dev.DeriveAddress(ctx, ReferencePath())
	if err != nil {
		return nil, fmt.Errorf("derive reference address: %w", err)
	}
	e.logger.Debug("wallet reference address", "path", referencePath, "address", ref)

	addr, err := e.dev.DeriveAddress(ctx, HashAddressPath())
	if err != nil {
		return nil, fmt.Errorf("derive hash address: %w", err)
	}

	iv, err := deriveIV(e.ivDigest, addr)
	if err != nil {
		e.logger.Error("session iv rejected", "error", err)
		return nil, err
	}

	s := &Session{address: addr}
	copy(s.iv[:], iv)
	return s, nil
}

// InitializeSession is a shorthand for New(dev).InitializeSession(ctx).
func InitializeSession(ctx context.Context, dev hsm.Provider) (*Session, error) {
	return New(dev).InitializeSession(ctx)
}

// ComputeHash returns the 64-character hex digest of input. askOnEncrypt
// selects whether the device asks for confirmation; it is part of the key
// derivation, so the two settings produce unrelated digests.
//
// The device call may block until the operator presses a button. Errors from
// the device are returned wrapped and can be matched with errors.Is against
// hsm.ErrInvalidPin, hsm.ErrUserCancelled and hsm.ErrDeviceIO.
func (e *Engine) ComputeHash(ctx context.Context, s *Session, input string, askOnEncrypt bool) (string, error) {
	if s == nil {
		return "", fmt.Errorf("%w: nil session", ErrInvariantViolation)
	}
	if !utf8.ValidString(input) {
		return "", ErrInvalidInput
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	binhash, err := e.sum([]byte(input))
	if err != nil {
		return "", err
	}

	binoutput, err := e.dev.EncryptKeyedValue(ctx, hsm.KeyedValueRequest{
		Node:         HashNode(),
		Key:          KeyLabel,
		Value:        binhash,
		IV:           s.IV(),
		AskOnEncrypt: askOnEncrypt,
		AskOnDecrypt: true,
	})
	if err != nil {
		return "", fmt.Errorf("encrypt hash on device: %w", err)
	}
	if len(binoutput) != DigestSize {
		return "", fmt.Errorf("%w: device returned %d bytes, want %d", ErrInvariantViolation, len(binoutput), DigestSize)
	}

	final := binoutput
	if e.protocol != ProtocolV1 {
		if final, err = e.sum(binoutput); err != nil {
			return "", err
		}
	}

	out := hex.EncodeToString(final)
	e.logger.Debug("hash computed", "protocol", e.protocol.String(), "output", Shorten(out))
	return out, nil
}

func (e *Engine) sum(b []byte) ([]byte, error) {
	h := e.newHash()
	h.Write(b)
	sum := h.Sum(nil)
	if len(sum) != DigestSize {
		return nil, fmt.Errorf("%w: digest is %d bytes, want %d", ErrInvariantViolation, len(sum), DigestSize)
	}
	return sum, nil
}

// Shorten abbreviates a digest for display, e.g. "01d...e03".
func Shorten(digest string) string {
	if len(digest) <= 6 {
		return digest
	}
	return digest[:3] + "..." + digest[len(digest)-3:]
}
