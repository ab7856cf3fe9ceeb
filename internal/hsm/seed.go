package hsm

import (
	"context"
	"crypto/sha512"
	"strings"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/text/unicode/norm"
)

// bip39Rounds is the PBKDF2 iteration count fixed by BIP39.
const bip39Rounds = 2048

// SeedSource yields the wallet seed of a software device. Sealed sources
// require the operator PIN and return ErrInvalidPin when it does not match.
type SeedSource interface {
	Unseal(pin string) ([]byte, error)
	PinProtected() bool
}

type staticSeed []byte

// StaticSeed returns a SeedSource without PIN protection.
func StaticSeed(seed []byte) SeedSource {
	return staticSeed(append([]byte(nil), seed...))
}

func (s staticSeed) Unseal(string) ([]byte, error) {
	return append([]byte(nil), s...), nil
}

func (s staticSeed) PinProtected() bool { return false }

// SeedFromMnemonic computes the 64-byte BIP39 seed for a mnemonic sentence and
// optional passphrase. The word list checksum is not validated.
func SeedFromMnemonic(mnemonic, passphrase string) []byte {
	words := strings.Join(strings.Fields(mnemonic), " ")
	password := norm.NFKD.String(words)
	salt := norm.NFKD.String("mnemonic" + passphrase)
	return pbkdf2.Key([]byte(password), []byte(salt), bip39Rounds, 64, sha512.New)
}

// PinPrompter asks the operator for the device PIN.
type PinPrompter interface {
	PIN(ctx context.Context) (string, error)
}

// PinPrompterFunc adapts a function to PinPrompter.
type PinPrompterFunc func(ctx context.Context) (string, error)

func (f PinPrompterFunc) PIN(ctx context.Context) (string, error) { return f(ctx) }

// Confirmer models the physical confirm/cancel buttons of a device.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// ConfirmerFunc adapts a function to Confirmer.
type ConfirmerFunc func(ctx context.Context, prompt string) (bool, error)

func (f ConfirmerFunc) Confirm(ctx context.Context, prompt string) (bool, error) {
	return f(ctx, prompt)
}

var (
	// AutoConfirm approves every prompt.
	AutoConfirm Confirmer = ConfirmerFunc(func(context.Context, string) (bool, error) { return true, nil })
	// DenyAll declines every prompt.
	DenyAll Confirmer = ConfirmerFunc(func(context.Context, string) (bool, error) { return false, nil })
)
