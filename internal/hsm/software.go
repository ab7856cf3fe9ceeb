package hsm

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/glinharesb/hwhash/internal/crypto"
)

// SoftwareHSM emulates a hardware wallet in process. It derives keys from a
// BIP39 seed with BIP32 and implements the keyed-value cipher the way the
// device firmware does, so outputs match a real device holding the same seed.
// Intended for development, tests and the hwhash-device server.
type SoftwareHSM struct {
	mu        sync.Mutex
	source    SeedSource
	prompter  PinPrompter
	confirmer Confirmer
	label     string
	deviceID  string
	logger    *slog.Logger

	master *hdkeychain.ExtendedKey
}

// SoftwareOption configures a SoftwareHSM.
type SoftwareOption func(*SoftwareHSM)

// WithConfirmer sets the confirmation buttons. Defaults to AutoConfirm.
func WithConfirmer(c Confirmer) SoftwareOption {
	return func(s *SoftwareHSM) { s.confirmer = c }
}

// WithPinPrompter sets how the PIN is collected for PIN-protected seeds.
func WithPinPrompter(p PinPrompter) SoftwareOption {
	return func(s *SoftwareHSM) { s.prompter = p }
}

// WithLabel sets the device label reported by Features.
func WithLabel(label string) SoftwareOption {
	return func(s *SoftwareHSM) { s.label = label }
}

// WithDeviceID sets the device ID reported by Features.
func WithDeviceID(id string) SoftwareOption {
	return func(s *SoftwareHSM) { s.deviceID = id }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) SoftwareOption {
	return func(s *SoftwareHSM) { s.logger = l }
}

func NewSoftwareHSM(source SeedSource, opts ...SoftwareOption) *SoftwareHSM {
	s := &SoftwareHSM{
		source:    source,
		confirmer: AutoConfirm,
		label:     "software",
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

func (s *SoftwareHSM) Features(ctx context.Context) (Features, error) {
	if err := ctx.Err(); err != nil {
		return Features{}, fmt.Errorf("%w: %v", ErrDeviceIO, err)
	}
	return Features{
		Vendor:        "hwhash",
		Model:         "software",
		DeviceID:      s.deviceID,
		Label:         s.label,
		Initialized:   s.source != nil,
		PinProtection: s.source != nil && s.source.PinProtected(),
	}, nil
}

func (s *SoftwareHSM) DeriveAddress(ctx context.Context, path Path) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrDeviceIO, err)
	}

	node, err := s.node(ctx, path)
	if err != nil {
		return "", err
	}
	pub, err := node.ECPubKey()
	if err != nil {
		return "", fmt.Errorf("public key at %s: %w", path, err)
	}
	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(pub.SerializeCompressed()), &chaincfg.MainNetParams)
	if err != nil {
		return "", fmt.Errorf("address at %s: %w", path, err)
	}
	return addr.EncodeAddress(), nil
}

func (s *SoftwareHSM) EncryptKeyedValue(ctx context.Context, req KeyedValueRequest) ([]byte, error) {
	return s.cipherKeyValue(ctx, req, true)
}

// DecryptKeyedValue reverses EncryptKeyedValue for identical request parameters.
func (s *SoftwareHSM) DecryptKeyedValue(ctx context.Context, req KeyedValueRequest) ([]byte, error) {
	return s.cipherKeyValue(ctx, req, false)
}

func (s *SoftwareHSM) cipherKeyValue(ctx context.Context, req KeyedValueRequest, encrypt bool) ([]byte, error) {
	if req.Key == "" {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidRequest)
	}
	if len(req.Value) == 0 || len(req.Value)%16 != 0 {
		return nil, fmt.Errorf("%w: value length %d is not a multiple of 16", ErrInvalidRequest, len(req.Value))
	}
	if len(req.IV) != 0 && len(req.IV) != 16 {
		return nil, fmt.Errorf("%w: iv length %d", ErrInvalidRequest, len(req.IV))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceIO, err)
	}

	node, err := s.node(ctx, req.Node)
	if err != nil {
		return nil, err
	}

	if (encrypt && req.AskOnEncrypt) || (!encrypt && req.AskOnDecrypt) {
		verb := "Decrypt"
		if encrypt {
			verb = "Encrypt"
		}
		ok, err := s.confirmer.Confirm(ctx, verb+" value of this key?\n"+req.Key)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDeviceIO, err)
		}
		if !ok {
			s.logger.Debug("keyed value declined on device", "node", req.Node.String())
			return nil, ErrUserCancelled
		}
	}

	priv, err := nodeKey(node)
	if err != nil {
		return nil, err
	}
	keyBytes := priv.Serialize()
	defer zero(keyBytes)

	// The confirmation flags are part of the derivation input, so toggling
	// them selects a different key.
	data := req.Key + flag("E", req.AskOnEncrypt) + flag("D", req.AskOnDecrypt)
	mac := hmac.New(sha512.New, keyBytes)
	mac.Write([]byte(data))
	material := mac.Sum(nil)
	defer zero(material)

	iv := material[32:48]
	if len(req.IV) == 16 {
		iv = req.IV
	}

	if encrypt {
		out, err := crypto.EncryptAESCBC(material[:32], iv, req.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		return out, nil
	}
	out, err := crypto.DecryptAESCBC(material[:32], iv, req.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return out, nil
}

// node unlocks the seed on first use and derives the extended key at path.
// Callers hold s.mu.
func (s *SoftwareHSM) node(ctx context.Context, path Path) (*hdkeychain.ExtendedKey, error) {
	if s.master == nil {
		if err := s.unlock(ctx); err != nil {
			return nil, err
		}
	}

	k := s.master
	for _, idx := range path {
		child, err := k.Derive(idx)
		if err != nil {
			return nil, fmt.Errorf("derive %s: %w", path, err)
		}
		k = child
	}
	return k, nil
}

func (s *SoftwareHSM) unlock(ctx context.Context) error {
	if s.source == nil {
		return fmt.Errorf("%w: device not initialized", ErrDeviceIO)
	}

	var pin string
	if s.source.PinProtected() {
		if s.prompter == nil {
			return fmt.Errorf("%w: no PIN entry available", ErrInvalidPin)
		}
		p, err := s.prompter.PIN(ctx)
		if err != nil {
			if errors.Is(err, ErrUserCancelled) {
				return err
			}
			return fmt.Errorf("%w: read pin: %v", ErrDeviceIO, err)
		}
		pin = p
	}

	seed, err := s.source.Unseal(pin)
	if err != nil {
		s.logger.Warn("device unlock failed", "device_id", s.deviceID, "error", err)
		return err
	}
	defer zero(seed)

	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return fmt.Errorf("master key: %w", err)
	}
	s.master = master
	s.logger.Debug("device unlocked", "device_id", s.deviceID)
	return nil
}

// Lock forgets the unlocked master key; the next request prompts for the PIN again.
func (s *SoftwareHSM) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.master = nil
}

func nodeKey(node *hdkeychain.ExtendedKey) (*btcec.PrivateKey, error) {
	priv, err := node.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("node private key: %w", err)
	}
	return priv, nil
}

func flag(prefix string, on bool) string {
	if on {
		return prefix + "1"
	}
	return prefix + "0"
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
