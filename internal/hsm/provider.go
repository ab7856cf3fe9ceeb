package hsm

import (
	"context"
	"errors"
)

var (
	// ErrInvalidPin is returned when the device rejects the operator PIN.
	ErrInvalidPin = errors.New("invalid PIN")
	// ErrUserCancelled is returned when the operator declines a confirmation on the device.
	ErrUserCancelled = errors.New("cancelled on device")
	// ErrDeviceIO is returned for transport-level failures (disconnect, timeout).
	ErrDeviceIO = errors.New("device I/O error")
	// ErrInvalidRequest is returned when the device refuses malformed parameters.
	ErrInvalidRequest = errors.New("invalid device request")
)

// KeyedValueRequest holds the parameters of a keyed-value cipher operation.
// Every field takes part in the device's key derivation or cipher input, so
// changing any of them changes the ciphertext.
type KeyedValueRequest struct {
	Node         Path
	Key          string
	Value        []byte
	IV           []byte
	AskOnEncrypt bool
	AskOnDecrypt bool
}

// Provider abstracts a hardware security module holding an HD wallet seed.
// Private key material never crosses this interface; callers only see public
// addresses and ciphertext.
//
// Implementations are not required to be safe for concurrent use: a device is
// a serial resource and callers must not issue overlapping requests.
type Provider interface {
	// DeriveAddress returns the P2PKH address at the given BIP32 path.
	DeriveAddress(ctx context.Context, path Path) (string, error)
	// EncryptKeyedValue encrypts req.Value with a key derived inside the
	// device from req.Node, req.Key and the confirmation flags. It may block
	// until the operator confirms on the device.
	EncryptKeyedValue(ctx context.Context, req KeyedValueRequest) ([]byte, error)
}

// Features describes a connected device.
type Features struct {
	Vendor        string
	Model         string
	DeviceID      string
	Label         string
	Initialized   bool
	PinProtection bool
}

// Describer is implemented by providers that can report device features.
type Describer interface {
	Features(ctx context.Context) (Features, error)
}
