// Package wire encodes the device messages exchanged with a hardware wallet.
// Field numbers follow the Trezor protobuf schema so captures stay readable
// with the vendor's tooling; encoding is done with protowire directly.
package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Message is a device message with a protobuf wire encoding.
type Message interface {
	MarshalWire() ([]byte, error)
	UnmarshalWire(b []byte) error
}

// GetFeatures asks the device to describe itself.
type GetFeatures struct{}

func (m *GetFeatures) MarshalWire() ([]byte, error) { return nil, nil }

func (m *GetFeatures) UnmarshalWire(b []byte) error {
	return walk(b, func(protowire.Number, protowire.Type, []byte) (int, error) { return -1, nil })
}

// Features describes a device.
type Features struct {
	Vendor        string // 1
	DeviceID      string // 6
	PinProtection bool   // 7
	Label         string // 10
	Initialized   bool   // 12
	Model         string // 21
}

func (m *Features) MarshalWire() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.Vendor)
	b = appendString(b, 6, m.DeviceID)
	b = appendBool(b, 7, m.PinProtection)
	b = appendString(b, 10, m.Label)
	b = appendBool(b, 12, m.Initialized)
	b = appendString(b, 21, m.Model)
	return b, nil
}

func (m *Features) UnmarshalWire(b []byte) error {
	*m = Features{}
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, &m.Vendor)
		case 6:
			return consumeString(typ, b, &m.DeviceID)
		case 7:
			return consumeBool(typ, b, &m.PinProtection)
		case 10:
			return consumeString(typ, b, &m.Label)
		case 12:
			return consumeBool(typ, b, &m.Initialized)
		case 21:
			return consumeString(typ, b, &m.Model)
		}
		return -1, nil
	})
}

// GetAddress requests the address at a BIP32 path.
type GetAddress struct {
	AddressN    []uint32 // 1
	CoinName    string   // 2
	ShowDisplay bool     // 3
}

func (m *GetAddress) MarshalWire() ([]byte, error) {
	var b []byte
	b = appendUint32s(b, 1, m.AddressN)
	b = appendString(b, 2, m.CoinName)
	b = appendBool(b, 3, m.ShowDisplay)
	return b, nil
}

func (m *GetAddress) UnmarshalWire(b []byte) error {
	*m = GetAddress{}
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeUint32s(typ, b, &m.AddressN)
		case 2:
			return consumeString(typ, b, &m.CoinName)
		case 3:
			return consumeBool(typ, b, &m.ShowDisplay)
		}
		return -1, nil
	})
}

// Address is the reply to GetAddress.
type Address struct {
	Address string // 1
}

func (m *Address) MarshalWire() ([]byte, error) {
	if m.Address == "" {
		return nil, fmt.Errorf("address: required field missing")
	}
	return appendString(nil, 1, m.Address), nil
}

func (m *Address) UnmarshalWire(b []byte) error {
	*m = Address{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			return consumeString(typ, b, &m.Address)
		}
		return -1, nil
	})
	if err != nil {
		return err
	}
	if m.Address == "" {
		return fmt.Errorf("address: required field missing")
	}
	return nil
}

// CipherKeyValue asks the device to encrypt or decrypt a value with a key
// derived from the node path, the key string and the confirmation flags.
type CipherKeyValue struct {
	AddressN     []uint32 // 1
	Key          string   // 2
	Value        []byte   // 3
	Encrypt      bool     // 4
	AskOnEncrypt bool     // 5
	AskOnDecrypt bool     // 6
	IV           []byte   // 7
}

func (m *CipherKeyValue) MarshalWire() ([]byte, error) {
	var b []byte
	b = appendUint32s(b, 1, m.AddressN)
	b = appendString(b, 2, m.Key)
	b = appendBytes(b, 3, m.Value)
	b = appendBool(b, 4, m.Encrypt)
	b = appendBool(b, 5, m.AskOnEncrypt)
	b = appendBool(b, 6, m.AskOnDecrypt)
	b = appendBytes(b, 7, m.IV)
	return b, nil
}

func (m *CipherKeyValue) UnmarshalWire(b []byte) error {
	*m = CipherKeyValue{}
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeUint32s(typ, b, &m.AddressN)
		case 2:
			return consumeString(typ, b, &m.Key)
		case 3:
			return consumeBytes(typ, b, &m.Value)
		case 4:
			return consumeBool(typ, b, &m.Encrypt)
		case 5:
			return consumeBool(typ, b, &m.AskOnEncrypt)
		case 6:
			return consumeBool(typ, b, &m.AskOnDecrypt)
		case 7:
			return consumeBytes(typ, b, &m.IV)
		}
		return -1, nil
	})
}

// CipheredKeyValue is the reply to CipherKeyValue.
type CipheredKeyValue struct {
	Value []byte // 1
}

func (m *CipheredKeyValue) MarshalWire() ([]byte, error) {
	return appendBytes(nil, 1, m.Value), nil
}

func (m *CipheredKeyValue) UnmarshalWire(b []byte) error {
	*m = CipheredKeyValue{}
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			return consumeBytes(typ, b, &m.Value)
		}
		return -1, nil
	})
}
