package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestCipherKeyValueRoundTrip(t *testing.T) {
	in := &CipherKeyValue{
		AddressN:     []uint32{0x54525A52, 0x48415348},
		Key:          "Allow  HASH      encryption?",
		Value:        make([]byte, 32),
		Encrypt:      true,
		AskOnEncrypt: true,
		AskOnDecrypt: true,
		IV:           []byte("0123456789abcdef"),
	}
	b, err := Codec{}.Marshal(in)
	require.NoError(t, err)

	var out CipherKeyValue
	require.NoError(t, Codec{}.Unmarshal(b, &out))
	assert.Equal(t, in, &out)
}

func TestUnknownFieldsSkipped(t *testing.T) {
	b, err := (&Features{Label: "desk", DeviceID: "abc", Initialized: true}).MarshalWire()
	require.NoError(t, err)
	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendString(b, "future")
	b = protowire.AppendTag(b, 100, protowire.VarintType)
	b = protowire.AppendVarint(b, 7)

	var f Features
	require.NoError(t, f.UnmarshalWire(b))
	assert.Equal(t, Features{Label: "desk", DeviceID: "abc", Initialized: true}, f)
}

func TestPackedAddressN(t *testing.T) {
	var packed []byte
	for _, v := range []uint32{0x8000002C, 0, 999} {
		packed = protowire.AppendVarint(packed, uint64(v))
	}
	b := protowire.AppendTag(nil, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, packed)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, "Bitcoin")

	var m GetAddress
	require.NoError(t, m.UnmarshalWire(b))
	assert.Equal(t, []uint32{0x8000002C, 0, 999}, m.AddressN)
	assert.Equal(t, "Bitcoin", m.CoinName)
}

func TestAddressNOverflow(t *testing.T) {
	b := protowire.AppendTag(nil, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, 1<<33)

	var m GetAddress
	assert.Error(t, m.UnmarshalWire(b))
}

func TestAddressRequired(t *testing.T) {
	_, err := (&Address{}).MarshalWire()
	assert.Error(t, err)

	var a Address
	assert.Error(t, a.UnmarshalWire(nil))

	b, err := (&Address{Address: "1LqBGSKuX5yYUonjxT5qGfpUsXKYYWeabA"}).MarshalWire()
	require.NoError(t, err)
	require.NoError(t, a.UnmarshalWire(b))
	assert.Equal(t, "1LqBGSKuX5yYUonjxT5qGfpUsXKYYWeabA", a.Address)
}

func TestWrongWireType(t *testing.T) {
	b := protowire.AppendTag(nil, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, 1)

	var m CipherKeyValue
	assert.Error(t, m.UnmarshalWire(b))
}

func TestTruncatedMessage(t *testing.T) {
	b, err := (&CipheredKeyValue{Value: make([]byte, 32)}).MarshalWire()
	require.NoError(t, err)

	var m CipheredKeyValue
	assert.Error(t, m.UnmarshalWire(b[:len(b)-1]))
}

func TestCodecRejectsForeignTypes(t *testing.T) {
	_, err := Codec{}.Marshal("nope")
	assert.Error(t, err)
	assert.Error(t, Codec{}.Unmarshal(nil, new(int)))
	assert.Equal(t, CodecName, Codec{}.Name())
}
