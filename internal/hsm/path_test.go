package hsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePath(t *testing.T) {
	tests := []struct {
		in   string
		want Path
	}{
		{"m/44'/0'/0'/0/999", Path{44 + Hardened, Hardened, Hardened, 0, 999}},
		{"44h/0H/1'", Path{44 + Hardened, Hardened, 1 + Hardened}},
		{"m/1414683218/1212240712", Path{0x54525A52, 0x48415348}},
	}
	for _, tt := range tests {
		got, err := ParsePath(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestParsePathErrors(t *testing.T) {
	for _, in := range []string{"", "m/x", "m/-1", "m/2147483648'", "m/4294967296"} {
		_, err := ParsePath(in)
		assert.Error(t, err, in)
	}
}

func TestPathString(t *testing.T) {
	p := MustParsePath("m/44'/0'/0'/0/0")
	assert.Equal(t, "m/44'/0'/0'/0/0", p.String())
	assert.Equal(t, "m", Path{}.String())
}

func TestPathClone(t *testing.T) {
	p := Path{1, 2}
	c := p.Clone()
	c[0] = 9
	assert.Equal(t, uint32(1), p[0])
	assert.Nil(t, Path(nil).Clone())
}
