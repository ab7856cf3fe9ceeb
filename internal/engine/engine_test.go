package engine

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glinharesb/hwhash/internal/hsm"
)

var digestPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// recorder collects the pipeline steps observed by the test doubles.
type recorder struct {
	mu    sync.Mutex
	steps []string
}

func (r *recorder) add(step string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, step)
}

func (r *recorder) take() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.steps
	r.steps = nil
	return out
}

// fakeHSM derives a constant address and encrypts with a caller-supplied function.
type fakeHSM struct {
	rec        *recorder
	address    func(hsm.Path) string
	encrypt    func(hsm.KeyedValueRequest) ([]byte, error)
	addressErr error
	requests   []hsm.KeyedValueRequest
}

func (f *fakeHSM) DeriveAddress(_ context.Context, path hsm.Path) (string, error) {
	if f.rec != nil {
		f.rec.add("address " + path.String())
	}
	if f.addressErr != nil {
		return "", f.addressErr
	}
	if f.address != nil {
		return f.address(path), nil
	}
	return "ADDR", nil
}

func (f *fakeHSM) EncryptKeyedValue(_ context.Context, req hsm.KeyedValueRequest) ([]byte, error) {
	if f.rec != nil {
		f.rec.add("encrypt")
	}
	f.requests = append(f.requests, req)
	if f.encrypt != nil {
		return f.encrypt(req)
	}
	return append([]byte(nil), req.Value...), nil
}

// flagCipher mixes the confirmation flags into the output like the device does.
func flagCipher(req hsm.KeyedValueRequest) ([]byte, error) {
	h := sha256.New()
	h.Write(req.Value)
	h.Write(req.IV)
	fmt.Fprintf(h, "%s|%t|%t", req.Key, req.AskOnEncrypt, req.AskOnDecrypt)
	return h.Sum(nil), nil
}

type recordingHash struct {
	hash.Hash
	rec *recorder
}

func (h recordingHash) Sum(b []byte) []byte {
	h.rec.add("sha256")
	return h.Hash.Sum(b)
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func newSession(t *testing.T, e *Engine) *Session {
	t.Helper()
	s, err := e.InitializeSession(context.Background())
	require.NoError(t, err)
	return s
}

func TestInitializeSessionDerivesIVFromIndex999(t *testing.T) {
	dev := &fakeHSM{address: func(p hsm.Path) string { return "addr-" + p.String() }}
	s := newSession(t, New(dev))

	assert.Equal(t, "addr-m/44'/0'/0'/0/999", s.Address())
	want := md5.Sum([]byte("addr-m/44'/0'/0'/0/999"))
	assert.Equal(t, want[:], s.IV())
	assert.Len(t, s.IV(), IVSize)
}

func TestSessionIVIsCopied(t *testing.T) {
	s := newSession(t, New(&fakeHSM{}))
	iv := s.IV()
	iv[0] ^= 0xFF
	assert.NotEqual(t, iv, s.IV())
}

func TestComputeHashIdentityCipherScenario(t *testing.T) {
	e := New(&fakeHSM{})
	s := newSession(t, e)

	got, err := e.ComputeHash(context.Background(), s, "a", true)
	require.NoError(t, err)

	// hash, identity encrypt, hash
	h1 := sha256.Sum256([]byte("a"))
	h2 := sha256.Sum256(h1[:])
	assert.Equal(t, hex.EncodeToString(h2[:]), got)
}

func TestComputeHashLegacyProtocolSkipsRehash(t *testing.T) {
	e := New(&fakeHSM{}, WithProtocol(ProtocolV1))
	s := newSession(t, e)

	got, err := e.ComputeHash(context.Background(), s, "a", true)
	require.NoError(t, err)
	assert.Equal(t, sha256Hex([]byte("a")), got)
}

func TestComputeHashDeterministic(t *testing.T) {
	e := New(&fakeHSM{encrypt: flagCipher})
	s := newSession(t, e)

	first, err := e.ComputeHash(context.Background(), s, "a", true)
	require.NoError(t, err)
	second, err := e.ComputeHash(context.Background(), s, "a", true)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// A fresh session from the same device yields the same digest.
	e2 := New(&fakeHSM{encrypt: flagCipher})
	third, err := e2.ComputeHash(context.Background(), newSession(t, e2), "a", true)
	require.NoError(t, err)
	assert.Equal(t, first, third)
}

func TestComputeHashConfirmationSensitive(t *testing.T) {
	e := New(&fakeHSM{encrypt: flagCipher})
	s := newSession(t, e)

	confirmed, err := e.ComputeHash(context.Background(), s, "a", true)
	require.NoError(t, err)
	unattended, err := e.ComputeHash(context.Background(), s, "a", false)
	require.NoError(t, err)
	assert.NotEqual(t, confirmed, unattended)
}

func TestComputeHashFormat(t *testing.T) {
	e := New(&fakeHSM{encrypt: flagCipher})
	s := newSession(t, e)

	for _, input := range []string{"", "a", "Easy to remember", "Grüße 🌍", string(make([]byte, 4096))} {
		out, err := e.ComputeHash(context.Background(), s, input, true)
		require.NoError(t, err)
		assert.Regexp(t, digestPattern, out, "input %q", input)
	}
}

func TestComputeHashRequestParameters(t *testing.T) {
	dev := &fakeHSM{}
	e := New(dev)
	s := newSession(t, e)

	_, err := e.ComputeHash(context.Background(), s, "a", false)
	require.NoError(t, err)
	require.Len(t, dev.requests, 1)

	req := dev.requests[0]
	assert.Equal(t, hsm.Path{0x54525A52, 0x48415348}, req.Node)
	assert.Equal(t, "Allow  HASH      encryption?", req.Key)
	assert.Equal(t, s.IV(), req.IV)
	assert.Len(t, req.Value, DigestSize)
	assert.False(t, req.AskOnEncrypt)
	assert.True(t, req.AskOnDecrypt)
}

func TestPipelineOrdering(t *testing.T) {
	rec := &recorder{}
	dev := &fakeHSM{rec: rec}
	e := New(dev,
		WithHash(func() hash.Hash { return recordingHash{Hash: sha256.New(), rec: rec} }),
		WithIVDigest(func(b []byte) []byte {
			rec.add("md5")
			sum := md5.Sum(b)
			return sum[:]
		}),
	)

	s := newSession(t, e)
	assert.Equal(t, []string{
		"address m/44'/0'/0'/0/0",
		"address m/44'/0'/0'/0/999",
		"md5",
	}, rec.take())

	for range 2 {
		_, err := e.ComputeHash(context.Background(), s, "a", true)
		require.NoError(t, err)
		assert.Equal(t, []string{"sha256", "encrypt", "sha256"}, rec.take())
	}
}

func TestMalformedIVDigest(t *testing.T) {
	for _, size := range []int{0, 15, 17, 32} {
		e := New(&fakeHSM{}, WithIVDigest(func([]byte) []byte { return make([]byte, size) }))
		_, err := e.InitializeSession(context.Background())
		assert.ErrorIs(t, err, ErrInvariantViolation, "size %d", size)
	}
}

func TestDeriveIV(t *testing.T) {
	for _, addr := range []string{"", "ADDR", "1LqBGSKuX5yYUonjxT5qGfpUsXKYYWeabA", "ünïcödé"} {
		iv, err := DeriveIV(addr)
		require.NoError(t, err)
		assert.Len(t, iv, IVSize)
	}
}

func TestCiphertextLengthInvariant(t *testing.T) {
	e := New(&fakeHSM{encrypt: func(hsm.KeyedValueRequest) ([]byte, error) { return make([]byte, 16), nil }})
	s := newSession(t, e)

	out, err := e.ComputeHash(context.Background(), s, "a", true)
	assert.ErrorIs(t, err, ErrInvariantViolation)
	assert.Empty(t, out)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"wrong pin", hsm.ErrInvalidPin},
		{"declined", hsm.ErrUserCancelled},
		{"disconnected", hsm.ErrDeviceIO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(&fakeHSM{addressErr: tt.err}).InitializeSession(context.Background())
			assert.ErrorIs(t, err, tt.err)

			e := New(&fakeHSM{encrypt: func(hsm.KeyedValueRequest) ([]byte, error) {
				return nil, fmt.Errorf("device says: %w", tt.err)
			}})
			out, err := e.ComputeHash(context.Background(), newSession(t, e), "a", true)
			assert.ErrorIs(t, err, tt.err)
			assert.Empty(t, out)
		})
	}
}

func TestInvalidUTF8Rejected(t *testing.T) {
	dev := &fakeHSM{}
	e := New(dev)
	s := newSession(t, e)

	_, err := e.ComputeHash(context.Background(), s, "\xff\xfe", true)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Empty(t, dev.requests)
}

func TestNilSession(t *testing.T) {
	_, err := New(&fakeHSM{}).ComputeHash(context.Background(), nil, "a", true)
	assert.ErrorIs(t, err, ErrInvariantViolation)
}

// serialHSM fails if two encryptions overlap.
type serialHSM struct {
	fakeHSM
	inflight atomic.Int32
}

func (s *serialHSM) EncryptKeyedValue(ctx context.Context, req hsm.KeyedValueRequest) ([]byte, error) {
	if s.inflight.Add(1) != 1 {
		return nil, errors.New("concurrent device request")
	}
	defer s.inflight.Add(-1)
	time.Sleep(time.Millisecond)
	return append([]byte(nil), req.Value...), nil
}

func TestComputeHashSerializesDeviceAccess(t *testing.T) {
	dev := &serialHSM{}
	e := New(dev)
	s := newSession(t, e)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.ComputeHash(context.Background(), s, fmt.Sprintf("input-%d", i), true)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestParseProtocol(t *testing.T) {
	p, err := ParseProtocol("v1")
	require.NoError(t, err)
	assert.Equal(t, ProtocolV1, p)

	p, err = ParseProtocol("")
	require.NoError(t, err)
	assert.Equal(t, ProtocolV2, p)

	_, err = ParseProtocol("v3")
	assert.Error(t, err)
}

func TestShorten(t *testing.T) {
	assert.Equal(t, "01d...e03", Shorten("01dc56a86a759a00f4bf1b7e43789092ec197ed302ee799e11eaa18106f84e03"))
	assert.Equal(t, "abc", Shorten("abc"))
}

func BenchmarkComputeHash(b *testing.B) {
	e := New(&fakeHSM{})
	s, _ := e.InitializeSession(context.Background())
	b.ResetTimer()
	for b.Loop() {
		e.ComputeHash(context.Background(), s, "benchmark input", true)
	}
}
