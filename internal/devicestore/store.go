package devicestore

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/glinharesb/hwhash/internal/crypto"
	"github.com/glinharesb/hwhash/internal/hsm"
)

var (
	ErrDeviceNotFound  = errors.New("device not found")
	ErrAmbiguousDevice = errors.New("several devices provisioned, pick one by id")
)

// sealContext separates the seed-sealing key from other uses of the PIN key.
var sealContext = []byte("hwhash/devicestore/seed-seal/v1")

// Record is a provisioned software device. The seed is only stored sealed
// under a key derived from the device PIN.
type Record struct {
	ID         string
	Label      string
	Salt       []byte
	SealedSeed []byte
	CreatedAt  time.Time
	Tags       map[string]string
}

// TagString formats the tags as sorted k=v pairs separated by commas.
func (r *Record) TagString() string {
	keys := make([]string, 0, len(r.Tags))
	for k := range r.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + r.Tags[k]
	}
	return strings.Join(pairs, ",")
}

// Seal creates a record holding seed encrypted under pin.
func Seal(label string, seed []byte, pin string) (*Record, error) {
	salt, err := crypto.GenerateSalt()
	if err != nil {
		return nil, err
	}
	r := &Record{
		ID:        uuid.NewString(),
		Label:     label,
		Salt:      salt,
		CreatedAt: time.Now().UTC(),
	}

	key, err := r.sealKey(pin)
	if err != nil {
		return nil, err
	}
	r.SealedSeed, err = crypto.EncryptAESGCM(key, seed, []byte(r.ID))
	if err != nil {
		return nil, fmt.Errorf("seal seed: %w", err)
	}
	return r, nil
}

// Unseal returns the seed. A wrong PIN fails authentication and is reported
// as hsm.ErrInvalidPin.
func (r *Record) Unseal(pin string) ([]byte, error) {
	key, err := r.sealKey(pin)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", hsm.ErrInvalidPin, err)
	}
	seed, err := crypto.DecryptAESGCM(key, r.SealedSeed, []byte(r.ID))
	if err != nil {
		return nil, hsm.ErrInvalidPin
	}
	return seed, nil
}

// PinProtected always reports true: records are never stored unsealed.
func (r *Record) PinProtected() bool { return true }

func (r *Record) sealKey(pin string) ([]byte, error) {
	stretched, err := crypto.StretchPIN(pin, r.Salt)
	if err != nil {
		return nil, err
	}
	return crypto.DeriveKey(stretched, sealContext, 32)
}

// Store defines the device record storage interface.
type Store interface {
	Put(r *Record) error
	Get(id string) (*Record, error)
	List() ([]*Record, error)
	Delete(id string) error
}

// Resolve returns the record with the given id, or the only record when id
// is empty.
func Resolve(s Store, id string) (*Record, error) {
	if id != "" {
		return s.Get(id)
	}
	records, err := s.List()
	if err != nil {
		return nil, err
	}
	switch len(records) {
	case 0:
		return nil, ErrDeviceNotFound
	case 1:
		return records[0], nil
	default:
		return nil, ErrAmbiguousDevice
	}
}

func sortRecords(records []*Record) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
}
