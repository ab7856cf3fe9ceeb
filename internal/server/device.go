// Package server exposes an hsm.Provider as a gRPC device service so that
// hashing clients can run on another host than the device.
package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/glinharesb/hwhash/internal/audit"
	"github.com/glinharesb/hwhash/internal/hsm"
	"github.com/glinharesb/hwhash/internal/metrics"
	"github.com/glinharesb/hwhash/internal/wire"
)

// Operation names used in audit entries and metrics.
const (
	OpGetFeatures  = "GetFeatures"
	OpGetAddress   = "GetAddress"
	OpEncryptValue = "EncryptKeyedValue"
	OpDecryptValue = "DecryptKeyedValue"
)

const (
	defaultVendor = "hwhash"
	defaultModel  = "software"
)

// decrypter is implemented by providers that support the decrypt direction.
type decrypter interface {
	DecryptKeyedValue(ctx context.Context, req hsm.KeyedValueRequest) ([]byte, error)
}

// DeviceServer serves one device. Requests are handled one at a time since a
// device cannot run overlapping operations.
type DeviceServer struct {
	mu       sync.Mutex
	dev      hsm.Provider
	deviceID string
	audit    *audit.Logger
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewDeviceServer wraps dev. The audit logger and metrics may be nil.
func NewDeviceServer(dev hsm.Provider, a *audit.Logger, m *metrics.Metrics, logger *slog.Logger) *DeviceServer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &DeviceServer{dev: dev, audit: a, metrics: m, logger: logger}
	if d, ok := dev.(hsm.Describer); ok {
		if f, err := d.Features(context.Background()); err == nil {
			s.deviceID = f.DeviceID
		}
	}
	return s
}

func (s *DeviceServer) GetFeatures(ctx context.Context, _ *wire.GetFeatures) (*wire.Features, error) {
	var f hsm.Features
	err := s.do(ctx, OpGetFeatures, nil, func() error {
		d, ok := s.dev.(hsm.Describer)
		if !ok {
			f = hsm.Features{Vendor: defaultVendor, Model: defaultModel, Initialized: true}
			return nil
		}
		var err error
		f, err = d.Features(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &wire.Features{
		Vendor:        f.Vendor,
		DeviceID:      f.DeviceID,
		PinProtection: f.PinProtection,
		Label:         f.Label,
		Initialized:   f.Initialized,
		Model:         f.Model,
	}, nil
}

func (s *DeviceServer) GetAddress(ctx context.Context, req *wire.GetAddress) (*wire.Address, error) {
	if req.CoinName != "" && req.CoinName != wire.DefaultCoin {
		return nil, status.Errorf(codes.InvalidArgument, "unsupported coin %q", req.CoinName)
	}
	path := hsm.Path(req.AddressN)
	var addr string
	err := s.do(ctx, OpGetAddress, map[string]string{"path": path.String()}, func() error {
		var err error
		addr, err = s.dev.DeriveAddress(ctx, path)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &wire.Address{Address: addr}, nil
}

func (s *DeviceServer) CipherKeyValue(ctx context.Context, req *wire.CipherKeyValue) (*wire.CipheredKeyValue, error) {
	kv := hsm.KeyedValueRequest{
		Node:         hsm.Path(req.AddressN),
		Key:          req.Key,
		Value:        req.Value,
		IV:           req.IV,
		AskOnEncrypt: req.AskOnEncrypt,
		AskOnDecrypt: req.AskOnDecrypt,
	}
	op := OpEncryptValue
	if !req.Encrypt {
		op = OpDecryptValue
	}
	// Values are secret: only the node path is audited.
	var out []byte
	err := s.do(ctx, op, map[string]string{"path": kv.Node.String()}, func() error {
		var err error
		if req.Encrypt {
			out, err = s.dev.EncryptKeyedValue(ctx, kv)
			return err
		}
		d, ok := s.dev.(decrypter)
		if !ok {
			return hsm.ErrInvalidRequest
		}
		out, err = d.DecryptKeyedValue(ctx, kv)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &wire.CipheredKeyValue{Value: out}, nil
}

// do runs fn with exclusive device access and records its outcome.
func (s *DeviceServer) do(ctx context.Context, op string, meta map[string]string, fn func() error) error {
	if s.metrics != nil {
		s.metrics.InFlight.Inc()
		defer s.metrics.InFlight.Dec()
	}
	start := time.Now()

	s.mu.Lock()
	err := ctx.Err()
	if err == nil {
		err = fn()
	}
	s.mu.Unlock()

	st := auditStatus(err)
	if s.metrics != nil {
		s.metrics.Observe(op, st, time.Since(start))
	}
	if s.audit != nil {
		s.audit.Log(op, s.deviceID, st, peerAddr(ctx), meta)
	}
	if err != nil {
		s.logger.Debug("device operation failed", "operation", op, "error", err)
		return toStatus(err)
	}
	return nil
}

func auditStatus(err error) string {
	switch {
	case err == nil:
		return audit.StatusOK
	case errors.Is(err, hsm.ErrUserCancelled):
		return audit.StatusCancelled
	case errors.Is(err, hsm.ErrInvalidPin):
		return audit.StatusBadPin
	default:
		return audit.StatusError
	}
}

// toStatus maps device errors onto gRPC codes understood by hsm.RemoteHSM.
func toStatus(err error) error {
	switch {
	case errors.Is(err, hsm.ErrInvalidPin):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, hsm.ErrUserCancelled):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, hsm.ErrInvalidRequest):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Unavailable, err.Error())
	}
}

func peerAddr(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return ""
}

// CountingConfirmer reports every confirmation outcome of c to m.
func CountingConfirmer(c hsm.Confirmer, m *metrics.Metrics) hsm.Confirmer {
	return hsm.ConfirmerFunc(func(ctx context.Context, prompt string) (bool, error) {
		ok, err := c.Confirm(ctx, prompt)
		if err == nil && m != nil {
			m.Confirmation(ok)
		}
		return ok, err
	})
}
