package hsm

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/glinharesb/hwhash/internal/interceptor"
	"github.com/glinharesb/hwhash/internal/wire"
)

// RemoteHSM is a Provider backed by a device served by hwhash-device.
type RemoteHSM struct {
	conn  *grpc.ClientConn
	owned bool
}

// RemoteOptions configures DialRemote.
type RemoteOptions struct {
	// Token is sent as a bearer token on every call when non-empty.
	Token string
	// TLS enables transport security. Plaintext is used when nil.
	TLS credentials.TransportCredentials
}

// DialRemote connects to a device server at addr.
func DialRemote(addr string, opts RemoteOptions) (*RemoteHSM, error) {
	creds := opts.TLS
	if creds == nil {
		creds = insecure.NewCredentials()
	}
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(creds),
		grpc.WithUnaryInterceptor(interceptor.AuthClientUnary(opts.Token)),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrDeviceIO, addr, err)
	}
	return &RemoteHSM{conn: conn, owned: true}, nil
}

// NewRemoteHSM uses an existing connection. Close does not close conn.
func NewRemoteHSM(conn *grpc.ClientConn) *RemoteHSM {
	return &RemoteHSM{conn: conn}
}

// Close releases the connection if DialRemote created it.
func (r *RemoteHSM) Close() error {
	if !r.owned {
		return nil
	}
	return r.conn.Close()
}

func (r *RemoteHSM) Features(ctx context.Context) (Features, error) {
	var out wire.Features
	if err := r.invoke(ctx, wire.MethodGetFeatures, &wire.GetFeatures{}, &out); err != nil {
		return Features{}, err
	}
	return Features{
		Vendor:        out.Vendor,
		Model:         out.Model,
		DeviceID:      out.DeviceID,
		Label:         out.Label,
		Initialized:   out.Initialized,
		PinProtection: out.PinProtection,
	}, nil
}

func (r *RemoteHSM) DeriveAddress(ctx context.Context, path Path) (string, error) {
	var out wire.Address
	in := &wire.GetAddress{AddressN: path, CoinName: wire.DefaultCoin}
	if err := r.invoke(ctx, wire.MethodGetAddress, in, &out); err != nil {
		return "", err
	}
	return out.Address, nil
}

func (r *RemoteHSM) EncryptKeyedValue(ctx context.Context, req KeyedValueRequest) ([]byte, error) {
	return r.cipherKeyValue(ctx, req, true)
}

func (r *RemoteHSM) DecryptKeyedValue(ctx context.Context, req KeyedValueRequest) ([]byte, error) {
	return r.cipherKeyValue(ctx, req, false)
}

func (r *RemoteHSM) cipherKeyValue(ctx context.Context, req KeyedValueRequest, encrypt bool) ([]byte, error) {
	in := &wire.CipherKeyValue{
		AddressN:     req.Node,
		Key:          req.Key,
		Value:        req.Value,
		Encrypt:      encrypt,
		AskOnEncrypt: req.AskOnEncrypt,
		AskOnDecrypt: req.AskOnDecrypt,
		IV:           req.IV,
	}
	var out wire.CipheredKeyValue
	if err := r.invoke(ctx, wire.MethodCipherKeyValue, in, &out); err != nil {
		return nil, err
	}
	return out.Value, nil
}

func (r *RemoteHSM) invoke(ctx context.Context, method string, in, out wire.Message) error {
	err := r.conn.Invoke(ctx, method, in, out, grpc.CallContentSubtype(wire.CodecName))
	if err != nil {
		return fromStatus(err)
	}
	return nil
}

// fromStatus maps gRPC codes back to the device sentinel errors.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%w: %v", ErrDeviceIO, err)
	}
	var sentinel error
	switch st.Code() {
	case codes.PermissionDenied:
		sentinel = ErrInvalidPin
	case codes.Aborted:
		sentinel = ErrUserCancelled
	case codes.InvalidArgument:
		sentinel = ErrInvalidRequest
	case codes.Canceled:
		sentinel = context.Canceled
	case codes.DeadlineExceeded:
		sentinel = context.DeadlineExceeded
	default:
		sentinel = ErrDeviceIO
	}
	switch {
	case errors.Is(sentinel, ErrDeviceIO):
		return fmt.Errorf("%w: %s: %s", sentinel, st.Code(), st.Message())
	case st.Message() == sentinel.Error():
		return sentinel
	}
	return fmt.Errorf("%w: %s", sentinel, st.Message())
}
