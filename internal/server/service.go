package server

import (
	"context"

	"google.golang.org/grpc"

	"github.com/glinharesb/hwhash/internal/wire"
)

// DeviceService is the server API of the device service.
type DeviceService interface {
	GetFeatures(context.Context, *wire.GetFeatures) (*wire.Features, error)
	GetAddress(context.Context, *wire.GetAddress) (*wire.Address, error)
	CipherKeyValue(context.Context, *wire.CipherKeyValue) (*wire.CipheredKeyValue, error)
}

// RegisterDeviceService registers srv on s. Clients must call with the
// wire.CodecName content-subtype.
func RegisterDeviceService(s grpc.ServiceRegistrar, srv DeviceService) {
	s.RegisterService(&DeviceServiceDesc, srv)
}

// DeviceServiceDesc describes the device service for grpc.
var DeviceServiceDesc = grpc.ServiceDesc{
	ServiceName: wire.ServiceName,
	HandlerType: (*DeviceService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetFeatures", Handler: getFeaturesHandler},
		{MethodName: "GetAddress", Handler: getAddressHandler},
		{MethodName: "CipherKeyValue", Handler: cipherKeyValueHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "hwhash/device/v1/device.proto",
}

func getFeaturesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wire.GetFeatures)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DeviceService).GetFeatures(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: wire.MethodGetFeatures}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DeviceService).GetFeatures(ctx, req.(*wire.GetFeatures))
	}
	return interceptor(ctx, in, info, handler)
}

func getAddressHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wire.GetAddress)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DeviceService).GetAddress(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: wire.MethodGetAddress}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DeviceService).GetAddress(ctx, req.(*wire.GetAddress))
	}
	return interceptor(ctx, in, info, handler)
}

func cipherKeyValueHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wire.CipherKeyValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DeviceService).CipherKeyValue(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: wire.MethodCipherKeyValue}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DeviceService).CipherKeyValue(ctx, req.(*wire.CipherKeyValue))
	}
	return interceptor(ctx, in, info, handler)
}
