package wire

// ServiceName is the gRPC service exposing a device.
const ServiceName = "hwhash.device.v1.Device"

// Full method names of the device service.
const (
	MethodGetFeatures    = "/" + ServiceName + "/GetFeatures"
	MethodGetAddress     = "/" + ServiceName + "/GetAddress"
	MethodCipherKeyValue = "/" + ServiceName + "/CipherKeyValue"
)

// DefaultCoin is the coin name assumed when GetAddress leaves it empty.
const DefaultCoin = "Bitcoin"
