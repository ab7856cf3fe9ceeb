package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"

	"google.golang.org/grpc/credentials"

	"github.com/glinharesb/hwhash/internal/config"
	"github.com/glinharesb/hwhash/internal/devicestore"
	"github.com/glinharesb/hwhash/internal/hsm"
)

// Version is set at build time with -ldflags "-X".
var Version = "dev"

// Env carries the process streams and the hooks tests replace.
type Env struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Provider replaces the configured device when non-nil.
	Provider hsm.Provider
	// Listen opens the device server listener. Defaults to net.Listen.
	Listen func(network, addr string) (net.Listener, error)
}

// DefaultEnv uses the process streams.
func DefaultEnv() *Env {
	return &Env{Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr, Listen: net.Listen}
}

func (e *Env) listen(network, addr string) (net.Listener, error) {
	if e.Listen == nil {
		return net.Listen(network, addr)
	}
	return e.Listen(network, addr)
}

// openDevice returns the configured device and a function releasing it.
func openDevice(env *Env, cfg config.Config, t *Terminal, logger *slog.Logger) (hsm.Provider, func(), error) {
	if env.Provider != nil {
		return env.Provider, func() {}, nil
	}

	if cfg.Device == config.Emulator {
		rec, err := resolveRecord(cfg)
		if err != nil {
			return nil, nil, err
		}
		dev := hsm.NewSoftwareHSM(rec,
			hsm.WithPinPrompter(t),
			hsm.WithConfirmer(t),
			hsm.WithLabel(rec.Label),
			hsm.WithDeviceID(rec.ID),
			hsm.WithLogger(logger),
		)
		return dev, dev.Lock, nil
	}

	var creds credentials.TransportCredentials
	if cfg.TLSCA != "" {
		c, err := credentials.NewClientTLSFromFile(cfg.TLSCA, "")
		if err != nil {
			return nil, nil, fmt.Errorf("load tls ca: %w", err)
		}
		creds = c
	}
	remote, err := hsm.DialRemote(cfg.Device, hsm.RemoteOptions{Token: cfg.AuthToken, TLS: creds})
	if err != nil {
		return nil, nil, err
	}
	logger.Debug("using remote device", "addr", cfg.Device)
	return remote, func() { remote.Close() }, nil
}

func openStore(cfg config.Config) (*devicestore.PersistentStore, error) {
	return devicestore.NewPersistentStore(cfg.DevicesFile())
}

func resolveRecord(cfg config.Config) (*devicestore.Record, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	rec, err := devicestore.Resolve(store, cfg.DeviceID)
	switch {
	case errors.Is(err, devicestore.ErrDeviceNotFound) && cfg.DeviceID == "":
		return nil, fmt.Errorf("no software device in %s, run hwhash-device init first", cfg.DataDir)
	case err != nil:
		return nil, err
	}
	return rec, nil
}
