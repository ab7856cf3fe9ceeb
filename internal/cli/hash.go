package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/text/unicode/norm"

	"github.com/glinharesb/hwhash/internal/config"
	"github.com/glinharesb/hwhash/internal/engine"
	"github.com/glinharesb/hwhash/internal/hsm"
)

const noConfirmWarning = "Warning: with --noconfirm the digest is a different function; it will not match digests produced with confirmation."

type hashOptions struct {
	configFile string
	noConfirm  bool
	multiple   bool
	logging    int

	device   string
	deviceID string
	dataDir  string
	token    string
	protocol string
	tlsCA    string
}

// NewHashCommand builds the hwhash command.
func NewHashCommand(env *Env) *cobra.Command {
	opts := &hashOptions{}
	cmd := &cobra.Command{
		Use:   "hwhash [flags] [input...]",
		Short: "Deterministic digest of short texts keyed by a hardware wallet",
		Long: `hwhash hashes an input string with SHA-256, has the hardware wallet encrypt
the hash under a key that never leaves the device, and prints the result as
64 lowercase hex characters. The same device seed always yields the same
digest for the same input; without the device the digest cannot be computed.

Digests are written to stdout only, one per line, and never stored.
Inputs are normalized to Unicode NFC before hashing.`,
		Example: `  hwhash a
  hwhash -n -m first second third
  hwhash --device 10.0.0.2:50061 --token secret "Easy to remember"`,
		Version:       Version,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHash(cmd, env, opts, args)
		},
	}
	cmd.SetIn(env.Stdin)
	cmd.SetOut(env.Stdout)
	cmd.SetErr(env.Stderr)
	cmd.SetFlagErrorFunc(flagError)

	f := cmd.Flags()
	f.BoolVarP(&opts.noConfirm, "noconfirm", "n", false, "do not ask for confirmation on the device (produces different digests)")
	f.BoolVarP(&opts.multiple, "multiple", "m", false, "accept several inputs for batch processing")
	f.IntVarP(&opts.logging, "logging", "l", 3, "log verbosity, 1 (everything) to 5 (nothing)")
	f.StringVar(&opts.configFile, "config", "", "YAML config file (default $HWHASH_CONFIG)")
	f.StringVar(&opts.device, "device", "", `"emulator" or the address of an hwhash-device server`)
	f.StringVar(&opts.deviceID, "device-id", "", "software device to use when several are provisioned")
	f.StringVar(&opts.dataDir, "data-dir", "", "directory holding software devices")
	f.StringVar(&opts.token, "token", "", "bearer token for the device server")
	f.StringVar(&opts.protocol, "protocol", "", "digest protocol, v1 or v2")
	f.StringVar(&opts.tlsCA, "tls-ca", "", "CA certificate of the device server")
	return cmd
}

func runHash(cmd *cobra.Command, env *Env, opts *hashOptions, args []string) error {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	override(&cfg.Device, flags.Changed("device"), opts.device)
	override(&cfg.DeviceID, flags.Changed("device-id"), opts.deviceID)
	override(&cfg.DataDir, flags.Changed("data-dir"), opts.dataDir)
	override(&cfg.AuthToken, flags.Changed("token"), opts.token)
	override(&cfg.Protocol, flags.Changed("protocol"), opts.protocol)
	override(&cfg.TLSCA, flags.Changed("tls-ca"), opts.tlsCA)

	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	if flags.Changed("logging") {
		if level, err = verbosityLevel(opts.logging); err != nil {
			return err
		}
	}
	logger := newLogger(env.Stderr, level, cfg.LogFormat)

	protocol, err := engine.ParseProtocol(cfg.Protocol)
	if err != nil {
		return usageErrorf("%v", err)
	}

	inputs := make([]string, 0, len(args))
	for _, a := range args {
		if a != "" {
			inputs = append(inputs, a)
		}
	}
	if !opts.multiple && len(inputs) > 1 {
		return usageErrorf("more than one input given (%d), use --multiple for batch processing", len(inputs))
	}
	if opts.noConfirm {
		fmt.Fprintln(env.Stderr, noConfirmWarning)
	}

	term := NewTerminal(env.Stdin, env.Stderr)
	dev, release, err := openDevice(env, cfg, term, logger)
	if err != nil {
		return err
	}
	defer release()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if d, ok := dev.(hsm.Describer); ok {
		if f, err := d.Features(ctx); err == nil {
			logger.Info("device", "label", f.Label, "id", f.DeviceID)
		}
	}
	if !opts.noConfirm {
		logger.Info("confirm on the device each time a digest is produced")
	}

	eng := engine.New(dev, engine.WithProtocol(protocol), engine.WithLogger(logger))
	session, err := eng.InitializeSession(ctx)
	if err != nil {
		return err
	}

	if len(inputs) == 0 {
		line, err := term.ReadLine("Input string to hash (empty line to quit): ")
		if err != nil {
			return err
		}
		if line == "" {
			logger.Debug("no input, abandoning")
			return ErrAbandoned
		}
		inputs = append(inputs, line)
	}

	// In a batch, I/O failures skip the input; PIN and cancel errors stop it.
	var failed int
	var firstErr error
	for i, in := range inputs {
		out, err := eng.ComputeHash(ctx, session, norm.NFC.String(in), !opts.noConfirm)
		if err != nil {
			if !opts.multiple || !errors.Is(err, hsm.ErrDeviceIO) {
				return err
			}
			logger.Error("input skipped", "index", i+1, "error", err)
			failed++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		fmt.Fprintln(env.Stdout, out)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d inputs failed: %w", failed, len(inputs), firstErr)
	}
	return nil
}

func override(dst *string, changed bool, v string) {
	if changed {
		*dst = v
	}
}
