package cli

import (
	"crypto/rand"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/glinharesb/hwhash/internal/config"
	"github.com/glinharesb/hwhash/internal/devicestore"
	"github.com/glinharesb/hwhash/internal/hsm"
)

// pinEnv supplies the device PIN non-interactively.
const pinEnv = "HWHASH_DEVICE_PIN"

type deviceOptions struct {
	configFile string
	dataDir    string
	logLevel   string
	logFormat  string
}

// load reads the configuration and applies the persistent flags.
func (o *deviceOptions) load(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	override(&cfg.DataDir, flags.Changed("data-dir"), o.dataDir)
	override(&cfg.LogLevel, flags.Changed("log-level"), o.logLevel)
	override(&cfg.LogFormat, flags.Changed("log-format"), o.logFormat)
	if !flags.Changed("log-format") && os.Getenv("HWHASH_LOG_FORMAT") == "" {
		cfg.LogFormat = "json"
	}
	return cfg, cfg.Validate()
}

// NewDeviceCommand builds the hwhash-device command.
func NewDeviceCommand(env *Env) *cobra.Command {
	opts := &deviceOptions{}
	cmd := &cobra.Command{
		Use:   "hwhash-device",
		Short: "Software hardware-wallet device for hwhash",
		Long: `hwhash-device provisions software devices holding a BIP39 seed sealed under a
PIN, and serves one of them over gRPC so hwhash clients can use it like a
hardware wallet.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetIn(env.Stdin)
	cmd.SetOut(env.Stdout)
	cmd.SetErr(env.Stderr)
	cmd.SetFlagErrorFunc(flagError)

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.configFile, "config", "", "YAML config file (default $HWHASH_CONFIG)")
	pf.StringVar(&opts.dataDir, "data-dir", "", "directory holding software devices")
	pf.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")
	pf.StringVar(&opts.logFormat, "log-format", "", "text or json (default json)")

	cmd.AddCommand(
		newInitCommand(env, opts),
		newListCommand(env, opts),
		newRemoveCommand(env, opts),
		newServeCommand(env, opts),
	)
	return cmd
}

func newInitCommand(env *Env, opts *deviceOptions) *cobra.Command {
	var label, mnemonic, passphrase string
	var tags map[string]string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Provision a software device",
		Long: `init seals a wallet seed under a PIN and stores it in the data directory.
The mnemonic is read from the terminal when --mnemonic is not given; an empty
mnemonic provisions a random seed that cannot be recovered. The PIN is read
from $HWHASH_DEVICE_PIN or the terminal.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if label == "" {
				return usageErrorf("--label is required")
			}
			t := NewTerminal(env.Stdin, env.Stderr)

			if !cmd.Flags().Changed("mnemonic") {
				if mnemonic, err = t.ReadSecret("Mnemonic (empty for a random seed): "); err != nil {
					return err
				}
			}
			var seed []byte
			if mnemonic == "" {
				fmt.Fprintln(env.Stderr, "Warning: provisioning a random seed; digests of this device cannot be recovered if the data directory is lost.")
				seed = make([]byte, 64)
				if _, err := rand.Read(seed); err != nil {
					return fmt.Errorf("generate seed: %w", err)
				}
			} else {
				seed = hsm.SeedFromMnemonic(mnemonic, passphrase)
			}

			pin, err := newPIN(t)
			if err != nil {
				return err
			}

			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			rec, err := devicestore.Seal(label, seed, pin)
			if err != nil {
				return err
			}
			if len(tags) > 0 {
				rec.Tags = tags
			}
			if err := store.Put(rec); err != nil {
				return err
			}
			fmt.Fprintf(env.Stdout, "%s\t%s\n", rec.ID, rec.Label)
			return nil
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "device label")
	cmd.Flags().StringVar(&mnemonic, "mnemonic", "", "BIP39 mnemonic sentence")
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "BIP39 passphrase")
	cmd.Flags().StringToStringVar(&tags, "tag", nil, "tag the device, key=value (repeatable)")
	return cmd
}

// newPIN reads a new PIN from the environment or, twice, from the terminal.
func newPIN(t *Terminal) (string, error) {
	if pin := os.Getenv(pinEnv); pin != "" {
		return pin, nil
	}
	pin, err := t.ReadSecret("New device PIN: ")
	if err != nil {
		return "", err
	}
	if pin == "" {
		return "", usageErrorf("PIN must not be empty")
	}
	again, err := t.ReadSecret("Repeat PIN: ")
	if err != nil {
		return "", err
	}
	if again != pin {
		return "", usageErrorf("PINs do not match")
	}
	return pin, nil
}

func newListCommand(env *Env, opts *deviceOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List provisioned software devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			records, err := store.List()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(env.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tLABEL\tCREATED\tTAGS")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ID, r.Label, r.CreatedAt.Format(time.RFC3339), r.TagString())
			}
			return w.Flush()
		},
	}
}

func newRemoveCommand(env *Env, opts *deviceOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Delete a software device and its sealed seed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			if err := store.Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(env.Stderr, "removed %s\n", args[0])
			return nil
		},
	}
}
