package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"github.com/Strob0t/SubCtl/internal/config"
	"github.com/Strob0t/SubCtl/internal/trust"
)

func printKeysHelp() {
	fmt.Fprint(os.Stderr, `Manage the local signing key.

Usage:
  subctl keys <command> [flags]

Commands:
  gen     Generate a signing key if none exists, then print it
  show    Print the existing key without creating one

Events are only folded when their key is trusted. Add the printed
public key to the trust.keys section of every verifying instance:

  trust:
    keys:
      - id: <key_id>
        public_key: <public_key>

Flags:
  --key path    key file (default from configuration)
`)
}

func runKeys(args []string) error {
	if len(args) == 0 {
		printKeysHelp()
		return fmt.Errorf("keys: missing command")
	}
	switch args[0] {
	case "gen":
		return runKeysGen(args[1:])
	case "show":
		return runKeysShow(args[1:])
	case "help", "-h", "--help":
		printKeysHelp()
		return nil
	default:
		printKeysHelp()
		return fmt.Errorf("keys: unknown command %q", args[0])
	}
}

func keyPath(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return "", err
	}
	return cfg.Trust.PrivateKeyFile, nil
}

func runKeysGen(args []string) error {
	fs := flag.NewFlagSet("gen", flag.ContinueOnError)
	keyFile := fs.String("key", "", "key file `path`")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path, err := keyPath(*keyFile)
	if err != nil {
		return err
	}
	pub, _, err := trust.LoadOrGenerateKeyPair(path)
	if err != nil {
		return err
	}
	fmt.Printf("key_id      %s\n", trust.KeyID(pub))
	fmt.Printf("public_key  %s\n", hex.EncodeToString(pub))
	fmt.Printf("file        %s\n", path)
	return nil
}

func runKeysShow(args []string) error {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	keyFile := fs.String("key", "", "key file `path`")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path, err := keyPath(*keyFile)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("no key at %s, run \"subctl keys gen\" to create one", path)
		}
		return fmt.Errorf("stat key file: %w", err)
	}
	signer, err := trust.NewSignerFromFile(path)
	if err != nil {
		return fmt.Errorf("load key: %w", err)
	}
	fmt.Printf("key_id      %s\n", signer.KeyID())
	fmt.Printf("public_key  %s\n", hex.EncodeToString(signer.PublicKey()))
	return nil
}
