package main

import (
	"bufio"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"walletkit/cmd/internal/passphrase"
	"walletkit/crypto"
)

const (
	newCommand    = "new"
	importCommand = "import"
	pubkeyCommand = "pubkey"
	defaultPass   = "WALLETD_KEYSTORE_PASSPHRASE"
)

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(1)
	}
	var err error
	switch os.Args[1] {
	case newCommand:
		err = runNew(os.Args[2:], os.Stdout)
	case importCommand:
		err = runImport(os.Args[2:], os.Stdin, os.Stdout)
	case pubkeyCommand:
		err = runPubkey(os.Args[2:], os.Stdout)
	default:
		usage(os.Stderr)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: walletctl <new|import|pubkey> [flags]")
	fmt.Fprintln(w, "  new     generate a mnemonic and write an encrypted keystore")
	fmt.Fprintln(w, "  import  derive a key from a mnemonic read from stdin or -mnemonic-file")
	fmt.Fprintln(w, "  pubkey  print the public key stored in a keystore")
}

type keystoreFlags struct {
	path     string
	passEnv  string
	passFile string
	force    bool
}

func bindKeystoreFlags(fs *flag.FlagSet) *keystoreFlags {
	kf := &keystoreFlags{}
	fs.StringVar(&kf.path, "keystore", "", "Path to the keystore file")
	fs.StringVar(&kf.passEnv, "pass-env", defaultPass, "Environment variable containing the keystore passphrase")
	fs.StringVar(&kf.passFile, "pass-file", "", "File containing the keystore passphrase")
	fs.BoolVar(&kf.force, "force", false, "Overwrite an existing keystore file")
	return kf
}

func (kf *keystoreFlags) save(key *crypto.PrivateKey) error {
	if strings.TrimSpace(kf.path) == "" {
		return errors.New("-keystore is required")
	}
	if _, err := os.Stat(kf.path); err == nil && !kf.force {
		return fmt.Errorf("keystore %s already exists; pass -force to overwrite", kf.path)
	}
	pass, err := passphrase.NewSource(kf.passEnv, kf.passFile).Get()
	if err != nil {
		return err
	}
	return crypto.SaveToKeystore(kf.path, key, pass)
}

func runNew(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(newCommand, flag.ContinueOnError)
	kf := bindKeystoreFlags(fs)
	password := fs.String("mnemonic-password", "", "Optional mnemonic password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	mnemonic, err := crypto.NewMnemonic()
	if err != nil {
		return err
	}
	key, err := crypto.KeyFromMnemonic(mnemonic, *password)
	if err != nil {
		return err
	}
	if err := kf.save(key); err != nil {
		return err
	}
	fmt.Fprintf(out, "mnemonic: %s\n", mnemonic)
	fmt.Fprintf(out, "public key: %s\n", hex.EncodeToString(key.PublicKey()))
	fmt.Fprintf(out, "keystore: %s\n", kf.path)
	return nil
}

func runImport(args []string, in io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet(importCommand, flag.ContinueOnError)
	kf := bindKeystoreFlags(fs)
	mnemonicFile := fs.String("mnemonic-file", "", "File containing the mnemonic; stdin when empty")
	password := fs.String("mnemonic-password", "", "Optional mnemonic password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	var mnemonic string
	if *mnemonicFile != "" {
		raw, err := os.ReadFile(*mnemonicFile)
		if err != nil {
			return fmt.Errorf("read mnemonic: %w", err)
		}
		mnemonic = string(raw)
	} else {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read mnemonic: %w", err)
		}
		mnemonic = line
	}
	key, err := crypto.KeyFromMnemonic(mnemonic, *password)
	if err != nil {
		return err
	}
	if err := kf.save(key); err != nil {
		return err
	}
	fmt.Fprintf(out, "public key: %s\n", hex.EncodeToString(key.PublicKey()))
	return nil
}

func runPubkey(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(pubkeyCommand, flag.ContinueOnError)
	kf := bindKeystoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(kf.path) == "" {
		return errors.New("-keystore is required")
	}
	pass, err := passphrase.NewSource(kf.passEnv, kf.passFile).Get()
	if err != nil {
		return err
	}
	key, err := crypto.LoadFromKeystore(kf.path, pass)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, hex.EncodeToString(key.PublicKey()))
	return nil
}
