// Command aip-keygen generates an Ed25519 key pair for a bidder.
//
// The private key lands in <out>.key and the public key in <out>.pub, both
// PEM-encoded. The public key block is what goes into the bidder roster
// document; the private key stays with the bidder and signs every bid and
// event payload.
//
// # Usage
//
//	go run ./cmd/aip-keygen --out=alpha
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/GouniManikumar12/aip-server/crypto"
)

func main() {
	var (
		out   = flag.String("out", "bidder", "output file basename")
		force = flag.Bool("force", false, "overwrite existing key files")
	)
	flag.Parse()

	keyPath := *out + ".key"
	pubPath := *out + ".pub"

	if !*force {
		for _, path := range []string{keyPath, pubPath} {
			if _, err := os.Stat(path); err == nil {
				fmt.Fprintf(os.Stderr, "Error: %s already exists (use --force to overwrite)\n", path)
				os.Exit(1)
			}
		}
	}

	pubKey, privKey, err := crypto.GenerateKeyPair()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Key generation error: %v\n", err)
		os.Exit(1)
	}

	privPEM, err := privKey.MarshalPEM()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Private key encoding error: %v\n", err)
		os.Exit(1)
	}
	pubPEM, err := pubKey.MarshalPEM()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Public key encoding error: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(keyPath, []byte(privPEM), 0o600); err != nil {
		fmt.Fprintf(os.Stderr, "Writing %s: %v\n", keyPath, err)
		os.Exit(1)
	}
	if err := os.WriteFile(pubPath, []byte(pubPEM), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Writing %s: %v\n", pubPath, err)
		os.Exit(1)
	}

	fmt.Printf("Wrote %s and %s\n", keyPath, pubPath)
	fmt.Printf("Public key: %s\n\n", pubKey.String())
	fmt.Println("Roster entry:")
	fmt.Printf("  - name: %s\n", *out)
	fmt.Println("    endpoint: https://example.invalid/aip/invite")
	fmt.Println("    pools: [general]")
	fmt.Println("    public_key: |")
	printIndented(pubPEM)
}

func printIndented(pem string) {
	for _, line := range strings.Split(strings.TrimRight(pem, "\n"), "\n") {
		fmt.Printf("      %s\n", line)
	}
}
