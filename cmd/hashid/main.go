// Command hashid hashes a signer identification (password) for the signers.identification
// column, or checks a password against a stored hash.
//
// Usage:
//
//	hashid [-cost 12] <password>
//	hashid -verify <hash> <password>
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/avissapr/signflow/internal/security"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	cost := flag.Int("cost", security.DefaultSecurityConfig().BcryptCost, "bcrypt cost")
	verify := flag.String("verify", "", "hash to check the password against")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: hashid [-cost N] <password> | hashid -verify <hash> <password>")
		os.Exit(2)
	}
	password := flag.Arg(0)

	if *verify != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(*verify), []byte(password)); err != nil {
			fmt.Printf("no match: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("match")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), *cost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(hash))
}
