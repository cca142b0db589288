package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/tjfontaine/cloud-emulator-gateway/internal/auth"
)

func main() {
	account := flag.String("account", "000000000000", "account the credential maps to")
	secret := flag.String("jwt-secret", "", "sign a JWT for the account with this HMAC secret instead of hashing a key")
	ttl := flag.Duration("ttl", 24*time.Hour, "JWT lifetime")
	flag.Parse()

	if *secret != "" {
		token, err := auth.SignToken(*secret, *account, jwt.MapClaims{
			"exp": time.Now().Add(*ttl).Unix(),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "sign token: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Token: %s\n", token)
		fmt.Println("\nSend it as: Authorization: Bearer <token>")
		return
	}

	if flag.NArg() < 1 {
		fmt.Println("Usage: go run ./cmd/keygen [-account id] <api-key>")
		fmt.Println("       go run ./cmd/keygen -jwt-secret <secret> [-account id] [-ttl 24h]")
		fmt.Println("Generates a SHA-256 hash of the provided API key for use in config.yaml")
		os.Exit(1)
	}

	apiKey := flag.Arg(0)
	keyHash := auth.HashAPIKey(apiKey)

	fmt.Printf("API Key: %s\n", apiKey)
	fmt.Printf("SHA-256 Hash: %s\n", keyHash)
	fmt.Println("\nAdd this to your config.yaml:")
	fmt.Printf("  api_keys:\n")
	fmt.Printf("    - key_hash: \"%s\"\n", keyHash)
	fmt.Printf("      account: \"%s\"\n", *account)
	fmt.Printf("      description: \"Generated key\"\n")
}
