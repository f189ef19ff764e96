// Package main is a development utility for generating the two secrets the
// server requires at startup: the ENCRYPTION_SECRET that derives the at-rest
// encryption keys, and the ADK_JWT_SECRET used to sign bearer tokens in jwt
// auth mode. It prints ready-to-export shell lines for a local environment.
// Do not reuse generated values across environments — rotate per deployment.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
)

func randomSecret(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		log.Fatal(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

func main() {
	fmt.Println("==========================================================")
	fmt.Println("assetdock development secrets")
	fmt.Println("==========================================================")
	fmt.Printf("\nexport ENCRYPTION_SECRET=%s\n", randomSecret(48))
	fmt.Printf("export ADK_JWT_SECRET=%s\n", randomSecret(32))
	fmt.Println("\n==========================================================")
	fmt.Println("ENCRYPTION_SECRET protects stored provider credentials.")
	fmt.Println("Changing it makes existing connections undecryptable; users")
	fmt.Println("must reconnect their providers after a rotation.")
	fmt.Println("==========================================================")
}
