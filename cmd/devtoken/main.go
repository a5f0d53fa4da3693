// Command devtoken signs a bearer token for local testing against the API.
//
//	go run ./cmd/devtoken -owner alice -roles customer
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/vault-core/vault_core/internal/auth"
	"github.com/vault-core/vault_core/internal/config"
)

func main() {
	owner := flag.String("owner", "", "owner id to put in the subject claim")
	roles := flag.String("roles", "customer", "comma separated roles (admin, support, customer)")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *owner == "" {
		fmt.Fprintln(os.Stderr, "-owner is required")
		os.Exit(2)
	}

	caller := auth.Caller{OwnerID: *owner}
	for _, raw := range strings.Split(*roles, ",") {
		role, ok := auth.ParseRole(raw)
		if !ok {
			fmt.Fprintf(os.Stderr, "unknown role %q\n", raw)
			os.Exit(2)
		}
		caller.Roles = append(caller.Roles, role)
	}

	secret := cfg.JWTSecret
	if secret == "" {
		secret = auth.DevSecret
	}
	tokens, err := auth.NewTokens(secret, cfg.AppName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init tokens: %v\n", err)
		os.Exit(1)
	}
	token, err := tokens.Sign(caller, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
