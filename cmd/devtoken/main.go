// Command devtoken prints a bearer token for local testing against the API.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"contact.broker/config"
	"contact.broker/internal/auth"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	subject := flag.String("sub", "dev", "token subject")
	role := flag.String("role", string(auth.RoleRequester), "requester or discloser")
	resources := flag.String("resources", "*", "comma separated resource keys")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}
	if cfg.Auth.Disabled {
		fmt.Fprintln(os.Stderr, "auth is disabled, no token needed")
		os.Exit(1)
	}

	r := auth.Role(*role)
	if r != auth.RoleRequester && r != auth.RoleDiscloser {
		fmt.Fprintf(os.Stderr, "unknown role %q\n", *role)
		os.Exit(2)
	}

	tok, err := auth.NewService(cfg.Auth.JWTSecret).GenerateToken(auth.Identity{
		Subject:   *subject,
		Role:      r,
		Resources: strings.Split(*resources, ","),
	}, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sign error:", err)
		os.Exit(1)
	}
	fmt.Println(tok)
}
