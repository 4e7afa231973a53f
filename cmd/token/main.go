// Command token mints a signed identity token for local testing:
//
//	JWT_SECRET=dev go run ./cmd/token -user u1 -name "Dana" -ttl 24h
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"roadwatch/internal/auth"
	"roadwatch/internal/config"
	"roadwatch/internal/engine"
)

func main() {
	user := flag.String("user", "", "user id (token subject)")
	name := flag.String("name", "", "display name")
	avatar := flag.String("avatar", "", "avatar URL")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if *user == "" {
		fmt.Fprintln(os.Stderr, "usage: token -user <id> [-name <display name>] [-avatar <url>] [-ttl 24h]")
		os.Exit(2)
	}

	cfg := config.Load()
	tok, err := auth.Sign([]byte(cfg.JWTSecret), engine.Claim{
		UserID:      *user,
		DisplayName: *name,
		Avatar:      *avatar,
	}, *ttl, time.Now())
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(tok)
}
