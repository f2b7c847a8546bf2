// Command autocall-token issues API bearer tokens signed with the daemon's secret.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"autocall/internal/auth"
	"autocall/internal/core"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	var (
		secret  = flag.String("secret", os.Getenv("AUTOCALL_JWT_SECRET"), "HS256 signing secret (env: AUTOCALL_JWT_SECRET)")
		userID  = flag.String("user", "", "User id the token identifies")
		isAdmin = flag.Bool("admin", false, "Grant administrator rights")
		ttl     = flag.Duration("ttl", 24*time.Hour, "Token lifetime")
	)
	flag.Parse()

	authenticator, err := auth.NewAuthenticator(*secret, *ttl)
	if err != nil {
		log.Fatalf("create authenticator: %v", err)
	}
	token, err := authenticator.Issue(core.Principal{UserID: *userID, IsAdmin: *isAdmin})
	if err != nil {
		log.Fatalf("issue token: %v", err)
	}
	fmt.Println(token)
}
