// Command tokengen mints operator tokens for the wallet API.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/josh-kwaku/casino-wallet-core/internal/auth"
)

type tokenConfig struct {
	JWTSecret string        `env:"JWT_SECRET,required,notEmpty"`
	JWTExpiry time.Duration `env:"JWT_EXPIRY" envDefault:"24h"`
}

func main() {
	_ = godotenv.Load()

	role := flag.String("role", auth.RoleOperator, "admin|operator|auditor")
	user := flag.String("user", "", "operator user id (random when empty)")
	ttl := flag.Duration("ttl", 0, "token lifetime (defaults to JWT_EXPIRY)")
	flag.Parse()

	if err := run(os.Stdout, *role, *user, *ttl); err != nil {
		fmt.Fprintln(os.Stderr, "tokengen:", err)
		os.Exit(1)
	}
}

func run(out io.Writer, role, user string, ttl time.Duration) error {
	cfg, err := env.ParseAs[tokenConfig]()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if ttl <= 0 {
		ttl = cfg.JWTExpiry
	}

	userID := uuid.New()
	if user != "" {
		if userID, err = uuid.Parse(user); err != nil {
			return fmt.Errorf("-user: %w", err)
		}
	}

	token, err := auth.GenerateToken(userID, role, cfg.JWTSecret, ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
