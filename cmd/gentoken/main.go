// gentoken prints an access token for an operator or a test user,
// or a new secret key with --new-secret
package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/kglow/internal/models"
	"github.com/nkiryanov/kglow/internal/service/auth/tokenmanager"
)

const SecretKeyBytesLen = 32

func main() {
	if err := run(os.Args[1:], os.Getenv, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "gentoken: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, getenv func(string) string, out io.Writer) error {
	var (
		secret    = getenv("SECRET_KEY")
		userID    string
		role      = models.RoleUser
		ttl       = time.Hour
		newSecret bool
	)

	fs := pflag.NewFlagSet("gentoken", pflag.ContinueOnError)
	fs.StringVarP(&secret, "secret-key", "s", secret, "Secret key to sign the token (default $SECRET_KEY)")
	fs.StringVarP(&userID, "user", "u", "", "User ID; random if empty")
	fs.StringVarP(&role, "role", "r", role, "Role: user or admin")
	fs.DurationVar(&ttl, "ttl", ttl, "Token lifetime")
	fs.BoolVar(&newSecret, "new-secret", false, "Print a new random secret key and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if newSecret {
		b := make([]byte, SecretKeyBytesLen)
		if _, err := rand.Read(b); err != nil {
			return fmt.Errorf("error while generating secret key: %w", err)
		}
		_, err := fmt.Fprintln(out, hex.EncodeToString(b))
		return err
	}

	if role != models.RoleUser && role != models.RoleAdmin {
		return fmt.Errorf("unknown role '%s'", role)
	}
	if secret == "" {
		return errors.New("secret key is required")
	}

	id := uuid.New()
	if userID != "" {
		var err error
		if id, err = uuid.Parse(userID); err != nil {
			return fmt.Errorf("invalid user id: %w", err)
		}
	}

	tm, err := tokenmanager.New(tokenmanager.Config{SecretKey: secret})
	if err != nil {
		return err
	}

	token, err := tm.Issue(models.Principal{UserID: id, Role: role}, ttl)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(out, token.Value)
	return err
}
