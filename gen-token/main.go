package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"github.com/golang-jwt/jwt/v4"
	log "github.com/sirupsen/logrus"

	"github.com/fiterafrica/fineract-template/config"
)

type tokenRequest struct {
	Secret   string
	Audience string
	Tenant   string
	Username string
	TTL      time.Duration
}

// testToken signs an HS256 token accepted by services running with
// AUTH0_TEST_MODE.
func testToken(r tokenRequest, now time.Time) (string, error) {
	if r.Secret == "" {
		return "", errors.New("TEST_JWT_SECRET must be set")
	}
	claims := jwt.MapClaims{
		"sub":                r.Username,
		"preferred_username": r.Username,
		"tenant":             r.Tenant,
		"iat":                now.Unix(),
		"exp":                now.Add(r.TTL).Unix(),
	}
	if r.Audience != "" {
		claims["aud"] = r.Audience
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(r.Secret))
}

func generateTokens(base tokenRequest, count, start int, prefix string, now time.Time) ([]string, error) {
	tokens := make([]string, count)
	for i := 0; i < count; i++ {
		r := base
		if count > 1 {
			r.Username = fmt.Sprintf("%s-%d", prefix, start+i)
		}
		tok, err := testToken(r, now)
		if err != nil {
			return nil, err
		}
		tokens[i] = tok
	}
	return tokens, nil
}

func writeTokens(path string, tokens []string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := sonic.Marshal(tokens)
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}

func main() {
	var (
		tenant = flag.String("tenant", "default", "tenant claim")
		count  = flag.Int("count", 1, "number of tokens to generate")
		prefix = flag.String("prefix", "perf-user", "username prefix when count > 1")
		start  = flag.Int("start", 1, "first index when count > 1")
		ttl    = flag.Duration("ttl", time.Hour, "token lifetime")
		output = flag.String("output", "", "file to write generated tokens as a JSON array")
	)
	flag.Parse()

	if *count < 1 || *start < 1 {
		log.Fatal("count and start must be at least 1")
	}
	username := "mifos"
	if args := flag.Args(); len(args) > 0 {
		if *count > 1 {
			log.Fatal("explicit username cannot be combined with count > 1")
		}
		username = args[0]
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	tokens, err := generateTokens(tokenRequest{
		Secret:   cfg.TestJWTSecret,
		Audience: cfg.Auth0Audience,
		Tenant:   *tenant,
		Username: username,
		TTL:      *ttl,
	}, *count, *start, *prefix, time.Now())
	if err != nil {
		log.Fatalf("generate token: %v", err)
	}
	if *output != "" {
		if err := writeTokens(*output, tokens); err != nil {
			log.Fatalf("write tokens: %v", err)
		}
	}
	fmt.Print(tokens[0])
}
