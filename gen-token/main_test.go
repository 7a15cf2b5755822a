package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bytedance/sonic"

	"github.com/fiterafrica/fineract-template/api"
)

func TestTestTokenIsAcceptedInTestMode(t *testing.T) {
	auth := api.NewAuth(api.AuthConfig{Audience: "api://fineract", TestSecret: "s3cret"})
	tok, err := testToken(tokenRequest{
		Secret:   "s3cret",
		Audience: "api://fineract",
		Tenant:   "default",
		Username: "mifos",
		TTL:      time.Hour,
	}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	p, err := auth.Authenticate("Bearer "+tok, "")
	if err != nil {
		t.Fatalf("token rejected: %v", err)
	}
	if p.Username != "mifos" || p.TenantID != "default" {
		t.Fatalf("unexpected principal %+v", p)
	}
}

func TestTestTokenRequiresSecret(t *testing.T) {
	if _, err := testToken(tokenRequest{Username: "mifos", TTL: time.Hour}, time.Now()); err == nil {
		t.Fatalf("expected error without secret")
	}
}

func TestGenerateTokensNumbersUsers(t *testing.T) {
	auth := api.NewAuth(api.AuthConfig{TestSecret: "s"})
	tokens, err := generateTokens(tokenRequest{Secret: "s", Tenant: "t1", TTL: time.Hour}, 3, 5, "perf", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"perf-5", "perf-6", "perf-7"}
	for i, tok := range tokens {
		p, err := auth.Authenticate("Bearer "+tok, "")
		if err != nil {
			t.Fatal(err)
		}
		if p.Username != want[i] {
			t.Fatalf("token %d for %s, want %s", i, p.Username, want[i])
		}
	}
}

func TestWriteTokens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "tokens.json")
	if err := writeTokens(path, []string{"a", "b"}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	if err := sonic.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[1] != "b" {
		t.Fatalf("unexpected tokens %v", got)
	}
}
