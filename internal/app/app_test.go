package app

import (
	"context"
	"testing"
	"time"

	"amplify/internal/config"
	"amplify/internal/model"
)

func memConfig() config.Config {
	cfg := config.Default()
	cfg.Storage.DBPath = ":memory:"
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Server.MetricsAddr = ""
	return cfg
}

func TestNewWiresComponents(t *testing.T) {
	cfg := memConfig()
	cfg.Credentials.Twitter.Token = "tw"
	cfg.Credentials.Facebook = config.AccountCredentials{Token: "fb", AccountID: "page-1"}
	cfg.Brands = []model.Brand{{ID: "acme", Name: "Acme"}}
	a, err := New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	if names := a.Adapters.Names(); len(names) != 4 {
		t.Fatalf("adapters: %v", names)
	}
	for _, p := range model.AllPlatforms {
		if !a.Adapters.Has(p) {
			t.Fatalf("missing adapter %s", p)
		}
	}
	h := a.Handler()
	if h.Posts == nil || h.Publisher == nil || h.Syncer == nil || h.Ads == nil || h.Breakers == nil {
		t.Fatalf("handler not wired: %+v", h)
	}
}

func TestCredentialsSkipsEmptyTokens(t *testing.T) {
	creds := Credentials(config.CredentialsConfig{
		Twitter:  config.AccountCredentials{Token: "tw"},
		LinkedIn: config.AccountCredentials{AccountID: "urn:li:person:1"},
	})
	if _, err := creds.Credentials(context.Background(), "u", model.PlatformTwitter); err != nil {
		t.Fatal(err)
	}
	if _, err := creds.Credentials(context.Background(), "u", model.PlatformLinkedIn); err == nil {
		t.Fatal("linkedin without token must be rejected")
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	a, err := New(memConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}
