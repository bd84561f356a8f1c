package config

import (
	"testing"

	"github.com/vradius/radclient/internal/radius"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load([]string{"-host", "radius.example.com"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Host != "radius.example.com" {
		t.Fatalf("host = %q", cfg.Host)
	}
	if cfg.Port != 1812 {
		t.Fatalf("port = %d, want 1812", cfg.Port)
	}
	if cfg.Mode != radius.ModeClient {
		t.Fatalf("mode = %v, want client", cfg.Mode)
	}
	if cfg.RequireMessageAuthenticator != radius.RequireMAAuto {
		t.Fatalf("require-ma = %v, want auto", cfg.RequireMessageAuthenticator)
	}
}

func TestLoad_StreamFlagFeedsTrunkConfig(t *testing.T) {
	cfg, err := Load([]string{"-host", "radius.example.com", "-stream"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Stream {
		t.Fatal("expected -stream to set Stream=true")
	}
	if !cfg.TrunkConfig().Stream {
		t.Fatal("expected TrunkConfig().Stream to carry the flag through")
	}
}

func TestLoad_RejectsEmptyHost(t *testing.T) {
	if _, err := Load(nil); err == nil {
		t.Fatal("expected error for missing host")
	}
}

func TestLoad_RejectsUnknownMode(t *testing.T) {
	if _, err := Load([]string{"-host", "x", "-mode", "bogus"}); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestValidate_StatusChecksRequireNumAnswers(t *testing.T) {
	cfg := Default("x", 1812)
	cfg.StatusCheckCode = radius.CodeStatusServer
	cfg.NumAnswersToAlive = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when status checks enabled with num_answers_to_alive=0")
	}
}

func TestValidate_NoStatusChecksRequireReviveInterval(t *testing.T) {
	cfg := Default("x", 1812)
	cfg.StatusCheckCode = 0
	cfg.ReviveInterval = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when status checks disabled with revive_interval=0")
	}
}

func TestRetryFor_FallsBackToTimeoutRetry(t *testing.T) {
	cfg := Default("x", 1812)
	got := cfg.RetryFor(radius.CodeAccessRequest)
	want := cfg.TimeoutRetry.toRadiusConfig()
	if got != want {
		t.Fatalf("RetryFor fallback = %+v, want %+v", got, want)
	}

	cfg.Retry[radius.CodeAccessRequest] = RetryEntry{MRC: 3}
	got = cfg.RetryFor(radius.CodeAccessRequest)
	if got.MRC != 3 {
		t.Fatalf("RetryFor override = %+v, want MRC=3", got)
	}
}

func TestIsAllowed_EmptyMeansAll(t *testing.T) {
	cfg := Default("x", 1812)
	if !cfg.IsAllowed(radius.CodeAccessRequest) {
		t.Fatal("empty Allowed map should allow everything")
	}
	cfg.Allowed[radius.CodeAccessRequest] = true
	if cfg.IsAllowed(radius.CodeAccountingRequest) {
		t.Fatal("non-listed code should not be allowed once Allowed is non-empty")
	}
}
