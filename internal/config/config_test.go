package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Journal.RetentionMode != "ephemeral" {
		t.Fatalf("expected ephemeral journal default, got %q", cfg.Journal.RetentionMode)
	}
	if cfg.Dictation.TrailingSeparator != " " {
		t.Fatalf("expected single-space separator default, got %q", cfg.Dictation.TrailingSeparator)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VOXED_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("VOXED_BUS_USERNAME", "alice")
	t.Setenv("VOXED_BUS_PASSWORD", "secret")
	t.Setenv("VOXED_TRANSPORT_MODE", "deepgram")
	t.Setenv("VOXED_TRANSPORT_API_KEY", "dg-key")
	t.Setenv("VOXED_TRANSPORT_MODEL", "nova-2")
	t.Setenv("VOXED_EDIT_MODE", "ollama")
	t.Setenv("VOXED_EDIT_ENDPOINT", "http://llm:11434")
	t.Setenv("VOXED_EDIT_TEMPERATURE", "0.5")
	t.Setenv("VOXED_JOURNAL_RETENTION_MODE", "session")
	t.Setenv("VOXED_DICTATION_SESSION_ID", "scratch")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if cfg.Transport.Mode != "deepgram" || cfg.Transport.APIKey != "dg-key" {
		t.Fatalf("expected transport override, got %+v", cfg.Transport)
	}
	if cfg.Transport.Model != "nova-2" {
		t.Fatalf("expected transport model override")
	}
	if cfg.Edit.Mode != "ollama" || cfg.Edit.Endpoint != "http://llm:11434" {
		t.Fatalf("expected edit override, got %+v", cfg.Edit)
	}
	if cfg.Edit.Temperature != 0.5 {
		t.Fatalf("expected temperature override, got %v", cfg.Edit.Temperature)
	}
	if cfg.Journal.RetentionMode != "session" {
		t.Fatalf("expected journal retention override")
	}
	if cfg.Dictation.SessionID != "scratch" {
		t.Fatalf("expected session id override")
	}
}

func TestValidateRejectsBadModes(t *testing.T) {
	t.Setenv("VOXED_TRANSPORT_MODE", "telepathy")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for unknown transport mode")
	}
}

func TestValidateDeepgramNeedsKey(t *testing.T) {
	t.Setenv("VOXED_TRANSPORT_MODE", "deepgram")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for deepgram mode without api key")
	}
}
