package identity

import "testing"

func TestResolveRequiresApp(t *testing.T) {
	if _, err := Resolve("", "h1"); err == nil {
		t.Fatal("expected error for empty app name")
	}
	if _, err := Resolve("   ", "h1"); err == nil {
		t.Fatal("expected error for blank app name")
	}
}

func TestResolveExplicitHost(t *testing.T) {
	id, err := Resolve("svc", "h1")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if id.App != "svc" || id.Host != "h1" {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestResolveHostFallback(t *testing.T) {
	t.Setenv("HOSTNAME", "env-host")
	id, err := Resolve("svc", "")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if id.Host != "env-host" {
		t.Fatalf("Host = %q, want env-host", id.Host)
	}
}
