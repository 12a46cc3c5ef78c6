package main

import "testing"

func TestNormalizeServiceAddr(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"myhost", "myhost:5260"},
		{"myhost:5000", "myhost:5000"},
		{"  myhost:5000  ", "myhost:5000"},
		{":6000", "localhost:6000"},
		{"http://127.0.0.1:5260/status", "127.0.0.1:5260"},
		{"ws://example.com", "example.com:5260"},
		{"::1", "[::1]:5260"},
		{"[::1]", "[::1]:5260"},
		{"[::1]:7000", "[::1]:7000"},
		{"kiosk.local/ignored/path", "kiosk.local:5260"},
	}
	for _, c := range cases {
		got, err := normalizeServiceAddr(c.in)
		if err != nil {
			t.Errorf("normalizeServiceAddr(%q): unexpected error %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("normalizeServiceAddr(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNormalizeServiceAddrErrors(t *testing.T) {
	for _, in := range []string{"", "   ", "http://", "host:0", "host:99999", "host:abc", "a:b:c"} {
		if _, err := normalizeServiceAddr(in); err == nil {
			t.Errorf("normalizeServiceAddr(%q): expected error", in)
		}
	}
}

func TestServiceAddrEnv(t *testing.T) {
	t.Setenv(serviceAddrEnv, "")
	if got := serviceAddr(); got != "localhost:5260" {
		t.Errorf("default serviceAddr() = %q", got)
	}

	t.Setenv(serviceAddrEnv, "127.0.0.1:7000")
	if got := serviceAddr(); got != "127.0.0.1:7000" {
		t.Errorf("serviceAddr() = %q, want 127.0.0.1:7000", got)
	}

	t.Setenv(serviceAddrEnv, "bad:port:value")
	if got := serviceAddr(); got != "localhost:5260" {
		t.Errorf("invalid override should fall back, got %q", got)
	}
}

func TestListenAddr(t *testing.T) {
	if got := listenAddr("localhost:7000"); got != ":7000" {
		t.Errorf("listenAddr = %q", got)
	}
	if got := listenAddr("garbage"); got != ":5260" {
		t.Errorf("listenAddr fallback = %q", got)
	}
}
