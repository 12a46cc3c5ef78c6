package main

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
)

const (
	defaultServicePort = "5260"
	defaultServiceHost = "localhost"

	// serviceAddrEnv overrides where the launcher expects the image service.
	serviceAddrEnv = "XUFEI_SERVICE_ADDR"
)

// serviceAddr returns the host:port of the image service.
func serviceAddr() string {
	if raw := os.Getenv(serviceAddrEnv); raw != "" {
		if addr, err := normalizeServiceAddr(raw); err == nil {
			return addr
		}
	}
	return net.JoinHostPort(defaultServiceHost, defaultServicePort)
}

// listenAddr turns the dial address into the -addr flag for the service.
func listenAddr(addr string) string {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return ":" + defaultServicePort
	}
	return ":" + port
}

// normalizeServiceAddr accepts host, host:port, IPv6, and http(s)/ws(s)
// URLs and returns a canonical host:port for dialing.
func normalizeServiceAddr(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("service address is required")
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return "", fmt.Errorf("invalid service address: %w", err)
		}
		if u.Host == "" {
			return "", fmt.Errorf("invalid service address: missing host")
		}
		s = u.Host
	}

	// Ignore trailing paths in manual input.
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		return "", fmt.Errorf("invalid service address: missing host")
	}

	host := s
	port := defaultServicePort

	if h, p, err := net.SplitHostPort(s); err == nil {
		host = h
		port = p
	} else {
		switch {
		case net.ParseIP(s) != nil && strings.Contains(s, ":"):
			// Raw IPv6 without brackets.
		case strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]"):
			host = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
		case strings.Contains(s, ":"):
			return "", fmt.Errorf("invalid service address: %q", raw)
		}
	}

	if host == "" {
		host = defaultServiceHost
	}

	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return "", fmt.Errorf("invalid service port: %q", port)
	}

	return net.JoinHostPort(host, strconv.Itoa(n)), nil
}
