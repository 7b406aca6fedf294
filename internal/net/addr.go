package net

import (
	"fmt"
	"net"
	"strconv"
)

const DefaultHost = "0.0.0.0"

// ParseEndpoint normalizes a TCP listen endpoint. It accepts host:port, :port,
// or a bare port, which listens on all interfaces.
func ParseEndpoint(endpoint string) (string, error) {
	if _, err := strconv.ParseUint(endpoint, 10, 16); err == nil {
		return net.JoinHostPort(DefaultHost, endpoint), nil
	}
	host, port, err := net.SplitHostPort(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return "", fmt.Errorf("invalid port in endpoint %q", endpoint)
	}
	if host == "" {
		host = DefaultHost
	} else if ip := net.ParseIP(host); ip == nil && host != "localhost" {
		return "", fmt.Errorf("invalid host in endpoint %q: expected an IP address", endpoint)
	}
	return net.JoinHostPort(host, port), nil
}

// FreeTCPAddr returns a loopback address with a port that was free a moment ago.
func FreeTCPAddr() (string, error) {
	addr, err := net.ResolveTCPAddr("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("resolving 127.0.0.1:0: %w", err)
	}
	listener, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("listening to acquire port: %w", err)
	}
	defer listener.Close()
	return listener.Addr().String(), nil
}
