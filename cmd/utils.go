package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/surge-downloader/odoo-images/internal/config"
	"github.com/surge-downloader/odoo-images/internal/utils"
)

// Environment overrides for client commands
const (
	envServer = "ODOO_IMAGES_SERVER"
	envToken  = "ODOO_IMAGES_TOKEN"
)

// defaultPort is where serve starts looking for a free port
const defaultPort = 1700

func portFile() string {
	return filepath.Join(config.GetRuntimeDir(), "port")
}

// readActivePort reads the port from the port file
func readActivePort() int {
	data, err := os.ReadFile(portFile())
	if err != nil {
		return 0
	}
	var port int
	_, _ = fmt.Sscanf(string(data), "%d", &port)
	return port
}

// saveActivePort writes the active port for client discovery
func saveActivePort(port int) {
	if err := os.MkdirAll(config.GetRuntimeDir(), 0o755); err != nil {
		utils.Debug("Error creating runtime dir: %v", err)
		return
	}
	if err := os.WriteFile(portFile(), []byte(fmt.Sprintf("%d", port)), 0o644); err != nil {
		utils.Debug("Error writing port file: %v", err)
		return
	}
	utils.Debug("HTTP server listening on port %d", port)
}

// removeActivePort cleans up the port file on exit
func removeActivePort() {
	if err := os.Remove(portFile()); err != nil && !os.IsNotExist(err) {
		utils.Debug("Error removing port file: %v", err)
	}
}

// findAvailablePort tries ports starting from 'start' until one is available
func findAvailablePort(start int) (int, net.Listener) {
	for port := start; port < start+100; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err == nil {
			return port, ln
		}
	}
	return 0, nil
}

// readRefsFromFile reads id[:label] tokens, one per line.
// Blank lines and lines starting with # are skipped.
func readRefsFromFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var tokens []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			tokens = append(tokens, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return tokens, nil
}

// resolveAPIConnection finds a running serve instance: --server, then
// ODOO_IMAGES_SERVER, then the local port file.
func resolveAPIConnection(serverFlag, tokenFlag string, allowInsecureHTTP bool) (string, string, error) {
	target := strings.TrimSpace(serverFlag)
	if target == "" {
		target = strings.TrimSpace(os.Getenv(envServer))
	}
	if target == "" {
		port := readActivePort()
		if port == 0 {
			return "", "", errors.New("odoo-images serve is not running locally. start it or pass --server (or set " + envServer + ")")
		}
		target = fmt.Sprintf("127.0.0.1:%d", port)
	}

	baseURL, err := resolveConnectBaseURL(target, allowInsecureHTTP)
	if err != nil {
		return "", "", err
	}
	token, err := resolveTokenForTarget(baseURL, tokenFlag)
	if err != nil {
		return "", "", err
	}
	return baseURL, token, nil
}

// resolveTokenForTarget picks the bearer token: flag, env, and for loopback
// targets the token file written by serve.
func resolveTokenForTarget(baseURL, tokenFlag string) (string, error) {
	if token := strings.TrimSpace(tokenFlag); token != "" {
		return token, nil
	}
	if token := strings.TrimSpace(os.Getenv(envToken)); token != "" {
		return token, nil
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	if isLoopbackHost(u.Hostname()) {
		return readAuthToken(), nil
	}
	return "", errors.New("no token provided. Use --token or set " + envToken)
}

func resolveConnectBaseURL(target string, allowInsecureHTTP bool) (string, error) {
	if strings.Contains(target, "://") {
		u, err := url.Parse(target)
		if err != nil {
			return "", fmt.Errorf("invalid target: %v", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return "", fmt.Errorf("unsupported scheme %q (use http or https)", u.Scheme)
		}
		if u.Host == "" {
			return "", fmt.Errorf("invalid target: missing host")
		}
		if u.Scheme == "http" && !allowInsecureHTTP && !isLoopbackHost(u.Hostname()) {
			return "", fmt.Errorf("refusing insecure HTTP for non-loopback target. Use https:// or --insecure-http")
		}
		return fmt.Sprintf("%s://%s", u.Scheme, u.Host), nil
	}

	scheme := "https"
	if isLoopbackHost(hostnameFromTarget(target)) {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s", scheme, target), nil
}

func hostnameFromTarget(target string) string {
	host := target
	if idx := strings.Index(host, ":"); idx != -1 {
		host = host[:idx]
	}
	return host
}

func isLoopbackHost(host string) bool {
	if host == "" {
		return false
	}
	h := strings.ToLower(host)
	if h == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}
