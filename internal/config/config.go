package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Default configuration values
const (
	DefaultRelayURL      = "ws://localhost:8080/ws"
	DefaultPort          = "8080"
	DefaultEnvironment   = "development"
	DefaultJWTSecret     = "snaptalks-dev-secret"
	DefaultAdminUsername = "admin"
	DefaultAdminPassword = "snaptalks"
	DefaultTokenTTL      = 12 * time.Hour
)

// DefaultSTUNServers are public NAT-traversal hints. They carry no credentials.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Config holds application configuration
type Config struct {
	// RelayURL is the websocket endpoint of the signaling relay
	RelayURL string

	// STUNServers are the ICE server hints handed to every peer connection
	STUNServers []string

	// Relay server settings
	Port          string
	Environment   string
	JWTSecret     string
	AdminUsername string
	AdminPassword string
	TokenTTL      time.Duration

	// Redis backs the relay's offer store when RedisAddr is set
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Options for loading config with CLI flag overrides
type Options struct {
	RelayURL      string
	STUNServers   string
	Port          string
	AdminUsername string
	AdminPassword string
	RedisAddr     string
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	relayURL := pick(opts.RelayURL, "RELAY_URL", DefaultRelayURL)
	u, err := url.Parse(relayURL)
	if err != nil {
		return nil, fmt.Errorf("invalid relay URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("relay URL must use ws:// or wss://, got %q", relayURL)
	}

	stun := DefaultSTUNServers
	if raw := pick(opts.STUNServers, "STUN_SERVERS", ""); raw != "" {
		stun = splitList(raw)
	}

	redisDB := 0
	if v := os.Getenv("REDIS_DB"); v != "" {
		redisDB, err = strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
	}

	ttl := DefaultTokenTTL
	if v := os.Getenv("TOKEN_TTL"); v != "" {
		ttl, err = time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid TOKEN_TTL: %w", err)
		}
	}

	return &Config{
		RelayURL:      relayURL,
		STUNServers:   stun,
		Port:          pick(opts.Port, "PORT", DefaultPort),
		Environment:   pick("", "ENVIRONMENT", DefaultEnvironment),
		JWTSecret:     pick("", "JWT_SECRET", DefaultJWTSecret),
		AdminUsername: pick(opts.AdminUsername, "ADMIN_USERNAME", DefaultAdminUsername),
		AdminPassword: pick(opts.AdminPassword, "ADMIN_PASSWORD", DefaultAdminPassword),
		TokenTTL:      ttl,
		RedisAddr:     pick(opts.RedisAddr, "REDIS_ADDR", ""),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       redisDB,
	}, nil
}

// pick returns the flag value, then the environment value, then the default.
func pick(flag, env, def string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return def
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	return append([]string(nil), c.STUNServers...)
}

// IsSecureContext reports whether calls may be placed over this relay.
// Like a browser's secure origin: TLS, or a loopback host.
func (c *Config) IsSecureContext() bool {
	u, err := url.Parse(c.RelayURL)
	if err != nil {
		return false
	}
	if u.Scheme == "wss" {
		return true
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// HTTPBaseURL returns the relay's HTTP origin, used for the login API.
func (c *Config) HTTPBaseURL() string {
	u, err := url.Parse(c.RelayURL)
	if err != nil {
		return ""
	}
	scheme := "http"
	if u.Scheme == "wss" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, u.Host)
}

// GetRoomLink returns the shareable link for a room ID
func (c *Config) GetRoomLink(roomID string) string {
	return fmt.Sprintf("%s/r/%s", c.HTTPBaseURL(), roomID)
}

// ListenAddr returns the relay listen address
func (c *Config) ListenAddr() string {
	if strings.Contains(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

// IsProduction reports whether the relay runs in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
