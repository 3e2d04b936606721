// Package config provides configuration management for the proxy and the
// development store server.
//
// The package supports configuration through multiple sources with the following precedence:
//  1. Environment variables (highest priority)
//  2. Command-line flags
//  3. Default values (lowest priority)
//
// Proxy Configuration:
//   - Store backend and instance addresses
//   - Connection timeouts and authentication
//   - Result drain interval
//   - Logging configuration
//
// Server Configuration:
//   - Port and host binding settings
//   - Connection limits and timeouts
//   - Logging configuration
//
// Example proxy usage:
//
//	cfg := config.LoadProxyConfig(flag.CommandLine, os.Args[1:])
//	if err := cfg.Validate(); err != nil {
//		log.Fatal(err)
//	}
//
// Environment variables are prefixed with "ASYNCPROXY_" and use uppercase names.
// For example, the instance list can be set with
// ASYNCPROXY_INSTANCES=cache-a:6379,cache-b:6379.
package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Default configuration constants
const (
	DefaultBackend          = BackendRedis
	DefaultDialTimeoutSecs  = 5
	DefaultReadTimeoutSecs  = 30
	DefaultWriteTimeoutSecs = 10
	DefaultDrainIntervalMs  = 10
	DefaultServerPort       = 7379
	DefaultMaxConnections   = 1000
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
	envPrefix               = "ASYNCPROXY_"
	serverEnvPrefix         = envPrefix + "SERVER_"
	maxPort                 = 65535
	instanceListSeparator   = ","
	defaultInstanceAddress  = "localhost:6379"
)

// Store backends understood by the proxy.
const (
	BackendRedis = "redis" // RESP via go-redis
	BackendWire  = "wire"  // CacheMir binary protocol
)

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// ProxyConfig holds everything needed to build a proxy registry.
//
// Instances is positional: the entry at index i is bound to instance id i.
// An empty entry leaves that id unbound.
type ProxyConfig struct {
	Backend       string   // "redis" or "wire" (default: "redis")
	Instances     []string // host:port per instance id (default: ["localhost:6379"])
	Password      string   // AUTH password, redis backend only
	DB            int      // Database index, redis backend only
	DialTimeout   int      // Connect timeout in seconds (default: 5)
	ReadTimeout   int      // Reply timeout in seconds, 0 disables (default: 30)
	WriteTimeout  int      // Send timeout in seconds, 0 disables (default: 10)
	DrainInterval int      // Result drain interval in milliseconds (default: 10)
	LogLevel      string   // debug, info, warn, error (default: "info")
	LogFormat     string   // text or json (default: "text")
}

// ServerConfig holds all configuration options for a development store server.
type ServerConfig struct {
	Host         string // Host address to bind to (default: "0.0.0.0")
	LogLevel     string // Log level: debug, info, warn, error (default: "info")
	Port         int    // TCP port to listen on (default: 7379)
	MaxConns     int    // Maximum concurrent connections (default: 1000)
	ReadTimeout  int    // Idle read timeout in seconds (default: 30)
	WriteTimeout int    // Write timeout in seconds (default: 10)
}

// DefaultProxyConfig returns a ProxyConfig populated with defaults.
func DefaultProxyConfig() *ProxyConfig {
	return &ProxyConfig{
		Backend:       DefaultBackend,
		Instances:     []string{defaultInstanceAddress},
		DialTimeout:   DefaultDialTimeoutSecs,
		ReadTimeout:   DefaultReadTimeoutSecs,
		WriteTimeout:  DefaultWriteTimeoutSecs,
		DrainInterval: DefaultDrainIntervalMs,
		LogLevel:      DefaultLogLevel,
		LogFormat:     DefaultLogFormat,
	}
}

// DefaultServerConfig returns a ServerConfig populated with defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:         "0.0.0.0",
		Port:         DefaultServerPort,
		MaxConns:     DefaultMaxConnections,
		ReadTimeout:  DefaultReadTimeoutSecs,
		WriteTimeout: DefaultWriteTimeoutSecs,
		LogLevel:     DefaultLogLevel,
	}
}

// LoadProxyConfig builds a ProxyConfig from defaults, then the flags in args
// parsed with fs, then ASYNCPROXY_* environment variables.
//
// Command-line flags:
//
//	-backend: Store backend, redis or wire (default: "redis")
//	-instances: Comma-separated host:port list, one per instance id
//	-password: Store password
//	-db: Store database index
//	-dial-timeout: Connect timeout in seconds
//	-read-timeout: Reply timeout in seconds
//	-write-timeout: Send timeout in seconds
//	-drain-interval: Result drain interval in milliseconds
//	-log-level: Log level
//	-log-format: Log format
//
// Parse errors are returned by fs according to its error handling mode.
func LoadProxyConfig(fs *flag.FlagSet, args []string) (*ProxyConfig, error) {
	cfg := DefaultProxyConfig()
	instances := strings.Join(cfg.Instances, instanceListSeparator)

	fs.StringVar(&cfg.Backend, "backend", cfg.Backend, "Store backend (redis, wire)")
	fs.StringVar(&instances, "instances", instances, "Comma-separated host:port list, one per instance id")
	fs.StringVar(&cfg.Password, "password", cfg.Password, "Store password")
	fs.IntVar(&cfg.DB, "db", cfg.DB, "Store database index")
	fs.IntVar(&cfg.DialTimeout, "dial-timeout", cfg.DialTimeout, "Connect timeout in seconds")
	fs.IntVar(&cfg.ReadTimeout, "read-timeout", cfg.ReadTimeout, "Reply timeout in seconds (0 disables)")
	fs.IntVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "Send timeout in seconds (0 disables)")
	fs.IntVar(&cfg.DrainInterval, "drain-interval", cfg.DrainInterval, "Result drain interval in milliseconds")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (text, json)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.Instances = splitInstances(instances)

	if v := os.Getenv(envPrefix + "BACKEND"); v != "" {
		cfg.Backend = v
	}
	if v := os.Getenv(envPrefix + "INSTANCES"); v != "" {
		cfg.Instances = splitInstances(v)
	}
	if v := os.Getenv(envPrefix + "PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv(envPrefix + "LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	envInt(envPrefix+"DB", &cfg.DB)
	envInt(envPrefix+"DIAL_TIMEOUT", &cfg.DialTimeout)
	envInt(envPrefix+"READ_TIMEOUT", &cfg.ReadTimeout)
	envInt(envPrefix+"WRITE_TIMEOUT", &cfg.WriteTimeout)
	envInt(envPrefix+"DRAIN_INTERVAL", &cfg.DrainInterval)

	return cfg, nil
}

// LoadServerConfig builds a ServerConfig from defaults, the flags in args
// parsed with fs, and ASYNCPROXY_SERVER_* environment variables.
//
// Command-line flags:
//
//	-port: Server port (default: 7379)
//	-host: Server host (default: "0.0.0.0")
//	-max-conns: Maximum connections (default: 1000)
//	-read-timeout: Read timeout in seconds (default: 30)
//	-write-timeout: Write timeout in seconds (default: 10)
//	-log-level: Log level (default: "info")
func LoadServerConfig(fs *flag.FlagSet, args []string) (*ServerConfig, error) {
	cfg := DefaultServerConfig()

	fs.IntVar(&cfg.Port, "port", cfg.Port, "Server port")
	fs.StringVar(&cfg.Host, "host", cfg.Host, "Server host")
	fs.IntVar(&cfg.MaxConns, "max-conns", cfg.MaxConns, "Maximum concurrent connections")
	fs.IntVar(&cfg.ReadTimeout, "read-timeout", cfg.ReadTimeout, "Read timeout in seconds")
	fs.IntVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "Write timeout in seconds")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	envInt(serverEnvPrefix+"PORT", &cfg.Port)
	if host := os.Getenv(serverEnvPrefix + "HOST"); host != "" {
		cfg.Host = host
	}
	envInt(serverEnvPrefix+"MAX_CONNS", &cfg.MaxConns)
	if level := os.Getenv(serverEnvPrefix + "LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	return cfg, nil
}

func envInt(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func splitInstances(list string) []string {
	if strings.TrimSpace(list) == "" {
		return nil
	}
	parts := strings.Split(list, instanceListSeparator)
	for i, part := range parts {
		parts[i] = strings.TrimSpace(part)
	}
	return parts
}

// SplitHostPort splits an instance address into host and numeric port.
//
// Example:
//
//	host, port, err := config.SplitHostPort("cache-a:6379") // "cache-a", 6379
func SplitHostPort(addr string) (host string, port int, err error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid instance address %q: %w", addr, err)
	}
	if host == "" {
		return "", 0, fmt.Errorf("invalid instance address %q: empty host", addr)
	}
	port, err = strconv.Atoi(portStr)
	if err != nil || port < 1 || port > maxPort {
		return "", 0, fmt.Errorf("invalid instance address %q: bad port", addr)
	}
	return host, port, nil
}

// Timeouts returns the dial, read and write timeouts as durations.
func (c *ProxyConfig) Timeouts() (dial, read, write time.Duration) {
	return time.Duration(c.DialTimeout) * time.Second,
		time.Duration(c.ReadTimeout) * time.Second,
		time.Duration(c.WriteTimeout) * time.Second
}

// DrainEvery returns DrainInterval as a duration.
func (c *ProxyConfig) DrainEvery() time.Duration {
	return time.Duration(c.DrainInterval) * time.Millisecond
}

// Validate checks if the ProxyConfig contains valid values.
//
// Validation rules:
//   - Backend must be "redis" or "wire"
//   - At least one instance must be configured; non-empty entries must be host:port
//   - DialTimeout and DrainInterval must be positive
//   - ReadTimeout, WriteTimeout and DB must be non-negative
//   - LogLevel must be one of: debug, info, warn, error
//   - LogFormat must be text or json
//
// Returns:
//   - nil if configuration is valid
//   - Error describing the first validation failure found
func (c *ProxyConfig) Validate() error {
	if c.Backend != BackendRedis && c.Backend != BackendWire {
		return fmt.Errorf("invalid backend: %s", c.Backend)
	}

	bound := 0
	for _, addr := range c.Instances {
		if addr == "" {
			continue
		}
		if _, _, err := SplitHostPort(addr); err != nil {
			return err
		}
		bound++
	}
	if bound == 0 {
		return fmt.Errorf("at least one instance must be specified")
	}

	if c.DialTimeout < 1 {
		return fmt.Errorf("dial timeout must be positive: %d", c.DialTimeout)
	}

	if c.ReadTimeout < 0 {
		return fmt.Errorf("read timeout must be non-negative: %d", c.ReadTimeout)
	}

	if c.WriteTimeout < 0 {
		return fmt.Errorf("write timeout must be non-negative: %d", c.WriteTimeout)
	}

	if c.DB < 0 {
		return fmt.Errorf("db must be non-negative: %d", c.DB)
	}

	if c.DrainInterval < 1 {
		return fmt.Errorf("drain interval must be positive: %d", c.DrainInterval)
	}

	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}

	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("invalid log format: %s", c.LogFormat)
	}

	return nil
}

// Address returns the full address string for the server to bind to.
// It combines the host and port into a format suitable for net.Listen().
//
// Example:
//
//	config := &ServerConfig{Host: "0.0.0.0", Port: 7379}
//	addr := config.Address() // Returns "0.0.0.0:7379"
func (c *ServerConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate checks if the ServerConfig contains valid values.
//
// Validation rules:
//   - Port must be between 0 and 65535 (0 picks a free port)
//   - MaxConns must be positive
//   - ReadTimeout must be positive
//   - WriteTimeout must be positive
//   - LogLevel must be one of: debug, info, warn, error
func (c *ServerConfig) Validate() error {
	if c.Port < 0 || c.Port > maxPort {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	if c.MaxConns < 1 {
		return fmt.Errorf("max connections must be positive: %d", c.MaxConns)
	}

	if c.ReadTimeout < 1 {
		return fmt.Errorf("read timeout must be positive: %d", c.ReadTimeout)
	}

	if c.WriteTimeout < 1 {
		return fmt.Errorf("write timeout must be positive: %d", c.WriteTimeout)
	}

	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}

	return nil
}
