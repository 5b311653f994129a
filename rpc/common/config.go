package common

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DefaultPort is the port the server listens on unless configured otherwise.
const DefaultPort = 27020

// DefaultMaxFrameSize bounds the payload of a single frame (16 MiB).
const DefaultMaxFrameSize = 16 << 20

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters for a dDoc server.
type ServerConfig struct {
	// RPC settings
	Endpoint       string
	MaxFrameSize   uint32
	MaxConnections int   // 0 means unbounded
	TimeoutSecond  int64 // idle read timeout per connection, 0 means none

	// Storage
	DataDir    string
	SyncWrites bool

	// Observability
	MetricsEndpoint string // empty disables the metrics listener
	LogLevel        string
}

// DefaultServerConfig returns the configuration used when no flags are given.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Endpoint:     fmt.Sprintf("0.0.0.0:%d", DefaultPort),
		MaxFrameSize: DefaultMaxFrameSize,
		DataDir:      "data",
		SyncWrites:   true,
		LogLevel:     "info",
	}
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// RPC settings
	addSection("RPC Server")
	addField("Endpoint", c.Endpoint)
	addField("Max Frame Size", fmt.Sprintf("%d bytes", c.MaxFrameSize))
	if c.MaxConnections > 0 {
		addField("Max Connections", strconv.Itoa(c.MaxConnections))
	} else {
		addField("Max Connections", "unbounded")
	}
	if c.TimeoutSecond > 0 {
		addField("Idle Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	} else {
		addField("Idle Timeout", "none")
	}

	// Storage
	addSection("Storage")
	addField("Data Directory", c.DataDir)
	addField("Sync Writes", strconv.FormatBool(c.SyncWrites))

	// Observability
	addSection("Observability")
	addField("Log Level", c.LogLevel)
	if c.MetricsEndpoint != "" {
		addField("Metrics Endpoint", c.MetricsEndpoint)
	} else {
		addField("Metrics Endpoint", "disabled")
	}

	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

type ClientConfig struct {
	Endpoints              []string
	TimeoutSecond          int
	RetryCount             int
	ConnectionsPerEndpoint int
	MaxFrameSize           uint32
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.RetryCount))
	addField("Connections Per Endpoint", strconv.Itoa(int(math.Max(1, float64(c.ConnectionsPerEndpoint)))))
	addField("Max Frame Size", fmt.Sprintf("%d bytes", c.MaxFrameSize))

	// Endpoints
	addSection("Endpoints")
	for i, endpoint := range c.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}
