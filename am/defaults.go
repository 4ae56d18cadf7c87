package am

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

var defaultAllowedOrigins = []string{
	"http://localhost",
	"https://localhost",
	"http://127.0.0.1",
	"https://127.0.0.1",
}

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Bridge defaults
	v.SetDefault("bridge.channel", DefaultChannel)
	v.SetDefault("bridge.destination_url", DefaultDestinationURL)
	v.SetDefault("bridge.auto_sync_default", false)

	// Browser defaults
	v.SetDefault("browser.devtools_url", "")
	v.SetDefault("browser.dial_timeout_seconds", 10)
	v.SetDefault("browser.query_timeout_seconds", 0)

	// Server defaults
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", defaultAllowedOrigins)
	v.SetDefault("server.create_per_minute", 30) // Each surface is a browser tab

	// Journal defaults
	v.SetDefault("journal.enabled", false)
	v.SetDefault("journal.path", DefaultJournalPath)
	v.SetDefault("journal.retain_days", 30)

	// Log defaults
	v.SetDefault("log.json", false)
	v.SetDefault("log.http_endpoint", "")
	v.SetDefault("log.http_source", DefaultHTTPSource)
	v.SetDefault("log.console_errors", false)
	v.SetDefault("log.batch_size", 20)
	v.SetDefault("log.flush_interval_ms", 2000)
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("log.http_token", "JANUS_LOG_HTTP_TOKEN")
	v.BindEnv("log.http_endpoint", "JANUS_LOG_HTTP_ENDPOINT")
	v.BindEnv("browser.devtools_url", "JANUS_BROWSER_DEVTOOLS_URL")
}

// GetServerPort returns the configured port, or DefaultServerPort when unset
func (c *Config) GetServerPort() int {
	if c.Server.Port == nil {
		return DefaultServerPort
	}
	return *c.Server.Port
}

// GetServerAllowedOrigins returns the allowed CORS origins
func (c *Config) GetServerAllowedOrigins() []string {
	if len(c.Server.AllowedOrigins) == 0 {
		return defaultAllowedOrigins
	}
	return c.Server.AllowedOrigins
}

// GetChannel returns the bridge channel name
func (c *Config) GetChannel() string {
	if c.Bridge.Channel == "" {
		return DefaultChannel
	}
	return c.Bridge.Channel
}

// GetDestinationURL returns the page surfaces navigate to
func (c *Config) GetDestinationURL() string {
	if c.Bridge.DestinationURL == "" {
		return DefaultDestinationURL
	}
	return c.Bridge.DestinationURL
}

// GetJournalPath returns the journal database path
func (c *Config) GetJournalPath() string {
	if c.Journal.Path == "" {
		return DefaultJournalPath
	}
	return c.Journal.Path
}

// GetJournalRetention returns how long journal entries are kept, 0 for forever
func (c *Config) GetJournalRetention() time.Duration {
	if c.Journal.RetainDays <= 0 {
		return 0
	}
	return time.Duration(c.Journal.RetainDays) * 24 * time.Hour
}

// GetDialTimeout returns the DevTools dial timeout
func (c *Config) GetDialTimeout() time.Duration {
	if c.Browser.DialTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Browser.DialTimeoutSeconds) * time.Second
}

// GetQueryTimeout returns the timeout for a single consent query, or zero
// when queries run until the surface answers or goes away.
func (c *Config) GetQueryTimeout() time.Duration {
	if c.Browser.QueryTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.Browser.QueryTimeoutSeconds) * time.Second
}

// GetFlushInterval returns the log shipping interval
func (c *Config) GetFlushInterval() time.Duration {
	if c.Log.FlushIntervalMs <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.Log.FlushIntervalMs) * time.Millisecond
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Bridge: {Channel: %s, Destination: %s}, Server: {Port: %d}, Journal: {Enabled: %t}}",
		c.GetChannel(), c.GetDestinationURL(), c.GetServerPort(), c.Journal.Enabled)
}
