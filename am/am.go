package am

// Config represents the janus configuration
type Config struct {
	Bridge  BridgeConfig  `mapstructure:"bridge"`
	Browser BrowserConfig `mapstructure:"browser"`
	Server  ServerConfig  `mapstructure:"server"`
	Journal JournalConfig `mapstructure:"journal"`
	Log     LogConfig     `mapstructure:"log"`
	Native  NativeConfig  `mapstructure:"native"`
}

// BridgeConfig configures how surfaces are bridged
type BridgeConfig struct {
	Channel         string `mapstructure:"channel"`           // message channel name exposed to the page (default: janusEventTracker)
	DestinationURL  string `mapstructure:"destination_url"`   // page every new surface navigates to
	AutoSyncDefault bool   `mapstructure:"auto_sync_default"` // auto-sync for surfaces created without an explicit choice
}

// BrowserConfig configures the DevTools connection used for surfaces
type BrowserConfig struct {
	DevToolsURL         string `mapstructure:"devtools_url"`          // ws://host:port/devtools/browser/<id>
	DialTimeoutSeconds  int    `mapstructure:"dial_timeout_seconds"`  // websocket dial timeout (default: 10)
	QueryTimeoutSeconds int    `mapstructure:"query_timeout_seconds"` // timeout for a single consent query (default: 0, unbounded)
}

// ServerConfig configures the janus HTTP API
type ServerConfig struct {
	Port            *int     `mapstructure:"port"` // nil = default 8787, 0 is invalid (omit for default)
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	CreatePerMinute int      `mapstructure:"create_per_minute"` // surface creations allowed per minute, 0 = unlimited
}

// JournalConfig configures the sqlite event journal
type JournalConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	RetainDays int    `mapstructure:"retain_days"` // entries older than this are pruned at startup, 0 keeps everything
}

// LogConfig configures log output and remote log shipping
type LogConfig struct {
	JSON            bool   `mapstructure:"json"`
	HTTPEndpoint    string `mapstructure:"http_endpoint"` // empty disables shipping
	HTTPToken       string `mapstructure:"http_token"`
	HTTPSource      string `mapstructure:"http_source"`
	ConsoleErrors   bool   `mapstructure:"console_errors"` // print shipping failures to stderr
	BatchSize       int    `mapstructure:"batch_size"`
	FlushIntervalMs int    `mapstructure:"flush_interval_ms"`
}

// NativeConfig seeds the in-process native consent store
type NativeConfig struct {
	Purposes    map[string]bool `mapstructure:"purposes"`
	FidesString string          `mapstructure:"fides_string"`
}

// Defaults shared by SetDefaults and the Get* accessors
const (
	DefaultServerPort     = 8787
	DefaultChannel        = "janusEventTracker"
	DefaultDestinationURL = "https://ethyca.com"
	DefaultJournalPath    = "janus.db"
	DefaultHTTPSource     = "janus"
)

// File system constants
const (
	DefaultDirPermissions  = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0644 // Standard file permissions (rw-r--r--)
)
