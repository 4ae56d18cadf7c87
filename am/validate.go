package am

import (
	"net/url"

	"github.com/teranos/janus/errors"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Server port: 0 is invalid (omit for default), negative is invalid
	if c.Server.Port != nil && *c.Server.Port == 0 {
		return errors.Newf("server.port cannot be 0 (omit for default port %d)", DefaultServerPort)
	}
	if c.Server.Port != nil && (*c.Server.Port < 0 || *c.Server.Port > 65535) {
		return errors.Newf("server.port must be between 1 and 65535, got %d", *c.Server.Port)
	}
	if c.Server.CreatePerMinute < 0 {
		return errors.Newf("server.create_per_minute must be >= 0, got %d", c.Server.CreatePerMinute)
	}

	if err := validateURL("bridge.destination_url", c.Bridge.DestinationURL, "http", "https", "file", "about"); err != nil {
		return err
	}
	if c.Browser.DevToolsURL != "" {
		if err := validateURL("browser.devtools_url", c.Browser.DevToolsURL, "ws", "wss"); err != nil {
			return err
		}
	}
	if c.Log.HTTPEndpoint != "" {
		if err := validateURL("log.http_endpoint", c.Log.HTTPEndpoint, "http", "https"); err != nil {
			return err
		}
	}

	if c.Browser.DialTimeoutSeconds < 0 {
		return errors.Newf("browser.dial_timeout_seconds must be >= 0, got %d", c.Browser.DialTimeoutSeconds)
	}
	if c.Browser.QueryTimeoutSeconds < 0 {
		return errors.Newf("browser.query_timeout_seconds must be >= 0, got %d", c.Browser.QueryTimeoutSeconds)
	}
	if c.Log.BatchSize < 0 {
		return errors.Newf("log.batch_size must be >= 0, got %d", c.Log.BatchSize)
	}

	// A channel name becomes a window property in every surface
	if c.Bridge.Channel != "" && !isIdentifier(c.Bridge.Channel) {
		return errors.Newf("bridge.channel must be a JavaScript identifier, got %q", c.Bridge.Channel)
	}

	if c.Journal.Enabled && c.Journal.Path == "" {
		return errors.New("journal.path cannot be empty when journal is enabled")
	}
	if c.Journal.RetainDays < 0 {
		return errors.Newf("journal.retain_days cannot be negative, got %d", c.Journal.RetainDays)
	}

	return nil
}

// validateURL allows empty values; callers fall back to defaults for those
func validateURL(key, raw string, schemes ...string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return errors.Wrapf(err, "%s is not a valid URL", key)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return errors.Newf("%s has unsupported scheme %q", key, u.Scheme)
}

func isIdentifier(s string) bool {
	for i, r := range s {
		switch {
		case r == '_' || r == '$':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return s != ""
}
