package models

// MConfig Structure
type MConfig struct {
	Name     string         `yaml:"name"`
	Host     string         `yaml:"host"`
	Port     int            `yaml:"port"`
	LogLevel string         `yaml:"log_level"`
	Storage  MStorageConfig `yaml:"storage"`
	Network  MNetworkConfig `yaml:"network"`
	Feed     MFeedConfig    `yaml:"feed"`
	Sync     MSyncConfig    `yaml:"sync"`
}

type MStorageConfig struct {
	DBType             string `yaml:"db_type"`
	DBPath             string `yaml:"db_path"`
	DBConnectionString string `yaml:"db_connection_string"`
	RetentionDays      int    `yaml:"retention_days"`
}

type MNetworkConfig struct {
	RequestTimeout int    `yaml:"timeout"`
	MaxRetries     int    `yaml:"retries"`
	UserAgent      string `yaml:"user_agent"`
}

type MFeedConfig struct {
	URL                   string `yaml:"url"`
	UpdateIntervalSeconds int    `yaml:"update_interval_seconds"`
}

// MSyncConfig tunes the push transport on both sides: server keep-alives,
// client reconnection, reply timeouts, pull-polling fallback and cache TTL.
type MSyncConfig struct {
	KeepAliveSeconds      int `yaml:"keepalive_seconds"`
	ReconnectDelayMs      int `yaml:"reconnect_delay_ms"`
	MaxReconnectAttempts  int `yaml:"max_reconnect_attempts"`
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds"`
	PollIntervalSeconds   int `yaml:"poll_interval_seconds"`
	CacheTTLHours         int `yaml:"cache_ttl_hours"`
}
