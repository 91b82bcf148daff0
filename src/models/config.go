package models

// MConfig Structure
type MConfig struct {
	Name       string            `yaml:"name"`
	LogLevel   string            `yaml:"log_level"`
	Server     MServerConfig     `yaml:"server"`
	Grpc       MGrpcConfig       `yaml:"grpc"`
	Feed       MFeedConfig       `yaml:"feed"`
	Observe    MObserveConfig    `yaml:"observe"`
	Storage    MStorageConfig    `yaml:"storage"`
	Network    MNetworkConfig    `yaml:"network"`
	DataSource MDataSourceConfig `yaml:"data_source"`
}

type MServerConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	HistorySize     int    `yaml:"history_size"`
	ReplaySupported bool   `yaml:"replay_supported"`
	Codec           string `yaml:"codec"`
	AuthToken       string `yaml:"auth_token"` // empty accepts every handshake
}

type MGrpcConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// MFeedConfig configures the client transport.
type MFeedConfig struct {
	URL                string `yaml:"url"`
	AuthToken          string `yaml:"auth_token"`
	Codec              string `yaml:"codec"` // "json" or "cbor"
	MaxSendMessageSize int    `yaml:"max_send_message_size"`
	HandshakeTimeout   int    `yaml:"handshake_timeout"` // seconds
}

type MObserveConfig struct {
	Types           []string `yaml:"types"`
	TimeSeriesTypes []string `yaml:"time_series_types"`
	Symbols         []string `yaml:"symbols"`
	FromTime        string   `yaml:"from_time"`
}

type MStorageConfig struct {
	Enabled            bool   `yaml:"enabled"`
	DBType             string `yaml:"db_type"`
	DBPath             string `yaml:"db_path"`
	DBConnectionString string `yaml:"db_connection_string"`
	RetentionDays      int    `yaml:"retention_days"`
}

type MNetworkConfig struct {
	RequestTimeout     int    `yaml:"timeout"`
	MaxRetries         int    `yaml:"retries"`
	ConcurrentRequests int    `yaml:"concurrent_requests"`
	UserAgent          string `yaml:"user_agent"`
}

type MDataSourceConfig struct {
	UpdateIntervalMillis int             `yaml:"update_interval_millis"`
	MarketHoursOnly      bool            `yaml:"market_hours_only"`
	CandlePeriodSeconds  int             `yaml:"candle_period_seconds"`
	Sources              []MSourceConfig `yaml:"sources"`
}

type MSourceConfig struct {
	Name    string   `yaml:"name"`
	Type    string   `yaml:"type"` // "synthetic" or "yahoo"
	Symbols []string `yaml:"symbols"`
	Seed    int64    `yaml:"seed"`
}
