package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// FileName is the configuration file looked up in the config directory.
const FileName = "rocketsync.cfg.json"

// ServerConfig holds the replication server settings.
type ServerConfig struct {
	Address               string
	Password              string
	MaxPlayers            int
	BlockedNames          []string
	Difficulty            string
	LoadRange             float64
	UpdatePeriod          time.Duration
	TickInterval          time.Duration
	ResyncInterval        time.Duration
	WorldTimeSyncInterval time.Duration
	SaveInterval          time.Duration
	StatusInterval        time.Duration
	PingInterval          time.Duration
	InboundRateLimit      float64
	InboundBurst          int
}

// ClientConfig holds the headless client settings.
type ClientConfig struct {
	ServerURL             string
	PlayerName            string
	Password              string
	PresentationDelay     time.Duration
	Extrapolate           bool
	ExtrapolationSubsteps int
}

// MemoryConfig holds in-memory storage backend settings
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// SQLiteConfig holds sqlite storage backend settings.
// An empty Path keeps the database in memory with periodic dumps to DumpDir.
type SQLiteConfig struct {
	Path         string
	DumpDir      string
	DumpInterval time.Duration
}

// PostgresConfig holds postgres storage backend settings.
type PostgresConfig struct {
	FlushInterval time.Duration
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Type      string
	WorldName string
	Memory    MemoryConfig
	SQLite    SQLiteConfig
	Postgres  PostgresConfig
}

// DBConfig holds the postgres connection settings.
type DBConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
}

// InfluxConfig holds the InfluxDB telemetry settings.
type InfluxConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Protocol string
	Token    string
	Org      string
}

// GraylogConfig holds the GELF sink settings.
type GraylogConfig struct {
	Enabled bool
	Address string
}

// OTelConfig holds OpenTelemetry settings.
type OTelConfig struct {
	Enabled      bool
	ServiceName  string
	BatchTimeout time.Duration
	Endpoint     string
	Insecure     bool
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	setDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")

	viper.SetDefault("server.address", ":9807")
	viper.SetDefault("server.password", "")
	viper.SetDefault("server.maxPlayers", 16)
	viper.SetDefault("server.blockedNames", []string{})
	viper.SetDefault("server.difficulty", "normal")
	viper.SetDefault("server.loadRange", 7500.0)
	viper.SetDefault("server.updatePeriod", "50ms")
	viper.SetDefault("server.tickInterval", "20ms")
	viper.SetDefault("server.resyncInterval", "30s")
	viper.SetDefault("server.worldTimeSyncInterval", "5s")
	viper.SetDefault("server.saveInterval", "1m")
	viper.SetDefault("server.statusInterval", "10s")
	viper.SetDefault("server.pingInterval", "1s")
	viper.SetDefault("server.inboundRateLimit", 200.0)
	viper.SetDefault("server.inboundBurst", 400)

	viper.SetDefault("client.serverUrl", "ws://localhost:9807/ws")
	viper.SetDefault("client.playerName", "pilot")
	viper.SetDefault("client.password", "")
	viper.SetDefault("client.presentationDelay", "150ms")
	viper.SetDefault("client.extrapolate", true)
	viper.SetDefault("client.extrapolationSubsteps", 100)

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.worldName", "default")
	viper.SetDefault("storage.postgres.flushInterval", "2s")
	viper.SetDefault("storage.memory.outputDir", "./worlds")
	viper.SetDefault("storage.memory.compressOutput", true)
	viper.SetDefault("storage.sqlite.path", "")
	viper.SetDefault("storage.sqlite.dumpDir", "./worlds")
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "rocketsync")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "rocketsync")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "rocketsync")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetDuration parses a duration string, falling back to def when the value
// is missing or malformed.
func GetDuration(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(viper.GetString(key))
	if err != nil {
		return def
	}
	return d
}

// GetServerConfig returns the server settings.
func GetServerConfig() ServerConfig {
	return ServerConfig{
		Address:               viper.GetString("server.address"),
		Password:              viper.GetString("server.password"),
		MaxPlayers:            viper.GetInt("server.maxPlayers"),
		BlockedNames:          viper.GetStringSlice("server.blockedNames"),
		Difficulty:            viper.GetString("server.difficulty"),
		LoadRange:             viper.GetFloat64("server.loadRange"),
		UpdatePeriod:          GetDuration("server.updatePeriod", 50*time.Millisecond),
		TickInterval:          GetDuration("server.tickInterval", 20*time.Millisecond),
		ResyncInterval:        GetDuration("server.resyncInterval", 30*time.Second),
		WorldTimeSyncInterval: GetDuration("server.worldTimeSyncInterval", 5*time.Second),
		SaveInterval:          GetDuration("server.saveInterval", time.Minute),
		StatusInterval:        GetDuration("server.statusInterval", 10*time.Second),
		PingInterval:          GetDuration("server.pingInterval", time.Second),
		InboundRateLimit:      viper.GetFloat64("server.inboundRateLimit"),
		InboundBurst:          viper.GetInt("server.inboundBurst"),
	}
}

// GetClientConfig returns the headless client settings.
func GetClientConfig() ClientConfig {
	return ClientConfig{
		ServerURL:             viper.GetString("client.serverUrl"),
		PlayerName:            viper.GetString("client.playerName"),
		Password:              viper.GetString("client.password"),
		PresentationDelay:     GetDuration("client.presentationDelay", 150*time.Millisecond),
		Extrapolate:           viper.GetBool("client.extrapolate"),
		ExtrapolationSubsteps: viper.GetInt("client.extrapolationSubsteps"),
	}
}

// GetStorageConfig returns the persistence settings.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type:      viper.GetString("storage.type"),
		WorldName: viper.GetString("storage.worldName"),
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("storage.memory.outputDir"),
			CompressOutput: viper.GetBool("storage.memory.compressOutput"),
		},
		SQLite: SQLiteConfig{
			Path:         viper.GetString("storage.sqlite.path"),
			DumpDir:      viper.GetString("storage.sqlite.dumpDir"),
			DumpInterval: GetDuration("storage.sqlite.dumpInterval", 3*time.Minute),
		},
		Postgres: PostgresConfig{
			FlushInterval: GetDuration("storage.postgres.flushInterval", 2*time.Second),
		},
	}
}

// GetDBConfig returns the postgres connection settings.
func GetDBConfig() DBConfig {
	return DBConfig{
		Host:     viper.GetString("db.host"),
		Port:     viper.GetString("db.port"),
		Username: viper.GetString("db.username"),
		Password: viper.GetString("db.password"),
		Database: viper.GetString("db.database"),
	}
}

// GetInfluxConfig returns the InfluxDB settings.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:  viper.GetBool("influx.enabled"),
		Host:     viper.GetString("influx.host"),
		Port:     viper.GetString("influx.port"),
		Protocol: viper.GetString("influx.protocol"),
		Token:    viper.GetString("influx.token"),
		Org:      viper.GetString("influx.org"),
	}
}

// GetGraylogConfig returns the GELF sink settings.
func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
}

// GetOTelConfig returns the OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: GetDuration("otel.batchTimeout", 5*time.Second),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}
