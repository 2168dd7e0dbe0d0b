package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// ErrInvalidConfig is returned when a configuration value is out of range.
var ErrInvalidConfig = errors.New("invalid configuration")

// Hard upper bounds checked before any generation work starts.
const (
	MaxMeters       = 100_000
	MaxCustomers    = 1_000_000
	MaxTransformers = 100_000
	MaxHorizonDays  = 731
	MaxReadings     = 250_000_000

	readingsPerDay = 48
)

// Config holds all application configuration
type Config struct {
	Simulation SimulationConfig
	Kafka      KafkaConfig
	InfluxDB   InfluxDBConfig
	MQTT       MQTTConfig
	Store      StoreConfig
	HTTP       HTTPConfig
	Logging    LoggingConfig
	Processor  ProcessorConfig
	ModelDir   string
}

// SimulationConfig drives the synthetic data generator
type SimulationConfig struct {
	Meters           int       `toml:"meters"`
	Customers        int       `toml:"customers"`
	Transformers     int       `toml:"transformers"`
	HorizonDays      int       `toml:"horizon_days"`
	Seed             uint64    `toml:"seed"`
	Start            time.Time `toml:"start"`
	AnomalyRate      float64   `toml:"anomaly_rate"`
	Workers          int       `toml:"workers"`
	LinkTransformers bool      `toml:"link_transformers"`
	SyntheticLabels  bool      `toml:"synthetic_labels"`
	ImputationSeed   uint64    `toml:"imputation_seed"`
}

// KafkaConfig holds Kafka-related configuration
type KafkaConfig struct {
	Enabled           bool
	Brokers           []string
	Topic             string
	GroupID           string
	ConsumerCount     int
	BatchSize         int
	BatchTimeout      time.Duration
	Partitions        int
	ReplicationFactor int
}

// InfluxDBConfig holds InfluxDB-related configuration
type InfluxDBConfig struct {
	Enabled      bool
	URL          string
	Org          string
	Token        string
	Bucket       string
	BatchSize    int
	BatchTimeout time.Duration
}

// MQTTConfig holds MQTT publisher configuration
type MQTTConfig struct {
	Enabled  bool
	Broker   string
	ClientID string
	Topic    string
	QoS      byte
}

// StoreConfig holds the SQLite catalog configuration
type StoreConfig struct {
	Path string
}

// HTTPConfig holds the dataset API configuration
type HTTPConfig struct {
	Enabled bool
	Addr    string
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Level       string
	Development bool
}

// ProcessorConfig holds processor-related configuration
type ProcessorConfig struct {
	WorkerCount   int
	QueueSize     int
	FlushInterval time.Duration
}

// DefaultSimulation returns the simulation defaults of a full-size run.
func DefaultSimulation() SimulationConfig {
	return SimulationConfig{
		Meters:           1000,
		Customers:        1000,
		Transformers:     50,
		HorizonDays:      90,
		Seed:             42,
		AnomalyRate:      0.02,
		LinkTransformers: true,
		SyntheticLabels:  true,
		ImputationSeed:   42,
	}
}

// Load loads configuration from environment variables with sensible defaults.
// When SIM_CONFIG_FILE points at a TOML file its values override the simulation section.
func Load() (*Config, error) {
	def := DefaultSimulation()
	cfg := &Config{
		Simulation: SimulationConfig{
			Meters:           getEnvInt("SIM_METERS", def.Meters),
			Customers:        getEnvInt("SIM_CUSTOMERS", def.Customers),
			Transformers:     getEnvInt("SIM_TRANSFORMERS", def.Transformers),
			HorizonDays:      getEnvInt("SIM_HORIZON_DAYS", def.HorizonDays),
			Seed:             getEnvUint64("SIM_SEED", def.Seed),
			Start:            getEnvTime("SIM_START", time.Time{}),
			AnomalyRate:      getEnvFloat("SIM_ANOMALY_RATE", def.AnomalyRate),
			Workers:          getEnvInt("SIM_WORKERS", 0),
			LinkTransformers: getEnvBool("SIM_LINK_TRANSFORMERS", def.LinkTransformers),
			SyntheticLabels:  getEnvBool("SIM_SYNTHETIC_LABELS", def.SyntheticLabels),
			ImputationSeed:   getEnvUint64("SIM_IMPUTATION_SEED", def.ImputationSeed),
		},
		Kafka: KafkaConfig{
			Enabled:           getEnvBool("KAFKA_ENABLED", false),
			Brokers:           getEnvStringSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:             getEnv("KAFKA_TOPIC", "smart-meter-readings"),
			GroupID:           getEnv("KAFKA_GROUP_ID", "smart-meter-featurizer"),
			ConsumerCount:     getEnvInt("KAFKA_CONSUMER_COUNT", 4),
			BatchSize:         getEnvInt("KAFKA_BATCH_SIZE", 5000),
			BatchTimeout:      getEnvDuration("KAFKA_BATCH_TIMEOUT", 1*time.Second),
			Partitions:        getEnvInt("KAFKA_PARTITIONS", 12),
			ReplicationFactor: getEnvInt("KAFKA_REPLICATION_FACTOR", 1),
		},
		InfluxDB: InfluxDBConfig{
			Enabled:      getEnvBool("INFLUXDB_ENABLED", false),
			URL:          getEnv("INFLUXDB_URL", "http://localhost:8086"),
			Org:          getEnv("INFLUXDB_ORG", "utility"),
			Token:        getEnv("INFLUX_TOKEN", ""),
			Bucket:       getEnv("INFLUXDB_BUCKET", "smart-meter-telemetry"),
			BatchSize:    getEnvInt("INFLUXDB_BATCH_SIZE", 5000),
			BatchTimeout: getEnvDuration("INFLUXDB_BATCH_TIMEOUT", 500*time.Millisecond),
		},
		MQTT: MQTTConfig{
			Enabled:  getEnvBool("MQTT_ENABLED", false),
			Broker:   getEnv("MQTT_BROKER", "tcp://localhost:1883"),
			ClientID: getEnv("MQTT_CLIENT_ID", "smart-meter-simulator"),
			Topic:    getEnv("MQTT_TOPIC", "meters/{meter}/readings"),
			QoS:      byte(getEnvInt("MQTT_QOS", 0)),
		},
		Store: StoreConfig{
			Path: getEnv("STORE_PATH", ""),
		},
		HTTP: HTTPConfig{
			Enabled: getEnvBool("HTTP_ENABLED", false),
			Addr:    getEnv("HTTP_ADDR", ":8080"),
		},
		Logging: LoggingConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Development: getEnvBool("LOG_DEVELOPMENT", false),
		},
		Processor: ProcessorConfig{
			WorkerCount:   getEnvInt("PROCESSOR_WORKER_COUNT", 4),
			QueueSize:     getEnvInt("PROCESSOR_QUEUE_SIZE", 10000),
			FlushInterval: getEnvDuration("PROCESSOR_FLUSH_INTERVAL", 10*time.Second),
		},
		ModelDir: getEnv("MODEL_DIR", "models"),
	}

	if path := getEnv("SIM_CONFIG_FILE", ""); path != "" {
		if err := LoadSimulationFile(path, &cfg.Simulation); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// LoadSimulationFile decodes a TOML file over sim. Keys absent from the file keep their value.
func LoadSimulationFile(path string, sim *SimulationConfig) error {
	var file struct {
		Simulation *SimulationConfig `toml:"simulation"`
	}
	file.Simulation = sim
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Validate checks every simulation value before generation starts.
func (s SimulationConfig) Validate() error {
	switch {
	case s.Meters <= 0 || s.Meters > MaxMeters:
		return fmt.Errorf("%w: meters must be in [1, %d], got %d", ErrInvalidConfig, MaxMeters, s.Meters)
	case s.Customers <= 0 || s.Customers > MaxCustomers:
		return fmt.Errorf("%w: customers must be in [1, %d], got %d", ErrInvalidConfig, MaxCustomers, s.Customers)
	case s.Transformers <= 0 || s.Transformers > MaxTransformers:
		return fmt.Errorf("%w: transformers must be in [1, %d], got %d", ErrInvalidConfig, MaxTransformers, s.Transformers)
	case s.HorizonDays <= 0 || s.HorizonDays > MaxHorizonDays:
		return fmt.Errorf("%w: horizon must be in [1, %d] days, got %d", ErrInvalidConfig, MaxHorizonDays, s.HorizonDays)
	case s.AnomalyRate < 0 || s.AnomalyRate > 1:
		return fmt.Errorf("%w: anomaly rate must be in [0, 1], got %v", ErrInvalidConfig, s.AnomalyRate)
	case s.Workers < 0:
		return fmt.Errorf("%w: workers must not be negative, got %d", ErrInvalidConfig, s.Workers)
	}
	if total := int64(s.Meters) * int64(s.HorizonDays) * readingsPerDay; total > MaxReadings {
		return fmt.Errorf("%w: %d readings exceeds the limit of %d", ErrInvalidConfig, total, MaxReadings)
	}
	return nil
}

// Helper functions to get environment variables with defaults
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvUint64(key string, defaultValue uint64) uint64 {
	if value, exists := os.LookupEnv(key); exists {
		if v, err := strconv.ParseUint(value, 10, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvTime(key string, defaultValue time.Time) time.Time {
	if value, exists := os.LookupEnv(key); exists {
		if t, err := time.Parse(time.RFC3339, value); err == nil {
			return t
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists {
		return strings.Split(value, ",")
	}
	return defaultValue
}
