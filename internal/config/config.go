package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	BlobMemory = "memory"
	BlobSQL    = "sql"
	BlobS3     = "s3"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"Server"`
	Database DatabaseConfig `mapstructure:"Database"`
	Storage  StorageConfig  `mapstructure:"Storage"`
	AutoSave AutoSaveConfig `mapstructure:"AutoSave"`
	Log      LogConfig      `mapstructure:"Log"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"Port"`
	GRPCPort        string        `mapstructure:"GRPCPort"`
	ShutdownTimeout time.Duration `mapstructure:"ShutdownTimeout"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"Driver"`
	Host     string `mapstructure:"Host"`
	Port     string `mapstructure:"Port"`
	User     string `mapstructure:"User"`
	Password string `mapstructure:"Password"`
	Name     string `mapstructure:"Name"`
	SSLMode  string `mapstructure:"SSLMode"`
	// Path - файл базы для sqlite, ":memory:" для базы в памяти
	Path string `mapstructure:"Path"`
}

type StorageConfig struct {
	// Backend определяет, где хранится содержимое версий: memory, sql или s3
	Backend      string `mapstructure:"Backend"`
	S3ConfigPath string `mapstructure:"S3ConfigPath"`
}

type AutoSaveConfig struct {
	Debounce time.Duration `mapstructure:"Debounce"`
}

type LogConfig struct {
	Level  string `mapstructure:"Level"`
	Pretty bool   `mapstructure:"Pretty"`
}

func NewConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Привязываем переменные окружения
	v.BindEnv("Database.Driver", "DATABASE_DRIVER")
	v.BindEnv("Database.Host", "DATABASE_HOST")
	v.BindEnv("Database.Port", "DATABASE_PORT")
	v.BindEnv("Database.User", "DATABASE_USER")
	v.BindEnv("Database.Password", "DATABASE_PASSWORD")
	v.BindEnv("Database.Name", "DATABASE_NAME")
	v.BindEnv("Database.SSLMode", "DATABASE_SSLMODE")
	v.BindEnv("Database.Path", "DATABASE_PATH")
	v.BindEnv("Server.Port", "HTTP_PORT")
	v.BindEnv("Server.GRPCPort", "GRPC_PORT")
	v.BindEnv("Server.ShutdownTimeout", "SHUTDOWN_TIMEOUT")
	v.BindEnv("Storage.Backend", "STORAGE_BACKEND")
	v.BindEnv("Storage.S3ConfigPath", "S3_CONFIG_PATH")
	v.BindEnv("AutoSave.Debounce", "AUTOSAVE_DEBOUNCE")
	v.BindEnv("Log.Level", "LOG_LEVEL")
	v.BindEnv("Log.Pretty", "LOG_PRETTY")

	// Значения по умолчанию
	v.SetDefault("Database.Driver", DriverMemory)
	v.SetDefault("Database.SSLMode", "disable")
	v.SetDefault("Database.Path", "clinicnotes.db")
	v.SetDefault("Server.Port", "2525")
	v.SetDefault("Server.GRPCPort", "50051")
	v.SetDefault("Server.ShutdownTimeout", "30s")
	v.SetDefault("Storage.Backend", BlobMemory)
	v.SetDefault("Storage.S3ConfigPath", ".s3.env")
	v.SetDefault("AutoSave.Debounce", "5s")
	v.SetDefault("Log.Level", "info")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("Warning: using only environment variables: %v\n", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет согласованность настроек
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if c.Database.Host == "" ||
			c.Database.Port == "" ||
			c.Database.User == "" ||
			c.Database.Password == "" ||
			c.Database.Name == "" {
			return fmt.Errorf("database configuration is incomplete: host=%s, port=%s, user=%s, name=%s",
				c.Database.Host, c.Database.Port, c.Database.User, c.Database.Name)
		}
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}

	switch c.Storage.Backend {
	case BlobMemory, BlobS3:
	case BlobSQL:
		if c.Database.Driver == DriverMemory {
			return fmt.Errorf("storage backend %q requires a sql database driver", BlobSQL)
		}
	default:
		return fmt.Errorf("unsupported storage backend: %q", c.Storage.Backend)
	}

	if c.AutoSave.Debounce <= 0 {
		return fmt.Errorf("auto-save debounce must be positive, got %s", c.AutoSave.Debounce)
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Name,
		c.SSLMode,
	)
}

// GetURL возвращает строку подключения в формате URL
func (c *DatabaseConfig) GetURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Name,
		c.SSLMode,
	)
}
