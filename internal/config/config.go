package config

import "time"

// Config holds server and client configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr" validate:"required"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout" validate:"gt=0"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gt=0"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level" validate:"oneof=debug info warn warning error"`
	LogFormat         string        `mapstructure:"log_format" yaml:"log_format" validate:"oneof=console json"`

	DatabasePath string `mapstructure:"database_path" yaml:"database_path" validate:"required"`

	JWTSecret   string        `mapstructure:"jwt_secret" yaml:"jwt_secret" validate:"required,min=16"`
	JWTIssuer   string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	JWTTTL      time.Duration `mapstructure:"jwt_ttl" yaml:"jwt_ttl" validate:"gt=0"`

	// RedisURL enables cross-node push fan-out when set.
	RedisURL string `mapstructure:"redis_url" yaml:"redis_url" validate:"omitempty,url"`

	// PushBuffer is the number of pending events a live subscriber may queue
	// before it is disconnected.
	PushBuffer int `mapstructure:"push_buffer" yaml:"push_buffer" validate:"gte=1"`

	SendRatePerSecond float64 `mapstructure:"send_rate_per_second" yaml:"send_rate_per_second" validate:"gte=0"`
	SendBurst         int     `mapstructure:"send_burst" yaml:"send_burst" validate:"gte=0"`
	MaxUploadBytes    int64   `mapstructure:"max_upload_bytes" yaml:"max_upload_bytes" validate:"gt=0"`

	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Sweeper SweeperConfig `mapstructure:"sweeper" yaml:"sweeper"`
	Client  ClientConfig  `mapstructure:"client" yaml:"client"`
}

// StorageConfig selects the object storage backend for attachments.
type StorageConfig struct {
	Driver        string `mapstructure:"driver" yaml:"driver" validate:"oneof=local cloudinary"`
	Dir           string `mapstructure:"dir" yaml:"dir" validate:"required_if=Driver local"`
	PublicURL     string `mapstructure:"public_url" yaml:"public_url"`
	CloudinaryURL string `mapstructure:"cloudinary_url" yaml:"cloudinary_url" validate:"required_if=Driver cloudinary"`
	Folder        string `mapstructure:"folder" yaml:"folder"`
}

// SweeperConfig controls removal of uploads no message refers to.
type SweeperConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Schedule string        `mapstructure:"schedule" yaml:"schedule" validate:"required_if=Enabled true"`
	Grace    time.Duration `mapstructure:"grace" yaml:"grace" validate:"gte=0"`
}

// ClientConfig holds settings of the terminal chat client.
type ClientConfig struct {
	ServerURL   string        `mapstructure:"server_url" yaml:"server_url" validate:"required,url"`
	Email       string        `mapstructure:"email" yaml:"email"`
	Password    string        `mapstructure:"password" yaml:"password"`
	PageSize    int           `mapstructure:"page_size" yaml:"page_size" validate:"gte=1,lte=500"`
	Skew        time.Duration `mapstructure:"skew" yaml:"skew" validate:"gte=0"`
	BackoffBase time.Duration `mapstructure:"backoff_base" yaml:"backoff_base" validate:"gt=0"`
	BackoffCap  time.Duration `mapstructure:"backoff_cap" yaml:"backoff_cap" validate:"gtefield=BackoffBase"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		LogFormat:         "console",
		DatabasePath:      "jobchat.db",
		JWTSecret:         "change-me-in-production",
		JWTIssuer:         "jobchat",
		JWTAudience:       "jobchat",
		JWTTTL:            24 * time.Hour,
		PushBuffer:        64,
		SendRatePerSecond: 2,
		SendBurst:         10,
		MaxUploadBytes:    20 << 20,
		Storage: StorageConfig{
			Driver: "local",
			Dir:    "uploads",
			Folder: "job-attachments",
		},
		Sweeper: SweeperConfig{
			Enabled:  true,
			Schedule: "@every 1h",
			Grace:    24 * time.Hour,
		},
		Client: ClientConfig{
			ServerURL:   "http://localhost:8080",
			PageSize:    50,
			Skew:        2 * time.Second,
			BackoffBase: time.Second,
			BackoffCap:  30 * time.Second,
			Timeout:     15 * time.Second,
		},
	}
}

// UpdateFrom overwrites non-zero server values from other config into receiver.
// Command line flags use it to take precedence over the file.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.RedisURL != "" {
		c.RedisURL = other.RedisURL
	}
	if other.Client.ServerURL != "" {
		c.Client.ServerURL = other.Client.ServerURL
	}
	if other.Client.Email != "" {
		c.Client.Email = other.Client.Email
	}
	if other.Client.Password != "" {
		c.Client.Password = other.Client.Password
	}
}
