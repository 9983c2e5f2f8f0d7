package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port int `yaml:"port"`
		// Rate limit per client IP; zero disables.
		RateCapacity int `yaml:"rateCapacity"`
		RateRefill   int `yaml:"rateRefill"`
		// Optional API keys, client name -> key. Empty disables auth.
		APIKeys map[string]string `yaml:"apiKeys"`
	} `yaml:"server"`

	Analysis struct {
		// Mock skips the model entirely and answers deterministically.
		Mock bool `yaml:"mock"`
		// MockFallback degrades to the mock answer when the model call
		// fails. Contract violations never fall back.
		MockFallback bool `yaml:"mockFallback"`
		// Delegation enables the fire-and-forget observer step.
		Delegation    bool   `yaml:"delegation"`
		Model         string `yaml:"model"`
		APIKey        string `yaml:"apiKey"`
		MaxInputChars int    `yaml:"maxInputChars"`
	} `yaml:"analysis"`

	// SyncDebug runs tasks inline in the API process instead of through the
	// broker. Development only.
	SyncDebug bool `yaml:"syncDebug"`

	Store struct {
		// Driver: mysql, postgres or memory.
		Driver string `yaml:"driver"`
	} `yaml:"store"`

	Database struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		SSLMode  string `yaml:"sslMode"`
		// Pool sizing; zero values fall back to 25/10.
		MaxOpenConns int `yaml:"maxOpenConns"`
		MaxIdleConns int `yaml:"maxIdleConns"`
	} `yaml:"database"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Stream   string `yaml:"stream"`
		Group    string `yaml:"group"`
	} `yaml:"redis"`

	Minio struct {
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
	} `yaml:"minio"`
}

// Load reads the yaml file, then applies environment overrides so secrets
// can stay out of the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Analysis.APIKey = v
	}
	if v := os.Getenv("ANALYSIS_MOCK"); v != "" {
		c.Analysis.Mock = boolEnv(v)
	}
	if v := os.Getenv("ANALYSIS_MOCK_FALLBACK"); v != "" {
		c.Analysis.MockFallback = boolEnv(v)
	}
	if v := os.Getenv("ANALYSIS_DELEGATION"); v != "" {
		c.Analysis.Delegation = boolEnv(v)
	}
	if v := os.Getenv("SYNC_DEBUG"); v != "" {
		c.SyncDebug = boolEnv(v)
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		c.Minio.SecretKey = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "mysql"
	}
	if c.Redis.Stream == "" {
		c.Redis.Stream = "finanalyzer:jobs"
	}
	if c.Redis.Group == "" {
		c.Redis.Group = "workers"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 10
	}
}

func boolEnv(v string) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}

// MySQLDSN builds the MySQL connection string.
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

// PostgresDSN builds the PostgreSQL connection string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
	)
}
