package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	Database struct {
		Driver   string `yaml:"driver"` // mysql | postgres
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		SSLMode  string `yaml:"sslMode"`
	} `yaml:"database"`

	Minio struct {
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
	} `yaml:"minio"`

	OpenAI struct {
		APIKey string `yaml:"apiKey"`
		Model  string `yaml:"model"`
	} `yaml:"openai"`

	Analyzer struct {
		SlitherPath      string `yaml:"slitherPath"`
		StaticTimeoutSec int    `yaml:"staticTimeoutSec"`
		AITimeoutSec     int    `yaml:"aiTimeoutSec"`
	} `yaml:"analyzer"`
}

// Load reads config.yaml. Values starting with "env:" resolve from the
// environment so secrets can stay out of the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Database.Password = fromEnv(cfg.Database.Password)
	cfg.Minio.AccessKey = fromEnv(cfg.Minio.AccessKey)
	cfg.Minio.SecretKey = fromEnv(cfg.Minio.SecretKey)
	cfg.OpenAI.APIKey = fromEnv(cfg.OpenAI.APIKey)
	return &cfg, nil
}

func fromEnv(v string) string {
	if len(v) > 4 && v[:4] == "env:" {
		return os.Getenv(v[4:])
	}
	return v
}

func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

func (c *Config) PostgresDSN() string {
	ssl := c.Database.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		ssl,
	)
}

func (c *Config) StaticTimeout() time.Duration {
	if c.Analyzer.StaticTimeoutSec <= 0 {
		return 0
	}
	return time.Duration(c.Analyzer.StaticTimeoutSec) * time.Second
}

func (c *Config) AITimeout() time.Duration {
	if c.Analyzer.AITimeoutSec <= 0 {
		return 0
	}
	return time.Duration(c.Analyzer.AITimeoutSec) * time.Second
}
