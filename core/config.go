package core

import (
	"fmt"
	"strings"
	"time"
)

type DirectoryConfig struct {
	// CacheTTLSeconds bounds how long a contact-address resolution stays
	// valid in the process-local lookup cache.
	CacheTTLSeconds int `koanf:"cache_ttl_seconds" mapstructure:"cache_ttl_seconds"`
}

func (c DirectoryConfig) CacheTTL() time.Duration {
	if c.CacheTTLSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

type AdmissionConfig struct {
	MaxRetries       int `koanf:"max_retries" mapstructure:"max_retries"`
	InitialBackoffMS int `koanf:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMS     int `koanf:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

func (c AdmissionConfig) Retries() int {
	if c.MaxRetries <= 0 {
		return 3
	}
	return c.MaxRetries
}

func (c AdmissionConfig) InitialBackoff() time.Duration {
	if c.InitialBackoffMS <= 0 {
		return 100 * time.Millisecond
	}
	return time.Duration(c.InitialBackoffMS) * time.Millisecond
}

func (c AdmissionConfig) MaxBackoff() time.Duration {
	if c.MaxBackoffMS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.MaxBackoffMS) * time.Millisecond
}

type IngressConfig struct {
	// DedupeWindowMS coalesces duplicate webhook deliveries for the same
	// tenant/contact/delivery id. Zero disables suppression.
	DedupeWindowMS int `koanf:"dedupe_window_ms" mapstructure:"dedupe_window_ms"`
}

func (c IngressConfig) DedupeWindow() time.Duration {
	if c.DedupeWindowMS < 0 {
		return 0
	}
	return time.Duration(c.DedupeWindowMS) * time.Millisecond
}

type MetricsConfig struct {
	RetentionDays int `koanf:"retention_days" mapstructure:"retention_days"`
}

func (c MetricsConfig) Retention() int {
	if c.RetentionDays <= 0 {
		return 30
	}
	return c.RetentionDays
}

type Config struct {
	ServiceName string          `koanf:"service_name" mapstructure:"service_name"`
	Directory   DirectoryConfig `koanf:"directory" mapstructure:"directory"`
	Admission   AdmissionConfig `koanf:"admission" mapstructure:"admission"`
	Ingress     IngressConfig   `koanf:"ingress" mapstructure:"ingress"`
	Metrics     MetricsConfig   `koanf:"metrics" mapstructure:"metrics"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "intake",
		Directory:   DirectoryConfig{CacheTTLSeconds: 300},
		Admission:   AdmissionConfig{MaxRetries: 3, InitialBackoffMS: 100, MaxBackoffMS: 5000},
		Ingress:     IngressConfig{DedupeWindowMS: 2000},
		Metrics:     MetricsConfig{RetentionDays: 30},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Directory.CacheTTLSeconds < 0 {
		return fmt.Errorf("core: directory cache_ttl_seconds must not be negative")
	}
	if c.Admission.MaxRetries < 0 {
		return fmt.Errorf("core: admission max_retries must not be negative")
	}
	if c.Metrics.RetentionDays < 0 {
		return fmt.Errorf("core: metrics retention_days must not be negative")
	}
	return nil
}
