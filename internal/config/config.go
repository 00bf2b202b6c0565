package config

import (
	"os"
	"strconv"
	"strings"

	"paperreader/internal/domain"
)

// AppConfig implements the domain.Config interface
type AppConfig struct {
	ServerPort               string
	UploadPath               string
	ProcessedPath            string
	MaxFileSize              int64
	LogLevel                 string
	LogFormat                string
	DeviceOverride           string
	DefaultConverter         string
	MaxConcurrentConversions int
	MarkerBinary             string
	PageTimeoutSeconds       int
	APIPrefix                string
	CORSOrigins              []string
}

// NewConfig creates a new configuration instance with default values
func NewConfig() domain.Config {
	return &AppConfig{
		// PaaS platforms provide the listening port via PORT.
		// Keep SERVER_PORT for local/dev compatibility.
		ServerPort:               getEnvOrDefault("PORT", getEnvOrDefault("SERVER_PORT", "8000")),
		UploadPath:               getEnvOrDefault("UPLOAD_PATH", "./data/uploads"),
		ProcessedPath:            getEnvOrDefault("PROCESSED_PATH", "./data/processed"),
		MaxFileSize:              getEnvInt64OrDefault("MAX_FILE_SIZE", 10*1024*1024), // 10MB default
		LogLevel:                 getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:                getEnvOrDefault("LOG_FORMAT", "json"),
		DeviceOverride:           getEnvOrDefault("PAPERREADER_DEVICE", ""),
		DefaultConverter:         getEnvOrDefault("DEFAULT_CONVERTER", "fast"),
		MaxConcurrentConversions: getEnvPositiveIntOrDefault("MAX_CONCURRENT_CONVERSIONS", 2),
		MarkerBinary:             getEnvOrDefault("MARKER_BINARY", "marker_single"),
		PageTimeoutSeconds:       getEnvPositiveIntOrDefault("PAGE_TIMEOUT_SECONDS", 90),
		APIPrefix:                strings.TrimRight(getEnvOrDefault("API_PREFIX", "/api/v1"), "/"),
		CORSOrigins:              getEnvListOrDefault("CORS_ORIGINS", []string{"http://localhost:5173", "http://127.0.0.1:5173"}),
	}
}

// GetServerPort returns the server port
func (c *AppConfig) GetServerPort() string {
	return c.ServerPort
}

// GetUploadPath returns the directory holding original uploads
func (c *AppConfig) GetUploadPath() string {
	return c.UploadPath
}

// GetProcessedPath returns the directory holding conversion artifacts
func (c *AppConfig) GetProcessedPath() string {
	return c.ProcessedPath
}

// GetMaxFileSize returns the maximum allowed file size
func (c *AppConfig) GetMaxFileSize() int64 {
	return c.MaxFileSize
}

// GetLogLevel returns the logging level
func (c *AppConfig) GetLogLevel() string {
	return c.LogLevel
}

// GetLogFormat returns the log output format
func (c *AppConfig) GetLogFormat() string {
	return c.LogFormat
}

// GetDeviceOverride returns the operator-forced execution device, if any
func (c *AppConfig) GetDeviceOverride() string {
	return c.DeviceOverride
}

// GetDefaultConverter returns the converter used when none is requested
func (c *AppConfig) GetDefaultConverter() string {
	return c.DefaultConverter
}

// GetMaxConcurrentConversions returns the worker pool size
func (c *AppConfig) GetMaxConcurrentConversions() int {
	return c.MaxConcurrentConversions
}

// GetMarkerBinary returns the layout converter executable
func (c *AppConfig) GetMarkerBinary() string {
	return c.MarkerBinary
}

// GetPageTimeoutSeconds returns the per-page recognition timeout
func (c *AppConfig) GetPageTimeoutSeconds() int {
	return c.PageTimeoutSeconds
}

// GetAPIPrefix returns the HTTP route prefix, without a trailing slash
func (c *AppConfig) GetAPIPrefix() string {
	return c.APIPrefix
}

// GetCORSOrigins returns the allowed browser origins
func (c *AppConfig) GetCORSOrigins() []string {
	return c.CORSOrigins
}

// Helper functions for environment variable handling
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64OrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvPositiveIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil && intValue > 0 {
			return intValue
		}
	}
	return defaultValue
}

func getEnvListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
