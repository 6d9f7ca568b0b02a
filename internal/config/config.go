package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/ini.v1"

	"github.com/mediaflow/blobxfer/internal/constants"
)

// EnvPrefix is the prefix of every environment variable read by blobxfer.
const EnvPrefix = "BLOBXFER"

// Config represents the blobxfer configuration.
//
// Values are resolved in order: built-in defaults, the INI file, BLOBXFER_*
// environment variables, then command-line flags.
//
// INI format:
//
//	[transfer]
//	threads = 10
//	concurrent = 2
//	max_bandwidth_mbps = 0
//	resume = true
//	state_path = ~/.config/blobxfer/state.db
//
//	[retry]
//	max_retries = 10
//	initial_delay_ms = 200
//	max_delay_ms = 15000
//
//	[azure]
//	sas_token =
//	sas_endpoint =
//	sas_endpoint_auth =
//
//	[s3]
//	region = us-east-1
//	endpoint =
//	profile =
//	path_style = false
//
//	[proxy]
//	mode = no-proxy
//	host =
//	port = 8080
//	user =
//	no_proxy =
//
//	[log]
//	level = info
//	format = console
type Config struct {
	Transfer TransferConfig
	Retry    RetryConfig
	Azure    AzureConfig
	S3       S3Config
	Proxy    ProxyConfig
	Log      LogConfig
}

// TransferConfig contains engine concurrency settings.
type TransferConfig struct {
	// Threads is the number of parallel chunk workers per transfer.
	// Minimum: 1, Maximum: 64, Default: 10
	Threads int `envconfig:"THREADS"`

	// Concurrent is the number of transfers allowed to run at the same time.
	// Minimum: 1, Maximum: 16, Default: 2
	Concurrent int `envconfig:"CONCURRENT"`

	// MaxBandwidthMbps caps aggregate throughput in megabits per second. 0 disables the cap.
	MaxBandwidthMbps float64 `envconfig:"MAX_BANDWIDTH_MBPS"`

	// Resume enables skipping chunks recorded by an interrupted download.
	Resume bool `envconfig:"RESUME"`

	// StatePath is the bbolt database holding download resume records.
	StatePath string `envconfig:"STATE_PATH"`
}

// RetryConfig contains per-chunk retry settings.
type RetryConfig struct {
	MaxRetries     int `envconfig:"MAX_RETRIES"`
	InitialDelayMs int `envconfig:"RETRY_INITIAL_DELAY_MS"`
	MaxDelayMs     int `envconfig:"RETRY_MAX_DELAY_MS"`
}

// AzureConfig contains block blob credential settings.
// A static SAS token wins over the endpoint when both are set.
type AzureConfig struct {
	SASToken string `envconfig:"AZURE_SAS_TOKEN"`

	// SASEndpoint returns {"sasToken": "...", "expiresAt": "RFC3339"} for a blob URL.
	SASEndpoint string `envconfig:"AZURE_SAS_ENDPOINT"`

	// SASEndpointAuth is sent as the Authorization header to SASEndpoint.
	SASEndpointAuth string `envconfig:"AZURE_SAS_ENDPOINT_AUTH"`
}

// S3Config contains S3 client settings. Credentials come from the AWS default
// chain unless a static key pair is supplied through the environment.
type S3Config struct {
	Region    string `envconfig:"S3_REGION"`
	Endpoint  string `envconfig:"S3_ENDPOINT"`
	Profile   string `envconfig:"S3_PROFILE"`
	PathStyle bool   `envconfig:"S3_PATH_STYLE"`

	// Static credentials, never written to disk
	AccessKeyID     string `envconfig:"S3_ACCESS_KEY_ID"`
	SecretAccessKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	SessionToken    string `envconfig:"S3_SESSION_TOKEN"`
}

// ProxyConfig contains outbound proxy settings.
type ProxyConfig struct {
	// Mode is one of no-proxy, system, basic, ntlm.
	Mode     string `envconfig:"PROXY_MODE"`
	Host     string `envconfig:"PROXY_HOST"`
	Port     int    `envconfig:"PROXY_PORT"`
	User     string `envconfig:"PROXY_USER"`
	Password string `envconfig:"PROXY_PASSWORD"` // never written to disk
	NoProxy  string `envconfig:"NO_PROXY"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL"`
	Format string `envconfig:"LOG_FORMAT"`
}

// Config validation errors
var (
	ErrInvalidThreads    = fmt.Errorf("threads must be between 1 and %d", constants.AbsoluteMaxThreads)
	ErrInvalidConcurrent = fmt.Errorf("concurrent must be between 1 and %d", constants.MaxConcurrentTransfers)
	ErrInvalidRetries    = errors.New("max_retries must be between 0 and 100")
	ErrInvalidDelay      = errors.New("retry delays must be positive and initial_delay_ms <= max_delay_ms")
	ErrInvalidBandwidth  = errors.New("max_bandwidth_mbps must not be negative")
	ErrInvalidProxyMode  = errors.New("proxy mode must be one of no-proxy, system, basic, ntlm")
	ErrInvalidLogFormat  = errors.New("log format must be console or json")
)

// New creates a Config with default values.
func New() *Config {
	return &Config{
		Transfer: TransferConfig{
			Threads:    constants.DefaultParallelTransferThreadCount,
			Concurrent: constants.DefaultNumberOfConcurrentTransfers,
			Resume:     true,
			StatePath:  DefaultStatePath(),
		},
		Retry: RetryConfig{
			MaxRetries:     constants.MaxRetries,
			InitialDelayMs: int(constants.RetryInitialDelay / time.Millisecond),
			MaxDelayMs:     int(constants.RetryMaxDelay / time.Millisecond),
		},
		S3: S3Config{
			Region: "us-east-1",
		},
		Proxy: ProxyConfig{
			Mode: "no-proxy",
			Port: 8080,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads the INI file at path (the default path when empty) and applies
// the environment overlay. A missing file yields defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := New()

	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			path = ""
		}
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cfg.loadFile(path); err != nil {
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config: %w", err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) loadFile(path string) error {
	iniFile, err := ini.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", filepath.Base(path), err)
	}

	transfer := iniFile.Section("transfer")
	cfg.Transfer.Threads = transfer.Key("threads").MustInt(cfg.Transfer.Threads)
	cfg.Transfer.Concurrent = transfer.Key("concurrent").MustInt(cfg.Transfer.Concurrent)
	cfg.Transfer.MaxBandwidthMbps = transfer.Key("max_bandwidth_mbps").MustFloat64(cfg.Transfer.MaxBandwidthMbps)
	cfg.Transfer.Resume = transfer.Key("resume").MustBool(cfg.Transfer.Resume)
	cfg.Transfer.StatePath = transfer.Key("state_path").MustString(cfg.Transfer.StatePath)

	retry := iniFile.Section("retry")
	cfg.Retry.MaxRetries = retry.Key("max_retries").MustInt(cfg.Retry.MaxRetries)
	cfg.Retry.InitialDelayMs = retry.Key("initial_delay_ms").MustInt(cfg.Retry.InitialDelayMs)
	cfg.Retry.MaxDelayMs = retry.Key("max_delay_ms").MustInt(cfg.Retry.MaxDelayMs)

	azure := iniFile.Section("azure")
	cfg.Azure.SASToken = azure.Key("sas_token").String()
	cfg.Azure.SASEndpoint = azure.Key("sas_endpoint").String()
	cfg.Azure.SASEndpointAuth = azure.Key("sas_endpoint_auth").String()

	s3 := iniFile.Section("s3")
	cfg.S3.Region = s3.Key("region").MustString(cfg.S3.Region)
	cfg.S3.Endpoint = s3.Key("endpoint").String()
	cfg.S3.Profile = s3.Key("profile").String()
	cfg.S3.PathStyle = s3.Key("path_style").MustBool(false)

	proxy := iniFile.Section("proxy")
	cfg.Proxy.Mode = proxy.Key("mode").MustString(cfg.Proxy.Mode)
	cfg.Proxy.Host = proxy.Key("host").String()
	cfg.Proxy.Port = proxy.Key("port").MustInt(cfg.Proxy.Port)
	cfg.Proxy.User = proxy.Key("user").String()
	cfg.Proxy.NoProxy = proxy.Key("no_proxy").String()

	logSection := iniFile.Section("log")
	cfg.Log.Level = logSection.Key("level").MustString(cfg.Log.Level)
	cfg.Log.Format = logSection.Key("format").MustString(cfg.Log.Format)

	return nil
}

// ApplyEnv overlays BLOBXFER_* environment variables. Unset variables leave
// the current values untouched.
func (cfg *Config) ApplyEnv() error {
	sections := []interface{}{
		&cfg.Transfer, &cfg.Retry, &cfg.Azure, &cfg.S3, &cfg.Proxy, &cfg.Log,
	}
	for _, section := range sections {
		if err := envconfig.Process(EnvPrefix, section); err != nil {
			return fmt.Errorf("invalid environment configuration: %w", err)
		}
	}
	return nil
}

// Save writes the configuration to path (the default path when empty).
// The proxy password is never persisted.
func Save(cfg *Config, path string) error {
	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return fmt.Errorf("failed to determine config path: %w", err)
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	iniFile := cfg.toINI()

	// Use temporary file + rename for atomicity
	tmpPath := path + ".tmp"
	if err := iniFile.SaveTo(tmpPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	// Restrict permissions on Unix; the file may carry a SAS token
	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpPath, 0600); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to set config permissions: %w", err)
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config: %w", err)
	}

	return nil
}

func (cfg *Config) toINI() *ini.File {
	iniFile := ini.Empty()

	transfer := iniFile.Section("transfer")
	transfer.Key("threads").SetValue(strconv.Itoa(cfg.Transfer.Threads))
	transfer.Key("concurrent").SetValue(strconv.Itoa(cfg.Transfer.Concurrent))
	transfer.Key("max_bandwidth_mbps").SetValue(strconv.FormatFloat(cfg.Transfer.MaxBandwidthMbps, 'f', -1, 64))
	transfer.Key("resume").SetValue(strconv.FormatBool(cfg.Transfer.Resume))
	transfer.Key("state_path").SetValue(cfg.Transfer.StatePath)

	retry := iniFile.Section("retry")
	retry.Key("max_retries").SetValue(strconv.Itoa(cfg.Retry.MaxRetries))
	retry.Key("initial_delay_ms").SetValue(strconv.Itoa(cfg.Retry.InitialDelayMs))
	retry.Key("max_delay_ms").SetValue(strconv.Itoa(cfg.Retry.MaxDelayMs))

	azure := iniFile.Section("azure")
	azure.Key("sas_token").SetValue(cfg.Azure.SASToken)
	azure.Key("sas_endpoint").SetValue(cfg.Azure.SASEndpoint)
	azure.Key("sas_endpoint_auth").SetValue(cfg.Azure.SASEndpointAuth)

	s3 := iniFile.Section("s3")
	s3.Key("region").SetValue(cfg.S3.Region)
	s3.Key("endpoint").SetValue(cfg.S3.Endpoint)
	s3.Key("profile").SetValue(cfg.S3.Profile)
	s3.Key("path_style").SetValue(strconv.FormatBool(cfg.S3.PathStyle))

	proxy := iniFile.Section("proxy")
	proxy.Key("mode").SetValue(cfg.Proxy.Mode)
	proxy.Key("host").SetValue(cfg.Proxy.Host)
	proxy.Key("port").SetValue(strconv.Itoa(cfg.Proxy.Port))
	proxy.Key("user").SetValue(cfg.Proxy.User)
	proxy.Key("no_proxy").SetValue(cfg.Proxy.NoProxy)

	logSection := iniFile.Section("log")
	logSection.Key("level").SetValue(cfg.Log.Level)
	logSection.Key("format").SetValue(cfg.Log.Format)

	return iniFile
}

// Validate checks if the configuration is valid.
// Returns nil if valid, or an error describing what's wrong.
func (cfg *Config) Validate() error {
	if cfg.Transfer.Threads < 1 || cfg.Transfer.Threads > constants.AbsoluteMaxThreads {
		return ErrInvalidThreads
	}
	if cfg.Transfer.Concurrent < 1 || cfg.Transfer.Concurrent > constants.MaxConcurrentTransfers {
		return ErrInvalidConcurrent
	}
	if cfg.Transfer.MaxBandwidthMbps < 0 {
		return ErrInvalidBandwidth
	}
	if cfg.Retry.MaxRetries < 0 || cfg.Retry.MaxRetries > 100 {
		return ErrInvalidRetries
	}
	if cfg.Retry.InitialDelayMs <= 0 || cfg.Retry.MaxDelayMs <= 0 || cfg.Retry.InitialDelayMs > cfg.Retry.MaxDelayMs {
		return ErrInvalidDelay
	}
	switch strings.ToLower(cfg.Proxy.Mode) {
	case "", "no-proxy", "system", "basic", "ntlm":
	default:
		return ErrInvalidProxyMode
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "", "console", "json":
	default:
		return ErrInvalidLogFormat
	}
	return nil
}

// InitialDelay returns the configured first retry delay.
func (cfg *Config) InitialDelay() time.Duration {
	return time.Duration(cfg.Retry.InitialDelayMs) * time.Millisecond
}

// MaxDelay returns the configured retry delay cap.
func (cfg *Config) MaxDelay() time.Duration {
	return time.Duration(cfg.Retry.MaxDelayMs) * time.Millisecond
}

// BandwidthBytesPerSecond converts MaxBandwidthMbps to bytes per second.
// Zero means unlimited.
func (cfg *Config) BandwidthBytesPerSecond() float64 {
	return cfg.Transfer.MaxBandwidthMbps * 1_000_000 / 8
}

// String renders the configuration as INI with secrets masked, for `config show`.
func (cfg *Config) String() string {
	masked := *cfg
	if masked.Azure.SASToken != "" {
		masked.Azure.SASToken = "****"
	}
	if masked.Azure.SASEndpointAuth != "" {
		masked.Azure.SASEndpointAuth = "****"
	}

	var sb strings.Builder
	if _, err := masked.toINI().WriteTo(&sb); err != nil {
		return err.Error()
	}
	return sb.String()
}
