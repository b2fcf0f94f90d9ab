// Package config defines the single configuration object the Engine facade
// consumes: the in-process struct, its defaulting/validation rules, and
// plain YAML load/save helpers (LoadFromFile/SaveToFile). CLI flag handling
// is not part of this package.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration object passed to engine.New.
type Config struct {
	Environment string           `yaml:"environment" json:"environment"`
	Transport   *TransportConfig `yaml:"transport" json:"transport"`
	Discovery   *DiscoveryConfig `yaml:"discovery" json:"discovery"`
	Identity    *IdentityConfig  `yaml:"identity" json:"identity"`
	Storage     *StorageConfig   `yaml:"storage" json:"storage"`
	Pool        *PoolConfig      `yaml:"pool" json:"pool"`
	Transfer    *TransferConfig  `yaml:"transfer" json:"transfer"`
	Logging     *LoggingConfig   `yaml:"logging" json:"logging"`
	Metrics     *MetricsConfig   `yaml:"metrics" json:"metrics"`
}

// TransportConfig configures the QUIC endpoint and mTLS manager (spec.md §4.D).
type TransportConfig struct {
	Port               int           `yaml:"port" json:"port"`
	CertificatesDir    string        `yaml:"certificates_dir" json:"certificates_dir"`
	ConnectionTimeout  time.Duration `yaml:"connection_timeout" json:"connection_timeout"`
	MaxConnections     int           `yaml:"max_connections" json:"max_connections"`
	RequireClientCert  bool          `yaml:"require_client_cert" json:"require_client_cert"`
	KeepAliveInterval  time.Duration `yaml:"keep_alive_interval" json:"keep_alive_interval"`
	IdleTimeout        time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	OrganizationName   string        `yaml:"organization_name" json:"organization_name"`
	CountryCode        string        `yaml:"country_code" json:"country_code"`
	EnableEncryption   bool          `yaml:"enable_encryption" json:"enable_encryption"`
}

// DiscoveryConfig configures the mDNS publication/query loop (spec.md §4.C).
type DiscoveryConfig struct {
	ServiceType     string        `yaml:"service_type" json:"service_type"`
	Domain          string        `yaml:"domain" json:"domain"`
	QueryInterval   time.Duration `yaml:"query_interval" json:"query_interval"`
	DeviceTimeout   time.Duration `yaml:"device_timeout" json:"device_timeout"`
	EnableIPv6      bool          `yaml:"enable_ipv6" json:"enable_ipv6"`
	CacheSizeLimit  int           `yaml:"cache_size_limit" json:"cache_size_limit"`
	LivenessTimeout time.Duration `yaml:"liveness_timeout" json:"liveness_timeout"`
}

// KeyAlgorithm enumerates the identity manager's key generation algorithms.
type KeyAlgorithm string

const (
	KeyAlgorithmRSA   KeyAlgorithm = "RSA"
	KeyAlgorithmECDSA KeyAlgorithm = "ECDSA"
)

// IdentityConfig configures the private CA (spec.md §4.B).
type IdentityConfig struct {
	ValidityDays             int          `yaml:"validity_days" json:"validity_days"`
	CAValidityDays           int          `yaml:"ca_validity_days" json:"ca_validity_days"`
	KeyAlgorithm             KeyAlgorithm `yaml:"key_algorithm" json:"key_algorithm"`
	KeySize                  int          `yaml:"key_size" json:"key_size"`
	EnforceStrictValidation  bool         `yaml:"enforce_strict_validation" json:"enforce_strict_validation"`
	MaxCertificateChainLen   int          `yaml:"max_certificate_chain_length" json:"max_certificate_chain_length"`
	EnableCRL                bool         `yaml:"enable_crl" json:"enable_crl"`
	CAOrganization           string       `yaml:"ca_organization" json:"ca_organization"`
	CACommonName             string       `yaml:"ca_common_name" json:"ca_common_name"`
	CacheTTLSeconds          int          `yaml:"cache_ttl_seconds" json:"cache_ttl_seconds"`
}

// CompressionStrategy names a storage compressor choice. The storage
// engine does not read it; it always uses the smart selector.
type CompressionStrategy string

const (
	CompressionNone     CompressionStrategy = "none"
	CompressionLz4      CompressionStrategy = "lz4"
	CompressionZstd     CompressionStrategy = "zstd"
	CompressionZstdMax  CompressionStrategy = "zstd_max"
	CompressionSmart    CompressionStrategy = "smart"
)

// StorageConfig configures the content-addressed object store (spec.md §4.H).
type StorageConfig struct {
	StorageRoot         string              `yaml:"storage_root" json:"storage_root"`
	EnableCompression   bool                `yaml:"enable_compression" json:"enable_compression"`
	CompressionStrategy CompressionStrategy `yaml:"compression_strategy" json:"compression_strategy"`
	EnableEncryption    bool                `yaml:"enable_encryption" json:"enable_encryption"`
	ReplicaCount        int                 `yaml:"replica_count" json:"replica_count"`
	CacheSizeLimit      int                 `yaml:"cache_size_limit" json:"cache_size_limit"`
	CleanupInterval     time.Duration       `yaml:"cleanup_interval" json:"cleanup_interval"`
}

// LoadBalanceStrategy selects the connection pool's peer selection policy.
type LoadBalanceStrategy string

const (
	StrategyRoundRobin          LoadBalanceStrategy = "round_robin"
	StrategyLeastConnections    LoadBalanceStrategy = "least_connections"
	StrategyResponseTimeWeighted LoadBalanceStrategy = "response_time_weighted"
	StrategyRandom              LoadBalanceStrategy = "random"
	StrategyConsistentHash      LoadBalanceStrategy = "consistent_hash"
	StrategyWeightedRoundRobin  LoadBalanceStrategy = "weighted_round_robin"
	StrategyLeastActiveRequests LoadBalanceStrategy = "least_active_requests"
)

// PoolConfig configures the advanced connection pool (spec.md §4.D).
type PoolConfig struct {
	MaxConnections         int                 `yaml:"max_connections" json:"max_connections"`
	MaxConnectionsPerAddr  int                 `yaml:"max_connections_per_addr" json:"max_connections_per_addr"`
	IdleTimeout            time.Duration       `yaml:"idle_timeout" json:"idle_timeout"`
	LoadBalanceStrategy    LoadBalanceStrategy `yaml:"load_balance_strategy" json:"load_balance_strategy"`
	HealthCheckInterval    time.Duration       `yaml:"health_check_interval" json:"health_check_interval"`
	WarmupConnections      int                 `yaml:"warmup_connections" json:"warmup_connections"`
	EnableAdaptiveSizing   bool                `yaml:"enable_adaptive_sizing" json:"enable_adaptive_sizing"`
	MaxRequestQueue        int                 `yaml:"max_request_queue" json:"max_request_queue"`
}

// ChunkHashAlgorithm selects the per-chunk integrity digest.
type ChunkHashAlgorithm string

const (
	ChunkHashSHA256 ChunkHashAlgorithm = "sha256"
	ChunkHashBlake3 ChunkHashAlgorithm = "blake3"
)

// RetryDelayKind selects a retry policy's backoff shape.
type RetryDelayKind string

const (
	RetryDelayFixed       RetryDelayKind = "fixed"
	RetryDelayExponential RetryDelayKind = "exponential"
	RetryDelayLinear      RetryDelayKind = "linear"
)

// RetryPolicy configures how a failed transfer task is retried (spec.md §4.J).
type RetryPolicy struct {
	MaxRetries int            `yaml:"max_retries" json:"max_retries"`
	DelayKind  RetryDelayKind `yaml:"delay_kind" json:"delay_kind"`
	Base       time.Duration  `yaml:"base" json:"base"`
	Increment  time.Duration  `yaml:"increment" json:"increment"`
	Max        time.Duration  `yaml:"max" json:"max"`
}

// TransferConfig configures the chunked transfer pipeline (spec.md §4.J).
type TransferConfig struct {
	ChunkSize          int64              `yaml:"chunk_size" json:"chunk_size"`
	ChunkHashAlgorithm ChunkHashAlgorithm `yaml:"chunk_hash_algorithm" json:"chunk_hash_algorithm"`
	MaxConcurrency     int                `yaml:"max_concurrency" json:"max_concurrency"`
	CheckpointEvery    int                `yaml:"checkpoint_every" json:"checkpoint_every"`
	CheckpointDir      string             `yaml:"checkpoint_dir" json:"checkpoint_dir"`
	Retry              RetryPolicy        `yaml:"retry" json:"retry"`
}

// LoggingConfig configures the internal/logger sink.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// MetricsConfig configures the Prometheus registry exposure.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Port    int    `yaml:"port" json:"port"`
	Path    string `yaml:"path" json:"path"`
}

// LoadFromFile reads a YAML (falling back to JSON) config file and applies defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	SetDefaults(cfg)
	return cfg, nil
}

// SaveToFile persists cfg as YAML.
func SaveToFile(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Default returns a fully-defaulted Config suitable for a single local device.
func Default() *Config {
	cfg := &Config{}
	SetDefaults(cfg)
	return cfg
}

// SetDefaults fills in zero-valued fields that have a default. Boolean
// switches, Metrics.Port and Transfer.Retry.Increment are left as given.
func SetDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	if cfg.Transport == nil {
		cfg.Transport = &TransportConfig{}
	}
	t := cfg.Transport
	if t.Port == 0 {
		t.Port = 8443
	}
	if t.CertificatesDir == "" {
		t.CertificatesDir = "certs"
	}
	if t.ConnectionTimeout == 0 {
		t.ConnectionTimeout = 10 * time.Second
	}
	if t.MaxConnections == 0 {
		t.MaxConnections = 100
	}
	if t.KeepAliveInterval == 0 {
		t.KeepAliveInterval = 15 * time.Second
	}
	if t.IdleTimeout == 0 {
		t.IdleTimeout = 5 * time.Minute
	}
	if t.OrganizationName == "" {
		t.OrganizationName = "BEY Fabric"
	}
	if t.CountryCode == "" {
		t.CountryCode = "US"
	}

	if cfg.Discovery == nil {
		cfg.Discovery = &DiscoveryConfig{}
	}
	d := cfg.Discovery
	if d.ServiceType == "" {
		d.ServiceType = "_bey._tcp"
	}
	if d.Domain == "" {
		d.Domain = "local"
	}
	if d.QueryInterval == 0 {
		d.QueryInterval = 30 * time.Second
	}
	if d.DeviceTimeout == 0 {
		d.DeviceTimeout = 90 * time.Second
	}
	if d.CacheSizeLimit == 0 {
		d.CacheSizeLimit = 1000
	}
	if d.LivenessTimeout == 0 {
		d.LivenessTimeout = 30 * time.Second
	}

	if cfg.Identity == nil {
		cfg.Identity = &IdentityConfig{}
	}
	id := cfg.Identity
	if id.ValidityDays == 0 {
		id.ValidityDays = 365
	}
	if id.CAValidityDays == 0 {
		id.CAValidityDays = 3650
	}
	if id.KeyAlgorithm == "" {
		id.KeyAlgorithm = KeyAlgorithmRSA
	}
	if id.KeySize == 0 {
		id.KeySize = 2048
	}
	if id.MaxCertificateChainLen == 0 {
		id.MaxCertificateChainLen = 5
	}
	if id.CAOrganization == "" {
		id.CAOrganization = "BEY Fabric"
	}
	if id.CACommonName == "" {
		id.CACommonName = "BEY Root CA"
	}
	if id.CacheTTLSeconds == 0 {
		id.CacheTTLSeconds = 300
	}

	if cfg.Storage == nil {
		cfg.Storage = &StorageConfig{}
	}
	s := cfg.Storage
	if s.StorageRoot == "" {
		s.StorageRoot = "storage"
	}
	if s.CompressionStrategy == "" {
		s.CompressionStrategy = CompressionSmart
	}
	if s.ReplicaCount == 0 {
		s.ReplicaCount = 1
	}
	if s.CacheSizeLimit == 0 {
		s.CacheSizeLimit = 10000
	}
	if s.CleanupInterval == 0 {
		s.CleanupInterval = time.Hour
	}

	if cfg.Pool == nil {
		cfg.Pool = &PoolConfig{}
	}
	p := cfg.Pool
	if p.MaxConnections == 0 {
		p.MaxConnections = 100
	}
	if p.MaxConnectionsPerAddr == 0 {
		p.MaxConnectionsPerAddr = 8
	}
	if p.IdleTimeout == 0 {
		p.IdleTimeout = 5 * time.Minute
	}
	if p.LoadBalanceStrategy == "" {
		p.LoadBalanceStrategy = StrategyRoundRobin
	}
	if p.HealthCheckInterval == 0 {
		p.HealthCheckInterval = 30 * time.Second
	}
	if p.MaxRequestQueue == 0 {
		p.MaxRequestQueue = 10000
	}

	if cfg.Transfer == nil {
		cfg.Transfer = &TransferConfig{}
	}
	tr := cfg.Transfer
	if tr.ChunkSize == 0 {
		tr.ChunkSize = 64 * 1024
	}
	if tr.ChunkHashAlgorithm == "" {
		tr.ChunkHashAlgorithm = ChunkHashSHA256
	}
	if tr.MaxConcurrency == 0 {
		tr.MaxConcurrency = 4
	}
	if tr.CheckpointEvery == 0 {
		tr.CheckpointEvery = 10
	}
	if tr.CheckpointDir == "" {
		tr.CheckpointDir = "transfer_checkpoints"
	}
	if tr.Retry.MaxRetries == 0 {
		tr.Retry.MaxRetries = 3
	}
	if tr.Retry.DelayKind == "" {
		tr.Retry.DelayKind = RetryDelayExponential
	}
	if tr.Retry.Base == 0 {
		tr.Retry.Base = time.Second
	}
	if tr.Retry.Max == 0 {
		tr.Retry.Max = 30 * time.Second
	}

	if cfg.Logging == nil {
		cfg.Logging = &LoggingConfig{}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Metrics == nil {
		cfg.Metrics = &MetricsConfig{}
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

// Validate checks cross-field invariants not expressible as simple defaults.
func Validate(cfg *Config) error {
	if cfg.Transport != nil && cfg.Transport.Port <= 0 {
		return fmt.Errorf("transport.port must be positive")
	}
	if cfg.Identity != nil {
		switch cfg.Identity.KeyAlgorithm {
		case KeyAlgorithmRSA:
			switch cfg.Identity.KeySize {
			case 2048, 3072, 4096:
			default:
				return fmt.Errorf("identity.key_size %d invalid for RSA", cfg.Identity.KeySize)
			}
		case KeyAlgorithmECDSA:
			switch cfg.Identity.KeySize {
			case 256, 384, 521:
			default:
				return fmt.Errorf("identity.key_size %d invalid for ECDSA", cfg.Identity.KeySize)
			}
		default:
			return fmt.Errorf("identity.key_algorithm %q unrecognized", cfg.Identity.KeyAlgorithm)
		}
	}
	if cfg.Storage != nil && cfg.Storage.ReplicaCount < 1 {
		return fmt.Errorf("storage.replica_count must be >= 1")
	}
	if cfg.Transfer != nil {
		if cfg.Transfer.ChunkSize <= 0 {
			return fmt.Errorf("transfer.chunk_size must be positive")
		}
		if cfg.Transfer.MaxConcurrency <= 0 {
			return fmt.Errorf("transfer.max_concurrency must be positive")
		}
	}
	return nil
}
