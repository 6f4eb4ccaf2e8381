// Package config defines the JSON-serializable configuration model shared by
// the splitter and processor binaries. Decoding uses the standard library;
// secrets and deploy-specific endpoints can be overridden from the
// environment so config files stay checked in without credentials.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// Config is the top-level object decoded from a config file.
type Config struct {
	// Job names this deployment for metrics labeling and log correlation.
	Job string `json:"job"`

	Queue     QueueConfig     `json:"queue"`
	Blob      BlobConfig      `json:"blob"`
	Transform TransformConfig `json:"transform"`
	Chunking  ChunkingConfig  `json:"chunking"`
	DB        DBConfig        `json:"db"`
	Server    ServerConfig    `json:"server"`
	Metrics   MetricsConfig   `json:"metrics"`

	// AckOnFailure acknowledges failed jobs instead of releasing them for
	// redelivery. Unset means true: a permanently bad dataset must not loop
	// through the queue forever.
	AckOnFailure *bool `json:"ack_on_failure"`
}

// QueueConfig configures the job queue consumer.
type QueueConfig struct {
	// URI is the AMQP connection string. Env override: AMQP_URI.
	URI string `json:"uri"`

	// Name is the durable job queue name.
	Name string `json:"name"`

	// Prefetch bounds unacked deliveries per consumer.
	Prefetch int `json:"prefetch"`
}

// BlobConfig configures the object store client.
type BlobConfig struct {
	// Endpoint is host:port of the object store. Env override: BLOB_ENDPOINT.
	Endpoint string `json:"endpoint"`

	// AccessKey and SecretKey authenticate against the object store. Env
	// overrides: BLOB_ACCESS_KEY, BLOB_SECRET_KEY.
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`

	UseSSL bool `json:"use_ssl"`
}

// TransformConfig configures dispatch to the processor endpoint.
type TransformConfig struct {
	// Endpoint is the processor's transform URL. Env override:
	// TRANSFORM_ENDPOINT.
	Endpoint string `json:"endpoint"`

	// TimeoutSeconds bounds one transform call end-to-end.
	TimeoutSeconds int `json:"timeout_seconds"`

	// Workers bounds concurrent transform calls per job.
	Workers int `json:"workers"`
}

// ChunkingConfig configures dataset splitting.
type ChunkingConfig struct {
	// MaxRows is the maximum data rows per chunk.
	MaxRows int `json:"max_rows"`
}

// DBConfig configures the relational store.
type DBConfig struct {
	// DSN is the pgxpool connection string. Env override: DB_DSN.
	DSN string `json:"dsn"`

	TripsTable   string `json:"trips_table"`
	VendorsTable string `json:"vendors_table"`

	// BatchSize is the maximum rows per COPY batch.
	BatchSize int `json:"batch_size"`
}

// ServerConfig configures the processor's HTTP listener.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `json:"addr"`
}

// MetricsConfig selects and configures the metrics backend.
type MetricsConfig struct {
	// Backend selects the implementation: "pushgateway", "datadog", or
	// "none". Empty means none.
	Backend string `json:"backend"`

	// PushgatewayURL is the Pushgateway base URL for the "pushgateway"
	// backend. Env override: PUSHGATEWAY_URL.
	PushgatewayURL string `json:"pushgateway_url"`

	// StatsdAddr is the DogStatsD address for the "datadog" backend.
	StatsdAddr string `json:"statsd_addr"`

	// Namespace optionally prefixes all metric names.
	Namespace string `json:"namespace"`
}

// Defaults applied by Load for fields left zero in the file.
const (
	DefaultChunkRows      = 20000
	DefaultBatchSize      = 50000
	DefaultWorkers        = 20
	DefaultTimeoutSeconds = 60
	DefaultServerAddr     = ":8080"
)

// Load reads and decodes a config file, applies environment overrides, then
// fills defaults. Validation is the caller's job via Validate.
func Load(path string) (Config, error) {
	var c Config

	f, err := os.Open(path)
	if err != nil {
		return c, fmt.Errorf("config: open: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return c, fmt.Errorf("config: decode %s: %w", path, err)
	}

	c.applyEnv()
	c.applyDefaults()
	return c, nil
}

// applyEnv overlays deploy-specific values from the environment. Environment
// wins over the file so one config can serve multiple deployments.
func (c *Config) applyEnv() {
	overlay(&c.Queue.URI, "AMQP_URI")
	overlay(&c.Blob.Endpoint, "BLOB_ENDPOINT")
	overlay(&c.Blob.AccessKey, "BLOB_ACCESS_KEY")
	overlay(&c.Blob.SecretKey, "BLOB_SECRET_KEY")
	overlay(&c.Transform.Endpoint, "TRANSFORM_ENDPOINT")
	overlay(&c.DB.DSN, "DB_DSN")
	overlay(&c.Metrics.PushgatewayURL, "PUSHGATEWAY_URL")

	if v, ok := os.LookupEnv("ACK_ON_FAILURE"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.AckOnFailure = &b
		}
	}
}

func overlay(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// applyDefaults fills zero fields with operational defaults.
func (c *Config) applyDefaults() {
	if c.Chunking.MaxRows <= 0 {
		c.Chunking.MaxRows = DefaultChunkRows
	}
	if c.DB.BatchSize <= 0 {
		c.DB.BatchSize = DefaultBatchSize
	}
	if c.Transform.Workers <= 0 {
		c.Transform.Workers = DefaultWorkers
	}
	if c.Transform.TimeoutSeconds <= 0 {
		c.Transform.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerAddr
	}
	if c.Queue.Prefetch <= 0 {
		c.Queue.Prefetch = 1
	}
	if c.AckOnFailure == nil {
		t := true
		c.AckOnFailure = &t
	}
}

// AckFailedJobs reports the effective ack-on-failure policy.
func (c *Config) AckFailedJobs() bool {
	return c.AckOnFailure == nil || *c.AckOnFailure
}
