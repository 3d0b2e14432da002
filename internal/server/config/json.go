package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/complyscan/scanstore/internal/flagx"
)

// Duration wraps time.Duration for JSON unmarshalling, accepting both
// string values such as "5s" and integer nanoseconds.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	default:
		return &json.UnsupportedTypeError{}
	}
}

// JsonConfig defines a configuration structure tailored for JSON
// unmarshalling. It is an intermediate DTO used only for reading JSON
// configuration files; after unmarshalling, its fields are copied into the
// runtime Config struct.
type JsonConfig struct {
	EndpointAddrHTTP      *string   `json:"endpoint_addr_http"`
	DatabaseDSN           *string   `json:"database_dsn"`
	MasterKeySecret       *string   `json:"master_key_secret"`
	SigningSecret         *string   `json:"signing_secret"`
	RedisAddr             *string   `json:"redis_addr"`
	DisableIsolation      *bool     `json:"disable_isolation"`
	IsolationBypassReason *string   `json:"isolation_bypass_reason"`
	KMSKeyID              *string   `json:"kms_key_id"`
	KMSRegion             *string   `json:"kms_region"`
	KMSWrappedKey         *string   `json:"kms_wrapped_key"`
	KMSAccessKey          *string   `json:"kms_access_key"`
	KMSSecretKey          *string   `json:"kms_secret_key"`
	KMSBaseEndpoint       *string   `json:"kms_base_endpoint"`
	ArchiveBucket         *string   `json:"archive_bucket"`
	ArchiveRegion         *string   `json:"archive_region"`
	S3RootUser            *string   `json:"s3_root_user"`
	S3RootPassword        *string   `json:"s3_root_password"`
	S3BaseEndpoint        *string   `json:"s3_base_endpoint"`
	SpoolDir              *string   `json:"spool_dir"`
	ReadTimeout           *Duration `json:"read_timeout"`
	WriteTimeout          *Duration `json:"write_timeout"`
	MaxDBConns            *int      `json:"max_db_conns"`
	ReconcileInterval     *Duration `json:"reconcile_interval"`
	CacheTTL              *Duration `json:"cache_ttl"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance.
//
// The file path is taken from the -c or -config command-line flags; if
// neither is set, no JSON file is loaded. Only fields present in the file
// override the current values. If the file cannot be read or contains
// invalid JSON, the function panics: a broken config file should stop the
// process before it opens any port.
func parseJson(config *Config) {

	// try flags
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	setDuration := func(dst *time.Duration, src *Duration) {
		if src != nil {
			*dst = time.Duration(*src)
		}
	}

	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.MasterKeySecret, c.MasterKeySecret)
	setString(&config.SigningSecret, c.SigningSecret)
	setString(&config.RedisAddr, c.RedisAddr)
	setString(&config.IsolationBypassReason, c.IsolationBypassReason)
	setString(&config.KMSKeyID, c.KMSKeyID)
	setString(&config.KMSRegion, c.KMSRegion)
	setString(&config.KMSWrappedKey, c.KMSWrappedKey)
	setString(&config.KMSAccessKey, c.KMSAccessKey)
	setString(&config.KMSSecretKey, c.KMSSecretKey)
	setString(&config.KMSBaseEndpoint, c.KMSBaseEndpoint)
	setString(&config.ArchiveBucket, c.ArchiveBucket)
	setString(&config.ArchiveRegion, c.ArchiveRegion)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.SpoolDir, c.SpoolDir)
	setDuration(&config.ReadTimeout, c.ReadTimeout)
	setDuration(&config.WriteTimeout, c.WriteTimeout)
	setDuration(&config.ReconcileInterval, c.ReconcileInterval)
	setDuration(&config.CacheTTL, c.CacheTTL)

	if c.DisableIsolation != nil {
		config.DisableIsolation = *c.DisableIsolation
	}
	if c.MaxDBConns != nil {
		config.MaxDBConns = *c.MaxDBConns
	}
}
