package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/notesync/internal/flagx"
	"github.com/dmitrijs2005/notesync/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Intervals
// are timex.Duration so they can be written as "3s" or as nanoseconds.
type JsonConfig struct {
	LocalDBPath       string `json:"local_db_path"`
	RemoteDSN         string `json:"remote_dsn"`
	RealtimeTransport string `json:"realtime_transport"`
	RealtimeURL       string `json:"realtime_url"`

	OnlineCheckInterval timex.Duration `json:"online_check_interval"`
	DrainInterval       timex.Duration `json:"drain_interval"`
	HeartbeatInterval   timex.Duration `json:"heartbeat_interval"`
	PresenceInterval    timex.Duration `json:"presence_interval"`
	SubscribeTimeout    timex.Duration `json:"subscribe_timeout"`

	ReconnectBase        timex.Duration `json:"reconnect_base"`
	ReconnectCap         timex.Duration `json:"reconnect_cap"`
	ReconnectMaxAttempts int            `json:"reconnect_max_attempts"`

	MaxSyncAttempts   int            `json:"max_sync_attempts"`
	InactiveDeviceAge timex.Duration `json:"inactive_device_age"`
	ConflictStrategy  string         `json:"conflict_strategy"`

	DeviceName string `json:"device_name"`
	HTTPAddr   string `json:"http_addr"`

	SessionSecret string         `json:"session_secret"`
	SessionTTL    timex.Duration `json:"session_ttl"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`

	S3Endpoint  string `json:"s3_endpoint"`
	S3Region    string `json:"s3_region"`
	S3Bucket    string `json:"s3_bucket"`
	S3AccessKey string `json:"s3_access_key"`
	S3SecretKey string `json:"s3_secret_key"`

	SnapshotPassphrase string `json:"snapshot_passphrase"`
}

// parseJson overlays cfg with the JSON file named by -c/-config. Keys that
// are absent from the file keep their current value.
func parseJson(cfg *Config, args []string) error {
	jsonConfigFile := flagx.ConfigPath(args)
	if jsonConfigFile == "" {
		return nil
	}

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	setString(&cfg.LocalDBPath, jc.LocalDBPath)
	setString(&cfg.RemoteDSN, jc.RemoteDSN)
	setString(&cfg.RealtimeTransport, jc.RealtimeTransport)
	setString(&cfg.RealtimeURL, jc.RealtimeURL)

	setDuration(&cfg.OnlineCheckInterval, jc.OnlineCheckInterval)
	setDuration(&cfg.DrainInterval, jc.DrainInterval)
	setDuration(&cfg.HeartbeatInterval, jc.HeartbeatInterval)
	setDuration(&cfg.PresenceInterval, jc.PresenceInterval)
	setDuration(&cfg.SubscribeTimeout, jc.SubscribeTimeout)
	setDuration(&cfg.ReconnectBase, jc.ReconnectBase)
	setDuration(&cfg.ReconnectCap, jc.ReconnectCap)
	setInt(&cfg.ReconnectMaxAttempts, jc.ReconnectMaxAttempts)

	setInt(&cfg.MaxSyncAttempts, jc.MaxSyncAttempts)
	setDuration(&cfg.InactiveDeviceAge, jc.InactiveDeviceAge)
	setString(&cfg.ConflictStrategy, jc.ConflictStrategy)

	setString(&cfg.DeviceName, jc.DeviceName)
	setString(&cfg.HTTPAddr, jc.HTTPAddr)
	setString(&cfg.SessionSecret, jc.SessionSecret)
	setDuration(&cfg.SessionTTL, jc.SessionTTL)
	setString(&cfg.LogLevel, jc.LogLevel)
	setString(&cfg.LogFormat, jc.LogFormat)

	setString(&cfg.S3Endpoint, jc.S3Endpoint)
	setString(&cfg.S3Region, jc.S3Region)
	setString(&cfg.S3Bucket, jc.S3Bucket)
	setString(&cfg.S3AccessKey, jc.S3AccessKey)
	setString(&cfg.S3SecretKey, jc.S3SecretKey)
	setString(&cfg.SnapshotPassphrase, jc.SnapshotPassphrase)
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
