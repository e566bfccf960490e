// Package config loads runtime configuration for the notesync client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected via -c or -config.
//  3. NOTESYNC_* environment variables.
//  4. Command-line flags, which override earlier values.
//
// Supported flags
//
//	-a string   remote database DSN
//	-d string   local database path
//	-i int      online status check interval (seconds)
//	-l string   HTTP API listen address (empty disables the API)
//	-v string   log level
//
// # JSON schema
//
// Intervals accept strings like "3s" or integer nanoseconds:
//
//	{
//	  "local_db_path": "notesync.db",
//	  "remote_dsn": "postgres://...",
//	  "realtime_transport": "postgres",
//	  "online_check_interval": "3s",
//	  "drain_interval": "5s",
//	  "conflict_strategy": "merge"
//	}
package config
