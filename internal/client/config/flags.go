package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/dmitrijs2005/notesync/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
//	-a string   remote database DSN
//	-d string   local database path
//	-i int      online check interval in seconds
//	-l string   HTTP API listen address
//	-v string   log level
func parseFlags(cfg *Config, args []string) error {
	args = flagx.NewStage("-a", "-d", "-i", "-l", "-v").Filter(args)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.RemoteDSN, "a", cfg.RemoteDSN, "remote database DSN")
	fs.StringVar(&cfg.LocalDBPath, "d", cfg.LocalDBPath, "local database path")
	onlineCheckInterval := fs.Int("i", int(cfg.OnlineCheckInterval.Seconds()), "online check interval (in seconds)")
	fs.StringVar(&cfg.HTTPAddr, "l", cfg.HTTPAddr, "HTTP API listen address")
	fs.StringVar(&cfg.LogLevel, "v", cfg.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}

	cfg.OnlineCheckInterval = time.Duration(*onlineCheckInterval) * time.Second
	return nil
}
