package config

import (
	"flag"
	"os"
	"time"

	"github.com/complyscan/scanstore/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN
//	-k string   master encryption key (hex or base64, 32 raw bytes)
//	-s string   API token signing secret (64 hex chars)
//	-r string   Redis address (empty disables the cache)
//	-f string   spool directory for the file fallback
//	-x          disable tenant isolation (debug escape hatch)
//	-xr string  mandatory reason when -x is set (audit-logged)
//	-p int      max DB connections
//	-i int      spool reconcile interval, seconds
//
// Notes:
//   - The function first filters os.Args to only the flags it recognizes
//     using flagx.FilterArgs, avoiding collisions with other components.
//   - KMS and archive settings are JSON-file-only; they change rarely and
//     carry credentials that do not belong on a command line.
func parseFlags(config *Config) {
	// Filter args to include only the flags handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-k", "-s", "-r", "-f", "-x", "-xr", "-p", "-i"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.MasterKeySecret, "k", config.MasterKeySecret, "master encryption key")
	fs.StringVar(&config.SigningSecret, "s", config.SigningSecret, "token signing secret")
	fs.StringVar(&config.RedisAddr, "r", config.RedisAddr, "redis address")
	fs.StringVar(&config.SpoolDir, "f", config.SpoolDir, "fallback spool directory")
	fs.BoolVar(&config.DisableIsolation, "x", config.DisableIsolation, "disable tenant isolation (debug only)")
	fs.StringVar(&config.IsolationBypassReason, "xr", config.IsolationBypassReason, "reason for disabling isolation")
	fs.IntVar(&config.MaxDBConns, "p", config.MaxDBConns, "max database connections")

	reconcileSeconds := fs.Int("i", int(config.ReconcileInterval.Seconds()), "spool reconcile interval (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.ReconcileInterval = time.Duration(*reconcileSeconds) * time.Second
}
