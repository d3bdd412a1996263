// gridbase - document database on spreadsheet-style sheets
//
// Reads and writes documents stored as CSV sheets on the local filesystem,
// S3, MinIO or GCS, enforcing the configured security rules.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/adrianmcphee/gridbase"
	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var (
	colorOK   = color.New(color.FgGreen, color.Bold).SprintFunc()
	colorErr  = color.New(color.FgRed, color.Bold).SprintFunc()
	colorInfo = color.New(color.FgBlue).SprintFunc()
)

// rootOptions holds the global flags.
type rootOptions struct {
	dataDir       string
	prefix        string
	s3Bucket      string
	s3Region      string
	minioEndpoint string
	minioBucket   string
	minioAccess   string
	minioSecret   string
	minioSSL      bool
	gcsBucket     string
	gcsCreds      string
	encryptionKey string
	redisAddr     string
	rulesFile     string
	keyFields     string
	admin         bool
	token         string
	jwtSecret     string
	format        string
	verbose       bool
	metricsFile   string
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, colorErr("error:"), err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "gridbase",
		Short:         "Document database on spreadsheet-style sheets",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// A missing .env file is fine.
			_ = godotenv.Load()
			if opts.format != "table" && opts.format != "json" {
				return fmt.Errorf("invalid format %q: must be table or json", opts.format)
			}
			return nil
		},
	}

	f := cmd.PersistentFlags()
	f.StringVar(&opts.dataDir, "data", "./data", "data directory (filesystem backend)")
	f.StringVar(&opts.prefix, "prefix", "", "object key prefix for sheets")
	f.StringVar(&opts.s3Bucket, "s3-bucket", "", "store sheets in this S3 bucket")
	f.StringVar(&opts.s3Region, "s3-region", "", "AWS region for --s3-bucket")
	f.StringVar(&opts.minioEndpoint, "minio-endpoint", "", "MinIO endpoint (host:port)")
	f.StringVar(&opts.minioBucket, "minio-bucket", "gridbase", "MinIO bucket")
	f.StringVar(&opts.minioAccess, "minio-access-key", os.Getenv("MINIO_ACCESS_KEY"), "MinIO access key")
	f.StringVar(&opts.minioSecret, "minio-secret-key", os.Getenv("MINIO_SECRET_KEY"), "MinIO secret key")
	f.BoolVar(&opts.minioSSL, "minio-ssl", false, "use TLS for MinIO")
	f.StringVar(&opts.gcsBucket, "gcs-bucket", "", "store sheets in this GCS bucket")
	f.StringVar(&opts.gcsCreds, "gcs-credentials", "", "GCS service account file")
	f.StringVar(&opts.encryptionKey, "encryption-key", os.Getenv("GRIDBASE_ENCRYPTION_KEY"), "hex encoded 32-byte key for encryption at rest")
	f.StringVar(&opts.redisAddr, "redis-addr", "", "serialize writes through Redis at this address")
	f.StringVar(&opts.rulesFile, "rules", "", "security rules file (JSON or YAML)")
	f.StringVar(&opts.keyFields, "key-fields", "", "key field per sheet, e.g. users=uid,orders=id")
	f.BoolVar(&opts.admin, "admin", false, "skip security rules")
	f.StringVar(&opts.token, "token", "", "act as the holder of this JWT")
	f.StringVar(&opts.jwtSecret, "jwt-secret", os.Getenv("GRIDBASE_JWT_SECRET"), "HS256 secret for --token")
	f.StringVar(&opts.format, "format", "table", "output format (table|json)")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "log to stderr")
	f.StringVar(&opts.metricsFile, "metrics-textfile", "", "write Prometheus metrics to this file on exit")

	cmd.AddCommand(newGetCommand(opts))
	cmd.AddCommand(newListCommand(opts))
	cmd.AddCommand(newQueryCommand(opts))
	cmd.AddCommand(newSetCommand(opts))
	cmd.AddCommand(newUpdateCommand(opts))
	cmd.AddCommand(newRemoveCommand(opts))
	cmd.AddCommand(newIncreaseCommand(opts))
	cmd.AddCommand(newSheetsCommand(opts))
	cmd.AddCommand(newKeyCommand(opts))

	return cmd
}

func (o *rootOptions) backendConfig() (gridbase.BackendConfig, error) {
	cfg := gridbase.BackendConfig{Type: "filesystem", Bucket: o.dataDir}
	switch {
	case o.s3Bucket != "":
		cfg = gridbase.BackendConfig{Type: "s3", Bucket: o.s3Bucket, Region: o.s3Region}
	case o.minioEndpoint != "":
		cfg = gridbase.BackendConfig{
			Type:            "minio",
			Bucket:          o.minioBucket,
			Endpoint:        o.minioEndpoint,
			AccessKeyID:     o.minioAccess,
			SecretAccessKey: o.minioSecret,
			UseSSL:          o.minioSSL,
		}
	case o.gcsBucket != "":
		cfg = gridbase.BackendConfig{Type: "gcs", Bucket: o.gcsBucket, CredentialsFile: o.gcsCreds}
	}

	if o.encryptionKey != "" {
		key, err := hex.DecodeString(strings.TrimSpace(o.encryptionKey))
		if err != nil {
			return cfg, fmt.Errorf("invalid --encryption-key: %w", err)
		}
		cfg.EncryptionKey = key
	}
	return cfg, cfg.Validate()
}

// openDB builds the database described by the flags. The returned close
// function releases the grid and any Redis locker.
func (o *rootOptions) openDB(ctx context.Context) (*gridbase.DB, func(), error) {
	cfg, err := o.backendConfig()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Type == "filesystem" {
		if err := os.MkdirAll(cfg.Bucket, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	backend, err := gridbase.NewBlobBackend(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	breaker := gridbase.NewCircuitBreaker(5, 30*time.Second)
	grid := gridbase.NewBreakerGrid(gridbase.NewObjectGrid(backend, o.prefix), breaker)

	opts, err := gridbase.LoadOptionsFromEnv()
	if err != nil {
		grid.Close()
		return nil, nil, err
	}
	logCfg := gridbase.LogConfigFromEnv()
	if o.verbose {
		logCfg = gridbase.LogConfig{Level: "debug", Format: "console"}
	}
	switch {
	case logCfg.Format == "text":
		opts.Logger = gridbase.NewStdLogger(os.Stderr, logCfg.Level)
	case o.verbose || logCfg.Level != "":
		logger, err := gridbase.NewConfiguredZapLogger(logCfg)
		if err != nil {
			grid.Close()
			return nil, nil, err
		}
		opts.Logger = logger.With("backend", cfg.Type)
	}
	logger := opts.Logger
	breaker.WithStateChangeCallback(func(from, to string) {
		logger.Warn("grid circuit breaker changed state", "from", from, "to", to)
	})

	if o.keyFields != "" {
		fields, err := gridbase.ParseKeyFields(o.keyFields)
		if err != nil {
			grid.Close()
			return nil, nil, err
		}
		opts.KeyFields = fields
	}
	if o.rulesFile != "" {
		rules, err := gridbase.LoadRulesFile(o.rulesFile)
		if err != nil {
			grid.Close()
			return nil, nil, err
		}
		opts.Rules = rules
	}
	opts.Admin = opts.Admin || o.admin
	if o.jwtSecret != "" {
		opts.TokenDecoder = gridbase.NewJWTDecoder([]byte(o.jwtSecret))
	}

	var locker *gridbase.RedisLocker
	if o.redisAddr != "" {
		locker, err = gridbase.DialRedisLocker(ctx, o.redisAddr, "gridbase")
		if err != nil {
			grid.Close()
			return nil, nil, err
		}
		opts.Locker = locker
	}

	var metrics *gridbase.PrometheusMetrics
	if o.metricsFile != "" {
		metrics = gridbase.NewPrometheusMetrics(nil)
		opts.Metrics = metrics
	}

	closeAll := func() {
		grid.Close()
		if locker != nil {
			locker.Close()
		}
		if metrics != nil {
			if err := prometheus.WriteToTextfile(o.metricsFile, metrics.GetRegistry()); err != nil {
				logger.Error("failed to write metrics", "file", o.metricsFile, "error", err)
			}
		}
	}

	db, err := gridbase.Open(grid, opts)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	if o.token != "" {
		db, err = db.WithToken(ctx, o.token)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
	}
	return db, closeAll, nil
}
