package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/viewsync-dev/viewsync/pkg/middleware"
	"github.com/viewsync-dev/viewsync/pkg/protocol"
	"github.com/viewsync-dev/viewsync/pkg/server"
	"github.com/viewsync-dev/viewsync/pkg/session"
	"github.com/viewsync-dev/viewsync/pkg/vtree"
)

func serveCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a sync server with the demo counter view",
		Long: `Run a sync server with the demo counter view.

The server exposes the WebSocket endpoint at /ws, a health probe at
/healthz and, unless disabled, Prometheus metrics at /metrics.

Session snapshots can be kept in memory (default), in a SQLite file or
in an S3 bucket. With sqlite or s3, sessions survive server restarts.

Examples:
  viewsync serve
  viewsync serve --addr=:9000 --store=sqlite --db=sessions.db
  viewsync serve --store=s3 --s3-bucket=my-sessions --log-json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.addr, "addr", "a", ":8080", "Listen address")
	cmd.Flags().StringVar(&opts.storeKind, "store", "memory", "Session store: memory, sqlite, s3 or none")
	cmd.Flags().StringVar(&opts.dbPath, "db", "viewsync.db", "SQLite database path (with --store=sqlite)")
	cmd.Flags().StringVar(&opts.s3Bucket, "s3-bucket", "", "S3 bucket name (with --store=s3)")
	cmd.Flags().StringVar(&opts.s3Region, "s3-region", "", "S3 region (default $AWS_REGION)")
	cmd.Flags().StringVar(&opts.s3Endpoint, "s3-endpoint", "", "Custom S3 endpoint for compatible stores")
	cmd.Flags().IntVar(&opts.maxSessions, "max-sessions", 0, "Server-wide session cap (0 = default)")
	cmd.Flags().IntVar(&opts.maxPerIP, "max-sessions-per-ip", 0, "Per-address session cap (0 = default)")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	cmd.Flags().BoolVar(&opts.logJSON, "log-json", false, "Log in JSON instead of text")
	cmd.Flags().BoolVar(&opts.anyOrigin, "allow-any-origin", false, "Accept WebSocket upgrades from any origin")
	cmd.Flags().BoolVar(&opts.noMetrics, "no-metrics", false, "Disable the /metrics endpoint")

	return cmd
}

type serveOptions struct {
	addr        string
	storeKind   string
	dbPath      string
	s3Bucket    string
	s3Region    string
	s3Endpoint  string
	maxSessions int
	maxPerIP    int
	logLevel    string
	logJSON     bool
	anyOrigin   bool
	noMetrics   bool
}

func runServe(opts serveOptions) error {
	logger, err := newLogger(opts.logLevel, opts.logJSON)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(opts)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	cfg := server.DefaultConfig().
		WithAddress(opts.addr).
		WithLogger(logger)
	if store != nil {
		cfg = cfg.WithStore(store)
	}
	if opts.maxSessions > 0 {
		cfg = cfg.WithMaxSessions(opts.maxSessions)
	}
	if opts.maxPerIP > 0 {
		cfg = cfg.WithMaxSessionsPerIP(opts.maxPerIP)
	}
	if opts.anyOrigin {
		cfg = cfg.WithCheckOrigin(func(*http.Request) bool { return true })
	}

	srv := server.New(cfg)
	srv.Use(middleware.Prometheus())
	srv.SetView(func(sess *server.Session) server.View {
		return &counterApp{sess: sess}
	})

	// The outer router carries HTTP concerns the sync endpoints don't:
	// request IDs, panic recovery and the metrics scrape.
	root := chi.NewRouter()
	root.Use(chimw.RequestID)
	root.Use(chimw.Recoverer)
	if !opts.noMetrics {
		prometheus.MustRegister(middleware.NewServerCollector(srv))
		root.Handle("/metrics", promhttp.Handler())
	}
	root.Handle("/*", srv.Handler())
	srv.SetHandler(root)

	logger.Info("starting server",
		"addr", opts.addr,
		"store", opts.storeKind,
		"metrics", !opts.noMetrics)
	return srv.Run()
}

// newLogger builds a slog.Logger for the given level name and format.
func newLogger(level string, logJSON bool) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	hopts := &slog.HandlerOptions{Level: lvl}
	if logJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, hopts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, hopts)), nil
}

// openStore builds the configured session store. The returned cleanup
// closes store resources and may be nil.
func openStore(opts serveOptions) (session.Store, func(), error) {
	switch opts.storeKind {
	case "memory":
		return session.NewMemoryStore(), nil, nil

	case "sqlite":
		db, err := sql.Open("sqlite", opts.dbPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open %s: %w", opts.dbPath, err)
		}
		store := session.NewSQLStore(db, session.WithSQLDialect(session.DialectSQLite))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := store.CreateTable(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("create session table: %w", err)
		}
		return store, func() {
			store.Close()
			db.Close()
		}, nil

	case "s3":
		if opts.s3Bucket == "" {
			return nil, nil, fmt.Errorf("--s3-bucket is required with --store=s3")
		}
		client, err := newS3Client(opts.s3Region, opts.s3Endpoint)
		if err != nil {
			return nil, nil, err
		}
		store := session.NewS3Store(client, opts.s3Bucket)
		return store, func() { store.Close() }, nil

	case "none":
		return nil, nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown store %q (memory, sqlite, s3 or none)", opts.storeKind)
	}
}

// newS3Client builds an S3 client from environment credentials. Setting a
// custom endpoint switches to path-style addressing for S3-compatible
// object stores.
func newS3Client(region, endpoint string) (*s3.Client, error) {
	accessKey := os.Getenv("AWS_ACCESS_KEY_ID")
	secretKey := os.Getenv("AWS_SECRET_ACCESS_KEY")
	if accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set with --store=s3")
	}
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		return nil, fmt.Errorf("--s3-region or AWS_REGION is required with --store=s3")
	}

	creds := aws.Credentials{
		AccessKeyID:     accessKey,
		SecretAccessKey: secretKey,
		SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
	}
	opts := s3.Options{
		Region: region,
		Credentials: aws.NewCredentialsCache(aws.CredentialsProviderFunc(
			func(context.Context) (aws.Credentials, error) { return creds, nil },
		)),
	}
	if endpoint != "" {
		opts.BaseEndpoint = aws.String(endpoint)
		opts.UsePathStyle = true
	}
	return s3.New(opts), nil
}

// counterApp is the demo view: a button and a click count. The count
// lives in the session value store, so it survives reconnects and, with
// a persistent store, server restarts.
type counterApp struct {
	sess *server.Session
}

func (v *counterApp) Render() *vtree.Node {
	return vtree.El("div",
		vtree.Attr("class", "counter"),
		vtree.El("button", vtree.Attr("data-on", "click"), "+"),
		vtree.El("span", strconv.Itoa(v.sess.GetInt("count"))),
	)
}

func (v *counterApp) HandleEvent(_ context.Context, event *protocol.Event) error {
	if event.Type == protocol.EventClick {
		v.sess.Set("count", v.sess.GetInt("count")+1)
	}
	return nil
}
