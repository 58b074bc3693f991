package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/saviobatista/ogn-feed/internal/config"
	"github.com/saviobatista/ogn-feed/internal/db"
	"github.com/saviobatista/ogn-feed/internal/db/migrations"
	"github.com/saviobatista/ogn-feed/internal/feed"
	"github.com/saviobatista/ogn-feed/internal/hub"
	"github.com/saviobatista/ogn-feed/internal/logging"
	"github.com/saviobatista/ogn-feed/internal/nats"
	"github.com/saviobatista/ogn-feed/internal/redis"
	"github.com/saviobatista/ogn-feed/internal/render"
	"github.com/saviobatista/ogn-feed/internal/sink"
	"github.com/saviobatista/ogn-feed/internal/stats"
)

// options holds the command line; only flags the user set override config
type options struct {
	fs *pflag.FlagSet

	configPath string
	server     string
	user       string
	passcode   string
	filter     string
	aircraft   []string
	reconnect  bool
	logLevel   string
	timeFormat string
	natsURL    string
	redisAddr  string
	httpAddr   string
	dbConnStr  string
	distance   bool
	migrate    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "ognfeed: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	o := &options{}
	fs := pflag.NewFlagSet("ognfeed", pflag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVarP(&o.configPath, "config", "c", "", "YAML or TOML config file (default $OGN_CONFIG)")
	fs.StringVarP(&o.server, "server", "s", "", "APRS-IS server host:port")
	fs.StringVarP(&o.user, "user", "u", "", "login callsign")
	fs.StringVarP(&o.passcode, "passcode", "p", "", "login passcode, -1 for receive only")
	fs.StringVarP(&o.filter, "filter", "f", "", "server side filter, e.g. r/47.217/8.804/30")
	fs.StringSliceVarP(&o.aircraft, "aircraft", "a", nil, "aircraft types to display, or \"all\"")
	fs.BoolVarP(&o.reconnect, "reconnect", "r", false, "reconnect after the feed drops")
	fs.StringVarP(&o.logLevel, "log-level", "l", "", "debug, info, warn or error")
	fs.StringVarP(&o.timeFormat, "time-format", "t", "", "strftime pattern prefixed to console lines")
	fs.StringVar(&o.natsURL, "nats-url", "", "publish events to this NATS server")
	fs.StringVar(&o.redisAddr, "redis-addr", "", "publish events and stats to this Redis server")
	fs.StringVar(&o.httpAddr, "http-addr", "", "serve /health, /metrics, /stats and /ws on this address")
	fs.StringVar(&o.dbConnStr, "db", "", "PostgreSQL connection string for session stats")
	fs.BoolVarP(&o.distance, "distance", "d", false, "show distance from the range centre")
	fs.BoolVar(&o.migrate, "migrate", false, "apply database migrations before starting")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	o.fs = fs
	return o, nil
}

// loadConfig layers defaults, file, environment and set flags
func loadConfig(o *options) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configPath != "" {
		_ = godotenv.Load()
		cfg, err = config.LoadFile(o.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	set := o.fs.Changed
	if set("server") {
		cfg.Server = o.server
	}
	if set("user") {
		cfg.User = o.user
	}
	if set("passcode") {
		cfg.Passcode = o.passcode
	}
	if set("filter") {
		cfg.Filter = o.filter
	}
	if set("aircraft") {
		cfg.AircraftTypes = o.aircraft
	}
	if set("reconnect") {
		cfg.Reconnect = o.reconnect
	}
	if set("log-level") {
		cfg.LogLevel = o.logLevel
	}
	if set("time-format") {
		cfg.TimeFormat = o.timeFormat
	}
	if set("nats-url") {
		cfg.NATSURL = o.natsURL
	}
	if set("redis-addr") {
		cfg.RedisAddr = o.redisAddr
	}
	if set("http-addr") {
		cfg.HTTPAddr = o.httpAddr
	}
	if set("db") {
		cfg.DBConnStr = o.dbConnStr
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	o, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}

	logger := logging.New(stderr, logging.Options{Level: cfg.LogLevel, Timestamp: true})

	kinds, err := cfg.AircraftTypeFilter()
	if err != nil {
		return err
	}
	var keep feed.Predicate = feed.AcceptAll
	if kinds != nil {
		keep = feed.AircraftTypeIs(kinds...)
	}

	renderOpts := render.Options{TimeFormat: cfg.TimeFormat}
	if o.distance {
		renderOpts.Center = render.Center(cfg.Range.Latitude, cfg.Range.Longitude)
	}
	renderer, err := render.New(stdout, renderOpts)
	if err != nil {
		return err
	}

	st := stats.New()
	st.SetLogger(logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sinks := []sink.Sink{sink.Console(renderer)}
	var storeCount int

	if cfg.NATSURL != "" {
		nc, err := nats.New(cfg.NATSURL)
		if err != nil {
			return err
		}
		defer nc.Close()
		sinks = append(sinks, sink.NATS(nc))
		logger.Info("Publishing events to NATS", "url", cfg.NATSURL)
	}

	if cfg.RedisAddr != "" {
		rc, err := redis.New(cfg.RedisAddr, cfg.RedisPassword, cfg.StatsTTL)
		if err != nil {
			return err
		}
		defer rc.Close()
		sinks = append(sinks, sink.Redis(rc))
		st.AddStore(rc)
		storeCount++
		logger.Info("Publishing events to Redis", "addr", cfg.RedisAddr)
	}

	var sessions SessionStore
	if cfg.DBConnStr != "" {
		dbc, err := openDB(ctx, cfg.DBConnStr, o.migrate, logger)
		if err != nil {
			return err
		}
		defer dbc.Close()
		st.AddStore(dbc)
		storeCount++
		sessions = dbc
	}

	if cfg.HTTPAddr != "" {
		h := hub.New(hub.Options{Logger: logger, Stats: st})
		sinks = append(sinks, sink.Hub(h))
		go func() {
			if err := h.Serve(ctx, cfg.HTTPAddr); err != nil {
				logger.Error("HTTP hub stopped", "err", err)
			}
		}()
	}

	fanout := sink.NewFanout(logger, sinks...)
	logger.Debug("Sinks configured", "sinks", fanout.Names())

	f := &Feeder{
		Server: cfg.Server,
		Dial:   feed.DialOptions{Logger: logger},
		Session: feed.SessionConfig{
			Credentials: feed.Credentials{
				User:       cfg.User,
				Pass:       cfg.Passcode,
				AppName:    cfg.AppName,
				AppVersion: cfg.AppVersion,
				Filter:     cfg.EffectiveFilter(),
			},
			Predicate: keep,
			Recorder:  st,
			Logger:    logger,
		},
		Handler:        fanout.Handle,
		Stats:          st,
		Sessions:       sessions,
		Reconnect:      cfg.Reconnect,
		ReconnectDelay: cfg.ReconnectDelay,
		Logger:         logger,
	}
	if storeCount > 0 {
		f.StatsInterval = cfg.StatsInterval
	}

	err = f.Run(ctx)
	logger.Info("Shutting down...")
	cancel()
	f.Wait()
	return err
}

func openDB(ctx context.Context, connStr string, migrate bool, logger *log.Logger) (*db.Client, error) {
	dbc, err := db.New(connStr)
	if err != nil {
		return nil, err
	}
	if err := dbc.Ping(ctx); err != nil {
		dbc.Close()
		return nil, err
	}
	if migrate {
		if err := migrations.New(dbc.DB(), logger).Migrate(ctx, migrations.All); err != nil {
			dbc.Close()
			return nil, err
		}
	}
	logger.Info("Storing session stats in database")
	return dbc, nil
}
