package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/go-kit/kit/log"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/fluxcd/ecs-bluegreen/pkg/config"
	"github.com/fluxcd/ecs-bluegreen/pkg/http/daemon"
	"github.com/fluxcd/ecs-bluegreen/pkg/job"
	"github.com/fluxcd/ecs-bluegreen/pkg/pipeline"
	awsplatform "github.com/fluxcd/ecs-bluegreen/pkg/platform/aws"
	"github.com/fluxcd/ecs-bluegreen/pkg/store"
	"github.com/fluxcd/ecs-bluegreen/pkg/store/inmem"
	"github.com/fluxcd/ecs-bluegreen/pkg/store/sqlite"
)

var version = "unversioned"

func main() {
	// Flag domain.
	fs := pflag.NewFlagSet("default", pflag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "DESCRIPTION\n")
		fmt.Fprintf(os.Stderr, "  bluegreend runs blue/green deployments of ECS services, pausing for approval\n")
		fmt.Fprintf(os.Stderr, "  before production traffic is swapped and before the old environment is reclaimed.\n")
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "FLAGS\n")
		fs.PrintDefaults()
	}

	var (
		configFile  = fs.String("config", "", fmt.Sprintf("path to a config file; if not given, %s/%s is used if present", config.ConfigPath, config.ConfigName))
		versionFlag = fs.Bool("version", false, "get version number")
	)

	earlyBail := func(err error) {
		fmt.Fprintf(os.Stderr, "error: %s\n", err.Error())
		os.Exit(1)
	}
	defineConfigFlags(fs, earlyBail)

	err := fs.Parse(os.Args[1:])
	switch {
	case err == pflag.ErrHelp:
		os.Exit(0)
	case err != nil:
		fmt.Fprintf(os.Stderr, "Error: %s\n\nRun 'bluegreend --help' for usage.\n", err.Error())
		os.Exit(2)
	}

	if *versionFlag {
		fmt.Println(version)
		os.Exit(0)
	}

	// Flags given on the command line, then environment (e.g.,
	// BLUEGREEND_STOREPATH), then the config file.
	viper.SetEnvPrefix("bluegreend")
	viper.AutomaticEnv()
	viper.SetConfigType(config.ConfigType)
	readFile := true
	if *configFile != "" {
		viper.SetConfigFile(*configFile)
	} else {
		viper.SetConfigName(config.ConfigName[:len(config.ConfigName)-len(".yaml")])
		viper.AddConfigPath(config.ConfigPath)
	}
	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound || *configFile != "" {
			earlyBail(err)
		}
		readFile = false
	}

	var cfg config.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		earlyBail(err)
	}
	if readFile {
		if err := cfg.IsValid(); err != nil {
			earlyBail(err)
		}
	}

	// Logger component.
	var logger log.Logger
	{
		switch cfg.LogFormat {
		case "json":
			logger = log.NewJSONLogger(log.NewSyncWriter(os.Stderr))
		case "fmt":
			logger = log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
		default:
			earlyBail(fmt.Errorf("unsupported log format %q", cfg.LogFormat))
		}
		logger = log.With(logger, "ts", log.DefaultTimestampUTC)
		logger = log.With(logger, "caller", log.DefaultCaller)
	}
	logger.Log("version", version)
	if readFile {
		logger.Log("config", viper.ConfigFileUsed())
	}

	stageConfig, err := cfg.Stage()
	if err != nil {
		logger.Log("err", err)
		os.Exit(1)
	}

	// Store component.
	var runs store.Store
	{
		logger := log.With(logger, "component", "store")
		switch cfg.Store {
		case config.StoreSQLite:
			db, err := sqlite.Open(cfg.StorePath)
			if err != nil {
				logger.Log("err", err)
				os.Exit(1)
			}
			defer db.Close()
			runs = &sqlite.Store{DB: db}
			logger.Log("kind", cfg.Store, "path", cfg.StorePath)
		case config.StoreMemory:
			runs = inmem.NewDB()
			logger.Log("kind", cfg.Store, "warning", "runs will not survive a restart")
		default:
			logger.Log("err", fmt.Sprintf("unknown store %q", cfg.Store))
			os.Exit(1)
		}
	}

	// Platform component.
	var platform *awsplatform.Platform
	{
		logger := log.With(logger, "component", "platform")
		sess, err := awsplatform.NewSession(awsplatform.Config{
			Region:  cfg.AWSRegion,
			Profile: cfg.AWSProfile,
		})
		if err != nil {
			logger.Log("err", err)
			os.Exit(1)
		}
		throttle := awsplatform.NewThrottle(cfg.AWSRPS, cfg.AWSBurst, clockwork.NewRealClock(), logger)
		platform = awsplatform.New(sess, throttle, logger)
		logger.Log("kind", "ECS", "region", cfg.AWSRegion, "profile", cfg.AWSProfile)
	}

	// Mechanical stuff.
	shutdown := make(chan struct{})
	shutdownWg := &sync.WaitGroup{}

	errc := make(chan error)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	// Pipeline component.
	var orchestrator *pipeline.Orchestrator
	{
		logger := log.With(logger, "component", "pipeline")
		orchestrator = &pipeline.Orchestrator{
			V:        version,
			Store:    runs,
			Jobs:     job.NewQueue(shutdown, shutdownWg),
			Platform: platform,
			Config:   stageConfig,
			Clock:    clockwork.NewRealClock(),
			Logger:   logger,
		}
		if err := orchestrator.Resume(context.Background()); err != nil {
			logger.Log("err", err)
			os.Exit(1)
		}
		shutdownWg.Add(1)
		go orchestrator.Loop(shutdown, shutdownWg, logger)
	}

	// Transport component.
	go func() {
		logger := log.With(logger, "component", "api")
		mux := http.NewServeMux()
		if cfg.ListenMetrics == "" {
			mux.Handle("/metrics", promhttp.Handler())
		}
		handler := daemon.NewHandler(orchestrator, daemon.NewRouter())
		if cfg.Token == "" {
			logger.Log("warning", "no --token given; the API is unauthenticated")
		}
		mux.Handle("/", daemon.RequireToken(cfg.Token, handler))
		logger.Log("addr", cfg.Listen)
		errc <- http.ListenAndServe(cfg.Listen, mux)
	}()

	if cfg.ListenMetrics != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			logger.Log("metrics-addr", cfg.ListenMetrics)
			errc <- http.ListenAndServe(cfg.ListenMetrics, mux)
		}()
	}

	// Go!
	logger.Log("exiting", <-errc)
	close(shutdown)
	shutdownWg.Wait()
}
