package main

import (
	"flag"
	"os"
	"strings"

	"os/signal"
	"syscall"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/go-lattice/lattice/config"
	"github.com/go-lattice/lattice/node"
	"github.com/go-lattice/lattice/schema"
)

// Functions

// initLogger initializes a JSON gokit-logger set
// to the according log level supplied via cli flag.
func initLogger(loglevel string) log.Logger {

	logger := log.NewJSONLogger(log.NewSyncWriter(os.Stdout))
	logger = log.With(logger,
		"ts", log.DefaultTimestampUTC,
		"caller", log.DefaultCaller,
	)

	switch strings.ToLower(loglevel) {
	case "info":
		logger = level.NewFilter(logger, level.AllowInfo())
	case "warn":
		logger = level.NewFilter(logger, level.AllowWarn())
	case "error":
		logger = level.NewFilter(logger, level.AllowError())
	default:
		logger = level.NewFilter(logger, level.AllowDebug())
	}

	return logger
}

func main() {

	// Parse command-line flag that defines a config path.
	configFlag := flag.String("config", "lattice.toml", "Provide path to configuration file in TOML syntax.")
	loglevelFlag := flag.String("loglevel", "debug", "This flag sets the default logging level.")
	useEnvFlag := flag.Bool("env", false, "Apply deployment overrides from an .env file in the working directory.")
	flag.Parse()

	logger := initLogger(*loglevelFlag)

	// Read configuration from file.
	conf, err := config.LoadConfig(*configFlag)
	if err != nil {
		level.Error(logger).Log("msg", "failed to load config", "err", err)
		os.Exit(1)
	}

	// Optionally apply host-specific overrides.
	if *useEnvFlag {

		env, err := config.LoadEnv()
		if err != nil {
			level.Error(logger).Log("msg", "failed to load .env file", "err", err)
			os.Exit(1)
		}

		env.ApplyTo(conf)
	}

	// Load the column annotation schema consulted by the
	// operation classifier.
	registry, err := schema.LoadSchema(conf.SchemaFile)
	if err != nil {
		level.Error(logger).Log("msg", "failed to load schema", "err", err)
		os.Exit(1)
	}

	// Make sure the lattice root directory exists.
	err = os.MkdirAll(conf.LatticeRoot, 0700)
	if err != nil {
		level.Error(logger).Log("msg", "failed to create lattice root directory", "err", err)
		os.Exit(1)
	}

	metrics := NewLatticeMetrics(conf.PrometheusAddr)

	downSender := make(chan struct{})
	downRecv := make(chan struct{})

	_, err = node.InitNode(logger, conf, registry, nil, nil, metrics.Node, metrics.Engine, downSender, downRecv)
	if err != nil {
		level.Error(logger).Log("msg", "failed to initialize node", "err", err)
		os.Exit(1)
	}

	go runPromHTTP(logger, conf.PrometheusAddr)

	// Wait for shutdown signal and hand it on to the
	// propagation layer routines.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	level.Info(logger).Log("msg", "shutting down")

	downSender <- struct{}{}
	downRecv <- struct{}{}
}
