package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/op/go-logging"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"gopkg.in/yaml.v3"

	piping "github.com/dgherman/piping-server"
)

var log = logging.MustGetLogger("piping-server")

var format = logging.MustStringFormatter(
	`%{color}%{time:15:04:05.000} %{level:.4s}%{color:reset} %{message}`,
)

// Config mirrors the command line flags; flags win over file values.
type Config struct {
	HTTPPort  int    `yaml:"http_port"`
	HTTPSPort int    `yaml:"https_port"`
	CrtPath   string `yaml:"crt_path"`
	KeyPath   string `yaml:"key_path"`
	EnableLog bool   `yaml:"enable_log"`
}

func loadConfig(path string) (*Config, error) {
	cfg := &Config{HTTPPort: 8080}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config file")
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "parsing config file")
	}
	return cfg, nil
}

func setupLogging(enabled bool) {
	backend := logging.NewBackendFormatter(logging.NewLogBackend(os.Stderr, "", 0), format)
	leveled := logging.AddModuleLevel(backend)
	if enabled {
		leveled.SetLevel(logging.INFO, "")
	} else {
		leveled.SetLevel(logging.ERROR, "")
	}
	logging.SetBackend(leveled)
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return err
	}
	if c.IsSet("http-port") {
		cfg.HTTPPort = c.Int("http-port")
	}
	if c.IsSet("https-port") {
		cfg.HTTPSPort = c.Int("https-port")
	}
	if c.IsSet("crt-path") {
		cfg.CrtPath = c.String("crt-path")
	}
	if c.IsSet("key-path") {
		cfg.KeyPath = c.String("key-path")
	}
	if c.IsSet("enable-log") {
		cfg.EnableLog = c.Bool("enable-log")
	}
	setupLogging(cfg.EnableLog)

	relay := piping.NewRelay()
	if cfg.EnableLog {
		relay.Log = log
	}

	errCh := make(chan error, 2)

	httpSrv := &piping.Server{
		Addr:    ":" + strconv.Itoa(cfg.HTTPPort),
		Handler: relay,
	}
	relay.Stats = httpSrv
	log.Infof("piping-server %s serving HTTP on %s", piping.Version, httpSrv.Addr)
	go func() { errCh <- httpSrv.ListenAndServe() }()

	if cfg.HTTPSPort != 0 {
		if cfg.CrtPath == "" || cfg.KeyPath == "" {
			return errors.New("https-port requires both crt-path and key-path")
		}
		httpsSrv := &piping.Server{
			Addr:    ":" + strconv.Itoa(cfg.HTTPSPort),
			Handler: relay,
		}
		log.Infof("piping-server %s serving HTTPS on %s", piping.Version, httpsSrv.Addr)
		go func() { errCh <- httpsSrv.ListenAndServeTLS(cfg.CrtPath, cfg.KeyPath) }()
	}

	return <-errCh
}

func main() {
	app := cli.NewApp()
	app.Name = "piping-server"
	app.Usage = "streaming data transfer server over pure HTTP"
	app.Version = piping.Version
	app.Flags = []cli.Flag{
		cli.IntFlag{
			Name:  "http-port",
			Usage: "port to serve HTTP on",
			Value: 8080,
		},
		cli.IntFlag{
			Name:  "https-port",
			Usage: "port to serve HTTPS on (0 disables HTTPS)",
		},
		cli.StringFlag{
			Name:  "crt-path",
			Usage: "path to the TLS certificate",
		},
		cli.StringFlag{
			Name:  "key-path",
			Usage: "path to the TLS private key",
		},
		cli.BoolFlag{
			Name:  "enable-log",
			Usage: "log requests and transfers",
		},
		cli.StringFlag{
			Name:  "config",
			Usage: "path to a YAML config file",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
