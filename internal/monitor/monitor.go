package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/TheCacophonyProject/event-reporter/v3/eventclient"
	"github.com/TheCacophonyProject/go-config"
	"github.com/TheCacophonyProject/tc2-hat-sensors/i2crequest"
	"github.com/TheCacophonyProject/tc2-hat-sensors/internal/history"
	"github.com/TheCacophonyProject/tc2-hat-sensors/internal/metrics"
	"github.com/TheCacophonyProject/tc2-hat-sensors/logging"
	"github.com/TheCacophonyProject/tc2-hat-sensors/sensor"
	arg "github.com/alexflint/go-arg"
	"github.com/prometheus/client_golang/prometheus"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

var version = "No version provided"

var log = logging.NewLogger("info")

type Args struct {
	ConfigDir string `arg:"-c,--config" help:"path to configuration directory"`
	logging.LogArgs
}

var defaultArgs = Args{
	ConfigDir: config.DefaultConfigDir,
}

func (Args) Version() string {
	return version
}

func procArgs(input []string) (Args, error) {
	args := defaultArgs
	return args, parseArgs(&args, input)
}

func parseArgs(dest interface{}, input []string) error {
	parser, err := arg.NewParser(arg.Config{}, dest)
	if err != nil {
		return err
	}
	err = parser.Parse(input)
	if errors.Is(err, arg.ErrHelp) {
		parser.WriteHelp(os.Stdout)
		os.Exit(0)
	}
	if errors.Is(err, arg.ErrVersion) {
		fmt.Println(version)
		os.Exit(0)
	}
	return err
}

// Run is the long running service. It polls the sensors, serves readings
// over D-Bus and exits with ErrConfigChanged when the config file changes.
func Run(inputArgs []string, ver string) error {
	version = ver
	args, err := procArgs(inputArgs)
	if err != nil {
		return fmt.Errorf("failed to parse args: %v", err)
	}
	logging.SetLevel(args.LogLevel)
	log.Info("Running version: ", version)

	cfg, err := ParseConfig(args.ConfigDir)
	if err != nil {
		return err
	}
	log.Debugf("Config: %+v", cfg)

	bus, closeBus, err := openBus(cfg.I2CBus)
	if err != nil {
		return err
	}
	defer closeBus()

	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)
	if cfg.MetricsAddress != "" {
		go serveMetrics(cfg.MetricsAddress, metrics.Handler(promReg))
	}

	var db *history.DB
	if cfg.HistoryFile != "" {
		db, err = history.Open(cfg.HistoryFile, cfg.HistoryMaxRows)
		if err != nil {
			return err
		}
		defer db.Close()
	}

	rep := &reporter{metrics: m, addEvent: eventclient.AddEvent, now: time.Now}
	registry, err := buildRegistry(cfg, bus, rep)
	if err != nil {
		return err
	}
	defer func() {
		if err := registry.Close(); err != nil {
			log.Warn(err)
		}
	}()
	log.Info("Sensors: ", strings.Join(registry.Names(), ", "))

	log.Info("Starting DBus service")
	if err := startService(registry); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watchErr := make(chan error, 1)
	go func() {
		configFile := filepath.Join(args.ConfigDir, config.ConfigFileName)
		watchErr <- watchConfig(ctx, configFile, cfg, func() (Config, error) {
			return ParseConfig(args.ConfigDir)
		})
	}()

	mon := newMonitor(registry, m, db, cfg.LogRate)
	runErr := make(chan error, 1)
	go func() {
		runErr <- mon.run(ctx, cfg.PollInterval, cfg.BackgroundInterval)
	}()

	for {
		select {
		case err := <-watchErr:
			if !errors.Is(err, ErrConfigChanged) {
				if err != nil && !errors.Is(err, context.Canceled) {
					log.Error("Not watching config file: ", err)
				}
				continue
			}
			stop()
			<-runErr
			return err
		case err := <-runErr:
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
}

type ReadArgs struct {
	ConfigDir string   `arg:"-c,--config" help:"path to configuration directory"`
	Sensors   []string `arg:"positional" help:"sensors to read, all enabled sensors if none are given"`
	logging.LogArgs
}

// RunRead probes the enabled sensors once and prints a JSON line for each.
func RunRead(inputArgs []string, ver string) error {
	version = ver
	args := ReadArgs{ConfigDir: config.DefaultConfigDir}
	if err := parseArgs(&args, inputArgs); err != nil {
		return fmt.Errorf("failed to parse args: %v", err)
	}
	logging.SetLevel(args.LogLevel)

	cfg, err := ParseConfig(args.ConfigDir)
	if err != nil {
		return err
	}
	if len(args.Sensors) > 0 {
		cfg.Sensors = args.Sensors
	}

	bus, closeBus, err := openBus(cfg.I2CBus)
	if err != nil {
		return err
	}
	defer closeBus()

	registry, err := buildRegistry(cfg, bus, &reporter{now: time.Now})
	if err != nil {
		return err
	}
	defer registry.Close()

	enc := json.NewEncoder(os.Stdout)
	for _, res := range registry.ReadAll() {
		if err := enc.Encode(newResultJSON(res)); err != nil {
			return err
		}
	}
	return nil
}

// openBus opens the I2C bus directly through periph, or through the i2c
// D-Bus service when the name is "dbus" so other services can share it.
func openBus(name string) (i2c.Bus, func(), error) {
	if name == "dbus" {
		return i2crequest.NewBus(i2crequest.DefaultTimeout), func() {}, nil
	}
	if _, err := host.Init(); err != nil {
		return nil, nil, err
	}
	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, nil, err
	}
	return bus, func() {
		if err := bus.Close(); err != nil {
			log.Warn("Error closing I2C bus: ", err)
		}
	}, nil
}

func serveMetrics(address string, handler http.Handler) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	log.Info("Serving metrics on ", address)
	if err := http.ListenAndServe(address, mux); err != nil {
		log.Error("Metrics server stopped: ", err)
	}
}

// monitor polls the registry, recording every reading to metrics and
// history and logging them every logRate.
type monitor struct {
	registry *sensor.Registry
	metrics  *metrics.Metrics
	history  *history.DB
	logRate  time.Duration
	lastLog  time.Time
	now      func() time.Time
}

func newMonitor(registry *sensor.Registry, m *metrics.Metrics, db *history.DB, logRate time.Duration) *monitor {
	return &monitor{
		registry: registry,
		metrics:  m,
		history:  db,
		logRate:  logRate,
		now:      time.Now,
	}
}

func (m *monitor) run(ctx context.Context, pollInterval, backgroundInterval time.Duration) error {
	if pollInterval <= 0 {
		pollInterval = DefaultConfig().PollInterval
	}
	if backgroundInterval <= 0 {
		backgroundInterval = DefaultConfig().BackgroundInterval
	}
	pollTicker := time.NewTicker(pollInterval)
	defer pollTicker.Stop()
	backgroundTicker := time.NewTicker(backgroundInterval)
	defer backgroundTicker.Stop()

	m.poll(true)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-pollTicker.C:
			m.poll(true)
		case <-backgroundTicker.C:
			m.poll(false)
		}
	}
}

// poll updates the sensors. A full poll reads every sensor, otherwise only
// those that need background updates are read.
func (m *monitor) poll(active bool) []sensor.Result {
	results := m.registry.Update(active)
	if m.metrics != nil {
		m.metrics.Record(results)
	}
	if !active {
		return results
	}
	if m.history != nil {
		if err := m.history.Record(results); err != nil {
			log.Error("Error saving readings: ", err)
		}
	}

	now := m.now()
	logInfo := m.logRate <= 0 || now.Sub(m.lastLog) >= m.logRate
	if logInfo {
		m.lastLog = now
	}
	for _, res := range results {
		line := fmt.Sprintf("%s (%s): %s", res.Name, res.State, summary(res.Reading))
		if logInfo {
			log.Info(line)
		} else {
			log.Debug(line)
		}
	}
	return results
}

type summarizer interface {
	Summary() string
}

// summary is a one line description of a reading.
func summary(reading any) string {
	if s, ok := reading.(summarizer); ok {
		return s.Summary()
	}
	var parts []string
	for _, e := range sensor.Flatten(reading) {
		if e.OK {
			parts = append(parts, fmt.Sprintf("%s=%v", e.Name, e.Value))
		} else {
			parts = append(parts, e.Name+"=n/a")
		}
	}
	if len(parts) == 0 {
		return fmt.Sprint(reading)
	}
	return strings.Join(parts, " ")
}
