package logging

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// LogArgs can be embedded in a go-arg argument struct to add the log level flag.
type LogArgs struct {
	LogLevel string `arg:"-l, --log-level" default:"info" help:"Set the logging level (debug, info, warn, error)"`
}

// NewLogger returns a logrus logger using the "[LEVEL] message" format at the given level.
// Unknown levels fall back to info with a warning.
func NewLogger(level string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(new(customFormatter))
	setLogLevel(log, level)
	mu.Lock()
	loggers = append(loggers, log)
	mu.Unlock()
	return log
}

var (
	mu      sync.Mutex
	loggers []*logrus.Logger
)

// SetLevel changes the level of every logger made by NewLogger, so package
// loggers follow the level given on the command line.
func SetLevel(level string) {
	mu.Lock()
	defer mu.Unlock()
	for _, log := range loggers {
		setLogLevel(log, level)
	}
}

func setLogLevel(log *logrus.Logger, level string) {
	switch level {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "info", "":
		log.SetLevel(logrus.InfoLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
		log.Warnf("Unknown log level '%s', defaulting to info", level)
	}
}

type customFormatter struct{}

func (f *customFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	return []byte(fmt.Sprintf("[%s] %s\n", strings.ToUpper(entry.Level.String()), entry.Message)), nil
}
