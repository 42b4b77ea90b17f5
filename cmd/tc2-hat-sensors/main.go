package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/TheCacophonyProject/tc2-hat-sensors/internal/monitor"
	"github.com/TheCacophonyProject/tc2-hat-sensors/logging"
)

var log = logging.NewLogger("info")

var version = "<not set>"

func main() {
	err := runMain()
	if errors.Is(err, monitor.ErrConfigChanged) {
		log.Info("Restarting for the new config")
		os.Exit(0)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func runMain() error {
	if len(os.Args) < 2 {
		log.Info("Usage: tc2-hat-sensors <monitor|read> [args]")
		return fmt.Errorf("no subcommand given")
	}

	subcommand := os.Args[1]
	args := os.Args[2:]

	var err error
	switch subcommand {
	case "monitor":
		err = monitor.Run(args, version)
	case "read":
		err = monitor.RunRead(args, version)
	default:
		err = fmt.Errorf("unknown subcommand: %s", subcommand)
	}

	return err
}
