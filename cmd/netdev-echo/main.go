package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/NomadArchitect/fuchsia-sub001/config"
	"github.com/NomadArchitect/fuchsia-sub001/stats"
	"github.com/NomadArchitect/fuchsia-sub001/util"
	"github.com/sirupsen/logrus"
)

// A version string that can be set with
//
//	-ldflags "-X main.Build=SOMEVERSION"
//
// at compile-time.
var Build string

func init() {
	if Build == "" {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}

		Build = strings.TrimPrefix(info.Main.Version, "v")
	}
}

func main() {
	configPath := flag.String("config", "", "Path to either a file or directory to load configuration from")
	configTest := flag.Bool("test", false, "Test the config and print the end result. Non zero exit indicates a faulty config")
	printVersion := flag.Bool("version", false, "Print version")
	printUsage := flag.Bool("help", false, "Print command line usage")

	flag.Parse()

	if *printVersion {
		fmt.Printf("Version: %s\n", Build)
		os.Exit(0)
	}

	if *printUsage {
		flag.Usage()
		os.Exit(0)
	}

	if *configPath == "" {
		fmt.Println("-config flag must be set")
		flag.Usage()
		os.Exit(1)
	}

	l := logrus.New()
	l.Out = os.Stdout

	c := config.NewC(l)
	if err := c.Load(*configPath); err != nil {
		fmt.Printf("failed to load config: %s\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sum, err := Main(ctx, l, c, *configTest)
	if err != nil {
		util.LogWithContextIfNeeded("Failed to run echo", err, l)
		stop()
		os.Exit(1)
	}

	if !*configTest {
		fmt.Println(sum)
	}
}

// Main configures logging and stats from c and runs the echo session. With
// configTest it only validates the config.
func Main(ctx context.Context, l *logrus.Logger, c *config.C, configTest bool) (summary, error) {
	if err := util.ConfigLogger(l, c); err != nil {
		return summary{}, util.ContextualizeIfNeeded("Failed to configure the logger", err)
	}

	c.RegisterReloadCallback(func(c *config.C) {
		if !c.HasChanged("logging") {
			return
		}
		if err := util.ConfigLogger(l, c); err != nil {
			l.WithError(err).Error("Failed to configure the logger")
		}
	})
	c.CatchHUP(ctx)

	startStats, err := stats.Start(ctx, l, c, Build, configTest)
	if err != nil {
		return summary{}, util.ContextualizeIfNeeded("Failed to start stats emitter", err)
	}

	e, err := newEchoer(ctx, l, c, configTest)
	if err != nil {
		return summary{}, util.ContextualizeIfNeeded("Failed to set up the echo session", err)
	}
	if configTest {
		l.Info("Config is valid")
		return summary{}, nil
	}

	if startStats != nil {
		startStats()
	}

	sum, err := e.run(ctx)
	if err != nil {
		return sum, util.ContextualizeIfNeeded("Echo failed", err)
	}

	l.WithFields(logrus.Fields{
		"sent":     sum.sent,
		"received": sum.received,
		"leases":   sum.leases,
		"duration": sum.elapsed,
	}).Info("Echo complete")
	return sum, nil
}
