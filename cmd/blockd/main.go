//
// Copyright 2026 Blockd authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	systemd "github.com/coreos/go-systemd/v22/daemon"
	"github.com/godbus/dbus/v5"
	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/blockdaemon/blockd/daemon"
)

const (
	runDir string = "/run/blockd"
	pidFile string = runDir + "/blockd.pid"
	usage string = `blockd storage daemon

blockd maintains a live object model of the host's block-storage topology
(disks, partitions, LUKS containers, RAID arrays, LVM2 volumes) and exposes
it, plus the operations to manage it, over a D-Bus API at a fixed object
root.
`
)

// Populated at build time via -ldflags -X.
var (
	version string
	commitId string
	builtAt string
	builtBy string
)

func exitHandler(signalChan chan os.Signal, d *daemon.Daemon, prof interface{ Stop() }) {
	var printStack bool

	s := <-signalChan
	logrus.Warnf("blockd caught signal: %s", s)
	logrus.Info("Stopping (gracefully)...")

	systemd.SdNotify(false, systemd.SdNotifyStopping)

	switch s {
	case syscall.SIGABRT, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGSEGV:
		printStack = true
	}
	if printStack {
		stacktrace := make([]byte, 32768)
		length := runtime.Stack(stacktrace, true)
		logrus.Warnf("\n\n%s\n", string(stacktrace[:length]))
	}

	d.Stop()

	if prof != nil {
		prof.Stop()
	}

	if err := daemon.DestroyPidFile(pidFile); err != nil {
		logrus.Warnf("failed to destroy blockd pid file: %v", err)
	}

	logrus.Info("Exiting...")
	os.Exit(0)
}

func runProfiler(ctx *cli.Context) (interface{ Stop() }, error) {
	cpuProfOn := ctx.Bool("cpu-profiling")
	memProfOn := ctx.Bool("memory-profiling")

	if cpuProfOn && memProfOn {
		return nil, fmt.Errorf("unsupported parameter combination: cpu and memory profiling")
	}
	if !(cpuProfOn || memProfOn) {
		return nil, nil
	}

	var prof interface{ Stop() }
	if cpuProfOn {
		prof = profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.NoShutdownHook)
	}
	if memProfOn {
		prof = profile.Start(profile.MemProfile, profile.ProfilePath("."), profile.NoShutdownHook)
	}
	return prof, nil
}

func setupLogging(ctx *cli.Context) error {
	if path := ctx.GlobalString("log"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND|os.O_SYNC, 0666)
		if err != nil {
			return fmt.Errorf("opening log file %s: %w", path, err)
		}
		logrus.SetOutput(f)
		log.SetOutput(f)
	} else {
		logrus.SetOutput(os.Stderr)
		log.SetOutput(os.Stderr)
	}

	if ctx.GlobalString("log-format") == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02 15:04:05"})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{TimestampFormat: "2006-01-02 15:04:05", FullTimestamp: true})
	}

	switch level := ctx.GlobalString("log-level"); level {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "info", "":
		logrus.SetLevel(logrus.InfoLevel)
	case "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	case "fatal":
		logrus.SetLevel(logrus.FatalLevel)
	default:
		return fmt.Errorf("log-level option %q not recognized", level)
	}
	return nil
}

func setupRunDir() error {
	if err := os.MkdirAll(runDir, 0700); err != nil {
		return fmt.Errorf("failed to create %s: %w", runDir, err)
	}
	return nil
}

func main() {
	app := cli.NewApp()
	app.Name = "blockd"
	app.Usage = usage
	app.Version = version

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name: "config",
			Value: "/etc/blockd/blockd.yaml",
			Usage: "configuration file path (missing file is not an error)",
		},
		cli.StringFlag{
			Name: "log",
			Value: "",
			Usage: "log file path or empty string for stderr output",
		},
		cli.StringFlag{
			Name: "log-level",
			Value: "info",
			Usage: "log categories to include (debug, info, warning, error, fatal)",
		},
		cli.StringFlag{
			Name: "log-format",
			Value: "text",
			Usage: "log format; must be json or text",
		},
		cli.BoolFlag{
			Name: "cpu-profiling",
			Usage: "enable cpu-profiling data collection",
			Hidden: true,
		},
		cli.BoolFlag{
			Name: "memory-profiling",
			Usage: "enable memory-profiling data collection",
			Hidden: true,
		},
	}

	cli.VersionPrinter = func(c *cli.Context) {
		fmt.Printf("blockd\n\tversion: \t%s\n\tcommit: \t%s\n\tbuilt at: \t%s\n\tbuilt by: \t%s\n",
		c.App.Version, commitId, builtAt, builtBy)
	}

	app.Before = setupLogging

	app.Action = func(ctx *cli.Context) error {
		logrus.Info("Initiating blockd...")

		if err := daemon.CheckPidFile("blockd", pidFile); err != nil {
			return err
		}
		if err := setupRunDir(); err != nil {
			return err
		}

		cfg, v, err := daemon.LoadConfig(ctx.GlobalString("config"))
		if err != nil {
			return err
		}

		conn, err := dbus.ConnectSystemBus()
		if err != nil {
			return fmt.Errorf("connecting to system bus: %w", err)
		}

		d, err := daemon.New(cfg, conn)
		if err != nil {
			return fmt.Errorf("building daemon: %w", err)
		}

		if err := d.Coldplug(); err != nil {
			return fmt.Errorf("coldplug: %w", err)
		}

		daemon.WatchConfig(v, d.ApplyConfig)

		prof, err := runProfiler(ctx)
		if err != nil {
			logrus.Fatal(err)
		}

		exitChan := make(chan os.Signal, 1)
		signal.Notify(exitChan, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGSEGV, syscall.SIGQUIT)
		go exitHandler(exitChan, d, prof)

		if err := d.Start(context.Background()); err != nil {
			return fmt.Errorf("starting daemon: %w", err)
		}

		systemd.SdNotify(false, systemd.SdNotifyReady)

		if err := daemon.CreatePidFile(pidFile); err != nil {
			return fmt.Errorf("failed to create blockd.pid file: %w", err)
		}

		logrus.Info("Ready...")
		select {}
	}

	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}
