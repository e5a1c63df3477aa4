package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nsmryan/ccsds-router/cfg"
	"github.com/nsmryan/ccsds-router/cmd/internal/cmderr"
	"github.com/nsmryan/ccsds-router/daemon"
	"github.com/nsmryan/ccsds-router/printer"
	"github.com/nsmryan/ccsds-router/route"
	"github.com/nsmryan/ccsds-router/util"
	"github.com/nsmryan/ccsds-router/version"
)

var (
	supressGUIFlag bool
	portFlag       uint16
	debugFlag      bool
)

var (
	rootCmd = &cobra.Command{
		Use:           "ccsds-router [config-file]",
		Short:         "Route CCSDS space-packet streams between transport endpoints.",
		Long:          "Read a stream of CCSDS space packets from a file, UDP socket, or TCP endpoint,\nrecover discrete packets, shape their emission over time, and fan each packet\nout to one or more output endpoints.",
		Version:       version.CLIDisplayString(),
		SilenceErrors: true, // We print our own errors in the Execute function
		// Don't print usage after error, we only print help if we cannot
		// parse flags. See init function below.
		SilenceUsage: true,
		Args:         cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := cfg.DefaultPath
			if len(args) > 0 {
				configPath = args[0]
			}
			if err := runRouter(configPath); err != nil {
				return cmderr.RouterErr{Err: err}
			}
			return nil
		},
	}
)

func preRun(cmd *cobra.Command, args []string) {
	if debugFlag {
		viper.Set("debug", true)
	}
}

func init() {
	rootCmd.PersistentPreRun = preRun

	rootCmd.PersistentFlags().BoolVarP(&supressGUIFlag, "supressgui", "s", false, "run headless; forces auto_start and exits when processing finishes")
	rootCmd.PersistentFlags().Uint16Var(&portFlag, "port", 50080, "port for the HTTP control surface")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug output")
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Print error message to the user.
		printer.Stderr.Errorf("%v\n", err)

		var routerErr cmderr.RouterErr
		if ok := errors.As(err, &routerErr); !ok {
			// Print usage for CLI parsing errors.
			rootCmd.Usage()
		}

		exitCode := 1
		var exitErr util.ExitError
		if ok := errors.As(err, &exitErr); ok {
			exitCode = exitErr.ExitCode
		}
		os.Exit(exitCode)
	}
}

// runRouter drives one processor lifetime: load config, spawn the
// processor, consume its events, and either serve the control surface
// or run a single headless session.
func runRouter(configPath string) error {
	logFile, err := printer.OpenLogFile(time.Now())
	if err != nil {
		// Startup failure before logging exists is unrecoverable.
		return util.ExitError{ExitCode: 2, Err: err}
	}
	defer logFile.Close()

	config, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if config.LogLevel == "debug" {
		viper.Set("debug", true)
	}

	if supressGUIFlag {
		config.AutoStart = true
	}

	processor := route.NewProcessor()
	go processor.Run()

	stats := route.NewStats()

	if config.AutoStart {
		start := config
		processor.Commands() <- route.Command{Kind: route.CmdStart, Config: &start}
	}

	if !supressGUIFlag {
		go func() {
			if err := daemon.Run(daemon.Args{
				PortNumber: portFlag,
				Processor:  processor,
				Stats:      stats,
			}); err != nil {
				printer.Errorf("control surface failed: %v\n", err)
			}
		}()
	}

	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case sig := <-signals:
			printer.Infof("received %v, terminating\n", sig)
			processor.Commands() <- route.Command{Kind: route.CmdTerminate}

		case event := <-processor.Events():
			switch e := event.(type) {
			case route.PacketUpdate:
				stats.Update(e)
				printer.Debugf("packet APID %d length %d seq %d\n", e.APID, e.PacketLength, e.SeqCount)

			case route.PacketDropped:
				stats.CountDropped()
				printer.Debugf("dropped packet APID %d\n", e.Header.APID)

			case route.ErrorEvent:
				// Already logged at the point of failure.

			case route.Finished:
				printer.Infoln("processing finished")
				if supressGUIFlag {
					processor.Commands() <- route.Command{Kind: route.CmdTerminate}
				}

			case route.Terminated:
				printer.Infoln("processor terminated")
				return nil
			}
		}
	}
}

// loadConfig reads the configuration, falling back to defaults when the
// default path does not exist yet.
func loadConfig(path string) (cfg.AppConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) && path == cfg.DefaultPath {
		printer.Warningf("no %s found, using default configuration\n", path)
		return cfg.Default(), nil
	}

	config, err := cfg.Load(path)
	if err != nil {
		return cfg.AppConfig{}, errors.Wrap(err, "failed to load configuration")
	}
	return config, nil
}
