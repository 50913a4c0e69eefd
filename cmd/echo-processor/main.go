package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/CZERTAINLY/echo-processor/internal/log"
	"github.com/CZERTAINLY/echo-processor/internal/model"
	"github.com/CZERTAINLY/echo-processor/internal/service"
)

const envPrefix = "ECHO"

var (
	configPath string // actual config file used (if loaded)
	config     model.Config
	exitCode   int
	logCloser  io.Closer = io.NopCloser(nil)

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		slog.Error("echo-processor failed", "err", err)
		exitCode = model.ExitFailed
	}
	_ = logCloser.Close()
	os.Exit(exitCode)
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "echo-processor",
		Short: "Conformance worker speaking the line-delimited JSON action protocol on stdin and stdout",
		Long: `echo-processor reads one request per line from stdin and writes progress,
result and error events to stdout. The exit code mirrors the last event:
0 result, 1 failure, 2 invalid input, 3 terminated.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE:         doRun,
	}

	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "YAML config file to load, ECHOCONFIG env variable has a precedence")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")
	rootCmd.PersistentFlags().String("execution-id", "", "execution id used when the request carries none")
	rootCmd.PersistentFlags().String("log", "", "log destination: stderr, discard or a file path")
	rootCmd.PersistentFlags().String("log-level", "", "log level: Debug, Info, Warning or Error")
	rootCmd.PersistentFlags().Bool("match-execution-id", false, "ignore terminate messages for other execution ids")

	// never print messages, stdout carries the protocol
	rootCmd.SilenceErrors = true

	// parse the config, setup logging
	rootCmd.PersistentPreRunE = initWorker

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd())
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "version provide version of an echo-processor",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			info, ok := debug.ReadBuildInfo()
			if !ok {
				fmt.Fprintln(out, "echo-processor: version info not available")
				return
			}

			if configPath != "" {
				fmt.Fprintf(out, "config:         %s\n", configPath)
			}
			fmt.Fprintf(out, "echo-processor: %s\n", info.Main.Version)
			fmt.Fprintf(out, "go:             %s\n", info.GoVersion)
			for _, s := range info.Settings {
				switch s.Key {
				case "vcs.revision":
					fmt.Fprintf(out, "commit:         %s\n", s.Value)
				case "vcs.time":
					fmt.Fprintf(out, "date:           %s\n", s.Value)
				case "vcs.modified":
					fmt.Fprintf(out, "dirty:          %s\n", s.Value)
				}
			}
		},
	}
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "config prints the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(config); err != nil {
				return fmt.Errorf("encoding configuration: %w", err)
			}
			return enc.Close()
		},
	}
}

func doRun(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	attrs := slog.Group("echo",
		slog.String("cmd", "run"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	exitCode = service.NewWorker(config).Do(ctx, os.Stdin, os.Stdout)
	return nil
}

func initWorker(cmd *cobra.Command, _ []string) error {
	v := viper.New()
	model.SetDefaults(v)

	configPath = ""
	if envConfig, ok := os.LookupEnv("ECHOCONFIG"); ok {
		configPath = envConfig
	} else if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file %s: %w", configPath, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// names used by the container image
	for key, legacy := range map[string]string{
		"execution_id": "EXECUTION_ID",
		"log.level":    "LOG_LEVEL",
		"log.path":     "LOG_PATH",
	} {
		prefixed := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return fmt.Errorf("binding env %s: %w", legacy, err)
		}
	}

	if err := bindFlags(v, cmd.Flags()); err != nil {
		return err
	}

	var err error
	config, err = model.LoadConfig(v)
	if err != nil {
		for _, d := range model.ConfigErrDetails(err) {
			slog.Error("invalid config", d.Attr("detail"))
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// initialize logging
	level, err := log.ParseLevel(config.Log.Level)
	if err != nil {
		return err
	}
	w, closer, err := log.Open(config.Log.Path)
	if err != nil {
		return err
	}
	logCloser = closer
	slog.SetDefault(log.New(w, level, flagVerbose))

	slog.Debug("echo-processor start", "configPath", configPath)
	slog.Debug("echo-processor start", "config", config)
	return nil
}

// bindFlags maps command line flags to configuration keys. Only flags set
// explicitly override other sources.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for flag, key := range map[string]string{
		"execution-id":       "execution_id",
		"log":                "log.path",
		"log-level":          "log.level",
		"match-execution-id": "match_execution_id",
	} {
		f := flags.Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("binding flag --%s: %w", flag, err)
		}
	}
	return nil
}
