package main

import (
	"fmt"
	"os"
	"time"

	"github.com/loykin/datacat"
	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and wires all subcommands.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	cmd := command{global: globalFlags}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createRegisterCommand(cmd),
		createEventCommand(cmd),
		createMetricCommand(cmd),
		createStateCommand(cmd),
		createHeartbeatCommand(cmd),
		createEndCommand(cmd),
		createSessionCommand(cmd),
		createSessionsCommand(cmd),
		createDaemonCommand(cmd),
	)
	return root
}

// createRootCommand creates the root command with persistent flags.
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "datacat",
		Short: "Telemetry session tool",
		Long: `Datacat reports sessions, events and metrics to a local collector
daemon or directly to a telemetry server.

Examples:
  datacat register --product=mygame --version=1.2.3
  datacat event --session=<id> --name=level_started --data='{"level":3}'
  datacat metric --session=<id> --name=fps --value=59.8
  datacat daemon status --api-url=http://localhost:8079`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if flags.ConfigPath == "" || cmd.Flags().Changed("api-url") {
				return nil
			}
			cfg, err := datacat.LoadConfig(flags.ConfigPath)
			if err != nil {
				return err
			}
			if cfg.ServerURL != "" {
				flags.APIUrl = cfg.ServerURL
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", "http://localhost:8079", "daemon or server URL")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	return root
}

func createRegisterCommand(c command) *cobra.Command {
	flags := &RegisterFlags{}
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a new session",
		Long: `Register a new telemetry session and print its id.

Examples:
  datacat register --product=mygame --version=1.2.3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Register(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.Product, "product", "", "product name (required)")
	cmd.Flags().StringVar(&flags.Version, "version", "", "product version (required)")
	if err := cmd.MarkFlagRequired("product"); err != nil {
		panic(err)
	}
	if err := cmd.MarkFlagRequired("version"); err != nil {
		panic(err)
	}
	return cmd
}

func createEventCommand(c command) *cobra.Command {
	flags := &EventFlags{}
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Log an event",
		Long: `Log a named event on a session.

Examples:
  datacat event --session=<id> --name=level_started
  datacat event --session=<id> --name=level_started --data='{"level":3}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Event(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.SessionID, "session", "", "session id (required)")
	cmd.Flags().StringVar(&flags.Name, "name", "", "event name (required)")
	cmd.Flags().StringVar(&flags.Data, "data", "", "event data as a JSON object")
	if err := cmd.MarkFlagRequired("session"); err != nil {
		panic(err)
	}
	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(err)
	}
	return cmd
}

func createMetricCommand(c command) *cobra.Command {
	flags := &MetricFlags{}
	cmd := &cobra.Command{
		Use:   "metric",
		Short: "Log a metric",
		Long: `Log a metric value on a session.

Examples:
  datacat metric --session=<id> --name=fps --value=59.8
  datacat metric --session=<id> --name=load_time --value=1.5 --type=timer --unit=seconds --count=12`,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.HasCount = cmd.Flags().Changed("count")
			return c.Metric(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.SessionID, "session", "", "session id (required)")
	cmd.Flags().StringVar(&flags.Name, "name", "", "metric name (required)")
	cmd.Flags().Float64Var(&flags.Value, "value", 0, "metric value (required)")
	cmd.Flags().StringVar(&flags.Type, "type", "", "metric type: gauge, counter, histogram, timer")
	cmd.Flags().StringSliceVar(&flags.Tags, "tags", nil, "tags (comma-separated)")
	cmd.Flags().StringVar(&flags.Unit, "unit", "", "value unit (e.g. seconds)")
	cmd.Flags().IntVar(&flags.Count, "count", 0, "iteration count")
	if err := cmd.MarkFlagRequired("session"); err != nil {
		panic(err)
	}
	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(err)
	}
	if err := cmd.MarkFlagRequired("value"); err != nil {
		panic(err)
	}
	return cmd
}

func createStateCommand(c command) *cobra.Command {
	flags := &StateFlags{}
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Update session state",
		Long: `Replace the state mapping of a session.

Examples:
  datacat state --session=<id> --data='{"level":3,"mode":"hard"}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.State(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.SessionID, "session", "", "session id (required)")
	cmd.Flags().StringVar(&flags.Data, "data", "", "state as a JSON object (required)")
	if err := cmd.MarkFlagRequired("session"); err != nil {
		panic(err)
	}
	if err := cmd.MarkFlagRequired("data"); err != nil {
		panic(err)
	}
	return cmd
}

func createHeartbeatCommand(c command) *cobra.Command {
	flags := &SessionFlags{}
	cmd := &cobra.Command{
		Use:   "heartbeat",
		Short: "Send a session heartbeat",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Heartbeat(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.SessionID, "session", "", "session id (required)")
	if err := cmd.MarkFlagRequired("session"); err != nil {
		panic(err)
	}
	return cmd
}

func createEndCommand(c command) *cobra.Command {
	flags := &SessionFlags{}
	cmd := &cobra.Command{
		Use:   "end",
		Short: "End a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.End(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.SessionID, "session", "", "session id (required)")
	if err := cmd.MarkFlagRequired("session"); err != nil {
		panic(err)
	}
	return cmd
}

func createSessionCommand(c command) *cobra.Command {
	flags := &SessionFlags{}
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Show one session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Session(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.SessionID, "session", "", "session id (required)")
	if err := cmd.MarkFlagRequired("session"); err != nil {
		panic(err)
	}
	return cmd
}

func createSessionsCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List known sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Sessions()
		},
	}
}

func createDaemonCommand(c command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Collector daemon lifecycle commands",
	}
	cmd.AddCommand(
		createDaemonStartCommand(c),
		createDaemonStopCommand(c),
		createDaemonStatusCommand(c),
	)
	return cmd
}

func createDaemonStartCommand(c command) *cobra.Command {
	flags := &DaemonStartFlags{}
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a collector daemon",
		Long: `Start a collector daemon and print its pid, port and config path.
The daemon keeps running after this command exits.

Examples:
  datacat daemon start --server-url=https://telemetry.example.com
  datacat daemon start --port=8079 --binary=./bin/datacat-daemon`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.DaemonStart(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.Port, "port", "auto", "daemon port, or auto")
	cmd.Flags().StringVar(&flags.Binary, "binary", "", "daemon binary (default: search cwd, ./bin, PATH)")
	cmd.Flags().StringVar(&flags.ServerURL, "server-url", "", "upstream telemetry server URL")
	cmd.Flags().StringVar(&flags.ConfigDir, "config-dir", ".", "directory for the daemon config artifact")
	cmd.Flags().DurationVar(&flags.ReadyTimeout, "ready-timeout", 5*time.Second, "how long to wait for /health")
	return cmd
}

func createDaemonStopCommand(c command) *cobra.Command {
	flags := &DaemonStopFlags{}
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a collector daemon by pid",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.DaemonStop(*flags)
		},
	}
	cmd.Flags().IntVar(&flags.PID, "pid", 0, "daemon pid (required)")
	cmd.Flags().DurationVar(&flags.Wait, "wait", 3*time.Second, "time to wait before force kill")
	if err := cmd.MarkFlagRequired("pid"); err != nil {
		panic(err)
	}
	return cmd
}

func createDaemonStatusCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check daemon reachability",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.DaemonStatus()
		},
	}
}
