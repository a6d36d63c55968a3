package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/gottscj/Serialize.Linq/pkg/ioctx"
	"github.com/gottscj/Serialize.Linq/pkg/linq"
	"github.com/gottscj/Serialize.Linq/pkg/people"
	"github.com/gottscj/Serialize.Linq/pkg/registry"
	"github.com/gottscj/Serialize.Linq/pkg/server"
)

// Flags holds the command line settings. Flags that are set override the
// config file.
type Flags struct {
	Debug       bool
	ConfigPath  string
	Listen      string
	SchemaAddr  string
	CSV         string
	Encoding    string
	StrictNames bool
}

func main() {
	var flags Flags

	rootCmd := &cobra.Command{
		Use:   "linqd [flags]",
		Short: "Serve person queries sent as serialized expressions",
		Long: `linqd keeps a person repository in memory and answers queries sent as
serialized expression trees, over HTTP (/api/persons) and over a JSON-RPC hub
on a websocket (/hub).`,
		Example: `  # Serve the built-in sample on the configured address
  linqd

  # Serve a CSV export on another port
  linqd --listen :8080 --csv persons.csv --encoding windows-1252`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, flags)
		},
	}

	rootCmd.Flags().BoolVarP(&flags.Debug, "debug", "d", false, "Enable debug logging")
	rootCmd.Flags().StringVarP(&flags.ConfigPath, "config", "c", "", "Path to linq.toml (searched upward from the working directory if not set)")
	rootCmd.Flags().StringVarP(&flags.Listen, "listen", "l", "", "Address of the HTTP API and hub")
	rootCmd.Flags().StringVar(&flags.SchemaAddr, "schema-listen", "", "Address of an extra listener serving only /schema")
	rootCmd.Flags().StringVar(&flags.CSV, "csv", "", "Person CSV file to serve instead of the built-in sample")
	rootCmd.Flags().StringVar(&flags.Encoding, "encoding", "", "Charset of the CSV file")
	rootCmd.Flags().BoolVar(&flags.StrictNames, "strict-names", false, "Write full import paths in type names")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = ioctx.StdoutToContext(ctx, os.Stdout)
	ctx = ioctx.StderrToContext(ctx, os.Stderr)
	if err := fang.Execute(ctx, rootCmd,
		fang.WithVersion("v0.1.0"),
		fang.WithCommit("dev"),
		fang.WithErrorHandler(func(w io.Writer, styles fang.Styles, err error) {
			_, _ = fmt.Fprintln(w, err.Error())
		}),
	); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, flags Flags) error {
	ctx := cmd.Context()

	level := slog.LevelInfo
	if flags.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(ioctx.StderrFromContext(ctx), &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	ctx = ioctx.LoggerToContext(ctx, logger)

	cwd, _ := os.Getwd()
	configPath, config, err := linq.ResolveConfig(flags.ConfigPath, cwd)
	if err != nil {
		return err
	}
	if configPath != "" {
		logger.Info("loaded config", "path", configPath)
	}
	applyFlags(cmd, flags, config)

	persons, err := loadPersons(config.Data, logger)
	if err != nil {
		return err
	}

	reg := registry.New()
	if err := people.Register(reg); err != nil {
		return err
	}
	ser := linq.New(reg, config.Serializer.Settings())
	ser.Logger = logger

	srv := server.New(ser, people.NewRepository(persons...), logger)
	servers := []*http.Server{{
		Addr:              config.Service.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}}
	if config.Service.Debug != "" {
		servers = append(servers, &http.Server{
			Addr:              config.Service.Debug,
			Handler:           srv.SchemaHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		})
	}

	logger.Info("serving persons", "count", len(persons))
	return server.Serve(ctx, servers...)
}

func applyFlags(cmd *cobra.Command, flags Flags, config *linq.Config) {
	set := cmd.Flags().Changed
	if set("listen") {
		config.Service.Listen = flags.Listen
	}
	if set("schema-listen") {
		config.Service.Debug = flags.SchemaAddr
	}
	if set("csv") {
		config.Data.CSV = flags.CSV
	}
	if set("encoding") {
		config.Data.Encoding = flags.Encoding
	}
	if set("strict-names") {
		config.Serializer.RelaxedTypeNames = !flags.StrictNames
	}
}

func loadPersons(data linq.DataConfig, logger *slog.Logger) ([]people.Person, error) {
	opts := people.LoadOptions{Encoding: data.Encoding, Logger: logger}
	if data.CSV == "" {
		return people.LoadSample(opts)
	}
	f, err := os.Open(data.CSV)
	if err != nil {
		return nil, fmt.Errorf("open persons: %w", err)
	}
	defer f.Close() //nolint:errcheck
	return people.LoadCSV(f, opts)
}
