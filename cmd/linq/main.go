package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/gottscj/Serialize.Linq/pkg/client"
	"github.com/gottscj/Serialize.Linq/pkg/ioctx"
	"github.com/gottscj/Serialize.Linq/pkg/linq"
	"github.com/gottscj/Serialize.Linq/pkg/nodes"
	"github.com/gottscj/Serialize.Linq/pkg/people"
	"github.com/gottscj/Serialize.Linq/pkg/registry"
)

// Config holds the application configuration
type Config struct {
	Debug      bool
	Dump       bool
	ConfigPath string
	Endpoint   string
	Hub        string
}

// app is what every subcommand runs against once flags and the config file
// are merged.
type app struct {
	cfg    Config
	ser    *linq.Serializer
	stdout io.Writer
	logger *slog.Logger
}

func main() {
	var cfg Config

	rootCmd := &cobra.Command{
		Use:   "linq",
		Short: "Query a linqd service with serialized expressions",
		Example: `  # List every person over HTTP
  linq persons

  # Run all canned queries over the hub
  linq query hub

  # Show the node tree sent for one query
  linq query http japan --dump`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&cfg.Debug, "debug", "d", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&cfg.Dump, "dump", false, "Print each query's node tree before sending it")
	rootCmd.PersistentFlags().StringVarP(&cfg.ConfigPath, "config", "c", "", "Path to linq.toml (searched upward from the working directory if not set)")
	rootCmd.PersistentFlags().StringVar(&cfg.Endpoint, "endpoint", "", "Base URL of the HTTP API")
	rootCmd.PersistentFlags().StringVar(&cfg.Hub, "hub", "", "Websocket URL of the hub")

	rootCmd.AddCommand(personsCmd(&cfg), queryCmd(&cfg), schemaCmd(&cfg))

	ctx := context.Background()
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

func setup(cmd *cobra.Command, cfg *Config) (*app, error) {
	ctx := cmd.Context()

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(ioctx.StderrFromContext(ctx), &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	cwd, _ := os.Getwd()
	path, config, err := linq.ResolveConfig(cfg.ConfigPath, cwd)
	if err != nil {
		return nil, err
	}
	if path != "" {
		logger.Debug("loaded config", "path", path)
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = config.Client.Endpoint
	}
	if cfg.Hub == "" {
		cfg.Hub = config.Client.Hub
	}

	reg := registry.New()
	if err := people.Register(reg); err != nil {
		return nil, err
	}
	ser := linq.New(reg, config.Serializer.Settings())
	ser.Logger = logger

	return &app{cfg: *cfg, ser: ser, stdout: ioctx.StdoutFromContext(ctx), logger: logger}, nil
}

func personsCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "persons",
		Short: "List every person",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, cfg)
			if err != nil {
				return err
			}
			ps, err := client.NewHTTP(a.cfg.Endpoint).All(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(a.stdout, renderPersons("All persons", ps))
			return err
		},
	}
}

func schemaCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the service's type schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, cfg)
			if err != nil {
				return err
			}
			sdl, err := client.NewHTTP(a.cfg.Endpoint).Schema(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(a.stdout, sdl)
			return err
		},
	}
}

func queryCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run canned queries against the service",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "http [query...]",
			Short: "Send queries to the HTTP API",
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := setup(cmd, cfg)
				if err != nil {
					return err
				}
				return a.runHTTP(cmd.Context(), args)
			},
		},
		&cobra.Command{
			Use:   "hub [query...]",
			Short: "Send queries over the hub",
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := setup(cmd, cfg)
				if err != nil {
					return err
				}
				return a.runHub(cmd.Context(), args)
			},
		},
	)
	return cmd
}

// prepared is a demo converted to nodes.
type prepared struct {
	demo
	filter, project nodes.Node
}

func (a *app) prepare(names []string) ([]prepared, error) {
	ds, err := pick(names)
	if err != nil {
		return nil, err
	}
	out := make([]prepared, len(ds))
	for i, d := range ds {
		out[i].demo = d
		if out[i].filter, err = a.ser.ToNode(d.Filter); err != nil {
			return nil, fmt.Errorf("%s: %w", d.Name, err)
		}
		if a.cfg.Dump {
			if err := dump(a.stdout, d.Name+" filter", out[i].filter); err != nil {
				return nil, err
			}
		}
		if d.Project == nil {
			continue
		}
		if out[i].project, err = a.ser.ToNode(d.Project); err != nil {
			return nil, fmt.Errorf("%s: %w", d.Name, err)
		}
		if a.cfg.Dump {
			if err := dump(a.stdout, d.Name+" projection", out[i].project); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func (a *app) runHTTP(ctx context.Context, names []string) error {
	qs, err := a.prepare(names)
	if err != nil {
		return err
	}
	c := client.NewHTTP(a.cfg.Endpoint)
	for _, q := range qs {
		if q.project != nil {
			a.logger.Warn("projections are only supported over the hub; skipping", "query", q.Name)
			continue
		}
		ps, err := c.Query(ctx, q.filter)
		if err != nil {
			return fmt.Errorf("%s: %w", q.Name, err)
		}
		if _, err := fmt.Fprintln(a.stdout, renderPersons(q.Title, ps)); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) runHub(ctx context.Context, names []string) error {
	qs, err := a.prepare(names)
	if err != nil {
		return err
	}
	hub, err := client.DialHub(ctx, a.cfg.Hub)
	if err != nil {
		return err
	}
	defer hub.Close() //nolint:errcheck

	id, err := hub.ConnectionID(ctx)
	if err != nil {
		return err
	}
	a.logger.Info("connected to hub", "connection", id)

	for _, q := range qs {
		var ps []people.Person
		if q.project != nil {
			ps, err = hub.QueryProject(ctx, q.filter, q.project)
		} else {
			ps, err = hub.Query(ctx, q.filter)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", q.Name, err)
		}
		if _, err := fmt.Fprintln(a.stdout, renderPersons(q.Title, ps)); err != nil {
			return err
		}
	}
	return nil
}
