package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cqkv/applog"
	"github.com/cqkv/applog/config"
	"github.com/cqkv/applog/model"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "applog",
		Short:        "Inspect and feed applog logs",
		Long:         "applog writes, reads and maintains the segmented record logs kept under a root folder.",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", os.Getenv("APPLOG_CONFIG"), "Config file (yaml, json or toml)")
	rootCmd.PersistentFlags().String("root", "", "Root folder of the logs (overrides the config)")
	rootCmd.PersistentFlags().String("log-level", "warn", "Log level: debug|info|warn|error")

	rootCmd.AddCommand(
		newWriteCommand(),
		newReadCommand(),
		newStatCommand(),
		newClearCommand(),
		newPurgeCommand(),
	)
	return rootCmd
}

// logOptions builds the log options from the config file and the global flags
func logOptions(cmd *cobra.Command) ([]applog.Option, error) {
	path, _ := cmd.Flags().GetString("config")
	root, _ := cmd.Flags().GetString("root")
	level, _ := cmd.Flags().GetString("log-level")

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if root != "" {
		cfg.RootFolder = root
	}

	var lvl slog.Level
	if err = lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", level)
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: lvl}))

	return []applog.Option{applog.WithConfig(cfg), applog.WithLogger(logger)}, nil
}

// parseFields turns name=value arguments into a record, values prefixed with @ are read from a file as bytes
func parseFields(args []string) (*model.Record, error) {
	record := model.NewRecord()
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid field %q; expected name=value", arg)
		}
		if strings.HasPrefix(value, "@") {
			data, err := os.ReadFile(value[1:])
			if err != nil {
				return nil, err
			}
			record.SetBytes(name, data)
			continue
		}
		record.SetString(name, value)
	}
	return record, nil
}

func newWriteCommand() *cobra.Command {
	writeCmd := &cobra.Command{
		Use:   "write <log> name=value...",
		Short: "Append one record and commit it",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			version, _ := cmd.Flags().GetInt32("schema-version")

			opts, err := logOptions(cmd)
			if err != nil {
				return err
			}
			record, err := parseFields(args[1:])
			if err != nil {
				return err
			}

			w, err := applog.OpenWriter(args[0], schema, version, opts...)
			if err != nil {
				return err
			}
			if err = w.Write(record); err != nil {
				_ = w.Close()
				return err
			}
			return w.Close()
		},
	}
	writeCmd.Flags().String("schema", "default", "Schema name stored with the records")
	writeCmd.Flags().Int32("schema-version", 1, "Schema version stored with the records")
	return writeCmd
}

type printedRecord struct {
	Schema  string                 `json:"schema"`
	Version int32                  `json:"version"`
	Fields  map[string]interface{} `json:"fields"`
}

func toPrinted(record *model.Record) printedRecord {
	p := printedRecord{
		Schema:  record.Schema.Name,
		Version: record.Schema.Version,
		Fields:  make(map[string]interface{}, record.Len()),
	}
	for _, f := range record.Fields() {
		if f.Value.Kind() == model.BytesKind {
			p.Fields[f.Name] = f.Value.Bytes()
			continue
		}
		p.Fields[f.Name] = f.Value.String()
	}
	return p
}

func newReadCommand() *cobra.Command {
	readCmd := &cobra.Command{
		Use:   "read <log>",
		Short: "Print records as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			from, _ := cmd.Flags().GetString("from")
			del, _ := cmd.Flags().GetBool("delete")
			follow, _ := cmd.Flags().GetBool("follow")
			limit, _ := cmd.Flags().GetInt("limit")

			opts, err := logOptions(cmd)
			if err != nil {
				return err
			}
			r, err := applog.OpenReader(args[0], opts...)
			if err != nil {
				return err
			}
			// closing stores the position
			defer func() {
				if cerr := r.Close(); err == nil {
					err = cerr
				}
			}()
			if from != "" {
				if err = r.SetPosition(from); err != nil {
					return err
				}
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			enc := json.NewEncoder(cmd.OutOrStdout())
			read := r.Read
			if del {
				read = r.ReadDelete
			}
			for n := 0; limit <= 0 || n < limit; {
				record, err := read()
				if err != nil {
					return err
				}
				if record != nil {
					if err = enc.Encode(toPrinted(record)); err != nil {
						return err
					}
					n++
					continue
				}
				if !follow {
					break
				}
				select {
				case <-ctx.Done():
					return printPosition(cmd, r)
				case <-r.Available():
				}
			}
			return printPosition(cmd, r)
		},
	}
	readCmd.Flags().String("from", "", "Start position: BEGINNING|END|<token> (default: stored position)")
	readCmd.Flags().Bool("delete", false, "Delete the records that are read")
	readCmd.Flags().BoolP("follow", "f", false, "Keep waiting for newly committed records")
	readCmd.Flags().Int("limit", 0, "Stop after N records (0 = all)")
	return readCmd
}

func printPosition(cmd *cobra.Command, r *applog.Reader) error {
	token, err := r.Position()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.ErrOrStderr(), "position: %s\n", token)
	return err
}

func newStatCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <log>",
		Short: "Show segment and record counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := logOptions(cmd)
			if err != nil {
				return err
			}
			stats, err := applog.Stat(args[0], opts...)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		},
	}
}

func newClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <log>",
		Short: "Delete every committed record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := logOptions(cmd)
			if err != nil {
				return err
			}
			r, err := applog.OpenReader(args[0], opts...)
			if err != nil {
				return err
			}
			if err = r.Clear(); err != nil {
				_ = r.Close()
				return err
			}
			return r.Close()
		},
	}
}

func newPurgeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "purge <log>",
		Short: "Apply the size retention once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := logOptions(cmd)
			if err != nil {
				return err
			}
			removed, err := applog.PurgeLog(args[0], opts...)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed %d segments\n", removed)
			return err
		},
	}
}
