package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/Blackdeer1524/graphcore/src/app"
	"github.com/Blackdeer1524/graphcore/src/database"
	"github.com/Blackdeer1524/graphcore/src/tools/waldump"
)

type cli struct {
	// fs is nil outside of tests, the database then uses the OS file system.
	fs       afero.Fs
	envFiles []string
}

func newRootCmd(fs afero.Fs) *cobra.Command {
	c := &cli{fs: fs}

	root := &cobra.Command{
		Use:          "graphctl",
		Short:        "Inspect and maintain graph database files",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringSliceVar(&c.envFiles, "env-file", []string{".env"}, "dotenv files to load")

	root.AddCommand(
		&cobra.Command{
			Use:   "wal-dump <db>",
			Short: "Print the records of the write-ahead log",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				_, err := waldump.Dump(cmd.OutOrStdout(), c.files(), args[0])
				return err
			},
		},
		&cobra.Command{
			Use:   "header <db>",
			Short: "Print the database header",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				_, err := waldump.DumpHeader(cmd.OutOrStdout(), c.files(), args[0])
				return err
			},
		},
		&cobra.Command{
			Use:   "tables <db>",
			Short: "List the tables of the catalog",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.run(cmd.Context(), args[0], true, func(_ context.Context, conn *database.Connection) error {
					w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
					fmt.Fprintln(w, "ID\tNAME\tTYPE\tSTORAGE")
					for _, e := range conn.Database().Catalog().Tables() {
						storage := e.Storage
						if storage == "" {
							storage = "native"
						}
						fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", e.ID, e.Name, e.Type, storage)
					}
					return w.Flush()
				})
			},
		},
		&cobra.Command{
			Use:   "graphs <db>",
			Short: "List the named graphs",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.run(cmd.Context(), args[0], true, func(_ context.Context, conn *database.Connection) error {
					w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
					fmt.Fprintln(w, "NAME\tTYPE")
					for _, g := range conn.Graphs() {
						fmt.Fprintf(w, "%s\t%s\n", g.Name, g.TypeName())
					}
					return w.Flush()
				})
			},
		},
		&cobra.Command{
			Use:   "checkpoint <db>",
			Short: "Fold the write-ahead log into the data file",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.run(cmd.Context(), args[0], false, func(_ context.Context, conn *database.Connection) error {
					return conn.Checkpoint()
				})
			},
		},
		&cobra.Command{
			Use:   "vacuum <db>",
			Short: "Rewrite the database without deleted rows",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.run(cmd.Context(), args[0], false, func(_ context.Context, conn *database.Connection) error {
					return conn.Vacuum()
				})
			},
		},
		&cobra.Command{
			Use:   "copy <db> <table> <file.parquet>",
			Short: "Append the rows of a parquet file to a table",
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.run(cmd.Context(), args[0], false, func(ctx context.Context, conn *database.Connection) error {
					n, err := conn.CopyFrom(ctx, args[1], args[2])
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "copied %d rows into %s\n", n, args[1])
					return nil
				})
			},
		},
	)
	return root
}

func (c *cli) files() afero.Fs {
	if c.fs == nil {
		return afero.NewOsFs()
	}
	return c.fs
}

func (c *cli) run(
	ctx context.Context,
	path string,
	readOnly bool,
	fn func(ctx context.Context, conn *database.Connection) error,
) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}

	e := &app.Entrypoint{
		EnvFiles: c.envFiles,
		Override: func(opts *database.Options) {
			opts.Path = path
			opts.InMemory = false
			opts.ReadOnly = readOnly
			opts.FS = c.fs
		},
	}
	if err := e.Init(ctx); err != nil {
		return err
	}
	defer func() {
		if closeErr := e.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	return e.Run(ctx, fn)
}
