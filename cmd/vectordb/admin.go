package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/efebarandurmaz/vectordb/internal/bootstrap"
	"github.com/efebarandurmaz/vectordb/internal/config"
	"github.com/efebarandurmaz/vectordb/internal/coordinator"
	"github.com/efebarandurmaz/vectordb/internal/store"
	temporalmod "github.com/efebarandurmaz/vectordb/internal/temporal"
)

// errInconsistent makes check exit non-zero without a second message.
var errInconsistent = errors.New("stores are inconsistent")

func newCheckCmd(configPath *string) *cobra.Command {
	var viaTemporal bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check that every collection exists in both stores",
		RunE: func(cmd *cobra.Command, args []string) error {
			if viaTemporal {
				return checkViaTemporal(cmd.Context(), *configPath, cmd.OutOrStdout())
			}
			return check(cmd.Context(), *configPath, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&viaTemporal, "temporal", false, "Run the check as a workflow on the integrity worker")
	return cmd
}

func check(ctx context.Context, configPath string, out io.Writer) error {
	e, err := openEnv(ctx, configPath, "check-"+uuid.NewString())
	if err != nil {
		return err
	}
	defer e.Close()

	report, err := bootstrap.NewChecker(e.stores, e.logger, nil, e.audit).Check(ctx)
	if err != nil {
		return err
	}
	if err := printJSON(out, report); err != nil {
		return err
	}
	if !report.OK {
		return errInconsistent
	}
	return nil
}

func checkViaTemporal(ctx context.Context, configPath string, out io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	sm, err := bootstrap.NewSecrets(cfg)
	if err != nil {
		return err
	}
	c, err := bootstrap.DialTemporal(ctx, cfg, sm, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	result, err := temporalmod.RunIntegrityCheck(ctx, c, cfg.Temporal.TaskQueue, temporalmod.IntegrityInput{})
	if err != nil {
		return err
	}
	if err := printJSON(out, result); err != nil {
		return err
	}
	if !result.OK {
		return errInconsistent
	}
	return nil
}

func newCollectionsCmd(configPath *string) *cobra.Command {
	collectionsCmd := &cobra.Command{
		Use:     "collections",
		Aliases: []string{"coll"},
		Short:   "Manage collections",
	}

	var (
		dims int
		kind string
	)
	createCmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCoordinator(cmd.Context(), *configPath, func(ctx context.Context, c *coordinator.Coordinator) error {
				coll, err := c.CreateCollection(ctx, args[0], dims, store.IndexKind(kind))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), coll)
			})
		},
	}
	createCmd.Flags().IntVar(&dims, "dimensions", 0, "Vector dimensionality")
	createCmd.Flags().StringVar(&kind, "index-kind", string(store.DefaultIndexKind), "Index kind (flat, ivf_flat, ivf_sq8, ivf_pq, hnsw)")
	_ = createCmd.MarkFlagRequired("dimensions")

	deleteCmd := &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a collection from both stores",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCoordinator(cmd.Context(), *configPath, func(ctx context.Context, c *coordinator.Coordinator) error {
				res, err := c.DeleteCollection(ctx, args[0])
				if res != nil {
					if perr := printJSON(cmd.OutOrStdout(), res); perr != nil && err == nil {
						err = perr
					}
				}
				return err
			})
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List collections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCoordinator(cmd.Context(), *configPath, func(ctx context.Context, c *coordinator.Coordinator) error {
				colls, err := c.ListCollections(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), colls)
			})
		},
	}

	describeCmd := &cobra.Command{
		Use:   "describe NAME",
		Short: "Show one collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCoordinator(cmd.Context(), *configPath, func(ctx context.Context, c *coordinator.Coordinator) error {
				coll, err := c.DescribeCollection(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), coll)
			})
		},
	}

	collectionsCmd.AddCommand(createCmd, deleteCmd, listCmd, describeCmd)
	return collectionsCmd
}

func withCoordinator(ctx context.Context, configPath string, fn func(context.Context, *coordinator.Coordinator) error) error {
	e, err := openEnv(ctx, configPath, "cli-"+uuid.NewString())
	if err != nil {
		return err
	}
	defer e.Close()
	return fn(ctx, bootstrap.NewCoordinator(e.cfg, e.stores, e.logger, nil, e.audit))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
