package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/shelf/pkg/store"
	"github.com/mesh-intelligence/shelf/pkg/types"
)

// withStore loads settings, attaches the store, runs fn and detaches.
func withStore(cmd *cobra.Command, flags *rootFlags, fn func(ctx context.Context, s types.Store) error) error {
	cfg, err := loadSettings(flags)
	if err != nil {
		return userError("%v", err)
	}
	s, err := store.Open(cfg.store)
	if err != nil {
		return sysError("%v", err)
	}
	err = fn(cmd.Context(), s)
	if derr := s.Detach(); derr != nil && err == nil {
		err = sysError("detach: %v", derr)
	}
	return err
}

// storeError classifies a store error for the exit code.
func storeError(err error) error {
	switch {
	case errors.Is(err, types.ErrNotFound),
		errors.Is(err, types.ErrInvalidID),
		errors.Is(err, types.ErrInvalidFilter),
		errors.Is(err, types.ErrCollectionName):
		return userError("%v", err)
	default:
		return sysError("%v", err)
	}
}

func newCollectionsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "collections",
		Short: "List the collections of the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, flags, func(ctx context.Context, s types.Store) error {
				names, err := s.Collections(ctx)
				if err != nil {
					return storeError(err)
				}
				if flags.jsonMode {
					if names == nil {
						names = []string{}
					}
					return printJSON(cmd.OutOrStdout(), names)
				}
				for _, name := range names {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			})
		},
	}
}

func newGetCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "get <collection> <id>",
		Short:   "Print one document",
		Example: "  shelf get pot 0190f6c2-8d1e-7c3a-9b1a-2f4e5d6c7b8a",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, flags, func(ctx context.Context, s types.Store) error {
				c, err := s.Collection(args[0])
				if err != nil {
					return storeError(err)
				}
				doc, err := c.Get(ctx, args[1])
				if err != nil {
					return storeError(fmt.Errorf("%s/%s: %w", args[0], args[1], err))
				}
				if flags.jsonMode {
					return printJSON(cmd.OutOrStdout(), doc)
				}
				printDocument(cmd.OutOrStdout(), doc)
				return nil
			})
		},
	}
}

func newFindCmd(flags *rootFlags) *cobra.Command {
	var opts types.FindOptions
	cmd := &cobra.Command{
		Use:   "find <collection> [key=value...]",
		Short: "Print the documents matching a filter",
		Example: "  shelf find flower type=Rose\n" +
			"  shelf find pot name=LegacyPot1|LegacyPot2 --limit 10",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := parseFilter(args[1:])
			if err != nil {
				return userError("%v", err)
			}
			return withStore(cmd, flags, func(ctx context.Context, s types.Store) error {
				c, err := s.Collection(args[0])
				if err != nil {
					return storeError(err)
				}
				docs, err := c.Find(ctx, filter, opts)
				if err != nil {
					return storeError(err)
				}
				if flags.jsonMode {
					if docs == nil {
						docs = []types.Document{}
					}
					return printJSON(cmd.OutOrStdout(), docs)
				}
				for _, doc := range docs {
					printDocument(cmd.OutOrStdout(), doc)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum documents to print (0: all)")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "documents to skip")
	cmd.Flags().StringVar(&opts.OrderBy, "order-by", "", "field to sort by")
	cmd.Flags().BoolVar(&opts.Desc, "desc", false, "sort descending")
	return cmd
}

func newCountCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "count <collection> [key=value...]",
		Short: "Count the documents matching a filter",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := parseFilter(args[1:])
			if err != nil {
				return userError("%v", err)
			}
			return withStore(cmd, flags, func(ctx context.Context, s types.Store) error {
				c, err := s.Collection(args[0])
				if err != nil {
					return storeError(err)
				}
				n, err := c.Count(ctx, filter)
				if err != nil {
					return storeError(err)
				}
				if flags.jsonMode {
					return printJSON(cmd.OutOrStdout(), map[string]int{"count": n})
				}
				fmt.Fprintln(cmd.OutOrStdout(), n)
				return nil
			})
		},
	}
}

func newDeleteCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <collection> <id>",
		Short: "Delete one document",
		Long: "Delete removes a document. References to it held by other documents\n" +
			"are left in place and skipped when relations are initialized.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, flags, func(ctx context.Context, s types.Store) error {
				c, err := s.Collection(args[0])
				if err != nil {
					return storeError(err)
				}
				if err := c.Delete(ctx, args[1]); err != nil {
					return storeError(fmt.Errorf("%s/%s: %w", args[0], args[1], err))
				}
				if flags.jsonMode {
					return printJSON(cmd.OutOrStdout(), map[string]string{"deleted": args[1]})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s/%s\n", args[0], args[1])
				return nil
			})
		},
	}
}
