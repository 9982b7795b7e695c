package main

import (
	"fmt"
	"time"

	"github.com/gogotex/gogotex/backend/go-datastore/internal/archive"
	"github.com/gogotex/gogotex/backend/go-datastore/internal/storage"
	"github.com/spf13/cobra"
)

func newExportCommand(rootOpts *rootOptions) *cobra.Command {
	var linkTTL time.Duration
	cmd := &cobra.Command{
		Use:   "export <collection>",
		Short: "Export a collection to object storage as NDJSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			objects, err := storage.NewMinIOStorage(ctx, rootOpts.cfg.MinIO)
			if err != nil {
				return err
			}
			mod, err := rootOpts.connect(ctx)
			if err != nil {
				return err
			}
			defer mod.Shutdown(ctx)

			handle, err := mod.Handle()
			if err != nil {
				return err
			}
			all, err := collections(handle)
			if err != nil {
				return err
			}
			c, err := lookup(all, args[0])
			if err != nil {
				return err
			}

			key := archive.ObjectKey(args[0], time.Now())
			n, err := c.export(ctx, objects, key)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d documents to %s/%s\n", n, objects.Bucket(), key)
			if linkTTL > 0 {
				link, err := objects.GetPresignedURL(ctx, key, linkTTL)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), link)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&linkTTL, "link-ttl", 0, "also print a presigned download link valid this long")
	return cmd
}

func newImportCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <collection> <object-key>",
		Short: "Upsert the documents of an NDJSON export into a collection",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			objects, err := storage.NewMinIOStorage(ctx, rootOpts.cfg.MinIO)
			if err != nil {
				return err
			}
			mod, err := rootOpts.connect(ctx)
			if err != nil {
				return err
			}
			defer mod.Shutdown(ctx)

			handle, err := mod.Handle()
			if err != nil {
				return err
			}
			all, err := collections(handle)
			if err != nil {
				return err
			}
			c, err := lookup(all, args[0])
			if err != nil {
				return err
			}
			n, err := c.restore(ctx, objects, args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d documents into %s\n", n, args[0])
			return nil
		},
	}
}
