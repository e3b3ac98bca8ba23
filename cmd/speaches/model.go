package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/speaches/internal/registry"
)

func newModelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Manage the local model cache",
	}

	cmd.AddCommand(newModelListCmd())
	cmd.AddCommand(newModelDownloadCmd())
	cmd.AddCommand(newModelRemoveCmd())
	return cmd
}

func openRegistry() (*registry.Registry, error) {
	return registry.New(registry.Options{
		CachePath: activeCfg.Hub.CachePath,
		AliasPath: activeCfg.ModelAliasesPath,
		Offline:   activeCfg.Hub.Offline,
	})
}

func newModelListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed models and their families",
		RunE: func(_ *cobra.Command, _ []string) error {
			reg, err := openRegistry()
			if err != nil {
				return err
			}
			models, err := reg.ListLocal()
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "MODEL\tFAMILY\tCREATED")
			for _, m := range models {
				created := time.Unix(m.Created, 0).Format(time.DateOnly)
				fmt.Fprintf(tw, "%s\t%s\t%s\n", m.ID, reg.Classify(m.ID), created)
			}
			return tw.Flush()
		},
	}
}

func newModelDownloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "download <model>",
		Short: "Download a model into the local cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := openRegistry()
			if err != nil {
				return err
			}
			id := reg.Resolve(args[0])
			if err := reg.Download(cmd.Context(), id); err != nil {
				return fmt.Errorf("download %s: %w", id, err)
			}
			fmt.Printf("downloaded %s\n", id)
			return nil
		},
	}
}

func newModelRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <model>",
		Short: "Remove a model from the local cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			reg, err := openRegistry()
			if err != nil {
				return err
			}
			id := reg.Resolve(args[0])
			if err := reg.Remove(id); err != nil {
				return fmt.Errorf("remove %s: %w", id, err)
			}
			fmt.Printf("removed %s\n", id)
			return nil
		},
	}
}
