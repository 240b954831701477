package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the model catalog cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "clear [provider...]",
		Short: "Drop cached catalogs so the next listing rediscovers them",
		RunE: func(cmd *cobra.Command, args []string) error {
			cache := mux.Cache()
			if len(args) == 0 {
				cleared := cache.ClearAll(cmd.Context())
				fmt.Fprintf(cmd.OutOrStdout(), "cleared %d cached catalogs\n", cleared)
				return nil
			}
			for _, key := range args {
				cache.InvalidateCache(cmd.Context(), key)
				fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", key)
			}
			return nil
		},
	})
	return cmd
}
