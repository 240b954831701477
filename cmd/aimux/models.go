package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/leofalp/aimux/providers/ai"
)

// refresher is implemented by adapters that can rediscover their catalog on
// demand.
type refresher interface {
	Refresh(ctx context.Context) ([]ai.ModelInfo, error)
}

func modelsCmd() *cobra.Command {
	var (
		refresh bool
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "models [provider...]",
		Short: "List the models of the configured providers",
		Long: `List the selectable models of every provider, or of the named ones.

Cached catalogs are used when fresh. --refresh queries the vendors and asks
for a credential when a provider has none.

Examples:
  aimux models
  aimux models openai --refresh
  aimux models --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys := args
			if len(keys) == 0 {
				keys = mux.Keys()
			}

			var all []ai.ModelInfo
			for _, key := range keys {
				models, err := listModels(cmd.Context(), key, refresh)
				if err != nil {
					if len(args) > 0 {
						return err
					}
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s: %v\n", key, err)
					continue
				}
				all = append(all, models...)
			}

			if asJSON {
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				return encoder.Encode(all)
			}
			return printModels(cmd.OutOrStdout(), all)
		},
	}

	cmd.Flags().BoolVar(&refresh, "refresh", false, "query the vendors instead of the cache")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func listModels(ctx context.Context, key string, refresh bool) ([]ai.ModelInfo, error) {
	provider, err := mux.Provider(ctx, key)
	if err != nil {
		return nil, err
	}
	if refresh {
		if r, ok := provider.(refresher); ok {
			return r.Refresh(ctx)
		}
	}
	return provider.ListModels(ctx, ai.ListOptions{Silent: !refresh})
}

func printModels(out io.Writer, models []ai.ModelInfo) error {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "PROVIDER\tMODEL\tNAME\tCONTEXT\tOUTPUT\tTOOLS\tIMAGES\tDEFAULT")
	for _, model := range models {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			model.Provider, model.ID, model.Name,
			model.MaxInputTokens, model.MaxOutputTokens,
			yesNo(model.Capabilities.ToolCalling),
			yesNo(model.Capabilities.ImageInput),
			mark(model.IsDefault),
		)
	}
	return writer.Flush()
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

func mark(value bool) string {
	if value {
		return "*"
	}
	return ""
}
