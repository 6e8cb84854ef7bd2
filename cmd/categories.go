package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "List the catalog categories of a provider",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()

		a, err := newApp()
		if err != nil {
			fmt.Println("Failed to start:", err)
			return
		}
		defer a.close()

		prov, err := a.provider(providerName)
		if err != nil {
			fmt.Println("Invalid provider:", err)
			return
		}

		if err := a.ensureSession(ctx, prov); err != nil {
			fmt.Printf("Failed to log in to %q: %v\n", prov.Name(), err)
			return
		}

		categories, err := prov.Categories(ctx)
		if err != nil {
			fmt.Printf("Failed to list categories for %q: %v\n", prov.Name(), err)
			return
		}

		for _, c := range categories {
			fmt.Printf("%-6d %s\n", c.ID, c.Name)
		}
	},
}
