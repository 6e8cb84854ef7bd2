package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

const searchPageSize = 12

var searchCmd = &cobra.Command{
	Use:   "search <keyword>",
	Short: "Search for novels on a provider",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		keyword = args[0]

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

		ids, err := prov.Search(ctx, keyword, page, searchPageSize)
		if err != nil {
			fmt.Printf("Failed to search %q: %v\n", prov.Name(), err)
			return
		}

		if len(ids) == 0 {
			fmt.Printf("No results for %q\n", keyword)
			return
		}

		for _, id := range ids {
			info, err := prov.NovelInfo(ctx, id)
			if err != nil {
				a.log.Warn().Err(err).Str("novel_id", id).Msg("failed to get novel info for search result")
				fmt.Printf("%-12s ?\n", id)
				continue
			}

			fmt.Printf("%-12s %s by %s (%d words)\n", id, info.Title, info.AuthorName, info.WordCount)
			if len(info.Tags) > 0 {
				fmt.Printf("%-12s %s\n", "", strings.Join(info.Tags, ", "))
			}
		}
	},
}
