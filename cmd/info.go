package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show details and chapter listing for a novel",
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

		info, err := prov.NovelInfo(ctx, novel)
		if err != nil {
			fmt.Printf("Failed to get novel info from %q: %v\n", prov.Name(), err)
			return
		}

		fmt.Println("Title:", info.Title)
		fmt.Println("Author:", info.AuthorName)
		fmt.Println("Words:", info.WordCount)
		if info.Finished {
			fmt.Println("Status: finished")
		} else {
			fmt.Println("Status: ongoing")
		}
		if len(info.Tags) > 0 {
			fmt.Println("Tags:", strings.Join(info.Tags, ", "))
		}
		for _, line := range info.Intro {
			fmt.Println(" ", line)
		}

		volumes, err := prov.Chapters(ctx, novel)
		if err != nil {
			fmt.Printf("Failed to get chapters for %q: %v\n", info.Title, err)
			return
		}

		fmt.Println()
		for _, vol := range volumes {
			fmt.Println(vol.Title)
			for _, ch := range vol.Chapters {
				marker := " "
				if ch.Restricted {
					marker = "*"
				}
				fmt.Printf("  %s%4d  %s\n", marker, ch.Ordinal, ch.Title)
			}
		}
	},
}
