package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Log out of a provider and remove the stored credential",
	Run: func(cmd *cobra.Command, _ []string) {
		a, err := newApp()
		if err != nil {
			fmt.Println("Failed to start:", err)
			return
		}
		defer a.close()

		if err := a.sessions.Invalidate(providerName); err != nil {
			fmt.Println("Failed to remove session:", err)
			return
		}
		if err := a.sessions.DeleteCredential(providerName); err != nil {
			fmt.Println("Failed to remove credential:", err)
			return
		}

		fmt.Printf("Logged out of %q\n", providerName)
	},
}
