package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "novelarr",
	Short: "Download novels from supported providers.",
	Long: `Download novels from supported providers.

Provide a configuration file using one of the following methods:
1. Use the --config <path> or -c <path> flag.
2. Place a config.yaml file in the default user configuration directory (e.g., ~/.config/novelarr/).
3. Place a config.yaml file a folder inside your home directory (e.g., ~/.novelarr/).
4. Place a config.yaml file in the directory of the binary.

For more information and examples, visit https://github.com/novelarr/novelarr`,
}

func init() {
	initRootFlags()
	initLoginFlags()
	initLogoutFlags()
	initCategoriesFlags()
	initSearchFlags()
	initInfoFlags()
	initDownloadFlags()

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(categoriesCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(downloadCmd)
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
