package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"novelarr/internal/domain"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// resolveAccount prefers the --account flag, then the account
// configured for the provider.
func resolveAccount(cfg *domain.Config, provider, flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if acct, ok := cfg.Accounts[provider]; ok && acct != nil && acct.Account != "" {
		return acct.Account, nil
	}

	return "", errors.Errorf("no account given and none configured for provider %q", provider)
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to a provider and store the credential",
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

		acct, err := resolveAccount(a.cfg.Config, prov.Name(), account)
		if err != nil {
			fmt.Println("Invalid account:", err)
			return
		}

		fmt.Print("Password: ")
		reader := bufio.NewReader(os.Stdin)
		secret, err := reader.ReadString('\n')
		if err != nil {
			fmt.Println("Failed to read password:", err)
			return
		}
		secret = strings.TrimRight(secret, "\r\n")
		if secret == "" {
			fmt.Println("Password can't be empty")
			return
		}

		cred := domain.Credential{
			Provider: prov.Name(),
			Account:  acct,
			Secret:   secret,
		}

		sess, err := prov.Login(ctx, cred)
		if err != nil {
			fmt.Printf("Failed to log in to %q: %v\n", prov.Name(), err)
			return
		}

		// only persist a credential that actually works
		if err := a.sessions.SaveCredential(cred); err != nil {
			fmt.Println("Failed to store credential:", err)
			return
		}
		if err := a.sessions.Save(sess); err != nil {
			fmt.Println("Failed to store session:", err)
			return
		}

		fmt.Printf("Logged in to %q as %q\n", prov.Name(), acct)
	},
}
