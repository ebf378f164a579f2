package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/skysyncd/skysync/internal/config"
	"github.com/skysyncd/skysync/internal/drivesdk"
	"github.com/skysyncd/skysync/internal/sync"
)

func init() {
	rootCmd.AddCommand(newLoginCmd())
}

func newLoginCmd() *cobra.Command {
	var serverURL string
	var dataDir string
	var email string
	var password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to a drive server and save credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			reader := bufio.NewReader(os.Stdin)
			if email == "" {
				fmt.Print("email: ")
				line, err := reader.ReadString('\n')
				if err != nil {
					return err
				}
				email = strings.TrimSpace(line)
			}
			if password == "" {
				fmt.Print("password: ")
				line, err := reader.ReadString('\n')
				if err != nil {
					return err
				}
				password = strings.TrimSpace(line)
			}

			deviceID, err := sync.DeviceID(dataDir)
			if err != nil {
				return err
			}
			sdk := drivesdk.New(serverURL, deviceID)
			defer sdk.Close()

			if err := sdk.Ping(cmd.Context()); err != nil {
				return fmt.Errorf("server unreachable: %w", err)
			}

			params := &drivesdk.SignInParams{Email: email, Password: password}
			tokens, err := sdk.SignIn(cmd.Context(), params)
			if drivesdk.IsCode(err, drivesdk.CodeCaptchaRequired) {
				captcha, err := sdk.GetCaptcha(cmd.Context())
				if err != nil {
					return fmt.Errorf("fetch captcha: %w", err)
				}
				fmt.Printf("captcha required, open this image data in a browser:\n%s\n", captcha.Image)
				fmt.Print("captcha: ")
				line, err := reader.ReadString('\n')
				if err != nil {
					return err
				}
				params.Captcha = strings.TrimSpace(line)
				params.Ticket = captcha.Ticket
				tokens, err = sdk.SignIn(cmd.Context(), params)
				if err != nil {
					return err
				}
			} else if err != nil {
				return err
			}

			cfg := &config.Config{
				DataDir:      dataDir,
				ServerURL:    serverURL,
				Email:        email,
				RefreshToken: tokens.RefreshToken,
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			configPath := cmd.Flag("config").Value.String()
			if err := cfg.Save(configPath); err != nil {
				return err
			}

			fmt.Printf("%s signed in as %s\n", green("OK"), cyan(email))
			fmt.Printf("config saved to %s\n", configPath)
			return nil
		},
	}

	cmd.Flags().SortFlags = false
	cmd.Flags().StringVarP(&serverURL, "server", "s", "", "drive server url")
	cmd.Flags().StringVarP(&dataDir, "datadir", "d", config.DefaultDataDir, "data directory")
	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password (prompted if omitted)")
	cmd.MarkFlagRequired("server")

	return cmd
}
