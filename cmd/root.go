package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/duetchat/duet/pkg/config"
	"github.com/duetchat/duet/pkg/headless"
	"github.com/duetchat/duet/pkg/logger"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "duet",
	Short: "Streaming chat client for the duet backend",
	Long:  `Sends a message to the duet chat backend and streams the assistant's reply, including partner drafts and tool activity.`,
	Run: func(cmd *cobra.Command, args []string) {
		prompt := viper.GetString("prompt")
		if prompt == "" {
			_ = cmd.Help()
			return
		}

		var sessionID *uuid.UUID
		if raw := viper.GetString("session"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				fmt.Fprintf(os.Stderr, "invalid session id %q: %v\n", raw, err)
				os.Exit(1)
			}
			sessionID = &id
		}

		runner, err := headless.NewRunner()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error initializing: %v\n", err)
			os.Exit(1)
		}

		if err := runner.Run(context.Background(), prompt, sessionID); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.duet/settings.yaml)")
	rootCmd.Flags().StringP("prompt", "p", "", "message to send")
	rootCmd.Flags().StringP("session", "s", "", "session id to continue (new session when omitted)")

	_ = viper.BindPFlag("prompt", rootCmd.Flags().Lookup("prompt"))
	_ = viper.BindPFlag("session", rootCmd.Flags().Lookup("session"))
}

func initConfig() {
	if _, err := config.Load(cfgFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
}
