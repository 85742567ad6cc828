package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/afedziukovich/fun-chat/internal/boot"
	"github.com/afedziukovich/fun-chat/internal/server"
)

func main() {
	var listenAddr string

	rootCmd := &cobra.Command{
		Use:   "fun-chat-server",
		Short: "In-memory fun-chat server",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := boot.Load(cmd.Context())
			if err != nil {
				return err
			}
			if level, err := zerolog.ParseLevel(config.LogLevel); err == nil {
				zerolog.SetGlobalLevel(level)
			}
			if listenAddr == "" {
				listenAddr = config.ListenAddress
			}

			srv := server.New(listenAddr)
			if err := srv.Start(); err != nil {
				return err
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig

			log.Info().Msg("shutting down")
			srv.Stop()
			return nil
		},
	}
	rootCmd.Flags().StringVar(&listenAddr, "listen", "", "listen address (overrides FUN_CHAT_LISTEN_ADDR)")

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}
