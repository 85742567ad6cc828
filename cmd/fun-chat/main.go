package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/afedziukovich/fun-chat/internal/boot"
	"github.com/afedziukovich/fun-chat/internal/client"
	"github.com/afedziukovich/fun-chat/internal/store"
	"github.com/afedziukovich/fun-chat/internal/transport"
	"github.com/afedziukovich/fun-chat/pkg/protocol"
)

func main() {
	var (
		serverURL string
		login     string
		password  string
	)

	rootCmd := &cobra.Command{
		Use:   "fun-chat",
		Short: "fun-chat terminal client",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := boot.Load(cmd.Context())
			if err != nil {
				return err
			}
			if level, err := zerolog.ParseLevel(config.LogLevel); err == nil {
				zerolog.SetGlobalLevel(level)
			}
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
			if serverURL == "" {
				serverURL = config.ServerURL
			}
			if login == "" {
				return fmt.Errorf("login is required, use --login")
			}

			return run(serverURL, login, password, config)
		},
	}
	rootCmd.Flags().StringVar(&serverURL, "server", "", "server websocket URL (overrides FUN_CHAT_SERVER_URL)")
	rootCmd.Flags().StringVar(&login, "login", "", "login name")
	rootCmd.Flags().StringVar(&password, "password", "", "password")

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("client failed")
	}
}

func run(serverURL, login, password string, config boot.Config) error {
	tr := transport.New(serverURL,
		transport.WithReconnectDelay(config.ReconnectDelay),
		transport.WithMaxReconnectAttempts(config.MaxReconnectAttempts),
	)
	st := store.New()
	c := client.New(tr, st)
	c.Start()
	defer c.Close()
	defer tr.Close()

	printEvents(c, st)

	if err := tr.Connect(context.Background()); err != nil {
		return err
	}
	if err := c.Login(login, password, func(env protocol.Envelope) {
		if env.Type == protocol.EventError {
			var p protocol.ErrorPayload
			_ = json.Unmarshal(env.Payload, &p)
			fmt.Printf("login failed: %s\n", p.Error)
		}
	}); err != nil {
		return err
	}

	fmt.Println("Commands: /users /open <peer> /edit <id> <text> /delete <id> /read <id> /ack /logout /quit")
	fmt.Println("Plain text is sent to the open conversation.")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			break
		}
		if err := execute(c, st, line); err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
	return scanner.Err()
}

func execute(c *client.Client, st *store.Store, line string) error {
	if !strings.HasPrefix(line, "/") {
		peer := st.Snapshot().ActivePeer
		if peer == "" {
			return fmt.Errorf("no open conversation, use /open <peer>")
		}
		return c.SendMessage(peer, line)
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/users":
		for _, u := range st.Snapshot().Users {
			presence := "offline"
			if u.IsLogined {
				presence = "online"
			}
			fmt.Printf("  %s (%s)\n", u.Login, presence)
		}
		return nil
	case "/open":
		if len(fields) != 2 {
			return fmt.Errorf("usage: /open <peer>")
		}
		return c.OpenConversation(fields[1])
	case "/edit":
		if len(fields) < 3 {
			return fmt.Errorf("usage: /edit <id> <text>")
		}
		return c.EditMessage(fields[1], strings.Join(fields[2:], " "))
	case "/delete":
		if len(fields) != 2 {
			return fmt.Errorf("usage: /delete <id>")
		}
		return c.DeleteMessage(fields[1])
	case "/read":
		if len(fields) != 2 {
			return fmt.Errorf("usage: /read <id>")
		}
		return c.MarkRead(fields[1])
	case "/ack":
		st.AcknowledgeDivider(st.Snapshot().ActivePeer)
		return nil
	case "/logout":
		return c.Logout()
	default:
		return fmt.Errorf("unknown command %s", fields[0])
	}
}

// printEvents renders incoming pushes and connection changes. The open
// conversation is rendered from store snapshots on /open.
func printEvents(c *client.Client, st *store.Store) {
	c.Dispatcher().Subscribe(protocol.EventConnected, func(json.RawMessage) {
		fmt.Println("*** connected ***")
	})
	c.Dispatcher().Subscribe(protocol.EventDisconnected, func(json.RawMessage) {
		fmt.Println("*** disconnected ***")
	})
	c.Dispatcher().Subscribe(protocol.EventMsgSend, func(raw json.RawMessage) {
		var p protocol.MessagePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return
		}
		fmt.Printf("[%s -> %s] %s\n", p.Message.From, p.Message.To, p.Message.Text)
	})
	c.Dispatcher().Subscribe(protocol.EventUserLogin, func(json.RawMessage) {
		fmt.Printf("logged in as %s\n", st.Snapshot().CurrentUser)
	})
}
