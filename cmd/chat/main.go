// Package main is the chatsync terminal client entrypoint.
package main

import (
	"bufio"
	"context"
	"os"
	"strings"

	"github.com/gookit/color"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"chatsync/internal/client"
	"chatsync/internal/config"
	"chatsync/internal/feed"
	"chatsync/internal/session"
	"chatsync/internal/transport"
	"chatsync/internal/transport/gws"
	"chatsync/internal/transport/ws"
	"chatsync/pkg/protocol"
)

var (
	logger logrus.FieldLogger = logrus.StandardLogger()

	name string

	rootCmd = &cobra.Command{
		Use:   "chat",
		Short: "Terminal client for the toy chat server.",
		RunE:  run,
	}
)

func init() {
	rootCmd.Flags().StringVarP(&name, "name", "n", "", "display name to join with")
	_ = rootCmd.MarkFlagRequired("name")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.WithError(err).Fatal("chat client failed")
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(lvl)
	}

	ctx := cmd.Context()
	conn, err := dial(ctx, cfg)
	if err != nil {
		return err
	}

	opts := []client.Option{client.WithLogger(logger)}
	if cfg.BroadcastConfirm {
		opts = append(opts, client.WithBroadcastConfirm())
	}
	engine := client.New(conn, opts...)
	engine.Start(ctx)
	defer engine.Close()

	if err := engine.Join(ctx, name); err != nil {
		return errors.Wrap(err, "join failed")
	}
	state := engine.Session()
	if state.Status == session.StatusRejected {
		color.Error.Printf("join rejected: %s\n", state.Reject)
		return nil
	}

	initial := engine.Feed()
	color.Success.Printf("joined as %s (%d online, %d messages)\n",
		state.Self.Name, len(initial.Roster)+1, len(initial.Messages))
	printHistory(initial, state.Self.ID)

	go render(engine, initial, state.Self.ID)

	color.Comment.Println("type a message and press enter (/quit to exit)")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case <-engine.Done():
			color.Error.Println("connection lost")
			return engine.Err()
		default:
		}

		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if text == "/quit" {
			return nil
		}
		if err := engine.Post(ctx, text); err != nil {
			color.Warn.Printf("not sent: %v\n", err)
		}
	}
	return scanner.Err()
}

func dial(ctx context.Context, cfg config.Config) (transport.Conn, error) {
	switch cfg.Transport {
	case "ws":
		return ws.Dial(ctx, cfg.ServerURL)
	case "gws":
		return gws.Dial(ctx, cfg.ServerURL)
	default:
		return nil, errors.Errorf("unknown transport %q", cfg.Transport)
	}
}

// printHistory prints the seeded feed, oldest first.
func printHistory(fd feed.Feed, selfID string) {
	for i := len(fd.Messages) - 1; i >= 0; i-- {
		printMessage(fd.Messages[i], selfID)
	}
}

// render re-reads engine state on every update signal and prints what is new
// since the last read.
func render(engine *client.Engine, initial feed.Feed, selfID string) {
	seen := make(map[string]bool, len(initial.Messages))
	for _, m := range initial.Messages {
		seen[m.ID] = true
	}
	online := make(map[string]string, len(initial.Roster))
	for _, u := range initial.Roster {
		online[u.ID] = u.Name
	}
	var lastPostErr protocol.ErrorCode

	for {
		select {
		case <-engine.Updates():
		case <-engine.Done():
			return
		}
		fd := engine.Feed()

		for i := len(fd.Messages) - 1; i >= 0; i-- {
			m := fd.Messages[i]
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			printMessage(m, selfID)
		}

		current := make(map[string]string, len(fd.Roster))
		for _, u := range fd.Roster {
			current[u.ID] = u.Name
			if _, ok := online[u.ID]; !ok {
				color.Info.Printf("*** %s joined ***\n", u.Name)
			}
		}
		for id, name := range online {
			if _, ok := current[id]; !ok {
				color.Info.Printf("*** %s left ***\n", name)
			}
		}
		online = current

		if fd.PostError != "" && fd.PostError != lastPostErr {
			color.Warn.Printf("post rejected: %s\n", fd.PostError)
		}
		lastPostErr = fd.PostError
	}
}

func printMessage(m protocol.Message, selfID string) {
	author := color.Cyan.Sprint(m.User.Name)
	if m.User.ID == selfID {
		author = color.Green.Sprint(m.User.Name)
	}
	color.Printf("%s %s: %s\n", color.Gray.Sprint(m.CreatedAt.Local().Format("15:04:05")), author, m.Body)
}
