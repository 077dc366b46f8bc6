package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/gogagureshidze/goga-network-sub001/internal/client"
	"github.com/gogagureshidze/goga-network-sub001/internal/logging"
	"github.com/gogagureshidze/goga-network-sub001/internal/security"
)

func main() {
	app := &cli.App{
		Name:  "dmclient",
		Usage: "talk to a dm router from the terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "server", Value: "http://localhost:8000", EnvVars: []string{"DM_SERVER"}},
			&cli.StringFlag{Name: "token", EnvVars: []string{"DM_TOKEN"}},
			&cli.StringFlag{Name: "log-level", Value: "warn"},
		},
		Commands: []*cli.Command{
			tokenCommand(),
			historyCommand(),
			chatCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// tokenCommand mints a token the way the identity provider would; for local use.
func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "sign a development token for a user",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "secret", Required: true, EnvVars: []string{"JWT_SECRET"}},
			&cli.StringFlag{Name: "user", Required: true},
			&cli.DurationFlag{Name: "ttl", Value: 24 * time.Hour},
		},
		Action: func(c *cli.Context) error {
			tok, err := security.NewTokenService(c.String("secret"), c.Duration("ttl")).CreateForUser(c.String("user"))
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, tok)
			return nil
		},
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "print the conversation with a user",
		ArgsUsage: "<user>",
		Action: func(c *cli.Context) error {
			peer := c.Args().First()
			if peer == "" {
				return cli.Exit("history: missing user", 2)
			}
			h := client.NewHistoryClient(c.String("server"), c.String("token"), nil)
			msgs, err := h.History(c.Context, peer)
			if err != nil {
				return err
			}
			for _, m := range msgs {
				fmt.Fprintf(c.App.Writer, "%s  %s -> %s: %s\n", m.CreatedAt.Local().Format(time.Kitchen), m.SenderID, m.ReceiverID, m.Text)
			}
			return nil
		},
	}
}

func chatCommand() *cli.Command {
	return &cli.Command{
		Name:      "chat",
		Usage:     "open a conversation; each stdin line is sent as a message (/media <url> [type] [caption] attaches media)",
		ArgsUsage: "<user>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "as", Required: true, Usage: "your user id (must match the token)"},
			&cli.DurationFlag{Name: "confirm-timeout", Value: 10 * time.Second},
		},
		Action: runChat,
	}
}

func runChat(c *cli.Context) error {
	peer := c.Args().First()
	if peer == "" {
		return cli.Exit("chat: missing user", 2)
	}
	logger, err := logging.NewLogger(c.String("log-level"))
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	self, token, server := c.String("as"), c.String("token"), c.String("server")
	conn, err := client.Dial(ctx, wsURL(server), token)
	if err != nil {
		return err
	}
	regCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = conn.Register(regCtx, self)
	cancel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("register: %w", err)
	}
	logger.Debug("registered", zap.String("conn", conn.ID()))

	chat := client.NewChat(conn, self, peer)
	if err := chat.Open(ctx, client.NewHistoryClient(server, token, nil)); err != nil {
		conn.Close()
		return fmt.Errorf("load history: %w", err)
	}
	out := &screen{w: c.App.Writer}
	out.render(chat.Timeline())

	go func() {
		err := conn.Run(ctx, func(ev client.Event) {
			if ev.Err != nil && ev.Err.ClientRef == "" {
				out.printf("! %s\n", ev.Err.Message)
			}
			if chat.Handle(ev) {
				out.render(chat.Timeline())
			}
		})
		if err != nil && ctx.Err() == nil {
			logger.Warn("connection lost", zap.Error(err))
		}
		stop()
	}()

	go func() {
		t := time.NewTicker(time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if len(chat.Timeline().ExpireUnconfirmed(c.Duration("confirm-timeout"))) > 0 {
					out.render(chat.Timeline())
				}
			}
		}
	}()

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(c.App.Reader)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return conn.Close()
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if _, err := chat.SendOutgoing(parseLine(line)); err != nil {
				logger.Warn("send", zap.Error(err))
			}
			out.render(chat.Timeline())
		}
	}
}

// screen serializes output from the reader, ticker and input goroutines.
type screen struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *screen) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, format, args...)
}

func (s *screen) render(t *client.Timeline) {
	msgs := t.Messages()
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.w, "----")
	for _, e := range msgs {
		mark := ""
		switch e.Status {
		case client.StatusPending:
			mark = " (sending)"
		case client.StatusFailed:
			mark = " (not delivered)"
		}
		body := e.Text
		if e.MediaURL != nil {
			body = strings.TrimSpace(body + " [" + *e.MediaURL + "]")
		}
		fmt.Fprintf(s.w, "%s  %s: %s%s\n", e.CreatedAt.Local().Format(time.Kitchen), e.SenderID, body, mark)
	}
}

// parseLine turns "/media <url> [type] [caption]" into a media send; anything
// else is plain text.
func parseLine(line string) client.Outgoing {
	rest, ok := strings.CutPrefix(line, "/media ")
	if !ok {
		return client.Outgoing{Text: line}
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return client.Outgoing{Text: line}
	}
	out := client.Outgoing{MediaURL: fields[0]}
	if len(fields) > 1 {
		out.MediaType = fields[1]
		out.Text = strings.Join(fields[2:], " ")
	}
	return out
}

func wsURL(server string) string {
	s := strings.TrimRight(server, "/")
	switch {
	case strings.HasPrefix(s, "https://"):
		s = "wss://" + strings.TrimPrefix(s, "https://")
	case strings.HasPrefix(s, "http://"):
		s = "ws://" + strings.TrimPrefix(s, "http://")
	}
	return s + "/ws"
}
