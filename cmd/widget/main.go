// Command widget is a terminal client for a deployed chatbot. It keeps the
// same session rules as the embedded web widget, persisting the session id
// between runs.
//
// Usage:
//
//	widget --gateway http://localhost:8080 --chatbot cb_demo01
//
// Lines are sent as chat messages. /close ends the conversation (asking for a
// rating when there was one), /rate N and /skip answer that prompt, /quit exits.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"golang.org/x/term"

	"github.com/rkohli77/chatbot/internal/util"
	"github.com/rkohli77/chatbot/internal/widget"
)

type CLI struct {
	Gateway       string        `help:"Gateway base URL." default:"http://localhost:8080" env:"WIDGET_GATEWAY_URL"`
	Chatbot       string        `required:"" help:"Chatbot id." env:"WIDGET_CHATBOT_ID"`
	State         string        `help:"Session state file. Defaults to the user config dir." type:"path"`
	Timeout       time.Duration `help:"Inactivity timeout after which a new session starts." default:"30m" env:"SESSION_INACTIVITY_TIMEOUT"`
	CheckInterval time.Duration `name:"check-interval" help:"How often to check for inactivity." default:"60s" env:"SESSION_CHECK_INTERVAL"`
	LogLevel      string        `name:"log-level" help:"Log level (debug, info, warn, error)." default:"warn"`
}

func (c *CLI) Run() error {
	util.Init("development", c.LogLevel, "console")

	statePath := c.State
	if statePath == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("failed to locate config dir: %w", err)
		}
		statePath = filepath.Join(dir, "chatbot-widget", "state.json")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	transport := widget.NewHTTPTransport(c.Gateway, &http.Client{Timeout: 90 * time.Second})
	machine := widget.NewMachine(c.Chatbot, transport, widget.NewFileStorage(statePath), c.Timeout)

	out := os.Stdout
	checker := widget.NewChecker(machine, c.CheckInterval, func() {
		fmt.Fprintf(out, "\n%s\n", widget.ExpiryNotice)
	})
	go checker.Run(ctx)

	welcome, err := machine.Open(ctx)
	if err != nil {
		return err
	}
	if welcome != "" {
		fmt.Fprintf(out, "bot> %s\n", welcome)
	}

	return repl(ctx, machine, os.Stdin, out, isTerminal(os.Stdin))
}

func repl(ctx context.Context, m *widget.Machine, in io.Reader, out io.Writer, interactive bool) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		if interactive {
			fmt.Fprint(out, "you> ")
		}

		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}
		if line == "" {
			continue
		}

		switch {
		case line == "/quit":
			return nil
		case line == "/close":
			if m.Close() == widget.RatingPending {
				fmt.Fprintln(out, "bot> How was this conversation? Reply /rate 1-5 or /skip.")
			} else {
				fmt.Fprintln(out, "bot> Conversation closed.")
			}
		case line == "/skip":
			report(out, m.DismissRating(ctx))
		case strings.HasPrefix(line, "/rate"):
			rating, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "/rate")))
			if err != nil {
				fmt.Fprintln(out, "usage: /rate 1-5")
				continue
			}
			report(out, m.Rate(ctx, rating))
		default:
			if m.State() == widget.Expired || m.State() == widget.NoSession {
				if welcome, err := m.Open(ctx); err == nil && welcome != "" {
					fmt.Fprintf(out, "bot> %s\n", welcome)
				}
			}
			reply, err := m.Send(ctx, line)
			var limited *widget.RateLimitedError
			switch {
			case errors.As(err, &limited):
				fmt.Fprintf(out, "bot> Too many messages, try again in %s.\n", limited.RetryAfter)
			case err != nil:
				fmt.Fprintf(out, "error: %v\n", err)
			default:
				fmt.Fprintf(out, "bot> %s\n", reply)
			}
		}
	}
}

func report(out io.Writer, err error) {
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		return
	}
	fmt.Fprintln(out, "bot> Thanks for your feedback!")
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("widget"),
		kong.Description("Terminal chat widget for a deployed chatbot"),
		kong.UsageOnError(),
	)
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
