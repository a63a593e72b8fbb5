package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"taskbell/internal/app"
	"taskbell/internal/digest"
	"taskbell/internal/notice"
)

// controller is the part of the app the command loop drives.
type controller interface {
	Clear(ctx context.Context, ch notice.Category) error
	SearchNow(term string)
	Navigate(query string)
	Dismiss(idOrPrefix string) error
	Digest() digest.Summary
	Status() app.Status
}

const help = `commands:
  clear task|payment   clear a notification channel
  search <term>        search the list page
  back <query>         replay a history entry, e.g. "back page=2&search=x"
  dismiss <id>         close an alert (id or unique prefix)
  digest               print unread counts now
  status               print status as JSON
  help                 show this help`

var errUnknownCommand = errors.New("unknown command")

// runCommands reads one command per line until r ends or ctx is done.
func runCommands(ctx context.Context, c controller, r io.Reader, w io.Writer) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if err := execute(ctx, c, line, w); err != nil {
				fmt.Fprintln(w, "error:", err)
			}
		}
	}
}

func execute(ctx context.Context, c controller, line string, w io.Writer) error {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(cmd) {
	case "":
		return nil
	case "help", "?":
		fmt.Fprintln(w, help)
		return nil
	case "clear":
		var ch notice.Category
		switch strings.ToLower(arg) {
		case "task", "tasks":
			ch = notice.Task
		case "payment", "payments":
			ch = notice.Payment
		default:
			return fmt.Errorf("clear: want task or payment, got %q", arg)
		}
		if err := c.Clear(ctx, ch); err != nil {
			return err
		}
		fmt.Fprintf(w, "%s cleared\n", ch)
		return nil
	case "search":
		c.SearchNow(arg)
		return nil
	case "back":
		c.Navigate(arg)
		return nil
	case "dismiss":
		if arg == "" {
			return errors.New("dismiss: id required")
		}
		return c.Dismiss(arg)
	case "digest":
		fmt.Fprintln(w, "unread:", c.Digest().String())
		return nil
	case "status":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(c.Status())
	default:
		return fmt.Errorf("%w: %q (try help)", errUnknownCommand, cmd)
	}
}
