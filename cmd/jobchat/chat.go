package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/jobchat/internal/chat"
	applog "github.com/vovakirdan/jobchat/internal/log"
	"github.com/vovakirdan/jobchat/internal/proto"
)

var chatCmd = &cobra.Command{
	Use:   "chat <job-id>",
	Short: "Open the message thread of a job",
	Long: `Open the message thread of a job in the terminal.

Lines are sent as messages. Commands:
  /older             load the previous page of history
  /attach <path> [caption]  send a file
  /retry             retry the last failed send
  /quit              leave`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd.Context(), args[0], os.Stdin, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat(parent context.Context, jobID string, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	c, user, err := signIn(ctx)
	if err != nil {
		return err
	}

	view := chat.Open(c, jobID, user.ID,
		chat.WithPageSize(cfg.Client.PageSize),
		chat.WithSkew(cfg.Client.Skew),
		chat.WithRetryBackoff(chat.Backoff{Base: cfg.Client.BackoffBase, Cap: cfg.Client.BackoffCap}),
		chat.WithLogger(*applog.Component(logger, "chat")),
	)
	defer view.Close()

	remove := c.Session().OnChange(func(u *proto.User) {
		if u == nil {
			_ = view.Close()
		}
	})
	defer remove()

	term := newTerminal(view, user.ID, out)
	fmt.Fprintf(out, "Chatting in job %s as %s. /quit to leave.\n", jobID, user.DisplayName)

	go func() {
		defer cancel()
		term.readLoop(ctx)
	}()

	term.writeLoop(ctx, in)
	return nil
}

type terminal struct {
	view   *chat.View
	selfID string

	mu      sync.Mutex
	out     io.Writer
	printed map[string]struct{}
	status  chat.Status
	failed  *chat.Outgoing
	// failedPath is the file of the failed send, reopened on retry.
	failedPath string
}

func newTerminal(view *chat.View, selfID string, out io.Writer) *terminal {
	return &terminal{
		view:    view,
		selfID:  selfID,
		out:     out,
		printed: make(map[string]struct{}),
		status:  chat.StatusLoading,
	}
}

func (t *terminal) readLoop(ctx context.Context) {
	changes, errs := t.view.Changes(), t.view.Errors()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				t.printf("-- conversation closed\n")
				return
			}
			t.render()
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			t.printf("! %v\n", err)
		}
	}
}

// render prints what the view holds that has not been printed yet.
func (t *terminal) render() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s := t.view.Status(); s != t.status {
		t.status = s
		if err := t.view.Err(); err != nil && s == chat.StatusDegraded {
			fmt.Fprintf(t.out, "-- %s: %v\n", s, err)
		} else {
			fmt.Fprintf(t.out, "-- %s\n", s)
		}
	}

	for m := range t.view.Messages() {
		key := m.ID
		if m.Pending {
			key = "pending:" + m.ClientToken
		}
		if _, ok := t.printed[key]; ok {
			continue
		}
		t.printed[key] = struct{}{}
		fmt.Fprintln(t.out, formatMessage(m, t.selfID))
	}
}

func formatMessage(m chat.Message, selfID string) string {
	name := m.Sender.Name
	if m.SenderID == selfID {
		name = "you"
	}
	if name == "" {
		name = m.SenderID
	}

	var b strings.Builder
	b.WriteString("[")
	b.WriteString(m.CreatedAt.Local().Format("Jan 02 15:04"))
	b.WriteString("] ")
	b.WriteString(name)
	b.WriteString(":")
	if m.Text != "" {
		b.WriteString(" ")
		b.WriteString(m.Text)
	}
	if m.AttachmentURL != "" {
		b.WriteString(" <")
		b.WriteString(m.AttachmentURL)
		b.WriteString(">")
	}
	if m.AttachmentURL == "" && m.Pending && m.AttachmentName != "" {
		b.WriteString(" [")
		b.WriteString(m.AttachmentName)
		b.WriteString("]")
	}
	if m.Pending {
		b.WriteString(" (sending)")
	}
	return b.String()
}

func (t *terminal) writeLoop(ctx context.Context, in io.Reader) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !t.handle(ctx, strings.TrimSpace(line)) {
				return
			}
		}
	}
}

// handle runs one input line and reports whether to keep reading.
func (t *terminal) handle(ctx context.Context, line string) bool {
	switch {
	case line == "":
	case line == "/quit":
		return false
	case line == "/older":
		go func() {
			n, err := t.view.LoadOlder(ctx)
			switch {
			case err != nil:
				t.printf("! load older: %v\n", err)
			case n == 0:
				t.printf("-- beginning of conversation\n")
			default:
				t.printf("-- loaded %d older messages\n", n)
			}
		}()
	case line == "/retry":
		t.mu.Lock()
		failed, path := t.failed, t.failedPath
		t.failed, t.failedPath = nil, ""
		t.mu.Unlock()
		if failed == nil {
			t.printf("-- nothing to retry\n")
			break
		}
		go t.deliver(ctx, path, func(att *chat.Attachment) (*chat.Outgoing, error) {
			return t.view.Retry(ctx, failed, att)
		})
	case strings.HasPrefix(line, "/attach "):
		path, caption, _ := strings.Cut(strings.TrimSpace(strings.TrimPrefix(line, "/attach ")), " ")
		go t.deliver(ctx, path, func(att *chat.Attachment) (*chat.Outgoing, error) {
			return t.view.Send(ctx, strings.TrimSpace(caption), att)
		})
	case strings.HasPrefix(line, "/"):
		t.printf("-- unknown command %s\n", strings.Fields(line)[0])
	default:
		go t.deliver(ctx, "", func(att *chat.Attachment) (*chat.Outgoing, error) {
			return t.view.Send(ctx, line, att)
		})
	}
	return true
}

func (t *terminal) deliver(ctx context.Context, path string, send func(*chat.Attachment) (*chat.Outgoing, error)) {
	var att *chat.Attachment
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			t.printf("! attach: %v\n", err)
			return
		}
		defer f.Close()
		att = &chat.Attachment{
			Name:        filepath.Base(path),
			ContentType: mime.TypeByExtension(filepath.Ext(path)),
			Body:        f,
		}
	}

	out, err := send(att)
	if err == nil {
		return
	}
	if out != nil && !errors.Is(err, chat.ErrClosed) {
		t.mu.Lock()
		t.failed, t.failedPath = out, path
		t.mu.Unlock()
		t.printf("! send failed: %v (/retry to try again)\n", err)
		return
	}
	if ctx.Err() == nil {
		t.printf("! send: %v\n", err)
	}
}

func (t *terminal) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}
