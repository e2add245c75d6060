package cmds

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/atotto/clipboard"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/ragchat/pkg/api"
	"github.com/go-go-golems/ragchat/pkg/chatclient"
	"github.com/go-go-golems/ragchat/pkg/events"
	"github.com/go-go-golems/ragchat/pkg/mdextract"
)

const chatHelp = `commands:
  /new              start a new conversation with the next message
  /list             list conversations
  /switch <id>      switch to a conversation
  /rename <title>   rename the active conversation
  /delete [id]      delete a conversation (default: the active one)
  /copy [code]      copy the last reply, or its last code block, to the clipboard
  /status           show the connection state
  /quit             leave`

func NewChatCommand(v *viper.Viper) *cobra.Command {
	var (
		convID   string
		markdown bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive streaming chat",
		Long:  "Interactive streaming chat. Lines are sent as messages; lines starting with / are commands.\n\n" + chatHelp,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			out := cmd.OutOrStdout()
			return runChat(ctx, v, cmd.InOrStdin(), out, chatOptions{
				ConversationID: convID,
				Markdown:       markdown && isTerminal(out),
			})
		},
	}
	cmd.Flags().StringVarP(&convID, "conversation", "c", "", "Conversation to open (default: a new one on first message)")
	cmd.Flags().BoolVar(&markdown, "markdown", true, "Render finished replies as markdown on a terminal")
	return cmd
}

type chatOptions struct {
	ConversationID string
	Markdown       bool
}

func runChat(ctx context.Context, v *viper.Viper, in io.Reader, out io.Writer, opts chatOptions) error {
	s, err := openSession(v, true)
	if err != nil {
		return err
	}
	notifier, err := buildNotifier(ctx, s.settings.Redis)
	if err != nil {
		return err
	}
	defer func() { _ = notifier.Close() }()

	clientOpts := []chatclient.ClientOption{chatclient.WithNotifier(notifier)}
	if m := openMirror(s.settings); m != nil {
		defer func() { _ = m.Close() }()
		clientOpts = append(clientOpts, chatclient.WithMirror(m))
	}
	client, err := chatclient.NewClient(s.api, chatclient.NewWebsocketDialer(), clientOpts...)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	if err := client.LoadConversations(ctx); err != nil {
		return errors.New(api.FriendlyMessage(err))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	printer := newTranscriptPrinter(out, opts.Markdown)
	if err := events.Handle(ctx, notifier, events.TopicTranscript, func(ev events.TranscriptChanged) {
		if ev.ConversationID != client.ActiveConversationID() {
			return
		}
		printer.Update(client.Messages())
	}); err != nil {
		return err
	}
	if err := events.Handle(ctx, notifier, events.TopicState, func(ev events.StateChanged) {
		printer.Status(ev.Label)
	}); err != nil {
		return err
	}

	if opts.ConversationID != "" {
		if err := client.Select(ctx, opts.ConversationID); err != nil {
			printer.Notice(api.FriendlyMessage(err))
		}
		printer.Update(client.Messages())
	}
	printer.Notice("type /help for commands")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				quit, err := handleChatLine(ctx, client, printer, line)
				if err != nil {
					return err
				}
				if quit {
					return nil
				}
			}
		}
	})
	return eg.Wait()
}

// handleChatLine runs one input line and reports whether the user asked to leave.
func handleChatLine(ctx context.Context, client *chatclient.Client, printer *transcriptPrinter, line string) (bool, error) {
	name, arg, isCommand := parseChatCommand(line)
	if !isCommand {
		if _, err := client.SendMessage(ctx, line); err != nil {
			printer.Notice(api.FriendlyMessage(err))
		}
		return false, nil
	}

	switch name {
	case "quit", "exit", "q":
		return true, nil
	case "help", "h", "?":
		printer.Notice(chatHelp)
	case "new":
		printer.Clear()
		if err := client.Select(ctx, ""); err != nil {
			printer.Notice(api.FriendlyMessage(err))
		}
		printer.Notice("new conversation starts with your next message")
	case "list", "ls":
		if err := client.LoadConversations(ctx); err != nil {
			printer.Notice(api.FriendlyMessage(err))
			return false, nil
		}
		printer.Conversations(client.Conversations(), client.ActiveConversationID())
	case "switch", "open":
		if arg == "" {
			printer.Notice("usage: /switch <id>")
			return false, nil
		}
		printer.Clear()
		if err := client.Select(ctx, arg); err != nil {
			printer.Notice(api.FriendlyMessage(err))
		}
		printer.Update(client.Messages())
	case "rename":
		active := client.ActiveConversationID()
		if active == "" || arg == "" {
			printer.Notice("usage: /rename <title> (needs an active conversation)")
			return false, nil
		}
		client.Rename(ctx, active, arg)
	case "delete", "rm":
		id := arg
		if id == "" {
			id = client.ActiveConversationID()
		}
		if id == "" {
			printer.Notice("usage: /delete <id>")
			return false, nil
		}
		client.Delete(ctx, id)
	case "copy":
		text, err := copyTarget(client.Messages(), arg == "code")
		if err != nil {
			printer.Notice(err.Error())
			return false, nil
		}
		if err := clipboard.WriteAll(text); err != nil {
			printer.Notice(fmt.Sprintf("clipboard: %v", err))
			return false, nil
		}
		printer.Notice("copied to clipboard")
	case "status":
		label := client.State().Label()
		if n := client.Pending(); n > 0 {
			label = fmt.Sprintf("%s, %d queued", label, n)
		}
		printer.Status(label)
	default:
		printer.Notice(fmt.Sprintf("unknown command /%s, try /help", name))
	}
	return false, nil
}

// parseChatCommand splits "/name rest of line". Lines not starting with a slash are messages.
func parseChatCommand(line string) (name, arg string, ok bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") || line == "/" {
		return "", "", false
	}
	parts := strings.SplitN(line[1:], " ", 2)
	name = strings.ToLower(parts[0])
	if len(parts) == 2 {
		arg = strings.TrimSpace(parts[1])
	}
	return name, arg, true
}

// copyTarget picks the last finished assistant reply, or its last code block.
func copyTarget(msgs []chatclient.Message, codeOnly bool) (string, error) {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Role != chatclient.RoleAssistant || m.Streaming {
			continue
		}
		if !codeOnly {
			return m.Content, nil
		}
		block, ok := mdextract.LastCodeBlock(m.Content)
		if !ok {
			return "", errors.New("the last reply has no code block")
		}
		return block.Code, nil
	}
	return "", errors.New("no finished reply to copy")
}

// transcriptPrinter writes transcript changes to a line oriented terminal. Streaming replies are
// printed as their fragments arrive and, with markdown on, rendered once more when finished.
// Update is idempotent, so it can be called from notifications and directly.
type transcriptPrinter struct {
	mu       sync.Mutex
	out      io.Writer
	markdown bool

	printed map[string]int
	done    map[string]bool
	open    string
	status  string
}

func newTranscriptPrinter(out io.Writer, markdown bool) *transcriptPrinter {
	return &transcriptPrinter{out: out, markdown: markdown, printed: map[string]int{}, done: map[string]bool{}}
}

// Clear forgets what was printed, for a switch to another conversation.
func (p *transcriptPrinter) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeOpenLocked()
	p.printed = map[string]int{}
	p.done = map[string]bool{}
}

// Update prints whatever msgs has that was not printed yet.
func (p *transcriptPrinter) Update(msgs []chatclient.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range msgs {
		k := key(m)
		n, seen := p.printed[k]
		if p.done[k] && len(m.Content) == n {
			continue
		}
		if !seen {
			p.closeOpenLocked()
			p.writeHeaderLocked(m)
		} else if p.open != k {
			p.closeOpenLocked()
		}
		if len(m.Content) > n {
			p.writef("%s", m.Content[n:])
			p.printed[k] = len(m.Content)
		}
		p.open = k
		if !m.Streaming {
			p.done[k] = true
			p.writef("\n")
			if p.markdown && m.Role == chatclient.RoleAssistant {
				p.writef("%s\n", strings.TrimRight(renderMarkdown(m.Content), "\n"))
			}
			p.writef("\n")
			p.open = ""
		}
	}
}

func (p *transcriptPrinter) Status(label string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if label == p.status {
		return
	}
	p.status = label
	p.closeOpenLocked()
	p.writef("%s\n", statusLine(label))
}

func (p *transcriptPrinter) Notice(s string) {
	if s == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeOpenLocked()
	p.writef("%s\n", dimStyle.Render(s))
}

func (p *transcriptPrinter) Conversations(convs []chatclient.Conversation, active string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeOpenLocked()
	if len(convs) == 0 {
		p.writef("%s\n", dimStyle.Render("no conversations yet"))
		return
	}
	for _, c := range convs {
		marker := " "
		if c.ID == active {
			marker = "*"
		}
		p.writef("%s %s\t%s\n", marker, c.ID, titleStyle.Render(c.Title))
	}
}

func (p *transcriptPrinter) writeHeaderLocked(m chatclient.Message) {
	p.writef("%s\n", roleHeader(m.Role))
}

// closeOpenLocked ends a reply that is still streaming so other output starts on its own line.
func (p *transcriptPrinter) closeOpenLocked() {
	if p.open == "" {
		return
	}
	p.writef("\n")
	p.open = ""
}

func (p *transcriptPrinter) writef(format string, args ...any) {
	if _, err := fmt.Fprintf(p.out, format, args...); err != nil {
		log.Debug().Err(err).Msg("write to terminal failed")
	}
}

func key(m chatclient.Message) string {
	return string(m.Role) + "/" + m.ID
}
