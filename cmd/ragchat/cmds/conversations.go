package cmds

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/ragchat/pkg/api"
	"github.com/go-go-golems/ragchat/pkg/chatclient"
	"github.com/go-go-golems/ragchat/pkg/persistence/chatstore"
)

func NewConversationsCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv"},
		Short:   "List and manage conversations",
	}
	cmd.AddCommand(
		newConversationsListCommand(v),
		newConversationsCreateCommand(v),
		newConversationsRenameCommand(v),
		newConversationsDeleteCommand(v),
	)
	return cmd
}

func newConversationsListCommand(v *viper.Viper) *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conversations, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if offline {
				m := openMirror(SettingsFromViper(v))
				if m == nil {
					return errors.New("no local cache configured")
				}
				defer func() { _ = m.Close() }()
				records, err := m.ListConversations(cmd.Context(), 0, 0)
				if err != nil {
					return err
				}
				printMirroredConversations(cmd.OutOrStdout(), records)
				return nil
			}

			s, err := openSession(v, true)
			if err != nil {
				return err
			}
			convs, err := s.api.ListConversations(cmd.Context())
			if err != nil {
				return errors.New(api.FriendlyMessage(err))
			}
			if m := openMirror(s.settings); m != nil {
				for _, c := range convs {
					_ = m.UpsertConversation(cmd.Context(), chatstore.ConversationRecord{
						ConvID:      c.ID.String(),
						Title:       c.Title,
						CreatedAtMs: c.CreatedTime.UnixMilli(),
					})
				}
				_ = m.Close()
			}
			printConversations(cmd.OutOrStdout(), convs)
			return nil
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "Read from the local cache instead of the backend")
	return cmd
}

func newConversationsCreateCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "create [title]",
		Short: "Create a conversation",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(v, true)
			if err != nil {
				return err
			}
			title := chatclient.DefaultConversationTitle
			if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
				title = strings.TrimSpace(args[0])
			}
			conv, err := s.api.CreateConversation(cmd.Context(), title)
			if err != nil {
				return errors.New(api.FriendlyMessage(err))
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", conv.ID, conv.Title)
			return nil
		},
	}
}

func newConversationsRenameCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <title>",
		Short: "Rename a conversation",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			title := strings.TrimSpace(strings.Join(args[1:], " "))
			if title == "" {
				return errors.New("title is empty")
			}
			s, err := openSession(v, true)
			if err != nil {
				return err
			}
			conv, err := s.api.RenameConversation(cmd.Context(), args[0], title)
			if err != nil {
				return errors.New(api.FriendlyMessage(err))
			}
			if m := openMirror(s.settings); m != nil {
				_ = m.UpsertConversation(cmd.Context(), chatstore.ConversationRecord{ConvID: args[0], Title: title})
				_ = m.Close()
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", args[0], firstNonEmpty(conv.Title, title))
			return nil
		},
	}
}

func newConversationsDeleteCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete conversations",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(v, true)
			if err != nil {
				return err
			}
			m := openMirror(s.settings)
			if m != nil {
				defer func() { _ = m.Close() }()
			}
			for _, id := range args {
				if err := s.api.DeleteConversation(cmd.Context(), id); err != nil {
					return errors.Errorf("delete %s: %s", id, api.FriendlyMessage(err))
				}
				if m != nil {
					_ = m.DeleteConversation(cmd.Context(), id)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
			}
			return nil
		},
	}
}

func printConversations(w io.Writer, convs []api.Conversation) {
	if len(convs) == 0 {
		_, _ = fmt.Fprintln(w, dimStyle.Render("no conversations yet"))
		return
	}
	for _, c := range convs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", c.ID, titleStyle.Render(c.Title), dimStyle.Render(formatTime(c.CreatedTime.Time)))
	}
}

func printMirroredConversations(w io.Writer, records []chatstore.ConversationRecord) {
	if len(records) == 0 {
		_, _ = fmt.Fprintln(w, dimStyle.Render("nothing cached"))
		return
	}
	for _, r := range records {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", r.ConvID, titleStyle.Render(r.Title),
			dimStyle.Render(fmt.Sprintf("%d messages, %s", r.MessageCount, formatTime(time.UnixMilli(r.LastActivityMs)))))
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
