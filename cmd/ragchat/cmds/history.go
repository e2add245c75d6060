package cmds

import (
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/ragchat/pkg/api"
	"github.com/go-go-golems/ragchat/pkg/chatclient"
	"github.com/go-go-golems/ragchat/pkg/persistence/chatstore"
)

func NewHistoryCommand(v *viper.Viper) *cobra.Command {
	var (
		offline bool
		raw     bool
	)
	cmd := &cobra.Command{
		Use:   "history <conversation-id>",
		Short: "Print the transcript of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			convID := args[0]
			var records []chatstore.MessageRecord
			if offline {
				m := openMirror(SettingsFromViper(v))
				if m == nil {
					return errors.New("no local cache configured")
				}
				defer func() { _ = m.Close() }()
				var err error
				if records, err = m.GetTranscript(cmd.Context(), convID); err != nil {
					return err
				}
			} else {
				s, err := openSession(v, true)
				if err != nil {
					return err
				}
				msgs, err := s.api.ListMessages(cmd.Context(), convID)
				if err != nil {
					return errors.New(api.FriendlyMessage(err))
				}
				records = recordsFromAPI(msgs)
				if m := openMirror(s.settings); m != nil {
					_, _ = m.ReplaceTranscript(cmd.Context(), convID, records)
					_ = m.Close()
				}
			}
			out := cmd.OutOrStdout()
			printTranscript(out, records, !raw && isTerminal(out))
			return nil
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "Read from the local cache instead of the backend")
	cmd.Flags().BoolVar(&raw, "raw", false, "Do not render markdown")
	return cmd
}

func recordsFromAPI(msgs []api.MessageRecord) []chatstore.MessageRecord {
	out := make([]chatstore.MessageRecord, 0, len(msgs))
	for _, m := range msgs {
		rec := chatstore.MessageRecord{MessageID: m.ID.String(), Role: m.Role, Content: m.Content}
		if !m.CreatedTime.IsZero() {
			rec.TsMs = m.CreatedTime.UnixMilli()
		}
		out = append(out, rec)
	}
	return out
}

func printTranscript(w io.Writer, records []chatstore.MessageRecord, markdown bool) {
	if len(records) == 0 {
		_, _ = fmt.Fprintln(w, dimStyle.Render("empty transcript"))
		return
	}
	for _, r := range records {
		role := chatclient.Role(strings.ToUpper(r.Role))
		_, _ = fmt.Fprintln(w, roleHeader(role))
		body := r.Content
		if markdown && role == chatclient.RoleAssistant {
			body = strings.TrimRight(renderMarkdown(body), "\n")
		}
		_, _ = fmt.Fprintln(w, body)
		_, _ = fmt.Fprintln(w)
	}
}

func roleHeader(role chatclient.Role) string {
	switch role {
	case chatclient.RoleUser:
		return userStyle.Render("you")
	case chatclient.RoleAssistant:
		return assistantStyle.Render("assistant")
	default:
		return systemStyle.Render("system")
	}
}
