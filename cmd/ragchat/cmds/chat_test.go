package cmds

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/ragchat/pkg/chatclient"
)

func TestParseChatCommand(t *testing.T) {
	name, arg, ok := parseChatCommand("  /Rename   Tax questions ")
	require.True(t, ok)
	require.Equal(t, "rename", name)
	require.Equal(t, "Tax questions", arg)

	name, arg, ok = parseChatCommand("/quit")
	require.True(t, ok)
	require.Equal(t, "quit", name)
	require.Equal(t, "", arg)

	_, _, ok = parseChatCommand("hello /there")
	require.False(t, ok)
	_, _, ok = parseChatCommand("/")
	require.False(t, ok)
}

func TestCopyTarget(t *testing.T) {
	msgs := []chatclient.Message{
		{ID: "a0", Role: chatclient.RoleAssistant, Content: "older\n\n```sh\nls\n```"},
		{ID: "u1", Role: chatclient.RoleUser, Content: "more"},
		{ID: "a1", Role: chatclient.RoleAssistant, Content: "partial", Streaming: true},
	}
	text, err := copyTarget(msgs, false)
	require.NoError(t, err)
	require.Equal(t, "older\n\n```sh\nls\n```", text)

	code, err := copyTarget(msgs, true)
	require.NoError(t, err)
	require.Equal(t, "ls", code)

	_, err = copyTarget([]chatclient.Message{{Role: chatclient.RoleAssistant, Content: "prose"}}, true)
	require.Error(t, err)
	_, err = copyTarget(nil, false)
	require.Error(t, err)
}

func TestTranscriptPrinterStreamsIncrementally(t *testing.T) {
	var buf bytes.Buffer
	p := newTranscriptPrinter(&buf, false)

	user := chatclient.Message{ID: "u1", Role: chatclient.RoleUser, Content: "Hi"}
	p.Update([]chatclient.Message{user})
	p.Update([]chatclient.Message{user, {ID: "a1", Role: chatclient.RoleAssistant, Content: "Hel", Streaming: true}})
	p.Update([]chatclient.Message{user, {ID: "a1", Role: chatclient.RoleAssistant, Content: "Hello", Streaming: true}})
	p.Update([]chatclient.Message{user, {ID: "a1", Role: chatclient.RoleAssistant, Content: "Hello"}})
	// idempotent once everything is shown
	p.Update([]chatclient.Message{user, {ID: "a1", Role: chatclient.RoleAssistant, Content: "Hello"}})

	out := buf.String()
	require.Equal(t, 1, strings.Count(out, "Hel"))
	require.Contains(t, out, "Hello\n")
	require.Equal(t, 1, strings.Count(out, "assistant"))
	require.Equal(t, 1, strings.Count(out, "you"))
}

func TestTranscriptPrinterClosesOpenReplyBeforeNotices(t *testing.T) {
	var buf bytes.Buffer
	p := newTranscriptPrinter(&buf, false)
	p.Update([]chatclient.Message{{ID: "a1", Role: chatclient.RoleAssistant, Content: "partial", Streaming: true}})
	p.Status("Offline")
	p.Status("Offline")

	out := buf.String()
	require.Contains(t, out, "partial\n")
	require.Equal(t, 1, strings.Count(out, "Offline"))

	p.Clear()
	buf.Reset()
	p.Update([]chatclient.Message{{ID: "a1", Role: chatclient.RoleAssistant, Content: "partial", Streaming: true}})
	require.Contains(t, buf.String(), "assistant")
}

func TestTranscriptPrinterShowsEverySystemEntry(t *testing.T) {
	var buf bytes.Buffer
	p := newTranscriptPrinter(&buf, false)
	first := chatclient.Message{ID: "m7_sys", Role: chatclient.RoleSystem, Content: "Error RLIMIT: slow"}
	p.Update([]chatclient.Message{first})
	p.Update([]chatclient.Message{first, {ID: "m7_sys_2", Role: chatclient.RoleSystem, Content: "Error UPSTREAM: model unavailable"}})

	out := buf.String()
	require.Contains(t, out, "Error RLIMIT: slow\n")
	require.Contains(t, out, "Error UPSTREAM: model unavailable\n")
	require.Equal(t, 2, strings.Count(out, "system"))
}

func TestSplitTags(t *testing.T) {
	require.Equal(t, []string{"eng", "ops"}, splitTags(" eng, ,ops "))
	require.Nil(t, splitTags(""))
}
