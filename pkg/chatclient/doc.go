// Package chatclient is the streaming session client for the chat backend.
//
// Ownership model:
//   - SessionController owns the live transport and the outbound SendQueue.
//   - Transcript owns the ordered message list of the active conversation.
//   - ConversationStore owns conversation metadata and the active conversation id.
//
// Components never reach into each other's state; the controller forwards decoded envelopes to
// the transcript and title patches to the store through plain function calls.
//
// Recommended setup:
//   - Build an api.Client for the REST side.
//   - Build a Client with NewClient, passing a Dialer (NewWebsocketDialer in production).
//   - Call SetToken, LoadConversations, Select and SendMessage from the UI layer and subscribe
//     to the events.Notifier topics to re-render.
package chatclient
