// Package messaging abstracts the chat platform used to receive photos and
// deliver diagnoses.
package messaging

import "context"

// Messenger is the outbound surface the diagnosis flow needs. Reply is tied
// to the originating event and usable once; Push is addressed to a user and
// usable any time afterwards.
type Messenger interface {
	Reply(ctx context.Context, replyToken, text string) error
	Push(ctx context.Context, userID, text string) error
	FetchImage(ctx context.Context, messageID string) ([]byte, error)
}
