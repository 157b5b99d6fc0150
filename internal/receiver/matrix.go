// ABOUTME: Receiver that posts a one-line summary of each event to a Matrix room
// ABOUTME: Uses mautrix with a pre-issued access token; no sync loop is needed

package receiver

import (
	"context"
	"fmt"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"

	"github.com/2389/beacon-gateway/internal/message"
)

// Matrix sends events to a room as plain text.
type Matrix struct {
	name   string
	room   id.RoomID
	client *mautrix.Client
}

// NewMatrix creates a Matrix receiver.
func NewMatrix(name, homeserver, userID, accessToken, roomID string) (*Matrix, error) {
	client, err := mautrix.NewClient(homeserver, id.UserID(userID), accessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	return &Matrix{name: name, room: id.RoomID(roomID), client: client}, nil
}

func (m *Matrix) Name() string { return m.name }

func (m *Matrix) Deliver(ctx context.Context, ev message.Event) error {
	if _, err := m.client.SendText(ctx, m.room, Summary(ev)); err != nil {
		return fmt.Errorf("sending to matrix: %w", err)
	}
	return nil
}
