package grpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/agrospeak/agrospeak/internal/message"
)

// Client calls the agrospeak.v1.Assistant service.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func (c *Client) invoke(ctx context.Context, method string, in, out any) error {
	return c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, grpc.CallContentSubtype(codecName))
}

// Converse runs one turn.
func (c *Client) Converse(ctx context.Context, req *message.TurnRequest) (*message.TurnResult, error) {
	out := new(message.TurnResult)
	if err := c.invoke(ctx, "Converse", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// History returns a session's turns.
func (c *Client) History(ctx context.Context, sessionID string) (*message.History, error) {
	out := new(message.History)
	if err := c.invoke(ctx, "History", &SessionRequest{SessionID: sessionID}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ClearHistory empties a session's history.
func (c *Client) ClearHistory(ctx context.Context, sessionID string) error {
	return c.invoke(ctx, "ClearHistory", &SessionRequest{SessionID: sessionID}, new(Empty))
}

// SetLanguage changes a session's language preference.
func (c *Client) SetLanguage(ctx context.Context, sessionID, language string) error {
	return c.invoke(ctx, "SetLanguage", &LanguageRequest{SessionID: sessionID, Language: language}, new(Empty))
}

// Classify returns the intent of text.
func (c *Client) Classify(ctx context.Context, text string) (*message.Classification, error) {
	out := new(message.Classification)
	if err := c.invoke(ctx, "Classify", &ClassifyRequest{Text: text}, out); err != nil {
		return nil, err
	}
	return out, nil
}
