// ABOUTME: Transport-specific senders for fake-agent: HTTP, WebSocket and gRPC
// ABOUTME: Each opens a session once and reuses the bearer token

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/2389/beacon-gateway/internal/client"
	"github.com/2389/beacon-gateway/internal/codec"
	"github.com/2389/beacon-gateway/internal/transport"
)

type httpSender struct {
	client *client.Client
	token  string
}

func newHTTPSender(ctx context.Context, c *client.Client, opts options) (*httpSender, error) {
	token, err := c.OpenSession(ctx, opts.username, opts.password, opts.agentID)
	if err != nil {
		return nil, fmt.Errorf("opening session: %w", err)
	}
	return &httpSender{client: c, token: token}, nil
}

func (s *httpSender) Send(ctx context.Context, fields map[string]any) (string, error) {
	return s.client.Publish(ctx, s.token, fields)
}

func (s *httpSender) Close() error { return nil }

type wsSender struct {
	conn  *websocket.Conn
	codec codec.Codec
}

func dialWebSocket(ctx context.Context, url, token string, c codec.Codec) (*wsSender, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}
	return &wsSender{conn: conn, codec: c}, nil
}

func (s *wsSender) Send(ctx context.Context, fields map[string]any) (string, error) {
	data, err := s.codec.Encode(fields)
	if err != nil {
		return "", err
	}
	typ := websocket.MessageText
	if s.codec == codec.CBOR {
		typ = websocket.MessageBinary
	}
	if err := s.conn.Write(ctx, typ, data); err != nil {
		return "", err
	}

	rtyp, reply, err := s.conn.Read(ctx)
	if err != nil {
		return "", err
	}
	rc := codec.JSON
	if rtyp == websocket.MessageBinary {
		rc = codec.CBOR
	}
	resp, err := rc.Decode(reply)
	if err != nil {
		return "", fmt.Errorf("decoding reply: %w", err)
	}
	if msg, ok := resp["error"].(string); ok {
		return "", errors.New(msg)
	}
	id, _ := resp["id"].(string)
	return id, nil
}

func (s *wsSender) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "done")
}

type grpcSender struct {
	conn   *grpc.ClientConn
	client *transport.IngestClient
	token  string
}

func dialGRPC(ctx context.Context, addr string, opts options) (*grpcSender, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	ic := transport.NewIngestClient(conn)
	token, err := ic.OpenSession(ctx, opts.username, opts.password, opts.agentID)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("opening session: %w", err)
	}
	return &grpcSender{conn: conn, client: ic, token: token}, nil
}

// Send publishes over gRPC. Publish returns no id, so the agent-supplied
// message id is reported.
func (s *grpcSender) Send(ctx context.Context, fields map[string]any) (string, error) {
	if err := s.client.Publish(ctx, s.token, fields); err != nil {
		return "", err
	}
	id, _ := fields["message-id"].(string)
	return id, nil
}

func (s *grpcSender) Close() error { return s.conn.Close() }
