// Package wsclient is a controller.Transport over a WebSocket connection to a session server.
//
// Every WebSocket text message carries one JSON frame:
//
//	{"event": "controller:state", "args": ["Grbl", {"status": {"activeState": "Idle"}}]}
//
// Frames received are turned into controller.RawEvent. Commands are sent as
//
//	{"event": "command", "args": [ident, name, arg1, arg2, ...]}
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/fornellas/slogxt/log"
	"github.com/gorilla/websocket"

	"github.com/fornellas/cnccon/controller"
	"github.com/fornellas/cnccon/firmware"
)

var ErrClosed = errors.New("wsclient: connection closed")

// Frame is the unit of the wire protocol.
type Frame struct {
	Event string            `json:"event"`
	Args  []json.RawMessage `json:"args"`
}

func newFrame(event string, args ...any) (*Frame, error) {
	frame := &Frame{
		Event: event,
		Args:  make([]json.RawMessage, len(args)),
	}
	for i, arg := range args {
		data, err := json.Marshal(arg)
		if err != nil {
			return nil, fmt.Errorf("wsclient: %s: argument %d: %w", event, i, err)
		}
		frame.Args[i] = data
	}
	return frame, nil
}

type ClientOptions struct {
	// Sent as a bearer token in the handshake Authorization header.
	Token            string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

type Client struct {
	options *ClientOptions

	writeMu sync.Mutex
	conn    *websocket.Conn
}

// Dial connects to the session server at url (ws:// or wss://).
func Dial(ctx context.Context, url string, options *ClientOptions) (*Client, error) {
	if options == nil {
		options = &ClientOptions{}
	}
	if options.HandshakeTimeout == 0 {
		options.HandshakeTimeout = 5 * time.Second
	}
	if options.WriteTimeout == 0 {
		options.WriteTimeout = 1 * time.Second
	}

	logger := log.MustLogger(ctx)
	logger.Info("Dialing session server", "url", url)

	header := http.Header{}
	if options.Token != "" {
		header.Set("Authorization", "Bearer "+options.Token)
	}
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: options.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("wsclient: dial %s: %s: %w", url, resp.Status, err)
		}
		return nil, fmt.Errorf("wsclient: dial %s: %w", url, err)
	}

	return &Client{
		options: options,
		conn:    conn,
	}, nil
}

func (c *Client) writeFrame(ctx context.Context, frame *Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(c.options.WriteTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("wsclient: %w", err)
	}
	if err := c.conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("wsclient: write %s: %w", frame.Event, err)
	}
	return nil
}

// Open asks the session server to open the controller at port. The server replies with a
// connection:open event.
func (c *Client) Open(ctx context.Context, port string, firmwareType firmware.Type, baudRate int) error {
	frame, err := newFrame("open", port, map[string]any{
		"controllerType": firmwareType,
		"baudrate":       baudRate,
	})
	if err != nil {
		return err
	}
	return c.writeFrame(ctx, frame)
}

// ClosePort asks the session server to close the controller at port.
func (c *Client) ClosePort(ctx context.Context, port string) error {
	frame, err := newFrame("close", port)
	if err != nil {
		return err
	}
	return c.writeFrame(ctx, frame)
}

// Send implements controller.Transport.
func (c *Client) Send(ctx context.Context, ident string, cmd controller.Command) error {
	args := append([]any{ident, cmd.Name()}, cmd.Args()...)
	frame, err := newFrame("command", args...)
	if err != nil {
		return err
	}
	return c.writeFrame(ctx, frame)
}

// Worker reads frames and sends them as events to eventCh, which is closed when it returns.
// It runs until ctx is done or the connection fails.
func (c *Client) Worker(ctx context.Context, eventCh chan<- controller.RawEvent) error {
	defer close(eventCh)
	logger := log.MustLogger(ctx)

	stop := context.AfterFunc(ctx, func() {
		c.conn.Close()
	})
	defer stop()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				if errors.Is(ctx.Err(), context.Canceled) {
					return nil
				}
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return fmt.Errorf("%w: %w", ErrClosed, err)
			}
			return fmt.Errorf("wsclient: read: %w", err)
		}

		if messageType != websocket.TextMessage {
			logger.Debug("Ignoring non text message", "type", messageType)
			continue
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			logger.Warn("Ignoring malformed frame", "data", string(data), "err", err)
			continue
		}
		if frame.Event == "" {
			logger.Warn("Ignoring frame without event", "data", string(data))
			continue
		}

		select {
		case eventCh <- controller.RawEvent{Name: controller.EventName(frame.Event), Args: frame.Args}:
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		}
	}
}

// Close sends a close message and closes the connection.
func (c *Client) Close() error {
	c.writeMu.Lock()
	err := c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(c.options.WriteTimeout),
	)
	c.writeMu.Unlock()
	if errors.Is(err, websocket.ErrCloseSent) || errors.Is(err, net.ErrClosed) {
		err = nil
	}
	closeErr := c.conn.Close()
	if errors.Is(closeErr, net.ErrClosed) {
		closeErr = nil
	}
	return errors.Join(err, closeErr)
}
