package wsclient

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fornellas/slogxt/log"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/fornellas/cnccon/controller"
	"github.com/fornellas/cnccon/firmware"
)

func testContext(t *testing.T) context.Context {
	return log.WithLogger(t.Context(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

type server struct {
	*httptest.Server
	authorization chan string
	received      chan Frame
	send          chan string
}

func newServer(t *testing.T) *server {
	s := &server{
		authorization: make(chan string, 1),
		received:      make(chan Frame, 10),
		send:          make(chan string, 10),
	}
	upgrader := websocket.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.authorization <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		go func() {
			for {
				var frame Frame
				if err := conn.ReadJSON(&frame); err != nil {
					return
				}
				s.received <- frame
			}
		}()

		for message := range s.send {
			if message == "" {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(message)); err != nil {
				return
			}
		}
	}))
	t.Cleanup(func() {
		close(s.send)
		s.Server.Close()
	})
	return s
}

func (s *server) url() string {
	return "ws" + strings.TrimPrefix(s.Server.URL, "http")
}

func TestClientEvents(t *testing.T) {
	ctx := testContext(t)
	s := newServer(t)

	client, err := Dial(ctx, s.url(), &ClientOptions{Token: "secret"})
	require.NoError(t, err)
	defer client.Close()
	require.Equal(t, "Bearer secret", <-s.authorization)

	s.send <- `{"event":"connection:open","args":[{"ident":"dev1"}]}`
	s.send <- `not json`
	s.send <- `{"args":[]}`
	s.send <- `{"event":"controller:state","args":["Grbl",{"status":{"activeState":"Idle"}}]}`
	s.send <- ""

	eventCh := make(chan controller.RawEvent, 10)
	err = client.Worker(ctx, eventCh)
	require.ErrorIs(t, err, ErrClosed)

	var events []controller.RawEvent
	for event := range eventCh {
		events = append(events, event)
	}
	require.Len(t, events, 2)
	require.Equal(t, controller.EventConnectionOpen, events[0].Name)
	require.JSONEq(t, `{"ident":"dev1"}`, string(events[0].Args[0]))
	require.Equal(t, controller.EventControllerState, events[1].Name)
	require.Len(t, events[1].Args, 2)
	require.JSONEq(t, `"Grbl"`, string(events[1].Args[0]))
}

func TestClientSend(t *testing.T) {
	ctx := testContext(t)
	s := newServer(t)

	client, err := Dial(ctx, s.url(), nil)
	require.NoError(t, err)
	defer client.Close()
	require.Equal(t, "", <-s.authorization)

	require.NoError(t, client.Open(ctx, "/dev/ttyUSB0", firmware.TypeGrbl, 115200))
	require.NoError(t, client.Send(ctx, "dev1", controller.LaserTestOn{Power: 10, Duration: 500, MaxS: 1000}))
	require.NoError(t, client.Send(ctx, "dev1", controller.LaserTestOff{}))
	require.NoError(t, client.ClosePort(ctx, "/dev/ttyUSB0"))

	receive := func() Frame {
		select {
		case frame := <-s.received:
			return frame
		case <-time.After(time.Second):
			require.FailNow(t, "timeout waiting for frame")
		}
		return Frame{}
	}

	frame := receive()
	require.Equal(t, "open", frame.Event)
	require.Len(t, frame.Args, 2)
	require.JSONEq(t, `"/dev/ttyUSB0"`, string(frame.Args[0]))
	require.JSONEq(t, `{"controllerType":"Grbl","baudrate":115200}`, string(frame.Args[1]))

	frame = receive()
	require.Equal(t, "command", frame.Event)
	args, err := json.Marshal(frame.Args)
	require.NoError(t, err)
	require.JSONEq(t, `["dev1","lasertest:on",10,500,1000]`, string(args))

	frame = receive()
	args, err = json.Marshal(frame.Args)
	require.NoError(t, err)
	require.JSONEq(t, `["dev1","lasertest:off"]`, string(args))

	frame = receive()
	require.Equal(t, "close", frame.Event)
}

func TestClientWorkerCancel(t *testing.T) {
	ctx := testContext(t)
	s := newServer(t)

	client, err := Dial(ctx, s.url(), nil)
	require.NoError(t, err)
	defer client.Close()

	workerCtx, cancel := context.WithCancel(ctx)
	eventCh := make(chan controller.RawEvent)
	errCh := make(chan error, 1)
	go func() { errCh <- client.Worker(workerCtx, eventCh) }()
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(time.Second):
		require.FailNow(t, "worker did not return")
	}
	_, ok := <-eventCh
	require.False(t, ok)
}

func TestDialFailure(t *testing.T) {
	ctx := testContext(t)
	s := httptest.NewServer(http.NotFoundHandler())
	defer s.Close()
	_, err := Dial(ctx, "ws"+strings.TrimPrefix(s.URL, "http"), nil)
	require.Error(t, err)
}
