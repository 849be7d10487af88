package gateway

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// MaxFrameSize bounds a single protocol message on any transport
	MaxFrameSize = 1 << 20

	writeTimeout = 10 * time.Second
)

// Transport carries framed protocol messages to and from one peer
type Transport interface {
	// ReadFrame blocks until a full frame arrives. io.EOF means the peer left.
	ReadFrame() ([]byte, error)
	WriteFrame(frame []byte) error
	Close() error
	Kind() string
	RemoteAddr() string
}

// lineTransport frames messages as newline-terminated JSON over a stream
type lineTransport struct {
	conn    net.Conn
	scanner *bufio.Scanner
	wmu     sync.Mutex
}

func newLineTransport(conn net.Conn) *lineTransport {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxFrameSize)
	return &lineTransport{conn: conn, scanner: scanner}
}

func (t *lineTransport) ReadFrame() ([]byte, error) {
	for t.scanner.Scan() {
		line := bytes.TrimSpace(t.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		// The scanner reuses its buffer
		return bytes.Clone(line), nil
	}
	if err := t.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (t *lineTransport) WriteFrame(frame []byte) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()

	if err := t.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	_, err := t.conn.Write(append(bytes.TrimSpace(frame), '\n'))
	return err
}

func (t *lineTransport) Close() error       { return t.conn.Close() }
func (t *lineTransport) Kind() string       { return "tcp" }
func (t *lineTransport) RemoteAddr() string { return t.conn.RemoteAddr().String() }

// wsTransport carries one message per websocket text message
type wsTransport struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	conn.SetReadLimit(MaxFrameSize)
	// Clear any deadline the HTTP server left on the hijacked connection
	_ = conn.SetReadDeadline(time.Time{})
	return &wsTransport{conn: conn}
}

func (t *wsTransport) ReadFrame() ([]byte, error) {
	for {
		kind, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, err
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (t *wsTransport) WriteFrame(frame []byte) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()

	if err := t.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, frame)
}

func (t *wsTransport) Close() error {
	t.wmu.Lock()
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	t.wmu.Unlock()
	return t.conn.Close()
}

func (t *wsTransport) Kind() string       { return "websocket" }
func (t *wsTransport) RemoteAddr() string { return t.conn.RemoteAddr().String() }

// isClosed reports whether err only says the transport went away
func isClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || websocket.IsUnexpectedCloseError(err)
}
