// ABOUTME: Stdio bridge mode: the same dispatcher over newline-delimited JSON.
// ABOUTME: One implicit client on stdin/stdout, for editors that spawn the gateway directly.

package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/2389/loom-gateway/internal/protocol"
)

// Oversized lines would otherwise split into garbage frames mid-scan.
const maxBridgeLine = maxFrameSize

// stdioConn adapts a writer to the session.Conn interface, one JSON frame
// per line. Writes are serialized for the same reason websocket writes are.
type stdioConn struct {
	mu  sync.Mutex
	enc *bufio.Writer
}

func newStdioConn(w io.Writer) *stdioConn {
	return &stdioConn{enc: bufio.NewWriter(w)}
}

func (c *stdioConn) Send(msg *protocol.Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.enc.Write(raw); err != nil {
		return err
	}
	if err := c.enc.WriteByte('\n'); err != nil {
		return err
	}
	return c.enc.Flush()
}

func (c *stdioConn) Close() error { return nil }

// RunBridge serves the dispatcher over in/out until in closes or ctx is
// cancelled. The stdio peer registers as an ordinary client, so sessions
// it creates behave exactly as websocket sessions do, grace period included.
func (g *Gateway) RunBridge(ctx context.Context, in io.Reader, out io.Writer) error {
	g.sessions.Start()
	defer g.sessions.Stop()

	conn := newStdioConn(out)
	clientID := g.sessions.Register(conn)
	defer g.sessions.Unregister(clientID)

	g.logger.Info("bridge mode started", "client_id", clientID)

	state := &connState{clientID: clientID, conn: conn}
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxBridgeLine)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		g.dispatcher.HandleFrame(ctx, state, line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading bridge input: %w", err)
	}
	return nil
}
