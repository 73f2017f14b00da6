// Package client is a single-connection client for the kvs wire protocol.
package client

import (
	"bufio"
	"fmt"
	"net"
	"sync"

	"github.com/rivulet/kvs/internal/kverrors"
	"github.com/rivulet/kvs/internal/protocol"
)

// Client holds one TCP connection to a kvs server. Requests are
// serialized: a Client is safe for concurrent use, but concurrent calls
// queue behind a single mutex rather than pipelining.
type Client struct {
	conn net.Conn
	enc  *protocol.Encoder
	dec  *protocol.Decoder
	mu   sync.Mutex
}

// Dial connects to addr and returns a ready-to-use Client.
func Dial(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Client{
		conn: conn,
		enc:  protocol.NewEncoder(bufio.NewWriter(conn)),
		dec:  protocol.NewDecoder(bufio.NewReader(conn)),
	}, nil
}

func (c *Client) call(req protocol.Request) (protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enc.EncodeRequest(req); err != nil {
		return protocol.Response{}, fmt.Errorf("send request: %w", err)
	}
	resp, err := c.dec.DecodeResponse()
	if err != nil {
		return protocol.Response{}, fmt.Errorf("read response: %w", err)
	}
	if resp.Err != "" {
		return resp, kverrors.FromWire(resp.Kind, resp.Err)
	}
	return resp, nil
}

// Get fetches the value for key. ok is false if the key does not exist.
func (c *Client) Get(key string) (val string, ok bool, err error) {
	resp, err := c.call(protocol.Request{Kind: protocol.KindGet, Key: key})
	if err != nil {
		return "", false, err
	}
	return resp.Val, resp.Found, nil
}

// Set stores val under key.
func (c *Client) Set(key, val string) error {
	_, err := c.call(protocol.Request{Kind: protocol.KindSet, Key: key, Val: val})
	return err
}

// Remove deletes key. If the key does not exist it returns a
// *kverrors.OpError whose Kind is kverrors.KindKeyNotFound.
func (c *Client) Remove(key string) error {
	_, err := c.call(protocol.Request{Kind: protocol.KindRemove, Key: key})
	return err
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
