// Package client is a library client for the chatd wire protocol. It
// covers the request/response operations and the subscribe stream,
// answering server health probes transparently.
package client

import (
	"errors"
	"net"
	"time"

	"chatd/models"
	"chatd/protocol"
)

var ErrUnexpectedFrame = errors.New("unexpected frame from server")

type Client struct {
	conn    net.Conn
	timeout time.Duration
}

func Dial(addr string) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, timeout: 10 * time.Second}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// do writes one request frame and reads back one generic response.
func (c *Client) do(req *protocol.Request) (*protocol.Response, error) {
	data, err := protocol.EncodeRequest(req)
	if err != nil {
		return nil, err
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	if _, err := c.conn.Write(data); err != nil {
		return nil, err
	}
	c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	op, payload, err := protocol.ReadFrame(c.conn)
	if err != nil {
		return nil, err
	}
	if op != protocol.OpResponse {
		return nil, ErrUnexpectedFrame
	}
	return protocol.DecodeResponse(payload)
}

func (c *Client) Create(userID string) (*protocol.Response, error) {
	return c.do(&protocol.Request{Op: protocol.OpCreate, UserID: userID})
}

func (c *Client) Login(userID string) (*protocol.Response, error) {
	return c.do(&protocol.Request{Op: protocol.OpLogin, UserID: userID})
}

func (c *Client) Delete(userID string) (*protocol.Response, error) {
	return c.do(&protocol.Request{Op: protocol.OpDelete, UserID: userID})
}

func (c *Client) Send(recipientID, text string) (*protocol.Response, error) {
	return c.do(&protocol.Request{Op: protocol.OpSend, RecipientID: recipientID, Text: text})
}

func (c *Client) Health() (*protocol.Response, error) {
	return c.do(&protocol.Request{Op: protocol.OpHealth})
}

func (c *Client) List(wildcard string, page uint32) (*protocol.ListResponse, error) {
	data, err := protocol.EncodeRequest(&protocol.Request{Op: protocol.OpList, Wildcard: wildcard, Page: page})
	if err != nil {
		return nil, err
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	if _, err := c.conn.Write(data); err != nil {
		return nil, err
	}
	c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	op, payload, err := protocol.ReadFrame(c.conn)
	if err != nil {
		return nil, err
	}
	if op != protocol.OpListResponse {
		return nil, ErrUnexpectedFrame
	}
	return protocol.DecodeListResponse(payload)
}

// Subscribe puts the connection into delivery mode and blocks, invoking
// handler for each message. Health probes are echoed automatically. The
// connection cannot be reused for requests afterwards; it returns only on
// a connection error or Close.
func (c *Client) Subscribe(userID string, handler func(models.Message)) error {
	data, err := protocol.EncodeRequest(&protocol.Request{Op: protocol.OpSubscribe, UserID: userID})
	if err != nil {
		return err
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	if _, err := c.conn.Write(data); err != nil {
		return err
	}
	c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	op, payload, err := protocol.ReadFrame(c.conn)
	if err != nil {
		return err
	}
	if op != protocol.OpResponse {
		return ErrUnexpectedFrame
	}
	resp, err := protocol.DecodeResponse(payload)
	if err != nil {
		return err
	}
	if !resp.Success {
		return errors.New(resp.ErrorMessage)
	}

	for {
		c.conn.SetReadDeadline(time.Time{})
		op, payload, err := protocol.ReadFrame(c.conn)
		if err != nil {
			return err
		}
		switch op {
		case protocol.OpHealth:
			c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
			if _, err := c.conn.Write([]byte{1}); err != nil {
				return err
			}
		case protocol.OpMessage:
			msg, err := protocol.DecodeMessage(payload)
			if err != nil {
				return err
			}
			handler(msg)
		default:
			return ErrUnexpectedFrame
		}
	}
}
