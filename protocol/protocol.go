package protocol

import (
	"encoding/binary"
	"errors"
	"io"

	"chatd/models"
)

// Request opcodes (client to server).
const (
	OpCreate    byte = 0x01
	OpLogin     byte = 0x02
	OpDelete    byte = 0x03
	OpList      byte = 0x04
	OpSend      byte = 0x05
	OpSubscribe byte = 0x06
	OpHealth    byte = 0x07
)

// Response opcodes (server to client). OpHealth is reused for the
// server-initiated probe on subscribe connections.
const (
	OpResponse     byte = 0x10
	OpListResponse byte = 0x11
	OpMessage      byte = 0x12
)

// MaxPayload caps a single frame's payload. Larger declared lengths are
// treated as malformed rather than allocated.
const MaxPayload = 64 << 10

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrFrameTooLarge  = errors.New("frame payload exceeds maximum allowed size")
)

// Request is the decoded form of any client frame. Only the fields for the
// given Op are meaningful.
type Request struct {
	Op          byte
	UserID      string
	Wildcard    string
	Page        uint32
	RecipientID string
	Text        string
}

type Response struct {
	UserID       string
	Success      bool
	ErrorMessage string
}

type ListResponse struct {
	Response
	Accounts []models.Account
}

// Every frame is opcode (1 byte), payload length (uint32 big-endian), payload.
// Strings inside a payload are uint16 big-endian length followed by bytes.

func frame(op byte, payload []byte) []byte {
	out := make([]byte, 5, 5+len(payload))
	out[0] = op
	binary.BigEndian.PutUint32(out[1:5], uint32(len(payload)))
	return append(out, payload...)
}

func appendString(b []byte, s string) []byte {
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(s)))
	b = append(b, l[:]...)
	return append(b, s...)
}

func readString(b []byte) (string, []byte, error) {
	if len(b) < 2 {
		return "", nil, ErrMalformedFrame
	}
	n := int(binary.BigEndian.Uint16(b))
	b = b[2:]
	if len(b) < n {
		return "", nil, ErrMalformedFrame
	}
	return string(b[:n]), b[n:], nil
}

func checkStrings(ss ...string) error {
	total := 0
	for _, s := range ss {
		if len(s) > 0xFFFF {
			return ErrFrameTooLarge
		}
		total += 2 + len(s)
	}
	if total > MaxPayload {
		return ErrFrameTooLarge
	}
	return nil
}

// EncodeRequest serializes a request into a complete frame.
func EncodeRequest(req *Request) ([]byte, error) {
	switch req.Op {
	case OpCreate, OpLogin, OpDelete, OpSubscribe:
		if err := checkStrings(req.UserID); err != nil {
			return nil, err
		}
		return frame(req.Op, appendString(nil, req.UserID)), nil
	case OpList:
		if err := checkStrings(req.Wildcard); err != nil {
			return nil, err
		}
		payload := appendString(nil, req.Wildcard)
		var page [4]byte
		binary.BigEndian.PutUint32(page[:], req.Page)
		return frame(req.Op, append(payload, page[:]...)), nil
	case OpSend:
		if err := checkStrings(req.RecipientID, req.Text); err != nil {
			return nil, err
		}
		payload := appendString(nil, req.RecipientID)
		return frame(req.Op, appendString(payload, req.Text)), nil
	case OpHealth:
		return frame(req.Op, nil), nil
	}
	return nil, ErrMalformedFrame
}

// DecodeRequest parses a request payload for the given opcode. Unknown
// opcodes and short payloads fail with ErrMalformedFrame.
func DecodeRequest(op byte, payload []byte) (*Request, error) {
	req := &Request{Op: op}
	var err error
	switch op {
	case OpCreate, OpLogin, OpDelete, OpSubscribe:
		if req.UserID, payload, err = readString(payload); err != nil {
			return nil, err
		}
	case OpList:
		if req.Wildcard, payload, err = readString(payload); err != nil {
			return nil, err
		}
		if len(payload) < 4 {
			return nil, ErrMalformedFrame
		}
		req.Page = binary.BigEndian.Uint32(payload)
	case OpSend:
		if req.RecipientID, payload, err = readString(payload); err != nil {
			return nil, err
		}
		if req.Text, _, err = readString(payload); err != nil {
			return nil, err
		}
	case OpHealth:
	default:
		return nil, ErrMalformedFrame
	}
	return req, nil
}

func appendResponse(b []byte, resp *Response) []byte {
	b = appendString(b, resp.UserID)
	if resp.Success {
		b = append(b, 1)
	} else {
		b = append(b, 0)
	}
	return appendString(b, resp.ErrorMessage)
}

func readResponse(b []byte) (Response, []byte, error) {
	var resp Response
	var err error
	if resp.UserID, b, err = readString(b); err != nil {
		return resp, nil, err
	}
	if len(b) < 1 {
		return resp, nil, ErrMalformedFrame
	}
	resp.Success = b[0] == 1
	b = b[1:]
	if resp.ErrorMessage, b, err = readString(b); err != nil {
		return resp, nil, err
	}
	return resp, b, nil
}

func EncodeResponse(resp *Response) ([]byte, error) {
	if err := checkStrings(resp.UserID, resp.ErrorMessage); err != nil {
		return nil, err
	}
	return frame(OpResponse, appendResponse(nil, resp)), nil
}

func DecodeResponse(payload []byte) (*Response, error) {
	resp, _, err := readResponse(payload)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func EncodeListResponse(resp *ListResponse) ([]byte, error) {
	if err := checkStrings(resp.UserID, resp.ErrorMessage); err != nil {
		return nil, err
	}
	payload := appendResponse(nil, &resp.Response)
	var count [2]byte
	binary.BigEndian.PutUint16(count[:], uint16(len(resp.Accounts)))
	payload = append(payload, count[:]...)
	for _, acc := range resp.Accounts {
		if err := checkStrings(acc.UserID); err != nil {
			return nil, err
		}
		payload = appendString(payload, acc.UserID)
		if acc.LoggedIn {
			payload = append(payload, 1)
		} else {
			payload = append(payload, 0)
		}
	}
	if len(payload) > MaxPayload {
		return nil, ErrFrameTooLarge
	}
	return frame(OpListResponse, payload), nil
}

func DecodeListResponse(payload []byte) (*ListResponse, error) {
	resp, rest, err := readResponse(payload)
	if err != nil {
		return nil, err
	}
	if len(rest) < 2 {
		return nil, ErrMalformedFrame
	}
	count := int(binary.BigEndian.Uint16(rest))
	rest = rest[2:]
	out := &ListResponse{Response: resp, Accounts: make([]models.Account, 0, count)}
	for i := 0; i < count; i++ {
		var acc models.Account
		if acc.UserID, rest, err = readString(rest); err != nil {
			return nil, err
		}
		if len(rest) < 1 {
			return nil, ErrMalformedFrame
		}
		acc.LoggedIn = rest[0] == 1
		rest = rest[1:]
		out.Accounts = append(out.Accounts, acc)
	}
	return out, nil
}

func EncodeMessage(msg models.Message) ([]byte, error) {
	if err := checkStrings(msg.AuthorID, msg.RecipientID, msg.Text); err != nil {
		return nil, err
	}
	payload := appendString(nil, msg.AuthorID)
	payload = appendString(payload, msg.RecipientID)
	return frame(OpMessage, appendString(payload, msg.Text)), nil
}

func DecodeMessage(payload []byte) (models.Message, error) {
	var msg models.Message
	var err error
	if msg.AuthorID, payload, err = readString(payload); err != nil {
		return msg, err
	}
	if msg.RecipientID, payload, err = readString(payload); err != nil {
		return msg, err
	}
	if msg.Text, payload, err = readString(payload); err != nil {
		return msg, err
	}
	return msg, nil
}

// EncodeHealth builds the zero-payload probe frame the server sends on a
// subscribe connection before each delivery.
func EncodeHealth() []byte {
	return frame(OpHealth, nil)
}

// ReadFrame reads one complete frame from the stream. I/O errors pass
// through untouched so callers can tell a dead peer from a bad frame.
func ReadFrame(r io.Reader) (byte, []byte, error) {
	var hdr [5]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	n := binary.BigEndian.Uint32(hdr[1:5])
	if n > MaxPayload {
		return 0, nil, ErrFrameTooLarge
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return hdr[0], payload, nil
}

// DecodeFrame parses a frame already held in memory. The declared length
// must match the available bytes exactly.
func DecodeFrame(b []byte) (byte, []byte, error) {
	if len(b) < 5 {
		return 0, nil, ErrMalformedFrame
	}
	n := binary.BigEndian.Uint32(b[1:5])
	if n > MaxPayload {
		return 0, nil, ErrFrameTooLarge
	}
	if len(b) != 5+int(n) {
		return 0, nil, ErrMalformedFrame
	}
	return b[0], b[5:], nil
}
