package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatd/models"
)

func TestRequestRoundTrip(t *testing.T) {
	cases := []Request{
		{Op: OpCreate, UserID: "ream"},
		{Op: OpLogin, UserID: "mark"},
		{Op: OpDelete, UserID: "achele"},
		{Op: OpSubscribe, UserID: "joe"},
		{Op: OpList, Wildcard: "e", Page: 3},
		{Op: OpList, Wildcard: "", Page: 0},
		{Op: OpSend, RecipientID: "bob", Text: "hi there"},
		{Op: OpHealth},
	}

	for _, want := range cases {
		data, err := EncodeRequest(&want)
		require.NoError(t, err)

		op, payload, err := DecodeFrame(data)
		require.NoError(t, err)
		assert.Equal(t, want.Op, op)

		got, err := DecodeRequest(op, payload)
		require.NoError(t, err)
		assert.Equal(t, &want, got)
	}
}

func TestResponseRoundTrip(t *testing.T) {
	want := &Response{UserID: "ream", Success: false, ErrorMessage: "user already exists"}
	data, err := EncodeResponse(want)
	require.NoError(t, err)

	op, payload, err := DecodeFrame(data)
	require.NoError(t, err)
	require.Equal(t, OpResponse, op)

	got, err := DecodeResponse(payload)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestListResponseRoundTrip(t *testing.T) {
	want := &ListResponse{
		Response: Response{UserID: "ream", Success: true},
		Accounts: []models.Account{
			{UserID: "achele", LoggedIn: true},
			{UserID: "joe", LoggedIn: false},
		},
	}
	data, err := EncodeListResponse(want)
	require.NoError(t, err)

	op, payload, err := DecodeFrame(data)
	require.NoError(t, err)
	require.Equal(t, OpListResponse, op)

	got, err := DecodeListResponse(payload)
	require.NoError(t, err)
	assert.Equal(t, want.Response, got.Response)
	assert.Equal(t, want.Accounts, got.Accounts)
}

func TestListResponseEmpty(t *testing.T) {
	data, err := EncodeListResponse(&ListResponse{Response: Response{Success: true}})
	require.NoError(t, err)

	_, payload, err := DecodeFrame(data)
	require.NoError(t, err)

	got, err := DecodeListResponse(payload)
	require.NoError(t, err)
	assert.True(t, got.Success)
	assert.Empty(t, got.Accounts)
}

func TestMessageRoundTrip(t *testing.T) {
	want := models.Message{AuthorID: "alice", RecipientID: "bob", Text: "hello"}
	data, err := EncodeMessage(want)
	require.NoError(t, err)

	op, payload, err := DecodeFrame(data)
	require.NoError(t, err)
	require.Equal(t, OpMessage, op)

	got, err := DecodeMessage(payload)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestHealthFrame(t *testing.T) {
	op, payload, err := DecodeFrame(EncodeHealth())
	require.NoError(t, err)
	assert.Equal(t, OpHealth, op)
	assert.Empty(t, payload)
}

func TestDecodeUnknownOpcode(t *testing.T) {
	_, err := DecodeRequest(0xEE, nil)
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestDecodeTruncatedPayload(t *testing.T) {
	// Declared string length exceeds the remaining payload bytes.
	payload := []byte{0x00, 0x20, 'a', 'b'}
	_, err := DecodeRequest(OpCreate, payload)
	assert.ErrorIs(t, err, ErrMalformedFrame)

	// List frame missing its page field.
	_, err = DecodeRequest(OpList, []byte{0x00, 0x00})
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestDecodeFrameLengthMismatch(t *testing.T) {
	data := make([]byte, 7)
	data[0] = OpCreate
	binary.BigEndian.PutUint32(data[1:5], 10) // only 2 payload bytes follow
	_, _, err := DecodeFrame(data)
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestDecodeFrameTooLarge(t *testing.T) {
	data := make([]byte, 5)
	data[0] = OpCreate
	binary.BigEndian.PutUint32(data[1:5], MaxPayload+1)
	_, _, err := DecodeFrame(data)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestEncodeOversizedText(t *testing.T) {
	big := make([]byte, 0x10000)
	_, err := EncodeRequest(&Request{Op: OpSend, RecipientID: "bob", Text: string(big)})
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestReadFrameStream(t *testing.T) {
	var buf bytes.Buffer
	first, err := EncodeRequest(&Request{Op: OpCreate, UserID: "ream"})
	require.NoError(t, err)
	second, err := EncodeRequest(&Request{Op: OpHealth})
	require.NoError(t, err)
	buf.Write(first)
	buf.Write(second)

	op, _, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, OpCreate, op)

	op, payload, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, OpHealth, op)
	assert.Empty(t, payload)

	_, _, err = ReadFrame(&buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadFrameTruncatedStream(t *testing.T) {
	data, err := EncodeRequest(&Request{Op: OpCreate, UserID: "ream"})
	require.NoError(t, err)

	_, _, err = ReadFrame(bytes.NewReader(data[:len(data)-2]))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
