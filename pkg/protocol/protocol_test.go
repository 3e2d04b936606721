package protocol

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandFraming(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	cmd := &Command{Args: []string{"hset", "user:1", "bio", "two words\nand a newline", ""}}
	require.NoError(t, WriteCommand(&buf, cmd))

	got, err := ReadCommand(&buf)
	require.NoError(t, err)
	assert.Equal(t, cmd.Args, got.Args)
	assert.Equal(t, "HSET", got.Name())
	assert.Zero(t, buf.Len())
}

func TestEmptyCommandRejected(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	assert.Error(t, WriteCommand(&buf, &Command{}))
	assert.Equal(t, "", (&Command{}).Name())

	_, err := DeserializeCommand([]byte{0})
	assert.Error(t, err)
}

func TestResponseFraming(t *testing.T) {
	t.Parallel()

	responses := []*Response{
		{Type: RespOK},
		{Type: RespNil},
		{Type: RespStatus, Data: "PONG"},
		{Type: RespString, Data: "hello"},
		{Type: RespInt, Data: int64(-42)},
		{Type: RespArray, Data: []string{"a", "", "c"}},
		{Type: RespArray, Data: []string{}},
		{Type: RespError, Error: "WRONGTYPE Operation against a key holding the wrong kind of value"},
	}

	var buf bytes.Buffer
	for _, resp := range responses {
		require.NoError(t, WriteResponse(&buf, resp))
	}
	for _, want := range responses {
		got, err := ReadResponse(&buf)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestResponseSerializeRejectsMismatchedPayload(t *testing.T) {
	t.Parallel()

	_, err := (&Response{Type: RespInt, Data: "42"}).Serialize()
	assert.Error(t, err)
	_, err = (&Response{Type: RespArray, Data: "a"}).Serialize()
	assert.Error(t, err)
	_, err = (&Response{Type: ResponseType(99)}).Serialize()
	assert.Error(t, err)
}

func TestCorruptData(t *testing.T) {
	t.Parallel()

	_, err := DeserializeResponse(nil)
	assert.Error(t, err)

	// Declared length fits the buffer but runs past its end.
	_, err = DeserializeResponse([]byte{byte(RespString), 2, 'a'})
	assert.ErrorContains(t, err, "truncated")

	// Declared length exceeds the whole buffer.
	_, err = DeserializeResponse([]byte{byte(RespString), 10, 'a'})
	assert.ErrorContains(t, err, "too large")

	_, err = DeserializeResponse([]byte{byte(ResponseType(99))})
	assert.Error(t, err)

	// A token count larger than the payload can possibly hold.
	_, err = DeserializeCommand([]byte{0xff, 0xff, 0x03})
	assert.ErrorContains(t, err, "too large")
}

func TestOversizedFrames(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	big := strings.Repeat("x", MaxMessageSize)
	assert.Error(t, WriteCommand(&buf, &Command{Args: []string{"SET", "k", big}}))
	assert.Zero(t, buf.Len())

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, MaxMessageSize+1)
	_, err := ReadResponse(bytes.NewReader(header))
	assert.ErrorContains(t, err, "too large")
}
