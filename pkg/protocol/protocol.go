// Package protocol implements the lightweight binary protocol spoken between the
// proxy's wire store client and a CacheMir-compatible store server.
//
// The protocol is designed for efficiency and simplicity, using binary encoding
// to minimize network overhead. A command is an arbitrary token vector (command
// name followed by its arguments), so any Redis-style command can be carried
// without the protocol knowing about it.
//
// Protocol Format:
//   - All messages are prefixed with a 4-byte length header (big-endian)
//   - Commands are a varint token count followed by length-prefixed tokens
//   - Responses are a type byte followed by a type-specific payload
//
// Example usage:
//
//	cmd := &protocol.Command{Args: []string{"HSET", "user:123", "name", "john"}}
//	if err := protocol.WriteCommand(conn, cmd); err != nil {
//		return err
//	}
//	resp, err := protocol.ReadResponse(conn)
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// Protocol constants
const (
	protocolHeaderSize = 4
	// MaxMessageSize bounds a single framed message.
	MaxMessageSize = 1024 * 1024
)

// ResponseType represents the type of response from the server.
// Different response types carry different data formats.
type ResponseType uint8

// Response type constants define the possible server response formats.
const (
	RespOK     ResponseType = iota // Simple OK response
	RespError                      // Error message response
	RespString                     // String data response
	RespInt                        // Integer data response
	RespArray                      // Array of strings response
	RespNil                        // Null/empty response
	RespStatus                     // Simple status other than OK (e.g. PONG)
)

// Command represents a client request to the store server.
//
// Example:
//
//	cmd := &Command{Args: []string{"SET", "session:abc123", "user_data"}}
type Command struct {
	Args []string // Command name followed by its arguments
}

// Name returns the upper-cased command name, or "" for an empty command.
func (c *Command) Name() string {
	if len(c.Args) == 0 {
		return ""
	}
	return strings.ToUpper(c.Args[0])
}

// Response represents a server response to a client command.
// The response type determines how the Data field should be interpreted.
//
// Example:
//
//	resp := &Response{
//		Type: RespString,
//		Data: "hello world",
//	}
type Response struct {
	Data  interface{}  // The response payload (string, int64, []string)
	Error string       // Error message if Type is RespError
	Type  ResponseType // The type of response data
}

// Serialize converts a Command into its binary representation for network transmission.
// The format uses variable-length encoding for efficiency:
//   - varint: token count
//   - for each token: varint length + token bytes
//
// Returns:
//   - Binary representation of the command
//   - Error if serialization fails
func (c *Command) Serialize() ([]byte, error) {
	if len(c.Args) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	return appendStringSlice(nil, c.Args), nil
}

// DeserializeCommand reconstructs a Command from its binary representation.
// This is the inverse operation of Command.Serialize().
//
// Parameters:
//   - data: Binary data containing the serialized command
//
// Returns:
//   - Reconstructed Command object
//   - Error if deserialization fails or data is corrupted
func DeserializeCommand(data []byte) (*Command, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty command data")
	}

	args, _, err := deserializeStringSlice(data, 0)
	if err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	return &Command{Args: args}, nil
}

func appendString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func appendStringSlice(buf []byte, items []string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(items)))
	for _, item := range items {
		buf = appendString(buf, item)
	}
	return buf
}

func deserializeString(data []byte, offset int, fieldName string) (str string, newOffset int, err error) {
	strLen, n := binary.Uvarint(data[offset:])
	if n <= 0 {
		err = fmt.Errorf("invalid %s length", fieldName)
		return
	}
	if strLen > uint64(len(data)) || strLen > uint64(^uint(0)>>1) {
		err = fmt.Errorf("%s length too large", fieldName)
		return
	}
	offset += n

	strLenInt := int(strLen)
	if offset+strLenInt > len(data) {
		err = fmt.Errorf("%s data truncated", fieldName)
		return
	}
	str = string(data[offset : offset+strLenInt])
	newOffset = offset + strLenInt
	return
}

func deserializeStringSlice(data []byte, offset int) (items []string, newOffset int, err error) {
	count, n := binary.Uvarint(data[offset:])
	if n <= 0 {
		err = fmt.Errorf("invalid item count")
		return
	}
	// Every item needs at least one length byte.
	if count > uint64(len(data)-offset) {
		err = fmt.Errorf("item count too large")
		return
	}
	offset += n

	items = make([]string, count)
	for i := uint64(0); i < count; i++ {
		var item string
		item, offset, err = deserializeString(data, offset, "item")
		if err != nil {
			return
		}
		items[i] = item
	}

	newOffset = offset
	return
}

// Serialize converts a Response into its binary representation for network transmission.
// The format varies by response type:
//   - RespOK/RespNil: just the type byte
//   - RespError/RespString/RespStatus: type + varint length + data bytes
//   - RespInt: type + varint-encoded signed integer
//   - RespArray: type + varint count + (varint length + bytes) for each item
//
// Returns:
//   - Binary representation of the response
//   - Error if the payload does not match the response type
func (r *Response) Serialize() ([]byte, error) {
	buf := []byte{byte(r.Type)}

	switch r.Type {
	case RespOK, RespNil:
		return buf, nil
	case RespError:
		return appendString(buf, r.Error), nil
	case RespString, RespStatus:
		str, ok := r.Data.(string)
		if !ok {
			return nil, fmt.Errorf("response data is not a string")
		}
		return appendString(buf, str), nil
	case RespInt:
		num, ok := r.Data.(int64)
		if !ok {
			return nil, fmt.Errorf("response data is not an int64")
		}
		return binary.AppendVarint(buf, num), nil
	case RespArray:
		arr, ok := r.Data.([]string)
		if !ok {
			return nil, fmt.Errorf("response data is not a string array")
		}
		return appendStringSlice(buf, arr), nil
	}

	return nil, fmt.Errorf("unknown response type: %d", r.Type)
}

// DeserializeResponse reconstructs a Response from its binary representation.
// This is the inverse operation of Response.Serialize().
//
// Parameters:
//   - data: Binary data containing the serialized response
//
// Returns:
//   - Reconstructed Response object
//   - Error if deserialization fails or data is corrupted
func DeserializeResponse(data []byte) (*Response, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty response data")
	}

	resp := &Response{Type: ResponseType(data[0])}
	offset := 1

	switch resp.Type {
	case RespOK, RespNil:
		return resp, nil
	case RespError:
		str, _, err := deserializeString(data, offset, "error")
		if err != nil {
			return nil, err
		}
		resp.Error = str
	case RespString, RespStatus:
		str, _, err := deserializeString(data, offset, "string")
		if err != nil {
			return nil, err
		}
		resp.Data = str
	case RespInt:
		num, n := binary.Varint(data[offset:])
		if n <= 0 {
			return nil, fmt.Errorf("invalid integer")
		}
		resp.Data = num
	case RespArray:
		arr, _, err := deserializeStringSlice(data, offset)
		if err != nil {
			return nil, err
		}
		resp.Data = arr
	default:
		return nil, fmt.Errorf("unknown response type: %d", resp.Type)
	}

	return resp, nil
}

// WriteResponse writes a Response to the given writer with proper framing.
// The response is serialized and prefixed with a 4-byte length header.
func WriteResponse(w io.Writer, resp *Response) error {
	data, err := resp.Serialize()
	if err != nil {
		return err
	}
	return writeFrame(w, data)
}

// ReadResponse reads a Response from the given reader.
// It first reads the 4-byte length header, then reads and deserializes
// the response data. Includes protection against oversized messages.
func ReadResponse(r io.Reader) (*Response, error) {
	data, err := readFrame(r, "response")
	if err != nil {
		return nil, err
	}
	return DeserializeResponse(data)
}

// WriteCommand writes a Command to the given writer with proper framing.
// The command is serialized and prefixed with a 4-byte length header.
//
// Example:
//
//	cmd := &Command{Args: []string{"GET", "mykey"}}
//	err := protocol.WriteCommand(conn, cmd)
func WriteCommand(w io.Writer, cmd *Command) error {
	data, err := cmd.Serialize()
	if err != nil {
		return err
	}
	return writeFrame(w, data)
}

// ReadCommand reads a Command from the given reader.
// It first reads the 4-byte length header, then reads and deserializes
// the command data. Includes protection against oversized messages.
func ReadCommand(r io.Reader) (*Command, error) {
	data, err := readFrame(r, "command")
	if err != nil {
		return nil, err
	}
	return DeserializeCommand(data)
}

// writeFrame sends header and payload in one Write so a frame is never split
// across concurrent writers.
func writeFrame(w io.Writer, data []byte) error {
	dataLen := len(data)
	if dataLen > MaxMessageSize {
		return fmt.Errorf("data too large: %d bytes", dataLen)
	}

	frame := make([]byte, protocolHeaderSize, protocolHeaderSize+dataLen)
	binary.BigEndian.PutUint32(frame, uint32(dataLen))
	frame = append(frame, data...)

	_, err := w.Write(frame)
	return err
}

func readFrame(r io.Reader, what string) ([]byte, error) {
	lengthBuf := make([]byte, protocolHeaderSize)
	if _, err := io.ReadFull(r, lengthBuf); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(lengthBuf)
	if length > MaxMessageSize {
		return nil, fmt.Errorf("%s too large: %d bytes", what, length)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}
