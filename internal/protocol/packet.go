// Package protocol implements the wire-level Packet envelope and the frame
// codec it travels over: a length-prefixed, byte-permuted JSON message
// exchanged over a TCP stream. See internal/cipher for the permutation
// itself.
package protocol

import "encoding/json"

// Packet is a JSON-backed name/value envelope. Every request/response
// carries at minimum "command" and "data"; the winner announcement adds a
// further top-level key ("winner" or "draw"), which is why the type is a
// bare map rather than a fixed struct. Hint results carry "result" and
// "finished" inside data.
type Packet map[string]any

// NewPacket builds a Packet with the required command/data shape.
func NewPacket(command string, data map[string]any) Packet {
	if data == nil {
		data = map[string]any{}
	}
	return Packet{
		"command": command,
		"data":    data,
	}
}

// NewError builds a response Packet carrying a human-readable error under
// data.error, the shape every short RPC uses to surface a failure.
func NewError(command, message string) Packet {
	return NewPacket(command, map[string]any{"error": message})
}

// Command returns the packet's "command" field, or "" if absent/not a
// string.
func (p Packet) Command() string {
	c, _ := p["command"].(string)
	return c
}

// Data returns the packet's "data" object, or an empty map if absent/not an
// object.
func (p Packet) Data() map[string]any {
	d, ok := p["data"].(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return d
}

// String reads a string field out of data, defaulting to "" when absent or
// of the wrong type.
func (p Packet) String(key string) string {
	v, _ := p.Data()[key].(string)
	return v
}

// Int reads a numeric field out of data as an int. JSON numbers decode to
// float64, so this covers the common case of a command's integer
// arguments (board_size, player_count, game_id, row, column, max_hint).
func (p Packet) Int(key string) int {
	switch v := p.Data()[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// Bool reads a boolean field out of data, defaulting to false.
func (p Packet) Bool(key string) bool {
	v, _ := p.Data()[key].(bool)
	return v
}

// Encode serializes the packet to canonical JSON. Go's encoding/json sorts
// map keys lexicographically, which gives callers a stable byte
// representation for free.
func Encode(p Packet) ([]byte, error) {
	return json.Marshal(p)
}

// Decode parses JSON into a Packet.
func Decode(b []byte) (Packet, error) {
	var p Packet
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, err
	}
	return p, nil
}
