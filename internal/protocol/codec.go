package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

var (
	ErrBadMessage   = errors.New("bad message")
	ErrUnknownCodec = errors.New("unknown codec")
)

// Codec turns messages into frame payloads and back.
// Binary reports whether frames go out as binary or text websocket messages.
type Codec interface {
	Name() string
	Binary() bool
	Encode(msg Message) ([]byte, error)
	Decode(raw []byte) (Message, error)
}

// NewCodec returns the codec registered under name
func NewCodec(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "msgpack":
		return MsgpackCodec{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
}

type payloadDecoder func(unmarshal func(v interface{}) error) (Message, error)

func decodeAs[T Message](unmarshal func(v interface{}) error) (Message, error) {
	var m T
	if err := unmarshal(&m); err != nil {
		return nil, err
	}
	return m, nil
}

var payloadDecoders = map[string]payloadDecoder{
	MsgConnect:     decodeAs[Connect],
	MsgConnected:   decodeAs[Connected],
	MsgPlayerJoin:  decodeAs[PlayerJoin],
	MsgPlayerLeave: decodeAs[PlayerLeave],
	MsgPlayerInput: decodeAs[PlayerInput],
	MsgGameState:   decodeAs[GameState],
	MsgPlayerDead:  decodeAs[PlayerDead],
	MsgError:       decodeAs[Error],
	MsgPing:        decodeAs[Ping],
	MsgPong:        decodeAs[Pong],
}

func decodePayload(t string, unmarshal func(v interface{}) error) (Message, error) {
	if t == "" {
		return nil, fmt.Errorf("%w: missing type", ErrBadMessage)
	}
	dec, ok := payloadDecoders[t]
	if !ok {
		return nil, fmt.Errorf("%w: unknown type %q", ErrBadMessage, t)
	}
	msg, err := dec(unmarshal)
	if err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", ErrBadMessage, t, err)
	}
	return msg, nil
}

// JSONCodec sends envelopes as JSON text frames
type JSONCodec struct{}

// inEnvelope is used for incoming messages; json.RawMessage defers the payload until the type is known
type inEnvelope struct {
	T string          `json:"t"`
	D json.RawMessage `json:"d,omitempty"`
}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Binary() bool { return false }

func (JSONCodec) Encode(msg Message) ([]byte, error) {
	return json.Marshal(Wrap(msg))
}

func (JSONCodec) Decode(raw []byte) (Message, error) {
	var env inEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	return decodePayload(env.T, func(v interface{}) error {
		if len(env.D) == 0 {
			return nil
		}
		return json.Unmarshal(env.D, v)
	})
}

// MsgpackCodec sends envelopes as msgpack binary frames.
// Field names come from the json tags so both codecs share one schema.
type MsgpackCodec struct{}

type msgpackInEnvelope struct {
	T string             `json:"t"`
	D msgpack.RawMessage `json:"d,omitempty"`
}

func (MsgpackCodec) Name() string { return "msgpack" }

func (MsgpackCodec) Binary() bool { return true }

func (MsgpackCodec) Encode(msg Message) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(Wrap(msg)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (MsgpackCodec) Decode(raw []byte) (Message, error) {
	var env msgpackInEnvelope
	if err := msgpackUnmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	return decodePayload(env.T, func(v interface{}) error {
		if len(env.D) == 0 {
			return nil
		}
		return msgpackUnmarshal(env.D, v)
	})
}

func msgpackUnmarshal(raw []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(raw))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}
