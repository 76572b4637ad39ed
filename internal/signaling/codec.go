package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/BioHazard786/slotmesh/internal/errs"
	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec turns envelopes into websocket frames and back.
type Codec interface {
	Name() string
	FrameType() int
	Encode(m *Message) ([]byte, error)
	Decode(b []byte) (*Message, error)
}

const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
)

func CodecByName(name string) (Codec, error) {
	switch name {
	case "", CodecJSON:
		return JSONCodec{}, nil
	case CodecMsgpack:
		return MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown signaling codec %q", name)
	}
}

// JSONCodec is the default text codec: {type, data, senderId, targetPeerId, timestamp}.
type JSONCodec struct{}

type jsonEnvelope struct {
	Type         Type            `json:"type"`
	Data         json.RawMessage `json:"data"`
	SenderID     string          `json:"senderId"`
	TargetPeerID *string         `json:"targetPeerId"`
	Timestamp    int64           `json:"timestamp"`
}

func (JSONCodec) Name() string   { return CodecJSON }
func (JSONCodec) FrameType() int { return websocket.TextMessage }

func (JSONCodec) Encode(m *Message) ([]byte, error) {
	data, err := json.Marshal(m.Data)
	if err != nil {
		return nil, errs.New("encode "+string(m.Type), err)
	}
	return json.Marshal(jsonEnvelope{
		Type:         m.Type,
		Data:         data,
		SenderID:     m.SenderID,
		TargetPeerID: optional(m.TargetPeerID),
		Timestamp:    m.Timestamp,
	})
}

func (JSONCodec) Decode(b []byte) (*Message, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, errs.New("decode envelope", err)
	}
	p, err := newPayload(env.Type)
	if err != nil {
		return nil, err
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, p); err != nil {
			return nil, errs.New("decode "+string(env.Type), err)
		}
	}
	return &Message{
		Type:         env.Type,
		Data:         deref(p),
		SenderID:     env.SenderID,
		TargetPeerID: value(env.TargetPeerID),
		Timestamp:    env.Timestamp,
	}, nil
}

// MsgpackCodec is a binary codec using the same field names as JSONCodec.
type MsgpackCodec struct{}

type msgpackEnvelope struct {
	Type         Type               `json:"type"`
	Data         msgpack.RawMessage `json:"data"`
	SenderID     string             `json:"senderId"`
	TargetPeerID *string            `json:"targetPeerId"`
	Timestamp    int64              `json:"timestamp"`
}

func (MsgpackCodec) Name() string   { return CodecMsgpack }
func (MsgpackCodec) FrameType() int { return websocket.BinaryMessage }

func (c MsgpackCodec) Encode(m *Message) ([]byte, error) {
	data, err := c.marshal(m.Data)
	if err != nil {
		return nil, errs.New("encode "+string(m.Type), err)
	}
	return c.marshal(msgpackEnvelope{
		Type:         m.Type,
		Data:         data,
		SenderID:     m.SenderID,
		TargetPeerID: optional(m.TargetPeerID),
		Timestamp:    m.Timestamp,
	})
}

func (c MsgpackCodec) Decode(b []byte) (*Message, error) {
	var env msgpackEnvelope
	if err := c.unmarshal(b, &env); err != nil {
		return nil, errs.New("decode envelope", err)
	}
	p, err := newPayload(env.Type)
	if err != nil {
		return nil, err
	}
	if len(env.Data) > 0 {
		if err := c.unmarshal(env.Data, p); err != nil {
			return nil, errs.New("decode "+string(env.Type), err)
		}
	}
	return &Message{
		Type:         env.Type,
		Data:         deref(p),
		SenderID:     env.SenderID,
		TargetPeerID: value(env.TargetPeerID),
		Timestamp:    env.Timestamp,
	}, nil
}

func (MsgpackCodec) marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (MsgpackCodec) unmarshal(b []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func value(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
