package protocol

import (
	"encoding/json"
	"fmt"
	"sync"

	"google.golang.org/protobuf/proto"

	"github.com/luciancaetano/actornet"
)

// Codec unmarshals a payload into a freshly allocated body value.
type Codec interface {
	Name() string
	Unmarshal(data []byte, v any) error
}

// ProtoCodec decodes protobuf wire format. Bodies must implement proto.Message.
type ProtoCodec struct{}

func (ProtoCodec) Name() string { return "proto" }

func (ProtoCodec) Unmarshal(data []byte, v any) error {
	m, ok := v.(proto.Message)
	if !ok {
		return fmt.Errorf("%T is not a proto.Message", v)
	}
	return proto.Unmarshal(data, m)
}

// JSONCodec decodes JSON payloads.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

type bodyType struct {
	codec Codec
	alloc func() any
}

// Decoder turns frames into messages, decoding the payload of every command
// that has a registered body type.
type Decoder struct {
	mu    sync.RWMutex
	types map[uint32]bodyType
}

func NewDecoder() *Decoder {
	return &Decoder{types: make(map[uint32]bodyType)}
}

// RegisterProto declares that payloads of commandID are protobuf messages
// allocated by alloc.
func (d *Decoder) RegisterProto(commandID uint32, alloc func() proto.Message) {
	d.register(commandID, ProtoCodec{}, func() any { return alloc() })
}

// RegisterJSON declares that payloads of commandID are JSON documents decoded
// into the pointer returned by alloc.
func (d *Decoder) RegisterJSON(commandID uint32, alloc func() any) {
	d.register(commandID, JSONCodec{}, alloc)
}

func (d *Decoder) register(commandID uint32, codec Codec, alloc func() any) {
	d.mu.Lock()
	d.types[commandID] = bodyType{codec: codec, alloc: alloc}
	d.mu.Unlock()
}

// Decode parses frame. Commands without a registered body type decode to a
// message with a nil Body. Any failure is wrapped in actornet.ErrDecode.
func (d *Decoder) Decode(channelID string, frame []byte) (*actornet.Message, error) {
	commandID, payload, err := Decode(frame)
	if err != nil {
		return nil, fmt.Errorf("%w: channel %s: %v", actornet.ErrDecode, channelID, err)
	}

	msg := &actornet.Message{ID: commandID, Payload: payload}

	d.mu.RLock()
	bt, ok := d.types[commandID]
	d.mu.RUnlock()
	if !ok {
		return msg, nil
	}

	body := bt.alloc()
	if err := bt.codec.Unmarshal(payload, body); err != nil {
		return nil, fmt.Errorf("%w: channel %s: command 0x%X: %s: %v",
			actornet.ErrDecode, channelID, commandID, bt.codec.Name(), err)
	}
	msg.Body = body
	return msg, nil
}
