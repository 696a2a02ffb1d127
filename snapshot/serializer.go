package snapshot

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// Serializer names accepted in configuration.
const (
	SerializerMsgpack = "msgpack"
	SerializerCBOR    = "cbor"
	SerializerJSON    = "json"
)

// NewSerializer returns the serializer called name.
func NewSerializer(name string) (Serializer, error) {
	switch name {
	case SerializerMsgpack, "":
		return MsgpackSerializer{}, nil
	case SerializerCBOR:
		return NewCBORSerializer()
	case SerializerJSON:
		return JSONSerializer{}, nil
	}
	return nil, fmt.Errorf("unknown snapshot serializer %q", name)
}

// MsgpackSerializer is the default: compact and fast for byte-heavy records.
type MsgpackSerializer struct{}

func (MsgpackSerializer) Name() string { return SerializerMsgpack }

func (MsgpackSerializer) Serialize(r Record) ([]byte, error) {
	return msgpack.Marshal(r)
}

func (MsgpackSerializer) Deserialize(data []byte) (Record, error) {
	var r Record
	err := msgpack.Unmarshal(data, &r)
	return r, err
}

// CBORSerializer uses core deterministic encoding so equal records encode
// to equal bytes.
type CBORSerializer struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func NewCBORSerializer() (*CBORSerializer, error) {
	eo := cbor.CoreDetEncOptions()
	eo.Time = cbor.TimeRFC3339Nano
	enc, err := eo.EncMode()
	if err != nil {
		return nil, err
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, err
	}
	return &CBORSerializer{enc: enc, dec: dec}, nil
}

func (*CBORSerializer) Name() string { return SerializerCBOR }

func (s *CBORSerializer) Serialize(r Record) ([]byte, error) {
	return s.enc.Marshal(r)
}

func (s *CBORSerializer) Deserialize(data []byte) (Record, error) {
	var r Record
	err := s.dec.Unmarshal(data, &r)
	return r, err
}

// JSONSerializer is human readable, handy when inspecting redis by hand.
type JSONSerializer struct{}

func (JSONSerializer) Name() string { return SerializerJSON }

func (JSONSerializer) Serialize(r Record) ([]byte, error) {
	return json.Marshal(r)
}

func (JSONSerializer) Deserialize(data []byte) (Record, error) {
	var r Record
	err := json.Unmarshal(data, &r)
	return r, err
}
