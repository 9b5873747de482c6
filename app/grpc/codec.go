package grpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/protoadapt"
	"google.golang.org/protobuf/types/known/structpb"
)

// CodecName replaces grpc's default protobuf codec. Generated messages such
// as the health service keep their own encoding; the payment request and
// response structs travel as a google.protobuf.Struct.
const CodecName = "proto"

type structCodec struct{}

func (structCodec) Marshal(v interface{}) ([]byte, error) {
	if msg := protoMessage(v); msg != nil {
		return proto.Marshal(msg)
	}

	msg, err := toStruct(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return proto.Marshal(msg)
}

func (structCodec) Unmarshal(data []byte, v interface{}) error {
	if msg := protoMessage(v); msg != nil {
		return proto.Unmarshal(data, msg)
	}

	msg := &structpb.Struct{}
	if err := proto.Unmarshal(data, msg); err != nil {
		return err
	}
	raw, err := json.Marshal(msg.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

func (structCodec) Name() string {
	return CodecName
}

// toStruct goes through the json tags so both transports share field names.
func toStruct(v interface{}) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	fields := map[string]interface{}{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return structpb.NewStruct(fields)
}

func protoMessage(v interface{}) proto.Message {
	switch msg := v.(type) {
	case protoadapt.MessageV2:
		return msg
	case protoadapt.MessageV1:
		return protoadapt.MessageV2Of(msg)
	}
	return nil
}

func init() {
	encoding.RegisterCodec(structCodec{})
}
