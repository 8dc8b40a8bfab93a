package rpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// CodecName 请求使用的 content-subtype，对应 application/grpc+json
const CodecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec 用 JSON 编码 gRPC 消息，消息类型与 REST 接口共用
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return CodecName
}
