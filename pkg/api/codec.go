// Package api defines the splitledger RPC surface: wire messages, procedure
// names, handler constructors and typed clients over Connect.
//
// Messages are plain Go structs encoded with JSON; every handler and client
// built here registers Codec so both sides agree on the encoding.
package api

import (
	"encoding/json"

	"connectrpc.com/connect"
)

// CodecName is the Connect codec name, which also selects the
// application/json content type.
const CodecName = "json"

// Codec is a Connect codec for plain structs.
type Codec struct{}

var _ connect.Codec = Codec{}

func (Codec) Name() string { return CodecName }

func (Codec) Marshal(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

func (Codec) Unmarshal(data []byte, msg any) error {
	return json.Unmarshal(data, msg)
}

func handlerOptions(opts []connect.HandlerOption) []connect.HandlerOption {
	return append([]connect.HandlerOption{connect.WithCodec(Codec{})}, opts...)
}

func clientOptions(opts []connect.ClientOption) []connect.ClientOption {
	return append([]connect.ClientOption{connect.WithCodec(Codec{})}, opts...)
}
