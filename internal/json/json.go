// Package json routes encoding through jsoniter with standard library semantics.
package json

import (
	stdjson "encoding/json"

	jsoniter "github.com/json-iterator/go"
)

var (
	JSON = jsoniter.ConfigCompatibleWithStandardLibrary

	Marshal    = JSON.Marshal
	Unmarshal  = JSON.Unmarshal
	NewDecoder = JSON.NewDecoder
	NewEncoder = JSON.NewEncoder
)

// RawMessage is a raw encoded JSON value.
type RawMessage = stdjson.RawMessage
