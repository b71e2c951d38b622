package runkv

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
)

// Serializer turns dictionary values into payload bytes and back. Ext
// names the payload artifact extension; an empty Ext means the
// serializer carries no payload and entries are metadata only.
type Serializer interface {
	Ext() string
	Encode(v any) ([]byte, error)
	Decode(data []byte) (any, error)
}

// JSONSerializer is the default. Values round-trip through JSON, so
// numbers come back as float64 and objects as map[string]any.
type JSONSerializer struct{}

func (JSONSerializer) Ext() string { return "json" }

func (JSONSerializer) Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return data, nil
}

func (JSONSerializer) Decode(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return v, nil
}

// GobSerializer stores arbitrary Go values. Callers must register
// concrete types with gob.Register before encoding interface-typed
// values.
type GobSerializer struct{}

func (GobSerializer) Ext() string { return "gob" }

func (GobSerializer) Encode(v any) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := gob.NewEncoder(buf).Encode(&v); err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return buf.Bytes(), nil
}

func (GobSerializer) Decode(data []byte) (any, error) {
	var v any
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return v, nil
}

// StringSerializer stores string values verbatim.
type StringSerializer struct{}

func (StringSerializer) Ext() string { return "txt" }

func (StringSerializer) Encode(v any) ([]byte, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("string serializer got %T", v)
	}
	return []byte(s), nil
}

func (StringSerializer) Decode(data []byte) (any, error) {
	return string(data), nil
}

// BytesSerializer stores raw byte slices verbatim.
type BytesSerializer struct{}

func (BytesSerializer) Ext() string { return "bin" }

func (BytesSerializer) Encode(v any) ([]byte, error) {
	b, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("bytes serializer got %T", v)
	}
	return b, nil
}

func (BytesSerializer) Decode(data []byte) (any, error) {
	return data, nil
}

// NopSerializer stores no payload. Entries carry metadata only and
// reads return nil values.
type NopSerializer struct{}

func (NopSerializer) Ext() string { return "" }

func (NopSerializer) Encode(v any) ([]byte, error) { return nil, nil }

func (NopSerializer) Decode(data []byte) (any, error) { return nil, nil }
