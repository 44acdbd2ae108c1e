// Package json provides JSON serialization with pooled buffers and decoders
package json

import (
	"bytes"
	"io"
	"strconv"
	"sync"

	gojson "github.com/goccy/go-json"
)

// Number is the literal form produced by decoders with UseNumber enabled.
type Number = gojson.Number

var bufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 4096))
	},
}

// GetDecoder returns a decoder that keeps numbers as Number so that integers
// survive decoding without float rounding. Pair with NormalizeNumbers.
func GetDecoder(r io.Reader) *gojson.Decoder {
	dec := gojson.NewDecoder(r)
	dec.UseNumber()
	return dec
}

// GetBuffer gets a pooled bytes.Buffer
func GetBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer returns a buffer to the pool
func PutBuffer(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > 1<<20 {
		return
	}
	bufferPool.Put(buf)
}

// Marshal is a drop-in replacement for json.Marshal
func Marshal(v interface{}) ([]byte, error) {
	return gojson.Marshal(v)
}

// Unmarshal is a drop-in replacement for json.Unmarshal
func Unmarshal(data []byte, v interface{}) error {
	return gojson.Unmarshal(data, v)
}

// MarshalToBuffer marshals v to a pooled buffer without HTML escaping.
// The caller owns the buffer and should return it with PutBuffer.
func MarshalToBuffer(v interface{}) (*bytes.Buffer, error) {
	buf := GetBuffer()
	enc := gojson.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		PutBuffer(buf)
		return nil, err
	}
	// Encoder appends a newline
	if n := buf.Len(); n > 0 && buf.Bytes()[n-1] == '\n' {
		buf.Truncate(n - 1)
	}
	return buf, nil
}

// MarshalString encodes v the way it is stored in a text column.
func MarshalString(v interface{}) (string, error) {
	buf, err := MarshalToBuffer(v)
	if err != nil {
		return "", err
	}
	defer PutBuffer(buf)
	return buf.String(), nil
}

// NormalizeNumbers walks a decoded value and replaces Number with int64 when
// the literal is integral, float64 otherwise.
func NormalizeNumbers(v interface{}) interface{} {
	switch val := v.(type) {
	case Number:
		s := string(val)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
		return s
	case map[string]interface{}:
		for k, item := range val {
			val[k] = NormalizeNumbers(item)
		}
		return val
	case []interface{}:
		for i, item := range val {
			val[i] = NormalizeNumbers(item)
		}
		return val
	default:
		return v
	}
}
