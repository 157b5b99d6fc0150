// ABOUTME: Wire codecs for agent payloads negotiated by content type
// ABOUTME: JSON for text clients, CBOR for compact binary maps

package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Content types understood by the gateway.
const (
	ContentTypeJSON = "application/json"
	ContentTypeCBOR = "application/cbor"
)

// ErrUnsupportedContentType is returned for media types without a codec.
var ErrUnsupportedContentType = errors.New("unsupported content type")

// ErrNotAMap is returned when a payload decodes to something other than a map.
var ErrNotAMap = errors.New("payload is not a map")

// Codec encodes and decodes one wire format.
type Codec interface {
	ContentType() string
	Decode(data []byte) (map[string]any, error)
	Encode(v any) ([]byte, error)
}

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error

	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	// Agents only send string-keyed maps; decoding nested maps as
	// map[string]any keeps payloads compatible with encoding/json.
	cborDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

type jsonCodec struct{}

func (jsonCodec) ContentType() string { return ContentTypeJSON }

func (jsonCodec) Decode(data []byte) (map[string]any, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decoding JSON: %w", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, ErrNotAMap
	}
	return m, nil
}

func (jsonCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

type cborCodec struct{}

func (cborCodec) ContentType() string { return ContentTypeCBOR }

func (cborCodec) Decode(data []byte) (map[string]any, error) {
	var v any
	if err := cborDec.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decoding CBOR: %w", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, ErrNotAMap
	}
	return m, nil
}

func (cborCodec) Encode(v any) ([]byte, error) {
	return cborEnc.Marshal(v)
}

// JSON is the JSON codec.
var JSON Codec = jsonCodec{}

// CBOR is the CBOR codec.
var CBOR Codec = cborCodec{}

// ForContentType returns the codec for a Content-Type header value.
// An empty header selects JSON.
func ForContentType(header string) (Codec, error) {
	if strings.TrimSpace(header) == "" {
		return JSON, nil
	}
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedContentType, header)
	}
	switch mediaType {
	case ContentTypeJSON:
		return JSON, nil
	case ContentTypeCBOR:
		return CBOR, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedContentType, mediaType)
	}
}

// DecodeReader reads all of r and decodes it with c.
// An empty body decodes to an empty map.
func DecodeReader(c Codec, r io.Reader) (map[string]any, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]any{}, nil
	}
	return c.Decode(data)
}
