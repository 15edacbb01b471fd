package protocol

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Subprotocol names negotiated on the WebSocket upgrade.
const (
	SubprotocolJSON = "vibes.json"
	SubprotocolCBOR = "vibes.cbor"
)

// Codec turns envelopes into frames and back.
type Codec interface {
	Subprotocol() string
	// Binary reports whether frames are binary rather than text.
	Binary() bool
	Encode(env *Envelope) ([]byte, error)
	Decode(data []byte) (*Envelope, error)
}

// CodecFor returns the codec for a negotiated subprotocol. Anything
// other than the CBOR subprotocol gets JSON.
func CodecFor(subprotocol string) Codec {
	if subprotocol == SubprotocolCBOR {
		return CBOR
	}
	return JSON
}

var (
	JSON Codec = jsonCodec{}
	CBOR Codec = cborCodec{}
)

type jsonCodec struct{}

func (jsonCodec) Subprotocol() string { return SubprotocolJSON }
func (jsonCodec) Binary() bool        { return false }

func (jsonCodec) Encode(env *Envelope) ([]byte, error) {
	return json.Marshal(env)
}

func (jsonCodec) Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return &env, nil
}

// The CBOR codec transcodes: payloads stay JSON inside the host and are
// converted to native CBOR values on the wire.
var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	cborEnc, err = encOptions.EncMode()
	if err != nil {
		panic("protocol: CBOR encoder initialization failed: " + err.Error())
	}
	cborDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("protocol: CBOR decoder initialization failed: " + err.Error())
	}
}

type cborEnvelope struct {
	Kind      Kind        `cbor:"kind"`
	ID        string      `cbor:"id,omitempty"`
	Channel   Channel     `cbor:"channel,omitempty"`
	Channels  []Channel   `cbor:"channels,omitempty"`
	Payload   any         `cbor:"payload,omitempty"`
	Result    *cborResult `cbor:"result,omitempty"`
	Timestamp time.Time   `cbor:"timestamp"`
}

type cborResult struct {
	Success bool   `cbor:"success"`
	Data    any    `cbor:"data,omitempty"`
	Error   *Error `cbor:"error,omitempty"`
}

type cborCodec struct{}

func (cborCodec) Subprotocol() string { return SubprotocolCBOR }
func (cborCodec) Binary() bool        { return true }

func (cborCodec) Encode(env *Envelope) ([]byte, error) {
	wire := cborEnvelope{
		Kind:      env.Kind,
		ID:        env.ID,
		Channel:   env.Channel,
		Channels:  env.Channels,
		Timestamp: env.Timestamp,
	}
	var err error
	if wire.Payload, err = fromJSON(env.Payload); err != nil {
		return nil, fmt.Errorf("transcode payload: %w", err)
	}
	if env.Result != nil {
		wire.Result = &cborResult{Success: env.Result.Success, Error: env.Result.Error}
		if wire.Result.Data, err = fromJSON(env.Result.Data); err != nil {
			return nil, fmt.Errorf("transcode result: %w", err)
		}
	}
	return cborEnc.Marshal(wire)
}

func (cborCodec) Decode(data []byte) (*Envelope, error) {
	var wire cborEnvelope
	if err := cborDec.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("invalid CBOR: %w", err)
	}
	env := &Envelope{
		Kind:      wire.Kind,
		ID:        wire.ID,
		Channel:   wire.Channel,
		Channels:  wire.Channels,
		Timestamp: wire.Timestamp,
	}
	if wire.Payload != nil {
		raw, err := json.Marshal(wire.Payload)
		if err != nil {
			return nil, fmt.Errorf("transcode payload: %w", err)
		}
		env.Payload = raw
	}
	if wire.Result != nil {
		result := Result{Success: wire.Result.Success, Error: wire.Result.Error}
		if wire.Result.Data != nil {
			raw, err := json.Marshal(wire.Result.Data)
			if err != nil {
				return nil, fmt.Errorf("transcode result: %w", err)
			}
			result.Data = raw
		}
		env.Result = &result
	}
	return env, nil
}

// fromJSON decodes raw JSON into plain Go values, keeping integral
// numbers as integers so they encode as CBOR integers.
func fromJSON(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return integralize(v), nil
}

func integralize(v any) any {
	switch value := v.(type) {
	case float64:
		if value == math.Trunc(value) && math.Abs(value) < 1<<53 {
			return int64(value)
		}
		return value
	case map[string]any:
		for k, item := range value {
			value[k] = integralize(item)
		}
		return value
	case []any:
		for i, item := range value {
			value[i] = integralize(item)
		}
		return value
	default:
		return v
	}
}
