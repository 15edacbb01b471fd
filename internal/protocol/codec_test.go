package protocol

import (
	"encoding/json"
	"testing"
)

func TestCodecFor(t *testing.T) {
	if CodecFor(SubprotocolCBOR) != CBOR {
		t.Error("expected CBOR codec for cbor subprotocol")
	}
	if CodecFor("") != JSON || CodecFor("whatever") != JSON {
		t.Error("expected JSON codec by default")
	}
}

func TestCBORCodec_TranscodesPayloadAndResult(t *testing.T) {
	in := NewResult("42", ChannelFileList, OK([]FileInfo{{Name: "a.go", Size: 12}}))
	in.Payload = json.RawMessage(`{"path":"/p","depth":2,"ratio":0.5}`)

	data, err := CBOR.Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := CBOR.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if out.Kind != KindResult || out.ID != "42" || out.Channel != ChannelFileList {
		t.Errorf("header mismatch: %+v", out)
	}
	if !out.Timestamp.Equal(in.Timestamp) {
		t.Errorf("timestamp %v != %v", out.Timestamp, in.Timestamp)
	}

	var payload struct {
		Path  string  `json:"path"`
		Depth int     `json:"depth"`
		Ratio float64 `json:"ratio"`
	}
	if err := json.Unmarshal(out.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.Path != "/p" || payload.Depth != 2 || payload.Ratio != 0.5 {
		t.Errorf("payload = %+v", payload)
	}

	var files []FileInfo
	if err := out.Result.Decode(&files); err != nil {
		t.Fatalf("result decode: %v", err)
	}
	if len(files) != 1 || files[0].Name != "a.go" || files[0].Size != 12 {
		t.Errorf("files = %+v", files)
	}
}

func TestJSONCodec_InvalidInput(t *testing.T) {
	if _, err := JSON.Decode([]byte("not json")); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	if _, err := CBOR.Decode([]byte{0xff, 0x00}); err == nil {
		t.Fatal("expected error for invalid CBOR")
	}
}
