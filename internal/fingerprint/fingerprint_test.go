package fingerprint

import (
	"encoding/json"
	"testing"
)

func TestOfRawIgnoresKeyOrder(t *testing.T) {
	a := json.RawMessage(`{"height":"750","shelfWidth":"1000","numberOfColumns":"5"}`)
	b := json.RawMessage(`{"numberOfColumns":"5","height":"750","shelfWidth":"1000"}`)

	fpA, err := OfRaw(a)
	if err != nil {
		t.Fatalf("OfRaw(a) error = %v", err)
	}
	fpB, err := OfRaw(b)
	if err != nil {
		t.Fatalf("OfRaw(b) error = %v", err)
	}
	if fpA != fpB {
		t.Fatalf("OfRaw(), got %q and %q, want equal digests", fpA, fpB)
	}
	if len(fpA) != 32 {
		t.Fatalf("OfRaw() digest length = %d, want 32", len(fpA))
	}
}

func TestOfRawNestedObjects(t *testing.T) {
	a := json.RawMessage(`{"params":{"height":"750","shelfWidth":"1000"},"screenshot":{"width":800,"height":600}}`)
	b := json.RawMessage(`{"screenshot":{"height":600,"width":800},"params":{"shelfWidth":"1000","height":"750"}}`)

	fpA, err := OfRaw(a)
	if err != nil {
		t.Fatalf("OfRaw(a) error = %v", err)
	}
	fpB, err := OfRaw(b)
	if err != nil {
		t.Fatalf("OfRaw(b) error = %v", err)
	}
	if fpA != fpB {
		t.Fatalf("OfRaw(), got %q and %q, want equal digests", fpA, fpB)
	}
}

func TestOfRawDistinguishesContent(t *testing.T) {
	a := json.RawMessage(`{"height":"750"}`)
	b := json.RawMessage(`{"height":"751"}`)

	fpA, err := OfRaw(a)
	if err != nil {
		t.Fatalf("OfRaw(a) error = %v", err)
	}
	fpB, err := OfRaw(b)
	if err != nil {
		t.Fatalf("OfRaw(b) error = %v", err)
	}
	if fpA == fpB {
		t.Fatalf("OfRaw() digests collide for different content: %q", fpA)
	}
}

func TestOfStructAndMapAgree(t *testing.T) {
	type params struct {
		Height string `json:"height"`
		Width  string `json:"shelfWidth"`
	}
	fpStruct, err := Of(params{Height: "750", Width: "1000"})
	if err != nil {
		t.Fatalf("Of(struct) error = %v", err)
	}
	fpMap, err := Of(map[string]string{"shelfWidth": "1000", "height": "750"})
	if err != nil {
		t.Fatalf("Of(map) error = %v", err)
	}
	if fpStruct != fpMap {
		t.Fatalf("Of(), got %q and %q, want equal digests", fpStruct, fpMap)
	}
}

func TestOfRawRejectsMalformed(t *testing.T) {
	if _, err := OfRaw(json.RawMessage(`{"height":`)); err == nil {
		t.Fatalf("OfRaw() expected error for malformed JSON")
	}
}
