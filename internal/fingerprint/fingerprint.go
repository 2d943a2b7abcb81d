// Package fingerprint derives deterministic digests for parameter sets.
// The digest is the cache key and the artifact base name, so two requests
// carrying the same parameters (in any key order) must map to the same
// objects in storage.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Of canonicalizes a JSON-like parameter value and returns the lower-hex
// MD5 digest of its compact serialization.
//
// Canonicalization happens by round-tripping through Go's generic JSON
// types: encoding/json marshals map keys in sorted order, so semantically
// equal objects serialize to identical bytes regardless of input key order.
//
// The digest is not security sensitive. A collision only means a different
// parameter set's cached artifact could be served; that is an accepted
// cache-correctness limitation, not something this package defends against.
func Of(params any) (string, error) {
	canonical, err := canonicalize(params)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(canonical)
	if err != nil {
		return "", fmt.Errorf("marshal canonical params: %w", err)
	}
	sum := md5.Sum(raw)
	return hex.EncodeToString(sum[:]), nil
}

// OfRaw is Of for parameters already held as raw JSON.
func OfRaw(raw json.RawMessage) (string, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", fmt.Errorf("parse params: %w", err)
	}
	return Of(v)
}

func canonicalize(v any) (any, error) {
	// Round-trip arbitrary structs into map/slice form so struct field
	// order never leaks into the digest.
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("reparse params: %w", err)
	}
	return out, nil
}
