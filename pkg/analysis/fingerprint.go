package analysis

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// fingerprint identifies a tool call by name and canonicalized arguments,
// so two calls with the same arguments in different key order hash
// identically. Used to detect the repeated-call loop signal.
func fingerprint(name string, args json.RawMessage) string {
	var decoded any
	if len(args) > 0 {
		_ = json.Unmarshal(args, &decoded)
	}
	canonical, err := canonicalize(decoded)
	if err != nil {
		canonical = []byte("null")
	}

	h := sha256.New()
	h.Write([]byte(name))
	h.Write([]byte{0})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalize renders v as JSON with object keys sorted
// lexicographically, so semantically identical argument maps always
// produce byte-identical output regardless of field order.
func canonicalize(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return []byte("null"), nil
	case map[string]any:
		return canonicalizeObject(val)
	case []any:
		return canonicalizeArray(val)
	default:
		return json.Marshal(val)
	}
}

func canonicalizeObject(obj map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')
		valBytes, err := canonicalize(obj[k])
		if err != nil {
			return nil, err
		}
		buf.Write(valBytes)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func canonicalizeArray(arr []any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, elem := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		elemBytes, err := canonicalize(elem)
		if err != nil {
			return nil, err
		}
		buf.Write(elemBytes)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}
