package identity

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/hdevalence/ed25519consensus"
)

// Purpose is a domain separation prefix prepended to every signed statement,
// so a certificate signature can never be replayed as a revocation.
type Purpose string

const (
	PurposeCertificate   Purpose = "CE"
	PurposeEnrollment    Purpose = "EN"
	PurposeReinstatement Purpose = "RI"
	PurposeRevocation    Purpose = "RV"
)

// Statement is implemented by everything an identity signs. Fields must hold
// only strings, integers, booleans, string slices or nested string maps.
type Statement interface {
	ToBeSigned() (Purpose, map[string]any)
}

// Canonical encodes fields as JSON with lexicographically sorted keys, no
// insignificant whitespace and no HTML escaping. The output does not depend
// on map iteration order or on how the statement was constructed.
//
// Strings must be valid UTF-8. U+2028 and U+2029 are emitted unescaped, the
// way JSON.stringify emits them; keys sort by byte order.
func Canonical(fields map[string]any) ([]byte, error) {
	if err := checkUTF8("", fields); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(fields); err != nil {
		return nil, fmt.Errorf("canonical encode: %w", err)
	}
	return unescapeLineSeparators(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}

func checkUTF8(key string, v any) error {
	bad := func(s string) error {
		return fmt.Errorf("canonical encode: %q holds invalid UTF-8: %q", key, s)
	}
	switch v := v.(type) {
	case string:
		if !utf8.ValidString(v) {
			return bad(v)
		}
	case []string:
		for _, s := range v {
			if !utf8.ValidString(s) {
				return bad(s)
			}
		}
	case map[string]string:
		for k, s := range v {
			if !utf8.ValidString(k) {
				return bad(k)
			}
			if !utf8.ValidString(s) {
				return bad(s)
			}
		}
	case map[string]any:
		for k, s := range v {
			if !utf8.ValidString(k) {
				return bad(k)
			}
			if err := checkUTF8(k, s); err != nil {
				return err
			}
		}
	}
	return nil
}

// unescapeLineSeparators rewrites the \u2028 and \u2029 escapes produced by
// encoding/json as raw UTF-8. Every backslash in encoder output starts an
// escape, so skipping escape pairs never splits one.
func unescapeLineSeparators(b []byte) []byte {
	if !bytes.Contains(b, []byte(`\u202`)) {
		return b
	}
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] != '\\' || i+1 >= len(b) {
			out = append(out, b[i])
			continue
		}
		if i+5 < len(b) && string(b[i+1:i+5]) == "u202" && (b[i+5] == '8' || b[i+5] == '9') {
			if b[i+5] == '8' {
				out = append(out, "\u2028"...)
			} else {
				out = append(out, "\u2029"...)
			}
			i += 5
			continue
		}
		out = append(out, b[i], b[i+1])
		i++
	}
	return out
}

// SigningBytes returns purpose || canonical(fields).
func SigningBytes(st Statement) ([]byte, error) {
	purpose, fields := st.ToBeSigned()
	data, err := Canonical(fields)
	if err != nil {
		return nil, err
	}
	return append([]byte(purpose), data...), nil
}

// Verify reports whether sig is a valid signature of st by pub.
func Verify(pub ed25519.PublicKey, st Statement, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	msg, err := SigningBytes(st)
	if err != nil {
		return false
	}
	return ed25519consensus.Verify(pub, msg, sig)
}
