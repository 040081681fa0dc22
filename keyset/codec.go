package keyset

import (
	"bytes"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
)

// PublicKeyEntry is one verification key lifted from the provider's key-set
// document. Immutable once constructed; the cache owns every instance.
type PublicKeyEntry struct {
	KID       string
	Key       *rsa.PublicKey
	Algorithm string // advisory hint from the document, e.g. "RS256"
}

// ParseKeySet extracts RSA signing keys from a key-set document.
//
// The document is scanned, not parsed: objects are located by brace matching
// and their string fields lifted individually, so whitespace, field order,
// and unknown neighbors are irrelevant. Only RSA signature keys (kty "RSA",
// use "sig") are taken; other key types are passed over silently. Entries
// missing kid, modulus, or exponent are skipped, and an entry whose fields
// refuse to decode is dropped on its own without disturbing the rest of the
// batch. Both conditions are logged so provider-side corruption stays
// visible.
//
// The error return fires only when doc is not a key-set document at all.
func ParseKeySet(doc []byte, log logrus.FieldLogger) ([]*PublicKeyEntry, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	objs := scanObjects(doc)
	candidates := 0
	entries := make([]*PublicKeyEntry, 0, len(objs))
	for _, fields := range objs {
		kty, ok := fields["kty"]
		if !ok {
			continue
		}
		candidates++
		if kty != "RSA" || fields["use"] != "sig" {
			continue
		}
		kid, n, e := fields["kid"], fields["n"], fields["e"]
		if kid == "" || n == "" || e == "" {
			log.WithField("kid", kid).Warn("key set entry missing kid, modulus, or exponent; skipped")
			continue
		}
		key, err := rsaFromModulusExponent(n, e)
		if err != nil {
			log.WithFields(logrus.Fields{"kid": kid, "error": err}).Warn("key set entry unusable; skipped")
			continue
		}
		entries = append(entries, &PublicKeyEntry{KID: kid, Key: key, Algorithm: fields["alg"]})
	}
	if candidates == 0 && !bytes.Contains(doc, []byte(`"keys"`)) {
		return nil, errors.New("document carries no key entries")
	}
	return entries, nil
}

// ScanString returns the first string value of the named field anywhere in
// doc. It shares the codec's tolerance: no full parse, just enough structure
// to keep string contents from masquerading as structure. Token headers are
// read this way, so a kid can be pulled from an unverified token without
// trusting its shape.
func ScanString(doc []byte, field string) (string, bool) {
	i := 0
	for i < len(doc) {
		if doc[i] != '"' {
			i++
			continue
		}
		name, next, ok := readString(doc, i)
		if !ok {
			return "", false
		}
		j := skipWS(doc, next)
		if j >= len(doc) || doc[j] != ':' {
			i = next // a bare value, not a field name
			continue
		}
		j = skipWS(doc, j+1)
		if j < len(doc) && doc[j] == '"' {
			value, next2, ok := readString(doc, j)
			if !ok {
				return "", false
			}
			if name == field {
				return value, true
			}
			i = next2
			continue
		}
		i = j
	}
	return "", false
}

// scanObjects walks doc once and collects, for every object, the string
// fields sitting directly on it. Objects are returned in completion order.
// The first occurrence of a field wins; later duplicates are ignored.
func scanObjects(doc []byte) []map[string]string {
	var (
		stack []map[string]string
		out   []map[string]string
	)
	i := 0
	for i < len(doc) {
		switch doc[i] {
		case '{':
			stack = append(stack, make(map[string]string, 8))
			i++
		case '}':
			if n := len(stack); n > 0 {
				top := stack[n-1]
				stack = stack[:n-1]
				if len(top) > 0 {
					out = append(out, top)
				}
			}
			i++
		case '"':
			name, next, ok := readString(doc, i)
			if !ok {
				return out // unterminated string; keep what we have
			}
			j := skipWS(doc, next)
			if j >= len(doc) || doc[j] != ':' {
				i = next
				continue
			}
			j = skipWS(doc, j+1)
			if j < len(doc) && doc[j] == '"' {
				value, next2, ok := readString(doc, j)
				if !ok {
					return out
				}
				if n := len(stack); n > 0 {
					if _, dup := stack[n-1][name]; !dup {
						stack[n-1][name] = value
					}
				}
				i = next2
				continue
			}
			i = j // non-string value; the main loop walks its structure
		default:
			i++
		}
	}
	return out
}

// readString decodes the JSON string starting at doc[start], which must be
// a '"'. It returns the decoded value and the index just past the closing
// quote.
func readString(doc []byte, start int) (string, int, bool) {
	var b strings.Builder
	i := start + 1
	for i < len(doc) {
		c := doc[i]
		switch {
		case c == '"':
			return b.String(), i + 1, true
		case c == '\\':
			if i+1 >= len(doc) {
				return "", 0, false
			}
			switch esc := doc[i+1]; esc {
			case '"', '\\', '/':
				b.WriteByte(esc)
				i += 2
			case 'b':
				b.WriteByte('\b')
				i += 2
			case 'f':
				b.WriteByte('\f')
				i += 2
			case 'n':
				b.WriteByte('\n')
				i += 2
			case 'r':
				b.WriteByte('\r')
				i += 2
			case 't':
				b.WriteByte('\t')
				i += 2
			case 'u':
				r, adv, ok := readUnicodeEscape(doc, i)
				if !ok {
					return "", 0, false
				}
				b.WriteRune(r)
				i += adv
			default:
				return "", 0, false
			}
		default:
			b.WriteByte(c)
			i++
		}
	}
	return "", 0, false
}

// readUnicodeEscape decodes the \uXXXX at doc[i], pairing surrogates when
// the second half follows immediately.
func readUnicodeEscape(doc []byte, i int) (rune, int, bool) {
	r1, ok := hex4(doc, i+2)
	if !ok {
		return 0, 0, false
	}
	if utf16.IsSurrogate(r1) {
		if i+12 <= len(doc) && doc[i+6] == '\\' && doc[i+7] == 'u' {
			if r2, ok := hex4(doc, i+8); ok {
				if r := utf16.DecodeRune(r1, r2); r != utf8.RuneError {
					return r, 12, true
				}
			}
		}
		return utf8.RuneError, 6, true
	}
	return r1, 6, true
}

func hex4(doc []byte, i int) (rune, bool) {
	if i+4 > len(doc) {
		return 0, false
	}
	var r rune
	for _, c := range doc[i : i+4] {
		r <<= 4
		switch {
		case c >= '0' && c <= '9':
			r |= rune(c - '0')
		case c >= 'a' && c <= 'f':
			r |= rune(c-'a') + 10
		case c >= 'A' && c <= 'F':
			r |= rune(c-'A') + 10
		default:
			return 0, false
		}
	}
	return r, true
}

func skipWS(doc []byte, i int) int {
	for i < len(doc) {
		switch doc[i] {
		case ' ', '\t', '\n', '\r':
			i++
		default:
			return i
		}
	}
	return i
}

// rsaFromModulusExponent builds the key from base64url unsigned big-endian
// fields. Padding is tolerated even though the encoding is nominally
// unpadded.
func rsaFromModulusExponent(n64, e64 string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(n64, "="))
	if err != nil {
		return nil, fmt.Errorf("modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(e64, "="))
	if err != nil {
		return nil, fmt.Errorf("exponent: %w", err)
	}
	if len(nBytes) == 0 || len(eBytes) == 0 {
		return nil, errors.New("empty modulus or exponent")
	}
	if len(eBytes) > 4 {
		return nil, errors.New("exponent too large")
	}
	e := 0
	for _, b := range eBytes {
		e = e<<8 + int(b)
	}
	if e < 3 {
		return nil, errors.New("exponent out of range")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: e}, nil
}
