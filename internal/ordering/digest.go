package ordering

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// DomainAssignment separates assignment digests from any other hash.
// Version suffix enables future algorithm migration.
const DomainAssignment = "marketadmin/assignment/v1"

// MarshalCanonical renders an assignment as canonical JSON:
// keys in sorted order, ids NFC normalized, no HTML escaping, no whitespace.
func MarshalCanonical(a Assignment) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, p := range a {
		if i > 0 {
			buf.WriteByte(',')
		}
		id, err := canonicalString(p.ID)
		if err != nil {
			return nil, err
		}
		buf.WriteString(`{"id":`)
		buf.Write(id)
		buf.WriteString(`,"order":`)
		buf.WriteString(strconv.Itoa(p.Order))
		buf.WriteByte('}')
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func canonicalString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return nil, err
	}
	// Encoder appends a newline.
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// Digest computes a content-addressed id for an assignment.
// Format: hex(SHA256(domain + 0x00 + canonical JSON)).
func Digest(a Assignment) (string, error) {
	data, err := MarshalCanonical(a)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(DomainAssignment))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}
