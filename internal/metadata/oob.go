// ABOUTME: Out-of-band packet payload formats
// ABOUTME: OOBM carries metadata, OOBC carries the original command JSON
package metadata

import (
	"bytes"
	"errors"
	"strings"
)

var (
	oobmMagic = []byte("OOBM")
	oobcMagic = []byte("OOBC")
)

// EncodeOOB serializes metadata into an out-of-band metadata payload:
// the magic "OOBM" followed by key "=" value "\0" records.
func EncodeOOB(m Metadata) []byte {
	var buf bytes.Buffer
	buf.Write(oobmMagic)
	for _, p := range m {
		buf.WriteString(p.Key)
		buf.WriteByte('=')
		buf.WriteString(p.Value)
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

// DecodeOOB parses an out-of-band metadata payload. Truncated input
// yields whatever pairs were fully parsed; only a missing magic is an
// error.
func DecodeOOB(payload []byte) (Metadata, error) {
	if !bytes.HasPrefix(payload, oobmMagic) {
		return nil, errors.New("out-of-band metadata: bad magic")
	}
	rest := payload[len(oobmMagic):]

	var m Metadata
	for len(rest) > 0 {
		end := bytes.IndexByte(rest, 0)
		if end < 0 {
			break
		}
		record := string(rest[:end])
		rest = rest[end+1:]
		key, value, ok := strings.Cut(record, "=")
		if !ok {
			continue
		}
		m = append(m, Pair{Key: key, Value: value})
	}
	return m, nil
}

// EncodeOOBCommand wraps a serialized command object into an
// out-of-band command payload: the magic "OOBC" followed by the JSON.
func EncodeOOBCommand(raw []byte) []byte {
	out := make([]byte, 0, len(oobcMagic)+len(raw))
	out = append(out, oobcMagic...)
	return append(out, raw...)
}

// DecodeOOBCommand extracts the command JSON from an out-of-band
// command payload.
func DecodeOOBCommand(payload []byte) ([]byte, error) {
	if !bytes.HasPrefix(payload, oobcMagic) {
		return nil, errors.New("out-of-band command: bad magic")
	}
	return payload[len(oobcMagic):], nil
}
