package session

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/google/uuid"

	"github.com/relaydb/wire/errors"
)

// EncodeState serializes the State into the (type id + opaque blob) form
// clients exchange over StateDataDescription and the Parse/Execute request
// header. The
// blob format is: u16 count of config entries, then (len-prefixed key,
// len-prefixed value) pairs; same for aliases; same for globals, with an
// extra presence byte per entry.
func (s *State) EncodeState() (uuid.UUID, []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var buf bytes.Buffer
	writeMap(&buf, s.config)
	writeMap(&buf, s.aliases)
	writeGlobals(&buf, s.globals)

	return StateTypeID, buf.Bytes()
}

// DescribeState returns the current descriptor without re-encoding from
// scratch when nothing changed; the default implementation always
// re-encodes since it keeps no separate dirty flag.
func (s *State) DescribeState() (uuid.UUID, []byte) {
	return s.EncodeState()
}

// DecodeState parses a client-sent state blob and applies it, or returns a
// KindStateMismatch error if typeID doesn't match this view's encoding, forcing
// the client to re-sync against a fresh StateDataDescription.
func (s *State) DecodeState(typeID uuid.UUID, data []byte) error {
	if typeID != StateTypeID {
		return errors.WithKind(errors.New("state descriptor type id mismatch"), errors.KindStateMismatch)
	}

	r := bytes.NewReader(data)

	config, err := readMap(r)
	if err != nil {
		return errors.WithKind(err, errors.KindStateMismatch)
	}

	aliases, err := readMap(r)
	if err != nil {
		return errors.WithKind(err, errors.KindStateMismatch)
	}

	globals, err := readGlobals(r)
	if err != nil {
		return errors.WithKind(err, errors.KindStateMismatch)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = config
	s.aliases = aliases
	s.globals = globals
	return nil
}

func writeMap(buf *bytes.Buffer, m map[string]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var count [2]byte
	binary.BigEndian.PutUint16(count[:], uint16(len(keys)))
	buf.Write(count[:])

	for _, k := range keys {
		writeLenString(buf, k)
		writeLenString(buf, m[k])
	}
}

func readMap(r *bytes.Reader) (map[string]string, error) {
	n, err := readUint16(r)
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, n)
	for i := 0; i < int(n); i++ {
		k, err := readLenString(r)
		if err != nil {
			return nil, err
		}
		v, err := readLenString(r)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}

	return out, nil
}

func writeGlobals(buf *bytes.Buffer, m map[string]Global) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var count [2]byte
	binary.BigEndian.PutUint16(count[:], uint16(len(keys)))
	buf.Write(count[:])

	for _, k := range keys {
		writeLenString(buf, k)
		g := m[k]
		if g.Present {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}

		var length [4]byte
		binary.BigEndian.PutUint32(length[:], uint32(len(g.Value)))
		buf.Write(length[:])
		buf.Write(g.Value)
	}
}

func readGlobals(r *bytes.Reader) (map[string]Global, error) {
	n, err := readUint16(r)
	if err != nil {
		return nil, err
	}

	out := make(map[string]Global, n)
	for i := 0; i < int(n); i++ {
		name, err := readLenString(r)
		if err != nil {
			return nil, err
		}

		presentByte, err := r.ReadByte()
		if err != nil {
			return nil, err
		}

		var length [4]byte
		if _, err := r.Read(length[:]); err != nil {
			return nil, err
		}
		size := binary.BigEndian.Uint32(length[:])

		value := make([]byte, size)
		if _, err := r.Read(value); err != nil {
			return nil, err
		}

		out[name] = Global{Value: value, Present: presentByte == 1}
	}

	return out, nil
}

func writeLenString(buf *bytes.Buffer, s string) {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(s)))
	buf.Write(length[:])
	buf.WriteString(s)
}

func readLenString(r *bytes.Reader) (string, error) {
	var length [4]byte
	if _, err := r.Read(length[:]); err != nil {
		return "", err
	}
	size := binary.BigEndian.Uint32(length[:])

	b := make([]byte, size)
	if _, err := r.Read(b); err != nil {
		return "", err
	}

	return string(b), nil
}

func readUint16(r *bytes.Reader) (uint16, error) {
	var b [2]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}
