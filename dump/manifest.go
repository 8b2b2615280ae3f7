// Package dump implements the dump streamer: it serializes a
// database as a sequence of typed framed blocks under a read-only
// serializable transaction, with a bounded in-flight queue for
// backpressure.
package dump

import (
	"encoding/binary"
	"time"

	"github.com/google/uuid"

	"github.com/relaydb/wire/compiler"
	"github.com/relaydb/wire/frame"
	"github.com/relaydb/wire/protocol"
)

// Header is the DumpHeader preamble.
type Header struct {
	ServerVersion  string
	CatalogVersion uint64
	ServerTime     time.Time
	ProtocolMajor  uint16
	ProtocolMinor  uint16
	SchemaDDL      string
	TypeIDs        []compiler.TypeIDTriple
	Blocks         []compiler.SchemaBlock
}

// WriteHeader emits a DumpHeader message.
func WriteHeader(writer *frame.Writer, h Header) error {
	writer.Start(protocol.ServerDumpHeader)

	writer.AddByte(frame.BlockTypeInfo)
	writer.AddLenString(h.ServerVersion)
	writer.AddInt32(int32(h.ProtocolMajor))
	writer.AddInt32(int32(h.ProtocolMinor))

	var catalogVersion [8]byte
	binary.BigEndian.PutUint64(catalogVersion[:], h.CatalogVersion)
	writer.AddBytes(catalogVersion[:])

	writer.AddInt32(int32(h.ServerTime.Unix()))

	writer.AddLenString(h.SchemaDDL)

	writer.AddUint32(uint32(len(h.TypeIDs)))
	for _, t := range h.TypeIDs {
		writer.AddLenString(t.TypeName)
		writer.AddLenBytes(t.Descriptor)
		idBytes := t.ID
		writer.AddBytes(idBytes[:])
	}

	writer.AddUint32(uint32(len(h.Blocks)))
	for _, b := range h.Blocks {
		idBytes := b.ObjectID
		writer.AddBytes(idBytes[:])
		writer.AddLenBytes(b.Descriptor)
		writer.AddUint32(uint32(len(b.Dependencies)))
		for _, dep := range b.Dependencies {
			depBytes := dep
			writer.AddBytes(depBytes[:])
		}
	}

	if err := writer.End(); err != nil {
		return err
	}
	return writer.Flush()
}

// ReadHeader parses an embedded DumpHeader during restore.
func ReadHeader(reader *frame.Reader) (Header, error) {
	var h Header

	if _, err := reader.GetBytes(1); err != nil { // block-type marker
		return h, err
	}

	version, err := readLenString(reader)
	if err != nil {
		return h, err
	}
	h.ServerVersion = version

	major, err := reader.GetInt32()
	if err != nil {
		return h, err
	}
	h.ProtocolMajor = uint16(major)

	minor, err := reader.GetInt32()
	if err != nil {
		return h, err
	}
	h.ProtocolMinor = uint16(minor)

	catalogBytes, err := reader.GetBytes(8)
	if err != nil {
		return h, err
	}
	h.CatalogVersion = binary.BigEndian.Uint64(catalogBytes)

	serverTime, err := reader.GetInt32()
	if err != nil {
		return h, err
	}
	h.ServerTime = time.Unix(int64(serverTime), 0)

	ddl, err := readLenString(reader)
	if err != nil {
		return h, err
	}
	h.SchemaDDL = ddl

	typeCount, err := reader.GetUint32()
	if err != nil {
		return h, err
	}

	for i := uint32(0); i < typeCount; i++ {
		name, err := readLenString(reader)
		if err != nil {
			return h, err
		}

		descLen, err := reader.GetInt32()
		if err != nil {
			return h, err
		}
		desc, err := reader.GetBytes(int(descLen))
		if err != nil {
			return h, err
		}

		idBytes, err := reader.GetBytes(16)
		if err != nil {
			return h, err
		}
		id, err := uuid.FromBytes(idBytes)
		if err != nil {
			return h, err
		}

		h.TypeIDs = append(h.TypeIDs, compiler.TypeIDTriple{TypeName: name, Descriptor: desc, ID: id})
	}

	blockCount, err := reader.GetUint32()
	if err != nil {
		return h, err
	}

	for i := uint32(0); i < blockCount; i++ {
		idBytes, err := reader.GetBytes(16)
		if err != nil {
			return h, err
		}
		id, err := uuid.FromBytes(idBytes)
		if err != nil {
			return h, err
		}

		descLen, err := reader.GetInt32()
		if err != nil {
			return h, err
		}
		desc, err := reader.GetBytes(int(descLen))
		if err != nil {
			return h, err
		}

		depCount, err := reader.GetUint32()
		if err != nil {
			return h, err
		}

		deps := make([]uuid.UUID, 0, depCount)
		for j := uint32(0); j < depCount; j++ {
			depBytes, err := reader.GetBytes(16)
			if err != nil {
				return h, err
			}
			dep, err := uuid.FromBytes(depBytes)
			if err != nil {
				return h, err
			}
			deps = append(deps, dep)
		}

		h.Blocks = append(h.Blocks, compiler.SchemaBlock{ObjectID: id, Descriptor: desc, Dependencies: deps})
	}

	return h, nil
}

func readLenString(reader *frame.Reader) (string, error) {
	length, err := reader.GetInt32()
	if err != nil {
		return "", err
	}

	b, err := reader.GetBytes(int(length))
	if err != nil {
		return "", err
	}

	return string(b), nil
}

// Block is one DumpBlock payload.
type Block struct {
	SchemaObjectID uuid.UUID
	BlockNum       int
	Data           []byte
}

// WriteBlock emits a DumpBlock message (type '=').
func WriteBlock(writer *frame.Writer, b Block) error {
	writer.Start(protocol.ServerDumpBlock)
	writer.AddByte(frame.BlockTypeData)

	idBytes := b.SchemaObjectID
	writer.AddBytes(idBytes[:])
	writer.AddLenString(itoa(b.BlockNum))
	writer.AddLenBytes(b.Data)

	if err := writer.End(); err != nil {
		return err
	}
	return writer.Flush()
}

// ReadBlock parses a DumpBlock/RestoreBlock message body (both share the
// same positional layout: marker byte, block id, block number, data),
// after its tag and length
// have already been consumed by ReadTypedMsg.
func ReadBlock(reader *frame.Reader) (Block, error) {
	var b Block

	if _, err := reader.GetBytes(1); err != nil { // block-type marker
		return b, err
	}

	idBytes, err := reader.GetBytes(16)
	if err != nil {
		return b, err
	}
	id, err := uuid.FromBytes(idBytes)
	if err != nil {
		return b, err
	}
	b.SchemaObjectID = id

	numStr, err := readLenString(reader)
	if err != nil {
		return b, err
	}
	b.BlockNum = atoi(numStr)

	dataLen, err := reader.GetInt32()
	if err != nil {
		return b, err
	}
	data, err := reader.GetBytes(int(dataLen))
	if err != nil {
		return b, err
	}
	b.Data = data

	return b, nil
}

func atoi(s string) int {
	neg := false
	n := 0
	for i, c := range s {
		if i == 0 && c == '-' {
			neg = true
			continue
		}
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int(c-'0')
	}
	if neg {
		n = -n
	}
	return n
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}

	neg := n < 0
	if neg {
		n = -n
	}

	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}

	if neg {
		i--
		buf[i] = '-'
	}

	return string(buf[i:])
}
