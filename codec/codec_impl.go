package codec

import (
	"encoding/base64"
	"encoding/binary"
	"time"

	"github.com/cqkv/applog/model"
	"github.com/cqkv/applog/utils"
)

var _ Codec = (*CodecImpl)(nil)

const (
	tagString byte = 0
	tagBytes  byte = 1

	slotLive    byte = 1
	slotDeleted byte = 2

	positionVersion byte = 1
)

type CodecImpl struct{}

func NewCodecImpl() *CodecImpl {
	return &CodecImpl{}
}

/*
default codec:
	- slot header: isDelete(1) + size(4) + crc(4) (crc covers the record body only,
	  so the tombstone flag can be flipped in place)
	- record body: fieldCount(4) + fields
	- field: nameSize(uvarint) + name + tag(1) + valueSize(uvarint) + value
	isDelete | size | crc | fieldCount | nameSize | name | tag | valueSize | value ...
*/

func (cl *CodecImpl) MarshalRecordHeader(header *model.RecordHeader) []byte {
	data := make([]byte, model.RecordHeaderSize)
	data[0] = slotLive
	if header.IsDelete {
		data[0] = slotDeleted
	}
	binary.BigEndian.PutUint32(data[1:5], header.Size)
	binary.BigEndian.PutUint32(data[5:9], header.Crc)
	return data
}

func (cl *CodecImpl) UnmarshalRecordHeader(data []byte, header *model.RecordHeader) error {
	if len(data) < model.RecordHeaderSize {
		return model.Corrupt("short record header: %d bytes", len(data))
	}

	switch data[0] {
	case slotLive:
		header.IsDelete = false
	case slotDeleted:
		header.IsDelete = true
	default:
		return model.Corrupt("bad tombstone flag 0x%02x", data[0])
	}
	header.Size = binary.BigEndian.Uint32(data[1:5])
	header.Crc = binary.BigEndian.Uint32(data[5:9])
	return nil
}

// TombstoneFlag returns the byte stored at the start of a slot
func TombstoneFlag(deleted bool) byte {
	if deleted {
		return slotDeleted
	}
	return slotLive
}

// MarshalRecord return record body
func (cl *CodecImpl) MarshalRecord(record *model.Record) ([]byte, error) {
	fields := record.Fields()

	size := 4
	for _, f := range fields {
		size += binary.MaxVarintLen64*2 + 1 + len(f.Name) + f.Value.Len()
	}

	data := make([]byte, size)
	binary.BigEndian.PutUint32(data[:4], uint32(len(fields)))
	idx := 4
	for _, f := range fields {
		idx += binary.PutUvarint(data[idx:], uint64(len(f.Name)))
		idx += copy(data[idx:], f.Name)

		switch f.Value.Kind() {
		case model.BytesKind:
			data[idx] = tagBytes
		default:
			data[idx] = tagString
		}
		idx++

		idx += binary.PutUvarint(data[idx:], uint64(f.Value.Len()))
		if f.Value.Kind() == model.BytesKind {
			idx += copy(data[idx:], f.Value.Bytes())
		} else {
			idx += copy(data[idx:], f.Value.String())
		}
	}

	return data[:idx], nil
}

// UnmarshalRecord decodes a record body. Bytes values alias data.
func (cl *CodecImpl) UnmarshalRecord(data []byte) (*model.Record, error) {
	if len(data) < 4 {
		return nil, model.Corrupt("short record body: %d bytes", len(data))
	}

	count := binary.BigEndian.Uint32(data[:4])
	// every field needs at least nameSize, tag and valueSize
	if uint64(count)*3 > uint64(len(data)-4) {
		return nil, model.Corrupt("field count %d exceeds record size %d", count, len(data))
	}

	record := model.NewRecord()
	idx := 4
	for i := uint32(0); i < count; i++ {
		name, n, err := readChunk(data, idx)
		if err != nil {
			return nil, err
		}
		idx = n

		if idx >= len(data) {
			return nil, model.Corrupt("field %d: missing type tag", i)
		}
		tag := data[idx]
		idx++

		value, n, err := readChunk(data, idx)
		if err != nil {
			return nil, err
		}
		idx = n

		if record.Has(string(name)) {
			return nil, model.Corrupt("duplicate field %q", name)
		}
		switch tag {
		case tagString:
			record.Set(string(name), model.StringValue(string(value)))
		case tagBytes:
			record.Set(string(name), model.BytesValue(value))
		default:
			return nil, model.Corrupt("field %q: unknown type tag %d", name, tag)
		}
	}

	if idx != len(data) {
		return nil, model.Corrupt("%d trailing bytes after %d fields", len(data)-idx, count)
	}
	return record, nil
}

// readChunk reads a uvarint length prefixed chunk starting at idx
func readChunk(data []byte, idx int) ([]byte, int, error) {
	size, n := binary.Uvarint(data[idx:])
	if n <= 0 {
		return nil, 0, model.Corrupt("bad length prefix at %d", idx)
	}
	idx += n
	if size > uint64(len(data)-idx) {
		return nil, 0, model.Corrupt("length %d at %d exceeds record size %d", size, idx, len(data))
	}
	end := idx + int(size)
	return data[idx:end:end], end, nil
}

func (cl *CodecImpl) MarshalSegmentHeader(header *model.SegmentHeader) ([]byte, error) {
	name := header.Schema.Name
	if len(name) > model.MaxSchemaNameSize {
		return nil, model.Corrupt("schema name too long: %d bytes", len(name))
	}

	data := make([]byte, model.SegmentHeaderSize)
	binary.BigEndian.PutUint32(data[0:4], model.SegmentMagic)
	binary.BigEndian.PutUint16(data[4:6], model.SegmentFormatVersion)
	binary.BigEndian.PutUint16(data[6:8], uint16(len(name)))
	var created int64
	if !header.CreatedAt.IsZero() {
		created = header.CreatedAt.UnixNano()
	}
	binary.BigEndian.PutUint64(data[8:16], uint64(created))
	binary.BigEndian.PutUint64(data[16:24], header.Count)
	binary.BigEndian.PutUint64(data[24:32], header.DataSize)
	binary.BigEndian.PutUint32(data[32:36], uint32(header.Schema.Version))
	copy(data[40:], name)
	binary.BigEndian.PutUint32(data[36:40], utils.GenerateCrc(data[:36], data[40:40+len(name)]))

	return data, nil
}

func (cl *CodecImpl) UnmarshalSegmentHeader(data []byte, header *model.SegmentHeader) error {
	if len(data) < model.SegmentHeaderSize {
		return model.Corrupt("short segment header: %d bytes", len(data))
	}
	if magic := binary.BigEndian.Uint32(data[0:4]); magic != model.SegmentMagic {
		return model.Corrupt("bad segment magic 0x%08x", magic)
	}
	if v := binary.BigEndian.Uint16(data[4:6]); v != model.SegmentFormatVersion {
		return model.Corrupt("unsupported segment format %d", v)
	}
	nameLen := int(binary.BigEndian.Uint16(data[6:8]))
	if nameLen > model.MaxSchemaNameSize {
		return model.Corrupt("schema name size %d out of range", nameLen)
	}
	crc := binary.BigEndian.Uint32(data[36:40])
	if !utils.CheckCrc(crc, data[:36], data[40:40+nameLen]) {
		return model.Corrupt("segment header checksum mismatch")
	}

	header.Schema = model.Schema{
		Name:    string(data[40 : 40+nameLen]),
		Version: int32(binary.BigEndian.Uint32(data[32:36])),
	}
	if created := int64(binary.BigEndian.Uint64(data[8:16])); created != 0 {
		header.CreatedAt = time.Unix(0, created)
	} else {
		header.CreatedAt = time.Time{}
	}
	header.Count = binary.BigEndian.Uint64(data[16:24])
	header.DataSize = binary.BigEndian.Uint64(data[24:32])
	return nil
}

func (cl *CodecImpl) MarshalPosition(pos model.Position) string {
	buf := make([]byte, 1+binary.MaxVarintLen64*2)
	buf[0] = positionVersion
	idx := 1
	idx += binary.PutUvarint(buf[idx:], pos.Seq)
	idx += binary.PutUvarint(buf[idx:], uint64(pos.Offset))
	return base64.RawURLEncoding.EncodeToString(buf[:idx])
}

func (cl *CodecImpl) UnmarshalPosition(token string) (model.Position, error) {
	invalid := func(reason string) (model.Position, error) {
		return model.Position{}, &model.InvalidPositionError{Token: token, Reason: reason}
	}

	buf, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return invalid("malformed token")
	}
	if len(buf) < 3 || buf[0] != positionVersion {
		return invalid("unknown token version")
	}

	idx := 1
	seq, n := binary.Uvarint(buf[idx:])
	if n <= 0 {
		return invalid("malformed segment id")
	}
	idx += n
	off, n := binary.Uvarint(buf[idx:])
	if n <= 0 || idx+n != len(buf) {
		return invalid("malformed offset")
	}
	if off > uint64(^uint64(0)>>1) {
		return invalid("offset out of range")
	}
	return model.Position{Seq: seq, Offset: int64(off)}, nil
}
