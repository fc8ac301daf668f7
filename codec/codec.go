package codec

import "github.com/cqkv/applog/model"

type Codec interface {
	// MarshalRecordHeader return the slot header data
	MarshalRecordHeader(*model.RecordHeader) []byte

	UnmarshalRecordHeader([]byte, *model.RecordHeader) error

	// MarshalRecord return the record body
	MarshalRecord(*model.Record) ([]byte, error)

	UnmarshalRecord([]byte) (*model.Record, error)

	// MarshalSegmentHeader return exactly model.SegmentHeaderSize bytes
	MarshalSegmentHeader(*model.SegmentHeader) ([]byte, error)

	UnmarshalSegmentHeader([]byte, *model.SegmentHeader) error

	MarshalPosition(model.Position) string

	UnmarshalPosition(string) (model.Position, error)
}
