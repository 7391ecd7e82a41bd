package run

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

const (
	// FooterSize is [8 index off][8 index len][8 bloom off][8 bloom len][8 count][1 codec][3 pad][4 magic]
	FooterSize = 48
	// handleSize is [8 offset][4 length][4 crc32c]
	handleSize = 16

	magic = 0x5354524e // "STRN"
)

var (
	// ErrRunFull is returned when a write would exceed the run's capacity.
	ErrRunFull = errors.New("run: capacity exceeded")
	// ErrOutOfOrder is returned when keys are not appended in strictly ascending order.
	ErrOutOfOrder = errors.New("run: keys must be appended in ascending order")
	// ErrCorrupt is returned when a run file fails validation.
	ErrCorrupt = errors.New("run: corrupt file")
	// ErrNotWritable is returned when writing to a closed run.
	ErrNotWritable = errors.New("run: not open for writing")
	// ErrNotReadable is returned when reading a run that is not finished or already destroyed.
	ErrNotReadable = errors.New("run: not open for reading")
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

func checksum(data []byte) uint32 {
	return crc32.Checksum(data, crcTable)
}

// blockHandle locates one data block and carries the first key it holds.
type blockHandle struct {
	firstKey []byte
	offset   int64
	length   uint32
	crc      uint32
}

func (h blockHandle) encodeValue() []byte {
	buf := make([]byte, handleSize)
	binary.BigEndian.PutUint64(buf[0:8], uint64(h.offset))
	binary.BigEndian.PutUint32(buf[8:12], h.length)
	binary.BigEndian.PutUint32(buf[12:16], h.crc)
	return buf
}

func decodeHandle(key, value []byte) (blockHandle, error) {
	if len(value) != handleSize {
		return blockHandle{}, ErrCorrupt
	}
	return blockHandle{
		firstKey: key,
		offset:   int64(binary.BigEndian.Uint64(value[0:8])),
		length:   binary.BigEndian.Uint32(value[8:12]),
		crc:      binary.BigEndian.Uint32(value[12:16]),
	}, nil
}

type footer struct {
	indexOffset uint64
	indexLen    uint64
	bloomOffset uint64
	bloomLen    uint64
	count       uint64
	codec       Codec
}

func (f footer) encode() []byte {
	buf := make([]byte, FooterSize)
	binary.BigEndian.PutUint64(buf[0:8], f.indexOffset)
	binary.BigEndian.PutUint64(buf[8:16], f.indexLen)
	binary.BigEndian.PutUint64(buf[16:24], f.bloomOffset)
	binary.BigEndian.PutUint64(buf[24:32], f.bloomLen)
	binary.BigEndian.PutUint64(buf[32:40], f.count)
	buf[40] = byte(f.codec)
	binary.BigEndian.PutUint32(buf[44:48], magic)
	return buf
}

func decodeFooter(buf []byte) (footer, error) {
	if len(buf) != FooterSize || binary.BigEndian.Uint32(buf[44:48]) != magic {
		return footer{}, ErrCorrupt
	}
	return footer{
		indexOffset: binary.BigEndian.Uint64(buf[0:8]),
		indexLen:    binary.BigEndian.Uint64(buf[8:16]),
		bloomOffset: binary.BigEndian.Uint64(buf[16:24]),
		bloomLen:    binary.BigEndian.Uint64(buf[24:32]),
		count:       binary.BigEndian.Uint64(buf[32:40]),
		codec:       Codec(buf[40]),
	}, nil
}
