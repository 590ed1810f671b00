/*
	This file supports serialization/deserialization and compression of stored values.
*/

package wsi

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"strings"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression is the format of compression for storing data.
// NOTE: Should be no more than 8 (3 bits) of compression types.
type Compression uint8

const (
	Uncompressed Compression = iota
	Snappy
	LZ4
	Zstd
)

func (compress Compression) String() string {
	switch compress {
	case Uncompressed:
		return "none"
	case Snappy:
		return "snappy"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// ParseCompression returns the compression named by s.  An empty string means none.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(s) {
	case "", "none", "uncompressed":
		return Uncompressed, nil
	case "snappy":
		return Snappy, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	default:
		return Uncompressed, fmt.Errorf("unknown compression %q: %w", s, ErrConfiguration)
	}
}

// Checksum is the type of checksum employed for error checking stored data.
// NOTE: Should be no more than 4 (2 bits) of checksum types.
type Checksum uint8

const (
	NoChecksum Checksum = iota
	CRC32
)

func (checksum Checksum) String() string {
	switch checksum {
	case NoChecksum:
		return "No checksum"
	case CRC32:
		return "CRC32 checksum"
	default:
		return "Unknown checksum"
	}
}

// SerializationFormat is a single byte combining both compression and checksum methods.
type SerializationFormat uint8

func EncodeSerializationFormat(compress Compression, checksum Checksum) SerializationFormat {
	a := (uint8(compress) & 0x07) << 5
	b := (uint8(checksum) & 0x03) << 3
	return SerializationFormat(a | b)
}

func DecodeSerializationFormat(s SerializationFormat) (compress Compression, checksum Checksum) {
	compress = Compression(uint8(s) >> 5)
	checksum = Checksum((uint8(s) >> 3) & 0x03)
	return
}

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

func zstdCodecs() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil)
		if zstdErr != nil {
			return
		}
		zstdDec, zstdErr = zstd.NewReader(nil)
	})
	return zstdEnc, zstdDec, zstdErr
}

// SerializeData serializes a slice of bytes using optional compression, checksum.
// LZ4 falls back to no compression when the data is incompressible.
func SerializeData(data []byte, compress Compression, checksum Checksum) (s []byte, err error) {
	var byteData []byte
	switch compress {
	case Uncompressed:
		byteData = data
	case Snappy:
		byteData = snappy.Encode(nil, data)
	case LZ4:
		byteData = make([]byte, lz4.CompressBlockBound(len(data))+4)
		binary.LittleEndian.PutUint32(byteData[0:4], uint32(len(data)))
		var outSize int
		if outSize, err = lz4.CompressBlock(data, byteData[4:], nil); err != nil {
			return
		}
		if outSize == 0 {
			compress = Uncompressed
			byteData = data
		} else {
			byteData = byteData[:4+outSize]
		}
	case Zstd:
		var enc *zstd.Encoder
		if enc, _, err = zstdCodecs(); err != nil {
			return
		}
		byteData = enc.EncodeAll(data, nil)
	default:
		return nil, fmt.Errorf("illegal compression (%s) during serialization", compress)
	}

	var buffer bytes.Buffer
	buffer.Grow(len(byteData) + 5)
	buffer.WriteByte(byte(EncodeSerializationFormat(compress, checksum)))

	switch checksum {
	case NoChecksum:
	case CRC32:
		crcChecksum := crc32.ChecksumIEEE(byteData)
		if err = binary.Write(&buffer, binary.LittleEndian, crcChecksum); err != nil {
			return
		}
	default:
		return nil, fmt.Errorf("illegal checksum (%s) in SerializeData()", checksum)
	}

	// Note the actual data is written last, after any checksum so we don't have to
	// worry about length when deserializing.
	buffer.Write(byteData)
	return buffer.Bytes(), nil
}

// DeserializeData deserializes a slice of bytes using stored compression, checksum.
// If uncompress parameter is false, the data is not uncompressed.
func DeserializeData(s []byte, uncompress bool) (data []byte, compress Compression, err error) {
	if len(s) == 0 {
		err = fmt.Errorf("no data to deserialize")
		return
	}
	var checksum Checksum
	compress, checksum = DecodeSerializationFormat(SerializationFormat(s[0]))
	cdata := s[1:]

	switch checksum {
	case NoChecksum:
	case CRC32:
		if len(cdata) < 4 {
			err = fmt.Errorf("serialized data too short for CRC32 checksum")
			return
		}
		storedCrc32 := binary.LittleEndian.Uint32(cdata[0:4])
		cdata = cdata[4:]
		if crcChecksum := crc32.ChecksumIEEE(cdata); crcChecksum != storedCrc32 {
			err = fmt.Errorf("bad checksum: stored %x got %x", storedCrc32, crcChecksum)
			return
		}
	default:
		err = fmt.Errorf("illegal checksum in deserializing data")
		return
	}

	if !uncompress {
		data = cdata
		return
	}
	switch compress {
	case Uncompressed:
		data = cdata
	case Snappy:
		data, err = snappy.Decode(nil, cdata)
	case LZ4:
		if len(cdata) < 4 {
			err = fmt.Errorf("lz4 data too short")
			return
		}
		origSize := binary.LittleEndian.Uint32(cdata[0:4])
		data = make([]byte, int(origSize))
		var n int
		if n, err = lz4.UncompressBlock(cdata[4:], data); err == nil && n != int(origSize) {
			err = fmt.Errorf("lz4 uncompressed %d bytes, expected %d", n, origSize)
		}
	case Zstd:
		var dec *zstd.Decoder
		if _, dec, err = zstdCodecs(); err != nil {
			return
		}
		data, err = dec.DecodeAll(cdata, nil)
	default:
		err = fmt.Errorf("illegal compression format (%d) in deserialization", compress)
	}
	return
}
