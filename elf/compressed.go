package elf

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// decompressChdr decompresses a SHF_COMPRESSED section body prefixed with an
// Elf_Chdr header.
func (f *inMemElf) decompressChdr(s *elf.SectionHeader, data []byte) ([]byte, error) {
	var typ elf.CompressionType
	var size uint64
	var body []byte
	bo := f.ByteOrder
	switch f.Class {
	case elf.ELFCLASS64:
		if len(data) < 24 {
			return nil, fmt.Errorf("%s: truncated compression header", s.Name)
		}
		typ = elf.CompressionType(bo.Uint32(data[0:4]))
		size = bo.Uint64(data[8:16])
		body = data[24:]
	case elf.ELFCLASS32:
		if len(data) < 12 {
			return nil, fmt.Errorf("%s: truncated compression header", s.Name)
		}
		typ = elf.CompressionType(bo.Uint32(data[0:4]))
		size = uint64(bo.Uint32(data[4:8]))
		body = data[12:]
	default:
		return nil, fmt.Errorf("unsupported ELF class %v", f.Class)
	}
	switch typ {
	case elf.COMPRESS_ZLIB:
		return inflateZlib(body, size)
	case elf.COMPRESS_ZSTD:
		dec, err := zstd.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.Name, err)
		}
		defer dec.Close()
		return readSized(dec, size)
	default:
		return nil, fmt.Errorf("%s: unsupported compression type %v", s.Name, typ)
	}
}

// decompressZdebug decompresses legacy .zdebug_ sections: a "ZLIB" magic, a
// big-endian uncompressed size, then a zlib stream.
func decompressZdebug(data []byte) ([]byte, error) {
	if len(data) < 12 || !bytes.Equal(data[:4], []byte("ZLIB")) {
		return nil, fmt.Errorf("invalid .zdebug_ header")
	}
	size := binary.BigEndian.Uint64(data[4:12])
	return inflateZlib(data[12:], size)
}

func inflateZlib(body []byte, size uint64) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return readSized(r, size)
}

func readSized(r io.Reader, size uint64) ([]byte, error) {
	res := make([]byte, size)
	if _, err := io.ReadFull(r, res); err != nil {
		return nil, err
	}
	return res, nil
}
