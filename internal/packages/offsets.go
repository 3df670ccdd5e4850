package packages

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// leadSize 是 RPM 文件开头固定长度的 lead。
	leadSize = 96
	// introSize 是签名段与头部段共同的引导结构：8 字节 magic/保留位 + index count + data length。
	introSize = 16
	// indexEntrySize 是每个 index 条目的长度。
	indexEntrySize = 16
	// ProbeLimit 是计算签名段长度所需的最小前缀。
	ProbeLimit = leadSize + introSize
)

// Range 是元数据头在包文件中的半开字节区间 [Start, End)。
type Range struct {
	Start int64
	End   int64
}

// Size 返回区间长度。
func (r Range) Size() int64 { return r.End - r.Start }

// HeaderStart 根据 lead 之后的签名段引导计算头部起始偏移。
// 签名段长度 dataLength + indexCount*16 向上补齐到 8 字节。
// 起点是 96 + 16 + sigSize + pad：签名引导在 8 字节 tag 之后还有两个 u32，共 16 字节，
// 与实际 RPM 文件一致；按 "96 + 8" 生成的索引会整体差 8 字节，但区间长度相同。
func HeaderStart(r io.ReaderAt) (int64, error) {
	indexCount, dataLength, err := readIntro(r, leadSize)
	if err != nil {
		return 0, fmt.Errorf("signature intro: %w", err)
	}
	sigSize := dataLength + indexCount*indexEntrySize
	pad := (8 - sigSize%8) % 8
	return leadSize + introSize + sigSize + pad, nil
}

// HeaderRange 计算元数据头区间，r 至少需要覆盖到 HeaderStart+16。
// headerSize = dataLength + indexCount*16 + 16。
func HeaderRange(r io.ReaderAt) (Range, error) {
	start, err := HeaderStart(r)
	if err != nil {
		return Range{}, err
	}
	indexCount, dataLength, err := readIntro(r, start)
	if err != nil {
		return Range{}, fmt.Errorf("header intro at %d: %w", start, err)
	}
	size := dataLength + indexCount*indexEntrySize + introSize
	return Range{Start: start, End: start + size}, nil
}

// readIntro 跳过 8 字节 magic，读取大端序的 index count 与 data length。
func readIntro(r io.ReaderAt, at int64) (indexCount, dataLength int64, err error) {
	var buf [8]byte
	if _, err := r.ReadAt(buf[:], at+8); err != nil {
		return 0, 0, err
	}
	return int64(binary.BigEndian.Uint32(buf[0:4])), int64(binary.BigEndian.Uint32(buf[4:8])), nil
}
