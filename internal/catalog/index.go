package catalog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Descriptor 描述索引中的一个包文件。HeaderStart/HeaderEnd 是元数据头的半开区间。
type Descriptor struct {
	Basename    string
	Name        string
	Size        int64
	HeaderStart int64
	HeaderEnd   int64
}

// Index 以 basename 为键。
type Index map[string]Descriptor

// ParseIndex 逐行解析 "basename name size headerStart headerEnd"，# 开头为注释。
// 违反 headerStart < headerEnd <= size 的行直接报错并给出行号。
func ParseIndex(r io.Reader) (Index, error) {
	idx := make(Index)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 5 {
			return nil, fmt.Errorf("index line %d: expected 5 fields, got %d", lineNo, len(fields))
		}
		nums := make([]int64, 3)
		for i, raw := range fields[2:] {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("index line %d: invalid number %q", lineNo, raw)
			}
			nums[i] = n
		}
		d := Descriptor{Basename: fields[0], Name: fields[1], Size: nums[0], HeaderStart: nums[1], HeaderEnd: nums[2]}
		if d.HeaderStart >= d.HeaderEnd || d.HeaderEnd > d.Size {
			return nil, fmt.Errorf("index line %d: header range [%d, %d) does not fit size %d", lineNo, d.HeaderStart, d.HeaderEnd, d.Size)
		}
		if _, dup := idx[d.Basename]; dup {
			return nil, fmt.Errorf("index line %d: duplicate basename %s", lineNo, d.Basename)
		}
		idx[d.Basename] = d
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return idx, nil
}

// LoadIndex 打开本地索引文件，按名称后缀透明解压 .gz / .zst。
func LoadIndex(path, name string) (Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, closeFn, err := decompress(f, name)
	if err != nil {
		return nil, fmt.Errorf("open index %s: %w", name, err)
	}
	defer closeFn()
	return ParseIndex(r)
}

func decompress(r io.Reader, name string) (io.Reader, func(), error) {
	switch {
	case strings.HasSuffix(name, ".gz"):
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return gz, func() { gz.Close() }, nil
	case strings.HasSuffix(name, ".zst"):
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return dec, dec.Close, nil
	default:
		return r, func() {}, nil
	}
}

// ErrEmptyIndex 表示索引不含任何条目。
var ErrEmptyIndex = errors.New("metadata index is empty")
