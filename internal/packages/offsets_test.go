package packages

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// buildRPM 拼出一个只有结构正确的合成包：lead、签名段、头部段与任意长度的负载。
func buildRPM(sigIndex, sigData, hdrIndex, hdrData uint32, payload int) []byte {
	var buf bytes.Buffer
	buf.Write(make([]byte, leadSize))

	writeSection := func(index, data uint32, pad bool) {
		buf.Write([]byte{0x8e, 0xad, 0xe8, 0x01, 0, 0, 0, 0})
		var counts [8]byte
		binary.BigEndian.PutUint32(counts[0:4], index)
		binary.BigEndian.PutUint32(counts[4:8], data)
		buf.Write(counts[:])
		body := int(index)*indexEntrySize + int(data)
		buf.Write(make([]byte, body))
		if pad {
			buf.Write(make([]byte, (8-body%8)%8))
		}
	}
	writeSection(sigIndex, sigData, true)
	writeSection(hdrIndex, hdrData, false)
	buf.Write(make([]byte, payload))
	return buf.Bytes()
}

func TestHeaderRangeArithmetic(t *testing.T) {
	cases := []struct {
		name              string
		sigIndex, sigData uint32
		hdrIndex, hdrData uint32
		wantStart         int64
	}{
		{name: "aligned signature", sigIndex: 7, sigData: 1200, hdrIndex: 60, hdrData: 30000, wantStart: 96 + 16 + 1312},
		{name: "padded signature", sigIndex: 5, sigData: 277, hdrIndex: 3, hdrData: 17, wantStart: 96 + 16 + 357 + 3},
		{name: "empty sections", sigIndex: 0, sigData: 0, hdrIndex: 0, hdrData: 0, wantStart: 96 + 16},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw := buildRPM(tc.sigIndex, tc.sigData, tc.hdrIndex, tc.hdrData, 4096)
			rng, err := HeaderRange(bytes.NewReader(raw))
			if err != nil {
				t.Fatalf("header range: %v", err)
			}
			if rng.Start != tc.wantStart {
				t.Fatalf("start = %d want %d", rng.Start, tc.wantStart)
			}
			want := int64(tc.hdrIndex)*16 + int64(tc.hdrData) + 16
			if rng.Size() != want {
				t.Fatalf("end-start = %d want %d", rng.Size(), want)
			}
			if rng.End != int64(len(raw))-4096 {
				t.Fatalf("end = %d want %d", rng.End, len(raw)-4096)
			}
		})
	}
}

func TestHeaderRangeTruncated(t *testing.T) {
	if _, err := HeaderRange(bytes.NewReader(make([]byte, 50))); err == nil {
		t.Fatalf("expected error for buffer shorter than the lead")
	}
}
