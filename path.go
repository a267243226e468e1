package grove

import "encoding/binary"
import "strings"
import "strconv"

// paths are encoded as length prefixed segments, so the encoding of a path is a prefix of the encoding of every path below it
func encodePath(path [][]byte) []byte {
	var tmp [binary.MaxVarintLen64]byte
	var buf []byte
	for _, seg := range path {
		buf = append(buf, tmp[:binary.PutUvarint(tmp[:], uint64(len(seg)))]...)
		buf = append(buf, seg...)
	}
	return buf
}

func clonePath(path [][]byte) [][]byte {
	c := make([][]byte, len(path))
	for i := range path {
		c[i] = append([]byte{}, path[i]...)
	}
	return c
}

func childPath(path [][]byte, key []byte) [][]byte {
	return append(clonePath(path), append([]byte{}, key...))
}

// Path is a helper to build a path from strings
func Path(segments ...string) [][]byte {
	p := make([][]byte, len(segments))
	for i := range segments {
		p[i] = []byte(segments[i])
	}
	return p
}

func pathString(path [][]byte) string {
	segs := make([]string, len(path))
	for i := range path {
		segs[i] = strconv.Quote(string(path[i]))
	}
	return "[" + strings.Join(segs, " ") + "]"
}
