package grove

import "bytes"
import "fmt"
import "strings"

import "golang.org/x/xerrors"

type ReferencePathType byte

const (
	AbsolutePathReferenceType ReferencePathType = iota
	RelativePathReferenceType
)

// ReferencePath names another element by location, the last segment is the key
type ReferencePath struct {
	Type ReferencePathType
	Up   uint8 // segments dropped from the holder's subtree path, relative references only
	Path [][]byte
}

// points to path[:len-1], key path[len-1] from the grove root
func AbsolutePathReference(path ...[]byte) ReferencePath {
	return ReferencePath{Type: AbsolutePathReferenceType, Path: path}.clone()
}

// drops up trailing segments of the holder's subtree path then appends path
func RelativePathReference(up uint8, path ...[]byte) ReferencePath {
	return ReferencePath{Type: RelativePathReferenceType, Up: up, Path: path}.clone()
}

// another key of the same subtree
func SiblingReference(key []byte) ReferencePath {
	return RelativePathReference(0, key)
}

func (r ReferencePath) clone() ReferencePath {
	c := ReferencePath{Type: r.Type, Up: r.Up, Path: make([][]byte, len(r.Path))}
	for i := range r.Path {
		c.Path[i] = append([]byte{}, r.Path[i]...)
	}
	return c
}

func (r ReferencePath) String() string {
	segs := make([]string, len(r.Path))
	for i := range r.Path {
		segs[i] = fmt.Sprintf("%q", r.Path[i])
	}
	if r.Type == RelativePathReferenceType {
		return fmt.Sprintf("up %d/%s", r.Up, strings.Join(segs, "/"))
	}
	return "/" + strings.Join(segs, "/")
}

func (r ReferencePath) marshalTo(buf *bytes.Buffer) {
	buf.WriteByte(byte(r.Type))
	if r.Type == RelativePathReferenceType {
		buf.WriteByte(r.Up)
	}
	putUvarint(buf, uint64(len(r.Path)))
	for i := range r.Path {
		putBytes(buf, r.Path[i])
	}
}

func unmarshalReferencePath(d *decoder) (r ReferencePath) {
	r.Type = ReferencePathType(d.readByte())
	switch r.Type {
	case AbsolutePathReferenceType:
	case RelativePathReferenceType:
		r.Up = d.readByte()
	default:
		d.fail("unknown reference type %d", byte(r.Type))
		return
	}
	count := d.readUvarint()
	if count == 0 || count > MAX_PATH_LENGTH+1 {
		d.fail("reference with %d segments", count)
		return
	}
	r.Path = make([][]byte, 0, count)
	for i := uint64(0); i < count && d.err == nil; i++ {
		r.Path = append(r.Path, d.readBytes())
	}
	return
}

// target returns the subtree path and key the reference points at, holder is the subtree path of the reference itself
func (r ReferencePath) target(holder [][]byte) ([][]byte, []byte, error) {
	if len(r.Path) == 0 {
		return nil, nil, xerrors.Errorf("%w: empty reference", ErrInvalidElement)
	}
	var full [][]byte
	switch r.Type {
	case AbsolutePathReferenceType:
		full = r.Path
	case RelativePathReferenceType:
		if int(r.Up) > len(holder) {
			return nil, nil, xerrors.Errorf("%w: reference goes %d up from depth %d", ErrInvalidPath, r.Up, len(holder))
		}
		full = append(clonePath(holder[:len(holder)-int(r.Up)]), r.Path...)
	default:
		return nil, nil, xerrors.Errorf("%w: unknown reference type %d", ErrInvalidElement, r.Type)
	}
	return clonePath(full[:len(full)-1]), full[len(full)-1], nil
}
