package grove

import "bytes"
import "fmt"
import "encoding/binary"

import "golang.org/x/xerrors"

// ElementKind identifies what a key of a subtree holds
type ElementKind byte

const (
	ItemKind ElementKind = iota
	ReferenceKind
	TreeKind
	SumTreeKind
	SumItemKind
)

func (k ElementKind) String() string {
	switch k {
	case ItemKind:
		return "item"
	case ReferenceKind:
		return "reference"
	case TreeKind:
		return "tree"
	case SumTreeKind:
		return "sumtree"
	case SumItemKind:
		return "sumitem"
	}
	return fmt.Sprintf("kind(%d)", byte(k))
}

// Element is the value stored under a key. Tree and SumTree elements carry the root hash
// (and aggregate) of the child subtree, they are refreshed on every change below them.
type Element struct {
	kind     ElementKind
	value    []byte
	ref      ReferencePath
	roothash [HASHSIZE]byte
	sumv     int64
	flags    []byte
}

func NewItem(value []byte) Element {
	return Element{kind: ItemKind, value: append([]byte{}, value...)}
}

func NewSumItem(value int64) Element {
	return Element{kind: SumItemKind, sumv: value}
}

func NewReference(ref ReferencePath) Element {
	return Element{kind: ReferenceKind, ref: ref.clone()}
}

// new empty tree, the root hash is filled in when the tree is inserted
func EmptyTree() Element {
	return Element{kind: TreeKind, roothash: emptyRootHash}
}

func EmptySumTree() Element {
	return Element{kind: SumTreeKind, roothash: emptyRootHash}
}

// WithFlags attaches opaque caller data to the element, flags are part of the element hash.
func (e Element) WithFlags(flags []byte) Element {
	if len(flags) == 0 {
		e.flags = nil
	} else {
		e.flags = append([]byte{}, flags...)
	}
	return e
}

func (e Element) Kind() ElementKind         { return e.kind }
func (e Element) Flags() []byte             { return e.flags }
func (e Element) IsTree() bool              { return e.kind == TreeKind || e.kind == SumTreeKind }
func (e Element) Reference() ReferencePath  { return e.ref }
func (e Element) RootHash() [HASHSIZE]byte { return e.roothash }

// item payload, nil for other kinds
func (e Element) Value() []byte {
	if e.kind != ItemKind {
		return nil
	}
	return e.value
}

// value of a sum item or the aggregate of a sum tree
func (e Element) SumValue() int64 {
	switch e.kind {
	case SumItemKind, SumTreeKind:
		return e.sumv
	}
	return 0
}

func (e Element) withRoot(roothash [HASHSIZE]byte, total int64) Element {
	e.roothash = roothash
	if e.kind == SumTreeKind {
		e.sumv = total
	}
	return e
}

func (e Element) Equal(o Element) bool {
	return bytes.Equal(e.Marshal(), o.Marshal())
}

func (e Element) String() string {
	switch e.kind {
	case ItemKind:
		return fmt.Sprintf("item(%x)", e.value)
	case SumItemKind:
		return fmt.Sprintf("sumitem(%d)", e.sumv)
	case ReferenceKind:
		return fmt.Sprintf("reference(%s)", e.ref)
	case TreeKind:
		return fmt.Sprintf("tree(%x)", e.roothash[:8])
	case SumTreeKind:
		return fmt.Sprintf("sumtree(%x, %d)", e.roothash[:8], e.sumv)
	}
	return e.kind.String()
}

func putUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	buf.Write(tmp[:binary.PutUvarint(tmp[:], v)])
}

func putBytes(buf *bytes.Buffer, b []byte) {
	putUvarint(buf, uint64(len(b)))
	buf.Write(b)
}

func putVarint(buf *bytes.Buffer, v int64) {
	var tmp [binary.MaxVarintLen64]byte
	buf.Write(tmp[:binary.PutVarint(tmp[:], v)])
}

// Marshal returns the canonical encoding, which is what leaves of the subtree hash
func (e Element) Marshal() []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(e.kind))
	switch e.kind {
	case ItemKind:
		putBytes(&buf, e.value)
	case SumItemKind:
		putVarint(&buf, e.sumv)
	case ReferenceKind:
		e.ref.marshalTo(&buf)
	case TreeKind:
		buf.Write(e.roothash[:])
	case SumTreeKind:
		buf.Write(e.roothash[:])
		putVarint(&buf, e.sumv)
	}
	putBytes(&buf, e.flags)
	return buf.Bytes()
}

// minimal cursor over an encoded buffer
type decoder struct {
	buf []byte
	err error
}

func (d *decoder) fail(format string, args ...interface{}) {
	if d.err == nil {
		d.err = xerrors.Errorf("%w: "+format, append([]interface{}{ErrInvalidElement}, args...)...)
	}
}

func (d *decoder) readByte() byte {
	if d.err != nil || len(d.buf) < 1 {
		d.fail("truncated")
		return 0
	}
	b := d.buf[0]
	d.buf = d.buf[1:]
	return b
}

func (d *decoder) readFixed(n int) []byte {
	if d.err != nil || len(d.buf) < n {
		d.fail("truncated")
		return nil
	}
	b := d.buf[:n]
	d.buf = d.buf[n:]
	return b
}

func (d *decoder) readUvarint() uint64 {
	if d.err != nil {
		return 0
	}
	v, n := binary.Uvarint(d.buf)
	if n <= 0 {
		d.fail("bad uvarint")
		return 0
	}
	d.buf = d.buf[n:]
	return v
}

func (d *decoder) readVarint() int64 {
	if d.err != nil {
		return 0
	}
	v, n := binary.Varint(d.buf)
	if n <= 0 {
		d.fail("bad varint")
		return 0
	}
	d.buf = d.buf[n:]
	return v
}

func (d *decoder) readBytes() []byte {
	l := d.readUvarint()
	if d.err != nil {
		return nil
	}
	if l > uint64(len(d.buf)) {
		d.fail("length %d exceeds buffer", l)
		return nil
	}
	return append([]byte{}, d.readFixed(int(l))...)
}

func UnmarshalElement(buf []byte) (e Element, err error) {
	d := decoder{buf: buf}
	e.kind = ElementKind(d.readByte())
	switch e.kind {
	case ItemKind:
		e.value = d.readBytes()
	case SumItemKind:
		e.sumv = d.readVarint()
	case ReferenceKind:
		e.ref = unmarshalReferencePath(&d)
	case TreeKind:
		copy(e.roothash[:], d.readFixed(HASHSIZE))
	case SumTreeKind:
		copy(e.roothash[:], d.readFixed(HASHSIZE))
		e.sumv = d.readVarint()
	default:
		d.fail("unknown element kind %d", byte(e.kind))
	}
	if flags := d.readBytes(); len(flags) > 0 {
		e.flags = flags
	}
	if d.err == nil && len(d.buf) != 0 {
		d.fail("%d trailing bytes", len(d.buf))
	}
	return e, d.err
}

// aggregate an encoded element contributes to a sum tree
func elementSum(buf []byte) (int64, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	switch ElementKind(buf[0]) {
	case SumItemKind, SumTreeKind:
		e, err := UnmarshalElement(buf)
		if err != nil {
			return 0, xerrors.Errorf("%w: sum of element: %s", ErrCorruption, err)
		}
		return e.sumv, nil
	}
	return 0, nil
}
