package grove

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestElementEncoding(t *testing.T) {
	elements := []Element{
		NewItem([]byte("value")),
		NewItem(nil),
		NewSumItem(math.MinInt64),
		NewSumItem(42),
		NewReference(AbsolutePathReference([]byte("a"), []byte("b"))),
		NewReference(RelativePathReference(3, []byte("x"))),
		EmptyTree(),
		EmptySumTree().withRoot([HASHSIZE]byte{7}, -9),
		NewItem([]byte("flagged")).WithFlags([]byte{1, 2, 3}),
	}
	seen := map[string]bool{}
	for _, e := range elements {
		raw := e.Marshal()
		require.False(t, seen[string(raw)], e.String())
		seen[string(raw)] = true

		decoded, err := UnmarshalElement(raw)
		require.NoError(t, err, e.String())
		require.True(t, e.Equal(decoded), e.String())
		require.Equal(t, e.Kind(), decoded.Kind())
	}

	decoded, err := UnmarshalElement(EmptySumTree().withRoot([HASHSIZE]byte{7}, -9).Marshal())
	require.NoError(t, err)
	require.Equal(t, int64(-9), decoded.SumValue())
	require.Equal(t, [HASHSIZE]byte{7}, decoded.RootHash())
	require.True(t, decoded.IsTree())
}

func TestElementUnmarshalErrors(t *testing.T) {
	valid := NewItem([]byte("value")).Marshal()

	bad := [][]byte{
		nil,
		{byte(SumItemKind) + 10},
		valid[:len(valid)-1],
		append(append([]byte{}, valid...), 0),
		{byte(TreeKind), 1, 2, 3},
		{byte(ReferenceKind), 7},
		{byte(ReferenceKind), byte(AbsolutePathReferenceType), 0, 0},
		{byte(ItemKind), 0xff, 0xff, 0xff, 0xff, 0x0f},
	}
	for _, b := range bad {
		_, err := UnmarshalElement(b)
		require.ErrorIs(t, err, ErrInvalidElement, "%x", b)
	}
}

func TestElementAccessors(t *testing.T) {
	require.Nil(t, NewSumItem(3).Value())
	require.Equal(t, int64(0), NewItem([]byte("x")).SumValue())
	require.Equal(t, int64(3), NewSumItem(3).SumValue())
	require.False(t, NewItem(nil).IsTree())
	require.Equal(t, emptyRootHash, EmptyTree().RootHash())

	// a tree element never carries an aggregate
	require.Equal(t, int64(0), EmptyTree().withRoot(emptyRootHash, 5).SumValue())
	require.Nil(t, NewItem(nil).WithFlags([]byte{}).Flags())

	require.Equal(t, "sumitem(3)", NewSumItem(3).String())
	require.Equal(t, `reference(/"a"/"b")`, NewReference(AbsolutePathReference([]byte("a"), []byte("b"))).String())
	require.Equal(t, "kind(9)", ElementKind(9).String())

	for _, c := range []struct {
		buf []byte
		sum int64
	}{
		{NewSumItem(-4).Marshal(), -4},
		{EmptySumTree().withRoot(emptyRootHash, 12).Marshal(), 12},
		{NewItem([]byte("x")).Marshal(), 0},
		{nil, 0},
	} {
		s, err := elementSum(c.buf)
		require.NoError(t, err)
		require.Equal(t, c.sum, s)
	}

	// a sum element which does not decode has no aggregate
	truncated := NewSumItem(1 << 40).Marshal()
	_, err := elementSum(truncated[:2])
	require.ErrorIs(t, err, ErrCorruption)
}

func TestReferenceTarget(t *testing.T) {
	holder := Path("a", "b", "c")

	p, k, err := AbsolutePathReference([]byte("x"), []byte("y"), []byte("key")).target(holder)
	require.NoError(t, err)
	require.Equal(t, Path("x", "y"), p)
	require.Equal(t, []byte("key"), k)

	p, k, err = RelativePathReference(2, []byte("z"), []byte("key")).target(holder)
	require.NoError(t, err)
	require.Equal(t, Path("a", "z"), p)
	require.Equal(t, []byte("key"), k)

	p, k, err = SiblingReference([]byte("key")).target(holder)
	require.NoError(t, err)
	require.Equal(t, holder, p)
	require.Equal(t, []byte("key"), k)

	_, _, err = RelativePathReference(4, []byte("key")).target(holder)
	require.ErrorIs(t, err, ErrInvalidPath)

	_, _, err = ReferencePath{Type: 9, Path: Path("k")}.target(holder)
	require.ErrorIs(t, err, ErrInvalidElement)
}
