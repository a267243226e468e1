package grove

import "bytes"
import "fmt"
import "encoding/binary"

import "golang.org/x/xerrors"

// QueryItem selects a key or a range of keys, open ends are unbounded
type QueryItem struct {
	Start, End     []byte
	HasStart       bool
	HasEnd         bool
	StartExclusive bool
	EndInclusive   bool
}

func Key(key []byte) QueryItem {
	return QueryItem{Start: key, End: key, HasStart: true, HasEnd: true, EndInclusive: true}
}

// Range is [start, end)
func Range(start, end []byte) QueryItem {
	return QueryItem{Start: start, End: end, HasStart: true, HasEnd: true}
}

// RangeInclusive is [start, end]
func RangeInclusive(start, end []byte) QueryItem {
	return QueryItem{Start: start, End: end, HasStart: true, HasEnd: true, EndInclusive: true}
}

func RangeFull() QueryItem {
	return QueryItem{}
}

// RangeFrom is [start, ...)
func RangeFrom(start []byte) QueryItem {
	return QueryItem{Start: start, HasStart: true}
}

// RangeTo is (..., end)
func RangeTo(end []byte) QueryItem {
	return QueryItem{End: end, HasEnd: true}
}

// RangeToInclusive is (..., end]
func RangeToInclusive(end []byte) QueryItem {
	return QueryItem{End: end, HasEnd: true, EndInclusive: true}
}

// RangeAfter is (start, ...)
func RangeAfter(start []byte) QueryItem {
	return QueryItem{Start: start, HasStart: true, StartExclusive: true}
}

// RangeAfterTo is (start, end)
func RangeAfterTo(start, end []byte) QueryItem {
	return QueryItem{Start: start, End: end, HasStart: true, HasEnd: true, StartExclusive: true}
}

// RangeAfterToInclusive is (start, end]
func RangeAfterToInclusive(start, end []byte) QueryItem {
	return QueryItem{Start: start, End: end, HasStart: true, HasEnd: true, StartExclusive: true, EndInclusive: true}
}

func (q QueryItem) contains(key []byte) bool {
	if q.HasStart {
		c := bytes.Compare(key, q.Start)
		if c < 0 || (c == 0 && q.StartExclusive) {
			return false
		}
	}
	if q.HasEnd {
		c := bytes.Compare(key, q.End)
		if c > 0 || (c == 0 && !q.EndInclusive) {
			return false
		}
	}
	return true
}

// reports whether a key below the trie position prefix (one bit per byte) can match.
// the answer never is false for a position holding a matching key.
func (q QueryItem) mayIntersect(prefix []byte) bool {
	if q.HasStart && cmpPrefix(q.Start, prefix) > 0 {
		return false
	}
	if q.HasEnd && cmpPrefix(q.End, prefix) < 0 {
		return false
	}
	return true
}

func (q QueryItem) String() string {
	lb, rb := "[", ")"
	if q.StartExclusive {
		lb = "("
	}
	if q.EndInclusive {
		rb = "]"
	}
	start, end := "-inf", "+inf"
	if q.HasStart {
		start = fmt.Sprintf("%q", q.Start)
	}
	if q.HasEnd {
		end = fmt.Sprintf("%q", q.End)
	}
	return lb + start + ", " + end + rb
}

// Query selects keys of one subtree, a zero Limit means no limit
type Query struct {
	Items  []QueryItem
	Limit  uint
	Offset uint
}

// NewQuery builds an unlimited query of the items
func NewQuery(items ...QueryItem) Query {
	return Query{Items: items}
}

func (q Query) matches(key []byte) bool {
	for i := range q.Items {
		if q.Items[i].contains(key) {
			return true
		}
	}
	return false
}

func (q Query) mayIntersect(prefix []byte) bool {
	for i := range q.Items {
		if q.Items[i].mayIntersect(prefix) {
			return true
		}
	}
	return false
}

// PathQuery is a query of the subtree at Path
type PathQuery struct {
	Path  [][]byte
	Query Query
}

func NewPathQuery(path [][]byte, q Query) PathQuery {
	return PathQuery{Path: path, Query: q}
}

type KeyElement struct {
	Key     []byte
	Element Element
}

type QueryMetadata struct {
	SkippedTrees       int // tree elements matched but not returned
	ResolvedReferences int
	CacheHits          int
}

// visits the matching leaves below n in key order, fn returns false to stop the walk
func walkQuery(store *Store, n node, prefix []byte, q *Query, fn func(key, value []byte) (bool, error)) (bool, error) {
	switch v := n.(type) {
	case nil:
		return true, nil
	case *leaf:
		if err := v.load_partial(store); err != nil {
			return false, err
		}
		if !q.matches(v.key) {
			return true, nil
		}
		return fn(v.key, v.value)
	case *inner:
		if !q.mayIntersect(prefix) {
			return true, nil
		}
		if err := v.load_partial(store); err != nil {
			return false, err
		}
		more, err := walkQuery(store, v.left, append(prefix[:len(prefix):len(prefix)], 0), q, fn)
		if err != nil || !more {
			return more, err
		}
		return walkQuery(store, v.right, append(prefix[:len(prefix):len(prefix)], 1), q, fn)
	default:
		return false, fmt.Errorf("unknown node type, corruption")
	}
}

// offset and limit accounting shared by queries and proofs
type window struct {
	offset, limit uint
	seen          uint
}

func newWindow(q Query) *window {
	return &window{offset: q.Offset, limit: q.Limit}
}

// counts one element, reports whether it is inside the window
func (w *window) take() bool {
	w.seen++
	return w.seen > w.offset
}

func (w *window) full() bool {
	return w.limit > 0 && w.seen >= w.offset+w.limit
}

func (v *view) query(pq PathQuery, resolve bool) ([]KeyElement, error) {
	if err := v.propagate(); err != nil {
		return nil, err
	}
	t, err := v.subtree(pq.Path)
	if err != nil {
		return nil, err
	}

	var results []KeyElement
	w := newWindow(pq.Query)
	_, err = walkQuery(v.store, t.root, nil, &pq.Query, func(key, value []byte) (bool, error) {
		if w.full() {
			return false, nil
		}
		if !w.take() {
			return true, nil
		}
		e, err := UnmarshalElement(value)
		if err != nil {
			return false, err
		}
		if resolve && e.kind == ReferenceKind {
			if e, err = v.resolve(pq.Path, key, e); err != nil {
				return false, err
			}
		}
		results = append(results, KeyElement{Key: append([]byte{}, key...), Element: e})
		return !w.full(), nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Query returns the matching elements in ascending key order
func (g *Grove) Query(pq PathQuery, resolveReferences bool, tx *Transaction) (results []KeyElement, err error) {
	err = g.read(tx, func(v *view) error {
		results, err = v.query(pq, resolveReferences)
		return err
	})
	return
}

// value bytes of an element as returned by QueryItemValue
func itemValue(e Element) []byte {
	switch e.kind {
	case ItemKind:
		return append([]byte{}, e.value...)
	case SumItemKind:
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(e.sumv))
		return buf[:]
	default:
		return e.Marshal()
	}
}

// QueryItemValue returns the values of the matching elements.
// Tree elements are skipped, they only count against the limit when decreaseLimitOnRangeWithNoSubQuery is set.
func (g *Grove) QueryItemValue(pq PathQuery, resolveReferences, allowCache, decreaseLimitOnRangeWithNoSubQuery bool, tx *Transaction) (values [][]byte, meta QueryMetadata, err error) {
	useCache := allowCache && tx == nil && g.cache != nil
	err = g.read(tx, func(v *view) error {
		if err := v.propagate(); err != nil {
			return err
		}
		t, err := v.subtree(pq.Path)
		if err != nil {
			return err
		}
		version := v.snapshot.GetVersion()

		w := newWindow(pq.Query)
		_, err = walkQuery(v.store, t.root, nil, &pq.Query, func(key, value []byte) (bool, error) {
			if w.full() {
				return false, nil
			}
			e, err := UnmarshalElement(value)
			if err != nil {
				return false, err
			}
			if e.IsTree() {
				meta.SkippedTrees++
				if decreaseLimitOnRangeWithNoSubQuery {
					w.take()
				}
				return !w.full(), nil
			}
			if !w.take() {
				return true, nil
			}

			if resolveReferences && e.kind == ReferenceKind {
				ck := g.cacheKey(version, pq.Path, key)
				if cached, ok := g.cacheGet(useCache, ck); ok {
					meta.CacheHits++
					e = cached
				} else {
					if e, err = v.resolve(pq.Path, key, e); err != nil {
						return false, err
					}
					if useCache {
						g.cache.Add(ck, e)
					}
				}
				meta.ResolvedReferences++
			}
			values = append(values, itemValue(e))
			return !w.full(), nil
		})
		return err
	})
	if err != nil {
		return nil, QueryMetadata{}, xerrors.Errorf("query %s: %w", pathString(pq.Path), err)
	}
	return
}

func (g *Grove) cacheGet(use bool, key string) (Element, bool) {
	if !use {
		return Element{}, false
	}
	return g.cache.Get(key)
}
