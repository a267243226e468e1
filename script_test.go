package grove

import (
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/cockroachdb/datadriven"
	"golang.org/x/xerrors"
)

var scriptErrors = []error{
	ErrInvalidPath, ErrInvalidKey, ErrInvalidElement,
	ErrOverwriteNotAllowed, ErrOverwriteTreeNotAllowed, ErrDeletingNonEmptyTree,
	ErrCyclicReference, ErrReferenceLimit, ErrSumOverflow,
	ErrConflict, ErrTransactionDone, ErrProofInvalid, ErrNotFound,
}

func scriptError(err error) string {
	for _, s := range scriptErrors {
		if xerrors.Is(err, s) {
			return "error: " + s.Error()
		}
	}
	return "error: " + err.Error()
}

func scriptArg(d *datadriven.TestData, key string) (string, bool) {
	for _, arg := range d.CmdArgs {
		if arg.Key == key {
			if len(arg.Vals) == 0 {
				return "", true
			}
			return arg.Vals[0], true
		}
	}
	return "", false
}

func scriptPath(s string) [][]byte {
	if s == "" {
		return nil
	}
	return Path(strings.Split(s, "/")...)
}

func scriptElement(e Element) string {
	switch e.Kind() {
	case ItemKind:
		return fmt.Sprintf("item %q", e.Value())
	case SumItemKind:
		return fmt.Sprintf("sumitem %d", e.SumValue())
	case SumTreeKind:
		return fmt.Sprintf("sumtree %d", e.SumValue())
	case TreeKind:
		return "tree"
	case ReferenceKind:
		return fmt.Sprintf("reference %s", e.Reference())
	}
	return e.String()
}

// runs the scripts in testdata, every command works on one grove
func TestGroveScript(t *testing.T) {
	datadriven.Walk(t, "testdata", func(t *testing.T, path string) {
		g := newTestGrove(t)
		var tx *Transaction

		datadriven.RunTest(t, path, func(t *testing.T, d *datadriven.TestData) string {
			p, _ := scriptArg(d, "path")
			k, _ := scriptArg(d, "key")
			path, key := scriptPath(p), []byte(k)

			switch d.Cmd {
			case "insert":
				var e Element
				if v, ok := scriptArg(d, "item"); ok {
					e = NewItem([]byte(v))
				} else if v, ok := scriptArg(d, "sumitem"); ok {
					n, err := strconv.ParseInt(v, 10, 64)
					if err != nil {
						d.Fatalf(t, "sumitem: %s", err)
					}
					e = NewSumItem(n)
				} else if v, ok := scriptArg(d, "ref"); ok {
					e = NewReference(AbsolutePathReference(scriptPath(v)...))
				} else if v, ok := scriptArg(d, "sibling"); ok {
					e = NewReference(SiblingReference([]byte(v)))
				} else if d.HasArg("sumtree") {
					e = EmptySumTree()
				} else if d.HasArg("tree") {
					e = EmptyTree()
				} else {
					d.Fatalf(t, "insert needs an element")
				}
				opts := &InsertOptions{
					ValidateInsertionDoesNotOverride:     d.HasArg("no-override"),
					ValidateInsertionDoesNotOverrideTree: d.HasArg("no-override-tree"),
				}
				if err := g.Insert(path, key, e, opts, tx); err != nil {
					return scriptError(err)
				}
				return "ok"

			case "delete":
				opts := &DeleteOptions{AllowDeletingNonEmptyTrees: d.HasArg("cascade")}
				if err := g.Delete(path, key, opts, tx); err != nil {
					return scriptError(err)
				}
				return "ok"

			case "get":
				get := g.Get
				if d.HasArg("resolve") {
					get = g.GetResolved
				}
				e, err := get(path, key, tx)
				if err != nil {
					return scriptError(err)
				}
				return scriptElement(e)

			case "query":
				item := RangeFull()
				from, hasFrom := scriptArg(d, "from")
				to, hasTo := scriptArg(d, "to")
				switch {
				case hasFrom && hasTo:
					item = Range([]byte(from), []byte(to))
				case hasFrom:
					item = RangeFrom([]byte(from))
				case hasTo:
					item = RangeTo([]byte(to))
				}
				q := NewQuery(item)
				for _, arg := range []struct {
					name string
					dest *uint
				}{{"limit", &q.Limit}, {"offset", &q.Offset}} {
					if v, ok := scriptArg(d, arg.name); ok {
						n, err := strconv.ParseUint(v, 10, 32)
						if err != nil {
							d.Fatalf(t, "%s: %s", arg.name, err)
						}
						*arg.dest = uint(n)
					}
				}
				pq := NewPathQuery(path, q)

				results, err := g.Query(pq, false, tx)
				if err != nil {
					return scriptError(err)
				}
				var out strings.Builder
				for _, r := range results {
					fmt.Fprintf(&out, "%q: %s\n", r.Key, scriptElement(r.Element))
				}

				proof, err := g.ProveQuery(pq, tx)
				if err != nil {
					return scriptError(err)
				}
				root, err := g.RootHash(tx)
				if err != nil {
					return scriptError(err)
				}
				proven, err := VerifyQueryWithRootHash(proof, pq, root)
				if err != nil {
					return scriptError(err)
				}
				if len(proven) != len(results) {
					d.Fatalf(t, "proof holds %d results, query %d", len(proven), len(results))
				}
				out.WriteString("proof verified")
				return out.String()

			case "begin":
				var err error
				if tx, err = g.StartTransaction(); err != nil {
					return scriptError(err)
				}
				return "ok"

			case "commit":
				err := g.CommitTransaction(tx)
				tx = nil
				if err != nil {
					return scriptError(err)
				}
				return "ok"

			case "rollback":
				tx.Rollback()
				tx = nil
				return "ok"

			case "version":
				version, err := g.Version()
				if err != nil {
					return scriptError(err)
				}
				return fmt.Sprintf("%d", version)

			default:
				d.Fatalf(t, "unknown command %s", d.Cmd)
				return ""
			}
		})
	})
}
