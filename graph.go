package grove

import "io"
import "fmt"
import "bufio"

// Graph writes the trie of the subtree in graphviz dot format
func (t *Subtree) Graph(out io.Writer) error {
	w := bufio.NewWriter(out)
	fmt.Fprintf(w, "digraph grove_subtree {\n")
	fmt.Fprintf(w, "label = %q\n", pathString(t.path))
	if err := t.graph(t.root, w); err != nil {
		return err
	}
	fmt.Fprintf(w, "}\n")
	return w.Flush()
}

func (t *Subtree) graph(cnode node, w *bufio.Writer) error {
	switch nd := cnode.(type) {
	case *inner:
		if err := nd.load_partial(t.store); err != nil {
			return err
		}
		hash, err := nd.Hash(t.store)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "N%x [ shape=point label=\"\" ];\n", hash)

		for i, child := range []node{nd.left, nd.right} {
			if child == nil {
				continue
			}
			chash, err := child.Hash(t.store)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "N%x -> N%x [ label=\"%d\" ];\n", hash, chash, i)
			if err := t.graph(child, w); err != nil {
				return err
			}
		}
		return nil
	case *leaf:
		if err := nd.load_partial(t.store); err != nil {
			return err
		}
		hash, _ := nd.Hash(t.store)
		label := fmt.Sprintf("%q", nd.key)
		if e, err := UnmarshalElement(nd.value); err == nil {
			label += "\\n" + e.String()
		}
		fmt.Fprintf(w, "N%x [ shape=box style=filled fillcolor=palegreen label=%q ];\n", hash, label)
		return nil
	default:
		return fmt.Errorf("unknown node type, corruption")
	}
}
