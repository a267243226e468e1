package main

import "os"
import "context"
import "fmt"
import "strings"
import "encoding/hex"
import "strconv"

import "github.com/deroproject/grove"
import "github.com/dustin/go-humanize"
import "github.com/spf13/cobra"
import "go.uber.org/zap"

var (
	db_directory string
	path_flag    string
	verbose      bool
)

func main() {
	root := &cobra.Command{
		Use:          "grovectl",
		Short:        "inspect and modify a grove stored on disk",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&db_directory, "db", "grovedb", "grove directory")
	root.PersistentFlags().StringVar(&path_flag, "path", "", "subtree path, segments separated by /")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		&cobra.Command{Use: "version", Short: "latest committed version and root hash", Args: cobra.NoArgs, RunE: withGrove(cmdVersion)},
		&cobra.Command{Use: "get <key>", Short: "read the element stored at key", Args: cobra.ExactArgs(1), RunE: withGrove(cmdGet)},
		&cobra.Command{Use: "put <key> <value>", Short: "store an item", Args: cobra.ExactArgs(2), RunE: withGrove(cmdPut)},
		&cobra.Command{Use: "sum <key> <value>", Short: "store a sum item", Args: cobra.ExactArgs(2), RunE: withGrove(cmdSum)},
		&cobra.Command{Use: "mktree <key>", Short: "create an empty subtree", Args: cobra.ExactArgs(1), RunE: withGrove(cmdMktree(false))},
		&cobra.Command{Use: "mksumtree <key>", Short: "create an empty sum tree", Args: cobra.ExactArgs(1), RunE: withGrove(cmdMktree(true))},
		&cobra.Command{Use: "delete <key>", Short: "delete key, subtrees with all their contents", Args: cobra.ExactArgs(1), RunE: withGrove(cmdDelete)},
		&cobra.Command{Use: "query [from] [to]", Short: "list keys in the half open range, all keys without arguments", Args: cobra.MaximumNArgs(2), RunE: withGrove(cmdQuery)},
		&cobra.Command{Use: "prove <key>", Short: "print and verify a proof for key", Args: cobra.ExactArgs(1), RunE: withGrove(cmdProve)},
		&cobra.Command{Use: "graph", Short: "print the subtree as graphviz dot", Args: cobra.NoArgs, RunE: withGrove(cmdGraph)},
	)
	root.AddCommand(demoCommands()...)

	if err := root.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func withGrove(fn func(g *grove.Grove, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		logger := zap.NewNop()
		if verbose {
			var err error
			if logger, err = zap.NewDevelopment(); err != nil {
				return err
			}
			defer logger.Sync()
		}
		g, err := grove.Open(db_directory, grove.WithLogger(logger))
		if err != nil {
			return err
		}
		defer g.Close()
		return fn(g, args)
	}
}

func subtreePath() [][]byte {
	if path_flag == "" {
		return nil
	}
	return grove.Path(strings.Split(path_flag, "/")...)
}

func cmdVersion(g *grove.Grove, args []string) error {
	version, err := g.Version()
	if err != nil {
		return err
	}
	root, err := g.RootHash(nil)
	if err != nil {
		return err
	}
	fmt.Printf("version %d root %x\n", version, root)
	return nil
}

func cmdGet(g *grove.Grove, args []string) error {
	e, err := g.Get(subtreePath(), []byte(args[0]), nil)
	if err != nil {
		return err
	}
	fmt.Println(e)
	if e.Kind() == grove.ReferenceKind {
		if resolved, err := g.GetResolved(subtreePath(), []byte(args[0]), nil); err == nil {
			fmt.Printf("resolves to %s\n", resolved)
		} else {
			fmt.Printf("unresolved: %s\n", err)
		}
	}
	return nil
}

func cmdPut(g *grove.Grove, args []string) error {
	return g.Insert(subtreePath(), []byte(args[0]), grove.NewItem([]byte(args[1])), nil, nil)
}

func cmdSum(g *grove.Grove, args []string) error {
	v, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return err
	}
	return g.Insert(subtreePath(), []byte(args[0]), grove.NewSumItem(v), nil, nil)
}

func cmdMktree(sum bool) func(g *grove.Grove, args []string) error {
	return func(g *grove.Grove, args []string) error {
		e := grove.EmptyTree()
		if sum {
			e = grove.EmptySumTree()
		}
		return g.Insert(subtreePath(), []byte(args[0]), e, &grove.InsertOptions{ValidateInsertionDoesNotOverrideTree: true}, nil)
	}
}

func cmdDelete(g *grove.Grove, args []string) error {
	return g.Delete(subtreePath(), []byte(args[0]), &grove.DeleteOptions{AllowDeletingNonEmptyTrees: true}, nil)
}

func cmdQuery(g *grove.Grove, args []string) error {
	item := grove.RangeFull()
	switch len(args) {
	case 1:
		item = grove.RangeFrom([]byte(args[0]))
	case 2:
		item = grove.Range([]byte(args[0]), []byte(args[1]))
	}
	results, err := g.Query(grove.NewPathQuery(subtreePath(), grove.NewQuery(item)), false, nil)
	if err != nil {
		return err
	}
	for _, r := range results {
		fmt.Printf("%q: %s\n", r.Key, r.Element)
	}
	return nil
}

func cmdProve(g *grove.Grove, args []string) error {
	pq := grove.NewPathQuery(subtreePath(), grove.NewQuery(grove.Key([]byte(args[0]))))
	proof, err := g.ProveQuery(pq, nil)
	if err != nil {
		return err
	}
	root, results, err := grove.VerifyQuery(proof, pq)
	if err != nil {
		return err
	}
	fmt.Printf("proof (%s) %s\n", humanize.Bytes(uint64(len(proof))), hex.EncodeToString(proof))
	fmt.Printf("root %x, %d results\n", root, len(results))
	return nil
}

func cmdGraph(g *grove.Grove, args []string) error {
	t, err := g.Subtree(subtreePath(), nil)
	if err != nil {
		return err
	}
	return t.Graph(os.Stdout)
}
