package main

import "fmt"
import "encoding/binary"

import "github.com/deroproject/grove"
import "github.com/spf13/cobra"

// rerunnable inserts, trees may be replaced
var demo_options = &grove.InsertOptions{BaseRootStorageIsFree: true}

func demoCommands() []*cobra.Command {
	return []*cobra.Command{
		{Use: "demo", Short: "insert tree1/k1 into a memory grove and show the root hash change", Args: cobra.NoArgs, RunE: runDemo},
		{Use: "replicate", Short: "replicate a student/subject/grade grove into an empty one and query both", Args: cobra.NoArgs, RunE: runReplicate},
	}
}

func runDemo(cmd *cobra.Command, args []string) error {
	g, err := grove.OpenMem()
	if err != nil {
		return err
	}
	defer g.Close()

	before, err := g.RootHash(nil)
	if err != nil {
		return err
	}
	if err := g.Insert(nil, []byte("tree1"), grove.EmptyTree(), demo_options, nil); err != nil {
		return err
	}
	if err := g.Insert(grove.Path("tree1"), []byte("k1"), grove.NewItem([]byte("v1")), demo_options, nil); err != nil {
		return err
	}
	e, err := g.Get(grove.Path("tree1"), []byte("k1"), nil)
	if err != nil {
		return err
	}
	after, err := g.RootHash(nil)
	if err != nil {
		return err
	}
	fmt.Printf("tree1/k1 = %s\n", e)
	fmt.Printf("root hash before %x\nroot hash after  %x\n", before, after)
	return nil
}

func runReplicate(cmd *cobra.Command, args []string) error {
	source, err := grove.OpenMem()
	if err != nil {
		return err
	}
	defer source.Close()
	replica, err := grove.OpenMem()
	if err != nil {
		return err
	}
	defer replica.Close()

	for _, table := range []string{"student", "subject", "grade"} {
		if err := source.Insert(nil, []byte(table), grove.EmptyTree(), demo_options, nil); err != nil {
			return err
		}
	}
	rows := []struct {
		table, key string
		value      []byte
	}{
		{"student", "1", []byte("Ivo Ivić")},
		{"student", "2", []byte("Pero Perić")},
		{"subject", "1", []byte("Matematika")},
		{"subject", "2", []byte("Algoritmi")},
		{"grade", "1_1", grade(4)},
		{"grade", "1_2", grade(5)},
		{"grade", "2_1", grade(3)},
		{"grade", "2_2", grade(4)},
	}
	for _, r := range rows {
		if err := source.Insert(grove.Path(r.table), []byte(r.key), grove.NewItem(r.value), demo_options, nil); err != nil {
			return err
		}
	}

	fmt.Println("\n######### root hashes before replication:")
	if err := printRoots(source, replica); err != nil {
		return err
	}

	root, err := source.RootHash(nil)
	if err != nil {
		return err
	}
	tx, err := replica.StartTransaction()
	if err != nil {
		return err
	}
	session, err := grove.Replicate(cmd.Context(), source, root, replica, tx, grove.CurrentStateSyncVersion)
	if err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	fmt.Printf("\nsession %s %s, %d chunks applied\n", session.ID, session.State, session.Applied)

	fmt.Println("\n######### root hashes after replication:")
	if err := printRoots(source, replica); err != nil {
		return err
	}

	for _, side := range []struct {
		name string
		g    *grove.Grove
	}{{"source", source}, {"replica", replica}} {
		fmt.Printf("\n######## Query on %s:\n", side.name)
		for _, q := range [][2]string{{"student", "1"}, {"subject", "2"}, {"grade", "1_2"}} {
			if err := queryAndVerify(side.g, q[0], q[1]); err != nil {
				return err
			}
		}
	}
	return nil
}

func grade(v int32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(v))
	return buf[:]
}

func printRoots(source, replica *grove.Grove) error {
	for _, side := range []struct {
		name string
		g    *grove.Grove
	}{{"source", source}, {"replica", replica}} {
		h, err := side.g.RootHash(nil)
		if err != nil {
			return err
		}
		fmt.Printf("root_hash_%s: %x\n", side.name, h)
	}
	return nil
}

// runs the query, then checks its proof against the root hash of the grove
func queryAndVerify(g *grove.Grove, table, key string) error {
	pq := grove.NewPathQuery(grove.Path(table), grove.NewQuery(grove.Key([]byte(key))))
	results, err := g.Query(pq, false, nil)
	if err != nil {
		return err
	}
	proof, err := g.ProveQuery(pq, nil)
	if err != nil {
		return err
	}
	root, err := g.RootHash(nil)
	if err != nil {
		return err
	}
	verified, err := grove.VerifyQueryWithRootHash(proof, pq, root)
	if err != nil {
		return err
	}
	for _, r := range results {
		fmt.Printf("%s/%s: %s\n", table, r.Key, r.Element)
	}
	fmt.Printf("proof verified, %d of %d results\n", len(verified), len(results))
	return nil
}
