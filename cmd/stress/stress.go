package main

import "os"
import "fmt"
import "math"
import "encoding/binary"
import "crypto/rc4"
import "path/filepath"
import "bytes"
import "runtime/pprof"
import "time"

import "github.com/deroproject/grove"
import "github.com/dustin/go-humanize"
import "github.com/spf13/cobra"
import "go.uber.org/zap"
import "golang.org/x/sync/errgroup"

const keysize uint64 = 64    // in bytes
const valuesize uint64 = 512 // in bytes

var (
	stepsize     uint64
	totalsize    uint64
	db_directory string
	memory       bool
	cpuprofile   string
	trees        int
	workers      int
)

var log *zap.SugaredLogger

var step uint64
var keys_written uint64

func main() {
	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Grove stress tester, writes pseudorandom subtrees and verifies every step",
		RunE:  run,
	}
	cmd.Flags().Uint64Var(&stepsize, "stepsize", 10, "Every commit will include this much data in MB")
	cmd.Flags().Uint64Var(&totalsize, "totalsize", 500, "Total this much data will be written in MB ( use 0 for infinite )")
	cmd.Flags().StringVar(&db_directory, "db_directory", os.TempDir(), "DB will be created in this path")
	cmd.Flags().BoolVar(&memory, "memory", true, "DB will by default use memory backend (use --memory=false for disk based tests)")
	cmd.Flags().StringVar(&cpuprofile, "cpuprofile", "", "write cpu profile to `file`")
	cmd.Flags().IntVar(&trees, "trees", 4, "keys are spread over this many subtrees")
	cmd.Flags().IntVar(&workers, "workers", 4, "parallel readers used for verification")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer logger.Sync()
	log = logger.Sugar()

	log.Infof("Grove stress tester")
	log.Infof("NOTE: Do not use rotational media")

	if cpuprofile != "" {
		f, err := os.Create(cpuprofile)
		if err != nil {
			return fmt.Errorf("could not create CPU profile: %w", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			return fmt.Errorf("could not start CPU profile: %w", err)
		}
		defer pprof.StopCPUProfile()
	}

	if stepsize < 1 {
		stepsize = 1
	}
	if totalsize == 0 {
		totalsize = math.MaxUint64
	}
	if stepsize > 512 {
		stepsize = 512
	}
	if stepsize > totalsize {
		stepsize = totalsize
	}
	if trees < 1 {
		trees = 1
	}
	if workers < 1 {
		workers = 1
	}

	log.Infof("Total Size (to be written): %s", humanize.IBytes(totalsize*1024*1024))
	log.Infof("Commit size: %s", humanize.IBytes(stepsize*1024*1024))

	var g *grove.Grove
	if memory {
		g, err = grove.OpenMem(grove.WithLogger(logger))
		log.Infof("Using memory backend")
	} else {
		dir := filepath.Join(db_directory, "grove_stress_db")
		g, err = grove.Open(dir, grove.WithLogger(logger), grove.WithSyncWrites(false))
		log.Infof("Using disk backend, db_directory: %s", dir)
	}
	if err != nil {
		return fmt.Errorf("stress db creation err %w", err)
	}
	defer g.Close()

	for i := 0; i < trees; i++ {
		if err := g.Insert(nil, treeName(i), grove.EmptyTree(), nil, nil); err != nil {
			return err
		}
	}

	steps := totalsize / stepsize
	for step = 0; step < steps; step++ {
		log.Infof("Running step %d    %.2f%% completed total keys %s", step, float64(step*100)/float64(steps), humanize.Comma(int64(keys_written)))
		if err := RunStep(g); err != nil {
			return err
		}
	}
	log.Infof("Completed step %d    %.2f%% completed total keys %s", steps, float32(100), humanize.Comma(int64(keys_written)))
	return nil
}

func treeName(i int) []byte {
	return []byte(fmt.Sprintf("stress_testing_%d", i))
}

// each step consists of generating pseudorandom data, which is first committed and then verified after each step
func RunStep(g *grove.Grove) error {
	values_count := (stepsize * 1024 * 1024 / valuesize) + 1

	key_buf := make([]byte, values_count*keysize)
	value_buf := make([]byte, values_count*valuesize)

	var cryptokey, cryptovalue [9]byte

	cryptokey[0] = 1
	binary.LittleEndian.PutUint64(cryptokey[1:], step)
	binary.LittleEndian.PutUint64(cryptovalue[1:], step)

	keycipher, _ := rc4.NewCipher(cryptokey[:])
	valuecipher, _ := rc4.NewCipher(cryptovalue[:])

	keycipher.XORKeyStream(key_buf[:], key_buf[:])
	valuecipher.XORKeyStream(value_buf[:], value_buf[:])

	key := func(i uint64) []byte { return key_buf[i*keysize : (i+1)*keysize] }
	value := func(i uint64) []byte { return value_buf[i*valuesize : (i+1)*valuesize] }
	path := func(i uint64) [][]byte { return [][]byte{treeName(int(i % uint64(trees)))} }

	start := time.Now()
	tx, err := g.StartTransaction()
	if err != nil {
		return err
	}
	for i := uint64(0); i < values_count; i++ {
		if err := g.Insert(path(i), key(i), grove.NewItem(value(i)), nil, tx); err != nil {
			tx.Rollback()
			return err
		}
		keys_written++
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	log.Infof("step %d committed %s keys in %s", step, humanize.Comma(int64(values_count)), time.Since(start))

	// now read everything back from the committed snapshot and verify, each worker takes a share of the keys
	start = time.Now()
	var eg errgroup.Group
	for w := 0; w < workers; w++ {
		w := uint64(w)
		eg.Go(func() error {
			for i := w; i < values_count; i += uint64(workers) {
				e, err := g.Get(path(i), key(i), nil)
				if err != nil { // key not existent or other err, stop testing
					return fmt.Errorf("err occured while verifying tree err %w", err)
				}
				if !bytes.Equal(e.Value(), value(i)) {
					return fmt.Errorf("value mismatched for key %x", key(i))
				}
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	// spot check random keys with proofs against the grove root
	root, err := g.RootHash(nil)
	if err != nil {
		return err
	}
	for i := 0; i < trees; i++ {
		sub, err := g.Subtree([][]byte{treeName(i)}, nil)
		if err != nil {
			return err
		}
		k, _, err := sub.Random()
		if err != nil {
			return err
		}
		pq := grove.NewPathQuery([][]byte{treeName(i)}, grove.NewQuery(grove.Key(k)))
		proof, err := g.ProveQuery(pq, nil)
		if err != nil {
			return err
		}
		if _, err := grove.VerifyQueryWithRootHash(proof, pq, root); err != nil {
			return err
		}
	}
	log.Infof("step %d verified in %s", step, time.Since(start))
	return nil
}
