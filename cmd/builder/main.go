// Command builder drives the offline side of an ivfshard deployment:
// laying down a trained base index, building sub-indexes from a batch
// of vectors, merging sub-indexes into date shards, and relocating
// finished shards into a serving directory.
package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dtsim/ivfshard/internal/ivf"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "builder",
		Short: "build and merge on-disk IVF shard indexes",
	}
	root.AddCommand(setupBaseCmd(), generateSubIndexCmd(), mergeCmd(), zipDirCmd(), mvCmd(), vectorCountCmd())
	return root
}

func setupBaseCmd() *cobra.Command {
	var dim, nlist int
	cmd := &cobra.Command{
		Use:   "setup-base DIR NAME",
		Short: "create an empty trained base index directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, name := args[0], args[1]
			centroids, err := readCentroids(cmd.Flag("centroids").Value.String(), nlist, dim)
			if err != nil {
				return err
			}
			if _, err := ivf.SetupBaseIndex(dir, name, dim, nlist, centroids); err != nil {
				return err
			}
			fmt.Printf("created base index %s/%s (dim=%d nlist=%d)\n", dir, name, dim, nlist)
			return nil
		},
	}
	cmd.Flags().IntVar(&dim, "dim", 512, "vector dimension")
	cmd.Flags().IntVar(&nlist, "nlist", 100, "number of centroids")
	cmd.Flags().String("centroids", "", "path to a vector file holding exactly nlist trained centroids")
	cmd.MarkFlagRequired("centroids")
	return cmd
}

func generateSubIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate-subindex BASE_DIR BASE_NAME OUT_DIR OUT_NAME VECTORS_FILE",
		Short: "assign a batch of vectors to a base index's centroids and write a sub-index",
		Args:  cobra.ExactArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			baseDir, baseName, outDir, outName, vecFile := args[0], args[1], args[2], args[3], args[4]

			base, err := ivf.OpenBaseIndex(baseDir, baseName)
			if err != nil {
				return err
			}

			b, err := ivf.NewSubIndexBuilder(base)
			if err != nil {
				return err
			}
			n, err := loadVectors(vecFile, func(id int64, vec []float32) error {
				return b.Add(id, vec)
			})
			if err != nil {
				return err
			}
			fmt.Printf("assigned %d vectors (%d accepted) to %d centroids\n", n, b.Ntotal(), base.Nlist)

			sub, err := b.Build(outDir, outName)
			if err != nil {
				return err
			}
			fmt.Printf("wrote sub-index %s (%d vectors)\n", sub.IndexPath, sub.Ntotal)
			return nil
		},
	}
	return cmd
}

func mergeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge DIR OUT_NAME SOURCE_NAME...",
		Short: "merge sub-indexes into one artifact, consuming the sources (zip semantics)",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, outName, sources := args[0], args[1], args[2:]
			merger := ivf.NewDiskMerger()
			merged, err := merger.ZipIndexes(dir, outName, sources)
			if err != nil {
				return err
			}
			fmt.Printf("merged %d sub-indexes into %s (%d vectors)\n", len(sources), merged.IndexPath, merged.Ntotal)
			return nil
		},
	}
	return cmd
}

func zipDirCmd() *cobra.Command {
	var recursive bool
	cmd := &cobra.Command{
		Use:   "zip-dir MV_DIR TO_DIR TAG",
		Short: "scan MV_DIR for sub-indexes, group them by ISO date, and zip each group into TO_DIR",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			mvDir, toDir, tag := args[0], args[1], args[2]
			merger := ivf.NewDiskMerger()
			n, err := merger.ZipDirectory(mvDir, toDir, tag, recursive)
			if err != nil {
				return err
			}
			fmt.Printf("zipped %s into %s (%d vectors total)\n", mvDir, toDir, n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&recursive, "recursive", false, "search mv_dir recursively for sub-indexes")
	return cmd
}

func mvCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mv SRC_DIR SRC_NAME DST_DIR DST_NAME",
		Short: "relocate an index/payload pair as a unit",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			merger := ivf.NewDiskMerger()
			return merger.MvIndexAndIvfdata(args[0], args[1], args[2], args[3])
		},
	}
	return cmd
}

func vectorCountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vector-count INDEX_PATH",
		Short: "print the number of vectors recorded in an index file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := ivf.GetVectorCount(args[0])
			if err != nil {
				return err
			}
			fmt.Println(n)
			return nil
		},
	}
	return cmd
}

// loadVectors reads a newline-delimited "id f1,f2,f3,..." vector file
// and calls add for every row, returning the number of rows read.
func loadVectors(path string, add func(id int64, vec []float32) error) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var n int
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, " ", 2)
		if len(parts) != 2 {
			return n, fmt.Errorf("builder: malformed line %q", line)
		}
		id, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return n, fmt.Errorf("builder: bad id in line %q: %w", line, err)
		}
		vec, err := parseVector(parts[1])
		if err != nil {
			return n, fmt.Errorf("builder: bad vector in line %q: %w", line, err)
		}
		if err := add(id, vec); err != nil {
			return n, err
		}
		n++
	}
	return n, scanner.Err()
}

func parseVector(s string) ([]float32, error) {
	fields := strings.Split(s, ",")
	vec := make([]float32, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 32)
		if err != nil {
			return nil, err
		}
		vec[i] = float32(v)
	}
	return vec, nil
}

// readCentroids loads exactly nlist vectors of dimension dim from a
// vector file, ignoring the id column (centroids have no vector id of
// their own).
func readCentroids(path string, nlist, dim int) ([]float32, error) {
	centroids := make([]float32, 0, nlist*dim)
	n, err := loadVectors(path, func(_ int64, vec []float32) error {
		if len(vec) != dim {
			return fmt.Errorf("builder: centroid dimension %d does not match --dim %d", len(vec), dim)
		}
		centroids = append(centroids, vec...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if n != nlist {
		return nil, fmt.Errorf("builder: centroid file has %d rows, want nlist=%d", n, nlist)
	}
	return centroids, nil
}
