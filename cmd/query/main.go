// Command query mounts every shard under a directory and answers one
// similarity query against them.
package main

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/dtsim/ivfshard/pkg/ivfshard"
)

func main() {
	var (
		shardsDir string
		baseURL   string
		model     string
		k         int
		radius    float32
		nprobe    int
		start     string
		end       string
		singles   bool
	)

	cmd := &cobra.Command{
		Use:   "query TEXT",
		Short: "run one similarity query against a directory of IVF shards",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ivfshard.DefaultConfig(shardsDir, baseURL, model)
			cfg.NProbe = nprobe
			cfg.Radius = radius
			cfg.RerankByDoc = !singles

			svc, err := ivfshard.New(cfg)
			if err != nil {
				return err
			}

			docs, err := svc.Query(context.Background(), args[0], k, start, end)
			if err != nil {
				return err
			}
			for _, d := range docs {
				fmt.Printf("doc=%s score=%.4f\n", d.DocID, d.Score)
				for _, h := range d.Hits {
					fmt.Printf("  id=%d score=%.4f\n", h.VectorID, h.Score)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&shardsDir, "shards", "", "directory holding the shard index/payload pairs")
	cmd.Flags().StringVar(&baseURL, "vectorizer-url", "", "base URL of the embedding model server")
	cmd.Flags().StringVar(&model, "model", "default", "model name to request from the vectorizer")
	cmd.Flags().IntVar(&k, "k", 5, "number of documents to return")
	cmd.Flags().Float32Var(&radius, "radius", 0.65, "squared-L2 search radius")
	cmd.Flags().IntVar(&nprobe, "nprobe", 8, "number of centroids to probe per shard")
	cmd.Flags().StringVar(&start, "start", "", "inclusive start date (YYYY-MM-DD), unbounded if empty")
	cmd.Flags().StringVar(&end, "end", "", "inclusive end date (YYYY-MM-DD), unbounded if empty")
	cmd.Flags().BoolVar(&singles, "singles", false, "report only each document's best sentence hit")
	cmd.MarkFlagRequired("shards")
	cmd.MarkFlagRequired("vectorizer-url")

	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
