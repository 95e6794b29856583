// Package ivfshard is the public facade: it wires the shard manager
// and query processor together behind one Service.
package ivfshard

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dtsim/ivfshard/internal/ivf"
	"github.com/dtsim/ivfshard/internal/query"
	"github.com/dtsim/ivfshard/internal/shard"
	"github.com/dtsim/ivfshard/internal/vecid"
)

// DocIDDivisor re-exports the compound vector id convention
// (doc_id = vid/DocIDDivisor, sent_id = vid%DocIDDivisor) so callers
// outside this module never need to import the internal package that
// defines it.
const DocIDDivisor = vecid.Divisor

// Config holds the settings needed to open a Service. There is no
// config-file format: a caller builds one in code.
type Config struct {
	ShardsDir string // directory holding one *.index/*.ivfdata pair per date shard

	VectorizerBaseURL string
	VectorizerModel   string
	VectorizerTimeout time.Duration

	NProbe int
	Radius float32 // squared-L2 search radius

	// RerankByDoc controls the payload shape: grouped per document
	// with every sentence hit, or reduced to each document's single
	// best sentence.
	RerankByDoc bool

	ManagerMemoSize   int
	ProcessorMemoSize int
}

// DefaultConfig returns reasonable defaults for every field except
// ShardsDir and the vectorizer endpoint, which have no sane default.
func DefaultConfig(shardsDir, vectorizerBaseURL, vectorizerModel string) Config {
	return Config{
		ShardsDir:         shardsDir,
		VectorizerBaseURL: vectorizerBaseURL,
		VectorizerModel:   vectorizerModel,
		VectorizerTimeout: 10 * time.Second,
		NProbe:            8,
		Radius:            0.65,
		RerankByDoc:       true,
		ManagerMemoSize:   256,
		ProcessorMemoSize: 256,
	}
}

// Service is the top-level entry point: mount shards from a
// directory, then answer queries against them.
type Service struct {
	cfg       Config
	manager   *shard.Manager
	processor *query.Processor
}

// New opens every sub-index already present in cfg.ShardsDir as an
// online shard and wires a query processor in front of it.
func New(cfg Config) (*Service, error) {
	mgr, err := shard.NewManager(cfg.ManagerMemoSize)
	if err != nil {
		return nil, err
	}

	names, err := ivf.FindIndexes(cfg.ShardsDir)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		if err := mgr.AddShard(cfg.ShardsDir, name); err != nil {
			return nil, fmt.Errorf("ivfshard: mount shard %s: %w", name, err)
		}
	}

	vectorizer := &query.HTTPVectorizer{
		BaseURL: cfg.VectorizerBaseURL,
		Model:   cfg.VectorizerModel,
		Client:  &http.Client{Timeout: cfg.VectorizerTimeout},
	}

	proc, err := query.NewProcessor(mgr, vectorizer, cfg.NProbe, cfg.Radius, cfg.ProcessorMemoSize)
	if err != nil {
		return nil, err
	}

	return &Service{cfg: cfg, manager: mgr, processor: proc}, nil
}

// Query vectorizes text and returns up to k ranked document hits
// whose shard date falls within [start, end] (either may be "" for
// unbounded).
func (s *Service) Query(ctx context.Context, text string, k int, start, end string) ([]query.DocHit, error) {
	return s.processor.Query(ctx, text, k, start, end, s.cfg.RerankByDoc)
}

// AddShard brings a newly built shard online without restarting the
// service.
func (s *Service) AddShard(name string) error {
	return s.manager.AddShard(s.cfg.ShardsDir, name)
}

// RemoveShard takes a shard offline.
func (s *Service) RemoveShard(name string) error {
	return s.manager.RemoveShard(name)
}

// ShardNames lists the shards currently online.
func (s *Service) ShardNames() []string {
	return s.manager.ShardNames()
}

// Close unmounts every shard and releases their mappings.
func (s *Service) Close() error {
	return s.manager.Close()
}
