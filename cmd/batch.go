package main

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/leadsignal/intent-cli/internal/predictor"
)

var (
	batchManifestPath string
	batchLimit        int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Score companies from a manifest concurrently",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		manifest, err := loadManifest(batchManifestPath)
		if err != nil {
			return err
		}

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		return processBatch(ctx, manifest.entries(), batchLimit, cfg.Batch.MaxConcurrentCompanies,
			func(ctx context.Context, companyID, orgID string) (*predictor.Outcome, error) {
				return env.Predictor.Predict(ctx, companyID, orgID)
			})
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchManifestPath, "manifest", "", "path to YAML manifest (required)")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max number of companies to score (0 = all)")
	_ = batchCmd.MarkFlagRequired("manifest")
	rootCmd.AddCommand(batchCmd)
}

// batchManifest lists the companies to score. A top-level org_id is the
// default; individual entries may override it.
type batchManifest struct {
	OrgID     string         `yaml:"org_id"`
	Companies []batchCompany `yaml:"companies"`
}

type batchCompany struct {
	ID    string `yaml:"id"`
	OrgID string `yaml:"org_id,omitempty"`
}

// batchEntry is a fully-resolved (company, org) pair.
type batchEntry struct {
	CompanyID string
	OrgID     string
}

func loadManifest(path string) (*batchManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "batch: read manifest %s", path)
	}

	var m batchManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrap(err, "batch: parse manifest")
	}

	for i, c := range m.Companies {
		if c.ID == "" {
			return nil, eris.Errorf("batch: manifest entry %d has no company id", i)
		}
		if c.OrgID == "" && m.OrgID == "" {
			return nil, eris.Errorf("batch: manifest entry %d has no org id and no default is set", i)
		}
	}
	return &m, nil
}

func (m *batchManifest) entries() []batchEntry {
	out := make([]batchEntry, 0, len(m.Companies))
	for _, c := range m.Companies {
		orgID := c.OrgID
		if orgID == "" {
			orgID = m.OrgID
		}
		out = append(out, batchEntry{CompanyID: c.ID, OrgID: orgID})
	}
	return out
}

// predictFunc is the callback signature for scoring one company.
type predictFunc func(ctx context.Context, companyID, orgID string) (*predictor.Outcome, error)

// processBatch applies limit, then scores entries concurrently.
// Individual failures are logged and counted, never abort the batch.
func processBatch(ctx context.Context, entries []batchEntry, limit, concurrency int, predict predictFunc) error {
	if len(entries) == 0 {
		zap.L().Info("manifest has no companies")
		return nil
	}

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	zap.L().Info("processing batch",
		zap.Int("companies", len(entries)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var succeeded, noData, failed atomic.Int64

	for _, entry := range entries {
		g.Go(func() error {
			log := zap.L().With(
				zap.String("company_id", entry.CompanyID),
				zap.String("org_id", entry.OrgID),
			)

			out, err := predict(gctx, entry.CompanyID, entry.OrgID)
			if err != nil {
				failed.Add(1)
				log.Error("scoring failed", zap.Error(err))
				return nil // don't abort batch on individual failure
			}
			if out.Prediction == nil {
				noData.Add(1)
				log.Info("no signal data, skipped")
				return nil
			}

			succeeded.Add(1)
			log.Info("scored",
				zap.Float64("probability", out.Prediction.BuyingProbability),
				zap.Int("priority", out.Prediction.PriorityScore),
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return eris.Wrap(err, "batch processing")
	}

	zap.L().Info("batch complete",
		zap.Int64("succeeded", succeeded.Load()),
		zap.Int64("no_data", noData.Load()),
		zap.Int64("failed", failed.Load()),
	)
	return nil
}
