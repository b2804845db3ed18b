package main

import (
	"encoding/csv"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/leadsignal/intent-cli/internal/model"
)

var importFilePath string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import signals from a CSV feed",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		f, err := os.Open(importFilePath)
		if err != nil {
			return eris.Wrapf(err, "import: open %s", importFilePath)
		}
		defer f.Close() //nolint:errcheck

		signals, err := parseSignalsCSV(f)
		if err != nil {
			return err
		}

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Store.ImportSignals(ctx, signals)
		if err != nil {
			return eris.Wrap(err, "import signals")
		}

		zap.L().Info("import complete",
			zap.Int64("imported", n),
			zap.String("file", importFilePath),
		)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importFilePath, "file", "", "path to CSV file (required)")
	_ = importCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(importCmd)
}

// parseSignalsCSV reads a signal feed. The header names the columns, so
// order does not matter: company_id, org_id, category, detected_at are
// required; id, source, description are optional.
func parseSignalsCSV(r io.Reader) ([]model.Signal, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, eris.Wrap(err, "import: read csv header")
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"company_id", "org_id", "category", "detected_at"} {
		if _, ok := col[required]; !ok {
			return nil, eris.Errorf("import: csv missing required column %q", required)
		}
	}

	field := func(record []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var signals []model.Signal
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "import: read csv line %d", line)
		}

		category := model.SignalCategory(field(record, "category"))
		if !category.Valid() {
			return nil, eris.Errorf("import: line %d: unknown category %q", line, category)
		}

		detectedAt, err := time.Parse(time.RFC3339, field(record, "detected_at"))
		if err != nil {
			return nil, eris.Wrapf(err, "import: line %d: parse detected_at", line)
		}

		sig := model.Signal{
			ID:          field(record, "id"),
			CompanyID:   field(record, "company_id"),
			OrgID:       field(record, "org_id"),
			Category:    category,
			Source:      field(record, "source"),
			Description: field(record, "description"),
			DetectedAt:  detectedAt.UTC(),
		}
		if sig.CompanyID == "" || sig.OrgID == "" {
			return nil, eris.Errorf("import: line %d: company_id and org_id are required", line)
		}
		signals = append(signals, sig)
	}

	if len(signals) == 0 {
		return nil, eris.New("import: csv contains no signals")
	}
	return signals, nil
}
