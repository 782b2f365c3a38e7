package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/hedge-bot/internal/hedge"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Format represents the export file format
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// Options configures the export behavior
type Options struct {
	Format      Format
	StartTime   time.Time
	EndTime     time.Time
	AssetFilter string // Filter by asset symbol
	ModeFilter  hedge.Mode
	OutputDir   string
}

// HistoryExporter writes hedge history snapshots to disk
type HistoryExporter struct {
	logger *zap.Logger
}

// NewHistoryExporter creates a new hedge history exporter
func NewHistoryExporter(logger *zap.Logger) *HistoryExporter {
	return &HistoryExporter{
		logger: logger.Named("export"),
	}
}

// Export writes the matching hedge records to a file and returns its path.
func (he *HistoryExporter) Export(records []hedge.Record, options Options) (string, error) {
	filtered := he.filterRecords(records, options)

	if len(filtered) == 0 {
		return "", fmt.Errorf("no hedge records match the export criteria")
	}

	// Ledger order is append order; keep exports chronological even if the
	// caller handed us a newest-first slice.
	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].Timestamp < filtered[j].Timestamp
	})

	filename := he.generateFilename(options)
	outputPath := filepath.Join(options.OutputDir, filename)

	if err := os.MkdirAll(options.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	var err error
	switch options.Format {
	case FormatCSV:
		err = he.exportToCSV(filtered, outputPath)
	case FormatJSON:
		err = he.exportToJSON(filtered, outputPath)
	default:
		err = fmt.Errorf("unsupported format: %s", options.Format)
	}
	if err != nil {
		return "", err
	}

	he.logger.Info("Hedge history exported",
		zap.String("file", outputPath),
		zap.Int("count", len(filtered)),
		zap.String("format", string(options.Format)))

	return outputPath, nil
}

// filterRecords applies filters to the record list
func (he *HistoryExporter) filterRecords(records []hedge.Record, options Options) []hedge.Record {
	var filtered []hedge.Record

	for _, record := range records {
		ts, err := time.Parse(time.RFC3339, record.Timestamp)
		if err != nil {
			he.logger.Warn("Skipping record with unparseable timestamp",
				zap.String("timestamp", record.Timestamp))
			continue
		}

		if !options.StartTime.IsZero() && ts.Before(options.StartTime) {
			continue
		}
		if !options.EndTime.IsZero() && ts.After(options.EndTime) {
			continue
		}

		if options.AssetFilter != "" && record.Asset != options.AssetFilter {
			continue
		}

		if options.ModeFilter != "" && record.Mode != options.ModeFilter {
			continue
		}

		filtered = append(filtered, record)
	}

	return filtered
}

// generateFilename creates a filename based on export options
func (he *HistoryExporter) generateFilename(options Options) string {
	timestamp := time.Now().Format("20060102_150405")

	var prefix string
	if options.ModeFilter != "" {
		prefix = fmt.Sprintf("hedges_%s", options.ModeFilter)
	} else {
		prefix = "hedges_all"
	}

	if options.AssetFilter != "" {
		prefix += "_" + options.AssetFilter
	}

	return fmt.Sprintf("%s_%s.%s", prefix, timestamp, options.Format)
}

func csvHeaders() []string {
	return []string{"timestamp", "asset", "size", "price", "notional", "mode"}
}

func recordToCSV(r hedge.Record) []string {
	return []string{
		r.Timestamp,
		r.Asset,
		strconv.FormatFloat(r.Size, 'f', -1, 64),
		strconv.FormatFloat(r.Price, 'f', -1, 64),
		strconv.FormatFloat(r.Size*r.Price, 'f', 2, 64),
		string(r.Mode),
	}
}

// exportToCSV exports records to CSV format
func (he *HistoryExporter) exportToCSV(records []hedge.Record, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write(csvHeaders()); err != nil {
		return fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, record := range records {
		if err := writer.Write(recordToCSV(record)); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}

	return nil
}

// exportToJSON exports records to JSON format with summary metadata
func (he *HistoryExporter) exportToJSON(records []hedge.Record, outputPath string) error {
	exportData := struct {
		ExportTime  time.Time      `json:"export_time"`
		RecordCount int            `json:"record_count"`
		Records     []hedge.Record `json:"records"`
		Summary     Summary        `json:"summary"`
	}{
		ExportTime:  time.Now().UTC(),
		RecordCount: len(records),
		Records:     records,
		Summary:     he.calculateSummary(records),
	}

	data, err := json.MarshalIndent(exportData, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}

	if err := os.WriteFile(outputPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write JSON file: %w", err)
	}

	return nil
}

// Summary contains aggregate statistics for exported hedge records
type Summary struct {
	TotalHedges   int     `json:"total_hedges"`
	ManualCount   int     `json:"manual_count"`
	AutoCount     int     `json:"auto_count"`
	UniqueAssets  int     `json:"unique_assets"`
	TotalNotional float64 `json:"total_notional"`
	FirstHedge    string  `json:"first_hedge,omitempty"`
	LastHedge     string  `json:"last_hedge,omitempty"`
}

// calculateSummary aggregates statistics over chronologically sorted records
func (he *HistoryExporter) calculateSummary(records []hedge.Record) Summary {
	summary := Summary{
		TotalHedges: len(records),
	}

	if len(records) == 0 {
		return summary
	}

	summary.FirstHedge = records[0].Timestamp
	summary.LastHedge = records[len(records)-1].Timestamp

	assetSet := make(map[string]bool)
	for _, record := range records {
		assetSet[record.Asset] = true
		summary.TotalNotional += record.Size * record.Price

		switch record.Mode {
		case hedge.ModeManual:
			summary.ManualCount++
		case hedge.ModeAuto:
			summary.AutoCount++
		}
	}
	summary.UniqueAssets = len(assetSet)

	return summary
}
