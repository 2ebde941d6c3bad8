package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strconv"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"github.com/lgaroche/stakemon/internal/storage"
)

// Export writes the watch list as CSV and/or a PNG bar chart of balances.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	entries, err := listEntries(ctx, store, opts.Owner)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		a.Logger.Info().Msg("no watched validators to export")
		return nil
	}
	a.Logger.Info().Int("entries", len(entries)).Msg("exporting watch list")

	if opts.CSVPath != "" {
		if err := a.writeEntriesCSV(opts.CSVPath, entries); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := a.writeEntriesPNG(opts.PNGPath, entries); err != nil {
			return err
		}
	}

	return nil
}

func (a *App) toUnit(balance uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(balance), -a.Config.Alerting.Decimals)
}

func (a *App) writeEntriesCSV(path string, entries []storage.WatchEntry) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	unitColumn := "balance"
	if unit := a.Config.Alerting.Unit; unit != "" {
		unitColumn = "balance_" + unit
	}
	header := []string{"owner_id", "validator_index", "balance_gwei", unitColumn}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, entry := range entries {
		record := []string{
			strconv.FormatUint(entry.Account.OwnerID, 10),
			strconv.FormatUint(entry.Account.ValidatorIndex, 10),
			strconv.FormatUint(entry.Balance, 10),
			a.toUnit(entry.Balance).String(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func (a *App) writeEntriesPNG(path string, entries []storage.WatchEntry) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	width := a.Config.Export.ChartWidth
	if width <= 0 {
		width = 1280
	}
	height := a.Config.Export.ChartHeight
	if height <= 0 {
		height = 720
	}

	bars := make([]chart.Value, 0, len(entries))
	peak := 0.0
	for _, entry := range entries {
		value := a.toUnit(entry.Balance).InexactFloat64()
		if value > peak {
			peak = value
		}
		bars = append(bars, chart.Value{
			Label: fmt.Sprintf("%d/%d", entry.Account.OwnerID, entry.Account.ValidatorIndex),
			Value: value,
		})
	}
	if peak == 0 {
		peak = 1
	}

	barWidth := width / (2 * len(bars))
	barWidth = max(4, min(barWidth, 60))

	graph := chart.BarChart{
		Title:    "Watched validator balances",
		Width:    width,
		Height:   height,
		BarWidth: barWidth,
		Background: chart.Style{
			Padding: chart.Box{Top: 40},
		},
		YAxis: chart.YAxis{
			Name: a.Config.Alerting.Unit,
			Range: &chart.ContinuousRange{
				Min: 0,
				Max: peak * 1.1,
			},
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.3f")
			},
		},
		Bars: bars,
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
