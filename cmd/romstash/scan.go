package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/natefinch/atomic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/discochess/romstash"
	"github.com/discochess/romstash/internal/scan"
	"github.com/discochess/romstash/internal/stats"
	promstats "github.com/discochess/romstash/internal/stats/prometheus"
)

var scanCmd = &cobra.Command{
	Use:   "scan ROM",
	Short: "Scan a ROM for compressed sprites",
	Long: `Split a range of the ROM into chunks and scan them in parallel. Every
offset that passes the texture pre-filter is handed to the decompressor and
scored by size, compression ratio, tile count and tile texture.

Interrupting a scan with Ctrl-C prints the partial results. With --state the
unfinished chunks are saved and a later run with --resume continues them.

Examples:
  romstash scan game.sfc --decompressor-cmd "exhal -"
  romstash scan game.sfc --start 0x80000 --end 0x100000 --workers 8
  romstash scan game.sfc --state scan.json --resume`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

var (
	scanStart         string
	scanEnd           string
	scanWorkers       int
	scanChunkSize     int64
	scanMinTiles      int
	scanMinConfidence float64
	scanState         string
	scanResume        bool
	scanJSON          bool
	scanMetricsAddr   string
)

func init() {
	f := scanCmd.Flags()
	f.StringVar(&scanStart, "start", "0", "first offset to scan")
	f.StringVar(&scanEnd, "end", "", "offset to stop at (default end of file)")
	f.IntVarP(&scanWorkers, "workers", "w", scan.DefaultWorkers, "number of scan workers")
	f.Int64Var(&scanChunkSize, "chunk-size", scan.DefaultChunkSize, "chunk size in bytes")
	f.IntVar(&scanMinTiles, "min-tiles", 1, "minimum decompressed tiles for a candidate")
	f.Float64Var(&scanMinConfidence, "min-confidence", 0, "hide results below this confidence")
	f.StringVar(&scanState, "state", "", "file to save unfinished chunks to")
	f.BoolVar(&scanResume, "resume", false, "continue the scan saved in --state")
	f.BoolVar(&scanJSON, "json", false, "output results as JSON")
	f.StringVar(&scanMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while scanning")
	rootCmd.AddCommand(scanCmd)
}

// savedScan is the resumable part of a scan.Report.
type savedScan struct {
	ROM       string        `json:"rom"`
	Start     int64         `json:"start"`
	End       int64         `json:"end"`
	Results   []scan.Result `json:"results"`
	Completed []scan.Chunk  `json:"completed"`
	Pending   []scan.Chunk  `json:"pending"`
}

func runScan(cmd *cobra.Command, args []string) error {
	romPath := args[0]
	logger := newLogger()
	defer logger.Sync()

	d, err := newDecompressor()
	if err != nil {
		return err
	}

	var sc stats.Collector = stats.NewNoop()
	if scanMetricsAddr != "" {
		reg := prometheus.NewRegistry()
		sc = promstats.New(reg)
		stop := serveMetrics(scanMetricsAddr, reg, logger)
		defer stop()
	}

	ext, err := romstash.New(
		romstash.WithDecompressor(d),
		romstash.WithLogger(logger),
		romstash.WithStats(sc),
	)
	if err != nil {
		return err
	}
	defer ext.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	coord, err := ext.Scanner(romPath, scan.DecompressProbe(d, scanMinTiles),
		scan.WithWorkers(scanWorkers),
		scan.WithChunkSize(scanChunkSize),
		scan.WithProgress(func(p scan.Progress) {
			if !scanJSON {
				fmt.Fprintf(os.Stderr, "\rchunks %d/%d, %d candidates", p.ChunksDone, p.ChunksTotal, p.Results)
			}
		}),
	)
	if err != nil {
		return err
	}

	var report *scan.Report
	if scanResume {
		prev, err := loadScan(romPath)
		if err != nil {
			return err
		}
		report, err = coord.Resume(ctx, prev)
		if err != nil && !errors.Is(err, romstash.ErrCancelled) {
			return err
		}
	} else {
		start, end, err := scanRange(ext, romPath)
		if err != nil {
			return err
		}
		report, err = coord.Scan(ctx, start, end)
		if err != nil && !errors.Is(err, romstash.ErrCancelled) {
			return err
		}
	}
	if !scanJSON {
		fmt.Fprintln(os.Stderr)
	}

	if scanState != "" {
		if err := saveScan(romPath, report); err != nil {
			return err
		}
	}

	if scanJSON {
		return printScanJSON(report)
	}
	printScanText(report)
	return nil
}

func scanRange(ext *romstash.Extractor, romPath string) (int64, int64, error) {
	start, err := parseOffset(scanStart)
	if err != nil {
		return 0, 0, err
	}
	if scanEnd == "" {
		r, err := ext.Reader(romPath)
		if err != nil {
			return 0, 0, err
		}
		return start, r.Len(), nil
	}
	end, err := parseOffset(scanEnd)
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

func visibleResults(report *scan.Report) []scan.Result {
	out := make([]scan.Result, 0, len(report.Results))
	for _, r := range report.Results {
		if r.Confidence >= scanMinConfidence {
			out = append(out, r)
		}
	}
	return out
}

func printScanText(report *scan.Report) {
	results := visibleResults(report)
	for _, r := range results {
		fmt.Printf("0x%06X  %6d bytes  %4d tiles  confidence %.2f\n",
			r.Offset, r.DecompressedSize, r.TileCount, r.Confidence)
	}

	s := scan.Summarize(results)
	fmt.Printf("\nRange:      0x%X-0x%X\n", report.Start, report.End)
	fmt.Printf("Candidates: %d\n", s.Count)
	if s.Count > 0 {
		fmt.Printf("Confidence: mean %.2f, median %.2f, stddev %.2f, min %.2f, max %.2f\n",
			s.Mean, s.Median, s.StdDev, s.Min, s.Max)
	}
	if n := len(report.ChunkErrors); n > 0 {
		fmt.Printf("Failed:     %d chunks\n", n)
	}
	if !report.Done() {
		fmt.Printf("Pending:    %d chunks (interrupted)\n", len(report.Pending))
	}
	fmt.Printf("Elapsed:    %s\n", report.Elapsed.Round(time.Millisecond))
}

func printScanJSON(report *scan.Report) error {
	results := visibleResults(report)
	out := struct {
		Start   int64         `json:"start"`
		End     int64         `json:"end"`
		Results []scan.Result `json:"results"`
		Summary scan.Summary  `json:"summary"`
		Failed  int           `json:"failed_chunks"`
		Pending int           `json:"pending_chunks"`
		Elapsed int64         `json:"elapsed_ms"`
	}{
		Start:   report.Start,
		End:     report.End,
		Results: results,
		Summary: scan.Summarize(results),
		Failed:  len(report.ChunkErrors),
		Pending: len(report.Pending),
		Elapsed: report.Elapsed.Milliseconds(),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func saveScan(romPath string, report *scan.Report) error {
	data, err := json.Marshal(savedScan{
		ROM:       romPath,
		Start:     report.Start,
		End:       report.End,
		Results:   report.Results,
		Completed: report.Completed,
		Pending:   report.Pending,
	})
	if err != nil {
		return fmt.Errorf("encoding scan state: %w", err)
	}
	if err := atomic.WriteFile(scanState, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("saving scan state: %w", err)
	}
	return nil
}

func loadScan(romPath string) (*scan.Report, error) {
	if scanState == "" {
		return nil, errors.New("--resume needs --state")
	}
	data, err := os.ReadFile(scanState)
	if err != nil {
		return nil, fmt.Errorf("reading scan state: %w", err)
	}
	var saved savedScan
	if err := json.Unmarshal(data, &saved); err != nil {
		return nil, fmt.Errorf("decoding scan state: %w", err)
	}
	if saved.ROM != romPath {
		return nil, fmt.Errorf("scan state belongs to %s, not %s", saved.ROM, romPath)
	}
	return &scan.Report{
		Start:     saved.Start,
		End:       saved.End,
		Results:   saved.Results,
		Completed: saved.Completed,
		Pending:   saved.Pending,
	}, nil
}

// serveMetrics exposes reg on addr until the returned function is called.
func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server failed", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", addr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}
