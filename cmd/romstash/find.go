package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/discochess/romstash"
	"github.com/discochess/romstash/internal/decomp"
)

var findCmd = &cobra.Command{
	Use:   "find ROM",
	Short: "List candidate offsets without decompressing",
	Long: `List offsets worth a closer look. With --pattern, every occurrence of the
hex byte pattern is listed; without it, offsets --step bytes apart that pass
the texture pre-filter are listed.

Examples:
  romstash find game.sfc --pattern "10 00 02"
  romstash find game.sfc --start 0x80000 --step 0x40`,
	Args: cobra.ExactArgs(1),
	RunE: runFind,
}

var (
	findPattern string
	findStart   string
	findEnd     string
	findStep    int64
	findLimit   int
)

func init() {
	f := findCmd.Flags()
	f.StringVarP(&findPattern, "pattern", "p", "", "hex byte pattern to search for")
	f.StringVar(&findStart, "start", "0", "first offset to search")
	f.StringVar(&findEnd, "end", "", "offset to stop at (default end of file)")
	f.Int64Var(&findStep, "step", 0x100, "distance between sweep offsets, or skip after a match")
	f.IntVarP(&findLimit, "limit", "n", 0, "print at most this many offsets (0 for all)")
	rootCmd.AddCommand(findCmd)
}

func runFind(cmd *cobra.Command, args []string) error {
	romPath := args[0]

	var pattern []byte
	if findPattern != "" {
		p, err := parsePattern(findPattern)
		if err != nil {
			return err
		}
		pattern = p
	}
	start, err := parseOffset(findStart)
	if err != nil {
		return err
	}
	end := int64(1<<63 - 1)
	if findEnd != "" {
		if end, err = parseOffset(findEnd); err != nil {
			return err
		}
	}

	// Finding never decompresses; the extractor only needs one to exist.
	ext, err := romstash.New(
		romstash.WithDecompressor(decomp.Func(func(data []byte) ([]byte, error) { return data, nil })),
		romstash.WithLogger(newLogger()),
	)
	if err != nil {
		return err
	}
	defer ext.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	found, err := ext.ScanForCandidates(ctx, romPath, start, end, findStep, pattern)
	if err != nil {
		return err
	}

	shown := found
	if findLimit > 0 && len(shown) > findLimit {
		shown = shown[:findLimit]
	}
	for _, off := range shown {
		fmt.Printf("0x%06X\n", off)
	}
	if len(shown) < len(found) {
		fmt.Printf("... %d more\n", len(found)-len(shown))
	}
	fmt.Fprintf(os.Stderr, "%d offsets found\n", len(found))
	return nil
}
