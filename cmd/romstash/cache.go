package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/discochess/romstash/internal/persist"
	"github.com/discochess/romstash/internal/store"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the persistent cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show statistics about the persistent cache",
	Long: `Display the number of cached entries, their total payload size, their age
range and how many entries belong to each ROM.`,
	Args: cobra.NoArgs,
	RunE: runCacheStats,
}

var cacheVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the integrity of the persistent cache",
	Long: `Decode every entry in the persistent cache.

This command checks:
- Each entry can be read and decompressed
- Each entry has a valid envelope and metadata
- Each entry is younger than --ttl

With --fix, corrupt and expired entries are deleted.`,
	Args: cobra.NoArgs,
	RunE: runCacheVerify,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every entry in the persistent cache",
	Args:  cobra.NoArgs,
	RunE:  runCacheClear,
}

var (
	verifyFix bool
	verifyTTL time.Duration
)

func init() {
	cacheVerifyCmd.Flags().BoolVar(&verifyFix, "fix", false, "delete corrupt and expired entries")
	cacheVerifyCmd.Flags().DurationVar(&verifyTTL, "ttl", persist.DefaultDiskTTL, "maximum entry age")
	cacheCmd.AddCommand(cacheStatsCmd, cacheVerifyCmd, cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}

// cacheEntry is one decoded persistent cache entry.
type cacheEntry struct {
	key       string
	payload   []byte
	metadata  map[string]any
	createdAt time.Time
	err       error
}

// walkCache decodes every entry in the selected store.
func walkCache(ctx context.Context, fn func(st store.Store, e cacheEntry) error) error {
	st, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	lister, ok := st.(store.Lister)
	if !ok {
		return fmt.Errorf("the %s backend cannot list its entries", cacheBackend)
	}
	keys, err := lister.Keys(ctx)
	if err != nil {
		return fmt.Errorf("listing cache entries: %w", err)
	}
	slices.Sort(keys)

	for _, key := range keys {
		e := cacheEntry{key: key}
		data, err := st.Read(ctx, key)
		if err != nil {
			e.err = err
		} else {
			e.payload, e.metadata, e.createdAt, e.err = persist.DecodeEntry(data)
		}
		if err := fn(st, e); err != nil {
			return err
		}
	}
	return nil
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	var (
		count, unreadable int
		totalSize         int64
		oldest, newest    time.Time
		perROM            = make(map[string]int)
	)
	err := walkCache(cmd.Context(), func(_ store.Store, e cacheEntry) error {
		if e.err != nil {
			unreadable++
			return nil
		}
		count++
		totalSize += int64(len(e.payload))
		if !e.createdAt.IsZero() {
			if oldest.IsZero() || e.createdAt.Before(oldest) {
				oldest = e.createdAt
			}
			if e.createdAt.After(newest) {
				newest = e.createdAt
			}
		}
		rom, _ := e.metadata["rom"].(string)
		if rom == "" {
			rom = "(unknown)"
		}
		perROM[rom]++
		return nil
	})
	if err != nil {
		return err
	}

	if count == 0 && unreadable == 0 {
		fmt.Println("The persistent cache is empty.")
		return nil
	}

	fmt.Printf("Backend:      %s\n", cacheBackend)
	fmt.Printf("Entries:      %d\n", count)
	fmt.Printf("Payload size: %s\n", formatBytes(totalSize))
	if !oldest.IsZero() {
		fmt.Printf("Oldest:       %s (%s ago)\n", oldest.Format(time.RFC3339), time.Since(oldest).Round(time.Second))
		fmt.Printf("Newest:       %s (%s ago)\n", newest.Format(time.RFC3339), time.Since(newest).Round(time.Second))
	}
	if unreadable > 0 {
		fmt.Printf("Unreadable:   %d (run 'romstash cache verify --fix')\n", unreadable)
	}

	roms := slices.SortedFunc(maps.Keys(perROM), func(a, b string) int {
		return cmp.Or(cmp.Compare(perROM[b], perROM[a]), cmp.Compare(a, b))
	})
	fmt.Println("\nEntries per ROM:")
	for _, rom := range roms {
		fmt.Printf("  %6d  %s\n", perROM[rom], rom)
	}
	return nil
}

func runCacheVerify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	var valid, corrupt, expired, deleted int

	err := walkCache(ctx, func(st store.Store, e cacheEntry) error {
		var problem string
		switch {
		case e.err != nil:
			corrupt++
			problem = e.err.Error()
		case !e.createdAt.IsZero() && time.Since(e.createdAt) > verifyTTL:
			expired++
			problem = fmt.Sprintf("expired %s ago", (time.Since(e.createdAt) - verifyTTL).Round(time.Second))
		default:
			valid++
			return nil
		}

		if verbose {
			fmt.Printf("  %s: %s\n", e.key, problem)
		}
		if verifyFix {
			if err := st.Delete(ctx, e.key); err != nil {
				return fmt.Errorf("deleting %s: %w", e.key, err)
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Printf("Valid:   %d\n", valid)
	fmt.Printf("Corrupt: %d\n", corrupt)
	fmt.Printf("Expired: %d\n", expired)
	if verifyFix {
		fmt.Printf("Deleted: %d\n", deleted)
	}
	if corrupt > 0 && !verifyFix {
		return errors.New("verification failed")
	}
	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	var deleted int
	err := walkCache(ctx, func(st store.Store, e cacheEntry) error {
		if err := st.Delete(ctx, e.key); err != nil {
			return fmt.Errorf("deleting %s: %w", e.key, err)
		}
		deleted++
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d entries.\n", deleted)
	return nil
}
