package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/discochess/romstash/internal/region"
)

var infoCmd = &cobra.Command{
	Use:   "info ROM",
	Short: "Show the cartridge header and checksum of a ROM",
	Long: `Display the internal cartridge header of a SNES ROM, its size and the
16-bit word checksum of the whole file.`,
	Args: cobra.ExactArgs(1),
	RunE: runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	rom, err := region.Open(args[0], region.WithLogger(newLogger()))
	if err != nil {
		return err
	}
	defer rom.Close()

	sum, err := rom.Checksum()
	if err != nil {
		return fmt.Errorf("computing checksum: %w", err)
	}

	fmt.Printf("File:      %s\n", rom.Path())
	fmt.Printf("Size:      %s (%d bytes)\n", formatBytes(rom.Len()), rom.Len())
	fmt.Printf("Checksum:  0x%04X\n", sum)

	h := rom.ReadHeader()
	if !h.Valid() {
		fmt.Println("Header:    not found")
		return nil
	}
	fmt.Printf("Title:     %s\n", h.Title)
	fmt.Printf("Layout:    %s at 0x%X\n", h.Layout, h.Offset)
	if h.CopierHeader {
		fmt.Println("Copier:    512 byte header present")
	}
	if size := h.DeclaredSize(); size > 0 {
		fmt.Printf("Declared:  %s\n", formatBytes(size))
	}
	fmt.Printf("Map mode:  0x%02X\n", h.MapMode)
	fmt.Printf("ROM type:  0x%02X\n", h.ROMType)
	fmt.Printf("Region:    0x%02X\n", h.Region)
	fmt.Printf("Version:   1.%d\n", h.Version)

	status := "ok"
	if h.Checksum^h.Complement != 0xFFFF {
		status = "complement mismatch"
	}
	fmt.Printf("Header checksum: 0x%04X / 0x%04X (%s)\n", h.Checksum, h.Complement, status)
	return nil
}
