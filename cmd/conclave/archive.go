package main

import (
	"archive/tar"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/mtzanidakis/conclave/internal/store"
	"github.com/spf13/cobra"
)

const archiveRunDir = "runs"

var (
	archiveFile      string
	archiveOverwrite bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the run history to a .tar.zst archive",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		runs, err := db.ListRuns(0)
		if err != nil {
			return fmt.Errorf("list runs: %w", err)
		}

		full := make([]*store.Run, 0, len(runs))
		for _, r := range runs {
			run, err := db.GetRun(r.ID)
			if err != nil {
				return fmt.Errorf("load run %s: %w", r.ID, err)
			}
			if run != nil {
				full = append(full, run)
			}
		}

		if err := writeArchive(archiveFile, full); err != nil {
			return err
		}

		size := int64(0)
		if info, err := os.Stat(archiveFile); err == nil {
			size = info.Size()
		}
		fmt.Printf("Export complete: %d runs, %s\n", len(full), formatSize(size))
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Load runs from a .tar.zst archive into the store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		runs, err := readArchive(archiveFile)
		if err != nil {
			return fmt.Errorf("read archive: %w", err)
		}
		if len(runs) == 0 {
			fmt.Println("Archive contains no runs.")
			return nil
		}

		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		if !archiveOverwrite {
			for _, r := range runs {
				existing, err := db.GetRun(r.ID)
				if err != nil {
					return err
				}
				if existing != nil {
					return fmt.Errorf("run %s already exists, add --overwrite to replace it", r.ID)
				}
			}
		}

		for _, r := range runs {
			slog.Debug("importing run", "id", r.ID, "name", r.Name)
			if err := db.SaveRun(r); err != nil {
				return fmt.Errorf("save run %s: %w", r.ID, err)
			}
		}
		fmt.Printf("Import complete: %d runs\n", len(runs))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd, importCmd)

	for _, c := range []*cobra.Command{exportCmd, importCmd} {
		c.Flags().StringVarP(&archiveFile, "file", "f", "", "Archive path (.tar.zst)")
		_ = c.MarkFlagRequired("file")
	}
	importCmd.Flags().BoolVar(&archiveOverwrite, "overwrite", false, "Replace runs that already exist")
}

func openStore() (*store.Store, error) {
	cfg, err := loadConfig(nil)
	if err != nil {
		return nil, err
	}
	db, err := store.New(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	return db, nil
}

func writeArchive(outputPath string, runs []*store.Run) error {
	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	defer zw.Close()

	tw := tar.NewWriter(zw)
	defer tw.Close()

	for _, r := range runs {
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal run %s: %w", r.ID, err)
		}
		modTime := r.StartedAt
		if r.CompletedAt != nil {
			modTime = *r.CompletedAt
		}
		if err := tw.WriteHeader(&tar.Header{
			Name:    path.Join(archiveRunDir, r.ID+".json"),
			Mode:    0o644,
			Size:    int64(len(data)),
			ModTime: modTime,
		}); err != nil {
			return fmt.Errorf("write header for %s: %w", r.ID, err)
		}
		if _, err := tw.Write(data); err != nil {
			return fmt.Errorf("write run %s: %w", r.ID, err)
		}
	}

	// Close everything explicitly to catch write errors
	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zstd: %w", err)
	}
	return f.Close()
}

// readArchive returns the runs stored in an export archive. Entries
// outside the runs directory are skipped.
func readArchive(inputPath string) ([]*store.Run, error) {
	f, err := os.Open(inputPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	tr := tar.NewReader(zr)

	var runs []*store.Run
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if hdr.Typeflag != tar.TypeReg || runEntryID(hdr.Name) == "" {
			continue
		}

		var r store.Run
		if err := json.NewDecoder(tr).Decode(&r); err != nil {
			return nil, fmt.Errorf("%s: %w", hdr.Name, err)
		}
		if r.ID == "" {
			r.ID = runEntryID(hdr.Name)
		}
		if r.StartedAt.IsZero() {
			r.StartedAt = hdr.ModTime.UTC().Truncate(time.Second)
		}
		runs = append(runs, &r)
	}
	return runs, nil
}

// runEntryID returns "abc" for "runs/abc.json" and "" for anything else.
func runEntryID(name string) string {
	name = strings.TrimLeft(name, "./")
	dir, file := path.Split(name)
	if path.Clean(dir) != archiveRunDir || !strings.HasSuffix(file, ".json") {
		return ""
	}
	return strings.TrimSuffix(file, ".json")
}

func formatSize(bytes int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
