package main

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/mtzanidakis/teamrelay/internal/config"
	"github.com/mtzanidakis/teamrelay/internal/store"
)

// Archive sections. Workspace entries keep their path relative to the
// workspace root; the store section holds a single database snapshot.
const (
	sectionWorkspace = "workspace"
	sectionStore     = "store"
)

func parseArchiveArgs(args []string) (file string, overwrite bool, err error) {
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-f":
			if i+1 >= len(args) {
				return "", false, fmt.Errorf("missing value for -f")
			}
			i++
			file = args[i]
		case "-overwrite":
			overwrite = true
		default:
			return "", false, fmt.Errorf("unknown argument %q", args[i])
		}
	}
	if file == "" {
		return "", false, fmt.Errorf("missing -f flag")
	}
	return file, overwrite, nil
}

func runBackup(args []string) error {
	outputPath, _, err := parseArchiveArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Usage: teamrelay backup -f <output.tar.zst>\n")
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	snapshot := filepath.Join(os.TempDir(), fmt.Sprintf("teamrelay-snapshot-%d.db", os.Getpid()))
	defer os.Remove(snapshot)

	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	err = db.Snapshot(snapshot)
	db.Close()
	if err != nil {
		return err
	}

	files, err := createArchive(outputPath, cfg, snapshot)
	if err != nil {
		return err
	}

	info, _ := os.Stat(outputPath)
	size := int64(0)
	if info != nil {
		size = info.Size()
	}
	fmt.Printf("Backup complete: %d files, %s\n", files, formatSize(size))
	return nil
}

// createArchive writes the workspace tree and the database snapshot into a
// zstd-compressed tar. The live database files are skipped when they sit
// inside the workspace.
func createArchive(outputPath string, cfg *config.Config, snapshot string) (int, error) {
	f, err := os.Create(outputPath)
	if err != nil {
		return 0, fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return 0, fmt.Errorf("create zstd writer: %w", err)
	}
	defer zw.Close()

	tw := tar.NewWriter(zw)
	defer tw.Close()

	dbPath, _ := filepath.Abs(cfg.Store.Path)
	skip := map[string]bool{dbPath: true, dbPath + "-wal": true, dbPath + "-shm": true}

	files := 0
	root := cfg.Workspace.Path
	if _, err := os.Stat(root); err == nil {
		err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if abs, _ := filepath.Abs(p); skip[abs] {
				return nil
			}
			rel, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}
			if rel == "." {
				return nil
			}
			if !d.IsDir() && !d.Type().IsRegular() {
				return nil
			}
			if err := addFile(tw, p, path.Join(sectionWorkspace, filepath.ToSlash(rel))); err != nil {
				return err
			}
			if !d.IsDir() {
				files++
			}
			return nil
		})
		if err != nil {
			return 0, fmt.Errorf("archive workspace: %w", err)
		}
	}

	if err := addFile(tw, snapshot, path.Join(sectionStore, filepath.Base(cfg.Store.Path))); err != nil {
		return 0, fmt.Errorf("archive store: %w", err)
	}
	files++

	// Close everything explicitly to catch write errors
	if err := tw.Close(); err != nil {
		return 0, fmt.Errorf("close tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("close zstd: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close file: %w", err)
	}
	return files, nil
}

func addFile(tw *tar.Writer, src, name string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = name
	if info.IsDir() {
		hdr.Name += "/"
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write tar header: %w", err)
	}
	if info.IsDir() {
		return nil
	}

	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("write tar data: %w", err)
	}
	return nil
}

func runRestore(args []string) error {
	inputPath, overwrite, err := parseArchiveArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Usage: teamrelay restore -f <backup.tar.zst> [-overwrite]\n")
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	files, err := extractArchive(inputPath, cfg.Workspace.Path, cfg.Store.Path, overwrite)
	if err != nil {
		return err
	}
	fmt.Printf("Restore complete: %d files\n", files)
	return nil
}

// extractArchive restores an archive written by createArchive. Existing
// files are only replaced with overwrite set.
func extractArchive(inputPath, workspace, dbPath string, overwrite bool) (int, error) {
	f, err := os.Open(inputPath)
	if err != nil {
		return 0, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return 0, fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	files := 0
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return files, fmt.Errorf("read tar entry: %w", err)
		}

		section, rel := splitArchivePath(hdr.Name)
		var target string
		switch section {
		case sectionWorkspace:
			if !filepath.IsLocal(rel) {
				slog.Warn("skipping unsafe archive entry", "name", hdr.Name)
				continue
			}
			target = filepath.Join(workspace, filepath.FromSlash(rel))
		case sectionStore:
			if hdr.Typeflag != tar.TypeReg {
				continue
			}
			target = dbPath
		default:
			continue
		}

		if hdr.Typeflag == tar.TypeDir {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return files, fmt.Errorf("create directory: %w", err)
			}
			continue
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if _, err := os.Stat(target); err == nil && !overwrite {
			return files, fmt.Errorf("%s already exists, add -overwrite to replace files", target)
		}
		if err := writeFile(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
			return files, err
		}
		if section == sectionStore {
			// A stale write-ahead log would be replayed over the snapshot.
			_ = os.Remove(dbPath + "-wal")
			_ = os.Remove(dbPath + "-shm")
		}
		files++
	}
	return files, nil
}

func writeFile(target string, r io.Reader, perm fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("write %s: %w", target, err)
	}
	return out.Close()
}

// splitArchivePath splits "workspace/some/file" into ("workspace", "some/file").
// Returns an empty section for entries outside the known sections.
func splitArchivePath(name string) (section, relPath string) {
	name = strings.TrimLeft(name, "./")
	if name == "" {
		return "", ""
	}

	section, relPath, _ = strings.Cut(name, "/")
	relPath = strings.TrimSuffix(relPath, "/")
	if relPath == "" {
		relPath = "."
	}
	if section != sectionWorkspace && section != sectionStore {
		return "", ""
	}
	return section, relPath
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
		return fmt.Sprintf("%d bytes", bytes)
	}
}
