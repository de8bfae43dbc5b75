package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/islandd/internal/logging"
)

var collectionDirPattern = regexp.MustCompile(`^[a-f0-9]{8}$`)

// openChromemDB opens a persistent chromem DB. A collection directory that
// holds documents but lost its metadata file makes chromem refuse to load;
// such directories are moved to .quarantine and the load is retried.
func openChromemDB(ctx context.Context, path string, compress bool, logger *logging.Logger) (*chromem.DB, error) {
	db, err := chromem.NewPersistentDB(path, compress)
	if err == nil {
		return db, nil
	}
	if !strings.Contains(err.Error(), "collection metadata file not found") {
		return nil, err
	}

	corrupt, findErr := findCorruptCollections(ctx, path, logger)
	if findErr != nil || len(corrupt) == 0 {
		return nil, err
	}

	quarantine := filepath.Join(path, ".quarantine")
	if err := os.MkdirAll(quarantine, 0700); err != nil {
		return nil, fmt.Errorf("creating quarantine directory: %w", err)
	}
	for _, dir := range corrupt {
		src, dst := filepath.Join(path, dir), filepath.Join(quarantine, dir)
		logger.Warn(ctx, "quarantining corrupt chromem collection",
			zap.String("dir", dir), zap.String("to", dst))
		if err := os.Rename(src, dst); err != nil {
			logger.Error(ctx, "quarantine failed", zap.String("dir", dir), zap.Error(err))
			continue
		}
		chromemQuarantined.Inc()
	}

	db, err = chromem.NewPersistentDB(path, compress)
	if err != nil {
		return nil, fmt.Errorf("loading after quarantine: %w", err)
	}
	logger.Warn(ctx, "chromem loaded after quarantine", zap.Int("quarantined", len(corrupt)))
	return db, nil
}

// findCorruptCollections returns collection directories that have document
// files but no metadata file.
func findCorruptCollections(ctx context.Context, path string, logger *logging.Logger) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("reading directory: %w", err)
	}

	var corrupt []string
	for _, entry := range entries {
		if !entry.IsDir() || !collectionDirPattern.MatchString(entry.Name()) {
			continue
		}
		dir := filepath.Join(path, entry.Name())
		if hasFile(dir, "00000000.gob") || hasFile(dir, "00000000.gob.gz") {
			continue
		}
		files, err := os.ReadDir(dir)
		if err != nil {
			logger.Warn(ctx, "cannot inspect chromem collection", zap.String("dir", entry.Name()), zap.Error(err))
			continue
		}
		for _, f := range files {
			if !f.IsDir() && strings.Contains(f.Name(), ".gob") {
				corrupt = append(corrupt, entry.Name())
				break
			}
		}
	}
	return corrupt, nil
}

func hasFile(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}
