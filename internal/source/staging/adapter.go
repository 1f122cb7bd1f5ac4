package staging

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/timmy/assetingest/internal/detect"
	"github.com/timmy/assetingest/internal/domain"
	"github.com/timmy/assetingest/internal/source"
)

const (
	// ManifestFileName is the JSONL manifest file name in staging sources.
	ManifestFileName = "manifest.jsonl"
	// FilesDir is the directory name for staged dataset files.
	FilesDir = "files"
)

// ManifestItem represents an item in the manifest.jsonl file.
type ManifestItem struct {
	ID       string         `json:"id"`
	Filename string         `json:"filename"`
	Name     string         `json:"name"`
	Mapping  domain.Mapping `json:"mapping"`
}

// Adapter implements the Source interface for a staging directory.
// With a manifest, items come from its lines and files live under files/.
// Without one, every CSV file directly in the directory is an item.
type Adapter struct {
	basePath string
	items    []source.Item
	loaded   bool
}

// NewAdapter creates a new staging adapter.
// Parameters:
//   - basePath: path to the staging directory.
// Returns:
//   - *Adapter: initialized staging adapter.
func NewAdapter(basePath string) *Adapter {
	return &Adapter{basePath: basePath}
}

// GetSourceID returns the unique identifier for this source.
func (a *Adapter) GetSourceID() string {
	return "staging:" + filepath.Base(filepath.Clean(a.basePath))
}

// FetchBatch fetches a batch of items from the staging directory.
// Parameters:
//   - ctx: context for cancellation and deadlines (unused for local reads).
//   - cursor: pagination cursor as an index string.
//   - limit: maximum number of items to fetch.
// Returns:
//   - []source.Item: batch of items.
//   - string: next cursor or empty if no more items.
//   - error: non-nil if loading or parsing fails.
func (a *Adapter) FetchBatch(ctx context.Context, cursor string, limit int) ([]source.Item, string, error) {
	// Load all items on first call
	if !a.loaded {
		if err := a.loadItems(); err != nil {
			return nil, "", fmt.Errorf("failed to load staging items: %w", err)
		}
		a.loaded = true
	}

	startIndex := 0
	if cursor != "" {
		var err error
		startIndex, err = strconv.Atoi(cursor)
		if err != nil || startIndex < 0 {
			return nil, "", fmt.Errorf("invalid cursor %q", cursor)
		}
	}
	if startIndex >= len(a.items) {
		return []source.Item{}, "", nil
	}
	if limit <= 0 {
		limit = len(a.items)
	}

	endIndex := startIndex + limit
	if endIndex > len(a.items) {
		endIndex = len(a.items)
	}

	nextCursor := ""
	if endIndex < len(a.items) {
		nextCursor = strconv.Itoa(endIndex)
	}
	return a.items[startIndex:endIndex], nextCursor, nil
}

func (a *Adapter) loadItems() error {
	manifestPath := filepath.Join(a.basePath, ManifestFileName)
	if _, err := os.Stat(manifestPath); os.IsNotExist(err) {
		return a.scanDir()
	}
	return a.loadManifest(manifestPath)
}

// scanDir lists CSV files in basePath, sorted by name.
func (a *Adapter) scanDir() error {
	entries, err := os.ReadDir(a.basePath)
	if err != nil {
		return err
	}
	a.items = []source.Item{}
	for _, e := range entries {
		if e.IsDir() || !detect.IsCSV(e.Name()) {
			continue
		}
		a.items = append(a.items, source.Item{
			SourceID:  strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())),
			LocalPath: filepath.Join(a.basePath, e.Name()),
		})
	}
	sort.Slice(a.items, func(i, j int) bool {
		return a.items[i].SourceID < a.items[j].SourceID
	})
	return nil
}

// loadManifest reads manifest lines in order. Lines whose file is missing
// are skipped.
func (a *Adapter) loadManifest(manifestPath string) error {
	file, err := os.Open(manifestPath)
	if err != nil {
		return fmt.Errorf("failed to open manifest: %w", err)
	}
	defer file.Close()

	filesPath := filepath.Join(a.basePath, FilesDir)
	a.items = []source.Item{}

	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var item ManifestItem
		if err := json.Unmarshal([]byte(line), &item); err != nil {
			return fmt.Errorf("manifest line %d: %w", lineNo, err)
		}
		if item.Filename == "" {
			return fmt.Errorf("manifest line %d: filename is required", lineNo)
		}

		localPath := filepath.Join(filesPath, filepath.Base(item.Filename))
		if _, err := os.Stat(localPath); os.IsNotExist(err) {
			continue
		}

		id := item.ID
		if id == "" {
			id = strings.TrimSuffix(filepath.Base(item.Filename), filepath.Ext(item.Filename))
		}
		a.items = append(a.items, source.Item{
			SourceID:  id,
			Name:      item.Name,
			LocalPath: localPath,
			Mapping:   item.Mapping,
		})
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading manifest: %w", err)
	}
	return nil
}
