// Package keyword provides a Bleve index over library entry metadata so
// entries can be found by compound name or free-text annotation fields.
package keyword

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"

	"github.com/hyperjump/ruiji/internal/models"
)

// Result is one keyword search hit.
type Result struct {
	Identifier string  `json:"identifier"`
	Score      float64 `json:"score"`
}

// entryDoc is the shape handed to Bleve. Text collects every string
// metadata value so queries match annotations without field names.
type entryDoc struct {
	Identifier  string  `json:"identifier"`
	Name        string  `json:"name"`
	Text        string  `json:"text"`
	PrecursorMZ float64 `json:"precursor_mz"`
}

// BleveIndex wraps a Bleve index over library entries.
type BleveIndex struct {
	index bleve.Index
}

// NewBleveIndex creates or opens a Bleve index at path. An existing
// index is reused; remove the directory to force a rebuild after a
// mapping change.
func NewBleveIndex(path string) (*BleveIndex, error) {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer: lowercase + tokenize without stemming, so
	// compound names match as typed.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("name", textFieldMapping)
	docMapping.AddFieldMappingsAt("text", textFieldMapping)
	docMapping.AddFieldMappingsAt("identifier", bleve.NewKeywordFieldMapping())
	docMapping.AddFieldMappingsAt("precursor_mz", bleve.NewNumericFieldMapping())
	im.AddDocumentMapping("entry", docMapping)
	im.DefaultType = "entry"
	im.DefaultMapping = docMapping

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// Index adds or replaces an entry in the index.
func (b *BleveIndex) Index(ctx context.Context, e *models.LibraryEntry) error {
	doc := entryDoc{Identifier: e.Identifier}
	if pm, ok := e.Precursor(); ok {
		doc.PrecursorMZ = pm
	}
	doc.Name, doc.Text = metadataText(e.Metadata)
	return b.index.Index(e.Identifier, doc)
}

// metadataText flattens string metadata values into the indexed text
// field. Map iteration order varies, so values are collected in key
// order to keep index contents reproducible across runs.
func metadataText(meta map[string]interface{}) (name, text string) {
	keys := make([]string, 0, len(meta))
	for key := range meta {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var values []string
	for _, key := range keys {
		s, ok := meta[key].(string)
		if !ok || s == "" {
			continue
		}
		if key == "name" || key == "compound_name" {
			name = s
		}
		values = append(values, s)
	}
	return name, strings.Join(values, " ")
}

// IndexAll indexes a batch of entries, stopping at the first failure.
func (b *BleveIndex) IndexAll(ctx context.Context, entries []*models.LibraryEntry) error {
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.Index(ctx, e); err != nil {
			return fmt.Errorf("index %s: %w", e.Identifier, err)
		}
	}
	return nil
}

// Search runs a match query over name and text and returns up to limit
// hits ordered by Bleve score.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int) ([]*Result, error) {
	if limit <= 0 {
		limit = 10
	}
	q := bleve.NewMatchQuery(query)
	search := bleve.NewSearchRequest(q)
	search.Size = limit
	results, err := b.index.Search(search)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]*Result, len(results.Hits))
	for i, hit := range results.Hits {
		out[i] = &Result{Identifier: hit.ID, Score: hit.Score}
	}
	return out, nil
}

// Delete removes an entry from the index.
func (b *BleveIndex) Delete(ctx context.Context, identifier string) error {
	return b.index.Delete(identifier)
}

// DocCount returns the number of indexed entries.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the underlying Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
