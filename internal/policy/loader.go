package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

// Loader reads rule documents from a policy directory. JSON files are
// normalized; .txt and .md files are run through the heuristic text parser.
type Loader struct {
	policyDir string
}

// NewLoader creates a new document loader.
func NewLoader(policyDir string) *Loader {
	return &Loader{policyDir: policyDir}
}

// LoadDocuments loads every policy file in the directory, keyed by file name
// without extension.
func (l *Loader) LoadDocuments() (map[string]*RuleDocument, error) {
	entries, err := os.ReadDir(l.policyDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".json", ".txt", ".md":
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	if len(files) == 0 {
		return nil, fmt.Errorf("no policy files found in %s", l.policyDir)
	}

	docs := make(map[string]*RuleDocument, len(files))
	for _, name := range files {
		doc, err := LoadDocumentFile(filepath.Join(l.policyDir, name))
		if err != nil {
			return nil, err
		}
		docs[strings.TrimSuffix(name, filepath.Ext(name))] = doc
	}

	log.Info().Int("count", len(docs)).Str("dir", l.policyDir).Msg("Loaded rule documents")

	return docs, nil
}

// LoadDocumentFile loads a single rule document.
func LoadDocumentFile(path string) (*RuleDocument, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var doc *RuleDocument
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md":
		doc = ParseText(string(content))
	default:
		doc, err = NormalizeJSON(content)
		if err != nil {
			return nil, fmt.Errorf("failed to normalize %s: %w", path, err)
		}
	}

	log.Debug().
		Str("file", filepath.Base(path)).
		Int("bytes", len(content)).
		Int("rules", len(doc.Rules)).
		Str("source", doc.Source).
		Msg("Loaded rule document")

	return doc, nil
}

// Prepare runs the per-document pipeline stages: synthesis of missing
// conditions followed by category alignment. Categories may be empty.
func Prepare(doc *RuleDocument, datasetCategories []string) *RuleDocument {
	out := SynthesizeDocument(doc)
	if len(datasetCategories) > 0 {
		out = Align(out, datasetCategories)
	}
	return out
}
