// Package retrieval answers queries from a static key to fact mapping loaded from JSON.
package retrieval

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// DefaultDataPath is read when no data path is configured.
const DefaultDataPath = "./data/newjeans.json"

// Retriever looks facts up by keyword.
type Retriever interface {
	// Retrieve returns "<key>: <fact>" for the first key contained in query, or false.
	Retrieve(query string) (string, bool)
	Facts() []Fact
	Len() int
}

// Fact is a single key and its fact, in file order.
type Fact struct {
	Key  string `json:"key"`
	Fact string `json:"fact"`
}

// Retrieval holds the fact mapping loaded at construction. It is never mutated afterwards.
type Retrieval struct {
	facts  *orderedmap.OrderedMap[string, string]
	path   string
	logger *logrus.Logger
	stdout io.Writer
}

var _ Retriever = (*Retrieval)(nil)

// New loads the JSON object at dataPath. A missing file or anything other than a flat
// object of strings fails construction.
func New(dataPath string, logger *logrus.Logger) (*Retrieval, error) {
	path := strings.TrimSpace(dataPath)
	if path == "" {
		path = DefaultDataPath
	}

	facts, err := loadFacts(path)
	if err != nil {
		return nil, err
	}

	if logger != nil {
		logger.WithFields(logrus.Fields{
			"component": "retrieval",
			"path":      path,
			"facts":     facts.Len(),
		}).Info("fact mapping loaded")
	}

	return &Retrieval{facts: facts, path: path, logger: logger, stdout: os.Stdout}, nil
}

func loadFacts(path string) (*orderedmap.OrderedMap[string, string], error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "reading fact data: %s", path)
	}

	trimmed := bytes.TrimSpace(raw)
	if !json.Valid(trimmed) {
		return nil, eris.Errorf("fact data is not valid JSON: %s", path)
	}
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, eris.Errorf("fact data must be a JSON object: %s", path)
	}

	decoded := orderedmap.New[string, *string]()
	if err := json.Unmarshal(trimmed, decoded); err != nil {
		return nil, eris.Wrapf(err, "decoding fact data: %s", path)
	}

	facts := orderedmap.New[string, string]()
	for pair := decoded.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value == nil {
			return nil, eris.Errorf("fact for key %q is null: %s", pair.Key, path)
		}
		facts.Set(pair.Key, *pair.Value)
	}

	return facts, nil
}

// Path returns the file the mapping was loaded from.
func (r *Retrieval) Path() string {
	return r.path
}

// Len returns the number of loaded facts.
func (r *Retrieval) Len() int {
	return r.facts.Len()
}

// Retrieve scans keys in file order and answers with the first one the query contains,
// ignoring case. An empty key matches every query.
func (r *Retrieval) Retrieve(query string) (string, bool) {
	lowered := strings.ToLower(query)

	for pair := r.facts.Oldest(); pair != nil; pair = pair.Next() {
		if strings.Contains(lowered, strings.ToLower(pair.Key)) {
			return fmt.Sprintf("%s: %s", pair.Key, pair.Value), true
		}
	}

	return "", false
}

// Facts returns a copy of the mapping in file order.
func (r *Retrieval) Facts() []Fact {
	facts := make([]Fact, 0, r.facts.Len())
	for pair := r.facts.Oldest(); pair != nil; pair = pair.Next() {
		facts = append(facts, Fact{Key: pair.Key, Fact: pair.Value})
	}
	return facts
}

// Dump writes the whole mapping to w as an indented JSON object in file order.
func (r *Retrieval) Dump(w io.Writer) error {
	encoded, err := json.MarshalIndent(r.facts, "", "  ")
	if err != nil {
		return eris.Wrap(err, "encoding fact data")
	}

	if _, err := fmt.Fprintln(w, string(encoded)); err != nil {
		return eris.Wrap(err, "writing fact data")
	}
	return nil
}

// PrintData dumps the mapping to standard output for diagnostics.
func (r *Retrieval) PrintData() {
	if err := r.Dump(r.stdout); err != nil && r.logger != nil {
		r.logger.WithField("error", err.Error()).Error("printing fact data")
	}
}
