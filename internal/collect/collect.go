// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package collect turns research tasks into evidence by querying
// literature and trial registry APIs.
//
// A SearchCollector asks every configured backend about each open
// question of a task, converts the hits into evidence items for the
// task's section, and throttles each backend independently.
package collect

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/pdiddy/deep-research/internal/refine"
	"github.com/pdiddy/deep-research/pkg/types"
)

// Hit is one search result from a backend.
type Hit struct {
	Backend  string
	Kind     types.SourceKind
	NativeID string // DOI, Semantic Scholar id, OpenAlex id, or NCT number
	Title    string
	URL      string
	Abstract string
	Year     int
}

// Options are the per-request search parameters.
type Options struct {
	MaxResults int
	FromYear   int
	UserAgent  string
}

// Backend searches one external API. Each backend (OpenAlex, Semantic
// Scholar, ClinicalTrials.gov) implements this interface.
type Backend interface {
	Name() string
	Search(ctx context.Context, query string, opts Options) ([]Hit, error)
}

// SearchCollector implements refine.Collector over a set of backends.
type SearchCollector struct {
	backends  []Backend
	throttles map[string]*Throttle
	opts      Options
	logger    *zap.Logger
}

var _ refine.Collector = (*SearchCollector)(nil)

// NewSearchCollector returns a collector querying backends with the
// limits in cfg. A nil logger discards log output.
func NewSearchCollector(backends []Backend, cfg types.CollectConfig, logger *zap.Logger) *SearchCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &SearchCollector{
		backends:  backends,
		throttles: make(map[string]*Throttle, len(backends)),
		opts: Options{
			MaxResults: cfg.MaxResults,
			FromYear:   cfg.FromYear,
			UserAgent:  cfg.UserAgent,
		},
		logger: logger,
	}
	for _, b := range backends {
		c.throttles[b.Name()] = NewThrottle(cfg.RatePerSecond, 1)
	}
	return c
}

// NewBackends builds the named backends sharing one HTTP client. Unknown
// names are an error.
func NewBackends(cfg types.CollectConfig) ([]Backend, error) {
	client := &http.Client{Timeout: cfg.Timeout}
	var out []Backend
	for _, name := range cfg.Backends {
		switch strings.TrimSpace(name) {
		case "openalex":
			out = append(out, &OpenAlexBackend{Client: client, Email: cfg.OpenAlexEmail})
		case "semantic_scholar":
			out = append(out, &SemanticScholarBackend{Client: client, APIKey: cfg.SemanticScholarAPIKey})
		case "clinicaltrials":
			out = append(out, &ClinicalTrialsBackend{Client: client})
		default:
			return nil, fmt.Errorf("unknown backend %q (valid: openalex, semantic_scholar, clinicaltrials)", name)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("no search backends configured")
	}
	return out, nil
}

// Collect searches every backend for each question of the task. Backend
// failures are logged and skipped; Collect fails only when every search
// failed.
func (c *SearchCollector) Collect(ctx context.Context, task refine.Task) ([]types.EvidenceItem, error) {
	if len(c.backends) == 0 {
		return nil, errors.New("no search backends configured")
	}
	questions := task.Questions
	if len(questions) == 0 {
		questions = []string{""}
	}

	type result struct {
		question string
		backend  string
		hits     []Hit
		err      error
	}
	var searches []func() result
	for _, q := range questions {
		query := BuildQuery(task.Topic, task.Section, q)
		if query == "" {
			continue
		}
		for _, b := range c.backends {
			searches = append(searches, func() result {
				if err := c.throttles[b.Name()].Wait(ctx); err != nil {
					return result{question: q, backend: b.Name(), err: err}
				}
				hits, err := b.Search(ctx, query, c.opts)
				return result{question: q, backend: b.Name(), hits: hits, err: err}
			})
		}
	}
	if len(searches) == 0 {
		return nil, fmt.Errorf("section %q: nothing to search for", task.Section.Name)
	}

	results := make([]result, len(searches))
	var wg sync.WaitGroup
	for i, search := range searches {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = search()
		}()
	}
	wg.Wait()

	var items []types.EvidenceItem
	var errs []error
	index := make(map[string]int)
	for _, r := range results {
		if r.err != nil {
			c.logger.Warn("backend search failed",
				zap.String("backend", r.backend),
				zap.String("section", task.Section.Name),
				zap.Error(r.err))
			errs = append(errs, fmt.Errorf("%s: %w", r.backend, r.err))
			continue
		}
		for _, h := range r.hits {
			item, ok := ToEvidence(h, task.Section.Name, r.question)
			if !ok {
				continue
			}
			if i, seen := index[item.ID]; seen {
				if !items[i].Supports(r.question) {
					items[i].SupportedQuestions = append(items[i].SupportedQuestions, r.question)
				}
				continue
			}
			index[item.ID] = len(items)
			items = append(items, item)
		}
	}

	if len(errs) == len(results) {
		return nil, fmt.Errorf("section %q: all searches failed: %w", task.Section.Name, errors.Join(errs...))
	}
	c.logger.Debug("collected evidence",
		zap.String("section", task.Section.Name),
		zap.Int("questions", len(questions)),
		zap.Int("items", len(items)),
		zap.Int("failed_searches", len(errs)))
	return items, nil
}

// BuildQuery combines the plan topic with a question into a search
// string. Without a question the section description, or failing that
// its name, is searched instead.
func BuildQuery(topic string, sec types.PlanSection, question string) string {
	focus := strings.TrimSpace(question)
	if focus == "" {
		focus = strings.TrimSpace(sec.Description)
	}
	if focus == "" {
		focus = strings.TrimSpace(sec.Name)
	}
	var parts []string
	for _, p := range []string{strings.TrimSpace(topic), focus} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// ToEvidence converts a hit into an evidence item for section. Hits
// without a title are dropped. The quote is the first sentence of the
// abstract, verbatim.
func ToEvidence(h Hit, section, question string) (types.EvidenceItem, bool) {
	title := strings.TrimSpace(h.Title)
	if title == "" {
		return types.EvidenceItem{}, false
	}
	item := types.EvidenceItem{
		ID:      evidenceID(h),
		Source:  h.Kind,
		Title:   title,
		URL:     h.URL,
		Quote:   FirstSentence(h.Abstract),
		Year:    h.Year,
		Tags:    []string{h.Backend},
		Section: section,
	}
	if question != "" {
		item.SupportedQuestions = []string{question}
	}
	return item, true
}

// evidenceID returns the NCT number for trial records and a stable hash
// of backend and native id for everything else.
func evidenceID(h Hit) string {
	if h.Kind == types.SourceTrialRecord && h.NativeID != "" {
		return h.NativeID
	}
	key := h.NativeID
	if key == "" {
		key = h.Title
	}
	return "ev-" + stableID(h.Backend, key)
}

// stableID is the first 12 hex characters of SHA-256 over the parts.
func stableID(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum(nil))[:12]
}
