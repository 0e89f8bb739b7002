// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package judge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/pdiddy/deep-research/internal/evidence"
	"github.com/pdiddy/deep-research/internal/gap"
	"github.com/pdiddy/deep-research/pkg/types"
)

// Cached memoizes a judge's answers. The key is the question together
// with the sorted fingerprints of the items, so the same evidence yields
// the same answer in every round. Errors are not cached.
type Cached struct {
	judge gap.Judge

	mu       sync.Mutex
	verdicts map[string]bool
	hits     int
	misses   int
}

var _ gap.Judge = (*Cached)(nil)

// NewCached wraps j.
func NewCached(j gap.Judge) *Cached {
	return &Cached{judge: j, verdicts: make(map[string]bool)}
}

// Covered implements gap.Judge.
func (c *Cached) Covered(ctx context.Context, question string, items []types.EvidenceItem) (bool, error) {
	key := cacheKey(question, items)

	c.mu.Lock()
	v, ok := c.verdicts[key]
	if ok {
		c.hits++
	}
	c.mu.Unlock()
	if ok {
		return v, nil
	}

	covered, err := c.judge.Covered(ctx, question, items)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	c.verdicts[key] = covered
	c.misses++
	c.mu.Unlock()
	return covered, nil
}

// Stats returns the number of cached and delegated answers.
func (c *Cached) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func cacheKey(question string, items []types.EvidenceItem) string {
	fps := make([]string, len(items))
	for i, it := range items {
		fps[i] = evidence.Fingerprint(it)
	}
	slices.Sort(fps)

	h := sha256.New()
	h.Write([]byte(question))
	for _, fp := range fps {
		h.Write([]byte{0})
		h.Write([]byte(fp))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// FromConfig builds the judge named by cfg.Judge. The claude judge is
// wrapped in Cached; the local judges are deterministic and used as is.
func FromConfig(cfg types.GapConfig, ai types.AIConfig, client *http.Client, logger *zap.Logger) (gap.Judge, error) {
	switch cfg.Judge {
	case types.JudgeCount:
		return gap.CountJudge{Min: cfg.MinEvidence}, nil
	case types.JudgeSupported, "":
		return gap.SupportedQuestionsJudge{Min: cfg.MinEvidence}, nil
	case types.JudgeClaude:
		cj, err := NewClaudeJudge(ai, client, logger)
		if err != nil {
			return nil, err
		}
		return NewCached(cj), nil
	default:
		return nil, fmt.Errorf("unknown judge %q (valid: %s, %s, %s)",
			cfg.Judge, types.JudgeCount, types.JudgeSupported, types.JudgeClaude)
	}
}
