package types

import "time"

// HTTPConfig holds shared HTTP settings used by collectors and judges that
// make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "deep-research/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`
}

// LoopConfig bounds the refinement loop.
type LoopConfig struct {
	// MaxRounds is the maximum number of collect/aggregate/gap-check rounds
	// (default 3).
	MaxRounds int `json:"max_rounds" yaml:"max_rounds" mapstructure:"max_rounds"`

	// ZeroProgressLimit is the number of consecutive dispatches of a
	// section that may yield no new evidence before the section is marked
	// unresolvable (default 2).
	ZeroProgressLimit int `json:"zero_progress_limit" yaml:"zero_progress_limit" mapstructure:"zero_progress_limit"`

	// MaxDuration is the wall-clock budget for the whole loop. Zero means
	// no wall-clock ceiling.
	MaxDuration time.Duration `json:"max_duration" yaml:"max_duration" mapstructure:"max_duration"`

	// MaxCollectorCalls caps the total number of collector tasks dispatched
	// over the run. Zero means unlimited.
	MaxCollectorCalls int `json:"max_collector_calls" yaml:"max_collector_calls" mapstructure:"max_collector_calls"`

	// CollectorTimeout bounds a single collector task (default 5m).
	CollectorTimeout time.Duration `json:"collector_timeout" yaml:"collector_timeout" mapstructure:"collector_timeout"`

	// MaxConcurrency limits how many collector tasks run at once. Zero
	// runs every task of a round concurrently.
	MaxConcurrency int `json:"max_concurrency" yaml:"max_concurrency" mapstructure:"max_concurrency"`
}

// JudgeKind selects the relevance judgment used by the gap analyzer.
type JudgeKind string

const (
	// JudgeCount covers a question once the section holds MinEvidence items.
	JudgeCount JudgeKind = "count"

	// JudgeSupported covers a question once MinEvidence items of the
	// section list it in SupportedQuestions.
	JudgeSupported JudgeKind = "supported"

	// JudgeClaude asks the Claude API whether the section's evidence
	// answers the question.
	JudgeClaude JudgeKind = "claude"
)

// GapConfig holds coverage thresholds for the gap analyzer.
type GapConfig struct {
	// Judge selects the relevance judgment (default "supported").
	Judge JudgeKind `json:"judge" yaml:"judge" mapstructure:"judge"`

	// MinEvidence is the per-question evidence threshold used by the
	// count and supported judges (default 2).
	MinEvidence int `json:"min_evidence" yaml:"min_evidence" mapstructure:"min_evidence"`

	// SectionMin maps section names to the minimum number of items the
	// section needs before any of its questions can count as covered.
	SectionMin map[string]int `json:"section_min,omitempty" yaml:"section_min,omitempty" mapstructure:"section_min"`

	// DefaultSectionMin applies to sections absent from SectionMin
	// (default 2).
	DefaultSectionMin int `json:"default_section_min" yaml:"default_section_min" mapstructure:"default_section_min"`
}

// AIConfig holds shared settings for stages that call a Generative AI API.
type AIConfig struct {
	// Model is the AI model identifier (e.g. "claude-sonnet-4-5-20250929").
	Model string `json:"model" yaml:"model" mapstructure:"model"`

	// APIKey is the authentication key for the AI API.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`

	// MaxRetries is the number of retry attempts for failed API calls (default 3).
	MaxRetries int `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`
}

// CollectConfig holds settings for the bundled search collectors.
type CollectConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// Backends lists the enabled search backends by name
	// ("openalex", "semantic_scholar", "clinicaltrials").
	Backends []string `json:"backends" yaml:"backends" mapstructure:"backends"`

	// MaxResults is the number of hits requested per question and backend
	// (default 5).
	MaxResults int `json:"max_results" yaml:"max_results" mapstructure:"max_results"`

	// RatePerSecond throttles requests to each backend (default 1).
	RatePerSecond float64 `json:"rate_per_second" yaml:"rate_per_second" mapstructure:"rate_per_second"`

	// FromYear restricts hits to sources published in or after this year.
	FromYear int `json:"from_year,omitempty" yaml:"from_year,omitempty" mapstructure:"from_year"`

	// SemanticScholarAPIKey is an optional API key for higher rate limits.
	SemanticScholarAPIKey string `json:"semantic_scholar_api_key,omitempty" yaml:"semantic_scholar_api_key,omitempty" mapstructure:"semantic_scholar_api_key"`

	// OpenAlexEmail is sent as the mailto parameter for polite pool access.
	OpenAlexEmail string `json:"openalex_email,omitempty" yaml:"openalex_email,omitempty" mapstructure:"openalex_email"`
}

// ArchiveConfig holds settings for the run archive.
type ArchiveConfig struct {
	// RunsDir is the base directory for run output (contains <run-id>/ and
	// the archive database).
	RunsDir string `json:"runs_dir" yaml:"runs_dir" mapstructure:"runs_dir"`
}

// MetricsConfig holds settings for the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address for /metrics (e.g. ":9090"). Empty
	// disables the endpoint.
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty" mapstructure:"addr"`
}

// PipelineConfig groups all stage configurations for a run.
type PipelineConfig struct {
	Loop    LoopConfig    `json:"loop" yaml:"loop" mapstructure:"loop"`
	Gap     GapConfig     `json:"gap" yaml:"gap" mapstructure:"gap"`
	Collect CollectConfig `json:"collect" yaml:"collect" mapstructure:"collect"`
	Judge   AIConfig      `json:"judge" yaml:"judge" mapstructure:"judge"`
	Archive ArchiveConfig `json:"archive" yaml:"archive" mapstructure:"archive"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics" mapstructure:"metrics"`
}

// DefaultPipelineConfig returns the configuration used when no config file
// or flag overrides a setting.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Loop: LoopConfig{
			MaxRounds:         3,
			ZeroProgressLimit: 2,
			CollectorTimeout:  5 * time.Minute,
		},
		Gap: GapConfig{
			Judge:             JudgeSupported,
			MinEvidence:       2,
			DefaultSectionMin: 2,
		},
		Collect: CollectConfig{
			HTTPConfig: HTTPConfig{
				Timeout:   60 * time.Second,
				UserAgent: "deep-research/0.1",
			},
			Backends:      []string{"openalex", "semantic_scholar", "clinicaltrials"},
			MaxResults:    5,
			RatePerSecond: 1,
		},
		Judge: AIConfig{
			Model:      "claude-sonnet-4-5-20250929",
			MaxRetries: 3,
		},
		Archive: ArchiveConfig{
			RunsDir: "runs",
		},
	}
}
