package config

import "time"

// Config is the top-level configuration file structure. It may be written
// as YAML or TOML.
type Config struct {
	Version string `yaml:"version" toml:"version"`
	// Timezone names the zone used for time-of-day logic (active windows,
	// hour-of-day features).
	Timezone          string `yaml:"timezone" toml:"timezone"`
	ActiveWindowWraps *bool  `yaml:"active_window_wraps" toml:"active_window_wraps"`

	Server      ServerConf      `yaml:"server" toml:"server"`
	Engine      EngineConf      `yaml:"engine" toml:"engine"`
	Storage     StorageConf     `yaml:"storage" toml:"storage"`
	EventRisk   EventRiskConf   `yaml:"event_risk" toml:"event_risk"`
	Contextual  ContextualConf  `yaml:"contextual" toml:"contextual"`
	ML          MLConf          `yaml:"ml" toml:"ml"`
	Scoring     ScoringConf     `yaml:"scoring" toml:"scoring"`
	Narratives  []TemplateConf  `yaml:"narratives" toml:"narratives"`
	ThreatIntel ThreatIntelConf `yaml:"threat_intel" toml:"threat_intel"`
	Baseline    BaselineConf    `yaml:"baseline" toml:"baseline"`
	Telemetry   TelemetryConf   `yaml:"telemetry" toml:"telemetry"`
}

type ServerConf struct {
	Addr string `yaml:"addr" toml:"addr"`
}

// EngineConf holds tunable concurrency settings.
type EngineConf struct {
	Partitions    int           `yaml:"partitions" toml:"partitions"`
	QueueDepth    int           `yaml:"queue_depth" toml:"queue_depth"`
	EventTimeout  time.Duration `yaml:"event_timeout" toml:"event_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval" toml:"sweep_interval"`
	Shards        int           `yaml:"shards" toml:"shards"`
}

type StorageConf struct {
	Path           string        `yaml:"path" toml:"path"`
	PersistWorkers int           `yaml:"persist_workers" toml:"persist_workers"`
	PersistQueue   int           `yaml:"persist_queue" toml:"persist_queue"`
	PersistTimeout time.Duration `yaml:"persist_timeout" toml:"persist_timeout"`
}

type EventRiskConf struct {
	BaseScores               map[string]float64 `yaml:"base_scores" toml:"base_scores"`
	KnownMalwareScore        *float64           `yaml:"known_malware_score" toml:"known_malware_score"`
	SuspiciousExtensionScore *float64           `yaml:"suspicious_extension_score" toml:"suspicious_extension_score"`
	MimeMismatchScore        *float64           `yaml:"mime_mismatch_score" toml:"mime_mismatch_score"`
	OffHoursMultiplier       *float64           `yaml:"off_hours_multiplier" toml:"off_hours_multiplier"`
	SuspiciousExtensions     []string           `yaml:"suspicious_extensions" toml:"suspicious_extensions"`
	ExpectedMimeTypes        map[string]string  `yaml:"expected_mime_types" toml:"expected_mime_types"`
}

type ContextualConf struct {
	Window              time.Duration `yaml:"window" toml:"window"`
	BulkWindow          time.Duration `yaml:"bulk_window" toml:"bulk_window"`
	BurstWindow         time.Duration `yaml:"burst_window" toml:"burst_window"`
	BulkCopyThreshold   int           `yaml:"bulk_copy_threshold" toml:"bulk_copy_threshold"`
	BulkModifyThreshold int           `yaml:"bulk_modify_threshold" toml:"bulk_modify_threshold"`
	BulkDeleteThreshold int           `yaml:"bulk_delete_threshold" toml:"bulk_delete_threshold"`
	BurstThreshold      int           `yaml:"burst_threshold" toml:"burst_threshold"`
	DormantAge          time.Duration `yaml:"dormant_age" toml:"dormant_age"`
	DormantQuiet        time.Duration `yaml:"dormant_quiet" toml:"dormant_quiet"`
	DormantScore        *float64      `yaml:"dormant_score" toml:"dormant_score"`
	ArchiveScore        *float64      `yaml:"archive_score" toml:"archive_score"`
	BurstScore          *float64      `yaml:"burst_score" toml:"burst_score"`
	ArchiveExtensions   []string      `yaml:"archive_extensions" toml:"archive_extensions"`
	ArchiveMimeTypes    []string      `yaml:"archive_mime_types" toml:"archive_mime_types"`
	RansomExtensions    []string      `yaml:"ransom_extensions" toml:"ransom_extensions"`
	RansomNoteKeywords  []string      `yaml:"ransom_note_keywords" toml:"ransom_note_keywords"`
}

type MLConf struct {
	// Endpoint is the model-serving URL. Empty disables the ML signal.
	Endpoint string        `yaml:"endpoint" toml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout" toml:"timeout"`
}

// ScoringConf knobs are pointers so an explicit zero overrides the default.
type ScoringConf struct {
	MaxNarrativeScore   *float64           `yaml:"max_narrative_score" toml:"max_narrative_score"`
	ConfidenceThreshold *float64           `yaml:"confidence_threshold" toml:"confidence_threshold"`
	Sharpness           *float64           `yaml:"sharpness" toml:"sharpness"`
	Amplifiers          map[string]float64 `yaml:"amplifiers" toml:"amplifiers"`
	MLAnomalyBonus      *float64           `yaml:"ml_anomaly_bonus" toml:"ml_anomaly_bonus"`
	MaxAmplifierBonus   *float64           `yaml:"max_amplifier_bonus" toml:"max_amplifier_bonus"`
	MLMinConfidence     *float64           `yaml:"ml_min_confidence" toml:"ml_min_confidence"`
	MLScoreSlope        *float64           `yaml:"ml_score_slope" toml:"ml_score_slope"`
	CriticalThreshold   *float64           `yaml:"critical_threshold" toml:"critical_threshold"`
	HighThreshold       *float64           `yaml:"high_threshold" toml:"high_threshold"`
	MediumThreshold     *float64           `yaml:"medium_threshold" toml:"medium_threshold"`
}

// TemplateConf declares one narrative. Pattern names must be known
// micro-pattern types.
type TemplateConf struct {
	ID              string        `yaml:"id" toml:"id"`
	StarterPatterns []string      `yaml:"starter_patterns" toml:"starter_patterns"`
	OrderedSteps    []string      `yaml:"ordered_steps" toml:"ordered_steps"`
	TotalTimeWindow time.Duration `yaml:"total_time_window" toml:"total_time_window"`
	BaseScore       float64       `yaml:"base_score" toml:"base_score"`
	Reason          string        `yaml:"reason" toml:"reason"`
}

type ThreatIntelConf struct {
	// APIKey enables the reputation scanner. Usually supplied via
	// ARGUS_VT_API_KEY rather than the file.
	APIKey       string         `yaml:"api_key" toml:"api_key"`
	Endpoint     string         `yaml:"endpoint" toml:"endpoint"`
	MinInterval  *time.Duration `yaml:"min_interval" toml:"min_interval"`
	PollInterval time.Duration  `yaml:"poll_interval" toml:"poll_interval"`
	BatchSize    int            `yaml:"batch_size" toml:"batch_size"`
}

type BaselineConf struct {
	Concurrency int `yaml:"concurrency" toml:"concurrency"`
}

type TelemetryConf struct {
	OTLPEndpoint string `yaml:"otlp_endpoint" toml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure" toml:"insecure"`
	ServiceName  string `yaml:"service_name" toml:"service_name"`
}
