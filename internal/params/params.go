package params

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"tally/internal/runinfo"
	"tally/internal/util"
)

// Mode selects which pipeline the worker runs for this pass.
type Mode string

const (
	// Development reads an already-populated store and never calls the engine.
	Development Mode = "development"
	// Production delegates the query to the engine before reading results.
	Production Mode = "production"
)

// Error reports a missing or malformed container parameter. The worker maps
// it to exit code 1.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("container parameter %s: %s", e.Field, e.Reason)
}

// Params captures all runtime options for a single worker pass. Values are
// resolved once from the environment and never mutated afterwards.
type Params struct {
	Mode           Mode               `yaml:"mode"`
	DBPath         string             `yaml:"db_path"`
	StatsPath      string             `yaml:"stats_path"`
	Query          string             `yaml:"query,omitempty"`
	QuerySignature string             `yaml:"query_signature,omitempty"`
	ComputeJobID   string             `yaml:"compute_job_id,omitempty"`
	DataRefinerID  string             `yaml:"data_refiner_id,omitempty"`
	QueryParams    map[string]any     `yaml:"query_params,omitempty"`
	Engine         EngineParams       `yaml:"engine"`
	Artifact       ArtifactParams     `yaml:"artifact"`
	Storage        StorageConfig      `yaml:"storage"`
	RunInfo        *runinfo.BasicInfo `yaml:"-"`
}

// EngineParams configures the query engine call.
type EngineParams struct {
	URL            string `yaml:"url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// ArtifactParams controls stats artifact post-processing.
type ArtifactParams struct {
	Compress bool `yaml:"compress"`
}

// StorageConfig holds external storage settings for artifact upload.
type StorageConfig struct {
	S3  S3Config  `yaml:"s3"`
	GCS GCSConfig `yaml:"gcs"`
}

// CloudEnabled reports whether any cloud storage backend is enabled.
func (s StorageConfig) CloudEnabled() bool {
	return s.GCS.Enabled || s.S3.Enabled
}

// S3Config configures S3 uploads (legacy and S3-compatible endpoints).
type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// GCSConfig configures GCS uploads.
type GCSConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	CredentialsFile string `yaml:"credentials_file"`
}

// IsDev reports whether the pass runs without the engine.
func (p Params) IsDev() bool {
	return p.Mode == Development
}

// Redacted returns a copy safe for logging. The query signature and storage
// secrets are masked; everything else is kept verbatim.
func (p Params) Redacted() Params {
	p.QuerySignature = util.Redact(p.QuerySignature)
	p.Storage.S3.SecretAccessKey = util.Redact(p.Storage.S3.SecretAccessKey)
	p.Storage.S3.SessionToken = util.Redact(p.Storage.S3.SessionToken)
	return p
}

// FromEnv resolves worker parameters from environment variables. Resolution
// reads only the process environment. The mode is decided first; each mode
// then checks its own required set and fails closed on the first missing or
// malformed value.
func FromEnv() (Params, error) {
	p := defaultParams()
	if isTruthy(env("TALLY_DEV_MODE")) {
		p.Mode = Development
	}

	p.DBPath = env("TALLY_DB_PATH")
	if p.DBPath == "" {
		return Params{}, &Error{Field: "TALLY_DB_PATH", Reason: "required"}
	}
	p.StatsPath = env("TALLY_STATS_PATH")
	if p.StatsPath == "" {
		return Params{}, &Error{Field: "TALLY_STATS_PATH", Reason: "required"}
	}

	p.Query = env("TALLY_QUERY")
	p.QuerySignature = env("TALLY_QUERY_SIGNATURE")
	p.ComputeJobID = env("TALLY_COMPUTE_JOB_ID")
	p.DataRefinerID = env("TALLY_DATA_REFINER_ID")
	if p.Mode == Production {
		if p.Query == "" {
			return Params{}, &Error{Field: "TALLY_QUERY", Reason: "required in production mode"}
		}
		if p.QuerySignature == "" {
			return Params{}, &Error{Field: "TALLY_QUERY_SIGNATURE", Reason: "required in production mode"}
		}
		if p.ComputeJobID == "" {
			return Params{}, &Error{Field: "TALLY_COMPUTE_JOB_ID", Reason: "required in production mode"}
		}
		if p.DataRefinerID == "" {
			return Params{}, &Error{Field: "TALLY_DATA_REFINER_ID", Reason: "required in production mode"}
		}
	}

	if raw := env("TALLY_QUERY_PARAMS"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &p.QueryParams); err != nil {
			return Params{}, &Error{Field: "TALLY_QUERY_PARAMS", Reason: "not a JSON object: " + err.Error()}
		}
		if p.QueryParams == nil {
			return Params{}, &Error{Field: "TALLY_QUERY_PARAMS", Reason: "not a JSON object: null"}
		}
	}

	if v := env("TALLY_ENGINE_URL"); v != "" {
		p.Engine.URL = v
	}
	if v := env("TALLY_ENGINE_TIMEOUT_SECONDS"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			return Params{}, &Error{Field: "TALLY_ENGINE_TIMEOUT_SECONDS", Reason: "not a positive integer: " + v}
		}
		p.Engine.TimeoutSeconds = secs
	}

	p.Artifact.Compress = isTruthy(env("TALLY_COMPRESS_ARTIFACT"))

	if err := resolveStorage(&p.Storage); err != nil {
		return Params{}, err
	}

	p.RunInfo = runinfo.FromEnv()
	return p, nil
}

func resolveStorage(s *StorageConfig) error {
	s.S3.Enabled = isTruthy(env("TALLY_S3_ENABLED"))
	s.S3.Endpoint = env("TALLY_S3_ENDPOINT")
	s.S3.Region = env("TALLY_S3_REGION")
	s.S3.Bucket = env("TALLY_S3_BUCKET")
	s.S3.Prefix = env("TALLY_S3_PREFIX")
	s.S3.AccessKeyID = env("TALLY_S3_ACCESS_KEY_ID")
	s.S3.SecretAccessKey = env("TALLY_S3_SECRET_ACCESS_KEY")
	s.S3.SessionToken = env("TALLY_S3_SESSION_TOKEN")
	s.S3.UsePathStyle = isTruthy(env("TALLY_S3_USE_PATH_STYLE"))
	if s.S3.Enabled && s.S3.Bucket == "" {
		return &Error{Field: "TALLY_S3_BUCKET", Reason: "required when TALLY_S3_ENABLED is set"}
	}

	s.GCS.Enabled = isTruthy(env("TALLY_GCS_ENABLED"))
	s.GCS.Bucket = env("TALLY_GCS_BUCKET")
	s.GCS.Prefix = env("TALLY_GCS_PREFIX")
	s.GCS.CredentialsFile = env("TALLY_GCS_CREDENTIALS_FILE")
	if s.GCS.Enabled && s.GCS.Bucket == "" {
		return &Error{Field: "TALLY_GCS_BUCKET", Reason: "required when TALLY_GCS_ENABLED is set"}
	}
	return nil
}

func defaultParams() Params {
	return Params{
		Mode: Production,
		Engine: EngineParams{
			URL:            "http://127.0.0.1:8183/v1/execute",
			TimeoutSeconds: 300,
		},
	}
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func isTruthy(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
