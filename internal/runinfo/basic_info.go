package runinfo

import (
	"os"
	"strings"
)

// BasicInfo captures CI/orchestrator metadata for a worker pass. It gives
// compute-job logs enough context to trace an artifact back to the pipeline
// that scheduled it.
type BasicInfo struct {
	CI         bool   `json:"ci,omitempty"`
	Provider   string `json:"provider,omitempty"`
	Repository string `json:"repository,omitempty"`
	Branch     string `json:"branch,omitempty"`
	Commit     string `json:"commit,omitempty"`
	Workflow   string `json:"workflow,omitempty"`
	Job        string `json:"job,omitempty"`
	RunID      string `json:"run_id,omitempty"`
	RunNumber  string `json:"run_number,omitempty"`
	BuildURL   string `json:"build_url,omitempty"`
}

// FromEnv builds run metadata from environment variables. Explicit
// TALLY_CI_* values take precedence over provider defaults. Returns nil when
// no metadata is present at all.
func FromEnv() *BasicInfo {
	info := detect()
	applyOverrides(&info)
	normalize(&info)
	if info.IsZero() {
		return nil
	}
	return &info
}

// IsZero reports whether all fields are empty.
func (b BasicInfo) IsZero() bool {
	return b == BasicInfo{}
}

// Summary renders a one-line description for startup logs.
func (b BasicInfo) Summary() string {
	parts := make([]string, 0, 4)
	if b.Provider != "" {
		parts = append(parts, b.Provider)
	}
	if b.Repository != "" {
		parts = append(parts, b.Repository)
	}
	if b.RunID != "" {
		parts = append(parts, "run "+b.RunID)
	}
	if b.Commit != "" {
		commit := b.Commit
		if len(commit) > 12 {
			commit = commit[:12]
		}
		parts = append(parts, "commit "+commit)
	}
	if len(parts) == 0 {
		return "ci"
	}
	return strings.Join(parts, " ")
}

func detect() BasicInfo {
	if isTruthy(env("GITHUB_ACTIONS")) {
		return fromGitHub()
	}
	if isTruthy(env("GITLAB_CI")) {
		return fromGitLab()
	}
	return fromGenericCI()
}

func fromGitHub() BasicInfo {
	info := BasicInfo{
		CI:         true,
		Provider:   "github_actions",
		Repository: env("GITHUB_REPOSITORY"),
		Branch:     envFirst("GITHUB_HEAD_REF", "GITHUB_REF_NAME"),
		Commit:     env("GITHUB_SHA"),
		Workflow:   env("GITHUB_WORKFLOW"),
		Job:        env("GITHUB_JOB"),
		RunID:      env("GITHUB_RUN_ID"),
		RunNumber:  env("GITHUB_RUN_NUMBER"),
	}
	server := env("GITHUB_SERVER_URL")
	if server == "" {
		server = "https://github.com"
	}
	if info.Repository != "" && info.RunID != "" {
		info.BuildURL = strings.TrimRight(server, "/") + "/" + info.Repository + "/actions/runs/" + info.RunID
	}
	return info
}

func fromGitLab() BasicInfo {
	return BasicInfo{
		CI:         true,
		Provider:   "gitlab_ci",
		Repository: env("CI_PROJECT_PATH"),
		Branch:     env("CI_COMMIT_REF_NAME"),
		Commit:     env("CI_COMMIT_SHA"),
		Workflow:   env("CI_PIPELINE_SOURCE"),
		Job:        env("CI_JOB_NAME"),
		RunID:      env("CI_PIPELINE_ID"),
		RunNumber:  env("CI_PIPELINE_IID"),
		BuildURL:   env("CI_JOB_URL"),
	}
}

func fromGenericCI() BasicInfo {
	return BasicInfo{
		CI:         isTruthy(env("CI")),
		Provider:   strings.ToLower(envFirst("CI_PROVIDER", "CI_SYSTEM")),
		Repository: env("BUILD_REPOSITORY_NAME"),
		Branch:     envFirst("BRANCH_NAME", "GIT_BRANCH"),
		Commit:     envFirst("GIT_COMMIT", "BUILD_SOURCEVERSION"),
		Job:        env("JOB_NAME"),
		RunID:      envFirst("BUILD_BUILDID", "BUILD_ID"),
		RunNumber:  envFirst("BUILD_BUILDNUMBER", "BUILD_NUMBER"),
		BuildURL:   env("BUILD_URL"),
	}
}

func applyOverrides(info *BasicInfo) {
	explicit := false
	explicitCI := false
	if v, ok := lookupTrimmed("TALLY_CI"); ok && v != "" {
		info.CI = isTruthy(v)
		explicit = true
		explicitCI = true
	}
	explicit = setFromEnv(&info.Provider, "TALLY_CI_PROVIDER") || explicit
	explicit = setFromEnv(&info.Repository, "TALLY_CI_REPOSITORY") || explicit
	explicit = setFromEnv(&info.Branch, "TALLY_CI_BRANCH") || explicit
	explicit = setFromEnv(&info.Commit, "TALLY_CI_COMMIT") || explicit
	explicit = setFromEnv(&info.Workflow, "TALLY_CI_WORKFLOW") || explicit
	explicit = setFromEnv(&info.Job, "TALLY_CI_JOB") || explicit
	explicit = setFromEnv(&info.RunID, "TALLY_CI_RUN_ID") || explicit
	explicit = setFromEnv(&info.RunNumber, "TALLY_CI_RUN_NUMBER") || explicit
	explicit = setFromEnv(&info.BuildURL, "TALLY_CI_BUILD_URL") || explicit
	if explicit && !explicitCI && !info.CI {
		info.CI = true
	}
}

func normalize(info *BasicInfo) {
	info.Provider = strings.TrimSpace(strings.ToLower(info.Provider))
	info.Repository = strings.TrimSpace(info.Repository)
	info.Branch = normalizeBranch(info.Branch)
	info.Commit = strings.TrimSpace(info.Commit)
	info.Workflow = strings.TrimSpace(info.Workflow)
	info.Job = strings.TrimSpace(info.Job)
	info.RunID = strings.TrimSpace(info.RunID)
	info.RunNumber = strings.TrimSpace(info.RunNumber)
	info.BuildURL = strings.TrimSpace(info.BuildURL)
	if !info.CI && (info.Provider != "" || info.Repository != "" || info.RunID != "" || info.Commit != "") && !explicitlyNotCI() {
		info.CI = true
	}
	if info.CI && info.Provider == "" {
		info.Provider = "generic"
	}
}

func explicitlyNotCI() bool {
	v, ok := lookupTrimmed("TALLY_CI")
	return ok && v != "" && !isTruthy(v)
}

func normalizeBranch(branch string) string {
	branch = strings.TrimSpace(branch)
	branch = strings.TrimPrefix(branch, "refs/heads/")
	branch = strings.TrimPrefix(branch, "origin/")
	return branch
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func envFirst(keys ...string) string {
	for _, key := range keys {
		if value := env(key); value != "" {
			return value
		}
	}
	return ""
}

func lookupTrimmed(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(value), true
}

func setFromEnv(dst *string, key string) bool {
	value, ok := lookupTrimmed(key)
	if !ok || value == "" {
		return false
	}
	*dst = value
	return true
}

func isTruthy(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
