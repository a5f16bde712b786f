// Package github implements workflow.Engine and workflow.FileStore on top of
// GitHub Actions and the repository contents API.
package github

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/go-github/v63/github"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/oauth2"

	"github.com/playsafesec/upgradeboard/internal/models"
	"github.com/playsafesec/upgradeboard/internal/workflow"
)

const maxRedirects = 3

// Config selects the repository and workflow to drive.
type Config struct {
	Owner     string
	Repo      string
	Workflow  string // workflow file name, e.g. splunk-upgrade.yml
	Ref       string
	Token     string
	BaseURL   string // API root; empty means api.github.com
	RetryMax  int
	RetryWait time.Duration // minimum backoff; zero keeps the library default
}

// Client talks to GitHub.
type Client struct {
	gh  *github.Client
	dl  *http.Client
	cfg Config
}

var (
	_ workflow.Engine    = (*Client)(nil)
	_ workflow.FileStore = (*Client)(nil)
)

// New builds a client. Requests are retried on transient failures and, when
// a token is configured, authenticated with it.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, errors.New("github: owner and repo are required")
	}
	if cfg.Ref == "" {
		cfg.Ref = "main"
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.Logger = nil
	if cfg.RetryWait > 0 {
		rc.RetryWaitMin = cfg.RetryWait
		rc.RetryWaitMax = 4 * cfg.RetryWait
	}
	// log endpoints answer with a redirect that must be surfaced, not followed
	rc.HTTPClient.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	base := rc.StandardClient()

	httpClient := base
	if cfg.Token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
		httpClient = oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, base), ts)
	}

	gh := github.NewClient(httpClient)
	if cfg.BaseURL != "" {
		u, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("github: parse base url: %w", err)
		}
		gh.BaseURL = u
	}

	return &Client{gh: gh, dl: base, cfg: cfg}, nil
}

// Name returns the engine identifier.
func (c *Client) Name() string {
	return "github-actions"
}

// Dispatch triggers the configured workflow on the configured ref.
func (c *Client) Dispatch(ctx context.Context, in workflow.DispatchInputs) error {
	if err := in.Validate(); err != nil {
		return err
	}
	_, err := c.gh.Actions.CreateWorkflowDispatchEventByFileName(ctx, c.cfg.Owner, c.cfg.Repo, c.cfg.Workflow,
		github.CreateWorkflowDispatchEventRequest{Ref: c.cfg.Ref, Inputs: in.Map()})
	if err != nil {
		return fmt.Errorf("dispatch workflow: %w", err)
	}
	return nil
}

// LatestRun returns the newest run of the workflow, or nil if it never ran.
func (c *Client) LatestRun(ctx context.Context) (*models.WorkflowRun, error) {
	runs, _, err := c.gh.Actions.ListWorkflowRunsByFileName(ctx, c.cfg.Owner, c.cfg.Repo, c.cfg.Workflow,
		&github.ListWorkflowRunsOptions{ListOptions: github.ListOptions{PerPage: 1}})
	if err != nil {
		return nil, fmt.Errorf("list workflow runs: %w", err)
	}
	if runs == nil || len(runs.WorkflowRuns) == 0 {
		return nil, nil
	}
	r := runs.WorkflowRuns[0]
	return &models.WorkflowRun{
		ID:         r.GetID(),
		Name:       r.GetName(),
		Status:     r.GetStatus(),
		Conclusion: r.GetConclusion(),
		CreatedAt:  r.GetCreatedAt().Time,
		UpdatedAt:  r.GetUpdatedAt().Time,
		HTMLURL:    r.GetHTMLURL(),
		RunNumber:  r.GetRunNumber(),
	}, nil
}

// Jobs lists the jobs of a run.
func (c *Client) Jobs(ctx context.Context, runID int64) ([]models.WorkflowJob, error) {
	jobs, _, err := c.gh.Actions.ListWorkflowJobs(ctx, c.cfg.Owner, c.cfg.Repo, runID,
		&github.ListWorkflowJobsOptions{ListOptions: github.ListOptions{PerPage: 100}})
	if err != nil {
		return nil, fmt.Errorf("list workflow jobs: %w", err)
	}
	out := make([]models.WorkflowJob, 0, len(jobs.Jobs))
	for _, j := range jobs.Jobs {
		job := models.WorkflowJob{
			ID:          j.GetID(),
			Name:        j.GetName(),
			Status:      j.GetStatus(),
			Conclusion:  j.GetConclusion(),
			StartedAt:   j.GetStartedAt().Time,
			CompletedAt: timePtr(j.CompletedAt),
		}
		for _, s := range j.Steps {
			job.Steps = append(job.Steps, models.WorkflowStep{
				Name:        s.GetName(),
				Status:      s.GetStatus(),
				Conclusion:  s.GetConclusion(),
				Number:      s.GetNumber(),
				StartedAt:   timePtr(s.StartedAt),
				CompletedAt: timePtr(s.CompletedAt),
			})
		}
		out = append(out, job)
	}
	return out, nil
}

// JobLogs downloads the plain text log of a job.
func (c *Client) JobLogs(ctx context.Context, jobID int64) (string, error) {
	u, _, err := c.gh.Actions.GetWorkflowJobLogs(ctx, c.cfg.Owner, c.cfg.Repo, jobID, maxRedirects)
	if err != nil {
		return "", fmt.Errorf("job logs url: %w", err)
	}
	data, err := c.download(ctx, u)
	if err != nil {
		return "", fmt.Errorf("job logs: %w", err)
	}
	return string(data), nil
}

// RunLogs downloads the log archive of a run and concatenates its text
// files in name order.
func (c *Client) RunLogs(ctx context.Context, runID int64) (string, error) {
	u, _, err := c.gh.Actions.GetWorkflowRunLogs(ctx, c.cfg.Owner, c.cfg.Repo, runID, maxRedirects)
	if err != nil {
		return "", fmt.Errorf("run logs url: %w", err)
	}
	data, err := c.download(ctx, u)
	if err != nil {
		return "", fmt.Errorf("run logs: %w", err)
	}
	return concatZip(data)
}

// CancelRun requests cancellation of a run.
func (c *Client) CancelRun(ctx context.Context, runID int64) error {
	_, err := c.gh.Actions.CancelWorkflowRunByID(ctx, c.cfg.Owner, c.cfg.Repo, runID)
	var accepted *github.AcceptedError
	if err != nil && !errors.As(err, &accepted) {
		return fmt.Errorf("cancel run %d: %w", runID, err)
	}
	return nil
}

// GetFile reads a file from the configured ref. The version is the blob SHA.
func (c *Client) GetFile(ctx context.Context, path string) ([]byte, string, error) {
	file, _, resp, err := c.gh.Repositories.GetContents(ctx, c.cfg.Owner, c.cfg.Repo, path,
		&github.RepositoryContentGetOptions{Ref: c.cfg.Ref})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, "", fmt.Errorf("%s: %w", path, workflow.ErrNotFound)
		}
		return nil, "", fmt.Errorf("get %s: %w", path, err)
	}
	if file == nil {
		return nil, "", fmt.Errorf("get %s: not a file", path)
	}
	content, err := file.GetContent()
	if err != nil {
		return nil, "", fmt.Errorf("decode %s: %w", path, err)
	}
	return []byte(content), file.GetSHA(), nil
}

// PutFile commits content to path. A stale version yields
// workflow.ErrVersionConflict.
func (c *Client) PutFile(ctx context.Context, path string, content []byte, version, message string) error {
	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: content,
		Branch:  github.String(c.cfg.Ref),
	}
	var (
		resp *github.Response
		err  error
	)
	if version == "" {
		_, resp, err = c.gh.Repositories.CreateFile(ctx, c.cfg.Owner, c.cfg.Repo, path, opts)
	} else {
		opts.SHA = github.String(version)
		_, resp, err = c.gh.Repositories.UpdateFile(ctx, c.cfg.Owner, c.cfg.Repo, path, opts)
	}
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusUnprocessableEntity) {
			return fmt.Errorf("put %s: %w", path, workflow.ErrVersionConflict)
		}
		return fmt.Errorf("put %s: %w", path, err)
	}
	return nil
}

func (c *Client) download(ctx context.Context, u *url.URL) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.dl.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download: unexpected status %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func concatZip(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open log archive: %w", err)
	}
	files := make([]*zip.File, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !strings.HasSuffix(f.Name, ".txt") {
			continue
		}
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	var b strings.Builder
	for _, f := range files {
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("open %s: %w", f.Name, err)
		}
		_, err = io.Copy(&b, rc)
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("read %s: %w", f.Name, err)
		}
		if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
			b.WriteByte('\n')
		}
	}
	return b.String(), nil
}

func timePtr(ts *github.Timestamp) *time.Time {
	if ts == nil {
		return nil
	}
	t := ts.Time
	return &t
}
