package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/maauso/charswap/internal/comfy"
	"github.com/maauso/charswap/internal/retry"
	"github.com/maauso/charswap/internal/storage"
)

// Retry stages, used in logs and passed to the retry hook.
const (
	StageUpload   = "upload"
	StageSubmit   = "submit"
	StageDownload = "download"
)

// seedMask keeps derived seeds within the range the sampler nodes accept.
const seedMask = 1<<48 - 1

// Client implements Generator on top of the compute service API.
type Client struct {
	api               comfy.API
	template          *Template
	logger            *slog.Logger
	uploadPolicy      retry.Policy
	submitPolicy      retry.Policy
	downloadPolicy    retry.Policy
	pollInterval      time.Duration
	trackingTimeout   time.Duration
	defaultOutputNode string
	retryHook         func(stage string)
	newClientID       func() string
	now               func() time.Time
}

// Option is a function that configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithUploadPolicy sets the retry policy for asset uploads.
func WithUploadPolicy(p retry.Policy) Option {
	return func(c *Client) {
		c.uploadPolicy = p
	}
}

// WithSubmitPolicy sets the retry policy for workflow submission.
func WithSubmitPolicy(p retry.Policy) Option {
	return func(c *Client) {
		c.submitPolicy = p
	}
}

// WithDownloadPolicy sets the retry policy for artifact download.
func WithDownloadPolicy(p retry.Policy) Option {
	return func(c *Client) {
		c.downloadPolicy = p
	}
}

// WithPollInterval sets the history polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		c.pollInterval = d
	}
}

// WithTrackingTimeout bounds the wait for job completion.
func WithTrackingTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.trackingTimeout = d
	}
}

// WithDefaultOutputNode sets the output node used when no artifact matches
// the requested prefix.
func WithDefaultOutputNode(node string) Option {
	return func(c *Client) {
		c.defaultOutputNode = node
	}
}

// WithRetryHook registers a callback invoked before every retry.
func WithRetryHook(fn func(stage string)) Option {
	return func(c *Client) {
		c.retryHook = fn
	}
}

// NewClient creates a generation client.
func NewClient(api comfy.API, tmpl *Template, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, errors.New("generator: compute API is required")
	}
	if tmpl == nil {
		return nil, fmt.Errorf("%w: template is required", ErrInvalidTemplate)
	}

	c := &Client{
		api:             api,
		template:        tmpl,
		logger:          slog.Default(),
		uploadPolicy:    retry.Policy{MaxAttempts: 5, Backoff: retry.Exponential(2*time.Second, 30*time.Second)},
		submitPolicy:    retry.Policy{MaxAttempts: 3, Backoff: retry.Exponential(2*time.Second, 30*time.Second)},
		downloadPolicy:  retry.Policy{MaxAttempts: 6, Backoff: retry.Exponential(2*time.Second, 30*time.Second)},
		pollInterval:    5 * time.Second,
		trackingTimeout: 30 * time.Minute,
		newClientID:     uuid.NewString,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Submit runs one generation request end to end.
func (c *Client) Submit(ctx context.Context, req Request) (Result, error) {
	log := c.logger.With(slog.String("prefix", req.OutputPrefix))

	source, character, err := c.uploadInputs(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrUpload, err)
	}

	seed := req.Seed
	if seed == 0 {
		seed = c.now().UnixNano() & seedMask
	}
	workflow, err := c.template.Render(workflowInputs{
		SourceVideo:    source.Ref(),
		CharacterImage: character.Ref(),
		Resolution:     req.Resolution,
		Mask:           req.Mask,
		OutputPrefix:   req.OutputPrefix,
		Seed:           seed,
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrSubmission, err)
	}

	// The event stream must be open before submission or the completion
	// message can be missed.
	trackCtx, stopEvents := context.WithCancel(ctx)
	defer stopEvents()
	clientID := c.newClientID()
	events, err := c.api.Events(trackCtx, clientID)
	if err != nil {
		log.Debug("event stream unavailable, polling only", slog.String("error", err.Error()))
		events = nil
	}

	var promptID string
	err = retry.Do(ctx, c.policy(c.submitPolicy, StageSubmit, log), func(ctx context.Context) error {
		id, err := c.api.QueuePrompt(ctx, workflow, clientID)
		if err != nil {
			return err
		}
		promptID = id
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrSubmission, err)
	}
	log = log.With(slog.String("prompt_id", promptID))
	log.Info("job submitted", slog.Int64("seed", seed))

	entry, err := c.track(trackCtx, promptID, watchEvents(trackCtx, events, promptID), log)
	stopEvents()
	if err != nil {
		return Result{}, err
	}

	file, err := selectArtifact(entry, req.OutputPrefix, c.defaultOutputNode)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrRetrieval, err)
	}
	localPath, err := c.download(ctx, file, req.DestDir, log)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrRetrieval, err)
	}

	log.Info("artifact retrieved", slog.String("remote", file.Filename), slog.String("path", localPath))
	return Result{
		RemoteName: file.Filename,
		Subfolder:  file.Subfolder,
		LocalPath:  localPath,
		PromptID:   promptID,
	}, nil
}

// uploadInputs uploads the source video and the character image concurrently.
func (c *Client) uploadInputs(ctx context.Context, req Request) (source, character comfy.UploadedFile, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		source, err = c.upload(gctx, req.SourcePath)
		return err
	})
	g.Go(func() error {
		var err error
		character, err = c.upload(gctx, req.CharacterPath)
		return err
	})
	if err := g.Wait(); err != nil {
		return comfy.UploadedFile{}, comfy.UploadedFile{}, err
	}
	return source, character, nil
}

func (c *Client) upload(ctx context.Context, path string) (comfy.UploadedFile, error) {
	if _, err := os.Stat(path); err != nil {
		return comfy.UploadedFile{}, fmt.Errorf("input %s: %w", path, err)
	}

	log := c.logger.With(slog.String("file", filepath.Base(path)))
	var out comfy.UploadedFile
	err := retry.Do(ctx, c.policy(c.uploadPolicy, StageUpload, log), func(ctx context.Context) error {
		f, err := c.api.UploadFile(ctx, path)
		if err != nil {
			return err
		}
		out = f
		return nil
	})
	return out, err
}

// download fetches the artifact into destDir through a temp file. Nothing is
// left in destDir when it fails.
func (c *Client) download(ctx context.Context, file comfy.OutputFile, destDir string, log *slog.Logger) (string, error) {
	dst := filepath.Join(destDir, filepath.Base(file.Filename))
	tmp, err := storage.TempFor(dst)
	if err != nil {
		return "", err
	}

	err = retry.Do(ctx, c.policy(c.downloadPolicy, StageDownload, log), func(ctx context.Context) error {
		return c.api.Download(ctx, file, tmp)
	})
	if err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	if err := storage.Commit(tmp, dst); err != nil {
		return "", err
	}
	return dst, nil
}

// policy decorates p with logging and the retry hook.
func (c *Client) policy(p retry.Policy, stage string, log *slog.Logger) retry.Policy {
	next := p.OnRetry
	p.OnRetry = func(attempt int, err error, wait time.Duration) {
		log.Warn("retrying",
			slog.String("stage", stage),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", wait),
			slog.String("error", err.Error()),
		)
		if c.retryHook != nil {
			c.retryHook(stage)
		}
		if next != nil {
			next(attempt, err, wait)
		}
	}
	return p
}

var _ Generator = (*Client)(nil)
