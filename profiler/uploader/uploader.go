// Package uploader ships aggregated profiles to the ingestion endpoint.
package uploader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/pushprof/agent-go/metrics"
	"github.com/pushprof/agent-go/profiler/common"
	"github.com/pushprof/agent-go/profiler/logger"
	"github.com/pushprof/agent-go/profiler/utils"
)

const (
	ingestPath = "/ingest"

	ContentTypeFolded = "text/plain; charset=utf-8"
	FormatFolded      = "folded"
	SpyName           = "gospy"

	uploadIDHeaderKey = "X-Upload-Id"
	userAgent         = "pushprof-go/" + Version

	defaultTimeout = 10 * time.Second
	maxErrBodySize = 1 << 10
)

// Version of the agent reported in User-Agent.
const Version = "0.3.0"

type Config struct {
	Timeout   time.Duration // per request
	Gzip      bool
	AuthToken string
	Retry     RetryPolicy

	Client  *http.Client
	Clock   utils.Clock
	Metrics metrics.Emitter
	Logger  logger.Logger
}

type Uploader struct {
	client    *http.Client
	retry     RetryPolicy
	gzip      bool
	authToken string

	clock   utils.Clock
	metrics metrics.Emitter
	logger  logger.Logger
}

func New(cfg Config) *Uploader {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Retry == (RetryPolicy{}) {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.Clock == nil {
		cfg.Clock = utils.RealClock{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NoopEmitter{}
	}
	if cfg.Logger == nil {
		cfg.Logger = &logger.NoopLogger{}
	}
	return &Uploader{
		client:    cfg.Client,
		retry:     cfg.Retry.normalized(),
		gzip:      cfg.Gzip,
		authToken: cfg.AuthToken,
		clock:     cfg.Clock,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}
}

// Upload delivers task.Profile. Network errors and 5xx responses are retried
// following the retry policy and end in ErrDeliveryFailed; 4xx responses end in
// ErrRejectedByServer without retrying.
func (u *Uploader) Upload(ctx context.Context, task *common.UploadTask) error {
	if task == nil || task.Profile == nil || task.Session == nil {
		return common.WrapError(common.CodeInvalidConfig, "upload task", fmt.Errorf("incomplete task %+v", task))
	}
	target, err := BuildURL(task.Session, task.Profile)
	if err != nil {
		return common.WrapError(common.CodeInvalidConfig, "ingest url", err)
	}
	body, encoding, err := u.encode(task.Profile)
	if err != nil {
		return err
	}
	tags := map[string]string{"type": task.Profile.Type.ToString()}

	var lastErr error
	for attempt := 0; attempt < u.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			_ = u.metrics.EmitCounter("upload.retry", 1, tags)
			if err := u.clock.Sleep(ctx, u.retry.Wait(attempt)); err != nil {
				lastErr = err
				break
			}
		}
		task.Attempt = attempt + 1

		st := u.clock.Now()
		lastErr = u.doRequest(ctx, target, body, encoding, task.UploadID)
		_ = u.metrics.EmitTimer("upload.latency_ms", float64(u.clock.Now().Sub(st).Milliseconds()), tags)
		if lastErr == nil {
			_ = u.metrics.EmitCounter("upload.success", 1, tags)
			_ = u.metrics.EmitGauge("upload.bytes", float64(len(body)), tags)
			u.logger.Debug("[Uploader.Upload] delivered %s window [%d, %d). attempt=%d, bytes=%d",
				task.Profile.Type, task.Profile.Start.Unix(), task.Profile.End.Unix(), task.Attempt, len(body))
			return nil
		}
		if !isRetriable(lastErr) {
			_ = u.metrics.EmitCounter("upload.rejected", 1, tags)
			u.logger.Error("[Uploader.Upload] rejected by server. uploadID=%s, err=%v", task.UploadID, lastErr)
			return common.WrapError(common.CodeRejectedByServer, "upload "+task.UploadID, lastErr)
		}
		u.logger.Error("[Uploader.Upload] attempt %d/%d failed. uploadID=%s, err=%v", task.Attempt, u.retry.MaxAttempts, task.UploadID, lastErr)
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
	}
	_ = u.metrics.EmitCounter("upload.delivery_failed", 1, tags)
	return common.WrapError(common.CodeDeliveryFailed, fmt.Sprintf("upload %s after %d attempts", task.UploadID, task.Attempt), lastErr)
}

func (u *Uploader) encode(p *common.Profile) ([]byte, string, error) {
	buf := &bytes.Buffer{}
	if !u.gzip {
		if err := p.WriteFolded(buf); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "", nil
	}
	zw := gzip.NewWriter(buf)
	if err := p.WriteFolded(zw); err != nil {
		return nil, "", err
	}
	if err := zw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), "gzip", nil
}

func (u *Uploader) doRequest(ctx context.Context, target string, body []byte, encoding, uploadID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", ContentTypeFolded)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(uploadIDHeaderKey, uploadID)
	if encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}
	if u.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+u.authToken)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return &retriableError{err}
	}
	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBodySize))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(msg)))
	default:
		return &retriableError{fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(msg)))}
	}
}

// BuildURL returns <server>/ingest?name=<app>&from=<start>&until=<end> plus
// the metadata the server needs to interpret the folded body.
func BuildURL(s *common.Session, p *common.Profile) (string, error) {
	base, err := url.Parse(strings.TrimSuffix(s.ServerAddress, "/"))
	if err != nil {
		return "", err
	}
	if base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("server address %q must be an absolute url", s.ServerAddress)
	}
	base.Path += ingestPath

	q := url.Values{}
	q.Set("name", AppName(s.AppName, s.Tags))
	q.Set("from", strconv.FormatInt(p.Start.Unix(), 10))
	q.Set("until", strconv.FormatInt(p.End.Unix(), 10))
	q.Set("format", FormatFolded)
	q.Set("spyName", SpyName)
	q.Set("units", p.Type.Units())
	q.Set("aggregationType", p.Type.AggregationType())
	if s.SampleRate > 0 {
		q.Set("sampleRate", strconv.Itoa(s.SampleRate))
	}
	base.RawQuery = q.Encode()
	return base.String(), nil
}

// AppName appends tags as app{k=v,...} with keys sorted.
func AppName(app string, tags map[string]string) string {
	if len(tags) == 0 {
		return app
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(app)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(tags[k])
	}
	b.WriteByte('}')
	return b.String()
}
