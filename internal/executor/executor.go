// Package executor runs a single diagnostic task and reports exactly one
// TaskResult. It is stateless and knows nothing about scheduling.
package executor

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/polaris-net/polaris-agent/internal/models"
)

const (
	connectTimeout  = 5 * time.Second
	webTimeout      = 5 * time.Second
	transferTimeout = 15 * time.Second
	dnsTimeout      = 5 * time.Second
	pingPerEchoWait = 3 // seconds, passed to ping -W
)

// Executor dispatches tasks to their probe implementation. All failure
// modes are captured in the returned TaskResult; Execute never returns an
// error to the caller.
type Executor struct {
	logger *slog.Logger
	sms    SMSSender // nil when the platform has no send capability

	webClient      *http.Client
	transferClient *http.Client
}

// New creates an executor. sms may be nil; SMS tasks then fail with a
// capability error instead of being dispatched.
func New(logger *slog.Logger, sms SMSSender) *Executor {
	dialer := &net.Dialer{Timeout: connectTimeout}
	return &Executor{
		logger: logger,
		sms:    sms,
		webClient: &http.Client{
			Timeout:   webTimeout,
			Transport: &http.Transport{DialContext: dialer.DialContext},
		},
		transferClient: &http.Client{
			Timeout:   transferTimeout,
			Transport: &http.Transport{DialContext: dialer.DialContext},
		},
	}
}

// Execute runs the probe described by the task and returns its outcome.
// Malformed parameters short-circuit to a failure result without any I/O.
func (e *Executor) Execute(ctx context.Context, task *models.Task) *models.TaskResult {
	started := time.Now()

	probe, err := models.ParseProbe(task.Type, task.ParametersJSON)
	if err != nil {
		return e.failure(task, models.ProbeTarget(task.ParametersJSON), err.Error())
	}

	var result *models.TaskResult
	switch p := probe.(type) {
	case models.PingProbe:
		result = e.runPing(ctx, task, p)
	case models.DNSProbe:
		result = e.runDNS(ctx, task, p)
	case models.WebProbe:
		result = e.runWeb(ctx, task, p)
	case models.DownloadProbe:
		result = e.runDownload(ctx, task, p)
	case models.UploadProbe:
		result = e.runUpload(ctx, task, p)
	case models.SMSProbe:
		result = e.runSMS(ctx, task, p)
	default:
		result = e.failure(task, probe.Target(), fmt.Sprintf("unhandled probe type %T", probe))
	}

	attrs := []any{
		"task_id", task.ID,
		"task_type", task.Type,
		"target", deref(result.TargetHost),
		"success", result.Success,
		"duration_ms", time.Since(started).Milliseconds(),
	}
	if result.Success {
		e.logger.Info("probe finished", attrs...)
	} else {
		e.logger.Warn("probe failed", attrs...)
	}
	return result
}

// runPing shells out to the system ping utility. Success requires a zero
// exit status and an average latency in the summary line.
func (e *Executor) runPing(ctx context.Context, task *models.Task, p models.PingProbe) *models.TaskResult {
	// Bound the whole probe so one unreachable host cannot stall a wake:
	// one -W window per echo plus dispatch slack.
	pingCtx, cancel := context.WithTimeout(ctx,
		time.Duration(p.Count*(pingPerEchoWait+1))*time.Second+connectTimeout)
	defer cancel()

	cmd := exec.CommandContext(pingCtx, "ping",
		"-c", strconv.Itoa(p.Count),
		"-W", strconv.Itoa(pingPerEchoWait),
		p.Host)
	out, err := cmd.CombinedOutput()
	transcript := strings.TrimSpace(string(out))

	if err != nil {
		detail := fmt.Sprintf("ping failed: %v", err)
		if transcript != "" {
			detail += "\n" + transcript
		}
		return e.failure(task, p.Host, detail)
	}
	if !strings.Contains(transcript, "avg") {
		return e.failure(task, p.Host,
			"ping completed without a latency summary\n"+transcript)
	}

	return e.success(task, p.Host, parsePingAverage(transcript), transcript)
}

// parsePingAverage extracts the average RTT from the ping summary line
// ("rtt min/avg/max/mdev = a/b/c/d ms" on Linux, "round-trip ..." on BSD).
func parsePingAverage(transcript string) string {
	for _, line := range strings.Split(transcript, "\n") {
		if !strings.HasPrefix(line, "rtt min/avg/max") &&
			!strings.HasPrefix(line, "round-trip min/avg/max") {
			continue
		}
		fields := strings.Split(line, "/")
		if len(fields) <= 4 {
			continue
		}
		if avg, err := strconv.ParseFloat(strings.TrimSpace(fields[4]), 64); err == nil {
			return fmt.Sprintf("%.2f ms", avg)
		}
	}
	return "Success"
}

// runDNS resolves the host to all of its addresses, timing the lookup.
func (e *Executor) runDNS(ctx context.Context, task *models.Task, p models.DNSProbe) *models.TaskResult {
	lookupCtx, cancel := context.WithTimeout(ctx, dnsTimeout)
	defer cancel()

	started := time.Now()
	addrs, err := net.DefaultResolver.LookupHost(lookupCtx, p.Host)
	elapsed := time.Since(started)

	if err != nil {
		return e.failure(task, p.Host, fmt.Sprintf("DNS lookup failed for '%s': %v", p.Host, err))
	}

	return e.success(task, p.Host,
		fmt.Sprintf("%d ms", elapsed.Milliseconds()),
		fmt.Sprintf("Resolved '%s' to: %s", p.Host, strings.Join(addrs, ", ")))
}

// runWeb issues a GET and measures the round trip. Any 2xx/3xx status is a
// success.
func (e *Executor) runWeb(ctx context.Context, task *models.Task, p models.WebProbe) *models.TaskResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return e.failure(task, p.URL, fmt.Sprintf("web test failed for '%s': %v", p.URL, err))
	}

	started := time.Now()
	resp, err := e.webClient.Do(req)
	elapsed := time.Since(started)
	if err != nil {
		return e.failure(task, p.URL, fmt.Sprintf("web test failed for '%s': %v", p.URL, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 399 {
		return e.failure(task, p.URL,
			fmt.Sprintf("connection failed, HTTP status: %d", resp.StatusCode))
	}

	return e.success(task, p.URL,
		fmt.Sprintf("%d ms", elapsed.Milliseconds()),
		fmt.Sprintf("Successfully connected. HTTP status: %d", resp.StatusCode))
}

// runDownload transfers the full response body while timing it.
func (e *Executor) runDownload(ctx context.Context, task *models.Task, p models.DownloadProbe) *models.TaskResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return e.failure(task, p.URL, fmt.Sprintf("download test failed for '%s': %v", p.URL, err))
	}

	started := time.Now()
	resp, err := e.transferClient.Do(req)
	if err != nil {
		return e.failure(task, p.URL, fmt.Sprintf("download test failed for '%s': %v", p.URL, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return e.failure(task, p.URL,
			fmt.Sprintf("server returned non-OK status: %d", resp.StatusCode))
	}

	bytesRead, err := io.Copy(io.Discard, resp.Body)
	elapsed := time.Since(started)
	if err != nil {
		return e.failure(task, p.URL, fmt.Sprintf("download test failed for '%s': %v", p.URL, err))
	}

	mbps, ok := throughputMbps(bytesRead, elapsed)
	if !ok {
		return e.failure(task, p.URL, "download was too fast to measure")
	}

	return e.success(task, p.URL,
		fmt.Sprintf("%.2f Mbps", mbps),
		fmt.Sprintf("Successfully downloaded %.2f MB in %.2f seconds.",
			float64(bytesRead)/1e6, elapsed.Seconds()))
}

// runUpload POSTs SizeKB KiB of random bytes while timing the transfer.
func (e *Executor) runUpload(ctx context.Context, task *models.Task, p models.UploadProbe) *models.TaskResult {
	payload := make([]byte, p.SizeKB*1024)
	if _, err := rand.Read(payload); err != nil {
		return e.failure(task, p.URL, fmt.Sprintf("failed to generate payload: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL,
		bytes.NewReader(payload))
	if err != nil {
		return e.failure(task, p.URL, fmt.Sprintf("upload test failed for '%s': %v", p.URL, err))
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.ContentLength = int64(len(payload))

	started := time.Now()
	resp, err := e.transferClient.Do(req)
	elapsed := time.Since(started)
	if err != nil {
		return e.failure(task, p.URL, fmt.Sprintf("upload test failed for '%s': %v", p.URL, err))
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return e.failure(task, p.URL,
			fmt.Sprintf("server returned non-OK status: %d", resp.StatusCode))
	}

	mbps, ok := throughputMbps(int64(len(payload)), elapsed)
	if !ok {
		return e.failure(task, p.URL, "upload was too fast to measure")
	}

	return e.success(task, p.URL,
		fmt.Sprintf("%.2f Mbps", mbps),
		fmt.Sprintf("Successfully uploaded %.2f MB in %.2f seconds.",
			float64(len(payload))/1e6, elapsed.Seconds()))
}

// runSMS dispatches exactly one message. Success reflects the dispatch call
// outcome, not delivery confirmation.
func (e *Executor) runSMS(ctx context.Context, task *models.Task, p models.SMSProbe) *models.TaskResult {
	if e.sms == nil {
		return e.failure(task, p.Recipient, "SMS send capability not available")
	}
	if err := e.sms.Send(ctx, p.Recipient, p.Message); err != nil {
		return e.failure(task, p.Recipient, fmt.Sprintf("SMS sending failed: %v", err))
	}
	return e.success(task, p.Recipient, "Sent Successfully",
		fmt.Sprintf("SMS sent to %s.", p.Recipient))
}

// throughputMbps computes megabits per second, reporting ok=false when the
// measured duration truncates to zero milliseconds (a throughput value
// would be meaningless or divide by zero).
func throughputMbps(bytes int64, elapsed time.Duration) (float64, bool) {
	ms := elapsed.Milliseconds()
	if ms <= 0 {
		return 0, false
	}
	seconds := float64(ms) / 1000.0
	return float64(bytes) * 8 / seconds / 1e6, true
}

func (e *Executor) success(task *models.Task, target, value, details string) *models.TaskResult {
	return newResult(task, target, value, details, true)
}

func (e *Executor) failure(task *models.Task, target, details string) *models.TaskResult {
	return newResult(task, target, "Failed", details, false)
}

func newResult(task *models.Task, target, value, details string, success bool) *models.TaskResult {
	return &models.TaskResult{
		TaskID:       task.ID,
		ServerTaskID: task.ServerID,
		TimestampMs:  time.Now().UnixMilli(),
		TaskType:     task.Type,
		TargetHost:   &target,
		ResultValue:  value,
		Success:      success,
		Details:      &details,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
