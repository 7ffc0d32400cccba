package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Probe is the closed set of probe configurations the executor understands.
// Each task type carries its own strongly-typed parameter record; parsing
// happens once at this boundary so the executor branches never see raw JSON.
type Probe interface {
	// Target is the host, URL, or recipient the probe acts on, used for the
	// TaskResult's target field.
	Target() string

	probe() // closed: only this package implements Probe
}

// PingProbe sends ICMP echoes via the system ping utility.
type PingProbe struct {
	Host  string
	Count int
}

// DNSProbe resolves a hostname to all of its addresses.
type DNSProbe struct {
	Host string
}

// WebProbe issues an HTTP GET and measures the round trip.
type WebProbe struct {
	URL string
}

// DownloadProbe downloads the full response body of a URL and measures
// throughput.
type DownloadProbe struct {
	URL string
}

// UploadProbe POSTs SizeKB KiB of random bytes to a URL and measures
// throughput.
type UploadProbe struct {
	URL    string
	SizeKB int
}

// SMSProbe dispatches a single text message.
type SMSProbe struct {
	Recipient string
	Message   string
}

func (PingProbe) probe()     {}
func (DNSProbe) probe()      {}
func (WebProbe) probe()      {}
func (DownloadProbe) probe() {}
func (UploadProbe) probe()   {}
func (SMSProbe) probe()      {}

func (p PingProbe) Target() string     { return p.Host }
func (p DNSProbe) Target() string      { return p.Host }
func (p WebProbe) Target() string      { return p.URL }
func (p DownloadProbe) Target() string { return p.URL }
func (p UploadProbe) Target() string   { return p.URL }
func (p SMSProbe) Target() string      { return p.Recipient }

const (
	defaultPingCount    = 4
	defaultUploadSizeKB = 1024
)

// rawParams is the loose shape of the parameter blob. Individual probes pick
// the fields they need and validate presence themselves.
type rawParams struct {
	Host      string `json:"host"`
	Count     int    `json:"count"`
	URL       string `json:"url"`
	SizeKB    int    `json:"size_kb"`
	Recipient string `json:"recipient"`
	Message   string `json:"message"`
}

// ParseProbe interprets a task's parameter blob according to its type tag
// (case-insensitive). Malformed JSON or missing required fields return an
// error describing the problem; callers turn that into a failed TaskResult
// without attempting any I/O.
func ParseProbe(taskType, parametersJSON string) (Probe, error) {
	var raw rawParams
	if err := json.Unmarshal([]byte(parametersJSON), &raw); err != nil {
		return nil, fmt.Errorf("invalid JSON parameters: %w", err)
	}

	switch strings.ToUpper(taskType) {
	case TaskTypePing:
		if raw.Host == "" {
			return nil, fmt.Errorf("host is missing from PING parameters")
		}
		count := raw.Count
		if count <= 0 {
			count = defaultPingCount
		}
		return PingProbe{Host: raw.Host, Count: count}, nil

	case TaskTypeDNS:
		if raw.Host == "" {
			return nil, fmt.Errorf("host is missing from DNS parameters")
		}
		return DNSProbe{Host: raw.Host}, nil

	case TaskTypeWeb:
		if raw.URL == "" {
			return nil, fmt.Errorf("url is missing from WEB parameters")
		}
		return WebProbe{URL: raw.URL}, nil

	case TaskTypeDownloadSpeed:
		if raw.URL == "" {
			return nil, fmt.Errorf("url is missing from DOWNLOAD_SPEED parameters")
		}
		return DownloadProbe{URL: raw.URL}, nil

	case TaskTypeUploadSpeed:
		if raw.URL == "" {
			return nil, fmt.Errorf("url is missing from UPLOAD_SPEED parameters")
		}
		size := raw.SizeKB
		if size <= 0 {
			size = defaultUploadSizeKB
		}
		return UploadProbe{URL: raw.URL, SizeKB: size}, nil

	case TaskTypeSMS:
		if raw.Recipient == "" || raw.Message == "" {
			return nil, fmt.Errorf("recipient or message is missing from SMS parameters")
		}
		return SMSProbe{Recipient: raw.Recipient, Message: raw.Message}, nil

	default:
		return nil, fmt.Errorf("unknown task type: %s", taskType)
	}
}

// ProbeTarget extracts a best-effort target from a parameter blob for
// reporting on tasks whose parameters failed to parse or whose type is
// unknown. Mirrors the result target resolution order: host, then url, then
// recipient.
func ProbeTarget(parametersJSON string) string {
	var raw rawParams
	if err := json.Unmarshal([]byte(parametersJSON), &raw); err != nil {
		return "Invalid JSON"
	}
	switch {
	case raw.Host != "":
		return raw.Host
	case raw.URL != "":
		return raw.URL
	case raw.Recipient != "":
		return raw.Recipient
	default:
		return "Unknown"
	}
}
