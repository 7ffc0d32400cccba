package models

import (
	"strings"
	"testing"
)

func TestParseProbeValid(t *testing.T) {
	tests := []struct {
		name     string
		taskType string
		params   string
		check    func(t *testing.T, p Probe)
	}{
		{
			name:     "ping with explicit count",
			taskType: "PING",
			params:   `{"host": "8.8.8.8", "count": 10}`,
			check: func(t *testing.T, p Probe) {
				ping := p.(PingProbe)
				if ping.Host != "8.8.8.8" || ping.Count != 10 {
					t.Errorf("got %+v", ping)
				}
			},
		},
		{
			name:     "ping count defaults to 4",
			taskType: "PING",
			params:   `{"host": "example.com"}`,
			check: func(t *testing.T, p Probe) {
				if got := p.(PingProbe).Count; got != 4 {
					t.Errorf("default count = %d, want 4", got)
				}
			},
		},
		{
			name:     "task type is case-insensitive",
			taskType: "dns",
			params:   `{"host": "google.com"}`,
			check: func(t *testing.T, p Probe) {
				if p.(DNSProbe).Host != "google.com" {
					t.Errorf("got %+v", p)
				}
			},
		},
		{
			name:     "web probe",
			taskType: "WEB",
			params:   `{"url": "https://example.com"}`,
			check: func(t *testing.T, p Probe) {
				if p.(WebProbe).URL != "https://example.com" {
					t.Errorf("got %+v", p)
				}
			},
		},
		{
			name:     "upload size defaults to 1024 KB",
			taskType: "UPLOAD_SPEED",
			params:   `{"url": "https://example.com/up"}`,
			check: func(t *testing.T, p Probe) {
				if got := p.(UploadProbe).SizeKB; got != 1024 {
					t.Errorf("default size = %d, want 1024", got)
				}
			},
		},
		{
			name:     "sms probe",
			taskType: "SMS",
			params:   `{"recipient": "+15551234567", "message": "test"}`,
			check: func(t *testing.T, p Probe) {
				sms := p.(SMSProbe)
				if sms.Recipient != "+15551234567" || sms.Message != "test" {
					t.Errorf("got %+v", sms)
				}
			},
		},
		{
			name:     "unknown json fields are ignored",
			taskType: "DOWNLOAD_SPEED",
			params:   `{"url": "https://example.com/file", "retries": 3}`,
			check: func(t *testing.T, p Probe) {
				if p.(DownloadProbe).URL != "https://example.com/file" {
					t.Errorf("got %+v", p)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParseProbe(tt.taskType, tt.params)
			if err != nil {
				t.Fatalf("ParseProbe failed: %v", err)
			}
			tt.check(t, p)
		})
	}
}

func TestParseProbeInvalid(t *testing.T) {
	tests := []struct {
		name     string
		taskType string
		params   string
		wantErr  string
	}{
		{"malformed json", "PING", `{not json`, "invalid JSON parameters"},
		{"ping without host", "PING", `{"count": 4}`, "host is missing"},
		{"dns without host", "DNS", `{}`, "host is missing"},
		{"web without url", "WEB", `{}`, "url is missing"},
		{"download without url", "DOWNLOAD_SPEED", `{}`, "url is missing"},
		{"upload without url", "UPLOAD_SPEED", `{"size_kb": 512}`, "url is missing"},
		{"sms without recipient", "SMS", `{"message": "hi"}`, "recipient or message is missing"},
		{"sms without message", "SMS", `{"recipient": "+1555"}`, "recipient or message is missing"},
		{"unknown type", "TRACEROUTE", `{"host": "example.com"}`, "unknown task type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseProbe(tt.taskType, tt.params)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestProbeTarget(t *testing.T) {
	tests := []struct {
		params string
		want   string
	}{
		{`{"host": "8.8.8.8"}`, "8.8.8.8"},
		{`{"url": "https://example.com"}`, "https://example.com"},
		{`{"host": "a", "url": "b"}`, "a"},
		{`{"recipient": "+1555"}`, "+1555"},
		{`{}`, "Unknown"},
		{`{broken`, "Invalid JSON"},
	}
	for _, tt := range tests {
		if got := ProbeTarget(tt.params); got != tt.want {
			t.Errorf("ProbeTarget(%s) = %q, want %q", tt.params, got, tt.want)
		}
	}
}
