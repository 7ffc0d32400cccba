package executor

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// SMSSender dispatches a single text message. Implementations report the
// dispatch outcome only; delivery confirmation is out of scope.
type SMSSender interface {
	Send(ctx context.Context, recipient, message string) error
}

// MmcliSender sends messages through ModemManager's messaging API.
type MmcliSender struct {
	logger    *slog.Logger
	mmcliPath string
}

// DetectMmcliSender returns a sender when mmcli is installed, nil otherwise.
func DetectMmcliSender(logger *slog.Logger) *MmcliSender {
	path, err := exec.LookPath("mmcli")
	if err != nil {
		logger.Info("mmcli not found, SMS tasks will report missing capability")
		return nil
	}
	return &MmcliSender{logger: logger, mmcliPath: path}
}

// Send creates the SMS on the modem and submits it. The created SMS path is
// parsed from mmcli's creation output.
func (m *MmcliSender) Send(ctx context.Context, recipient, message string) error {
	createArg := fmt.Sprintf("--messaging-create-sms=number='%s',text='%s'",
		recipient, strings.ReplaceAll(message, "'", ""))
	out, err := exec.CommandContext(ctx, m.mmcliPath, "-m", "any", createArg).CombinedOutput()
	if err != nil {
		return fmt.Errorf("sms create failed: %w: %s", err, strings.TrimSpace(string(out)))
	}

	smsPath := parseSMSPath(string(out))
	if smsPath == "" {
		return fmt.Errorf("sms create output did not contain an SMS path: %s",
			strings.TrimSpace(string(out)))
	}

	out, err = exec.CommandContext(ctx, m.mmcliPath, "-s", smsPath, "--send").CombinedOutput()
	if err != nil {
		return fmt.Errorf("sms send failed: %w: %s", err, strings.TrimSpace(string(out)))
	}

	m.logger.Debug("sms dispatched", "recipient", recipient, "sms_path", smsPath)
	return nil
}

// parseSMSPath extracts the object path from mmcli's creation message, e.g.
// "Successfully created new SMS: /org/freedesktop/ModemManager1/SMS/1".
func parseSMSPath(out string) string {
	for _, line := range strings.Split(out, "\n") {
		if idx := strings.Index(line, "/org/freedesktop/ModemManager1/SMS/"); idx >= 0 {
			return strings.TrimSpace(line[idx:])
		}
	}
	return ""
}
