// Package sampler produces best-effort snapshots of the device's current
// radio state. Absent capability (no modem, no permission, no signal) yields
// sentinel values rather than errors.
package sampler

import (
	"context"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	gopsnet "github.com/shirou/gopsutil/v3/net"

	"github.com/polaris-net/polaris-agent/internal/models"
)

// Sampler is the telemetry sampler contract: one call, one best-effort
// sample, no side effects.
type Sampler interface {
	Sample(ctx context.Context) (*models.NetworkMetric, error)
}

// HostSampler derives a sample from the host's network interfaces and, when
// ModemManager is installed, enriches it with radio fields from mmcli.
type HostSampler struct {
	logger    *slog.Logger
	mmcliPath string // empty when ModemManager is not installed
}

// NewHostSampler probes once for mmcli and returns a sampler.
func NewHostSampler(logger *slog.Logger) *HostSampler {
	path, err := exec.LookPath("mmcli")
	if err != nil {
		logger.Info("mmcli not found, radio fields will use sentinels")
		path = ""
	}
	return &HostSampler{logger: logger, mmcliPath: path}
}

// Sample captures one NetworkMetric. The network-type label comes from the
// active interface class; signal and cell-identity fields come from the
// modem when one is reachable and stay at sentinel/null otherwise.
func (h *HostSampler) Sample(ctx context.Context) (*models.NetworkMetric, error) {
	metric := models.NewNetworkMetric("UNKNOWN", models.SignalStrengthUnknown)

	if label, err := h.activeInterfaceLabel(ctx); err != nil {
		h.logger.Debug("interface scan failed", "error", err)
	} else {
		metric.NetworkType = label
	}

	if h.mmcliPath != "" {
		h.enrichFromModem(ctx, metric)
	}

	return metric, nil
}

// activeInterfaceLabel classifies the first non-loopback interface that is
// up and has an address.
func (h *HostSampler) activeInterfaceLabel(ctx context.Context) (string, error) {
	ifaces, err := gopsnet.InterfacesWithContext(ctx)
	if err != nil {
		return "", err
	}
	for _, iface := range ifaces {
		if !hasFlag(iface.Flags, "up") || hasFlag(iface.Flags, "loopback") {
			continue
		}
		if len(iface.Addrs) == 0 {
			continue
		}
		name := strings.ToLower(iface.Name)
		switch {
		case strings.HasPrefix(name, "wwan"), strings.HasPrefix(name, "ppp"),
			strings.HasPrefix(name, "usb"):
			return "WWAN", nil
		case strings.HasPrefix(name, "wl"):
			return "WIFI", nil
		case strings.HasPrefix(name, "en"), strings.HasPrefix(name, "eth"):
			return "ETHERNET", nil
		}
	}
	return "UNKNOWN", nil
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if strings.EqualFold(f, want) {
			return true
		}
	}
	return false
}

// enrichFromModem fills radio fields from `mmcli -m any` key-value output.
// Every failure is swallowed: a modem that is absent or busy simply leaves
// the sentinel values in place.
func (h *HostSampler) enrichFromModem(ctx context.Context, metric *models.NetworkMetric) {
	out, err := exec.CommandContext(ctx, h.mmcliPath, "-m", "any", "-K").Output()
	if err != nil {
		h.logger.Debug("mmcli query failed", "error", err)
		return
	}

	kv := parseKeyValue(string(out))

	if tech, ok := kv["modem.generic.access-technologies.value[1]"]; ok {
		metric.NetworkType = normalizeAccessTech(tech)
	}
	if sig, ok := kv["modem.generic.signal-quality.value"]; ok {
		if pct, err := strconv.Atoi(sig); err == nil {
			// mmcli reports percent; map onto a coarse dBm estimate so the
			// field stays comparable with platform-reported strengths.
			metric.SignalStrength = -113 + pct*60/100
		}
	}
	if plmn, ok := kv["modem.3gpp.operator-code"]; ok && plmn != "--" {
		metric.PLMNID = &plmn
	}
}

func parseKeyValue(out string) map[string]string {
	kv := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		kv[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return kv
}

func normalizeAccessTech(tech string) string {
	switch strings.ToLower(tech) {
	case "lte":
		return "LTE"
	case "5gnr":
		return "NR"
	case "umts", "hsdpa", "hsupa", "hspa", "hspa+":
		return "WCDMA"
	case "gsm", "gprs", "edge":
		return "GSM"
	default:
		return strings.ToUpper(tech)
	}
}
