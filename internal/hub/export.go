package hub

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ExportMetrics renders every stored series in the requested format: "json"
// returns the full sample map, "prometheus" the text exposition line format
// with the latest sample per tag set.
func (h *Hub) ExportMetrics(format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "json":
		h.mu.Lock()
		snapshot := make(map[string][]Sample, len(h.metrics))
		for name, series := range h.metrics {
			out := make([]Sample, len(series))
			copy(out, series)
			snapshot[name] = out
		}
		h.mu.Unlock()
		return json.MarshalIndent(snapshot, "", "  ")
	case "prometheus":
		return h.exportPrometheus(), nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

func (h *Hub) exportPrometheus() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()

	var b strings.Builder
	for _, name := range h.metricNames() {
		latest := map[string]Sample{}
		for _, s := range h.metrics[name] {
			latest[tagKey(s.Tags)] = s
		}
		keys := make([]string, 0, len(latest))
		for k := range latest {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			s := latest[k]
			fmt.Fprintf(&b, "%s%s %g %d\n", promName(name), k, s.Value, s.Timestamp.UnixMilli())
		}
	}
	return []byte(b.String())
}

func tagKey(tags map[string]string) string {
	if len(tags) == 0 {
		return ""
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", promName(k), tags[k]))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func promName(s string) string {
	var b strings.Builder
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9' && i > 0:
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
