// Package prometheus renders authkit engine counters in Prometheus text
// exposition format. Nothing is registered in any global registry; callers
// mount the handler wherever they scrape.
package prometheus

import (
	"net/http"
	"sort"
	"strconv"
	"strings"

	authkit "github.com/pazari/authkit"
)

type metricsSource interface {
	MetricsSnapshot() map[string]uint64
	AuditDropped() uint64
}

// Exporter reads engine counters on demand. It holds no state of its own.
type Exporter struct {
	source metricsSource
}

// NewExporter creates an Exporter reading from the given engine.
func NewExporter(engine *authkit.Engine) *Exporter {
	return &Exporter{source: engine}
}

// NewExporterFromSource creates an Exporter from a custom source.
func NewExporterFromSource(source metricsSource) *Exporter {
	return &Exporter{source: source}
}

// Handler serves the current counters as a scrape endpoint.
func (p *Exporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(p.Render()))
	})
}

// Render produces the text exposition body. Counter names come out as
// authkit_<name>_total in sorted order, plus authkit_audit_dropped_total.
func (p *Exporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}

	snapshot := p.source.MetricsSnapshot()
	names := make([]string, 0, len(snapshot))
	for name := range snapshot {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.Grow(4096)

	for _, name := range names {
		writeCounter(&b, "authkit_"+name+"_total", snapshot[name])
	}
	writeCounter(&b, "authkit_audit_dropped_total", p.source.AuditDropped())

	return b.String()
}

func writeCounter(b *strings.Builder, name string, value uint64) {
	b.WriteString("# TYPE ")
	b.WriteString(name)
	b.WriteString(" counter\n")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(strconv.FormatUint(value, 10))
	b.WriteByte('\n')
}
