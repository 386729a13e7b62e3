package api

import (
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// dashboardData is the struct passed to the status page template.
type dashboardData struct {
	Origin      string
	Uptime      string
	Ready       bool
	DNSUp       bool
	APIUp       bool
	Restored    bool
	DNSAddr     string
	APIAddr     string
	LastAttempt string
	LastSuccess string
	LastError   string
	Cycles      uint64
	Failures    uint64
	Hosts       int
	Records     []RecordView
}

var statusPageTemplate = template.Must(template.New("status").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>pvedns {{.Origin}}</title>
  <style>
    body { font-family: system-ui, sans-serif; background: #0d1117; color: #e6edf3; margin: 0; padding: 1.5rem; }
    h1 { font-size: 1.4rem; margin: 0 0 1rem 0; }
    .grid { display: grid; grid-template-columns: repeat(auto-fill, minmax(280px, 1fr)); gap: 1rem; }
    .panel { background: #161b22; border: 1px solid #30363d; border-radius: 8px; padding: 1rem 1.25rem; }
    .panel.wide { grid-column: 1 / -1; }
    .panel h2 { font-size: 0.8rem; text-transform: uppercase; color: #8b949e; margin: 0 0 0.5rem 0; }
    ul { list-style: none; margin: 0; padding: 0; }
    li { display: flex; justify-content: space-between; padding: 0.3rem 0; border-bottom: 1px solid #30363d; }
    li:last-child { border-bottom: none; }
    .key, th { color: #8b949e; }
    .ok { color: #3fb950; }
    .fail { color: #f85149; }
    table { width: 100%; border-collapse: collapse; font-size: 0.875rem; }
    th, td { padding: 0.4rem 0.6rem; text-align: left; border-bottom: 1px solid #30363d; }
    a { color: #58a6ff; }
  </style>
</head>
<body>
  <h1>pvedns · {{.Origin}}</h1>
  <div class="grid">
    <div class="panel">
      <h2>Status</h2>
      <ul>
        <li><span class="key">Ready</span><span class="{{if .Ready}}ok{{else}}fail{{end}}">{{if .Ready}}Yes{{else}}No{{end}}</span></li>
        <li><span class="key">DNS</span><span class="{{if .DNSUp}}ok{{else}}fail{{end}}">{{.DNSAddr}}</span></li>
        <li><span class="key">API</span><span class="{{if .APIUp}}ok{{else}}fail{{end}}">{{.APIAddr}}</span></li>
        <li><span class="key">Uptime</span><span>{{.Uptime}}</span></li>
        <li><span class="key">Restored from disk</span><span>{{if .Restored}}Yes{{else}}No{{end}}</span></li>
      </ul>
    </div>
    <div class="panel">
      <h2>Sync</h2>
      <ul>
        <li><span class="key">Last attempt</span><span>{{.LastAttempt}}</span></li>
        <li><span class="key">Last success</span><span>{{.LastSuccess}}</span></li>
        <li><span class="key">Cycles / failures</span><span>{{.Cycles}} / {{.Failures}}</span></li>
        <li><span class="key">Hosts</span><span>{{.Hosts}}</span></li>
        {{if .LastError}}<li><span class="key">Last error</span><span class="fail">{{.LastError}}</span></li>{{end}}
      </ul>
    </div>
    <div class="panel wide">
      <h2>Records ({{len .Records}})</h2>
      <table>
        <thead><tr><th>Name</th><th>TTL</th><th>Type</th><th>Value</th></tr></thead>
        <tbody>
          {{range .Records}}<tr><td>{{.Name}}</td><td>{{.TTL}}</td><td>{{.Type}}</td><td>{{.Value}}</td></tr>{{end}}
        </tbody>
      </table>
    </div>
  </div>
  <p class="key">JSON: <a href="/zone">/zone</a> · <a href="/sync">/sync</a> · Prometheus: <a href="/metrics">/metrics</a></p>
</body>
</html>
`))

// statusPage serves a read-only overview of the zone and the sync loop.
func (h *handlers) statusPage(c *gin.Context) {
	data := dashboardData{Uptime: "—", LastAttempt: "—", LastSuccess: "—"}
	if state := h.deps.State; state != nil {
		ls := state.ListenerSnapshot()
		data.Ready = state.Ready()
		data.DNSUp = state.ServerStatus()
		data.APIUp = state.APIRunning()
		data.Restored = state.Restored()
		data.DNSAddr = ls.DNSAddr
		data.APIAddr = ls.APIAddr
		data.Uptime = roundDuration(state.Uptime())
	}
	if h.deps.Store != nil {
		snap := h.deps.Store.Snapshot()
		data.Origin = snap.Origin()
		data.Records = recordViews(snap.Records())
	}
	if h.deps.Sync != nil {
		st := h.deps.Sync.Status()
		data.LastAttempt = formatTime(st.LastAttempt)
		data.LastSuccess = formatTime(st.LastSuccess)
		data.LastError = st.LastError
		data.Cycles = st.Cycles
		data.Failures = st.Failures
		data.Hosts = st.Hosts
	}

	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := statusPageTemplate.Execute(c.Writer, data); err != nil {
		_ = c.Error(err)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "—"
	}
	return t.Format(time.RFC3339)
}

func roundDuration(d time.Duration) string {
	if d < time.Minute {
		return d.Round(time.Second).String()
	}
	if d < time.Hour {
		return d.Round(time.Minute).String()
	}
	if d < 24*time.Hour {
		return d.Round(time.Hour).String()
	}
	days := int(d / (24 * time.Hour))
	rem := d % (24 * time.Hour)
	if rem == 0 {
		return strconv.Itoa(days) + "d"
	}
	return strconv.Itoa(days) + "d " + rem.Round(time.Hour).String()
}
