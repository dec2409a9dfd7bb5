package health

import (
	"bytes"
	"html/template"
)

var dashboardTmpl = template.Must(template.New("dashboard").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>Grove Ledger · API Status</title>
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <style>
    body { font-family: system-ui, sans-serif; background: #f6f8f5; color: #1d3b2a; margin: 0; padding: 40px; }
    h1 { margin: 0 0 24px; font-size: 36px; }
    .issue { color: #b91c1c; }
    .grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(260px, 1fr)); gap: 20px; }
    .card { background: #fff; border-radius: 16px; padding: 24px; box-shadow: 0 10px 30px rgba(0,0,0,0.05); }
    .label { text-transform: uppercase; font-size: 11px; letter-spacing: 2px; color: #6b7f73; margin-bottom: 12px; }
    .row { display: flex; justify-content: space-between; padding: 6px 0; border-bottom: 1px solid #eef2ee; font-weight: 600; }
    .row:last-child { border-bottom: none; }
  </style>
</head>
<body>
  {{if eq .Status "ok"}}<h1>All Systems Operational</h1>{{else}}<h1 class="issue">System Issues Detected</h1>{{end}}
  <div class="grid">
    <div class="card">
      <div class="label">Traffic</div>
      <div class="row"><span>Requests</span><span>{{.Traffic.TotalRequests}}</span></div>
      <div class="row"><span>Failed</span><span>{{.Traffic.FailedCount}}</span></div>
      <div class="row"><span>Success Rate</span><span>{{.Traffic.SuccessRate}}%</span></div>
      <div class="row"><span>Avg Latency</span><span>{{.Traffic.AvgResponseTime}} ms</span></div>
    </div>
    <div class="card">
      <div class="label">Dependencies</div>
      {{range $name, $dep := .Dependencies}}<div class="row"><span>{{$name}}</span><span>{{$dep.Status}}</span></div>{{end}}
    </div>
    <div class="card">
      <div class="label">Runtime</div>
      <div class="row"><span>Uptime</span><span>{{.Runtime.UptimeSeconds}} s</span></div>
      <div class="row"><span>Heap</span><span>{{.Runtime.Memory.HeapUsed}} MB</span></div>
      <div class="row"><span>Goroutines</span><span>{{.Runtime.Goroutines}}</span></div>
      <div class="row"><span>Go</span><span>{{.Runtime.GoVersion}}</span></div>
    </div>
    {{with .Ledger}}<div class="card">
      <div class="label">Reconciliation</div>
      <div class="row"><span>Claims processing</span><span>{{.ProcessingClaims}}</span></div>
      <div class="row"><span>Failed harvests</span><span>{{.FailedHarvests}}</span></div>
      <div class="row"><span>Undistributed harvests</span><span>{{.UndistributedHarvests}}</span></div>
      <div class="row"><span>Unallocated harvests</span><span>{{.UnallocatedHarvests}}</span></div>
      <div class="row"><span>Frozen beneficiaries</span><span>{{.FrozenBeneficiaries}}</span></div>
    </div>{{end}}
  </div>
</body>
</html>
`))

// RenderDashboardHTML returns the HTML for GET /.
func RenderDashboardHTML(health CollectResult) string {
	var buf bytes.Buffer
	if err := dashboardTmpl.Execute(&buf, health); err != nil {
		return "<!DOCTYPE html><p>dashboard unavailable</p>"
	}
	return buf.String()
}
