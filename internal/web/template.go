package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/signal-controller/internal/logic"
	"github.com/sweeney/signal-controller/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"laneOrNone": func(l logic.Lane) string {
		if l == logic.None {
			return "none"
		}
		return string(l)
	},
	"clock": func(t time.Time) string {
		if t.IsZero() {
			return "never"
		}
		return t.UTC().Format("15:04:05Z")
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Signal Controller {{.Config.Intersection}}</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.green { color: green; font-weight: bold; }
.yellow { color: #c90; font-weight: bold; }
.red { color: #c00; }
.connected { color: green; }
.disconnected { color: red; }
.override { color: #c00; font-weight: bold; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Signal Controller {{.Config.Intersection}}<span id="live-dot" class="live-dot pending" title="connecting"></span></h1>

<h2>Lights</h2>
<table>
<tr><th>Lane</th><th>Light</th><th>Vehicles</th><th>Rank</th></tr>
{{range .Lanes}}<tr><td>{{.Name}}</td><td id="light-{{.Name}}" class="{{.Light}}">{{.Light}}</td><td id="count-{{.Name}}">{{.Count}}</td><td id="rank-{{.Name}}">{{.Rank}}</td></tr>
{{end}}</table>

<h2>State</h2>
<table>
<tr><th>Current green</th><td id="current-green">{{laneOrNone .Signal.CurrentGreen}}</td></tr>
<tr><th>Green since</th><td>{{clock .Signal.LastGreenTime}}</td></tr>
<tr><th>Last switch</th><td>{{clock .Signal.LastSwitchTime}}</td></tr>
<tr><th>Override</th><td id="override">{{if .Signal.OverrideActive}}<span class="override">{{.Signal.OverrideDirection}} until {{clock .Signal.OverrideExpiresAt}}</span>{{else}}none{{end}}</td></tr>
<tr><th>Ready</th><td>{{if .Ready}}yes{{else}}no{{end}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}disabled{{end}}</td></tr>
</table>

<h2>Event Counts</h2>
<table>
<tr><th>Switches</th><td>{{.Counts.Switches}}</td></tr>
<tr><th>Manual changes</th><td>{{.Counts.ManualChanges}}</td></tr>
<tr><th>Overrides</th><td>{{.Counts.Overrides}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Tick</th><td>{{.Config.TickMs}}ms</td></tr>
<tr><th>Yellow</th><td>{{.Config.YellowMs}}ms</td></tr>
<tr><th>Green</th><td>{{.Config.MinGreenMs}}ms to {{.Config.MaxGreenMs}}ms</td></tr>
<tr><th>Override</th><td>{{.Config.OverrideMs}}ms within {{.Config.RadiusMeters}}m</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> <a href="/signal_status">signal status</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");
  var proto = location.protocol === "https:" ? "wss://" : "ws://";

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  function apply(msg) {
    Object.keys(msg.lights || {}).forEach(function(lane) {
      var el = document.getElementById("light-" + lane);
      if (el) { el.textContent = msg.lights[lane]; el.className = msg.lights[lane]; }
    });
    Object.keys(msg.vehicle_counts || {}).forEach(function(lane) {
      var el = document.getElementById("count-" + lane);
      if (el) { el.textContent = msg.vehicle_counts[lane]; }
    });
    document.getElementById("current-green").textContent = msg.current_green || "none";
    document.getElementById("override").textContent = msg.override_active ? msg.override_direction : "none";
  }

  function connect() {
    var ws = new WebSocket(proto + location.host + "/ws");
    ws.onopen = function() { setDot("ok", "live"); };
    ws.onclose = function() { setDot("err", "offline"); setTimeout(connect, 5000); };
    ws.onmessage = function(ev) {
      try {
        var msg = JSON.parse(ev.data);
        if (msg.lights) { apply(msg); }
      } catch (e) {}
    };
  }
  connect();
})();
</script>
</body>
</html>
`

type laneRow struct {
	Name  string
	Light string
	Count int
	Rank  int
}

func renderHTML(w io.Writer, snap status.Snapshot) {
	lanes := snap.Config.Lanes
	if len(lanes) == 0 {
		lanes = logic.DefaultLanes.Strings()
	}
	set := make(logic.Lanes, len(lanes))
	for i, name := range lanes {
		set[i] = logic.Lane(name)
	}
	// 1 is the lane the density policy would pick first.
	rank := make(map[logic.Lane]int, len(set))
	for i, l := range (logic.Policy{Lanes: set}).Rank(snap.Signal.VehicleCounts) {
		rank[l] = i + 1
	}
	rows := make([]laneRow, 0, len(set))
	for _, l := range set {
		light := string(snap.Signal.Lights[l])
		if light == "" {
			light = string(logic.Red)
		}
		rows = append(rows, laneRow{Name: string(l), Light: light, Count: snap.Signal.VehicleCounts[l], Rank: rank[l]})
	}

	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
		Lanes  []laneRow
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Lanes:    rows,
	}
	if err := indexTmpl.Execute(w, data); err != nil {
		log.Warnf("render index: %v", err)
	}
}
