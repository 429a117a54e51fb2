package dashboard

import (
	"html/template"
	"strings"

	"github.com/devadigapratham/fleet3d/api/models"
)

var templateFuncs = template.FuncMap{
	"duration": FormatDuration,
	"size":     FormatSize,
	"percent":  Percent,
	"join":     strings.Join,
	"title": func(s interface{}) string {
		v := strings.TrimSpace(toString(s))
		if v == "" {
			return v
		}
		return strings.ToUpper(v[:1]) + v[1:]
	},
	"online":    func(s *models.PrinterStatus) bool { return s.IsOnline() },
	"materials": models.Materials,
	"priorities": func() []string {
		return []string{models.PriorityLow, models.PriorityNormal, models.PriorityHigh}
	},
	"roles": func() []string {
		return []string{models.RoleOperator, models.RoleViewer, models.RoleAdmin}
	},
	"filters": func() []Filter {
		return []Filter{FilterAll, FilterReady, FilterAttention, FilterCompleted, FilterIdle}
	},
}

func toString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case Panel:
		return string(s)
	case Filter:
		return string(s)
	case Action:
		return string(s)
	case models.JobStatus:
		return string(s)
	}
	return ""
}

const pageTemplates = `
{{define "page"}}<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
{{if gt .Refresh 0}}<meta http-equiv="refresh" content="{{.Refresh}}">{{end}}
<title>{{.Title}}</title>
<style>
*{box-sizing:border-box;margin:0;padding:0}
body{font-family:-apple-system,BlinkMacSystemFont,'Segoe UI',Roboto,sans-serif;background:#f5f5f5;color:#333;line-height:1.5}
a{color:#667eea;text-decoration:none}
.hdr{background:linear-gradient(135deg,#667eea 0%,#764ba2 100%);color:#fff;padding:14px 20px;display:flex;justify-content:space-between}
.hdr h1{font-size:18px}
.nav{display:flex;background:#fff;border-bottom:2px solid #e5e7eb;padding:0 16px}
.nav a{padding:12px 16px;color:#666}
.nav a.active{color:#667eea;border-bottom:2px solid #667eea}
.content{max-width:1200px;margin:0 auto;padding:20px}
.toasts{position:fixed;top:20px;right:20px;z-index:1000}
.toast{padding:12px 18px;border-radius:5px;color:#fff;margin-bottom:8px}
.toast-success{background:#22c55e}.toast-error{background:#ef4444}.toast-warning{background:#f59e0b}.toast-info{background:#3b82f6}
.counters{display:flex;gap:12px;margin-bottom:16px}
.counter{background:#fff;border-radius:8px;padding:10px 16px;box-shadow:0 1px 3px rgba(0,0,0,.1)}
.grid{display:grid;grid-template-columns:repeat(auto-fill,minmax(280px,1fr));gap:16px}
.grid.list-view{grid-template-columns:1fr}
.card{background:#fff;border-radius:8px;padding:16px;box-shadow:0 1px 3px rgba(0,0,0,.1)}
.card.error{border-left:4px solid #ef4444}.card.completed{border-left:4px solid #22c55e}
.status{font-size:12px;padding:2px 8px;border-radius:10px;background:#e5e7eb}
.status.printing{background:#dbeafe}.status.paused{background:#fef3c7}.status.offline{background:#fee2e2}.status.completed{background:#dcfce7}
.bar{height:6px;background:#e5e7eb;border-radius:3px;margin:6px 0}.bar div{height:6px;background:#667eea;border-radius:3px}
.actions{display:flex;flex-wrap:wrap;gap:6px;margin-top:10px}
form.inline{display:inline}
button{padding:6px 12px;border:0;border-radius:4px;background:#667eea;color:#fff;cursor:pointer}
button.danger{background:#ef4444}
table{width:100%;border-collapse:collapse;background:#fff}
td,th{padding:8px;border-bottom:1px solid #eee;text-align:left}
fieldset{border:1px solid #e5e7eb;padding:12px;margin:12px 0;background:#fff}
</style>
</head>
<body>
<div class="hdr"><h1>{{.Title}}</h1><span>{{if .Live}}live{{else}}polling{{end}}</span></div>
<div class="nav">{{$cur := .Data.Panel}}{{range .Panels}}<a href="/panel/{{.}}"{{if eq . $cur}} class="active"{{end}}>{{title .}}</a>{{end}}</div>
<div class="toasts">{{range .Notifications}}<div class="toast toast-{{.Type}}">{{.Message}}</div>{{end}}</div>
<div class="content">
{{if .Detail}}{{template "detail" .Detail}}{{end}}
{{if eq .Data.Panel "printers"}}{{template "printers" .Data}}
{{else if eq .Data.Panel "files"}}{{template "files" .Data}}
{{else if eq .Data.Panel "jobs"}}{{template "jobs" .Data}}
{{else if eq .Data.Panel "users"}}{{template "users" .Data}}
{{else if eq .Data.Panel "reports"}}{{template "reports" .Data}}
{{else if eq .Data.Panel "settings"}}{{template "settings" .Data}}{{end}}
</div>
</body>
</html>{{end}}

{{define "printers"}}
<div class="counters">
<div class="counter">Total <b>{{.Counters.Total}}</b></div>
<div class="counter">Ready <b>{{.Counters.Ready}}</b></div>
<div class="counter">Attention <b>{{.Counters.Attention}}</b></div>
<div class="counter">Completed <b>{{.Counters.Completed}}</b></div>
<div class="counter">Idle <b>{{.Counters.Idle}}</b></div>
<div class="counter">Shown <b>{{.Counters.Filtered}}</b></div>
</div>
<div class="actions">
{{$f := .Filter}}{{range filters}}<form class="inline" method="post" action="/filter"><input type="hidden" name="filter" value="{{.}}"><button{{if ne . $f}} style="opacity:.6"{{end}}>{{title .}}</button></form>{{end}}
<form class="inline" method="post" action="/view"><input type="hidden" name="mode" value="{{if eq .View "list"}}grid{{else}}list{{end}}"><button>{{if eq .View "list"}}Grid{{else}}List{{end}} view</button></form>
<form class="inline" method="post" action="/select/all"><button>Select all</button></form>
<form class="inline" method="post" action="/select/clear"><button>Clear selection</button></form>
<form class="inline" method="post" action="/bulk/delete"><button class="danger"{{if not .Selected}} disabled{{end}}>Delete selected ({{len .Selected}})</button></form>
</div>
<fieldset><legend>Add printer</legend>
<form method="post" action="/printers">
<input name="name" placeholder="Name" required> <input name="ip_address" placeholder="IP address" required>
<input name="port" placeholder="7125" size="6"> <input name="tags" placeholder="tags, comma separated">
<button>Add</button></form></fieldset>
<div class="grid{{if eq .View "list"}} list-view{{end}}">
{{range .Cards}}<div class="card {{.Class}}">
<div><form class="inline" method="post" action="/select"><input type="hidden" name="id" value="{{.Printer.ID}}"><input type="hidden" name="checked" value="{{if .Selected}}false{{else}}true{{end}}"><button style="background:none;color:#333;padding:0">{{if .Selected}}&#9745;{{else}}&#9744;{{end}}</button></form>
<b>{{.Printer.Name}}</b> <span class="status {{.Display}}">{{title .Display}}</span></div>
<div><small>{{.Printer.ID}} &middot; {{.Printer.IPAddress}}:{{.Printer.Port}}</small></div>
{{if online .Status}}<img src="{{.Printer.WebcamURL}}" alt="{{.Printer.Name}} webcam" style="width:100%;max-height:160px;object-fit:cover">{{else}}<div>Printer unavailable</div>{{end}}
{{with .Status}}{{with .PrintStats}}{{if .Filename}}
<div>{{.Filename}}</div>
<div class="bar"><div style="width:{{percent .Progress}}%"></div></div>
<small>{{percent .Progress}}% &middot; {{duration .PrintDuration}}{{with .Info}} &middot; layer {{.CurrentLayer}}/{{.TotalLayer}}{{end}}</small>
{{else}}<div>No active print</div>{{end}}{{end}}
{{with .Temperature}}<small>{{with .Extruder}}Hotend {{printf "%.0f" .Temperature}}/{{printf "%.0f" .Target}}&deg;C {{end}}{{with .HeaterBed}}Bed {{printf "%.0f" .Temperature}}/{{printf "%.0f" .Target}}&deg;C{{end}}</small>{{end}}{{end}}
<div class="actions">{{$id := .Printer.ID}}
{{range .Buttons}}{{if eq . "start"}}<a href="/printers/{{$id}}"><button>Start</button></a>{{else}}<form class="inline" method="post" action="/printers/{{$id}}/{{.}}"><button{{if eq . "delete"}} class="danger"{{end}}>{{if eq . "cancel"}}Stop{{else}}{{title .}}{{end}}</button></form>{{end}}{{end}}
</div></div>
{{else}}<div>No printers</div>{{end}}
</div>
{{end}}

{{define "detail"}}
<fieldset><legend>{{.Printer.Name}} ({{.Display}})</legend>
<div>Moonraker: {{.Printer.MoonrakerURL}}</div>
{{if .Files}}<form method="post" action="/printers/{{.Printer.ID}}/start">
<select name="filename" required><option value="">Select a file</option>
{{range .Files}}<option value="{{.Path}}">{{.Name}} ({{size .Size}})</option>{{end}}</select>
<button>Start print</button></form>{{else}}<div>No printable files on this printer</div>{{end}}
<form method="post" action="/printers/{{.Printer.ID}}/upload" enctype="multipart/form-data">
<input type="file" name="file" required><button>Send to printer</button></form>
</fieldset>
{{end}}

{{define "files"}}
<fieldset><legend>Upload file</legend>
<form method="post" action="/files" enctype="multipart/form-data">
<input type="hidden" name="panel" value="files"><input type="file" name="file" required>
<input name="description" placeholder="Description"><button>Upload</button></form></fieldset>
<table><tr><th>Name</th><th>Type</th><th>Size</th><th>Uploaded</th><th>Description</th><th></th></tr>
{{range .Files}}<tr><td>{{.Name}}</td><td>{{.Type}}</td><td>{{size .Size}}</td><td>{{.Uploaded.Format "2006-01-02"}}</td><td>{{.Description}}</td>
<td><a href="/files/{{.ID}}/download?name={{.Name}}">Download</a>
<form class="inline" method="post" action="/files/{{.ID}}/delete"><input type="hidden" name="panel" value="files"><button class="danger">Delete</button></form></td></tr>
{{else}}<tr><td colspan="6">No files</td></tr>{{end}}</table>
{{end}}

{{define "jobs"}}
<fieldset><legend>Create job</legend>
<form method="post" action="/jobs"><input type="hidden" name="panel" value="jobs">
<input name="name" placeholder="Job name" required>
<select name="filename" required><option value="">Select a file</option>{{range .JobFiles}}<option value="{{.ID}}">{{.Name}}</option>{{end}}</select>
<input name="quantity" type="number" min="1" value="1" style="width:60px">
<select name="priority"><option value="low">Low</option><option value="normal" selected>Normal</option><option value="high">High</option></select>
<select name="material">{{range materials}}<option value="{{.}}">{{.}}</option>{{end}}</select>
<input name="estimated_time" placeholder="Estimated time">
<div>{{range .Printers}}<label><input type="checkbox" name="printers" value="{{.ID}}"> {{.Name}}</label> {{end}}</div>
<button>Create</button></form></fieldset>
<table><tr><th>ID</th><th>Name</th><th>Status</th><th>Progress</th><th>Priority</th><th>Printers</th><th>Created</th><th></th></tr>
{{range .Jobs}}<tr><td>{{.ID}}</td><td>{{.Name}}</td><td><span class="status {{.Status}}">{{title .Status}}</span></td><td>{{.Progress}}%</td><td>{{title .Priority}}</td><td>{{join .Printers ", "}}</td><td>{{.Created.Format "2006-01-02"}}</td>
<td>{{$id := .ID}}{{if or (eq .Status "pending") (eq .Status "paused")}}<form class="inline" method="post" action="/jobs/{{$id}}/start"><input type="hidden" name="panel" value="jobs"><button>Start</button></form>{{end}}
{{if eq .Status "running"}}<form class="inline" method="post" action="/jobs/{{$id}}/pause"><input type="hidden" name="panel" value="jobs"><button>Pause</button></form>{{end}}
{{if or (eq .Status "pending") (eq .Status "running") (eq .Status "paused")}}<form class="inline" method="post" action="/jobs/{{$id}}/cancel"><input type="hidden" name="panel" value="jobs"><button>Cancel</button></form>{{end}}
<form class="inline" method="post" action="/jobs/{{$id}}/delete"><input type="hidden" name="panel" value="jobs"><button class="danger">Delete</button></form>
<details><summary>Edit</summary>
<form method="post" action="/jobs/{{$id}}/edit"><input type="hidden" name="panel" value="jobs">
<input name="name" value="{{.Name}}" required> <input name="quantity" type="number" min="1" value="{{.Quantity}}" style="width:60px">
{{$p := .Priority}}<select name="priority">{{range priorities}}<option value="{{.}}"{{if eq . $p}} selected{{end}}>{{title .}}</option>{{end}}</select>
{{$m := .Material}}<select name="material">{{range materials}}<option value="{{.}}"{{if eq . $m}} selected{{end}}>{{.}}</option>{{end}}</select>
<button>Save</button></form>
<form method="post" action="/jobs/{{$id}}/progress"><input type="hidden" name="panel" value="jobs">
<input name="progress" type="number" min="0" max="100" value="{{.Progress}}" style="width:60px"><button>Set progress</button></form>
</details></td></tr>
{{else}}<tr><td colspan="8">No jobs</td></tr>{{end}}</table>
{{end}}

{{define "users"}}
<fieldset><legend>Add user</legend>
<form method="post" action="/users"><input type="hidden" name="panel" value="users">
<input name="name" placeholder="Name" required> <input name="email" type="email" placeholder="Email" required>
<select name="role"><option value="operator">Operator</option><option value="viewer">Viewer</option><option value="admin">Admin</option></select>
<button>Add</button></form></fieldset>
<table><tr><th>ID</th><th>Name</th><th>Email</th><th>Role</th><th></th></tr>
{{range .Users}}<tr><td>{{.ID}}</td><td>{{.Name}}</td><td>{{.Email}}</td><td>{{title .Role}}</td>
<td><details><summary>Edit</summary><form method="post" action="/users/{{.ID}}/edit"><input type="hidden" name="panel" value="users">
<input name="name" value="{{.Name}}" required> <input name="email" type="email" value="{{.Email}}" required>
{{$r := .Role}}<select name="role">{{range roles}}<option value="{{.}}"{{if eq . $r}} selected{{end}}>{{title .}}</option>{{end}}</select>
<button>Save</button></form></details>
<form class="inline" method="post" action="/users/{{.ID}}/delete"><input type="hidden" name="panel" value="users"><button class="danger">Delete</button></form></td></tr>
{{else}}<tr><td colspan="5">No users</td></tr>{{end}}</table>
{{end}}

{{define "reports"}}{{with .Report}}
<div class="counters">
<div class="counter">Printers <b>{{.Printers}}</b></div>
<div class="counter">Online <b>{{.Online}}</b></div>
<div class="counter">Printing <b>{{.Printing}}</b></div>
<div class="counter">Jobs <b>{{.Jobs}}</b></div>
</div>
<table><tr><th>Job status</th><th>Count</th></tr>{{range $k, $v := .JobStatus}}<tr><td>{{title $k}}</td><td>{{$v}}</td></tr>{{end}}</table>
<br>
<table><tr><th>Material</th><th>Prints</th></tr>{{range .Materials}}<tr><td>{{.Material}}</td><td>{{.Prints}}</td></tr>{{else}}<tr><td colspan="2">No jobs yet</td></tr>{{end}}</table>
{{else}}<div>Reports unavailable</div>{{end}}{{end}}

{{define "settings"}}{{with .Settings}}
<fieldset><legend>General</legend>
<form method="post" action="/settings/general"><input type="hidden" name="panel" value="settings">
<input name="system_name" value="{{.General.SystemName}}">
<input name="update_interval" type="number" min="1" max="3600" value="{{.General.UpdateInterval}}">
<input name="timezone" value="{{.General.Timezone}}"><button>Save</button></form></fieldset>
<fieldset><legend>Notifications</legend>
<form method="post" action="/settings/notifications"><input type="hidden" name="panel" value="settings">
<label><input type="checkbox" name="email"{{if .Notifications.Email}} checked{{end}}> Email</label>
<label><input type="checkbox" name="browser"{{if .Notifications.Browser}} checked{{end}}> Browser</label>
<input name="notification_email" type="email" value="{{.Notifications.NotificationEmail}}"><button>Save</button></form></fieldset>
<fieldset><legend>Security</legend>
<form method="post" action="/settings/security"><input type="hidden" name="panel" value="settings">
<input name="session_timeout" type="number" min="0" value="{{.Security.SessionTimeout}}">
<label><input type="checkbox" name="require_auth"{{if .Security.RequireAuth}} checked{{end}}> Require authentication</label>
<button>Save</button></form></fieldset>
{{end}}{{end}}
`
