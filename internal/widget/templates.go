package widget

import "html/template"

var scriptTmpl = template.Must(template.New("script").Parse(
	`<script src="{{.}}" async defer></script>
`))

var consentTmpl = template.Must(template.New("consent").Parse(
	`<div class="cf_comply_box{{if .Granted}} cf_comply_box_active{{end}}"><label class="cf_comply_checkbox_label"><input type="checkbox"{{if .Granted}} checked{{end}} onchange="turnstileComplyChanged(event)"></label> <span>{{.Message}}</span></div>
<script>
function turnstileComplyChanged(e) {
	var c = {{.Cookie}};
	if (e.target.checked) {
		document.cookie = c + "=" + {{.Value}} + "; path=/; SameSite=Lax";
		if (!window.turnstile) {
			var s = document.createElement("script");
			s.src = {{.Script}};
			s.async = true;
			document.head.appendChild(s);
		}
	} else {
		document.cookie = c + "=; path=/; max-age=0";
	}
	e.target.closest(".cf_comply_box").classList.toggle("cf_comply_box_active", e.target.checked);
}
</script>
`))

var widgetTmpl = template.Must(template.New("widget").Parse(
	`<div id="{{.ID}}" class="cf-turnstile"{{if .Callback}} data-callback="{{.Callback}}"{{end}} data-sitekey="{{.SiteKey}}" data-theme="{{.Theme}}" data-language="{{.Language}}" data-retry="auto" data-retry-interval="{{.RetryInterval}}" data-action="{{.Action}}"></div>
{{- if .SubmitSelector}}
<style>{{.SubmitSelector}} { pointer-events: none; opacity: 0.5; }</style>
<script>
window[{{.Callback}}] = function () {
	document.querySelectorAll({{.SelectorText}}).forEach(function (el) {
		el.style.pointerEvents = "auto";
		el.style.opacity = "1";
	});
};
</script>
{{- end}}
`))

var rerenderTmpl = template.Must(template.New("rerender").Parse(
	`<script>
document.addEventListener("DOMContentLoaded", function () {
	var id = {{.ID}};
	var e = document.getElementById(id);
	setTimeout(function () {
		if (e && e.innerHTML.length <= 1 && window.turnstile) {
			turnstile.remove("#" + id);
			turnstile.render("#" + id, {sitekey: {{.SiteKey}}});
		}
	}, 200);
});
</script>
`))

type consentData struct {
	Granted bool
	Message template.HTML
	Cookie  string
	Value   string
	Script  string
}

type widgetData struct {
	ID             string
	Callback       string
	SiteKey        string
	Theme          Theme
	Language       string
	RetryInterval  int
	Action         string
	SubmitSelector template.CSS
	SelectorText   string
}
