package mail

import (
	"bytes"
	"html/template"
)

var docUpdateTmpl = template.Must(template.New("doc_update").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; color: #222;">
  <h2>Documentation updated for {{.RepoName}}</h2>
  <p>{{.Summary}}</p>
  <p><strong>Coverage:</strong> <span style="color: {{.CoverageColor}};">{{printf "%.0f" .CoverageScore}}%</span></p>
  {{if .Changes}}
  <h3>Changed files</h3>
  <ul>
    {{range .Changes}}<li><code>{{.File}}</code>{{if .Reason}}: {{.Reason}}{{end}}</li>
    {{end}}
  </ul>
  {{end}}
  {{if .DiffPreview}}
  <h3>Preview</h3>
  <pre style="background: #f6f8fa; padding: 12px; overflow-x: auto;">{{.DiffPreview}}</pre>
  {{end}}
  {{if .URL}}<p><a href="{{.URL}}">View the change</a></p>{{end}}
  {{if .JobID}}<p style="color: #888; font-size: 12px;">Job {{.JobID}}</p>{{end}}
</body>
</html>`))

var errorTmpl = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; color: #222;">
  <h2>Documentation update failed</h2>
  <p>We could not update the documentation for <strong>{{.RepoName}}</strong>.</p>
  <p><strong>Error:</strong> {{.Error}}</p>
  {{if .JobID}}<p><strong>Job ID:</strong> {{.JobID}}</p>{{end}}
  <p>Please check the repository settings or contact support if this keeps happening.</p>
</body>
</html>`))

var lowCreditsTmpl = template.Must(template.New("low_credits").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; color: #222;">
  <h2>Low credits</h2>
  <p>Your DocFox account is running low on credits.</p>
  <p><strong>Current balance:</strong> {{.Balance}}</p>
  <p>Top up your account to keep documentation updates running.</p>
</body>
</html>`))

func coverageColor(score float64) string {
	switch {
	case score >= 80:
		return "green"
	case score >= 50:
		return "orange"
	}
	return "red"
}

func renderDocUpdate(d DocUpdate) (string, error) {
	var buf bytes.Buffer
	err := docUpdateTmpl.Execute(&buf, struct {
		DocUpdate
		CoverageColor string
	}{d, coverageColor(d.CoverageScore)})
	return buf.String(), err
}

func renderError(repoName, errMsg, jobID string) (string, error) {
	var buf bytes.Buffer
	err := errorTmpl.Execute(&buf, map[string]string{"RepoName": repoName, "Error": errMsg, "JobID": jobID})
	return buf.String(), err
}

func renderLowCredits(balance int64) (string, error) {
	var buf bytes.Buffer
	err := lowCreditsTmpl.Execute(&buf, map[string]int64{"Balance": balance})
	return buf.String(), err
}
