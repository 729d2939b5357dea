package server

import (
	"html/template"
	"net/http"
)

var successPage = template.Must(template.New("success").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="0;url={{.RedirectURL}}">
<title>Sign-in complete</title>
<style>
body { font-family: -apple-system, system-ui, sans-serif; display: flex; align-items: center; justify-content: center; height: 100vh; margin: 0; background: #f5f5f5; }
.card { background: #fff; border-radius: 8px; padding: 2rem 3rem; box-shadow: 0 1px 4px rgba(0,0,0,0.1); text-align: center; }
a { color: #3366cc; }
</style>
</head>
<body>
<div class="card">
<h1>Signed in</h1>
<p>Returning you to your application&hellip;</p>
<p><a href="{{.RedirectURL}}">Continue</a> if you are not redirected automatically.</p>
</div>
</body>
</html>
`))

var errorPage = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Sign-in failed</title>
<style>
body { font-family: -apple-system, system-ui, sans-serif; display: flex; align-items: center; justify-content: center; height: 100vh; margin: 0; background: #f5f5f5; }
.card { background: #fff; border-radius: 8px; padding: 2rem 3rem; box-shadow: 0 1px 4px rgba(0,0,0,0.1); text-align: center; max-width: 28rem; }
</style>
</head>
<body>
<div class="card">
<h1>Sign-in failed</h1>
<p>{{.Message}}</p>
</div>
</body>
</html>
`))

func (s *Server) renderSuccessPage(w http.ResponseWriter, redirectURL string) {
	w.Header().Set("Content-Type", contentTypeHTML)
	w.WriteHeader(http.StatusOK)
	// The target was validated against the loopback/allow-listed-scheme
	// rules at authorize time; marking it template.URL stops html/template
	// from mangling native client schemes to #ZgotmplZ in the href.
	if err := successPage.Execute(w, struct{ RedirectURL template.URL }{template.URL(redirectURL)}); err != nil {
		s.log.Error().Err(err).Msg("rendering success page failed")
	}
}

func (s *Server) renderErrorPage(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", contentTypeHTML)
	w.WriteHeader(http.StatusBadRequest)
	if err := errorPage.Execute(w, struct{ Message string }{message}); err != nil {
		s.log.Error().Err(err).Msg("rendering error page failed")
	}
}
