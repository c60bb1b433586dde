package oauth

import (
	"fmt"
	"html/template"
	"net/http"
)

type loginPageData struct {
	ClientID            string
	ClientName          string
	RedirectURI         string
	ResponseType        string
	State               string
	Scope               string
	CodeChallenge       string
	CodeChallengeMethod string
	Error               string
}

const loginPageHTML = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Sign in</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; background: #f4f5f7; display: flex; align-items: center; justify-content: center; min-height: 100vh; margin: 0; }
        .card { background: white; border-radius: 10px; box-shadow: 0 6px 24px rgba(0,0,0,0.12); padding: 32px; width: 100%; max-width: 380px; }
        h1 { font-size: 22px; margin: 0 0 6px; text-align: center; }
        .client { color: #666; text-align: center; margin-bottom: 20px; font-size: 14px; }
        .scope { color: #444; font-size: 13px; margin-bottom: 16px; }
        .error { background: #fee; border: 1px solid #fcc; color: #c00; padding: 10px; border-radius: 6px; margin-bottom: 16px; font-size: 14px; }
        label { display: block; margin-bottom: 4px; font-size: 14px; }
        input[type="text"], input[type="password"] { width: 100%; box-sizing: border-box; padding: 10px 12px; border: 1px solid #ccc; border-radius: 6px; margin-bottom: 14px; font-size: 15px; }
        button { width: 100%; padding: 12px; background: #f6821f; color: white; border: none; border-radius: 6px; font-size: 15px; cursor: pointer; }
    </style>
</head>
<body>
    <div class="card">
        <h1>FlowMCP</h1>
        {{if .ClientName}}<p class="client">Sign in to continue to {{.ClientName}}</p>{{else}}<p class="client">Sign in to continue</p>{{end}}
        {{if .Scope}}<p class="scope">Requested permissions: {{.Scope}}</p>{{end}}
        {{if .Error}}<div class="error">{{.Error}}</div>{{end}}
        <form method="POST">
            <input type="hidden" name="client_id" value="{{.ClientID}}">
            <input type="hidden" name="redirect_uri" value="{{.RedirectURI}}">
            <input type="hidden" name="response_type" value="{{.ResponseType}}">
            <input type="hidden" name="state" value="{{.State}}">
            <input type="hidden" name="scope" value="{{.Scope}}">
            <input type="hidden" name="code_challenge" value="{{.CodeChallenge}}">
            <input type="hidden" name="code_challenge_method" value="{{.CodeChallengeMethod}}">
            <label for="username">Username</label>
            <input type="text" id="username" name="username" required autofocus>
            <label for="password">Password</label>
            <input type="password" id="password" name="password" required>
            <button type="submit">Sign in</button>
        </form>
    </div>
</body>
</html>`

var loginPageTemplate = template.Must(template.New("login").Parse(loginPageHTML))

func (p *Provider) renderLoginPage(w http.ResponseWriter, status int, data *loginPageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := loginPageTemplate.Execute(w, data); err != nil {
		p.logger.Warn("render login page", "err", err)
	}
}

func (p *Provider) renderLoginError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusBadRequest)
	_, err := fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>Error</title></head>
<body>
<h1>Error</h1>
<p>%s</p>
</body>
</html>`, template.HTMLEscapeString(message))
	if err != nil {
		p.logger.Warn("write login error", "err", err)
	}
}
