package httpapi

import (
	"encoding/json"
	"html/template"
	"net/http"
	"strings"

	"github.com/overbridge/chatgate/internal/obs"
	"github.com/overbridge/chatgate/internal/resume"
	"github.com/overbridge/chatgate/internal/security"
)

type loginRequest struct {
	Challenge string `json:"challenge"`
	User      string `json:"user"`
	Password  string `json:"password"`
}

// handleLogin completes a pending challenge. An unknown token is 403 with
// no side effects; bad credentials are 401 and leave the pending entry
// intact so the same link can be retried; success consumes the entry and
// queues the captured dispatch for resumption.
func (r *router) handleLogin(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if !r.limiter.Allow() {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "too many login attempts"})
		return
	}

	var payload loginRequest
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	payload.Challenge = strings.TrimSpace(payload.Challenge)
	payload.User = strings.TrimSpace(payload.User)
	if payload.Challenge == "" || payload.User == "" || payload.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "challenge, user and password are required"})
		return
	}

	pending, ok := r.deps.Broker.Lookup(payload.Challenge)
	if !ok {
		obs.LoginAttempts.WithLabelValues("unknown_challenge").Inc()
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "unknown or expired challenge"})
		return
	}

	authenticated, err := r.deps.Security.AuthenticateUser(req.Context(), security.Candidate{
		User:        pending.User,
		MainframeID: payload.User,
		Secret:      payload.Password,
	})
	if err != nil {
		r.deps.Logger.Error("login failed to persist mapping", "user", pending.User.Name, "error", err)
		obs.LoginAttempts.WithLabelValues("error").Inc()
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if !authenticated {
		obs.LoginAttempts.WithLabelValues("failure").Inc()
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}

	consumed, ok := r.deps.Broker.Consume(payload.Challenge)
	if !ok {
		// A racing login for the same link won; the mapping is already
		// persisted, so report success without queuing a second resume.
		obs.LoginAttempts.WithLabelValues("success").Inc()
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	obs.PendingChallenges.Set(float64(r.deps.Broker.PendingCount()))
	obs.LoginAttempts.WithLabelValues("success").Inc()

	if _, err := r.deps.Resume.Enqueue(resume.Job{
		User: consumed.User.Name,
		Run:  consumed.Resume,
	}); err != nil {
		r.deps.Logger.Error("failed to queue dispatch resumption", "user", consumed.User.Name, "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

var loginPage = template.Must(template.New("login").Parse(`<!doctype html>
<html>
<head><title>Chatgate Login</title></head>
<body>
<h1>Log in to the mainframe</h1>
<form method="post" onsubmit="return submitLogin(event)">
  <label>Mainframe ID <input name="user" id="user"></label>
  <label>Password <input type="password" name="password" id="password"></label>
  <button type="submit">Log in</button>
</form>
<p id="result"></p>
<script>
async function submitLogin(event) {
  event.preventDefault();
  const response = await fetch("/api/v1/auth/login", {
    method: "POST",
    headers: {"Content-Type": "application/json"},
    body: JSON.stringify({
      challenge: {{.Challenge}},
      user: document.getElementById("user").value,
      password: document.getElementById("password").value,
    }),
  });
  document.getElementById("result").textContent =
    response.ok ? "Logged in. You can return to the chat." : "Login failed (" + response.status + ").";
  return false;
}
</script>
</body>
</html>
`))

// handleLoginPage serves the minimal form backing the challenge link.
func (r *router) handleLoginPage(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	token := strings.TrimSpace(req.URL.Query().Get("__key"))
	if token == "" {
		http.Error(w, "missing challenge key", http.StatusBadRequest)
		return
	}
	if _, ok := r.deps.Broker.Lookup(token); !ok {
		http.Error(w, "unknown or expired challenge", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := loginPage.Execute(w, map[string]string{"Challenge": token}); err != nil {
		r.deps.Logger.Error("failed to render login page", "error", err)
	}
}
