package gmail

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Scopes required to ingest messages and manage labels.
var Scopes = []string{
	"https://www.googleapis.com/auth/gmail.modify",
	"https://www.googleapis.com/auth/gmail.insert",
	"https://www.googleapis.com/auth/gmail.labels",
}

const (
	redirectPort = "8089"
	callbackPath = "/callback"
)

// Authorizer handles the OAuth2 consent flow and token persistence.
type Authorizer struct {
	config    *oauth2.Config
	tokenPath string
	logger    *slog.Logger
}

// NewAuthorizer reads Google client credentials JSON and prepares an
// authorizer that stores its token at tokenPath.
func NewAuthorizer(credentialsPath, tokenPath string, logger *slog.Logger) (*Authorizer, error) {
	data, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	config, err := google.ConfigFromJSON(data, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Authorizer{config: config, tokenPath: tokenPath, logger: logger}, nil
}

// TokenSource returns an auto-refreshing token source backed by the stored
// token, running the browser consent flow when no token exists. Refreshed
// tokens are persisted.
func (a *Authorizer) TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	token, err := a.loadToken()
	if err != nil {
		a.logger.Info("no stored token, starting authorization flow")
		token, err = a.browserFlow(ctx)
		if err != nil {
			return nil, err
		}
		if err := a.saveToken(token); err != nil {
			return nil, fmt.Errorf("save token: %w", err)
		}
	}
	return &persistingTokenSource{
		inner: a.config.TokenSource(ctx, token),
		auth:  a,
		last:  token.AccessToken,
	}, nil
}

// persistingTokenSource writes the token back to disk whenever the access
// token changes, so refresh tokens survive process restarts.
type persistingTokenSource struct {
	inner oauth2.TokenSource
	auth  *Authorizer
	last  string
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	token, err := p.inner.Token()
	if err != nil {
		return nil, err
	}
	if token.AccessToken != p.last {
		p.last = token.AccessToken
		if err := p.auth.saveToken(token); err != nil {
			p.auth.logger.Warn("failed to persist refreshed token", "error", err)
		}
	}
	return token, nil
}

// browserFlow runs the local-callback authorization: start a loopback HTTP
// server, open the consent URL, exchange the returned code.
func (a *Authorizer) browserFlow(ctx context.Context) (*oauth2.Token, error) {
	stateBytes := make([]byte, 16)
	if _, err := rand.Read(stateBytes); err != nil {
		return nil, fmt.Errorf("generate state: %w", err)
	}
	state := base64.URLEncoding.EncodeToString(stateBytes)

	codeChan := make(chan string, 1)
	errChan := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("state") != state {
			errChan <- fmt.Errorf("state mismatch in OAuth callback")
			fmt.Fprint(w, "Error: state mismatch")
			return
		}
		code := r.URL.Query().Get("code")
		if code == "" {
			errChan <- fmt.Errorf("no authorization code in callback")
			fmt.Fprint(w, "Error: no authorization code received")
			return
		}
		codeChan <- code
		fmt.Fprint(w, "Authorization successful! You can close this window.")
	})
	server := &http.Server{Addr: "localhost:" + redirectPort, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			errChan <- err
		}
	}()
	defer func() { _ = server.Shutdown(ctx) }()

	a.config.RedirectURL = "http://localhost:" + redirectPort + callbackPath
	authURL := a.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)

	fmt.Printf("Opening browser for authorization...\n")
	fmt.Printf("If the browser does not open, visit:\n%s\n\n", authURL)
	if err := openBrowser(authURL); err != nil {
		a.logger.Warn("failed to open browser", "error", err)
	}

	select {
	case code := <-codeChan:
		return a.config.Exchange(ctx, code)
	case err := <-errChan:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *Authorizer) loadToken() (*oauth2.Token, error) {
	data, err := os.ReadFile(a.tokenPath)
	if err != nil {
		return nil, err
	}
	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, err
	}
	return &token, nil
}

func (a *Authorizer) saveToken(token *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(a.tokenPath), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(a.tokenPath, data, 0600)
}

// openBrowser opens the default browser to the given URL.
func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
	return cmd.Start()
}
