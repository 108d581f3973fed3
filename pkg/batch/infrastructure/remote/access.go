package remote

import (
	"context"
	"net/http"
	"sync"
	"time"

	config "github.com/tigerroll/cirrusbatch/pkg/batch/core/config"
	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/cirrusbatch/pkg/batch/core/state"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/logger"
)

// tokenResponse is the body returned by the token endpoint.
type tokenResponse struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	TokenType    string  `json:"token_type"`
	ExpiresIn    float64 `json:"expires_in"`
}

// AccessManager obtains access tokens and publishes them to the shared state,
// so that every worker, and every process sharing the store, uses the same
// session. Concurrent refreshes are tolerated: the last writer wins.
type AccessManager struct {
	client  *Client
	shared  *state.SharedState
	authURL string
	auth    config.AuthConfig
	skew    time.Duration

	mu sync.Mutex
}

var _ TokenSource = (*AccessManager)(nil)

// NewAccessManager creates an AccessManager. client must not authenticate its
// own requests; the token endpoint is called with basic client credentials.
func NewAccessManager(client *Client, shared *state.SharedState, authURL string, auth config.AuthConfig, skew time.Duration) *AccessManager {
	return &AccessManager{client: client, shared: shared, authURL: authURL, auth: auth, skew: skew}
}

// Token returns the shared access token, refreshing it when it expires within the skew.
func (m *AccessManager) Token(ctx context.Context) (string, error) {
	if m.auth.Token != "" {
		return m.auth.Token, nil
	}
	session, err := m.shared.AccessSession(ctx)
	if err != nil {
		return "", err
	}
	if !session.IsExpiring(m.skew) {
		return session.AccessToken, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Another worker may have refreshed while this one waited.
	if session, err = m.shared.AccessSession(ctx); err != nil {
		return "", err
	}
	if !session.IsExpiring(m.skew) {
		return session.AccessToken, nil
	}
	session, err = m.Refresh(ctx)
	if err != nil {
		return "", err
	}
	return session.AccessToken, nil
}

// Invalidate drops the shared session so that the next Token call refreshes it.
func (m *AccessManager) Invalidate(ctx context.Context) {
	if m.auth.Token != "" {
		return
	}
	if err := m.shared.PutAccessSession(ctx, &model.AccessSession{}); err != nil {
		logger.Warnf("remote: failed to invalidate the access session: %v", err)
	}
}

// Refresh requests a new token and publishes it.
// The password grant is used when a user is configured, the client credentials grant otherwise.
func (m *AccessManager) Refresh(ctx context.Context) (*model.AccessSession, error) {
	form := map[string]string{"grant_type": "client_credentials"}
	if m.auth.User != "" {
		form = map[string]string{
			"grant_type": "password",
			"username":   m.auth.User,
			"password":   m.auth.Password,
		}
	} else if m.auth.ClientID == "" {
		return nil, exception.NewBatchErrorf(moduleName, "no credentials are configured: set either a token, a user and password, or a client id and secret")
	}

	resp, err := m.client.do(ctx, request{
		method:    http.MethodPost,
		path:      m.authURL,
		headers:   map[string]string{"Accept": MediaTypeJSON, "Content-Type": MediaTypeForm},
		form:      form,
		basicAuth: []string{m.auth.ClientID, m.auth.ClientSecret},
	})
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to get an access token", err, false, false)
	}
	var token tokenResponse
	if err := decode(resp, &token); err != nil {
		return nil, err
	}
	if token.AccessToken == "" {
		return nil, exception.NewBatchErrorf(moduleName, "the token endpoint returned no access token")
	}

	now := time.Now()
	session := &model.AccessSession{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		IssuedAt:     now,
	}
	if token.ExpiresIn > 0 {
		session.ExpiresAt = now.Add(time.Duration(token.ExpiresIn * float64(time.Second)))
	}
	if err := m.shared.PutAccessSession(ctx, session); err != nil {
		return nil, err
	}
	logger.Debugf("remote: obtained a new access token, expiring at %s.", session.ExpiresAt.Format(time.RFC3339))
	return session, nil
}

// Monitor keeps the shared session fresh until ctx is done. It refreshes the
// token the skew before it expires. A static token needs no monitoring.
func (m *AccessManager) Monitor(ctx context.Context) error {
	if m.auth.Token != "" {
		return nil
	}
	logger.Infof("Starting access monitoring.")
	for {
		if _, err := m.Token(ctx); err != nil {
			if ctx.Err() != nil {
				logger.Infof("Ending access monitoring due to shutdown.")
				return nil
			}
			logger.Errorf("Ending access monitoring due to error: %v", err)
			return err
		}
		session, err := m.shared.AccessSession(ctx)
		if err != nil {
			return err
		}
		wait := time.Minute
		if session != nil && !session.ExpiresAt.IsZero() {
			wait = session.ExpiresIn() - m.skew
		}
		if wait < time.Second {
			wait = time.Second
		}
		logger.Debugf("Waiting to refresh access in %s.", wait.Round(time.Second))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Infof("Ending access monitoring due to shutdown.")
			return nil
		case <-timer.C:
		}
	}
}
