package scm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ManuelReschke/DocFox/app/repository"
	"github.com/ManuelReschke/DocFox/internal/pkg/config"
	"github.com/ManuelReschke/DocFox/internal/pkg/resilience"
	"github.com/ManuelReschke/DocFox/internal/pkg/security"
)

var ErrNoToken = errors.New("no source control token for user")

// UserProvider builds a GitHub client from the user's stored OAuth token,
// falling back to the service token.
type UserProvider struct {
	users      repository.UserRepository
	box        *security.SecretBox
	cfg        config.GitHub
	breaker    resilience.Breaker
	httpClient *http.Client
}

func NewUserProvider(users repository.UserRepository, box *security.SecretBox, cfg config.GitHub) *UserProvider {
	return &UserProvider{
		users:   users,
		box:     box,
		cfg:     cfg,
		breaker: NewBreaker(),
	}
}

func (p *UserProvider) ForUser(ctx context.Context, userID uint) (Client, error) {
	user, err := p.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user %d: %w", userID, err)
	}

	token := p.cfg.Token
	if user.GithubTokenEnc != "" {
		if token, err = p.box.Decrypt(user.GithubTokenEnc); err != nil {
			return nil, fmt.Errorf("decrypt token for user %d: %w", userID, err)
		}
	}
	if token == "" {
		return nil, ErrNoToken
	}

	return NewGitHub(token, Options{
		BaseURL:           p.cfg.BaseURL,
		HTTPClient:        p.httpClient,
		RequestsPerMinute: 600,
		MaxRetries:        2,
		Breaker:           p.breaker,
	})
}
