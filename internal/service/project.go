package service

import (
	"context"
	"strings"

	"ingest-service/internal/enrichment"
	"ingest-service/internal/models"
)

// ProjectAuthenticator resolves the public API key sent with every tracking
// call and enforces the project's domain lock.
type ProjectAuthenticator struct {
	store ProjectStore
}

func NewProjectAuthenticator(store ProjectStore) *ProjectAuthenticator {
	return &ProjectAuthenticator{store: store}
}

// Authenticate returns the active project for apiKey. origin is the Origin
// header, falling back to Referer; when it is empty no domain check is made.
func (a *ProjectAuthenticator) Authenticate(ctx context.Context, apiKey, origin string) (*models.Project, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrInvalidAPIKey
	}

	project, err := a.store.GetByPublicKey(ctx, apiKey)
	if err != nil {
		return nil, stageErr(StageProject, err)
	}
	if project == nil {
		return nil, ErrInvalidAPIKey
	}

	if !DomainAllowed(project.AllowedDomain, origin) {
		return nil, ErrDomainNotAllowed
	}
	return project, nil
}

// DomainAllowed reports whether origin's host is allowedDomain or one of
// its subdomains. A leading "www." is ignored on both sides. An empty
// allowedDomain or origin is always allowed.
func DomainAllowed(allowedDomain, origin string) bool {
	allowed := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(allowedDomain)), "www.")
	if allowed == "" || strings.TrimSpace(origin) == "" {
		return true
	}
	host := enrichment.NormalizeHost(origin)
	if host == "" {
		return false
	}
	return host == allowed || strings.HasSuffix(host, "."+allowed)
}
