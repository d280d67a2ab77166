package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
	identitytoolkit "google.golang.org/api/identitytoolkit/v1"
	"google.golang.org/api/option"

	"taskboard-api/domain"
)

// APITimeout is the timeout for admin API calls.
const APITimeout = 10 * time.Second

var adminScopes = []string{
	identitytoolkit.CloudPlatformScope,
	identitytoolkit.FirebaseScope,
}

// AdminConfig holds the service account used for user management. Endpoint
// overrides the Identity Toolkit base URL.
type AdminConfig struct {
	ProjectID   string
	ClientEmail string
	PrivateKey  string
	Endpoint    string
}

// Admin creates and deletes Firebase users.
type Admin struct {
	svc       *identitytoolkit.Service
	projectID string
}

// NewAdmin authenticates as the configured service account.
func NewAdmin(ctx context.Context, cfg AdminConfig) (*Admin, error) {
	conf := &jwt.Config{
		Email:      cfg.ClientEmail,
		PrivateKey: []byte(cfg.PrivateKey),
		Scopes:     adminScopes,
		TokenURL:   google.JWTTokenURL,
	}
	opts := []option.ClientOption{option.WithTokenSource(conf.TokenSource(ctx))}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	svc, err := identitytoolkit.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("identity admin client: %w", err)
	}
	return &Admin{svc: svc, projectID: cfg.ProjectID}, nil
}

// NewAdminWithHTTPClient creates an admin with a custom HTTP client (for testing).
func NewAdminWithHTTPClient(ctx context.Context, projectID, endpoint string, client *http.Client) (*Admin, error) {
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	svc, err := identitytoolkit.NewService(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &Admin{svc: svc, projectID: projectID}, nil
}

// CreateUser implements domain.IdentityAdmin.
func (a *Admin) CreateUser(ctx context.Context, in domain.NewIdentity) (domain.IdentityRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, APITimeout)
	defer cancel()

	resp, err := a.svc.Projects.Accounts(a.projectID, &identitytoolkit.GoogleCloudIdentitytoolkitV1SignUpRequest{
		Email:       in.Email,
		Password:    in.Password,
		DisplayName: in.DisplayName,
	}).Context(ctx).Do()
	if err != nil {
		return domain.IdentityRecord{}, fmt.Errorf("create user: %w", err)
	}
	if resp.LocalId == "" {
		return domain.IdentityRecord{}, errors.New("create user: empty uid in response")
	}
	return domain.IdentityRecord{UID: resp.LocalId, Email: resp.Email, DisplayName: resp.DisplayName}, nil
}

// DeleteUser implements domain.IdentityAdmin.
func (a *Admin) DeleteUser(ctx context.Context, uid string) error {
	ctx, cancel := context.WithTimeout(ctx, APITimeout)
	defer cancel()

	_, err := a.svc.Projects.Accounts_.Delete(a.projectID, &identitytoolkit.GoogleCloudIdentitytoolkitV1DeleteAccountRequest{
		LocalId: uid,
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("delete user %s: %w", uid, err)
	}
	return nil
}
