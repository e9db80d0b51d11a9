package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/hanko-field/storefront/internal/platform/config"
	"github.com/hanko-field/storefront/internal/services"
)

// adminClient is the subset of the Admin SDK auth client used by the storefront.
type adminClient interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
	GetUser(ctx context.Context, uid string) (*firebaseauth.UserRecord, error)
	CreateUser(ctx context.Context, user *firebaseauth.UserToCreate) (*firebaseauth.UserRecord, error)
	DeleteUser(ctx context.Context, uid string) error
	RevokeRefreshTokens(ctx context.Context, uid string) error
}

// FirebaseClient verifies ID tokens and manages shopper accounts through the Admin SDK.
type FirebaseClient struct {
	client  adminClient
	timeout time.Duration
}

var (
	_ TokenVerifier             = (*FirebaseClient)(nil)
	_ UserGetter                = (*FirebaseClient)(nil)
	_ services.IdentityProvider = (*FirebaseClient)(nil)
)

// NewFirebaseClient constructs a FirebaseClient backed by the Admin SDK.
func NewFirebaseClient(ctx context.Context, cfg config.FirebaseConfig) (*FirebaseClient, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firebase project id is required")
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase app: %w", err)
	}

	authClient, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase auth client: %w", err)
	}
	return newFirebaseClient(authClient), nil
}

func newFirebaseClient(client adminClient) *FirebaseClient {
	return &FirebaseClient{client: client, timeout: defaultVerifyTimeout}
}

var errClientNotReady = errors.New("auth: firebase client not initialised")

// bounded applies the Admin SDK call timeout and refuses to run on a zero client.
func (c *FirebaseClient) bounded(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if c == nil || c.client == nil {
		return nil, nil, errClientNotReady
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	return ctx, cancel, nil
}

func (c *FirebaseClient) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	ctx, cancel, err := c.bounded(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return c.client.VerifyIDToken(ctx, idToken)
}

func (c *FirebaseClient) GetUser(ctx context.Context, uid string) (*firebaseauth.UserRecord, error) {
	ctx, cancel, err := c.bounded(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return c.client.GetUser(ctx, uid)
}

// CreateUser registers an email and password account and returns its uid. An address that is
// already registered reports services.ErrProfileConflict.
func (c *FirebaseClient) CreateUser(ctx context.Context, email, password, displayName string) (string, error) {
	ctx, cancel, err := c.bounded(ctx)
	if err != nil {
		return "", err
	}
	defer cancel()

	params := (&firebaseauth.UserToCreate{}).Email(email).Password(password)
	if displayName != "" {
		params = params.DisplayName(displayName)
	}
	record, err := c.client.CreateUser(ctx, params)
	switch {
	case firebaseauth.IsEmailAlreadyExists(err):
		return "", fmt.Errorf("%w: email already registered", services.ErrProfileConflict)
	case err != nil:
		return "", fmt.Errorf("firebase create user: %w", err)
	}
	return record.UID, nil
}

// DeleteUser removes the account. An unknown uid counts as already deleted.
func (c *FirebaseClient) DeleteUser(ctx context.Context, uid string) error {
	ctx, cancel, err := c.bounded(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	if err := c.client.DeleteUser(ctx, uid); err != nil && !firebaseauth.IsUserNotFound(err) {
		return fmt.Errorf("firebase delete user: %w", err)
	}
	return nil
}

// RevokeRefreshTokens signs the user out on every device.
func (c *FirebaseClient) RevokeRefreshTokens(ctx context.Context, uid string) error {
	ctx, cancel, err := c.bounded(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	if err := c.client.RevokeRefreshTokens(ctx, uid); err != nil {
		return fmt.Errorf("firebase revoke tokens: %w", err)
	}
	return nil
}
