package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/repositories"
)

const (
	minPasswordLength = 6
	maxPasswordLength = 128
	maxNameLength     = 100
)

var (
	emailPattern = regexp.MustCompile(`^[\w.-]+@([\w-]+\.)+[\w-]{2,4}$`)
	phonePattern = regexp.MustCompile(`^[0-9+()\-\s]{6,20}$`)
)

var (
	// ErrProfileInvalidInput indicates sign-up or profile input failed validation.
	ErrProfileInvalidInput = errors.New("account service: invalid input")
	// ErrProfileConflict indicates the email address is already registered.
	ErrProfileConflict = errors.New("account service: profile conflict")
	// ErrProfileNotFound indicates the caller has no profile row.
	ErrProfileNotFound = errors.New("account service: profile not found")
	// ErrProfileUnavailable indicates the identity provider or profile store failed.
	ErrProfileUnavailable = errors.New("account service: unavailable")
)

// SignUpCommand carries the registration form. GuestSessionID, when set, is merged into the new
// account.
type SignUpCommand struct {
	Email          string
	Password       string
	FirstName      string
	LastName       string
	IsSubscribed   bool
	GuestSessionID string
}

// SignUpResult returns the created profile and the outcome of merging the guest session.
type SignUpResult struct {
	Profile    Profile
	Transition TransitionReport
}

// AccountServiceDeps bundles constructor inputs for the account service.
type AccountServiceDeps struct {
	Profiles repositories.ProfileRepository
	Identity IdentityProvider
	Carts    CartManager
	Clock    func() time.Time
	Logger   func(context.Context, string, map[string]any)
}

type accountService struct {
	profiles repositories.ProfileRepository
	identity IdentityProvider
	carts    CartManager
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

var _ AccountService = (*accountService)(nil)

// NewAccountService wires dependencies into the account service.
func NewAccountService(deps AccountServiceDeps) (AccountService, error) {
	if deps.Profiles == nil {
		return nil, errors.New("account service: profile repository is required")
	}
	if deps.Identity == nil {
		return nil, errors.New("account service: identity provider is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("account service: cart manager is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &accountService{
		profiles: deps.Profiles,
		identity: deps.Identity,
		carts:    deps.Carts,
		clock:    func() time.Time { return clock().UTC() },
		logger:   logger,
	}, nil
}

// SignUp creates the identity account, then the profile row, then merges the guest session. A
// profile write failure deletes the identity account again.
func (s *accountService) SignUp(ctx context.Context, cmd SignUpCommand) (SignUpResult, error) {
	email := strings.ToLower(strings.TrimSpace(cmd.Email))
	first := strings.TrimSpace(cmd.FirstName)
	last := strings.TrimSpace(cmd.LastName)
	if !emailPattern.MatchString(email) {
		return SignUpResult{}, fmt.Errorf("%w: email is invalid", ErrProfileInvalidInput)
	}
	if n := utf8.RuneCountInString(cmd.Password); n < minPasswordLength || n > maxPasswordLength {
		return SignUpResult{}, fmt.Errorf("%w: password must be between %d and %d characters", ErrProfileInvalidInput, minPasswordLength, maxPasswordLength)
	}
	if err := validateName("first name", first); err != nil {
		return SignUpResult{}, err
	}
	if err := validateName("last name", last); err != nil {
		return SignUpResult{}, err
	}

	uid, err := s.identity.CreateUser(ctx, email, cmd.Password, first+" "+last)
	if err != nil {
		if errors.Is(err, ErrProfileConflict) {
			return SignUpResult{}, err
		}
		return SignUpResult{}, errors.Join(ErrProfileUnavailable, err)
	}

	now := s.clock()
	profile, err := s.profiles.Upsert(ctx, domain.Profile{
		ID:           uid,
		Email:        email,
		FirstName:    first,
		LastName:     last,
		IsSubscribed: cmd.IsSubscribed,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		if deleteErr := s.identity.DeleteUser(ctx, uid); deleteErr != nil {
			s.logger(ctx, "account.signup_rollback_failed", map[string]any{"userId": uid, "error": deleteErr.Error()})
		}
		return SignUpResult{}, translateProfileError(err)
	}

	report := s.carts.SignIn(ctx, uid, cmd.GuestSessionID)
	return SignUpResult{Profile: profile, Transition: report}, nil
}

func (s *accountService) Profile(ctx context.Context, userID string) (Profile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Profile{}, fmt.Errorf("%w: user id is required", ErrProfileInvalidInput)
	}
	profile, err := s.profiles.Get(ctx, userID)
	if err != nil {
		return Profile{}, translateProfileError(err)
	}
	return profile, nil
}

func (s *accountService) UpdateProfile(ctx context.Context, userID string, patch ProfilePatch) (Profile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Profile{}, fmt.Errorf("%w: user id is required", ErrProfileInvalidInput)
	}
	patch, err := normalizeProfilePatch(patch)
	if err != nil {
		return Profile{}, err
	}
	if patch.Empty() {
		return s.Profile(ctx, userID)
	}
	profile, err := s.profiles.Update(ctx, userID, patch)
	if err != nil {
		return Profile{}, translateProfileError(err)
	}
	return profile, nil
}

// SignOut snapshots the user's cart into the guest session and revokes their refresh tokens. The
// report is returned even when revocation fails.
func (s *accountService) SignOut(ctx context.Context, userID, guestSessionID string) (TransitionReport, error) {
	report := s.carts.SignOut(ctx, userID, guestSessionID)
	if report.UserID == "" {
		return report, fmt.Errorf("%w: user id is required", ErrProfileInvalidInput)
	}
	if err := s.identity.RevokeRefreshTokens(ctx, report.UserID); err != nil {
		return report, errors.Join(ErrProfileUnavailable, err)
	}
	return report, nil
}

func validateName(field, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s is required", ErrProfileInvalidInput, field)
	}
	if utf8.RuneCountInString(value) > maxNameLength {
		return fmt.Errorf("%w: %s is too long", ErrProfileInvalidInput, field)
	}
	return nil
}

func normalizeProfilePatch(patch ProfilePatch) (ProfilePatch, error) {
	if patch.FirstName != nil {
		v := strings.TrimSpace(*patch.FirstName)
		if err := validateName("first name", v); err != nil {
			return ProfilePatch{}, err
		}
		patch.FirstName = &v
	}
	if patch.LastName != nil {
		v := strings.TrimSpace(*patch.LastName)
		if err := validateName("last name", v); err != nil {
			return ProfilePatch{}, err
		}
		patch.LastName = &v
	}
	if patch.Phone != nil {
		v := strings.TrimSpace(*patch.Phone)
		if v != "" && !phonePattern.MatchString(v) {
			return ProfilePatch{}, fmt.Errorf("%w: phone is invalid", ErrProfileInvalidInput)
		}
		patch.Phone = &v
	}
	for _, field := range []**string{&patch.Gender, &patch.Address} {
		if *field != nil {
			v := strings.TrimSpace(**field)
			*field = &v
		}
	}
	return patch, nil
}

func translateProfileError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrProfileNotFound
		case repoErr.IsConflict():
			return ErrProfileConflict
		}
	}
	return errors.Join(ErrProfileUnavailable, err)
}
