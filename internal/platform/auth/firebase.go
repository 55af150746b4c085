package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/platform/config"
)

const defaultProvisionTimeout = 5 * time.Second

// UserAdmin is the subset of the Firebase Admin auth client used to provision identities.
type UserAdmin interface {
	CreateUser(ctx context.Context, user *firebaseauth.UserToCreate) (*firebaseauth.UserRecord, error)
	GetUserByEmail(ctx context.Context, email string) (*firebaseauth.UserRecord, error)
}

// IdentityProvisioner creates Firebase sign-in identities for accounts registered during checkout
// so the customer can later log in with an OTP on their phone.
type IdentityProvisioner struct {
	users   UserAdmin
	timeout time.Duration
}

// FirebaseOption customises IdentityProvisioner instances.
type FirebaseOption func(*IdentityProvisioner)

// WithFirebaseTimeout overrides the timeout used for Admin SDK calls.
func WithFirebaseTimeout(d time.Duration) FirebaseOption {
	return func(p *IdentityProvisioner) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// NewFirebaseIdentityProvisioner initialises the Admin SDK for the configured project.
func NewFirebaseIdentityProvisioner(ctx context.Context, cfg config.FirebaseConfig, opts ...FirebaseOption) (*IdentityProvisioner, error) {
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
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase auth client: %w", err)
	}
	return NewIdentityProvisioner(client, opts...), nil
}

// NewIdentityProvisioner wraps an existing admin client.
func NewIdentityProvisioner(users UserAdmin, opts ...FirebaseOption) *IdentityProvisioner {
	p := &IdentityProvisioner{users: users, timeout: defaultProvisionTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// ProvisionIdentity creates the Firebase user for customer and returns its uid. An existing user
// with the same email is reused.
func (p *IdentityProvisioner) ProvisionIdentity(ctx context.Context, customer domain.Customer, phone string) (string, error) {
	if p == nil || p.users == nil {
		return "", errors.New("firebase identity provisioner not initialised")
	}
	email := strings.ToLower(strings.TrimSpace(customer.Email))
	if email == "" {
		return "", errors.New("firebase identity: customer email is required")
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	params := (&firebaseauth.UserToCreate{}).Email(email).EmailVerified(false)
	if name := strings.TrimSpace(customer.DisplayName); name != "" {
		params = params.DisplayName(name)
	}
	if e164 := IndianE164(phone); e164 != "" {
		params = params.PhoneNumber(e164)
	}

	record, err := p.users.CreateUser(ctx, params)
	switch {
	case err == nil:
		return record.UID, nil
	case firebaseauth.IsEmailAlreadyExists(err):
		existing, lookupErr := p.users.GetUserByEmail(ctx, email)
		if lookupErr != nil {
			return "", fmt.Errorf("firebase identity: lookup existing user: %w", lookupErr)
		}
		return existing.UID, nil
	case firebaseauth.IsPhoneNumberAlreadyExists(err):
		// The phone belongs to another account; register by email only.
		retry := (&firebaseauth.UserToCreate{}).Email(email).EmailVerified(false)
		if name := strings.TrimSpace(customer.DisplayName); name != "" {
			retry = retry.DisplayName(name)
		}
		record, err = p.users.CreateUser(ctx, retry)
		if err != nil {
			return "", fmt.Errorf("firebase identity: create user: %w", err)
		}
		return record.UID, nil
	default:
		return "", fmt.Errorf("firebase identity: create user: %w", err)
	}
}

// IndianE164 formats a 10 digit Indian mobile number (optionally prefixed with 0, 91 or +91) as
// E.164. Anything else yields an empty string.
func IndianE164(phone string) string {
	digits := make([]byte, 0, len(phone))
	for i := 0; i < len(phone); i++ {
		if phone[i] >= '0' && phone[i] <= '9' {
			digits = append(digits, phone[i])
		}
	}
	number := string(digits)
	switch {
	case len(number) == 12 && strings.HasPrefix(number, "91"):
		number = number[2:]
	case len(number) == 11 && strings.HasPrefix(number, "0"):
		number = number[1:]
	}
	if len(number) != 10 || number[0] < '6' {
		return ""
	}
	return "+91" + number
}
