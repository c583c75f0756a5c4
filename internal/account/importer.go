package account

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ImportInput is one account as supplied by an import file, the CLI or the
// admin API.
type ImportInput struct {
	Email        string           `json:"email" validate:"required,email"`
	Nickname     string           `json:"nickname,omitempty"`
	Provider     IdentityProvider `json:"provider" validate:"omitempty,oneof=BuilderId Enterprise Google Github"`
	UserID       string           `json:"user_id,omitempty"`
	AuthMethod   AuthMethod       `json:"auth_method" validate:"required,oneof=IdC social"`
	AccessToken  string           `json:"access_token" validate:"required"`
	RefreshToken string           `json:"refresh_token,omitempty"`
	ClientID     string           `json:"client_id,omitempty" validate:"required_if=AuthMethod IdC"`
	ClientSecret string           `json:"client_secret,omitempty" validate:"required_if=AuthMethod IdC"`
	Region       string           `json:"region,omitempty"`
	ExpiresAt    time.Time        `json:"expires_at,omitempty"`
	ProfileARN   string           `json:"profile_arn,omitempty"`
	GroupID      string           `json:"group_id,omitempty"`
	TagIDs       []string         `json:"tag_ids,omitempty"`
}

// Record returns the credential part of the input.
func (in ImportInput) Record() CredentialRecord {
	return CredentialRecord{
		AuthMethod:   in.AuthMethod,
		AccessToken:  in.AccessToken,
		RefreshToken: in.RefreshToken,
		ClientID:     in.ClientID,
		ClientSecret: in.ClientSecret,
		Region:       in.Region,
		ExpiresAt:    in.ExpiresAt,
		ProfileARN:   in.ProfileARN,
	}
}

// ExportInput is the inverse of Add, used by the export endpoint.
func ExportInput(a Account) ImportInput {
	rec := RecordOf(a.Credentials)
	return ImportInput{
		Email:        a.Email,
		Nickname:     a.Nickname,
		Provider:     a.Provider,
		UserID:       a.UserID,
		AuthMethod:   rec.AuthMethod,
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		ClientID:     rec.ClientID,
		ClientSecret: rec.ClientSecret,
		Region:       rec.Region,
		ExpiresAt:    rec.ExpiresAt,
		ProfileARN:   rec.ProfileARN,
		GroupID:      a.GroupID,
		TagIDs:       a.TagIDs,
	}
}

// Add validates in and appends a new account. An email already present in
// the registry is rejected with ErrDuplicate.
func (r *Registry) Add(in ImportInput) (Account, error) {
	acc, err := r.build(in)
	if err != nil {
		return Account{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if acc.GroupID != "" {
		if _, ok := r.groups[acc.GroupID]; !ok {
			acc.GroupID = ""
		}
	}
	var tags []string
	for _, t := range acc.TagIDs {
		if _, ok := r.tags[t]; ok {
			tags = append(tags, t)
		}
	}
	acc.TagIDs = tags
	if err := r.insertLocked(acc); err != nil {
		return Account{}, err
	}
	return acc.Clone(), nil
}

func (r *Registry) build(in ImportInput) (Account, error) {
	in.Email = strings.TrimSpace(in.Email)
	if err := validate.Struct(in); err != nil {
		return Account{}, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	creds, err := in.Record().Build()
	if err != nil {
		return Account{}, err
	}
	provider := in.Provider
	if provider == "" {
		if creds.Method() == AuthIdC {
			provider = ProviderBuilderID
		} else {
			provider = ProviderGoogle
		}
	}
	now := r.Now()
	return Account{
		ID:           uuid.NewString(),
		Email:        in.Email,
		Nickname:     strings.TrimSpace(in.Nickname),
		Provider:     provider,
		UserID:       in.UserID,
		Credentials:  creds,
		Subscription: Subscription{Plan: PlanUnknown},
		Status:       StatusUnknown,
		GroupID:      in.GroupID,
		TagIDs:       in.TagIDs,
		CreatedAt:    now,
	}, nil
}

// ImportReport summarizes a batch import.
type ImportReport struct {
	Imported   []Account     `json:"-"`
	Duplicates []string      `json:"duplicates,omitempty"`
	Failed     []ImportError `json:"failed,omitempty"`
}

// ImportError records why one input was not imported.
type ImportError struct {
	Index int    `json:"index"`
	Email string `json:"email,omitempty"`
	Error string `json:"error"`
}

// Import adds every input it can. Duplicates, including duplicates within
// the batch itself, are reported and skipped.
func (r *Registry) Import(inputs []ImportInput) ImportReport {
	var rep ImportReport
	for i, in := range inputs {
		acc, err := r.Add(in)
		switch {
		case err == nil:
			rep.Imported = append(rep.Imported, acc)
		case errors.Is(err, ErrDuplicate):
			rep.Duplicates = append(rep.Duplicates, in.Email)
		default:
			rep.Failed = append(rep.Failed, ImportError{Index: i, Email: in.Email, Error: err.Error()})
		}
	}
	return rep
}

// ProfileUpdate holds the user-editable fields of an account. Nil fields are
// left untouched.
type ProfileUpdate struct {
	Nickname *string  `json:"nickname,omitempty"`
	GroupID  *string  `json:"group_id,omitempty"`
	TagIDs   []string `json:"tag_ids,omitempty"`
}

// UpdateProfile applies p to account id.
func (r *Registry) UpdateProfile(id string, p ProfileUpdate) (Account, error) {
	if p.GroupID != nil && *p.GroupID != "" {
		r.mu.RLock()
		_, ok := r.groups[*p.GroupID]
		r.mu.RUnlock()
		if !ok {
			return Account{}, fmt.Errorf("%w: %s", ErrGroupNotFound, *p.GroupID)
		}
	}
	if p.TagIDs != nil {
		r.mu.RLock()
		for _, t := range p.TagIDs {
			if _, ok := r.tags[t]; !ok {
				r.mu.RUnlock()
				return Account{}, fmt.Errorf("%w: %s", ErrTagNotFound, t)
			}
		}
		r.mu.RUnlock()
	}
	return r.Update(id, func(a *Account) {
		if p.Nickname != nil {
			a.Nickname = strings.TrimSpace(*p.Nickname)
		}
		if p.GroupID != nil {
			a.GroupID = *p.GroupID
		}
		if p.TagIDs != nil {
			a.TagIDs = append([]string(nil), p.TagIDs...)
		}
	})
}
