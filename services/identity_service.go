package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"go.pilab.hu/idbridge/domain"
	"go.pilab.hu/idbridge/keycloak"
)

const birthDateLayout = "2006-01-02"

// TokenExchanger covers the end-user token flows of the identity provider.
type TokenExchanger interface {
	PasswordGrant(ctx context.Context, username, password string) (*domain.TokenSet, error)
	ExchangeCode(ctx context.Context, code string) (*domain.TokenSet, error)
	UserInfo(ctx context.Context, accessToken string) (*domain.UserInfo, error)
}

// DirectoryAPI is the slice of the directory adapter this service consumes.
type DirectoryAPI interface {
	CreateUser(ctx context.Context, username, email, firstName, lastName string, attributes map[string][]string, password string) (string, error)
	GetUserByID(ctx context.Context, id string) (*domain.DirectoryUser, error)
	UpdateAttributes(ctx context.Context, id string, newAttributes map[string][]string) error
	DeleteUser(ctx context.Context, id string) error
}

// UsernameMigrator renames a directory account, returning the replacement id.
type UsernameMigrator interface {
	MigrateUsername(ctx context.Context, oldID, newUsername string) (string, error)
}

// RegisterRequest carries the signup form fields.
type RegisterRequest struct {
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	Document  string     `json:"document"`
	BirthDate *time.Time `json:"birthDate,omitempty"`
	Password  string     `json:"password"`
}

// LoginResult is what every successful authentication flow returns: the token
// set, the identity it resolved to and whether the profile still needs
// enrichment data.
type LoginResult struct {
	domain.TokenSet
	UserInfo     domain.UserInfo `json:"user_info"`
	IsFirstLogin bool            `json:"is_first_login"`
}

// IdentityService keeps the local profile store and the provider's user
// directory consistent across login, registration and social sign-in. The
// local store is the source of truth; directory writes that fail are logged
// and reconciled opportunistically on the next login or update.
type IdentityService struct {
	tokens    TokenExchanger
	directory DirectoryAPI
	migrator  UsernameMigrator
	profiles  domain.ProfileRepository
	endpoints *keycloak.Endpoints
}

func NewIdentityService(
	tokens TokenExchanger,
	directory DirectoryAPI,
	migrator UsernameMigrator,
	profiles domain.ProfileRepository,
	endpoints *keycloak.Endpoints,
) *IdentityService {
	return &IdentityService{
		tokens:    tokens,
		directory: directory,
		migrator:  migrator,
		profiles:  profiles,
		endpoints: endpoints,
	}
}

// Login authenticates with either a document number or an email address.
// Directory accounts are provisioned with the document as username, so an
// email identifier is translated through the local profile when possible.
// Every exchange or decode failure collapses to ErrInvalidCredentials.
func (s *IdentityService) Login(ctx context.Context, identifier, password string) (*LoginResult, error) {
	username := identifier
	if !isDigits(identifier) {
		profile, err := s.profiles.FindByEmail(ctx, identifier)
		if err == nil && profile.Document != "" {
			username = profile.Document
		}
	}

	tokens, err := s.tokens.PasswordGrant(ctx, username, password)
	if err != nil {
		log.Warn().Err(err).Str("identifier", identifier).Msg("Password grant failed")
		return nil, domain.ErrInvalidCredentials
	}

	claims, err := keycloak.DecodeAccessClaims(tokens.AccessToken)
	if err != nil {
		log.Error().Err(err).Msg("Failed to decode access token claims")
		return nil, domain.ErrInvalidCredentials
	}

	return &LoginResult{
		TokenSet: *tokens,
		UserInfo: domain.UserInfo{
			Sub:               claims.Subject,
			Email:             claims.Email,
			Name:              claims.Name,
			PreferredUsername: claims.PreferredUsername,
		},
		IsFirstLogin: s.isFirstLogin(ctx, claims.Subject, claims.Email),
	}, nil
}

// isFirstLogin reports whether the matched profile still needs enrichment
// data. Lookup failures default to false rather than nagging the user.
func (s *IdentityService) isFirstLogin(ctx context.Context, subjectID, email string) bool {
	profile, err := s.profiles.FindBySubjectID(ctx, subjectID)
	if errors.Is(err, domain.ErrProfileNotFound) && email != "" {
		profile, err = s.profiles.FindByEmail(ctx, email)
	}
	if err != nil {
		if !errors.Is(err, domain.ErrProfileNotFound) {
			log.Error().Err(err).Str("subject_id", subjectID).Msg("Profile lookup failed during first-login check")
		}
		return false
	}
	return profile.NeedsEnrichment()
}

// Register creates the directory account and the local profile, then logs the
// new user in. Validation runs before any directory write so a conflicting
// request has no side effects.
func (s *IdentityService) Register(ctx context.Context, req RegisterRequest) (*LoginResult, error) {
	taken, err := s.profiles.ExistsByEmail(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, domain.ErrEmailTaken
	}

	document := cleanDocument(req.Document)
	if document == "" {
		return nil, domain.ErrDocumentRequired
	}
	taken, err = s.profiles.ExistsByDocument(ctx, document)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, domain.ErrDocumentTaken
	}

	firstName, lastName := splitName(req.Name)
	attributes := map[string][]string{"document": {document}}
	if req.BirthDate != nil {
		attributes["birthDate"] = []string{req.BirthDate.Format(birthDateLayout)}
	}

	subjectID, err := s.directory.CreateUser(ctx, document, req.Email, firstName, lastName, attributes, req.Password)
	if err != nil {
		return nil, err
	}

	profile := &domain.Profile{
		Email:     req.Email,
		Name:      req.Name,
		BirthDate: req.BirthDate,
		Document:  document,
		SubjectID: subjectID,
	}
	if err := s.profiles.Save(ctx, profile); err != nil {
		return nil, err
	}

	log.Info().Str("email", req.Email).Str("subject_id", subjectID).Msg("User registered")

	return s.Login(ctx, document, req.Password)
}

// ExchangeCode completes the social login callback. The token exchange is
// authoritative; profile reconciliation around it is best effort and never
// fails the login.
func (s *IdentityService) ExchangeCode(ctx context.Context, code string) (*LoginResult, error) {
	tokens, err := s.tokens.ExchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}

	info, err := s.tokens.UserInfo(ctx, tokens.AccessToken)
	if err != nil {
		return nil, err
	}

	return &LoginResult{
		TokenSet:     *tokens,
		UserInfo:     *info,
		IsFirstLogin: s.reconcileSocialProfile(ctx, info),
	}, nil
}

// reconcileSocialProfile links or creates the local profile for a social
// identity and reports whether enrichment is still needed. Internal failures
// default to false so the login itself is never blocked.
func (s *IdentityService) reconcileSocialProfile(ctx context.Context, info *domain.UserInfo) bool {
	profile, err := s.profiles.FindBySubjectID(ctx, info.Sub)
	switch {
	case err == nil:
		// Returning social user.
		return profile.NeedsEnrichment()

	case errors.Is(err, domain.ErrProfileNotFound):
	default:
		log.Error().Err(err).Str("subject_id", info.Sub).Msg("Profile lookup by subject failed during social login")
		return false
	}

	profile, err = s.profiles.FindByEmail(ctx, info.Email)
	switch {
	case err == nil:
		// Known email, new subject: adopt the social identity.
		profile.SubjectID = info.Sub
		if saveErr := s.profiles.Save(ctx, profile); saveErr != nil {
			log.Error().Err(saveErr).Str("subject_id", info.Sub).Str("email", info.Email).Msg("Failed to link social identity to profile")
			return false
		}
		log.Info().Str("subject_id", info.Sub).Str("email", info.Email).Msg("Social identity linked to existing profile")
		return profile.NeedsEnrichment()

	case errors.Is(err, domain.ErrProfileNotFound):
		profile = &domain.Profile{
			Email:     info.Email,
			Name:      info.Name,
			SubjectID: info.Sub,
		}
		if saveErr := s.profiles.Save(ctx, profile); saveErr != nil {
			log.Error().Err(saveErr).Str("subject_id", info.Sub).Str("email", info.Email).Msg("Failed to create profile for social login")
			return false
		}
		log.Info().Str("subject_id", info.Sub).Str("email", info.Email).Msg("Profile created for first social login")
		return true

	default:
		log.Error().Err(err).Str("email", info.Email).Msg("Profile lookup by email failed during social login")
		return false
	}
}

// UpdateProfileInfo enriches the profile linked to subjectID with a document
// and/or birth date. The local write happens first and is the only step that
// can fail; mirroring into the directory, including the username migration a
// new document triggers, is best effort.
func (s *IdentityService) UpdateProfileInfo(ctx context.Context, subjectID, document string, birthDate *time.Time) (*domain.Profile, error) {
	profile, err := s.profiles.FindBySubjectID(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	attributes := map[string][]string{}
	cleaned := ""
	if document != "" {
		cleaned = cleanDocument(document)
		if cleaned == "" {
			return nil, domain.ErrDocumentRequired
		}
		other, err := s.profiles.FindByDocument(ctx, cleaned)
		if err == nil && other.SubjectID != subjectID {
			return nil, domain.ErrDocumentConflict
		}
		if err != nil && !errors.Is(err, domain.ErrProfileNotFound) {
			return nil, err
		}
		profile.Document = cleaned
		attributes["document"] = []string{cleaned}
	}
	if birthDate != nil {
		profile.BirthDate = birthDate
		attributes["birthDate"] = []string{birthDate.Format(birthDateLayout)}
	}

	if err := s.profiles.Save(ctx, profile); err != nil {
		return nil, err
	}

	if len(attributes) > 0 {
		if err := s.directory.UpdateAttributes(ctx, subjectID, attributes); err != nil {
			log.Error().Err(err).Str("subject_id", subjectID).Msg("Failed to sync profile attributes to directory")
		}
	}

	if cleaned != "" {
		s.migrateUsernameToDocument(ctx, profile, cleaned)
	}

	return profile, nil
}

// migrateUsernameToDocument aligns the directory username with a newly set
// document. A minted account id is re-persisted onto the profile; every
// failure here is logged only, the local update already succeeded.
func (s *IdentityService) migrateUsernameToDocument(ctx context.Context, profile *domain.Profile, document string) {
	user, err := s.directory.GetUserByID(ctx, profile.SubjectID)
	if err != nil || user == nil {
		log.Error().Err(err).Str("subject_id", profile.SubjectID).Msg("Failed to load directory user for username check")
		return
	}
	if user.Username == document {
		return
	}

	newID, err := s.migrator.MigrateUsername(ctx, profile.SubjectID, document)
	if err != nil {
		log.Error().Err(err).Str("subject_id", profile.SubjectID).Str("username", document).Msg("Username migration failed")
		return
	}
	if newID == profile.SubjectID {
		return
	}

	profile.SubjectID = newID
	if err := s.profiles.Save(ctx, profile); err != nil {
		log.Error().Err(err).Str("profile_id", profile.ID).Str("new_subject_id", newID).Msg("Failed to persist migrated subject id")
	}
}

// DeleteProfile removes the local profile and, best effort, the linked
// directory account.
func (s *IdentityService) DeleteProfile(ctx context.Context, id string) error {
	profile, err := s.profiles.FindByID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.profiles.DeleteByID(ctx, id); err != nil {
		return err
	}

	if profile.SubjectID != "" {
		if err := s.directory.DeleteUser(ctx, profile.SubjectID); err != nil {
			log.Error().Err(err).Str("subject_id", profile.SubjectID).Msg("Failed to delete directory account after profile deletion")
		}
	}

	log.Info().Str("profile_id", id).Msg("Profile deleted")
	return nil
}

// UserInfo resolves the identity behind a bearer token, for the user-info
// passthrough endpoint.
func (s *IdentityService) UserInfo(ctx context.Context, bearer string) (*domain.UserInfo, error) {
	token := strings.TrimSpace(strings.TrimPrefix(bearer, "Bearer "))
	return s.tokens.UserInfo(ctx, token)
}

// SocialLoginURL is the browser redirect that starts the social flow.
func (s *IdentityService) SocialLoginURL() string {
	return s.endpoints.SocialAuthURL()
}

// LogoutURL is the front-channel logout redirect for the given id token.
func (s *IdentityService) LogoutURL(idToken string) string {
	return s.endpoints.LogoutURL(idToken)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// cleanDocument strips formatting from a national document number, keeping
// digits only.
func cleanDocument(document string) string {
	var b strings.Builder
	for _, r := range document {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// splitName separates a display name into first name and remainder.
func splitName(name string) (string, string) {
	name = strings.TrimSpace(name)
	first, rest, found := strings.Cut(name, " ")
	if !found {
		return name, ""
	}
	return first, strings.TrimSpace(rest)
}
