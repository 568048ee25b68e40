package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/trustgate/backend/internal/config"
	"github.com/trustgate/backend/internal/models"
	"github.com/trustgate/backend/pkg/logger"
	"golang.org/x/oauth2"
	github "golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
	"gorm.io/gorm"
)

// SSOProfile is the normalized identity returned by an OAuth provider.
type SSOProfile struct {
	Provider   string
	ExternalID string
	Email      string
	FirstName  string
	LastName   string
}

type SSOService struct {
	DB  *gorm.DB
	Cfg *config.Config
	now func() time.Time
}

func NewSSOService(db *gorm.DB, cfg *config.Config) *SSOService {
	return &SSOService{DB: db, Cfg: cfg, now: time.Now}
}

func (s *SSOService) GetOAuthConfig(provider string) (*oauth2.Config, error) {
	switch strings.ToLower(provider) {
	case "google":
		if !s.Cfg.SSO.Google.Enabled {
			return nil, errors.New("google oauth is not enabled")
		}
		return &oauth2.Config{
			ClientID:     s.Cfg.SSO.Google.ClientID,
			ClientSecret: s.Cfg.SSO.Google.ClientSecret,
			RedirectURL:  s.Cfg.SSO.Google.RedirectURL,
			Scopes:       strings.Split(s.Cfg.SSO.Google.Scopes, ","),
			Endpoint:     google.Endpoint,
		}, nil

	case "github":
		if !s.Cfg.SSO.GitHub.Enabled {
			return nil, errors.New("github oauth is not enabled")
		}
		return &oauth2.Config{
			ClientID:     s.Cfg.SSO.GitHub.ClientID,
			ClientSecret: s.Cfg.SSO.GitHub.ClientSecret,
			RedirectURL:  s.Cfg.SSO.GitHub.RedirectURL,
			Scopes:       strings.Split(s.Cfg.SSO.GitHub.Scopes, ","),
			Endpoint:     github.Endpoint,
		}, nil

	default:
		return nil, errors.New("unknown oauth provider: " + provider)
	}
}

func (s *SSOService) ExchangeCode(ctx context.Context, provider string, code string) (*oauth2.Token, error) {
	oauthCfg, err := s.GetOAuthConfig(provider)
	if err != nil {
		return nil, err
	}

	token, err := oauthCfg.Exchange(ctx, code)
	if err != nil {
		logger.Warn("oauth_exchange_failed", map[string]interface{}{
			"provider": provider,
			"error":    err.Error(),
		})
		return nil, errors.New("failed to exchange code for token")
	}

	return token, nil
}

func (s *SSOService) GetUserInfo(ctx context.Context, provider string, token *oauth2.Token) (*SSOProfile, error) {
	switch strings.ToLower(provider) {
	case "google":
		return s.getGoogleUserInfo(ctx, token)
	case "github":
		return s.getGitHubUserInfo(ctx, token)
	default:
		return nil, errors.New("unknown provider: " + provider)
	}
}

func (s *SSOService) getGoogleUserInfo(ctx context.Context, token *oauth2.Token) (*SSOProfile, error) {
	oauthCfg, err := s.GetOAuthConfig("google")
	if err != nil {
		return nil, err
	}
	client := oauthCfg.Client(ctx, token)

	resp, err := client.Get("https://www.googleapis.com/oauth2/v2/userinfo")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("google api returned status %d: %s", resp.StatusCode, string(body))
	}

	var data struct {
		ID         string `json:"id"`
		Email      string `json:"email"`
		GivenName  string `json:"given_name"`
		FamilyName string `json:"family_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, err
	}

	return &SSOProfile{
		Provider:   "google",
		ExternalID: data.ID,
		Email:      strings.ToLower(data.Email),
		FirstName:  data.GivenName,
		LastName:   data.FamilyName,
	}, nil
}

func (s *SSOService) getGitHubUserInfo(ctx context.Context, token *oauth2.Token) (*SSOProfile, error) {
	oauthCfg, err := s.GetOAuthConfig("github")
	if err != nil {
		return nil, err
	}
	client := oauthCfg.Client(ctx, token)

	resp, err := client.Get("https://api.github.com/user")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("github api returned status %d: %s", resp.StatusCode, string(body))
	}

	var data struct {
		ID    int    `json:"id"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, err
	}

	if data.Email == "" {
		emailResp, err := client.Get("https://api.github.com/user/emails")
		if err == nil {
			defer emailResp.Body.Close()
			var emails []struct {
				Email    string `json:"email"`
				Primary  bool   `json:"primary"`
				Verified bool   `json:"verified"`
			}
			if json.NewDecoder(emailResp.Body).Decode(&emails) == nil {
				for _, e := range emails {
					if e.Primary && e.Verified {
						data.Email = e.Email
						break
					}
				}
			}
		}
	}
	if data.Email == "" {
		return nil, errors.New("github email not available")
	}

	parts := strings.SplitN(data.Name, " ", 2)
	firstName := parts[0]
	lastName := ""
	if len(parts) > 1 {
		lastName = parts[1]
	}

	return &SSOProfile{
		Provider:   "github",
		ExternalID: fmt.Sprintf("%d", data.ID),
		Email:      strings.ToLower(data.Email),
		FirstName:  firstName,
		LastName:   lastName,
	}, nil
}

// FindOrCreateUser resolves an OAuth profile to a local account.
//
// Resolution order: external provider id, then email (which links the
// provider to an existing account). A profile with no account can still
// sign in when a pending invitation exists for its email; that creates a
// passwordless account and consumes the invitation in one transaction.
// Anything else is rejected, so onboarding stays invitation-driven.
func (s *SSOService) FindOrCreateUser(profile *SSOProfile) (*models.User, error) {
	var user models.User
	err := s.DB.Where("auth_provider = ? AND external_id = ?", profile.Provider, profile.ExternalID).
		First(&user).Error
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("looking up oauth user: %w", err)
	}

	err = s.DB.Where("email = ?", profile.Email).First(&user).Error
	if err == nil {
		if updateErr := s.DB.Model(&user).Updates(map[string]interface{}{
			"auth_provider": profile.Provider,
			"external_id":   profile.ExternalID,
		}).Error; updateErr != nil {
			return nil, fmt.Errorf("linking oauth provider: %w", updateErr)
		}
		user.AuthProvider = &profile.Provider
		user.ExternalID = &profile.ExternalID
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("looking up user by email: %w", err)
	}

	return s.createFromInvitation(profile)
}

func (s *SSOService) createFromInvitation(profile *SSOProfile) (*models.User, error) {
	var created models.User

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var invitation models.Invitation
		err := tx.Where("email = ? AND status = ?", profile.Email, models.InvitationPending).
			First(&invitation).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if invitation.IsExpired(s.now()) {
			return ErrExpired
		}

		created = models.User{
			Email:           profile.Email,
			FirstName:       profile.FirstName,
			LastName:        profile.LastName,
			Role:            invitation.Role,
			OrganizationID:  invitation.OrganizationID,
			IsEmailVerified: true,
			AuthProvider:    &profile.Provider,
			ExternalID:      &profile.ExternalID,
		}
		if err := tx.Create(&created).Error; err != nil {
			return fmt.Errorf("creating oauth user: %w", err)
		}

		res := tx.Model(&models.Invitation{}).
			Where("id = ? AND status = ?", invitation.ID, models.InvitationPending).
			Updates(map[string]interface{}{
				"status":      models.InvitationAccepted,
				"accepted_at": s.now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrAlreadyResolved
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("sso_account_created", map[string]interface{}{
		"user_id":  created.ID.String(),
		"provider": profile.Provider,
	})
	return &created, nil
}
