package clients

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/khanghh/koidc/internal/common"
	"github.com/khanghh/koidc/model"
	"github.com/khanghh/koidc/params"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ClientService struct {
	clientRepo ClientRepository
}

func byClientID(clientID string) clause.Expression {
	return clause.Eq{Column: "client_id", Value: clientID}
}

func (s *ClientService) GetClientByClientID(ctx context.Context, clientID string) (*model.Client, error) {
	if clientID == "" {
		return nil, ErrClientNotFound
	}
	client, err := s.clientRepo.First(ctx, byClientID(clientID))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrClientNotFound
	}
	return client, err
}

// Authenticate verifies the credentials of a confidential client.
func (s *ClientService) Authenticate(ctx context.Context, clientID, clientSecret string) (*model.Client, error) {
	client, err := s.GetClientByClientID(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if client.Public || clientSecret == "" {
		return nil, ErrClientCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(client.ClientSecret), []byte(clientSecret)); err != nil {
		return nil, ErrClientCredentials
	}
	return client, nil
}

// RegisterClient stores a new client and returns its plain secret, which is
// empty for public clients.
func (s *ClientService) RegisterClient(ctx context.Context, client *model.Client) (string, error) {
	client.Name = strings.TrimSpace(client.Name)
	if client.Name == "" {
		return "", ErrClientNameEmpty
	}
	if client.BackchannelDeliveryMode != "" {
		if !client.BackchannelDeliveryMode.IsValid() {
			return "", ErrInvalidDeliveryMode
		}
		if client.BackchannelDeliveryMode != model.DeliveryModePoll && client.BackchannelNotificationEndpoint == "" {
			return "", ErrNotificationEndpointEmpty
		}
	}
	if client.ClientID == "" {
		client.ClientID = uuid.NewString()
	}

	var secret string
	if !client.Public {
		var err error
		secret, err = common.GenerateSecret(params.ClientSecretLength)
		if err != nil {
			return "", err
		}
		hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
		if err != nil {
			return "", err
		}
		client.ClientSecret = string(hashed)
	}

	if err := s.clientRepo.Create(ctx, client); err != nil {
		if common.IsDuplicateKeyError(err) {
			return "", ErrClientAlreadyRegistered
		}
		return "", err
	}
	return secret, nil
}

func (s *ClientService) DeleteClient(ctx context.Context, clientID string) error {
	deleted, err := s.clientRepo.Delete(ctx, byClientID(clientID))
	if err != nil {
		return err
	}
	if deleted == 0 {
		return ErrClientNotFound
	}
	return nil
}

func NewClientService(clientRepo ClientRepository) *ClientService {
	return &ClientService{
		clientRepo: clientRepo,
	}
}
