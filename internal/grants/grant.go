package grants

import (
	"github.com/google/uuid"
	"github.com/khanghh/koidc/model"
)

// Grant groups every token issued from one authorization event.
type Grant struct {
	ID       string
	ClientID string
	UserID   string
}

func GrantOf(token *model.Token) *Grant {
	return &Grant{
		ID:       token.GrantID,
		ClientID: token.ClientID,
		UserID:   token.UserID,
	}
}

func NewGrantID() string {
	return uuid.NewString()
}

// TokenTypeFromHint maps a token_type_hint to the stored token type. Unknown
// hints map to the empty type.
func TokenTypeFromHint(hint string) model.TokenType {
	switch model.TokenType(hint) {
	case model.TokenTypeAccessToken, model.TokenTypeTxToken, model.TokenTypeRefreshToken:
		return model.TokenType(hint)
	}
	return ""
}
