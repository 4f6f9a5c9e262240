package integrations

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	twilioContentType = "twilio-fpa;v=1"
	maxVideoTokenTTL  = 4 * time.Hour
)

// Twilio issues Programmable Video access tokens signed with an API key.
type Twilio struct {
	accountSID string
	keySID     string
	keySecret  []byte
	now        func() time.Time
}

func NewTwilio(accountSID, keySID, keySecret string) *Twilio {
	if accountSID == "" || keySID == "" || keySecret == "" {
		return nil
	}
	return &Twilio{accountSID: accountSID, keySID: keySID, keySecret: []byte(keySecret), now: time.Now}
}

type videoGrant struct {
	Room string `json:"room,omitempty"`
}

type twilioGrants struct {
	Identity string     `json:"identity"`
	Video    videoGrant `json:"video"`
}

type twilioClaims struct {
	Grants twilioGrants `json:"grants"`
	jwt.RegisteredClaims
}

// VideoToken returns a token letting identity join room. A ttl outside
// (0, 4h] is clamped.
func (t *Twilio) VideoToken(identity, room string, ttl time.Duration) (string, error) {
	if t == nil {
		return "", ErrNotConfigured
	}
	if ttl <= 0 || ttl > maxVideoTokenTTL {
		ttl = maxVideoTokenTTL
	}
	now := t.now()
	claims := twilioClaims{
		Grants: twilioGrants{Identity: identity, Video: videoGrant{Room: room}},
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        fmt.Sprintf("%s-%d", t.keySID, now.Unix()),
			Issuer:    t.keySID,
			Subject:   t.accountSID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["cty"] = twilioContentType
	signed, err := token.SignedString(t.keySecret)
	if err != nil {
		return "", fmt.Errorf("sign video token: %w", err)
	}
	return signed, nil
}
