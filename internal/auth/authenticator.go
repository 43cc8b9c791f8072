// Package auth verifies the credentials relay clients present: end-user JWTs
// that grant scoped access to a fixed set of topics, and backend api keys
// that may publish anywhere.
package auth

import (
	"crypto/subtle"
	"errors"
	"slices"
	"time"

	"github.com/goevery/chatwatch/internal/ierr"
	"github.com/golang-jwt/jwt/v5"
)

const (
	Audience = "chatwatch"

	ScopeSubscribe = "subscribe"
	ScopePublish   = "publish"
)

// topicClaims is the token payload: the registered claims plus the topics the
// subject may touch and the operations it may perform on them.
type topicClaims struct {
	jwt.RegisteredClaims
	AuthorizedTopics []string `json:"authorizedTopics,omitempty"`
	Scope            []string `json:"scope,omitempty"`
}

// Authentication is the verified identity of one relay connection. Admins
// bypass the topic list.
type Authentication struct {
	Subject          string
	AuthorizedTopics []string
	Scope            []string
	IsAdmin          bool
}

func (a *Authentication) IsSubscriber() bool {
	return slices.Contains(a.Scope, ScopeSubscribe)
}

func (a *Authentication) IsPublisher() bool {
	return slices.Contains(a.Scope, ScopePublish)
}

// TopicAllowed reports whether the subject may touch the topic, named by its
// relay channel form ("community:<id>" / "conversation:<id>").
func (a *Authentication) TopicAllowed(topic string) bool {
	if a.Subject == "" {
		return false
	}

	if a.IsAdmin {
		return true
	}

	return slices.Contains(a.AuthorizedTopics, topic)
}

type Authenticator struct {
	secret  []byte
	apiKeys []string
	parser  *jwt.Parser
}

func NewAuthenticator(secret string, apiKeys []string) *Authenticator {
	return &Authenticator{
		secret:  []byte(secret),
		apiKeys: apiKeys,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithLeeway(30*time.Second),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
			jwt.WithAudience(Audience),
		),
	}
}

// AuthenticateJWT verifies an HS256 user token. A token must name a subject
// and at least one authorized topic; its scope decides what the subject may
// do on them.
func (a *Authenticator) AuthenticateJWT(tokenString string) (*Authentication, error) {
	claims := topicClaims{}

	_, err := a.parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil {
		return nil, ierr.New(ierr.ErrorCodeUnauthenticated, err)
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return nil, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid subject claim"))
	}

	if len(claims.AuthorizedTopics) == 0 {
		return nil, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("authorized topics cannot be empty"))
	}

	return &Authentication{
		Subject:          subject,
		AuthorizedTopics: claims.AuthorizedTopics,
		Scope:            claims.Scope,
	}, nil
}

// AuthenticateAPIKey verifies a backend api key. Key holders act as admin
// publishers for every topic.
func (a *Authenticator) AuthenticateAPIKey(apiKey string) (*Authentication, error) {
	for _, key := range a.apiKeys {
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
			return &Authentication{
				Subject: "api",
				Scope:   []string{ScopePublish},
				IsAdmin: true,
			}, nil
		}
	}

	return nil, ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("invalid api key"))
}
