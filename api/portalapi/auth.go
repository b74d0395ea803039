package portalapi

import (
	"fmt"
	"strings"
	"time"

	"github.com/TwiN/gocache/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/certifychain/certifychain/chain"
	"github.com/certifychain/certifychain/storage/model"
)

const localsAddress = "session_address"

// AuthConfig configures the wallet based login
type AuthConfig struct {
	// Issuer is the iss claim of session tokens
	Issuer string
	// Secret is the HMAC key session tokens are signed with
	Secret []byte
	// Algorithm defaults to HS256
	Algorithm jwa.SignatureAlgorithm
	// SessionLifetime defaults to 12h
	SessionLifetime time.Duration
	// ChallengeLifetime defaults to 5 minutes
	ChallengeLifetime time.Duration
}

type challenge struct {
	Address string
	Message string
}

// authenticator implements the challenge / signature login and the session
// tokens issued afterwards
type authenticator struct {
	conf       AuthConfig
	challenges *gocache.Cache
	now        func() time.Time
}

func newAuthenticator(conf AuthConfig) (*authenticator, error) {
	if len(conf.Secret) < 32 {
		return nil, errors.New("session secret must be at least 32 bytes")
	}
	if conf.Algorithm.String() == "" {
		conf.Algorithm = jwa.HS256()
	}
	if conf.Issuer == "" {
		conf.Issuer = "certifychain"
	}
	if conf.SessionLifetime <= 0 {
		conf.SessionLifetime = 12 * time.Hour
	}
	if conf.ChallengeLifetime <= 0 {
		conf.ChallengeLifetime = 5 * time.Minute
	}
	return &authenticator{
		conf:       conf,
		challenges: gocache.NewCache().WithMaxSize(10000).WithEvictionPolicy(gocache.LeastRecentlyUsed),
		now:        time.Now,
	}, nil
}

func challengeMessage(issuer, address, nonce string, issuedAt time.Time) string {
	return fmt.Sprintf(
		"%s wants you to sign in with your wallet:\n%s\n\nNonce: %s\nIssued At: %s",
		issuer, address, nonce, issuedAt.UTC().Format(time.RFC3339),
	)
}

// newChallenge creates a single use login challenge for address
func (a *authenticator) newChallenge(address string) (nonce, message string, expiresAt time.Time) {
	now := a.now()
	nonce = uuid.NewString()
	message = challengeMessage(a.conf.Issuer, address, nonce, now)
	a.challenges.SetWithTTL(
		nonce, challenge{
			Address: model.NormalizeAddress(address),
			Message: message,
		}, a.conf.ChallengeLifetime,
	)
	return nonce, message, now.Add(a.conf.ChallengeLifetime)
}

// login verifies the signature over the challenge identified by nonce and
// returns a session token for the signing wallet
func (a *authenticator) login(nonce, signature string) (string, string, error) {
	v, ok := a.challenges.Get(nonce)
	if !ok {
		return "", "", errors.New("unknown or expired challenge")
	}
	a.challenges.Delete(nonce)
	ch := v.(challenge)
	signer, err := chain.RecoverPersonalSign(ch.Message, signature)
	if err != nil {
		return "", "", err
	}
	address := model.NormalizeAddress(signer.Hex())
	if address != ch.Address {
		return "", "", errors.New("signature does not belong to the challenged wallet")
	}
	token, err := a.issue(address)
	return token, address, err
}

func (a *authenticator) issue(address string) (string, error) {
	now := a.now()
	tok, err := jwt.NewBuilder().
		Issuer(a.conf.Issuer).
		Subject(address).
		IssuedAt(now).
		Expiration(now.Add(a.conf.SessionLifetime)).
		JwtID(uuid.NewString()).
		Build()
	if err != nil {
		return "", errors.WithStack(err)
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(a.conf.Algorithm, a.conf.Secret))
	if err != nil {
		return "", errors.WithStack(err)
	}
	return string(signed), nil
}

// verify returns the wallet a session token was issued to
func (a *authenticator) verify(token string) (string, error) {
	tok, err := jwt.Parse(
		[]byte(token),
		jwt.WithKey(a.conf.Algorithm, a.conf.Secret),
		jwt.WithIssuer(a.conf.Issuer),
		jwt.WithClock(jwt.ClockFunc(a.now)),
	)
	if err != nil {
		return "", errors.WithStack(err)
	}
	sub, ok := tok.Subject()
	if !ok || sub == "" {
		return "", errors.New("session token has no subject")
	}
	return sub, nil
}

// sessionMiddleware resolves the session wallet from a bearer token. Requests
// without a token pass through without a session; invalid tokens are rejected.
func (a *authenticator) sessionMiddleware(c *fiber.Ctx) error {
	header := c.Get(fiber.HeaderAuthorization)
	if header == "" {
		return c.Next()
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(
			errorBody(ErrorCodeUnauthorized, "unsupported authorization scheme"),
		)
	}
	address, err := a.verify(strings.TrimSpace(token))
	if err != nil {
		log.WithError(err).Debug("rejected session token")
		return c.Status(fiber.StatusUnauthorized).JSON(
			errorBody(ErrorCodeUnauthorized, "invalid session token"),
		)
	}
	c.Locals(localsAddress, address)
	return c.Next()
}

func sessionAddress(c *fiber.Ctx) (string, bool) {
	address, ok := c.Locals(localsAddress).(string)
	return address, ok && address != ""
}

// requireSession rejects requests without a session
func requireSession(c *fiber.Ctx) error {
	if _, ok := sessionAddress(c); !ok {
		return unauthorized(c)
	}
	return c.Next()
}

func unauthorized(c *fiber.Ctx) error {
	c.Set(fiber.HeaderWWWAuthenticate, "Bearer")
	return c.Status(fiber.StatusUnauthorized).JSON(errorBody(ErrorCodeUnauthorized, "login required"))
}

func (h *handlers) registerAuth(r fiber.Router) {
	g := r.Group("/auth")

	type challengeReq struct {
		Address string `query:"address"`
	}
	g.Get(
		"/challenge", func(c *fiber.Ctx) error {
			var req challengeReq
			if err := c.QueryParser(&req); err != nil {
				return badRequest(c, "could not parse request parameters: "+err.Error())
			}
			addr, err := chain.ParseAddress(strings.TrimSpace(req.Address))
			if err != nil {
				return badRequest(c, err.Error())
			}
			nonce, message, expiresAt := h.auth.newChallenge(addr.Hex())
			return c.JSON(
				fiber.Map{
					"nonce":      nonce,
					"message":    message,
					"expires_at": expiresAt,
				},
			)
		},
	)

	type loginReq struct {
		Nonce     string `json:"nonce"`
		Signature string `json:"signature"`
	}
	g.Post(
		"/login", func(c *fiber.Ctx) error {
			var req loginReq
			if err := c.BodyParser(&req); err != nil {
				return badRequest(c, "invalid body")
			}
			if req.Nonce == "" || req.Signature == "" {
				return badRequest(c, "nonce and signature are required")
			}
			token, address, err := h.auth.login(req.Nonce, req.Signature)
			if err != nil {
				return c.Status(fiber.StatusUnauthorized).JSON(errorBody(ErrorCodeUnauthorized, err.Error()))
			}
			log.WithField("address", address).Info("wallet logged in")
			return c.JSON(
				fiber.Map{
					"access_token": token,
					"token_type":   "Bearer",
					"expires_in":   int(h.auth.conf.SessionLifetime.Seconds()),
					"address":      address,
				},
			)
		},
	)
}
