package auth

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"instasave/pkg/config"
	errs "instasave/pkg/errors"
	"instasave/pkg/instagram"
	"instasave/pkg/logger"
	"instasave/pkg/models"
)

// Names reported for the strategy that produced a session
const (
	MethodSessionFile   = "session_file"
	MethodSessionIDFile = "sessionid_file"
	MethodSessionIDEnv  = "sessionid_env"
	MethodPassword      = "password"
)

// Session is the remote client capability the cascade drives
type Session interface {
	LoadSession(data []byte) error
	DumpSession() ([]byte, error)
	LoginBySessionID(ctx context.Context, sessionID string) error
	Login(ctx context.Context, username, password string) error
	CurrentUser(ctx context.Context) (*instagram.User, error)
	Username() string
}

// ClientFactory returns a fresh unauthenticated client for each attempt
type ClientFactory func() Session

// Cascade establishes an authenticated session by trying, in order: the
// persisted session blob, the session id file, the configured session id
// and finally a username/password login. It is the only component that
// reads or writes the session artefacts.
type Cascade struct {
	cfg       config.InstagramConfig
	vault     *SessionVault
	passwords PasswordStore
	newClient ClientFactory
	logger    logger.Logger
}

// NewCascade creates a cascade. passwords may be nil when only the
// configured password is used.
func NewCascade(cfg *config.Config, passwords PasswordStore, newClient ClientFactory, log logger.Logger) *Cascade {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Cascade{
		cfg:       cfg.Instagram,
		vault:     NewSessionVault(cfg.Instagram.CookiesPath, cfg.Server.SecretKey),
		passwords: passwords,
		newClient: newClient,
		logger:    log.WithField("component", "auth"),
	}
}

type strategy struct {
	method string
	run    func(ctx context.Context, client Session) (attempted bool, err error)
}

// Authenticate returns the first session that validates and the name of
// the strategy that produced it. When all strategies fail the error
// matches errors.ErrAuth.
func (c *Cascade) Authenticate(ctx context.Context) (Session, string, error) {
	strategies := []strategy{
		{MethodSessionFile, c.fromSessionFile},
		{MethodSessionIDFile, c.fromSessionIDFile},
		{MethodSessionIDEnv, c.fromConfiguredSessionID},
		{MethodPassword, c.fromPassword},
	}

	var failures []error
	for _, s := range strategies {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}

		client := c.newClient()
		attempted, err := s.run(ctx, client)
		if !attempted {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, "", ctx.Err()
			}
			c.logger.WarnWithFields("authentication method failed", map[string]interface{}{
				"method": s.method,
				"error":  err.Error(),
			})
			failures = append(failures, fmt.Errorf("%s: %w", s.method, err))
			continue
		}

		if s.method != MethodSessionFile {
			c.persist(client)
		}
		c.logger.InfoWithFields("authenticated", map[string]interface{}{
			"method":   s.method,
			"username": client.Username(),
		})
		return client, s.method, nil
	}

	if len(failures) == 0 {
		return nil, "", errs.NewAuthError(errors.New("no credentials configured"))
	}
	return nil, "", errs.NewAuthError(errors.Join(failures...))
}

// Reusing the blob; a blob that no longer validates is deleted
func (c *Cascade) fromSessionFile(ctx context.Context, client Session) (bool, error) {
	blob, err := c.vault.Load()
	if errors.Is(err, ErrNoSession) {
		return false, nil
	}
	if err == nil {
		if err = client.LoadSession(blob); err == nil {
			_, err = client.CurrentUser(ctx)
		}
	}
	if err != nil && ctx.Err() == nil {
		if rmErr := c.vault.Delete(); rmErr != nil {
			c.logger.WithError(rmErr).Warn("failed to delete stale session file")
		}
	}
	return true, err
}

// The token file is left in place on failure
func (c *Cascade) fromSessionIDFile(ctx context.Context, client Session) (bool, error) {
	id, err := readToken(c.cfg.SessionIDPath)
	if err != nil || id == "" {
		return false, nil
	}
	return true, client.LoginBySessionID(ctx, id)
}

func (c *Cascade) fromConfiguredSessionID(ctx context.Context, client Session) (bool, error) {
	id := strings.TrimSpace(c.cfg.SessionID)
	if id == "" {
		return false, nil
	}
	return true, client.LoginBySessionID(ctx, id)
}

func (c *Cascade) fromPassword(ctx context.Context, client Session) (bool, error) {
	if c.cfg.Username == "" {
		return false, nil
	}
	password := c.cfg.Password
	if password == "" && c.passwords != nil {
		pw, err := c.passwords.Get(c.cfg.Username)
		if err != nil && !errors.Is(err, ErrPasswordNotFound) {
			c.logger.WithError(err).Warn("password store unavailable")
		}
		password = pw
	}
	if password == "" {
		return false, nil
	}
	return true, client.Login(ctx, c.cfg.Username, password)
}

func (c *Cascade) persist(client Session) {
	blob, err := client.DumpSession()
	if err == nil {
		err = c.vault.Save(blob)
	}
	if err != nil {
		c.logger.WithError(err).Warn("failed to persist session file")
	}
}

// Invalidate removes both the session blob and the session id file after
// the remote service forced a logout, so the next run starts clean
func (c *Cascade) Invalidate() {
	if err := c.vault.Delete(); err != nil {
		c.logger.WithError(err).Warn("failed to delete session file")
	}
	if err := os.Remove(c.cfg.SessionIDPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		c.logger.WithError(err).Warn("failed to delete session id file")
	}
	c.logger.Warn("stored sessions invalidated after forced logout")
}

// TestLogin runs the cascade once and reports the outcome without failing
func (c *Cascade) TestLogin(ctx context.Context) models.LoginResult {
	client, method, err := c.Authenticate(ctx)
	if err != nil {
		if errors.Is(err, errs.ErrForbidden) {
			c.Invalidate()
		}
		return models.LoginResult{OK: false, Error: err.Error()}
	}
	return models.LoginResult{OK: true, Method: method, Username: client.Username()}
}

// SaveSessionID writes a session id to the token file used by the cascade
func (c *Cascade) SaveSessionID(sessionID string) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", errors.New("session id is empty")
	}
	if err := writeFileAtomic(c.cfg.SessionIDPath, []byte(sessionID+"\n")); err != nil {
		return "", err
	}
	c.logger.InfoWithFields("session id saved", map[string]interface{}{"path": c.cfg.SessionIDPath})
	return c.cfg.SessionIDPath, nil
}

func readToken(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
