package control

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"copytrader/internal/core"
	"copytrader/internal/ledger"
	apperrors "copytrader/pkg/errors"
	apphttp "copytrader/pkg/http"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateLogin checks the server URL and uid before any request is made
func ValidateLogin(serverURL, uid string) error {
	if err := validate.Var(strings.TrimSpace(serverURL), "required,http_url"); err != nil {
		return fmt.Errorf("invalid server url %q", serverURL)
	}
	if err := validate.Var(strings.TrimSpace(uid), "required,uuid"); err != nil {
		return fmt.Errorf("invalid uid %q", uid)
	}
	return nil
}

// Session owns the authenticated control server connection. It delegates
// the core.IControlServer calls to the current client and fails with
// ErrNotConfigured before login.
type Session struct {
	settings core.ISettingsStore
	logger   core.ILogger
	timeout  time.Duration
	opts     []apphttp.Option

	mu        sync.RWMutex
	client    *Client
	serverURL string
	uid       string
	info      Info
	pairs     []core.SymbolRule
}

var _ core.IControlServer = (*Session)(nil)

// NewSession creates a logged-out session. opts are passed to every client.
func NewSession(settings core.ISettingsStore, timeout time.Duration, logger core.ILogger, opts ...apphttp.Option) *Session {
	return &Session{
		settings: settings,
		logger:   logger.WithField("component", "session"),
		timeout:  timeout,
		opts:     opts,
	}
}

// Login validates the input, initializes the terminal and persists the
// session
func (s *Session) Login(ctx context.Context, serverURL, uid string) (*InitResult, error) {
	if err := ValidateLogin(serverURL, uid); err != nil {
		return nil, err
	}
	serverURL = strings.TrimSpace(serverURL)
	uid = strings.TrimSpace(uid)

	client := NewClient(serverURL, "", s.timeout, s.logger, s.opts...)
	res, err := client.Init(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}
	client.SetToken(res.Token)

	s.mu.Lock()
	s.client = client
	s.serverURL = serverURL
	s.uid = uid
	s.info = res.Info
	s.pairs = res.Pairs
	s.mu.Unlock()

	if err := s.persist(ctx, serverURL, uid, res.Token); err != nil {
		return res, err
	}

	s.logger.Info("Logged in", "url", client.BaseURL(), "pairs", len(res.Pairs))
	return res, nil
}

// Refresh re-runs init with the stored uid. On failure the current token
// stays in place and is returned together with the error.
func (s *Session) Refresh(ctx context.Context) (string, error) {
	s.mu.RLock()
	client, uid := s.client, s.uid
	s.mu.RUnlock()

	if client == nil || uid == "" {
		return s.Token(), apperrors.ErrNotConfigured
	}

	res, err := client.Init(ctx, uid)
	if err != nil {
		s.logger.Error("Failed to refresh token", "error", err)
		return client.Token(), err
	}

	s.mu.Lock()
	if res.Token != "" {
		client.SetToken(res.Token)
	}
	if len(res.Pairs) > 0 {
		s.pairs = res.Pairs
	}
	s.info.merge(res.Info)
	s.mu.Unlock()

	if res.Token != "" {
		if err := s.settings.SetSetting(ctx, ledger.SettingToken, res.Token); err != nil {
			s.logger.Warn("Failed to persist refreshed token", "error", err)
		}
	}
	return client.Token(), nil
}

// Restore loads a stored session. It reports whether a token was found.
func (s *Session) Restore(ctx context.Context) (bool, error) {
	stored, err := s.stored(ctx)
	if err != nil {
		return false, err
	}
	if !stored.valid() {
		return false, nil
	}
	s.adopt(stored)
	return true, nil
}

// Reload re-reads the stored session and adopts it when it differs from the
// one held in memory, so a login or logout from another process takes
// effect. It reports whether the session changed.
func (s *Session) Reload(ctx context.Context) (bool, error) {
	stored, err := s.stored(ctx)
	if err != nil {
		return false, err
	}

	s.mu.RLock()
	held := storedSession{serverURL: s.serverURL, uid: s.uid}
	if s.client != nil {
		held.token = s.client.Token()
	}
	s.mu.RUnlock()

	switch {
	case stored.valid() && stored != held:
		s.adopt(stored)
		s.logger.Info("Stored session changed", "uid", stored.uid)
		return true, nil
	case !stored.valid() && held.token != "":
		s.clear()
		s.logger.Info("Stored session removed")
		return true, nil
	}
	return false, nil
}

type storedSession struct {
	serverURL string
	uid       string
	token     string
}

func (ss storedSession) valid() bool {
	return ss.serverURL != "" && ss.token != ""
}

func (s *Session) stored(ctx context.Context) (storedSession, error) {
	var ss storedSession
	for _, f := range []struct {
		key string
		dst *string
	}{
		{ledger.SettingAPIURL, &ss.serverURL},
		{ledger.SettingToken, &ss.token},
		{ledger.SettingUID, &ss.uid},
	} {
		v, _, err := s.settings.GetSetting(ctx, f.key)
		if err != nil {
			return storedSession{}, err
		}
		*f.dst = v
	}
	return ss, nil
}

func (s *Session) adopt(ss storedSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.client = NewClient(ss.serverURL, ss.token, s.timeout, s.logger, s.opts...)
	s.serverURL = ss.serverURL
	s.uid = ss.uid
	s.info = Info{}
	s.pairs = nil
}

func (s *Session) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.client = nil
	s.info = Info{}
	s.pairs = nil
}

// Logout forgets the session and its stored token
func (s *Session) Logout(ctx context.Context) error {
	s.clear()
	return s.settings.DeleteSetting(ctx, ledger.SettingToken)
}

// IsAuthenticated reports whether a token is held
func (s *Session) IsAuthenticated() bool {
	return s.Token() != ""
}

// Token returns the bearer token, empty when logged out
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.client == nil {
		return ""
	}
	return s.client.Token()
}

// UID returns the terminal uid
func (s *Session) UID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.uid
}

// MasterBalance is the master's balance from the last init
func (s *Session) MasterBalance() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info.Balance
}

// Pairs returns a copy of the symbol rules from the last init
func (s *Session) Pairs() []core.SymbolRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.SymbolRule(nil), s.pairs...)
}

func (s *Session) Status(ctx context.Context) (string, error) {
	c, err := s.current()
	if err != nil {
		return "", err
	}
	return c.Status(ctx)
}

func (s *Session) Orders(ctx context.Context) ([]core.Command, error) {
	c, err := s.current()
	if err != nil {
		return nil, err
	}
	return c.Orders(ctx)
}

func (s *Session) SendReport(ctx context.Context, report core.Report) error {
	c, err := s.current()
	if err != nil {
		return err
	}
	return c.SendReport(ctx, report)
}

func (s *Session) OpenTrade(ctx context.Context, req core.OpenTradeRequest) (int64, error) {
	c, err := s.current()
	if err != nil {
		return 0, err
	}
	return c.OpenTrade(ctx, req)
}

func (s *Session) CloseTrade(ctx context.Context, req core.CloseTradeRequest) error {
	c, err := s.current()
	if err != nil {
		return err
	}
	return c.CloseTrade(ctx, req)
}

func (s *Session) current() (*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.client == nil || s.client.Token() == "" {
		return nil, fmt.Errorf("api url or token: %w", apperrors.ErrNotConfigured)
	}
	return s.client, nil
}

func (s *Session) persist(ctx context.Context, serverURL, uid, token string) error {
	for _, kv := range [][2]string{
		{ledger.SettingAPIURL, serverURL},
		{ledger.SettingToken, token},
		{ledger.SettingUID, uid},
	} {
		if err := s.settings.SetSetting(ctx, kv[0], kv[1]); err != nil {
			return fmt.Errorf("failed to persist %s: %w", kv[0], err)
		}
	}
	return nil
}
