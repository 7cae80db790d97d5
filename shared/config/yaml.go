package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var _ IConfig = (*YamlConfig)(nil)

// YamlConfig implements IConfig with YAML file-based storage. The file is
// watched and reloaded on change.
type YamlConfig struct {
	mu            sync.RWMutex
	configPath    string
	logger        *zap.Logger
	watcher       *fsnotify.Watcher
	watcherDone   chan struct{}
	serverAddress string
	serverName    string
	serverVersion string
	logLevel      string

	authorizationType AuthorizationType

	responseMode       ResponseMode
	standaloneStream   bool
	requestTimeout     time.Duration
	maxBodyBytes       int64
	sessionIdleTimeout time.Duration

	defaultRateLimit RateLimit
	methodRateLimit  map[string]RateLimit

	userKeyHashes map[string]string   // keyHash -> userID
	userScopes    map[string][]string // userID -> scopes
	oauthClients  map[string]*OAuthClient

	sslEnabled      bool
	sslMode         string
	sslCertFile     string
	sslKeyFile      string
	sslAcmeDomains  []string
	sslAcmeEmail    string
	sslAcmeCacheDir string
}

// yamlConfig mirrors the on-disk file layout.
type yamlConfig struct {
	Server struct {
		Address       string `yaml:"address"`
		Name          string `yaml:"name"`
		Version       string `yaml:"version"`
		LogLevel      string `yaml:"log_level"`
		Authorization string `yaml:"authorization"` // "users_only", "marked_methods", or "none"
		SSL           struct {
			Enabled      bool     `yaml:"enabled"`
			Mode         string   `yaml:"mode"`
			CertFile     string   `yaml:"cert_file"`
			KeyFile      string   `yaml:"key_file"`
			AcmeDomains  []string `yaml:"acme_domains"`
			AcmeEmail    string   `yaml:"acme_email"`
			AcmeCacheDir string   `yaml:"acme_cache_dir"`
		} `yaml:"ssl"`
	} `yaml:"server"`

	Transport struct {
		ResponseMode       string `yaml:"response_mode"` // "sse", "json", "json-async"
		StandaloneStream   *bool  `yaml:"standalone_stream"`
		RequestTimeoutSec  int    `yaml:"request_timeout_seconds"`
		MaxBodyBytes       int64  `yaml:"max_body_bytes"`
		SessionIdleMinutes int    `yaml:"session_idle_minutes"`
	} `yaml:"transport"`

	RateLimits struct {
		PerMinute int `yaml:"per_minute"`
		Burst     int `yaml:"burst"`
		Methods   map[string]struct {
			PerMinute int `yaml:"per_minute"`
			Burst     int `yaml:"burst"`
		} `yaml:"methods"`
	} `yaml:"rate_limits"`

	Users map[string]struct {
		Keys   []string `yaml:"keys"` // key hashes
		Scopes []string `yaml:"scopes"`
	} `yaml:"users"`

	OAuthClients map[string]struct {
		SecretHash   string   `yaml:"secret_hash"`
		RedirectURIs []string `yaml:"redirect_uris"`
		Scopes       []string `yaml:"scopes"`
		Public       bool     `yaml:"public"`
	} `yaml:"oauth_clients"`
}

// NewYamlConfig creates a YAML-based configuration and starts watching the
// file for changes.
func NewYamlConfig(configPath string, logger *zap.Logger) (*YamlConfig, error) {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}

	config := &YamlConfig{
		configPath:        configPath,
		logger:            logger,
		userKeyHashes:     make(map[string]string),
		userScopes:        make(map[string][]string),
		oauthClients:      make(map[string]*OAuthClient),
		methodRateLimit:   make(map[string]RateLimit),
		authorizationType: AuthorizedUsersOnly,
		sslMode:           "manual",
		sslAcmeCacheDir:   "./.autocert-cache",
	}

	if err := config.Update(); err != nil {
		return nil, err
	}
	if err := config.startWatcher(); err != nil {
		logger.Warn("Config file watcher unavailable, hot reload disabled", zap.Error(err))
	}
	return config, nil
}

// startWatcher reloads the configuration when the file changes. The parent
// directory is watched because editors replace files on save.
func (c *YamlConfig) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(c.configPath)); err != nil {
		watcher.Close()
		return err
	}
	c.watcher = watcher
	c.watcherDone = make(chan struct{})

	go func() {
		defer close(c.watcherDone)
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(c.configPath) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := c.Update(); err != nil {
					c.logger.Error("Config reload failed, keeping previous configuration", zap.Error(err))
				} else {
					c.logger.Info("Configuration reloaded", zap.String("path", c.configPath))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.logger.Error("Config watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

// Update reloads configuration from the YAML file.
func (c *YamlConfig) Update() error {
	data, err := os.ReadFile(c.configPath)
	if err != nil {
		c.logger.Error("Failed to read config file", zap.Error(err))
		return err
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		c.logger.Error("Failed to parse YAML", zap.Error(err))
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.serverAddress = yamlCfg.Server.Address
	c.serverName = yamlCfg.Server.Name
	c.serverVersion = yamlCfg.Server.Version
	c.logLevel = yamlCfg.Server.LogLevel
	switch strings.ToLower(yamlCfg.Server.Authorization) {
	case "users_only":
		c.authorizationType = AuthorizedUsersOnly
	case "marked_methods":
		c.authorizationType = NotAuthorizedToMarkedMethods
	case "none":
		c.authorizationType = NotAuthorizedEverywhere
	default:
		c.authorizationType = AuthorizedUsersOnly
	}

	switch ResponseMode(strings.ToLower(yamlCfg.Transport.ResponseMode)) {
	case ResponseModeJSON:
		c.responseMode = ResponseModeJSON
	case ResponseModeJSONAsync:
		c.responseMode = ResponseModeJSONAsync
	default:
		c.responseMode = ResponseModeSSE
	}
	c.standaloneStream = true
	if yamlCfg.Transport.StandaloneStream != nil {
		c.standaloneStream = *yamlCfg.Transport.StandaloneStream
	}
	c.requestTimeout = DefaultRequestTimeout
	if yamlCfg.Transport.RequestTimeoutSec > 0 {
		c.requestTimeout = time.Duration(yamlCfg.Transport.RequestTimeoutSec) * time.Second
	}
	c.maxBodyBytes = DefaultMaxBodyBytes
	if yamlCfg.Transport.MaxBodyBytes > 0 {
		c.maxBodyBytes = yamlCfg.Transport.MaxBodyBytes
	}
	c.sessionIdleTimeout = DefaultSessionIdleTimeout
	if yamlCfg.Transport.SessionIdleMinutes > 0 {
		c.sessionIdleTimeout = time.Duration(yamlCfg.Transport.SessionIdleMinutes) * time.Minute
	}

	c.defaultRateLimit = RateLimit{PerMinute: DefaultRatePerMinute, Burst: DefaultRatePerMinute}
	if yamlCfg.RateLimits.PerMinute > 0 {
		c.defaultRateLimit.PerMinute = yamlCfg.RateLimits.PerMinute
		c.defaultRateLimit.Burst = yamlCfg.RateLimits.PerMinute
	}
	if yamlCfg.RateLimits.Burst > 0 {
		c.defaultRateLimit.Burst = yamlCfg.RateLimits.Burst
	}
	newMethodLimits := make(map[string]RateLimit)
	for method, rl := range yamlCfg.RateLimits.Methods {
		limit := RateLimit{PerMinute: rl.PerMinute, Burst: rl.Burst}
		if limit.Burst == 0 {
			limit.Burst = limit.PerMinute
		}
		newMethodLimits[method] = limit
	}
	c.methodRateLimit = newMethodLimits

	c.sslEnabled = yamlCfg.Server.SSL.Enabled
	c.sslMode = strings.ToLower(yamlCfg.Server.SSL.Mode)
	if c.sslMode != "acme" {
		c.sslMode = "manual"
	}
	c.sslCertFile = yamlCfg.Server.SSL.CertFile
	c.sslKeyFile = yamlCfg.Server.SSL.KeyFile
	c.sslAcmeDomains = yamlCfg.Server.SSL.AcmeDomains
	c.sslAcmeEmail = yamlCfg.Server.SSL.AcmeEmail
	c.sslAcmeCacheDir = yamlCfg.Server.SSL.AcmeCacheDir
	if c.sslAcmeCacheDir == "" {
		c.sslAcmeCacheDir = "./.autocert-cache"
	}

	newUserKeyHashes := make(map[string]string)
	newUserScopes := make(map[string][]string)
	for userID, user := range yamlCfg.Users {
		for _, keyHash := range user.Keys {
			newUserKeyHashes[keyHash] = userID
		}
		if len(user.Scopes) > 0 {
			newUserScopes[userID] = append([]string{}, user.Scopes...)
		}
	}
	c.userKeyHashes = newUserKeyHashes
	c.userScopes = newUserScopes

	newClients := make(map[string]*OAuthClient)
	for clientID, client := range yamlCfg.OAuthClients {
		newClients[clientID] = &OAuthClient{
			ID:           clientID,
			SecretHash:   client.SecretHash,
			RedirectURIs: append([]string{}, client.RedirectURIs...),
			Scopes:       append([]string{}, client.Scopes...),
			Public:       client.Public,
		}
	}
	c.oauthClients = newClients

	return nil
}

func (c *YamlConfig) Close() error {
	if c.watcher != nil {
		err := c.watcher.Close()
		<-c.watcherDone
		return err
	}
	return nil
}

func (c *YamlConfig) ListenAddr() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverAddress, nil
}

func (c *YamlConfig) AuthorizationType() (AuthorizationType, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authorizationType, nil
}

func (c *YamlConfig) ServerName() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverName, nil
}

func (c *YamlConfig) ServerVersion() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverVersion, nil
}

func (c *YamlConfig) LogLevel() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logLevel, nil
}

func (c *YamlConfig) ResponseMode() (ResponseMode, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.responseMode, nil
}

func (c *YamlConfig) StandaloneStreamEnabled() (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.standaloneStream, nil
}

func (c *YamlConfig) RequestTimeout() (time.Duration, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.requestTimeout, nil
}

func (c *YamlConfig) MaxBodyBytes() (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.maxBodyBytes, nil
}

func (c *YamlConfig) SessionIdleTimeout() (time.Duration, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionIdleTimeout, nil
}

func (c *YamlConfig) RateLimit(method string) (RateLimit, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if rl, ok := c.methodRateLimit[method]; ok {
		return rl, nil
	}
	return c.defaultRateLimit, nil
}

func (c *YamlConfig) GetUserIDByKeyHash(keyHash string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if keyHash == "" {
		return "", nil
	}
	userID, exists := c.userKeyHashes[keyHash]
	if !exists {
		return "", ErrNotFound
	}
	return userID, nil
}

func (c *YamlConfig) GetUserScopes(userID string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	scopes, exists := c.userScopes[userID]
	if !exists {
		return []string{}, nil
	}
	scopesCopy := make([]string, len(scopes))
	copy(scopesCopy, scopes)
	return scopesCopy, nil
}

func (c *YamlConfig) GetOAuthClient(clientID string) (*OAuthClient, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	client, exists := c.oauthClients[clientID]
	if !exists {
		return nil, ErrNotFound
	}
	clientCopy := *client
	return &clientCopy, nil
}

func (c *YamlConfig) Status(ctx context.Context) error {
	if _, err := os.Stat(c.configPath); err != nil {
		c.logger.Error("YAML config file status check failed", zap.String("path", c.configPath), zap.Error(err))
		return fmt.Errorf("config file error: %w", err)
	}
	return nil
}

func (c *YamlConfig) SSLEnabled() (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sslEnabled, nil
}

func (c *YamlConfig) SSLMode() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sslMode, nil
}

func (c *YamlConfig) SSLCertFile() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sslCertFile, nil
}

func (c *YamlConfig) SSLKeyFile() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sslKeyFile, nil
}

func (c *YamlConfig) SSLAcmeDomains() ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	domainsCopy := make([]string, len(c.sslAcmeDomains))
	copy(domainsCopy, c.sslAcmeDomains)
	return domainsCopy, nil
}

func (c *YamlConfig) SSLAcmeEmail() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sslAcmeEmail, nil
}

func (c *YamlConfig) SSLAcmeCacheDir() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sslAcmeCacheDir, nil
}
