package config

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

var _ IConfig = (*DatabaseConfig)(nil)

// DatabaseConfig implements IConfig backed by a PostgreSQL database. Server
// settings live in a key/value "Settings" table; users, API keys and OAuth
// clients have their own tables.
type DatabaseConfig struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewDatabaseConfig creates a DatabaseConfig and verifies connectivity.
func NewDatabaseConfig(dbConnectionString string, logger *zap.Logger) (*DatabaseConfig, error) {
	db, err := sql.Open("postgres", dbConnectionString)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	return &DatabaseConfig{db: db, logger: logger}, nil
}

func (c *DatabaseConfig) Close() error {
	return c.db.Close()
}

func (c *DatabaseConfig) ListenAddr() (string, error) {
	return c.getSettingString("server_listen_address", ":8080")
}

func (c *DatabaseConfig) ServerName() (string, error) {
	return c.getSettingString("server_name", "mcpserve")
}

func (c *DatabaseConfig) ServerVersion() (string, error) {
	return c.getSettingString("server_version", "1.0.0")
}

func (c *DatabaseConfig) LogLevel() (string, error) {
	return c.getSettingString("server_log_level", "info")
}

func (c *DatabaseConfig) AuthorizationType() (AuthorizationType, error) {
	rawValue, err := c.getSettingJSON("server_authorization_type")
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return AuthorizedUsersOnly, nil
		}
		return AuthorizedUsersOnly, err
	}
	switch v := rawValue.(type) {
	case float64:
		return AuthorizationType(int(v)), nil
	case string:
		switch strings.ToLower(v) {
		case "authorizedusersonly", "users_only":
			return AuthorizedUsersOnly, nil
		case "notauthorizedtomarkedmethods", "marked_methods":
			return NotAuthorizedToMarkedMethods, nil
		case "notauthorizedeverywhere", "none":
			return NotAuthorizedEverywhere, nil
		default:
			var authTypeInt int
			if _, scanErr := fmt.Sscanf(v, "%d", &authTypeInt); scanErr == nil {
				if authTypeInt >= int(AuthorizedUsersOnly) && authTypeInt <= int(NotAuthorizedEverywhere) {
					return AuthorizationType(authTypeInt), nil
				}
			}
			return AuthorizedUsersOnly, fmt.Errorf("invalid authorization type string value: %s", v)
		}
	default:
		return AuthorizedUsersOnly, fmt.Errorf("invalid authorization type format in database: %T", rawValue)
	}
}

func (c *DatabaseConfig) ResponseMode() (ResponseMode, error) {
	mode, err := c.getSettingString("transport_response_mode", string(ResponseModeSSE))
	if err != nil {
		return ResponseModeSSE, err
	}
	switch ResponseMode(strings.ToLower(mode)) {
	case ResponseModeJSON:
		return ResponseModeJSON, nil
	case ResponseModeJSONAsync:
		return ResponseModeJSONAsync, nil
	default:
		return ResponseModeSSE, nil
	}
}

func (c *DatabaseConfig) StandaloneStreamEnabled() (bool, error) {
	return c.getSettingBool("transport_standalone_stream", true)
}

func (c *DatabaseConfig) RequestTimeout() (time.Duration, error) {
	seconds, err := c.getSettingInt("transport_request_timeout_seconds", int(DefaultRequestTimeout/time.Second))
	if err != nil {
		return DefaultRequestTimeout, err
	}
	return time.Duration(seconds) * time.Second, nil
}

func (c *DatabaseConfig) MaxBodyBytes() (int64, error) {
	bytes, err := c.getSettingInt("transport_max_body_bytes", int(DefaultMaxBodyBytes))
	if err != nil {
		return DefaultMaxBodyBytes, err
	}
	return int64(bytes), nil
}

func (c *DatabaseConfig) SessionIdleTimeout() (time.Duration, error) {
	minutes, err := c.getSettingInt("transport_session_idle_minutes", int(DefaultSessionIdleTimeout/time.Minute))
	if err != nil {
		return DefaultSessionIdleTimeout, err
	}
	return time.Duration(minutes) * time.Minute, nil
}

func (c *DatabaseConfig) RateLimit(method string) (RateLimit, error) {
	fallback := RateLimit{PerMinute: DefaultRatePerMinute, Burst: DefaultRatePerMinute}
	rawValue, err := c.getSettingJSON("rate_limits")
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fallback, nil
		}
		return fallback, err
	}
	limits, ok := rawValue.(map[string]interface{})
	if !ok {
		return fallback, fmt.Errorf("rate_limits setting is not a JSON object (type: %T)", rawValue)
	}
	parse := func(v interface{}) (RateLimit, bool) {
		entry, ok := v.(map[string]interface{})
		if !ok {
			return RateLimit{}, false
		}
		rl := RateLimit{}
		if perMinute, ok := entry["per_minute"].(float64); ok {
			rl.PerMinute = int(perMinute)
		}
		if burst, ok := entry["burst"].(float64); ok {
			rl.Burst = int(burst)
		}
		if rl.Burst == 0 {
			rl.Burst = rl.PerMinute
		}
		return rl, rl.PerMinute > 0
	}
	if v, exists := limits[method]; exists {
		if rl, ok := parse(v); ok {
			return rl, nil
		}
	}
	if v, exists := limits["default"]; exists {
		if rl, ok := parse(v); ok {
			return rl, nil
		}
	}
	return fallback, nil
}

func (c *DatabaseConfig) GetUserIDByKeyHash(keyHash string) (string, error) {
	if keyHash == "" {
		return "", nil
	}
	query := `SELECT "userId" FROM "ApiKey" WHERE "keyHash" = $1 LIMIT 1`
	var userID string
	err := c.db.QueryRow(query, keyHash).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("query user by key hash: %w", err)
	}
	return userID, nil
}

func (c *DatabaseConfig) GetUserScopes(userID string) ([]string, error) {
	query := `SELECT scope FROM "UserScope" WHERE "userId" = $1`
	rows, err := c.db.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("query user scopes: %w", err)
	}
	defer rows.Close()

	var scopes []string
	for rows.Next() {
		var scope string
		if scanErr := rows.Scan(&scope); scanErr != nil {
			return nil, fmt.Errorf("scan scope: %w", scanErr)
		}
		scopes = append(scopes, scope)
	}
	return scopes, rows.Err()
}

func (c *DatabaseConfig) GetOAuthClient(clientID string) (*OAuthClient, error) {
	query := `SELECT "secretHash", "redirectUris", scopes, public FROM "OAuthClient" WHERE id = $1 LIMIT 1`
	var secretHash sql.NullString
	var redirectJSON, scopesJSON sql.NullString
	var public bool
	err := c.db.QueryRow(query, clientID).Scan(&secretHash, &redirectJSON, &scopesJSON, &public)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query oauth client: %w", err)
	}

	client := &OAuthClient{ID: clientID, Public: public}
	if secretHash.Valid {
		client.SecretHash = secretHash.String
	}
	if redirectJSON.Valid && redirectJSON.String != "" {
		if err := json.Unmarshal([]byte(redirectJSON.String), &client.RedirectURIs); err != nil {
			return nil, fmt.Errorf("unmarshal redirect uris for client '%s': %w", clientID, err)
		}
	}
	if scopesJSON.Valid && scopesJSON.String != "" {
		if err := json.Unmarshal([]byte(scopesJSON.String), &client.Scopes); err != nil {
			return nil, fmt.Errorf("unmarshal scopes for client '%s': %w", clientID, err)
		}
	}
	return client, nil
}

func (c *DatabaseConfig) Status(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		c.logger.Error("DB ping failed", zap.Error(err))
		return err
	}
	return nil
}

func (c *DatabaseConfig) SSLEnabled() (bool, error) {
	return c.getSettingBool("server_ssl_enabled", false)
}

func (c *DatabaseConfig) SSLMode() (string, error) {
	return c.getSettingString("server_ssl_mode", "manual")
}

func (c *DatabaseConfig) SSLCertFile() (string, error) {
	return c.getSettingString("server_ssl_cert_file", "")
}

func (c *DatabaseConfig) SSLKeyFile() (string, error) {
	return c.getSettingString("server_ssl_key_file", "")
}

func (c *DatabaseConfig) SSLAcmeEmail() (string, error) {
	return c.getSettingString("server_ssl_acme_email", "")
}

func (c *DatabaseConfig) SSLAcmeCacheDir() (string, error) {
	return c.getSettingString("server_ssl_acme_cache_dir", "./.autocert-cache")
}

func (c *DatabaseConfig) SSLAcmeDomains() ([]string, error) {
	return c.getSettingStringSlice("server_ssl_acme_domains", []string{})
}

func (c *DatabaseConfig) getSettingRaw(key string) ([]byte, error) {
	var valueStr sql.NullString
	err := c.db.QueryRowContext(context.Background(),
		`SELECT value FROM "Settings" WHERE key = $1 LIMIT 1`, key).Scan(&valueStr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query setting '%s': %w", key, err)
	}
	if !valueStr.Valid {
		return nil, ErrNotFound
	}
	return []byte(valueStr.String), nil
}

func (c *DatabaseConfig) getSettingJSON(key string) (interface{}, error) {
	raw, err := c.getSettingRaw(key)
	if err != nil {
		return nil, err
	}
	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("unmarshal setting '%s': %w", key, err)
	}
	return value, nil
}

func (c *DatabaseConfig) getSettingString(key string, defaultValue string) (string, error) {
	value, err := c.getSettingJSON(key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return defaultValue, nil
		}
		return defaultValue, err
	}
	switch v := value.(type) {
	case string:
		return v, nil
	case float64:
		return fmt.Sprintf("%v", int(v)), nil
	default:
		return defaultValue, fmt.Errorf("setting '%s' has unexpected type %T", key, value)
	}
}

func (c *DatabaseConfig) getSettingBool(key string, defaultValue bool) (bool, error) {
	value, err := c.getSettingJSON(key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return defaultValue, nil
		}
		return defaultValue, err
	}
	boolValue, ok := value.(bool)
	if !ok {
		return defaultValue, fmt.Errorf("setting '%s' is not a boolean (type: %T)", key, value)
	}
	return boolValue, nil
}

func (c *DatabaseConfig) getSettingInt(key string, defaultValue int) (int, error) {
	value, err := c.getSettingJSON(key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return defaultValue, nil
		}
		return defaultValue, err
	}
	floatValue, ok := value.(float64)
	if !ok {
		return defaultValue, fmt.Errorf("setting '%s' is not a number (type: %T)", key, value)
	}
	return int(floatValue), nil
}

func (c *DatabaseConfig) getSettingStringSlice(key string, defaultValue []string) ([]string, error) {
	value, err := c.getSettingJSON(key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return defaultValue, nil
		}
		return defaultValue, err
	}
	sliceInterface, ok := value.([]interface{})
	if !ok {
		return defaultValue, fmt.Errorf("setting '%s' is not a JSON array of strings (type: %T)", key, value)
	}
	strSlice := make([]string, 0, len(sliceInterface))
	for i, item := range sliceInterface {
		strVal, ok := item.(string)
		if !ok {
			return defaultValue, fmt.Errorf("non-string value at index %d in setting '%s'", i, key)
		}
		strSlice = append(strSlice, strVal)
	}
	return strSlice, nil
}
