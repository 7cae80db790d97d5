package mcp

import (
	"errors"
	"sync"
	"time"

	"github.com/mcpserve/mcpserve/server/events"
	"github.com/mcpserve/mcpserve/shared"
	"github.com/mcpserve/mcpserve/shared/config"
	"github.com/mcpserve/mcpserve/shared/mcp/2025/schema"
	"go.uber.org/zap"
)

var ErrSessionNotFound = errors.New("session not found")

type ISessionManager interface {
	CreateSession(userID string, params *sync.Map) shared.ISession
	GetSession(id string) (shared.ISession, error)
	CloseSession(id string)
	CloseAllSessions()
	GetLogger() *zap.Logger

	NotifyEligibleSessions(method string, params map[string]any)
	CleanupIdleSessions(timeout time.Duration)
	GetServerInfo() *schema.Implementation
}

var _ ISessionManager = (*Manager)(nil)

// Manager owns all active sessions and the shared input processor.
type Manager struct {
	sessions       map[string]*Session
	mu             sync.RWMutex
	logger         *zap.Logger
	ServerInfo     schema.Implementation
	inputProcessor *shared.Input
	operations     *operationTracker
	bus            *events.Bus
}

// NewManager creates a session manager and starts the dispatch loop.
func NewManager(logger *zap.Logger, cfg config.IConfig, bus *events.Bus) (*Manager, error) {
	serverName, err := cfg.ServerName()
	if err != nil {
		return nil, err
	}
	serverVersion, err := cfg.ServerVersion()
	if err != nil {
		return nil, err
	}

	m := &Manager{
		sessions:       make(map[string]*Session),
		logger:         logger,
		inputProcessor: shared.NewInput(logger),
		operations:     newOperationTracker(),
		bus:            bus,
		ServerInfo: schema.Implementation{
			Name:    serverName,
			Version: serverVersion,
		},
	}
	go m.inputProcessor.Process()
	return m, nil
}

func (m *Manager) GetLogger() *zap.Logger {
	return m.logger
}

func (m *Manager) GetServerInfo() *schema.Implementation {
	return &m.ServerInfo
}

func (m *Manager) AddCapability(capabilities ...shared.IServerCapability) {
	m.inputProcessor.AddServerCapability(capabilities...)
}

func (m *Manager) AddValidator(validators ...shared.MessageValidator) {
	m.inputProcessor.AddValidator(validators...)
}

// CreateSession creates a new session with a unique ID.
func (m *Manager) CreateSession(userID string, params *sync.Map) shared.ISession {
	m.mu.Lock()
	defer m.mu.Unlock()

	session := NewSession(m, userID, m.inputProcessor, params)
	session.operations = m.operations
	m.sessions[session.ID] = session

	m.logger.Debug("Created new session",
		zap.String("sessionID", session.ID),
		zap.String("userID", userID),
	)
	if m.bus != nil {
		m.bus.Publish(events.TopicSessionConnected, session.ID, userID)
	}
	return session
}

// GetSession retrieves a session by its ID.
func (m *Manager) GetSession(id string) (shared.ISession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[id]
	if !exists {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// CloseSession cancels the session's operations and removes it.
func (m *Manager) CloseSession(id string) {
	m.mu.Lock()
	session, exists := m.sessions[id]
	if exists {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !exists {
		m.logger.Warn("Attempted to close non-existent session", zap.String("sessionID", id))
		return
	}
	if err := session.Close(); err != nil {
		m.logger.Error("Error closing session resources", zap.String("sessionID", id), zap.Error(err))
	}
	m.logger.Info("Closed session", zap.String("sessionID", id))
	if m.bus != nil {
		m.bus.Publish(events.TopicSessionClosed, id, "")
	}
}

func (m *Manager) CloseAllSessions() {
	m.mu.RLock()
	idsToClose := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		idsToClose = append(idsToClose, id)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, id := range idsToClose {
		wg.Add(1)
		go func(sessionID string) {
			defer wg.Done()
			m.CloseSession(sessionID)
		}(id)
	}
	wg.Wait()
	m.logger.Info("Closed all sessions")
}

// CleanupIdleSessions closes sessions without activity inside the timeout.
func (m *Manager) CleanupIdleSessions(timeout time.Duration) {
	m.mu.RLock()
	idleIDs := make([]string, 0)
	for id, session := range m.sessions {
		if session.GetLastActivity().Add(timeout).Before(time.Now()) {
			idleIDs = append(idleIDs, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range idleIDs {
		m.logger.Info("Closing idle session", zap.String("sessionID", id))
		m.CloseSession(id)
	}
}

// NotifyEligibleSessions broadcasts a notification to every connected session.
func (m *Manager) NotifyEligibleSessions(method string, params map[string]any) {
	m.mu.RLock()
	sessionsToNotify := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		if session.GetStatus() == shared.StatusConnected {
			sessionsToNotify = append(sessionsToNotify, session)
		}
	}
	m.mu.RUnlock()

	if len(sessionsToNotify) == 0 {
		return
	}
	m.logger.Debug("Sending notification to eligible sessions",
		zap.String("method", method),
		zap.Int("count", len(sessionsToNotify)),
	)
	for _, session := range sessionsToNotify {
		session.SendNotification(method, params)
	}
	if m.bus != nil {
		m.bus.Publish(events.TopicListChanged, "", method)
	}
}

// SessionCount reports the number of live sessions, for the status handler.
func (m *Manager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
