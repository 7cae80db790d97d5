package capability

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/mcpserve/mcpserve/server/mcp"
	"github.com/mcpserve/mcpserve/shared"

	schema "github.com/mcpserve/mcpserve/shared/mcp/2025/schema"
	"go.uber.org/zap"
)

// SubscriptionOperation represents the type of subscription event.
type SubscriptionOperation int

const (
	Subscribe SubscriptionOperation = iota
	Unsubscribe
)

// SubscriptionHandler is called on subscribe/unsubscribe events with the
// session, operation, URI and current subscriber count for that URI.
type SubscriptionHandler func(session shared.ISession, operation SubscriptionOperation, uri string, count int)

// ResourceHandler processes a resource read. Template-backed reads receive
// the variables extracted from the URI.
type ResourceHandler func(msg *shared.Message, uri string, templateVars map[string]string) (schema.Meta, []schema.ResourceContent, error)

var _ shared.IServerCapability = (*ResourcesCapability)(nil)

// ResourcesCapability handles resource management, cached reads, URI
// templates and subscriptions.
type ResourcesCapability struct {
	logger                *zap.Logger
	manager               *mcp.Manager
	cache                 *mcp.ResourceCache
	mu                    sync.RWMutex
	resources             map[string]*Resource
	templates             map[string]*ResourceTemplate
	subscribers           map[string]map[string]bool // URI -> set of session IDs
	subscribeOnSubscribes []SubscriptionHandler
	handlers              map[string]func(*shared.Message) (interface{}, error)
}

// Resource represents a concrete resource entity.
type Resource struct {
	schema.Resource
	Handler      ResourceHandler
	LastModified time.Time
}

// ResourceTemplate represents a parameterized resource. Template variables
// in the form {name} each match exactly one path segment.
type ResourceTemplate struct {
	schema.ResourceTemplate
	Handler ResourceHandler
}

// NewResourcesCapability creates a new ResourcesCapability.
func NewResourcesCapability(manager *mcp.Manager, logger *zap.Logger) *ResourcesCapability {
	rc := &ResourcesCapability{
		manager:               manager,
		logger:                logger,
		cache:                 mcp.NewResourceCache(mcp.DefaultResourceCacheTTL),
		resources:             make(map[string]*Resource),
		templates:             make(map[string]*ResourceTemplate),
		subscribers:           make(map[string]map[string]bool),
		subscribeOnSubscribes: make([]SubscriptionHandler, 0),
	}
	rc.handlers = map[string]func(*shared.Message) (interface{}, error){
		"resources/list":           rc.handleResourcesList,
		"resources/read":           rc.handleResourcesRead,
		"resources/subscribe":      rc.handleResourcesSubscribe,
		"resources/unsubscribe":    rc.handleResourcesUnsubscribe,
		"resources/templates/list": rc.handleResourceTemplatesList,
	}
	return rc
}

func (rc *ResourcesCapability) GetHandlers() map[string]func(*shared.Message) (interface{}, error) {
	return rc.handlers
}

func (rc *ResourcesCapability) SetCapabilities(s *schema.ServerCapabilities) {
	s.Resources = &schema.CapabilityWithSubscribe{
		ListChanged: true,
		Subscribe:   true,
	}
}

// AddResource registers a concrete resource and notifies clients.
func (rc *ResourcesCapability) AddResource(uri string, name string, description string, mimeType string, handler ResourceHandler) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if _, exists := rc.resources[uri]; exists {
		return fmt.Errorf("resource with URI '%s' already exists", uri)
	}

	rc.resources[uri] = &Resource{
		Resource: schema.Resource{
			URI:         uri,
			Name:        name,
			Description: description,
			MimeType:    mimeType,
		},
		Handler:      handler,
		LastModified: time.Now(),
	}

	rc.logger.Info("Added resource", zap.String("uri", uri))
	go rc.broadcastResourcesListChanged()
	return nil
}

// UpdateResource replaces an existing resource and notifies subscribers.
func (rc *ResourcesCapability) UpdateResource(uri string, name string, description string, mimeType string, handler ResourceHandler) error {
	rc.mu.Lock()
	resource, exists := rc.resources[uri]
	if !exists {
		rc.mu.Unlock()
		return fmt.Errorf("resource with URI '%s' does not exist", uri)
	}
	resource.Name = name
	resource.Description = description
	resource.MimeType = mimeType
	resource.Handler = handler
	resource.LastModified = time.Now()
	rc.mu.Unlock()

	rc.logger.Info("Updated resource", zap.String("uri", uri))
	go rc.NotifyResourceUpdated(uri, nil)
	return nil
}

// DeleteResource removes a resource, its subscriptions and its cache entry.
func (rc *ResourcesCapability) DeleteResource(uri string) error {
	rc.mu.Lock()
	if _, exists := rc.resources[uri]; !exists {
		rc.mu.Unlock()
		return fmt.Errorf("resource with URI '%s' does not exist", uri)
	}
	delete(rc.resources, uri)
	delete(rc.subscribers, uri)
	rc.mu.Unlock()

	rc.cache.Remove(uri)
	rc.logger.Info("Deleted resource", zap.String("uri", uri))
	go rc.broadcastResourcesListChanged()
	return nil
}

// AddResourceTemplate registers a URI template.
func (rc *ResourcesCapability) AddResourceTemplate(uriTemplate string, name string, description string, mimeType string, handler ResourceHandler) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if _, exists := rc.templates[uriTemplate]; exists {
		return fmt.Errorf("resource template with URI template '%s' already exists", uriTemplate)
	}

	rc.templates[uriTemplate] = &ResourceTemplate{
		ResourceTemplate: schema.ResourceTemplate{
			URITemplate: uriTemplate,
			Name:        name,
			Description: description,
			MimeType:    mimeType,
		},
		Handler: handler,
	}

	rc.logger.Info("Added resource template", zap.String("uriTemplate", uriTemplate))
	return nil
}

// DeleteResourceTemplate removes a resource template.
func (rc *ResourcesCapability) DeleteResourceTemplate(uriTemplate string) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if _, exists := rc.templates[uriTemplate]; !exists {
		return fmt.Errorf("resource template with URI template '%s' does not exist", uriTemplate)
	}

	delete(rc.templates, uriTemplate)
	rc.logger.Info("Deleted resource template", zap.String("uriTemplate", uriTemplate))
	return nil
}

// matchTemplate matches a URI against a template. Each {name} placeholder
// captures exactly one path segment.
func matchTemplate(template, uri string) (map[string]string, bool) {
	templateParts := strings.Split(template, "/")
	uriParts := strings.Split(uri, "/")
	if len(templateParts) != len(uriParts) {
		return nil, false
	}
	vars := make(map[string]string)
	for i, part := range templateParts {
		if strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}") {
			name := part[1 : len(part)-1]
			if name == "" || uriParts[i] == "" {
				return nil, false
			}
			vars[name] = uriParts[i]
			continue
		}
		if part != uriParts[i] {
			return nil, false
		}
	}
	return vars, true
}

// resolve finds the handler serving a URI: a concrete resource first, then
// the first matching template.
func (rc *ResourcesCapability) resolve(uri string) (ResourceHandler, map[string]string, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	if resource, exists := rc.resources[uri]; exists {
		return resource.Handler, nil, true
	}
	for templateURI, template := range rc.templates {
		if vars, ok := matchTemplate(templateURI, uri); ok {
			return template.Handler, vars, true
		}
	}
	return nil, nil, false
}

// NotifyResourceUpdated invalidates the cache entry and fans out
// "notifications/resources/updated" to every subscriber of the URI.
// Content is optional and only carried by the 2025-03-26 variant.
func (rc *ResourcesCapability) NotifyResourceUpdated(uri string, contents []schema.ResourceContent) {
	rc.cache.Invalidate(uri)

	rc.mu.RLock()
	subscribersMap, exists := rc.subscribers[uri]
	if !exists || len(subscribersMap) == 0 {
		rc.mu.RUnlock()
		rc.logger.Debug("No active subscribers for resource update", zap.String("uri", uri))
		return
	}
	subscriberIDs := make([]string, 0, len(subscribersMap))
	for sessionID := range subscribersMap {
		subscriberIDs = append(subscriberIDs, sessionID)
	}
	rc.mu.RUnlock()

	rc.logger.Debug("Notifying subscribers about resource update",
		zap.String("uri", uri), zap.Int("count", len(subscriberIDs)))

	var wg sync.WaitGroup
	for _, sessionID := range subscriberIDs {
		wg.Add(1)
		go func(sID string) {
			defer wg.Done()
			s, err := rc.manager.GetSession(sID)
			if err != nil {
				rc.logger.Warn("Failed to get session for notification, removing subscription",
					zap.Error(err), zap.String("uri", uri), zap.String("sessionID", sID))
				rc.mu.Lock()
				if subs, ok := rc.subscribers[uri]; ok {
					delete(subs, sID)
					if len(subs) == 0 {
						delete(rc.subscribers, uri)
					}
				}
				rc.mu.Unlock()
				return
			}
			params := map[string]any{"uri": uri}
			if len(contents) > 0 && s.GetNegotiatedVersion() == schema.PROTOCOL_VERSION {
				params["contents"] = contents
			}
			s.SendNotification("notifications/resources/updated", params)
		}(sessionID)
	}
	wg.Wait()
}

// RemoveSessionSubscriptions drops every subscription a session holds,
// used when the session closes.
func (rc *ResourcesCapability) RemoveSessionSubscriptions(sessionID string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	for uri, subs := range rc.subscribers {
		if subs[sessionID] {
			delete(subs, sessionID)
			if len(subs) == 0 {
				delete(rc.subscribers, uri)
			}
		}
	}
}

func (rc *ResourcesCapability) broadcastResourcesListChanged() {
	if rc.manager == nil {
		rc.logger.Error("Cannot broadcast resource list changed: manager not set")
		return
	}
	rc.manager.NotifyEligibleSessions("notifications/resources/list_changed", nil)
}

// handleResourcesList handles the "resources/list" request.
func (rc *ResourcesCapability) handleResourcesList(msg *shared.Message) (interface{}, error) {
	logger := rc.logger.With(zap.String("sessionID", msg.Session.GetID()), zap.String("method", "resources/list"))

	rc.mu.RLock()
	defer rc.mu.RUnlock()

	var params schema.ListResourcesRequestParams
	if msg.Params != nil {
		if err := json.Unmarshal(*msg.Params, &params); err != nil {
			logger.Warn("Failed to unmarshal pagination params", zap.Error(err))
			return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: fmt.Sprintf("invalid parameters: %v", err)}
		}
	}

	resourcesList := make([]schema.Resource, 0, len(rc.resources))
	for _, resource := range rc.resources {
		resourcesList = append(resourcesList, resource.Resource)
	}

	result := schema.ListResourcesResult{
		Resources: resourcesList,
		PaginatedResult: schema.PaginatedResult{
			NextCursor: nil,
		},
	}

	logger.Debug("Returning resource list", zap.Int("count", len(result.Resources)))
	return result, nil
}

// readParams carries the URI plus the cache directives of a read request.
type readParams struct {
	URI         string `json:"uri"`
	NoCache     bool   `json:"no_cache,omitempty"`
	Cacheable   *bool  `json:"cacheable,omitempty"`
	CacheMaxAge int    `json:"cache_max_age,omitempty"` // seconds
}

// handleResourcesRead handles the "resources/read" request, consulting the
// cache per the request's directives.
func (rc *ResourcesCapability) handleResourcesRead(msg *shared.Message) (interface{}, error) {
	logger := rc.logger.With(zap.String("sessionID", msg.Session.GetID()), zap.String("method", "resources/read"))

	var params readParams
	if msg.Params == nil {
		logger.Warn("Missing parameters in resources/read request")
		return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: "invalid request: missing params"}
	}
	if err := json.Unmarshal(*msg.Params, &params); err != nil {
		logger.Error("Failed to unmarshal resources/read params", zap.Error(err))
		return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: fmt.Sprintf("invalid parameters: %v", err)}
	}
	logger = logger.With(zap.String("uri", params.URI))

	handler, templateVars, found := rc.resolve(params.URI)
	if !found {
		logger.Warn("Resource not found")
		return nil, &shared.JSONRPCError{
			Code:    shared.JSONRPCErrorResourceNotFound,
			Message: fmt.Sprintf("resource not found: %s", params.URI),
		}
	}
	if handler == nil {
		logger.Error("Resource found but handler is nil")
		return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInternal, Message: fmt.Sprintf("no handler available for resource %s", params.URI)}
	}

	opts := mcp.DefaultReadOptions()
	opts.NoCache = params.NoCache
	if params.Cacheable != nil {
		opts.Cacheable = *params.Cacheable
	}
	if params.CacheMaxAge > 0 {
		opts.CacheMaxAge = time.Duration(params.CacheMaxAge) * time.Second
	}

	meta, contents, err := rc.cache.GetOrLoad(params.URI, opts, func() (schema.Meta, []schema.ResourceContent, error) {
		return handler(msg, params.URI, templateVars)
	})
	if err != nil {
		logger.Error("Resource handler returned an error", zap.Error(err))
		return nil, shared.NewJSONRPCError(err)
	}

	result := schema.ReadResourceResult{
		Meta:     meta,
		Contents: contents,
	}

	logger.Debug("Successfully read resource", zap.Int("contentParts", len(result.Contents)))
	return result, nil
}

// handleResourceTemplatesList handles the "resources/templates/list" request.
func (rc *ResourcesCapability) handleResourceTemplatesList(msg *shared.Message) (interface{}, error) {
	logger := rc.logger.With(zap.String("sessionID", msg.Session.GetID()), zap.String("method", "resources/templates/list"))

	rc.mu.RLock()
	defer rc.mu.RUnlock()

	var params schema.ListResourceTemplatesRequestParams
	if msg.Params != nil {
		if err := json.Unmarshal(*msg.Params, &params); err != nil {
			logger.Warn("Failed to unmarshal pagination params", zap.Error(err))
			return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: fmt.Sprintf("invalid parameters: %v", err)}
		}
	}

	templatesList := make([]schema.ResourceTemplate, 0, len(rc.templates))
	for _, template := range rc.templates {
		templatesList = append(templatesList, template.ResourceTemplate)
	}

	result := schema.ListResourceTemplatesResult{
		ResourceTemplates: templatesList,
		PaginatedResult: schema.PaginatedResult{
			NextCursor: nil,
		},
	}

	logger.Debug("Returning resource templates list", zap.Int("count", len(result.ResourceTemplates)))
	return result, nil
}

// AddSubscriptionHandler registers a callback for subscription events.
func (rc *ResourcesCapability) AddSubscriptionHandler(handler SubscriptionHandler) {
	if handler == nil {
		return
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.subscribeOnSubscribes = append(rc.subscribeOnSubscribes, handler)
}

// RemoveSubscriptionHandler removes a previously registered callback.
func (rc *ResourcesCapability) RemoveSubscriptionHandler(handler SubscriptionHandler) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	targetPtr := reflect.ValueOf(handler).Pointer()
	found := false
	newHandlers := rc.subscribeOnSubscribes[:0]
	for _, h := range rc.subscribeOnSubscribes {
		if reflect.ValueOf(h).Pointer() != targetPtr {
			newHandlers = append(newHandlers, h)
		} else {
			found = true
		}
	}
	rc.subscribeOnSubscribes = newHandlers

	if !found {
		rc.logger.Warn("Attempted to remove a subscription handler that was not registered")
	}
}

func (rc *ResourcesCapability) notifySubscriptionHandlers(session shared.ISession, operation SubscriptionOperation, uri string, count int) {
	rc.mu.RLock()
	handlers := make([]SubscriptionHandler, len(rc.subscribeOnSubscribes))
	copy(handlers, rc.subscribeOnSubscribes)
	rc.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	for _, handler := range handlers {
		go func(h SubscriptionHandler) {
			defer func() {
				if r := recover(); r != nil {
					rc.logger.Error("Panic recovered in subscription handler", zap.Any("panic", r), zap.String("uri", uri))
				}
			}()
			h(session, operation, uri, count)
		}(handler)
	}
}

// handleResourcesSubscribe handles the "resources/subscribe" request.
func (rc *ResourcesCapability) handleResourcesSubscribe(msg *shared.Message) (interface{}, error) {
	logger := rc.logger.With(zap.String("sessionID", msg.Session.GetID()), zap.String("method", "resources/subscribe"))

	var params schema.SubscribeRequestParams
	if msg.Params == nil {
		logger.Warn("Missing parameters in subscribe request")
		return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: "invalid request: missing params"}
	}
	if err := json.Unmarshal(*msg.Params, &params); err != nil {
		logger.Error("Failed to unmarshal subscribe params", zap.Error(err))
		return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: fmt.Sprintf("invalid parameters: %v", err)}
	}
	logger = logger.With(zap.String("uri", params.URI))

	if _, _, found := rc.resolve(params.URI); !found {
		logger.Warn("Attempt to subscribe to unknown resource")
		return nil, &shared.JSONRPCError{
			Code:    shared.JSONRPCErrorResourceNotFound,
			Message: fmt.Sprintf("cannot subscribe to unknown resource: %s", params.URI),
		}
	}

	rc.mu.Lock()
	if rc.subscribers[params.URI] == nil {
		rc.subscribers[params.URI] = make(map[string]bool)
	}
	isNewSubscription := !rc.subscribers[params.URI][msg.Session.GetID()]
	rc.subscribers[params.URI][msg.Session.GetID()] = true
	currentCount := len(rc.subscribers[params.URI])
	rc.mu.Unlock()

	if isNewSubscription {
		logger.Info("Resource subscription added", zap.Int("currentCount", currentCount))
		go rc.notifySubscriptionHandlers(msg.Session, Subscribe, params.URI, currentCount)
	} else {
		logger.Debug("Client re-subscribed to resource", zap.Int("currentCount", currentCount))
	}

	return map[string]interface{}{"success": true}, nil
}

// handleResourcesUnsubscribe handles the "resources/unsubscribe" request.
func (rc *ResourcesCapability) handleResourcesUnsubscribe(msg *shared.Message) (interface{}, error) {
	logger := rc.logger.With(zap.String("sessionID", msg.Session.GetID()), zap.String("method", "resources/unsubscribe"))

	var params schema.UnsubscribeRequestParams
	if msg.Params == nil {
		logger.Warn("Missing parameters in unsubscribe request")
		return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: "invalid request: missing params"}
	}
	if err := json.Unmarshal(*msg.Params, &params); err != nil {
		logger.Error("Failed to unmarshal unsubscribe params", zap.Error(err))
		return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: fmt.Sprintf("invalid parameters: %v", err)}
	}
	logger = logger.With(zap.String("uri", params.URI))

	rc.mu.Lock()
	var currentCount int
	wasSubscribed := false
	if subscribersMap, exists := rc.subscribers[params.URI]; exists {
		if _, subscribed := subscribersMap[msg.Session.GetID()]; subscribed {
			wasSubscribed = true
			delete(subscribersMap, msg.Session.GetID())
			currentCount = len(subscribersMap)
			if currentCount == 0 {
				delete(rc.subscribers, params.URI)
			}
		}
	}
	rc.mu.Unlock()

	if wasSubscribed {
		logger.Info("Resource subscription removed", zap.Int("remainingCount", currentCount))
		go rc.notifySubscriptionHandlers(msg.Session, Unsubscribe, params.URI, currentCount)
	} else {
		logger.Debug("Client unsubscribed from resource it wasn't subscribed to")
	}

	return map[string]interface{}{"success": true}, nil
}

// GetSubscribedResources returns the URIs with at least one subscriber.
func (rc *ResourcesCapability) GetSubscribedResources() []string {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	uris := make([]string, 0, len(rc.subscribers))
	for uri, subscribers := range rc.subscribers {
		if len(subscribers) > 0 {
			uris = append(uris, uri)
		}
	}
	return uris
}
