package capability_test

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mcpserve/mcpserve/server/mcp/capability"
	"github.com/mcpserve/mcpserve/shared"
	schema "github.com/mcpserve/mcpserve/shared/mcp/2025/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func staticResource(text string) capability.ResourceHandler {
	return func(msg *shared.Message, uri string, vars map[string]string) (schema.Meta, []schema.ResourceContent, error) {
		return nil, []schema.ResourceContent{{URI: uri, MimeType: "text/plain", Text: &text}}, nil
	}
}

func readResult(t *testing.T, raw interface{}) schema.ReadResourceResult {
	t.Helper()
	result, ok := raw.(schema.ReadResourceResult)
	require.True(t, ok, "expected ReadResourceResult, got %T", raw)
	return result
}

func TestResources_ReadConcrete(t *testing.T) {
	manager := newTestManager(t)
	rc := capability.NewResourcesCapability(manager, zap.NewNop())
	require.NoError(t, rc.AddResource("doc://readme", "README", "Project readme", "text/plain", staticResource("hello world")))

	session, _ := connectedSession(t, manager)
	raw, err := rc.GetHandlers()["resources/read"](reqMsg(session, 1, "resources/read", `{"uri":"doc://readme"}`))
	require.NoError(t, err)

	result := readResult(t, raw)
	require.Len(t, result.Contents, 1)
	assert.Equal(t, "doc://readme", result.Contents[0].URI)
	assert.Equal(t, "hello world", *result.Contents[0].Text)
}

func TestResources_ReadUnknown(t *testing.T) {
	manager := newTestManager(t)
	rc := capability.NewResourcesCapability(manager, zap.NewNop())

	session, _ := connectedSession(t, manager)
	_, err := rc.GetHandlers()["resources/read"](reqMsg(session, 1, "resources/read", `{"uri":"doc://missing"}`))
	assert.Equal(t, shared.JSONRPCErrorResourceNotFound, rpcErr(t, err).Code)
}

func TestResources_TemplateMatching(t *testing.T) {
	manager := newTestManager(t)
	rc := capability.NewResourcesCapability(manager, zap.NewNop())

	var gotVars map[string]string
	handler := func(msg *shared.Message, uri string, vars map[string]string) (schema.Meta, []schema.ResourceContent, error) {
		gotVars = vars
		text := "user data"
		return nil, []schema.ResourceContent{{URI: uri, Text: &text}}, nil
	}
	require.NoError(t, rc.AddResourceTemplate("users://{userId}/profile", "User profile", "", "application/json", handler))

	session, _ := connectedSession(t, manager)
	read := rc.GetHandlers()["resources/read"]

	t.Run("SegmentCaptured", func(t *testing.T) {
		_, err := read(reqMsg(session, 1, "resources/read", `{"uri":"users://42/profile"}`))
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"userId": "42"}, gotVars)
	})

	t.Run("SegmentCountMustMatch", func(t *testing.T) {
		_, err := read(reqMsg(session, 2, "resources/read", `{"uri":"users://42/profile/extra"}`))
		assert.Equal(t, shared.JSONRPCErrorResourceNotFound, rpcErr(t, err).Code)
	})

	t.Run("EmptySegmentDoesNotMatch", func(t *testing.T) {
		_, err := read(reqMsg(session, 3, "resources/read", `{"uri":"users:///profile"}`))
		assert.Equal(t, shared.JSONRPCErrorResourceNotFound, rpcErr(t, err).Code)
	})

	t.Run("ConcreteResourceWinsOverTemplate", func(t *testing.T) {
		require.NoError(t, rc.AddResource("users://me/profile", "Own profile", "", "application/json", staticResource("own")))
		raw, err := read(reqMsg(session, 4, "resources/read", `{"uri":"users://me/profile","no_cache":true}`))
		require.NoError(t, err)
		assert.Equal(t, "own", *readResult(t, raw).Contents[0].Text)
	})
}

func TestResources_ReadUsesCache(t *testing.T) {
	manager := newTestManager(t)
	rc := capability.NewResourcesCapability(manager, zap.NewNop())

	var loads atomic.Int32
	handler := func(msg *shared.Message, uri string, vars map[string]string) (schema.Meta, []schema.ResourceContent, error) {
		loads.Add(1)
		text := fmt.Sprintf("load %d", loads.Load())
		return nil, []schema.ResourceContent{{URI: uri, Text: &text}}, nil
	}
	require.NoError(t, rc.AddResource("doc://cached", "Cached", "", "text/plain", handler))

	session, _ := connectedSession(t, manager)
	read := rc.GetHandlers()["resources/read"]

	t.Run("SecondReadServedFromCache", func(t *testing.T) {
		_, err := read(reqMsg(session, 1, "resources/read", `{"uri":"doc://cached"}`))
		require.NoError(t, err)
		raw, err := read(reqMsg(session, 2, "resources/read", `{"uri":"doc://cached"}`))
		require.NoError(t, err)
		assert.Equal(t, "load 1", *readResult(t, raw).Contents[0].Text)
		assert.Equal(t, int32(1), loads.Load())
	})

	t.Run("NoCacheDirectiveBypasses", func(t *testing.T) {
		raw, err := read(reqMsg(session, 3, "resources/read", `{"uri":"doc://cached","no_cache":true}`))
		require.NoError(t, err)
		assert.Equal(t, "load 2", *readResult(t, raw).Contents[0].Text)
	})

	t.Run("UpdateInvalidatesCache", func(t *testing.T) {
		before := loads.Load()
		rc.NotifyResourceUpdated("doc://cached", nil)
		_, err := read(reqMsg(session, 4, "resources/read", `{"uri":"doc://cached"}`))
		require.NoError(t, err)
		assert.Equal(t, before+1, loads.Load())
	})

	t.Run("MetaSurvivesCacheHit", func(t *testing.T) {
		var metaLoads atomic.Int32
		withMeta := func(msg *shared.Message, uri string, vars map[string]string) (schema.Meta, []schema.ResourceContent, error) {
			metaLoads.Add(1)
			text := "annotated"
			return schema.Meta{"revision": "r1"}, []schema.ResourceContent{{URI: uri, Text: &text}}, nil
		}
		require.NoError(t, rc.AddResource("doc://annotated", "Annotated", "", "text/plain", withMeta))

		_, err := read(reqMsg(session, 5, "resources/read", `{"uri":"doc://annotated"}`))
		require.NoError(t, err)
		raw, err := read(reqMsg(session, 6, "resources/read", `{"uri":"doc://annotated"}`))
		require.NoError(t, err)
		require.Equal(t, int32(1), metaLoads.Load())
		assert.Equal(t, "r1", readResult(t, raw).Meta["revision"])
	})
}

func TestResources_Subscriptions(t *testing.T) {
	manager := newTestManager(t)
	rc := capability.NewResourcesCapability(manager, zap.NewNop())
	require.NoError(t, rc.AddResource("doc://watched", "Watched", "", "text/plain", staticResource("v1")))

	subscribe := rc.GetHandlers()["resources/subscribe"]
	unsubscribe := rc.GetHandlers()["resources/unsubscribe"]

	t.Run("UnknownResourceRejected", func(t *testing.T) {
		session, _ := connectedSession(t, manager)
		_, err := subscribe(reqMsg(session, 1, "resources/subscribe", `{"uri":"doc://nope"}`))
		assert.Equal(t, shared.JSONRPCErrorResourceNotFound, rpcErr(t, err).Code)
	})

	t.Run("SubscriberNotifiedExactlyOnce", func(t *testing.T) {
		session, out := connectedSession(t, manager)
		session.SetNegotiatedVersion("2025-03-26")

		// Subscribing twice must not double the notifications.
		raw, err := subscribe(reqMsg(session, 1, "resources/subscribe", `{"uri":"doc://watched"}`))
		require.NoError(t, err)
		assert.Equal(t, map[string]interface{}{"success": true}, raw)
		_, err = subscribe(reqMsg(session, 2, "resources/subscribe", `{"uri":"doc://watched"}`))
		require.NoError(t, err)
		assert.Equal(t, []string{"doc://watched"}, rc.GetSubscribedResources())

		text := "v2"
		rc.NotifyResourceUpdated("doc://watched", []schema.ResourceContent{{URI: "doc://watched", Text: &text}})

		msg := awaitNotification(t, out, "notifications/resources/updated")
		var params map[string]interface{}
		require.NotNil(t, msg.Params)
		require.NoError(t, json.Unmarshal(*msg.Params, &params))
		assert.Equal(t, "doc://watched", params["uri"])
		assert.Contains(t, params, "contents")

		expectNoMessage(t, out)
		rc.RemoveSessionSubscriptions(session.GetID())
	})

	t.Run("LegacyClientGetsNoContents", func(t *testing.T) {
		session, out := connectedSession(t, manager)
		session.SetNegotiatedVersion("2024-11-05")

		_, err := subscribe(reqMsg(session, 1, "resources/subscribe", `{"uri":"doc://watched"}`))
		require.NoError(t, err)

		text := "v3"
		rc.NotifyResourceUpdated("doc://watched", []schema.ResourceContent{{URI: "doc://watched", Text: &text}})

		msg := awaitNotification(t, out, "notifications/resources/updated")
		var params map[string]interface{}
		require.NoError(t, json.Unmarshal(*msg.Params, &params))
		assert.NotContains(t, params, "contents")

		rc.RemoveSessionSubscriptions(session.GetID())
	})

	t.Run("UnsubscribeStopsNotifications", func(t *testing.T) {
		session, out := connectedSession(t, manager)

		_, err := subscribe(reqMsg(session, 1, "resources/subscribe", `{"uri":"doc://watched"}`))
		require.NoError(t, err)
		raw, err := unsubscribe(reqMsg(session, 2, "resources/unsubscribe", `{"uri":"doc://watched"}`))
		require.NoError(t, err)
		assert.Equal(t, map[string]interface{}{"success": true}, raw)

		rc.NotifyResourceUpdated("doc://watched", nil)
		expectNoMessage(t, out)
	})

	t.Run("ClosedSessionSubscriptionsRemoved", func(t *testing.T) {
		session, out := connectedSession(t, manager)

		_, err := subscribe(reqMsg(session, 1, "resources/subscribe", `{"uri":"doc://watched"}`))
		require.NoError(t, err)

		rc.RemoveSessionSubscriptions(session.GetID())
		rc.NotifyResourceUpdated("doc://watched", nil)
		expectNoMessage(t, out)
		assert.Empty(t, rc.GetSubscribedResources())
	})
}

func TestResources_SubscriptionHandlerCallbacks(t *testing.T) {
	manager := newTestManager(t)
	rc := capability.NewResourcesCapability(manager, zap.NewNop())
	require.NoError(t, rc.AddResource("doc://watched", "Watched", "", "text/plain", staticResource("v1")))

	type event struct {
		op    capability.SubscriptionOperation
		uri   string
		count int
	}
	eventCh := make(chan event, 4)
	rc.AddSubscriptionHandler(func(s shared.ISession, op capability.SubscriptionOperation, uri string, count int) {
		eventCh <- event{op: op, uri: uri, count: count}
	})

	session, _ := connectedSession(t, manager)
	_, err := rc.GetHandlers()["resources/subscribe"](reqMsg(session, 1, "resources/subscribe", `{"uri":"doc://watched"}`))
	require.NoError(t, err)

	select {
	case got := <-eventCh:
		assert.Equal(t, capability.Subscribe, got.op)
		assert.Equal(t, "doc://watched", got.uri)
		assert.Equal(t, 1, got.count)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription handler never fired")
	}

	_, err = rc.GetHandlers()["resources/unsubscribe"](reqMsg(session, 2, "resources/unsubscribe", `{"uri":"doc://watched"}`))
	require.NoError(t, err)

	select {
	case got := <-eventCh:
		assert.Equal(t, capability.Unsubscribe, got.op)
		assert.Equal(t, 0, got.count)
	case <-time.After(2 * time.Second):
		t.Fatal("unsubscribe handler never fired")
	}
}

func TestResources_ListAndTemplatesList(t *testing.T) {
	manager := newTestManager(t)
	rc := capability.NewResourcesCapability(manager, zap.NewNop())
	require.NoError(t, rc.AddResource("doc://a", "A", "", "text/plain", staticResource("a")))
	require.NoError(t, rc.AddResource("doc://b", "B", "", "text/plain", staticResource("b")))
	require.NoError(t, rc.AddResourceTemplate("doc://{name}", "Any doc", "", "text/plain", staticResource("x")))

	session, _ := connectedSession(t, manager)

	raw, err := rc.GetHandlers()["resources/list"](reqMsg(session, 1, "resources/list", ""))
	require.NoError(t, err)
	list, ok := raw.(schema.ListResourcesResult)
	require.True(t, ok)
	assert.Len(t, list.Resources, 2)

	raw, err = rc.GetHandlers()["resources/templates/list"](reqMsg(session, 2, "resources/templates/list", ""))
	require.NoError(t, err)
	templates, ok := raw.(schema.ListResourceTemplatesResult)
	require.True(t, ok)
	require.Len(t, templates.ResourceTemplates, 1)
	assert.Equal(t, "doc://{name}", templates.ResourceTemplates[0].URITemplate)
}

func TestResources_DeleteResource(t *testing.T) {
	manager := newTestManager(t)
	rc := capability.NewResourcesCapability(manager, zap.NewNop())
	require.NoError(t, rc.AddResource("doc://gone", "Gone", "", "text/plain", staticResource("x")))

	session, _ := connectedSession(t, manager)
	_, err := rc.GetHandlers()["resources/subscribe"](reqMsg(session, 1, "resources/subscribe", `{"uri":"doc://gone"}`))
	require.NoError(t, err)

	require.NoError(t, rc.DeleteResource("doc://gone"))
	assert.ErrorContains(t, rc.DeleteResource("doc://gone"), "does not exist")
	assert.Empty(t, rc.GetSubscribedResources())

	_, err = rc.GetHandlers()["resources/read"](reqMsg(session, 2, "resources/read", `{"uri":"doc://gone"}`))
	assert.Equal(t, shared.JSONRPCErrorResourceNotFound, rpcErr(t, err).Code)
}
