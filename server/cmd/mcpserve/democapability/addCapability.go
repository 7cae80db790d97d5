// Package democapability wires a small demo surface onto the server: echo
// and arithmetic tools, static resources, a templated resource, two prompts
// and argument completion for them.
package democapability

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mcpserve/mcpserve/server"
	"github.com/mcpserve/mcpserve/server/mcp"
	"github.com/mcpserve/mcpserve/server/mcp/capability"
	"github.com/mcpserve/mcpserve/server/mcp/validators"
	"github.com/mcpserve/mcpserve/shared/config"
	"go.uber.org/zap"

	"github.com/mcpserve/mcpserve/shared"
	schema "github.com/mcpserve/mcpserve/shared/mcp/2025/schema"
)

var EchoTool = schema.Tool{
	Name:        "echo",
	Description: "echo a message",
	InputSchema: &schema.JSONSchemaProperty{
		Type: "object",
		Properties: map[string]schema.JSONSchemaProperty{
			"message": {
				Type:        "string",
				Description: "The message to echo back",
			},
		},
		Required: []string{"message"},
	},
}

func EchoToolHandler(_ *shared.Message, arguments schema.Arguments) (*schema.Meta, []schema.Content, error) {
	message, ok := arguments["message"].(string)
	if !ok {
		return nil, nil, fmt.Errorf("invalid 'message' argument type: expected string")
	}
	text := "Echo: " + message
	return nil, []schema.Content{{
		Type: "text",
		Text: &text,
	}}, nil
}

var AddTool = schema.Tool{
	Name:        "add",
	Description: "add two numbers",
	InputSchema: &schema.JSONSchemaProperty{
		Type: "object",
		Properties: map[string]schema.JSONSchemaProperty{
			"a": {
				Type:        "number",
				Description: "First number to add",
			},
			"b": {
				Type:        "number",
				Description: "Second number to add",
			},
		},
		Required: []string{"a", "b"},
	},
}

func AddToolHandler(_ *shared.Message, arguments schema.Arguments) (*schema.Meta, []schema.Content, error) {
	aFloat, okA := arguments["a"].(float64)
	bFloat, okB := arguments["b"].(float64)
	if !okA || !okB {
		return nil, nil, fmt.Errorf("invalid number arguments: expected float64")
	}
	result := strconv.Itoa(int(aFloat + bFloat))
	return nil, []schema.Content{{
		Type: "text",
		Text: &result,
	}}, nil
}

var LongRunningTool = schema.Tool{
	Name:        "longRunningOperation",
	Description: "long running operation that reports progress and honors cancellation",
	InputSchema: &schema.JSONSchemaProperty{
		Type: "object",
		Properties: map[string]schema.JSONSchemaProperty{
			"duration": {Type: "number"},
			"steps":    {Type: "number"},
		},
		Required: []string{"duration"},
	},
}

func LongRunningHandler(msg *shared.Message, arguments schema.Arguments) (*schema.Meta, []schema.Content, error) {
	durationFloat, ok := arguments["duration"].(float64)
	if !ok {
		return nil, nil, fmt.Errorf("invalid 'duration' argument type: expected number")
	}
	steps := 5
	if stepsFloat, ok := arguments["steps"].(float64); ok && stepsFloat > 0 {
		steps = int(stepsFloat)
	}

	session, _ := msg.Session.(*mcp.Session)
	progressToken, hasToken := mcp.ProgressTokenFor(msg)
	stepDuration := time.Duration(durationFloat*float64(time.Second)) / time.Duration(steps)
	for i := 0; i < steps; i++ {
		if session != nil && msg.ID != nil {
			if op, ok := session.OperationForRequest(msg.ID); ok && op.IsCancelled() {
				result := "cancelled"
				return nil, []schema.Content{{Type: "text", Text: &result}}, nil
			}
		}
		if session != nil && hasToken {
			total := float64(steps)
			progressMsg := fmt.Sprintf("step %d of %d", i+1, steps)
			session.SendProgress(progressToken, float64(i+1), &total, &progressMsg)
		}
		time.Sleep(stepDuration)
	}

	result := "completed"
	return nil, []schema.Content{{
		Type: "text",
		Text: &result,
	}}, nil
}

var PrintEnvTool = schema.Tool{
	Name:        "printEnv",
	Description: "print all environment variables, helpful for debugging MCP server configuration",
	InputSchema: &schema.JSONSchemaProperty{
		Type:       "object",
		Properties: map[string]schema.JSONSchemaProperty{},
	},
}

func PrintEnvHandler(_ *shared.Message, _ schema.Arguments) (*schema.Meta, []schema.Content, error) {
	envMap := make(map[string]string)
	for _, kv := range os.Environ() {
		if key, value, ok := strings.Cut(kv, "="); ok {
			envMap[key] = value
		}
	}
	data, err := json.MarshalIndent(envMap, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal environment: %w", err)
	}
	text := string(data)
	return nil, []schema.Content{{
		Type: "text",
		Text: &text,
	}}, nil
}

// A 1x1 transparent PNG.
const tinyImageData = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNk+P+/HgAFhAJ/wlseKgAAAABJRU5ErkJggg=="

var TinyImageTool = schema.Tool{
	Name:        "getTinyImage",
	Description: "return a tiny test image",
	InputSchema: &schema.JSONSchemaProperty{
		Type:       "object",
		Properties: map[string]schema.JSONSchemaProperty{},
	},
}

func TinyImageHandler(_ *shared.Message, _ schema.Arguments) (*schema.Meta, []schema.Content, error) {
	data := tinyImageData
	mimeType := "image/png"
	return nil, []schema.Content{{
		Type:     "image",
		Data:     &data,
		MimeType: &mimeType,
	}}, nil
}

var SampleLLMTool = schema.Tool{
	Name:        "sampleLLM",
	Description: "The prompt to send to the LLM",
	InputSchema: &schema.JSONSchemaProperty{
		Type: "object",
		Properties: map[string]schema.JSONSchemaProperty{
			"prompt":    {Type: "string"},
			"maxTokens": {Type: "number"},
		},
		Required: []string{"prompt", "maxTokens"},
	},
}

func SampleLLMHandler(msg *shared.Message, arguments schema.Arguments) (*schema.Meta, []schema.Content, error) {
	prompt, okP := arguments["prompt"].(string)
	maxTokensFloat, okM := arguments["maxTokens"].(float64)
	if !okP || !okM {
		return nil, nil, fmt.Errorf("invalid arguments for sampleLLM")
	}

	text := "Resource sampleLLM context: " + prompt

	response := <-msg.Session.SendRequestSync(
		"sampling/createMessage",
		schema.CreateMessageRequestParams{
			Messages: []schema.SamplingMessage{{
				Role: "user",
				Content: schema.Content{
					Type: "text",
					Text: &text,
				},
			}},
			SystemPrompt:   "You are a helpful test server.",
			MaxTokens:      int(maxTokensFloat),
			Temperature:    shared.PointerTo(0.7),
			IncludeContext: "thisServer",
		},
	)

	if response.Error != nil {
		return nil, nil, response.Error
	}

	var createMessageResult schema.CreateMessageResult
	if err := json.Unmarshal(*response.Result, &createMessageResult); err != nil {
		return nil, nil, err
	}

	resultStr := "LLM sampling result: " + *createMessageResult.Content.Text
	return nil, []schema.Content{{
		Type: "text",
		Text: &resultStr,
	}}, nil
}

// --- Prompt Definitions ---
var SimplePrompt = schema.Prompt{
	Name:        "simple_prompt",
	Description: "A simple prompt without arguments",
}

func SimplePromptHandler(msg *shared.Message) (*schema.Meta, []schema.PromptMessage, error) {
	responseText := "This is a simple prompt without arguments."
	return nil, []schema.PromptMessage{{
		Role: "user",
		Content: schema.Content{
			Type: "text",
			Text: &responseText,
		},
	}}, nil
}

var ComplexPromptTemplate = schema.Prompt{
	Name:        "complex_prompt",
	Description: "Advanced prompt demonstrating argument handling",
	Arguments: []schema.PromptArgument{
		{Name: "temperature", Description: "Sampling temperature", Required: true},
		{Name: "style", Description: "Generation style", Required: false},
	},
}

func ComplexPromptHandler(msg *shared.Message) (*schema.Meta, []schema.PromptMessage, error) {
	var params schema.GetPromptRequestParams
	if msg.Params != nil {
		if err := json.Unmarshal(*msg.Params, &params); err != nil {
			return nil, nil, fmt.Errorf("failed to parse parameters: %v", err)
		}
	}

	tempStr, ok := params.Arguments["temperature"]
	if !ok {
		return nil, nil, fmt.Errorf("missing required parameter: temperature")
	}

	style, hasStyle := params.Arguments["style"]
	if !hasStyle {
		style = "standard"
	}

	userText := fmt.Sprintf("This is a complex prompt using temperature: %s and style: %s", tempStr, style)
	assistantText := "I'll demonstrate a multi-turn conversation."
	userFollowupText := "Thanks for the detailed response!"

	return nil, []schema.PromptMessage{
		{
			Role: "user",
			Content: schema.Content{
				Type: "text",
				Text: &userText,
			},
		},
		{
			Role: "assistant",
			Content: schema.Content{
				Type: "text",
				Text: &assistantText,
			},
		},
		{
			Role: "user",
			Content: schema.Content{
				Type: "text",
				Text: &userFollowupText,
			},
		},
	}, nil
}

// --- Resource Definitions ---
func ResourceHandlerOdd(i int) capability.ResourceHandler {
	return func(msg *shared.Message, uri string, templateVars map[string]string) (schema.Meta, []schema.ResourceContent, error) {
		text := fmt.Sprintf("Resource %d: This is a plaintext resource", i)
		return nil, []schema.ResourceContent{{
			URI:      uri,
			MimeType: "text/plain",
			Text:     &text,
		}}, nil
	}
}

func ResourceHandlerEven(i int) capability.ResourceHandler {
	return func(msg *shared.Message, uri string, templateVars map[string]string) (schema.Meta, []schema.ResourceContent, error) {
		data := fmt.Sprintf("Resource %d: This is a base64 blob", i)
		encodedData := base64.StdEncoding.EncodeToString([]byte(data))
		return nil, []schema.ResourceContent{{
			URI:      uri,
			MimeType: "application/octet-stream",
			Blob:     &encodedData,
		}}, nil
	}
}

// TemplatedResourceHandler serves test://static/resource/{id} for ids beyond
// the statically registered range.
func TemplatedResourceHandler(msg *shared.Message, uri string, templateVars map[string]string) (schema.Meta, []schema.ResourceContent, error) {
	id := templateVars["id"]
	text := fmt.Sprintf("Templated resource %s", id)
	return nil, []schema.ResourceContent{{
		URI:      uri,
		MimeType: "text/plain",
		Text:     &text,
	}}, nil
}

// --- Completion Handlers ---
func PromptArgumentCompleter(msg *shared.Message, arg capability.CompletionArgument) (*schema.CompletionInfo, error) {
	suggestions := []string{}
	switch arg.Name {
	case "temperature":
		suggestions = append(suggestions, "0.0", "0.5", "1.0")
	case "style":
		suggestions = append(suggestions, "standard", "terse", "verbose")
	}
	return &schema.CompletionInfo{Values: suggestions}, nil
}

func ResourceIDCompleter(msg *shared.Message, arg capability.CompletionArgument) (*schema.CompletionInfo, error) {
	suggestions := []string{}
	if arg.Name == "id" {
		for i := 1; i <= 10; i++ {
			suggestions = append(suggestions, strconv.Itoa(i))
		}
	}
	return &schema.CompletionInfo{Values: suggestions}, nil
}

// --- Subscription Handler ---
func SubscriptionLogger(logger *zap.Logger) capability.SubscriptionHandler {
	return func(session shared.ISession, operation capability.SubscriptionOperation, uri string, count int) {
		opStr := "subscribed"
		if operation == capability.Unsubscribe {
			opStr = "unsubscribed"
		}
		logger.Info("Subscription event",
			zap.String("operation", opStr),
			zap.String("uri", uri),
			zap.String("sessionID", session.GetID()),
			zap.Int("currentCount", count),
		)
	}
}

// BuildOptions creates the ServerOption slice for the demo server.
func BuildOptions(logger *zap.Logger) []server.ServerOption {
	options := []server.ServerOption{
		// Tools
		server.WithMCPTool(EchoTool.Name, EchoTool.Description, EchoTool.InputSchema, EchoTool.Annotations, EchoToolHandler),
		server.WithMCPTool(AddTool.Name, AddTool.Description, AddTool.InputSchema, AddTool.Annotations, AddToolHandler),
		server.WithMCPTool(LongRunningTool.Name, LongRunningTool.Description, LongRunningTool.InputSchema, LongRunningTool.Annotations, LongRunningHandler),
		server.WithMCPTool(PrintEnvTool.Name, PrintEnvTool.Description, PrintEnvTool.InputSchema, PrintEnvTool.Annotations, PrintEnvHandler),
		server.WithMCPTool(TinyImageTool.Name, TinyImageTool.Description, TinyImageTool.InputSchema, TinyImageTool.Annotations, TinyImageHandler),
		server.WithMCPTool(SampleLLMTool.Name, SampleLLMTool.Description, SampleLLMTool.InputSchema, SampleLLMTool.Annotations, SampleLLMHandler),

		// Prompts
		server.WithMCPPrompt(SimplePrompt.Name, SimplePrompt.Description, SimplePromptHandler),
		server.WithMCPPromptTemplate(ComplexPromptTemplate.Name, ComplexPromptTemplate.Description, ComplexPromptTemplate.Arguments, ComplexPromptHandler),

		// Resource template
		server.WithMCPResourceTemplate("test://static/resource/{id}", "Static Resource Template", "Template for static resources", "text/plain", TemplatedResourceHandler),

		// Completion
		server.WithMCPPromptCompleter(ComplexPromptTemplate.Name, PromptArgumentCompleter),
		server.WithMCPResourceCompleter("test://static/resource/{id}", ResourceIDCompleter),

		// Subscriptions
		server.WithMCPSubscriptionHandler(SubscriptionLogger(logger)),

		// Sampling support for sampleLLM round trips
		server.WithSampling(),
	}

	// Static resources
	for i := 1; i <= 10; i++ {
		uri := fmt.Sprintf("test://static/resource/%d", i)
		resourceName := fmt.Sprintf("Resource %d", i)
		var mimeType string
		var handler capability.ResourceHandler
		if i%2 == 1 {
			mimeType = "text/plain"
			handler = ResourceHandlerOdd(i)
		} else {
			mimeType = "application/octet-stream"
			handler = ResourceHandlerEven(i)
		}
		options = append(options, server.WithMCPResource(uri, resourceName, "Static resource", mimeType, handler))
	}

	return options
}

// Register mounts the demo surface directly on a session manager. The stdio
// transport uses this path since it bypasses the HTTP server builder.
func Register(manager *mcp.Manager, cfg config.IConfig, logger *zap.Logger) error {
	manager.AddValidator(validators.CreateDefaultValidators(cfg, logger)...)

	baseCap := capability.NewBase(logger, manager)
	toolsCap := capability.NewToolsCapability(manager, logger)
	resourcesCap := capability.NewResourcesCapability(manager, logger)
	promptsCap := capability.NewPromptsCapability(logger, manager)
	completionCap := capability.NewCompletionCapability(logger)
	manager.AddCapability(baseCap, toolsCap, resourcesCap, promptsCap, completionCap)

	for _, tool := range []struct {
		def     schema.Tool
		handler capability.ToolHandler
	}{
		{EchoTool, EchoToolHandler},
		{AddTool, AddToolHandler},
		{LongRunningTool, LongRunningHandler},
		{PrintEnvTool, PrintEnvHandler},
		{TinyImageTool, TinyImageHandler},
		{SampleLLMTool, SampleLLMHandler},
	} {
		if err := toolsCap.AddTool(tool.def.Name, tool.def.Description, tool.def.InputSchema, tool.def.Annotations, tool.handler); err != nil {
			return err
		}
	}

	if err := promptsCap.AddPrompt(SimplePrompt.Name, SimplePrompt.Description, SimplePromptHandler); err != nil {
		return err
	}
	if err := promptsCap.AddTemplate(ComplexPromptTemplate.Name, ComplexPromptTemplate.Description, ComplexPromptTemplate.Arguments, ComplexPromptHandler); err != nil {
		return err
	}
	completionCap.AddPromptCompleter(ComplexPromptTemplate.Name, PromptArgumentCompleter)
	completionCap.AddResourceCompleter("test://static/resource/{id}", ResourceIDCompleter)
	resourcesCap.AddSubscriptionHandler(SubscriptionLogger(logger))

	for i := 1; i <= 10; i++ {
		uri := fmt.Sprintf("test://static/resource/%d", i)
		var mimeType string
		var handler capability.ResourceHandler
		if i%2 == 1 {
			mimeType = "text/plain"
			handler = ResourceHandlerOdd(i)
		} else {
			mimeType = "application/octet-stream"
			handler = ResourceHandlerEven(i)
		}
		if err := resourcesCap.AddResource(uri, fmt.Sprintf("Resource %d", i), "Static resource", mimeType, handler); err != nil {
			return err
		}
	}
	return resourcesCap.AddResourceTemplate("test://static/resource/{id}", "Static Resource Template", "Template for static resources", "text/plain", TemplatedResourceHandler)
}
