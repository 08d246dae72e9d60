package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"switchboard/internal/model"
)

// DefaultBedrockModelID is used when BEDROCK_MODEL_ID is unset.
const DefaultBedrockModelID = "anthropic.claude-3-sonnet-20240229-v1:0"

// BedrockAdapter dispatches actions to an AWS Bedrock AgentCore runtime,
// for tool names carrying the "bedrock:" prefix. Live invocation is
// opt-in: by default it echoes the request back as a dry run, since most
// development environments don't carry AWS credentials.
type BedrockAdapter struct {
	live    bool
	modelID string
	client  *bedrockruntime.Client
}

// NewBedrockAdapterFromEnv builds a Bedrock adapter. Live mode requires
// SWITCHBOARD_ENABLE_BEDROCK=true (case-insensitive); any other value,
// including unset or "false", leaves Execute returning a dry-run echo so
// the router can be exercised without AWS credentials configured.
func NewBedrockAdapterFromEnv(ctx context.Context) (*BedrockAdapter, error) {
	modelID := os.Getenv("BEDROCK_MODEL_ID")
	if modelID == "" {
		modelID = DefaultBedrockModelID
	}
	if !strings.EqualFold(os.Getenv("SWITCHBOARD_ENABLE_BEDROCK"), "true") {
		return &BedrockAdapter{live: false, modelID: modelID}, nil
	}
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("adapters: load aws config: %w", err)
	}
	return &BedrockAdapter{live: true, modelID: modelID, client: bedrockruntime.NewFromConfig(cfg)}, nil
}

func (a *BedrockAdapter) Name() string { return "bedrock" }

type bedrockInvokePayload struct {
	ToolAction string         `json:"tool_action"`
	Arguments  map[string]any `json:"arguments"`
}

// Execute invokes the configured Bedrock model with the action encoded
// as its body, or echoes the request back when running in dry-run mode.
func (a *BedrockAdapter) Execute(ctx context.Context, req model.ActionRequest) (AdapterResult, error) {
	payload := bedrockInvokePayload{ToolAction: req.ToolAction, Arguments: req.Arguments.Data}

	if !a.live {
		return AdapterResult{
			Success: true,
			Detail:  "bedrock dry run (SWITCHBOARD_ENABLE_BEDROCK not true)",
			Response: map[string]any{
				"model_id":  a.modelID,
				"tool_name": req.ToolName,
				"echo":      payload,
			},
		}, nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return AdapterResult{}, fmt.Errorf("adapters: marshal bedrock payload: %w", err)
	}

	out, err := a.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(a.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
		Trace:       types.TraceEnabled,
	})
	if err != nil {
		return AdapterResult{}, fmt.Errorf("adapters: bedrock invoke failed: %w", err)
	}

	var response map[string]any
	if err := json.Unmarshal(out.Body, &response); err != nil {
		return AdapterResult{Success: true, Detail: "bedrock response not json", Response: map[string]any{"raw": string(out.Body)}}, nil
	}
	return AdapterResult{Success: true, Detail: "bedrock invocation complete", Response: response}, nil
}
