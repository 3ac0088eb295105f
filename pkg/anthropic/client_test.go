package anthropic

import (
	"context"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockClient implements Client for testing.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*MessageResponse), args.Error(1)
}

func TestCreateMessage_MockClient(t *testing.T) {
	ctx := context.Background()
	m := &MockClient{}
	req := MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 300,
		Messages:  []Message{{Role: "user", Content: "hi"}},
	}
	m.On("CreateMessage", ctx, req).Return(&MessageResponse{
		ID:      "msg_1",
		Content: []ContentBlock{{Type: "text", Text: "hello"}},
	}, nil)

	resp, err := m.CreateMessage(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Text())
	m.AssertExpectations(t)
}

func TestMessageResponse_Text(t *testing.T) {
	resp := &MessageResponse{Content: []ContentBlock{
		{Type: "text", Text: "first"},
		{Type: "tool_use"},
		{Type: "text", Text: "second"},
	}}
	assert.Equal(t, "first\nsecond", resp.Text())

	var nilResp *MessageResponse
	assert.Empty(t, nilResp.Text())
}

func TestSDKTypeConversion_toSDKMessages(t *testing.T) {
	msgs := toSDKMessages([]Message{
		{Role: "user", Content: "a"},
		{Role: "assistant", Content: "b"},
		{Role: "unknown", Content: "c"},
	})
	require.Len(t, msgs, 3)
	assert.Equal(t, sdk.MessageParamRoleUser, msgs[0].Role)
	assert.Equal(t, sdk.MessageParamRoleAssistant, msgs[1].Role)
	assert.Equal(t, sdk.MessageParamRoleUser, msgs[2].Role)
}

func TestEstimateCost_Haiku(t *testing.T) {
	u := TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}
	assert.InDelta(t, 6.00, u.EstimateCost("claude-haiku-4-5-20251001"), 0.0001)
}

func TestEstimateCost_Sonnet(t *testing.T) {
	u := TokenUsage{InputTokens: 500_000, OutputTokens: 100_000}
	assert.InDelta(t, 1.50+1.50, u.EstimateCost("claude-sonnet-4-5"), 0.0001)
}

func TestEstimateCost_UnknownModel(t *testing.T) {
	u := TokenUsage{InputTokens: 1000, OutputTokens: 1000}
	assert.Equal(t, 0.0, u.EstimateCost("unknown-model"))
}

func TestEstimateCost_ZeroTokens(t *testing.T) {
	assert.Equal(t, 0.0, TokenUsage{}.EstimateCost("claude-haiku-4-5"))
}

func TestLogCost_DoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		TokenUsage{InputTokens: 10, OutputTokens: 5}.LogCost("claude-haiku-4-5", "enrichment")
	})
}

func TestNewClient_ReturnsNonNil(t *testing.T) {
	assert.NotNil(t, NewClient("test-key"))
	assert.NotNil(t, NewClient("test-key", WithBaseURL("http://localhost:1")))
}
