package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/Lynn-1221/Agents/agent/conversation"
	"github.com/Lynn-1221/Agents/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"
)

// saveAndRestoreGlobalProviders keeps tests from leaking global otel state.
func saveAndRestoreGlobalProviders(t *testing.T) {
	t.Helper()
	origTP := otel.GetTracerProvider()
	origMP := otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(origTP)
		otel.SetMeterProvider(origMP)
	})
}

func TestInit_Disabled(t *testing.T) {
	saveAndRestoreGlobalProviders(t)

	p, err := Init(config.TelemetryConfig{Enabled: false}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, p)

	assert.Nil(t, p.tp)
	assert.Nil(t, p.mp)
	assert.False(t, p.Enabled())
	assert.NotNil(t, p.TracerProvider())
	assert.NoError(t, p.ForceFlush(context.Background()))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInit_EnabledSetsGlobals(t *testing.T) {
	saveAndRestoreGlobalProviders(t)

	p, err := Init(config.TelemetryConfig{
		Enabled:      true,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "agents-test",
		SampleRate:   0.5,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})

	assert.True(t, p.Enabled())
	_, tpIsSDK := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	_, mpIsSDK := otel.GetMeterProvider().(*sdkmetric.MeterProvider)
	assert.True(t, tpIsSDK)
	assert.True(t, mpIsSDK)
}

func TestInit_WithoutGlobal(t *testing.T) {
	saveAndRestoreGlobalProviders(t)
	before := otel.GetTracerProvider()

	p, err := Init(config.TelemetryConfig{Enabled: true, ServiceName: "agents-test", SampleRate: 1},
		zaptest.NewLogger(t),
		WithSpanExporter(tracetest.NewInMemoryExporter()),
		WithMetricReader(sdkmetric.NewManualReader()),
		WithoutGlobal(),
	)
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	assert.Same(t, before, otel.GetTracerProvider())
}

func TestProviders_ConversationSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	p, err := Init(config.TelemetryConfig{Enabled: true, ServiceName: "agents-test", SampleRate: 1},
		zaptest.NewLogger(t),
		WithSpanExporter(exporter),
		WithMetricReader(sdkmetric.NewManualReader()),
		WithoutGlobal(),
	)
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	plan := &conversation.Plan{
		Participants: []conversation.Participant{
			{ID: "writer", Role: conversation.RoleOrdinary, Autonomous: true, Responder: conversation.StaticResponder{Content: "draft"}},
			{ID: "critic", Role: conversation.RoleOrdinary, Autonomous: true, Responder: conversation.StaticResponder{Content: "ok TERMINATE"}},
		},
		Transitions: map[string][]string{"writer": {"critic"}, "critic": {"writer"}},
		Initiator:   "writer",
		MaxRounds:   5,
		Terminate:   conversation.ContainsToken(conversation.DefaultTerminationToken, false),
	}
	router := conversation.NewRouter(conversation.DefaultConfig(), zaptest.NewLogger(t),
		conversation.WithTracerProvider(p.TracerProvider()))

	s, err := router.Start(context.Background(), plan, "write a haiku")
	require.NoError(t, err)
	assert.Equal(t, conversation.StatusTerminated, s.Status())

	require.NoError(t, p.ForceFlush(context.Background()))
	var sessions, turns int
	for _, span := range exporter.GetSpans() {
		switch span.Name {
		case "conversation.session":
			sessions++
		case "conversation.turn":
			turns++
		}
	}
	assert.Equal(t, 1, sessions)
	assert.Equal(t, 2, turns)
}

func TestProviders_Shutdown_Nil(t *testing.T) {
	var p *Providers
	assert.NoError(t, p.Shutdown(context.Background()))
	assert.False(t, p.Enabled())
}

func TestBuildVersion(t *testing.T) {
	// 测试二进制的版本号为 (devel)
	assert.Equal(t, "dev", buildVersion())
}
