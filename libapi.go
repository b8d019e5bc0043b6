package gatebridge

import (
	runtimepkg "github.com/drblury/gatebridge/internal/runtime"
	configpkg "github.com/drblury/gatebridge/internal/runtime/config"
	errspkg "github.com/drblury/gatebridge/internal/runtime/errors"
	"github.com/drblury/gatebridge/internal/runtime/events"
	"github.com/drblury/gatebridge/internal/runtime/hostlink"
	idspkg "github.com/drblury/gatebridge/internal/runtime/ids"
	jsoncodec "github.com/drblury/gatebridge/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/gatebridge/internal/runtime/logging"
	metadatapkg "github.com/drblury/gatebridge/internal/runtime/metadata"
	metricspkg "github.com/drblury/gatebridge/internal/runtime/metrics"
	"github.com/drblury/gatebridge/internal/runtime/params"
	"github.com/drblury/gatebridge/internal/runtime/telemetry"
	transportpkg "github.com/drblury/gatebridge/internal/runtime/transport"
	hosttransport "github.com/drblury/gatebridge/transport"
	"github.com/drblury/gatebridge/transport/channel"
)

type (
	Config              = configpkg.Config
	Session             = runtimepkg.Session
	SessionDependencies = runtimepkg.SessionDependencies
	ParameterView       = runtimepkg.ParameterView
	VisualizerView      = runtimepkg.VisualizerView

	Transport        = hosttransport.Transport
	TransportFactory = transportpkg.Factory
	TransportFunc    = transportpkg.FactoryFunc
	InProcessHost    = channel.Host

	// Host link
	Mode            = hostlink.Mode
	MessageType     = hostlink.MessageType
	OutboundMessage = hostlink.OutboundMessage

	// Event channel
	Handler         = events.Handler
	Subscription    = events.Subscription
	DeliveryContext = events.DeliveryContext
	DeliveryHooks   = events.DeliveryHooks
	PanicError      = events.PanicError

	// Parameters
	ParameterDescriptor = params.Descriptor
	ParameterKind       = params.Kind
	ParameterState      = params.State
	Binding             = params.Binding

	// Telemetry
	VisualizerSnapshot = telemetry.Snapshot
	StepCell           = telemetry.StepCell
	Visualizer         = telemetry.Consumer
	SequencerClock     = telemetry.Clock

	Metadata = metadatapkg.Metadata

	LogFields = loggingpkg.LogFields
	Logger    = loggingpkg.Logger

	BridgeMetrics         = metricspkg.BridgeMetrics
	MetricsSnapshot       = metricspkg.Snapshot
	ConfigValidationError = errspkg.ConfigValidationError

	// Transport registry
	TransportBuilder      = hosttransport.Builder
	TransportConfig       = hosttransport.Config
	TransportRegistry     = hosttransport.Registry
	TransportCapabilities = hosttransport.Capabilities
)

var (
	NewSession     = runtimepkg.NewSession
	TryNewSession  = runtimepkg.TryNewSession
	ValidateConfig = configpkg.ValidateConfig

	DefaultTransportFactory = transportpkg.DefaultFactory
	StaticTransport         = transportpkg.Static
	NewInProcessHost        = channel.NewHost

	RegisterTransport                 = hosttransport.Register
	RegisterTransportWithCapabilities = hosttransport.RegisterWithCapabilities
	GetTransportCapabilities          = hosttransport.GetCapabilities

	// Parameters
	FloatParameter  = params.Float
	ChoiceParameter = params.Choice
	ToggleParameter = params.Toggle
	GateLayout      = params.GateLayout
	PatternMask     = params.PatternMask

	// Telemetry
	BaselineSnapshot = telemetry.Baseline
	DecodeSnapshot   = telemetry.Decode
	EncodeSnapshot   = telemetry.Encode
	StepView         = telemetry.StepView
	NewSequencer     = telemetry.NewClock

	// Delivery hooks
	LoggingHooks = events.LoggingHooks
	MetricsHooks = events.MetricsHooks

	NewBridgeMetrics = metricspkg.New

	NewSlogLogger      = loggingpkg.NewSlogLogger
	NewWatermillLogger = loggingpkg.NewWatermillLogger
	DiscardLogger      = loggingpkg.Discard

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal

	CreateULID  = idspkg.CreateULID
	NewMetadata = metadatapkg.New

	NewConfigValidationError = errspkg.NewConfigValidationError

	ErrTopicRequired     = errspkg.ErrTopicRequired
	ErrHandlerRequired   = errspkg.ErrHandlerRequired
	ErrHostAbsent        = errspkg.ErrHostAbsent
	ErrChannelClosed     = errspkg.ErrChannelClosed
	ErrConfigRequired    = errspkg.ErrConfigRequired
	ErrLoggerRequired    = errspkg.ErrLoggerRequired
	ErrInvalidDescriptor = errspkg.ErrInvalidDescriptor
	ErrBindingClosed     = errspkg.ErrBindingClosed
)

const (
	ModeStandalone = hostlink.ModeStandalone
	ModeHosted     = hostlink.ModeHosted

	MessageParamChange          = hostlink.TypeParamChange
	MessageGestureBegin         = hostlink.TypeGestureBegin
	MessageGestureEnd           = hostlink.TypeGestureEnd
	MessageRequestInitialUpdate = hostlink.TypeRequestInitialUpdate

	KindFloat  = params.KindFloat
	KindChoice = params.KindChoice
	KindToggle = params.KindToggle

	NoHost = hosttransport.NoHost

	DefaultControlTopic          = configpkg.DefaultControlTopic
	DefaultVisualizerTopic       = configpkg.DefaultVisualizerTopic
	DefaultFallbackFrameInterval = configpkg.DefaultFallbackFrameInterval
	DefaultMetricsPort           = configpkg.DefaultMetricsPort
	DefaultInspectorPort         = configpkg.DefaultInspectorPort

	StepDuration = telemetry.StepDuration
	Steps        = telemetry.Steps
)
