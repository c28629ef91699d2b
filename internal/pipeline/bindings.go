package pipeline

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"ackflow/checkpoint"
	"ackflow/destination"
	"ackflow/future"
	"ackflow/inbound"
	"ackflow/internal/config"
	"ackflow/internal/memory"
	"ackflow/internal/spec"
	"ackflow/message"
	"ackflow/outbound"
	"ackflow/sink"
	"ackflow/telemetry"

	conveh "ackflow/convert/eventhubs"
	convkafka "ackflow/convert/kafka"
	convmem "ackflow/convert/memory"
	convrmq "ackflow/convert/rabbitmq"
	convsb "ackflow/convert/servicebus"
	convsq "ackflow/convert/storagequeue"
	sinkeh "ackflow/sink/eventhubs"
	sinkkafka "ackflow/sink/kafka"
	sinkmem "ackflow/sink/memory"
	sinkrmq "ackflow/sink/rabbitmq"
	sinksb "ackflow/sink/servicebus"
	"ackflow/sink/stdout"
	sinksq "ackflow/sink/storagequeue"
	srceh "ackflow/source/eventhubs"
	srckafka "ackflow/source/kafka"
	srcmem "ackflow/source/memory"
	srcrmq "ackflow/source/rabbitmq"
	srcsb "ackflow/source/servicebus"
	srcsq "ackflow/source/storagequeue"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azeventhubs"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/IBM/sarama"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Inbound is an inbound adapter with its wire type erased.
type Inbound interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Destroy(ctx context.Context) error
	IsRunning() bool
	Checkpointer() checkpoint.Checkpointer
}

// Outbound is an outbound template with its wire type erased.
type Outbound interface {
	SendToPartitionAsync(ctx context.Context, d destination.Destination, m *message.Message, hint sink.PartitionHint) *future.Future
	Provision(ctx context.Context, d destination.Destination) error
	Close(ctx context.Context) error
}

// Env is what a binding factory may draw on besides its own config file.
type Env struct {
	Obs    *telemetry.Observer
	Memory *memory.Broker
	Stdout io.Writer
	Debug  spec.Debug
}

type SourceFactory func(env Env, s spec.Source, h inbound.Handler, opts []inbound.Option) (Inbound, error)

type SinkFactory func(env Env, s spec.Sink, opts []outbound.Option) (Outbound, error)

var (
	regMu   sync.RWMutex
	sources = map[string]SourceFactory{}
	sinks   = map[string]SinkFactory{}
)

// RegisterSource makes a source kind available to pipeline files.
// Registering a kind twice panics.
func RegisterSource(kind string, f SourceFactory) {
	regMu.Lock()
	defer regMu.Unlock()
	if _, dup := sources[kind]; dup {
		panic("pipeline: duplicate source kind " + kind)
	}
	sources[kind] = f
}

func RegisterSink(kind string, f SinkFactory) {
	regMu.Lock()
	defer regMu.Unlock()
	if _, dup := sinks[kind]; dup {
		panic("pipeline: duplicate sink kind " + kind)
	}
	sinks[kind] = f
}

func sourceFactory(kind string) (SourceFactory, error) {
	regMu.RLock()
	defer regMu.RUnlock()
	f, ok := sources[kind]
	if !ok {
		return nil, fmt.Errorf("unsupported source %q (known: %v)", kind, sortedKinds(sources))
	}
	return f, nil
}

func sinkFactory(kind string) (SinkFactory, error) {
	regMu.RLock()
	defer regMu.RUnlock()
	f, ok := sinks[kind]
	if !ok {
		return nil, fmt.Errorf("unsupported sink %q (known: %v)", kind, sortedKinds(sinks))
	}
	return f, nil
}

func sortedKinds[F any](m map[string]F) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func init() {
	RegisterSource("eventhubs", eventhubsSource)
	RegisterSource("servicebus", servicebusSource)
	RegisterSource("storagequeue", storagequeueSource)
	RegisterSource("kafka", kafkaSource)
	RegisterSource("rabbitmq", rabbitmqSource)
	RegisterSource("memory", memorySource)

	RegisterSink("eventhubs", eventhubsSink)
	RegisterSink("servicebus", servicebusSink)
	RegisterSink("storagequeue", storagequeueSink)
	RegisterSink("kafka", kafkaSink)
	RegisterSink("rabbitmq", rabbitmqSink)
	RegisterSink("memory", memorySink)
	RegisterSink("stdout", stdoutSink)
}

/* ────────── sources ────────── */

func eventhubsSource(env Env, s spec.Source, h inbound.Handler, opts []inbound.Option) (Inbound, error) {
	cfg, err := srceh.LoadConfig(s.Config)
	if err != nil {
		return nil, err
	}
	if s.Destination != "" {
		cfg.EventHub = s.Destination
	}
	if s.Group != "" {
		cfg.ConsumerGroup = s.Group
	}
	src, err := srceh.New(cfg, srceh.WithObserver(env.Obs))
	if err != nil {
		return nil, err
	}
	return inbound.New[*azeventhubs.ReceivedEventData](src, conveh.Converter{}, h, opts...)
}

func servicebusSource(env Env, s spec.Source, h inbound.Handler, opts []inbound.Option) (Inbound, error) {
	cfg, err := srcsb.LoadConfig(s.Config)
	if err != nil {
		return nil, err
	}
	switch {
	case s.Group != "":
		if s.Destination != "" {
			cfg.Topic = s.Destination
		}
		cfg.Queue, cfg.Subscription = "", s.Group
	case s.Destination != "" && cfg.Topic != "":
		cfg.Topic = s.Destination
	case s.Destination != "":
		cfg.Queue = s.Destination
	}
	src, err := srcsb.New(cfg, srcsb.WithObserver(env.Obs))
	if err != nil {
		return nil, err
	}
	return inbound.New[*azservicebus.ReceivedMessage](src, convsb.Converter{}, h, opts...)
}

func storagequeueSource(env Env, s spec.Source, h inbound.Handler, opts []inbound.Option) (Inbound, error) {
	cfg, err := srcsq.LoadConfig(s.Config)
	if err != nil {
		return nil, err
	}
	if s.Destination != "" {
		cfg.Queue = s.Destination
	}
	src, err := srcsq.New(cfg, srcsq.WithObserver(env.Obs))
	if err != nil {
		return nil, err
	}
	return inbound.New[*azqueue.DequeuedMessage](src, convsq.Converter{}, h, opts...)
}

func kafkaSource(env Env, s spec.Source, h inbound.Handler, opts []inbound.Option) (Inbound, error) {
	cfg, err := srckafka.LoadConfig(s.Config)
	if err != nil {
		return nil, err
	}
	if s.Destination != "" {
		cfg.Topic = s.Destination
	}
	if s.Group != "" {
		cfg.GroupID = s.Group
	}
	src, err := srckafka.New(cfg, srckafka.WithObserver(env.Obs))
	if err != nil {
		return nil, err
	}
	return inbound.New[*sarama.ConsumerMessage](src, convkafka.Converter{}, h, opts...)
}

func rabbitmqSource(env Env, s spec.Source, h inbound.Handler, opts []inbound.Option) (Inbound, error) {
	cfg, err := srcrmq.LoadConfig(s.Config)
	if err != nil {
		return nil, err
	}
	if s.Destination != "" {
		cfg.Queue = s.Destination
	}
	src, err := srcrmq.New(cfg, srcrmq.WithObserver(env.Obs))
	if err != nil {
		return nil, err
	}
	return inbound.New[amqp.Delivery](src, convrmq.Converter{}, h, opts...)
}

// memoryConfig describes an in-process hub or queue.
type memoryConfig struct {
	Queue      bool          `koanf:"queue"`
	Partitions int           `koanf:"partitions"`
	MaxPerPoll int           `koanf:"max_per_poll"`
	Visibility time.Duration `koanf:"visibility_timeout"`
}

func loadMemoryConfig(path string) (memoryConfig, error) {
	var cfg memoryConfig
	if err := config.Load(path, config.EnvPrefix("memory"), &cfg); err != nil {
		return cfg, err
	}
	if cfg.Partitions == 0 {
		cfg.Partitions = 4
	}
	if cfg.MaxPerPoll == 0 {
		cfg.MaxPerPoll = 32
	}
	if cfg.Visibility == 0 {
		cfg.Visibility = 30 * time.Second
	}
	return cfg, nil
}

func memorySource(env Env, s spec.Source, h inbound.Handler, opts []inbound.Option) (Inbound, error) {
	if s.Destination == "" {
		return nil, fmt.Errorf("memory source: destination is required")
	}
	cfg, err := loadMemoryConfig(s.Config)
	if err != nil {
		return nil, err
	}
	if cfg.Queue {
		src := srcmem.NewQueueSource(env.Memory.Queue(s.Destination), cfg.MaxPerPoll, cfg.Visibility)
		return inbound.New[memory.Event](src, convmem.Converter{}, h, opts...)
	}
	group := s.Group
	if group == "" {
		group = "$Default"
	}
	src := srcmem.NewHubSource(env.Memory.Hub(s.Destination, cfg.Partitions), group)
	return inbound.New[memory.Event](src, convmem.Converter{}, h, opts...)
}

/* ────────── sinks ────────── */

func eventhubsSink(_ Env, s spec.Sink, opts []outbound.Option) (Outbound, error) {
	cfg, err := sinkeh.LoadConfig(s.Config)
	if err != nil {
		return nil, err
	}
	p, err := sinkeh.New(cfg)
	if err != nil {
		return nil, err
	}
	return outbound.New[*azeventhubs.EventData](p, conveh.Converter{}, opts...), nil
}

func servicebusSink(_ Env, s spec.Sink, opts []outbound.Option) (Outbound, error) {
	cfg, err := sinksb.LoadConfig(s.Config)
	if err != nil {
		return nil, err
	}
	p, err := sinksb.New(cfg)
	if err != nil {
		return nil, err
	}
	return outbound.New[*azservicebus.Message](p, convsb.Converter{}, opts...), nil
}

func storagequeueSink(_ Env, s spec.Sink, opts []outbound.Option) (Outbound, error) {
	cfg, err := sinksq.LoadConfig(s.Config)
	if err != nil {
		return nil, err
	}
	p, err := sinksq.New(cfg)
	if err != nil {
		return nil, err
	}
	return outbound.New[string](p, convsq.Converter{}, opts...), nil
}

func kafkaSink(_ Env, s spec.Sink, opts []outbound.Option) (Outbound, error) {
	cfg, err := sinkkafka.LoadConfig(s.Config)
	if err != nil {
		return nil, err
	}
	p, err := sinkkafka.New(cfg)
	if err != nil {
		return nil, err
	}
	return outbound.New[*sarama.ProducerMessage](p, convkafka.Converter{}, opts...), nil
}

func rabbitmqSink(_ Env, s spec.Sink, opts []outbound.Option) (Outbound, error) {
	cfg, err := sinkrmq.LoadConfig(s.Config)
	if err != nil {
		return nil, err
	}
	p, err := sinkrmq.New(cfg)
	if err != nil {
		return nil, err
	}
	return outbound.New[amqp.Publishing](p, convrmq.Converter{}, opts...), nil
}

func memorySink(env Env, s spec.Sink, opts []outbound.Option) (Outbound, error) {
	cfg, err := loadMemoryConfig(s.Config)
	if err != nil {
		return nil, err
	}
	if cfg.Queue {
		return outbound.New[memory.Event](sinkmem.NewQueueProducer(env.Memory), convmem.Converter{}, opts...), nil
	}
	p := sinkmem.NewHubProducer(env.Memory, cfg.Partitions, sinkmem.DefaultMaxBatchBytes)
	return outbound.New[memory.Event](p, convmem.Converter{}, opts...), nil
}

// stdoutSink takes its settings from the pipeline debug block; a binding
// config file, when given, wins.
func stdoutSink(env Env, s spec.Sink, opts []outbound.Option) (Outbound, error) {
	cfg := stdout.Config{
		PrintCounter:  env.Debug.PrintCounter,
		PrintValue:    env.Debug.PrintValue,
		ValueMaxBytes: env.Debug.ValueMaxBytes,
		DelayMS:       env.Debug.DelayMS,
	}
	cfg, err := stdout.LoadConfig(s.Config, cfg)
	if err != nil {
		return nil, err
	}
	return outbound.New[stdout.Line](stdout.New(cfg, env.Stdout), stdout.Converter{}, opts...), nil
}
