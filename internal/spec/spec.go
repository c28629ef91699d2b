// Package spec is the pipeline file: one source relayed to N sinks.
package spec

type Checkpoint struct {
	Mode       string `yaml:"mode"` // record|batch|manual
	BatchCount int    `yaml:"batch_count"`
}

type Source struct {
	Kind        string     `yaml:"kind"`   // eventhubs|servicebus|storagequeue|kafka|rabbitmq|memory
	Config      string     `yaml:"config"` // binding config file, relative to the pipeline file
	Destination string     `yaml:"destination"`
	Group       string     `yaml:"group"`
	Checkpoint  Checkpoint `yaml:"checkpoint"`
	Payload     string     `yaml:"payload"` // bytes|string
	PollMS      int        `yaml:"poll_interval_ms"`
	Workers     int        `yaml:"checkpoint_workers"`
}

type Sink struct {
	Kind          string `yaml:"kind"`
	Config        string `yaml:"config"`
	Destination   string `yaml:"destination"`
	FireAndForget bool   `yaml:"fire_and_forget"`
	// KeepPartition forwards the source partition id as the send hint.
	KeepPartition bool `yaml:"keep_partition"`
}

type Debug struct {
	DelayMS       int  `yaml:"per_message_delay_ms"`
	PrintValue    bool `yaml:"print_value"`
	ValueMaxBytes int  `yaml:"value_max_bytes"`
	PrintCounter  bool `yaml:"print_counter"`
}

type File struct {
	SchemaVersion string `yaml:"schema_version"`
	Source        Source `yaml:"source"`
	Sinks         []Sink `yaml:"sinks"`
	Debug         Debug  `yaml:"debug"`
}
