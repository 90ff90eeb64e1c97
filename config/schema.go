package config

// Default log schema keys.
const (
	DefaultHostKey       = "host"
	DefaultMessageKey    = "message"
	DefaultTimestampKey  = "timestamp"
	DefaultSourceTypeKey = "source_type"
)

// LogSchema renames the standard top-level fields of a Log event. The zero
// value means "use the defaults"; call Resolve for a handle with every key
// filled in.
type LogSchema struct {
	HostKey       string `yaml:"host_key"`
	MessageKey    string `yaml:"message_key"`
	TimestampKey  string `yaml:"timestamp_key"`
	SourceTypeKey string `yaml:"source_type_key"`
}

func (s *LogSchema) merge(other LogSchema) {
	if other.HostKey != "" {
		s.HostKey = other.HostKey
	}
	if other.MessageKey != "" {
		s.MessageKey = other.MessageKey
	}
	if other.TimestampKey != "" {
		s.TimestampKey = other.TimestampKey
	}
	if other.SourceTypeKey != "" {
		s.SourceTypeKey = other.SourceTypeKey
	}
}

// Resolve returns an immutable schema handle with defaults applied.
func (s LogSchema) Resolve() ResolvedSchema {
	r := ResolvedSchema{
		host:       s.HostKey,
		message:    s.MessageKey,
		timestamp:  s.TimestampKey,
		sourceType: s.SourceTypeKey,
	}
	if r.host == "" {
		r.host = DefaultHostKey
	}
	if r.message == "" {
		r.message = DefaultMessageKey
	}
	if r.timestamp == "" {
		r.timestamp = DefaultTimestampKey
	}
	if r.sourceType == "" {
		r.sourceType = DefaultSourceTypeKey
	}
	return r
}

// ResolvedSchema is the read-only view of the log schema handed to
// components. It never changes after the topology is built.
type ResolvedSchema struct {
	host       string
	message    string
	timestamp  string
	sourceType string
}

// HostKey returns the top-level field holding the originating host.
func (r ResolvedSchema) HostKey() string { return r.host }

// MessageKey returns the top-level field holding the raw message.
func (r ResolvedSchema) MessageKey() string { return r.message }

// TimestampKey returns the top-level field holding the event timestamp.
func (r ResolvedSchema) TimestampKey() string { return r.timestamp }

// SourceTypeKey returns the top-level field naming the producing source.
func (r ResolvedSchema) SourceTypeKey() string { return r.sourceType }
