package changelog

import "context"

type Plugin interface {
	GetCode() string
}

type PluginInterfaceValidateLogRecord interface {
	ValidateLogRecord(options *Options, record LogRecord) error
}

type PluginInterfaceLogRecordBuilding interface {
	LogRecordBuilding(ctx context.Context, event *Event) error
}

type PluginInterfaceLogRecordSaved interface {
	LogRecordSaved(ctx context.Context, event *Event, err error)
}

// Event describes one log record being written. Plugins may add values to Attributes
// while the record is building.
type Event struct {
	Action     Action
	EntityName string
	Owner      Entity
	Old        Snapshot
	New        Snapshot
	Attributes map[string]interface{}
}
