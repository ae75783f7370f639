package meta

import (
	"context"

	"github.com/latolukasz/changelog"
)

const PluginCode = "github.com/latolukasz/changelog/plugins/meta"
const defaultColumn = "meta"

type contextKey struct{}

// WithValue returns a context carrying key=value in addition to meta data already
// attached to ctx. Log records written with this context store it in the meta column.
func WithValue(ctx context.Context, key, value string) context.Context {
	current := Values(ctx)
	values := make(map[string]string, len(current)+1)
	for k, v := range current {
		values[k] = v
	}
	values[key] = value
	return context.WithValue(ctx, contextKey{}, values)
}

func Values(ctx context.Context) map[string]string {
	values, _ := ctx.Value(contextKey{}).(map[string]string)
	return values
}

type Options struct {
	Column string
	// Defaults are written to every log record, values from context take precedence.
	Defaults map[string]string
}

type Plugin struct {
	options *Options
}

func Init(options *Options) *Plugin {
	if options == nil {
		options = &Options{}
	}
	if options.Column == "" {
		options.Column = defaultColumn
	}
	return &Plugin{options: options}
}

func (p *Plugin) GetCode() string {
	return PluginCode
}

func (p *Plugin) ValidateLogRecord(_ *changelog.Options, record changelog.LogRecord) error {
	if !record.HasAttribute(p.options.Column) {
		return &changelog.ConfigError{Message: "meta column '" + p.options.Column + "' is missing in log record"}
	}
	return nil
}

func (p *Plugin) LogRecordBuilding(ctx context.Context, event *changelog.Event) error {
	values := Values(ctx)
	if len(values) == 0 && len(p.options.Defaults) == 0 {
		return nil
	}
	data := make(changelog.Snapshot, len(values)+len(p.options.Defaults))
	for k, v := range p.options.Defaults {
		data[k] = v
	}
	for k, v := range values {
		data[k] = v
	}
	encoded, err := data.Encode()
	if err != nil {
		return err
	}
	event.Attributes[p.options.Column] = encoded
	return nil
}
