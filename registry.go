package changelog

import (
	"context"
	"sort"

	"github.com/pkg/errors"
)

type Registry struct {
	logModels   map[string]LogModel
	entities    map[string]*Options
	plugins     []Plugin
	logHandlers []LogHandler
}

func NewRegistry() *Registry {
	return &Registry{}
}

// RegisterLogModel makes a log model available under the name used by 'logModelClass'.
func (r *Registry) RegisterLogModel(name string, model LogModel) {
	if r.logModels == nil {
		r.logModels = make(map[string]LogModel)
	}
	r.logModels[name] = model
}

// RegisterEntity enables change log for entities with given type name.
func (r *Registry) RegisterEntity(typeName string, options *Options) {
	if r.entities == nil {
		r.entities = make(map[string]*Options)
	}
	r.entities[typeName] = options
}

func (r *Registry) RegisterPlugin(plugin Plugin) {
	r.plugins = append(r.plugins, plugin)
}

func (r *Registry) RegisterLogHandler(handler LogHandler) {
	for _, v := range r.logHandlers {
		if v == handler {
			return
		}
	}
	r.logHandlers = append(r.logHandlers, handler)
}

// EnableDebug prints every written log record to stderr.
func (r *Registry) EnableDebug() {
	r.RegisterLogHandler(NewZapLogHandler(newDebugLogger()))
}

func (r *Registry) Validate() (ValidatedRegistry, error) {
	v := &validatedRegistry{recorders: make(map[string]*Recorder, len(r.entities))}
	for typeName, options := range r.entities {
		if options == nil {
			return nil, configError("missing change log options for %s", typeName)
		}
		o := *options
		if o.LogModel == nil && o.LogModelClass != "" {
			o.LogModel = r.logModels[o.LogModelClass]
		}
		o.Plugins = append(append([]Plugin(nil), r.plugins...), o.Plugins...)
		o.LogHandlers = append(append([]LogHandler(nil), r.logHandlers...), o.LogHandlers...)
		recorder, err := New(&o)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid change log for %s", typeName)
		}
		v.recorders[typeName] = recorder
		v.entities = append(v.entities, typeName)
	}
	sort.Strings(v.entities)
	return v, nil
}

// ValidatedRegistry dispatches lifecycle events of the host framework to recorders
// registered for the owner type.
type ValidatedRegistry interface {
	GetRecorder(typeName string) (recorder *Recorder, has bool)
	GetEntities() []string
	Track(owner interface{}) (*Tracked, error)
	AfterFind(ctx context.Context, owner interface{}) (*Tracked, error)
}

type validatedRegistry struct {
	recorders map[string]*Recorder
	entities  []string
}

func (v *validatedRegistry) GetRecorder(typeName string) (recorder *Recorder, has bool) {
	recorder, has = v.recorders[typeName]
	return recorder, has
}

func (v *validatedRegistry) GetEntities() []string {
	return v.entities
}

func (v *validatedRegistry) Track(owner interface{}) (*Tracked, error) {
	entity, recorder, err := v.resolve(owner)
	if err != nil {
		return nil, err
	}
	return recorder.Track(entity), nil
}

func (v *validatedRegistry) AfterFind(ctx context.Context, owner interface{}) (*Tracked, error) {
	entity, recorder, err := v.resolve(owner)
	if err != nil {
		return nil, err
	}
	return recorder.Load(ctx, entity)
}

func (v *validatedRegistry) resolve(owner interface{}) (Entity, *Recorder, error) {
	entity, is := owner.(Entity)
	if !is || entity == nil {
		return nil, nil, &UnsupportedOwnerError{Owner: owner}
	}
	recorder, has := v.recorders[entity.TypeName()]
	if !has {
		return nil, nil, configError("change log is not registered for %s", entity.TypeName())
	}
	return entity, recorder, nil
}
