package changelog

import (
	"context"
	"sort"

	"github.com/pkg/errors"
)

type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Log table column roles.
const (
	ColumnAction   = "action"
	ColumnNewValue = "new_value"
	ColumnOldValue = "old_value"
	ColumnEntity   = "entity"
)

var defaultColumns = map[string]string{
	ColumnAction:   "action",
	ColumnNewValue: "new_value",
	ColumnOldValue: "old_value",
	ColumnEntity:   "",
}

type Options struct {
	// LogModel creates log records. When nil LogModelClass is resolved by the Registry.
	LogModel      LogModel
	LogModelClass string
	// Attributes of the owner written to the log. Empty means all attributes.
	Attributes []string
	// RelatedAttributes maps relation name to audited attributes of related entities.
	// An empty list means all attributes of the related entity.
	RelatedAttributes map[string][]string
	// RelatedSchema lists attributes of related entity types, used when
	// RelatedAttributes has an empty list for a relation.
	RelatedSchema map[string][]string
	// Columns maps column roles (ColumnAction, ColumnNewValue, ColumnOldValue, ColumnEntity) to log table columns.
	Columns map[string]string
	// AdditionalLogTableFields maps log table column to owner attribute.
	AdditionalLogTableFields map[string]string
	Plugins                  []Plugin
	LogHandlers              []LogHandler
}

type Recorder struct {
	logModel          LogModel
	attributes        []string
	relations         []string
	relatedAttributes map[string][]string
	relatedSchema     map[string][]string
	columns           map[string]string
	additional        map[string]string
	additionalFields  []string
	plugins           []Plugin
	logHandlers       []LogHandler
}

func New(options *Options) (*Recorder, error) {
	if options == nil {
		return nil, configError("change log options are required")
	}
	if options.LogModel == nil {
		if options.LogModelClass != "" {
			return nil, configError("'logModelClass' %s is not registered", options.LogModelClass)
		}
		return nil, configError("'logModelClass' is required")
	}
	r := &Recorder{
		logModel:          options.LogModel,
		attributes:        append([]string(nil), options.Attributes...),
		relatedAttributes: make(map[string][]string, len(options.RelatedAttributes)),
		relatedSchema:     make(map[string][]string, len(options.RelatedSchema)),
		columns:           make(map[string]string, len(defaultColumns)),
		additional:        make(map[string]string, len(options.AdditionalLogTableFields)),
		plugins:           options.Plugins,
		logHandlers:       options.LogHandlers,
	}
	for role, column := range defaultColumns {
		r.columns[role] = column
	}
	for role, column := range options.Columns {
		_, known := defaultColumns[role]
		if !known {
			return nil, configError("unknown log table column role '%s'", role)
		}
		if column == "" && role != ColumnEntity {
			return nil, configError("log table column for '%s' can not be empty", role)
		}
		r.columns[role] = column
	}
	audited := make(map[string]bool, len(r.attributes))
	for _, attribute := range r.attributes {
		if attribute == "" {
			return nil, configError("'attributes' contains empty attribute name")
		}
		audited[attribute] = true
	}
	for relation, attributes := range options.RelatedAttributes {
		if relation == "" {
			return nil, configError("'relatedAttributes' contains empty relation name")
		}
		if audited[relation] {
			return nil, configError("relation '%s' collides with audited attribute of the same name", relation)
		}
		r.relations = append(r.relations, relation)
		r.relatedAttributes[relation] = append([]string(nil), attributes...)
	}
	sort.Strings(r.relations)
	for relation, attributes := range options.RelatedSchema {
		r.relatedSchema[relation] = append([]string(nil), attributes...)
	}
	for logField, ownerField := range options.AdditionalLogTableFields {
		if ownerField == "" {
			return nil, configError("'additionalLogTableFields' has empty owner attribute for '%s'", logField)
		}
		r.additional[logField] = ownerField
	}
	r.additionalFields = sortedKeys(r.additional)

	record, err := r.logModel()
	if err != nil {
		return nil, configError("'logModelClass' can not be instantiated: %s", err.Error())
	}
	if record == nil {
		return nil, configError("'logModelClass' should create changelog.LogRecord")
	}
	for _, role := range sortedKeys(r.columns) {
		column := r.columns[role]
		if column != "" && !record.HasAttribute(column) {
			return nil, configError("%T doesn't have field '%s'", record, column)
		}
	}
	for _, column := range r.additionalFields {
		if !record.HasAttribute(column) {
			return nil, configError("%T doesn't have field '%s'", record, column)
		}
	}
	for _, plugin := range r.plugins {
		validator, is := plugin.(PluginInterfaceValidateLogRecord)
		if is {
			err = validator.ValidateLogRecord(options, record)
			if err != nil {
				return nil, err
			}
		}
	}
	return r, nil
}

// LogTableColumns returns column roles merged with defaults.
func (r *Recorder) LogTableColumns() map[string]string {
	columns := make(map[string]string, len(r.columns))
	for role, column := range r.columns {
		columns[role] = column
	}
	return columns
}

// EntityName returns the human readable name of the owner type written to the log.
func (r *Recorder) EntityName(owner Entity) string {
	return Titleize(Basename(owner.TypeName()))
}

// AfterFind captures the owner state right after it was loaded. Related entities of all
// configured relations are fetched and frozen.
func (r *Recorder) AfterFind(ctx context.Context, owner Entity) (*State, error) {
	if owner == nil {
		return nil, &UnsupportedOwnerError{Owner: owner}
	}
	state := &State{owner: freeze(owner), relations: make(map[string][]Entity, len(r.relations))}
	for _, relation := range r.relations {
		models, err := r.relatedModels(ctx, owner, relation)
		if err != nil {
			return nil, err
		}
		frozen := make([]Entity, len(models))
		for i, model := range models {
			frozen[i] = freeze(model)
		}
		state.relations[relation] = frozen
	}
	return state, nil
}

func (r *Recorder) AfterInsert(ctx context.Context, owner Entity) error {
	return r.save(ctx, ActionCreate, owner, nil)
}

func (r *Recorder) AfterUpdate(ctx context.Context, owner Entity, state *State) error {
	return r.save(ctx, ActionUpdate, owner, state)
}

func (r *Recorder) AfterDelete(ctx context.Context, owner Entity, state *State) error {
	return r.save(ctx, ActionDelete, owner, state)
}

// NewSnapshot reads audited values from the owner and entities currently related to it.
func (r *Recorder) NewSnapshot(ctx context.Context, owner Entity) (Snapshot, error) {
	data := r.modelAttributes(owner, r.ownerAttributes(owner))
	for _, relation := range r.relations {
		models, err := r.relatedModels(ctx, owner, relation)
		if err != nil {
			return nil, err
		}
		err = r.attachRelated(data, owner, relation, models)
		if err != nil {
			return nil, err
		}
	}
	return data, nil
}

// OldSnapshot reads audited values from the state captured at load time. Relations are never fetched again.
func (r *Recorder) OldSnapshot(state *State) (Snapshot, error) {
	if state == nil {
		return Snapshot{}, nil
	}
	data := r.modelAttributes(state.owner, r.ownerAttributes(state.owner))
	for _, relation := range r.relations {
		err := r.attachRelated(data, state.owner, relation, state.relations[relation])
		if err != nil {
			return nil, err
		}
	}
	return data, nil
}

func (r *Recorder) ownerAttributes(owner Entity) []string {
	if len(r.attributes) > 0 {
		return r.attributes
	}
	return owner.Attributes()
}

func (r *Recorder) attachRelated(data Snapshot, owner Entity, relation string, models []Entity) error {
	if len(models) == 0 {
		return nil
	}
	if _, has := data[relation]; has {
		return configError("relation '%s' of %s collides with attribute of the same name", relation, owner.TypeName())
	}
	attributes := r.relatedAttributes[relation]
	if len(attributes) == 0 {
		attributes = r.relatedSchema[relation]
	}
	if len(attributes) == 0 {
		attributes = models[0].Attributes()
	}
	rows := make([]Snapshot, len(models))
	for i, model := range models {
		rows[i] = r.modelAttributes(model, attributes)
	}
	data[relation] = rows
	return nil
}

func (r *Recorder) modelAttributes(model Entity, attributes []string) Snapshot {
	data := make(Snapshot, len(attributes))
	for _, attribute := range attributes {
		data[attribute] = model.GetAttribute(attribute)
	}
	return data
}

func (r *Recorder) relatedModels(ctx context.Context, owner Entity, relation string) ([]Entity, error) {
	rel, err := owner.Relation(relation)
	if err != nil {
		return nil, configError("%s doesn't have '%s' relation: %s", owner.TypeName(), relation, err.Error())
	}
	if rel == nil {
		return nil, configError("%s doesn't have '%s' relation", owner.TypeName(), relation)
	}
	models, err := rel.All(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "loading '%s' relation of %s", relation, owner.TypeName())
	}
	return models, nil
}

func (r *Recorder) save(ctx context.Context, action Action, owner Entity, state *State) error {
	if owner == nil {
		return &UnsupportedOwnerError{Owner: owner}
	}
	start := getNow(len(r.logHandlers) > 0)
	event := &Event{Action: action, EntityName: r.EntityName(owner), Owner: owner, Old: Snapshot{}, New: Snapshot{}}
	var err error
	if action != ActionCreate {
		event.Old, err = r.OldSnapshot(state)
		if err != nil {
			return err
		}
	}
	if action != ActionDelete {
		event.New, err = r.NewSnapshot(ctx, owner)
		if err != nil {
			return err
		}
	}
	oldValue, err := event.Old.Encode()
	if err != nil {
		return err
	}
	newValue, err := event.New.Encode()
	if err != nil {
		return err
	}
	event.Attributes = map[string]interface{}{
		r.columns[ColumnOldValue]: oldValue,
		r.columns[ColumnNewValue]: newValue,
		r.columns[ColumnAction]:   string(action),
	}
	if r.columns[ColumnEntity] != "" {
		event.Attributes[r.columns[ColumnEntity]] = event.EntityName
	}
	for _, logField := range r.additionalFields {
		event.Attributes[logField] = owner.GetAttribute(r.additional[logField])
	}
	for _, plugin := range r.plugins {
		building, is := plugin.(PluginInterfaceLogRecordBuilding)
		if is {
			err = building.LogRecordBuilding(ctx, event)
			if err != nil {
				return err
			}
		}
	}
	record, err := r.logModel()
	if err == nil && record == nil {
		err = configError("'logModelClass' should create changelog.LogRecord")
	}
	if err == nil {
		record.SetAttributes(event.Attributes)
		err = record.Save(ctx)
	}
	for _, plugin := range r.plugins {
		saved, is := plugin.(PluginInterfaceLogRecordSaved)
		if is {
			saved.LogRecordSaved(ctx, event, err)
		}
	}
	if len(r.logHandlers) > 0 {
		fillLogFields(ctx, r.logHandlers, event, start, err)
	}
	return err
}
