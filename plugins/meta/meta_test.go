package meta

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/latolukasz/changelog"
)

type testRecord struct {
	columns map[string]bool
	values  map[string]interface{}
}

func (r *testRecord) HasAttribute(name string) bool {
	return r.columns[name]
}

func (r *testRecord) SetAttributes(values map[string]interface{}) {
	r.values = values
}

func (r *testRecord) Save(context.Context) error {
	return nil
}

type testOwner struct{}

func (o *testOwner) TypeName() string {
	return "models.Invoice"
}

func (o *testOwner) Attributes() []string {
	return []string{"number"}
}

func (o *testOwner) HasAttribute(name string) bool {
	return name == "number"
}

func (o *testOwner) GetAttribute(string) interface{} {
	return "FV/1/2024"
}

func (o *testOwner) Relation(string) (changelog.Relation, error) {
	return nil, nil
}

func TestWithValue(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, Values(ctx))
	first := WithValue(ctx, "user", "12")
	second := WithValue(first, "ip", "10.0.0.1")
	assert.Equal(t, map[string]string{"user": "12"}, Values(first))
	assert.Equal(t, map[string]string{"user": "12", "ip": "10.0.0.1"}, Values(second))
}

func TestMetaPlugin(t *testing.T) {
	plugin := Init(nil)
	assert.Equal(t, PluginCode, plugin.GetCode())
	record := &testRecord{columns: map[string]bool{"action": true, "old_value": true, "new_value": true}}
	model := func() (changelog.LogRecord, error) {
		return record, nil
	}
	_, err := changelog.New(&changelog.Options{LogModel: model, Plugins: []changelog.Plugin{plugin}})
	assert.EqualError(t, err, "meta column 'meta' is missing in log record")

	record.columns["meta"] = true
	recorder, err := changelog.New(&changelog.Options{LogModel: model, Plugins: []changelog.Plugin{plugin}})
	assert.NoError(t, err)

	assert.NoError(t, recorder.AfterInsert(context.Background(), &testOwner{}))
	assert.NotContains(t, record.values, "meta")

	ctx := WithValue(WithValue(context.Background(), "user", "12"), "source", "<api>")
	assert.NoError(t, recorder.AfterInsert(ctx, &testOwner{}))
	assert.Equal(t, `{"source":"<api>","user":"12"}`, record.values["meta"])
}

func TestMetaDefaults(t *testing.T) {
	plugin := Init(&Options{Column: "context", Defaults: map[string]string{"app": "billing", "user": "system"}})
	event := &changelog.Event{Attributes: map[string]interface{}{}}
	assert.NoError(t, plugin.LogRecordBuilding(WithValue(context.Background(), "user", "7"), event))
	assert.Equal(t, `{"app":"billing","user":"7"}`, event.Attributes["context"])
}
