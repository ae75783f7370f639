package changelog

import (
	"fmt"
)

// InitByYaml registers entities described in parsed yaml:
//
//	Order:
//	  logModelClass: order_log
//	  attributes: [name, date, id]
//	  relatedAttributes:
//	    user: [email]
//	    category: []
//	  columns:
//	    action: action_column_name
//	  additionalLogTableFields:
//	    log_item_name: title
func (r *Registry) InitByYaml(yaml map[string]interface{}) error {
	for _, entityName := range sortedKeys(yaml) {
		def, err := fixYamlMap(yaml[entityName], entityName)
		if err != nil {
			return err
		}
		options := &Options{}
		for key, value := range def {
			switch key {
			case "logModelClass":
				options.LogModelClass, err = validateYamlString(value, key)
			case "attributes":
				options.Attributes, err = validateYamlList(value, key)
			case "relatedAttributes":
				options.RelatedAttributes, err = validateYamlListMap(value, key)
			case "relatedSchema":
				options.RelatedSchema, err = validateYamlListMap(value, key)
			case "columns":
				options.Columns, err = validateYamlStringMap(value, key)
			case "additionalLogTableFields":
				options.AdditionalLogTableFields, err = validateYamlStringMap(value, key)
			default:
				err = configError("unknown change log option '%s' in %s", key, entityName)
			}
			if err != nil {
				return err
			}
		}
		r.RegisterEntity(entityName, options)
	}
	return nil
}

func fixYamlMap(value interface{}, key string) (map[string]interface{}, error) {
	if value == nil {
		return map[string]interface{}{}, nil
	}
	def, ok := value.(map[string]interface{})
	if !ok {
		def2, ok := value.(map[interface{}]interface{})
		if !ok {
			return nil, configError("change log yaml key %s is not valid", key)
		}
		def = make(map[string]interface{}, len(def2))
		for k, v := range def2 {
			def[fmt.Sprintf("%v", k)] = v
		}
	}
	return def, nil
}

func validateYamlString(value interface{}, key string) (string, error) {
	asString, ok := value.(string)
	if !ok {
		return "", configError("'%s' should be a string", key)
	}
	return asString, nil
}

func validateYamlList(value interface{}, key string) ([]string, error) {
	if value == nil {
		return nil, nil
	}
	var values []string
	switch list := value.(type) {
	case []string:
		values = list
	case []interface{}:
		values = make([]string, len(list))
		for i, v := range list {
			asString, ok := v.(string)
			if !ok {
				return nil, configError("'%s' should be an array of strings", key)
			}
			values[i] = asString
		}
	default:
		return nil, configError("'%s' should be an array", key)
	}
	return values, nil
}

func validateYamlListMap(value interface{}, key string) (map[string][]string, error) {
	def, err := fixYamlMap(value, key)
	if err != nil {
		return nil, configError("'%s' should be an array", key)
	}
	result := make(map[string][]string, len(def))
	for name, list := range def {
		values, err := validateYamlList(list, key+"."+name)
		if err != nil {
			return nil, err
		}
		result[name] = values
	}
	return result, nil
}

func validateYamlStringMap(value interface{}, key string) (map[string]string, error) {
	def, err := fixYamlMap(value, key)
	if err != nil {
		return nil, configError("'%s' should be an array", key)
	}
	result := make(map[string]string, len(def))
	for name, v := range def {
		if v == nil {
			result[name] = ""
			continue
		}
		asString, ok := v.(string)
		if !ok {
			return nil, configError("'%s.%s' should be a string", key, name)
		}
		result[name] = asString
	}
	return result, nil
}
