package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"gopkg.in/yaml.v3"
)

// Format is the encoding of a service definition document.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the document format from the file extension.
// Anything that is not .yaml or .yml is read as JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// requiredFields lists the keys every service entry must carry, in the order they are checked.
var requiredFields = []string{"realm", "client_id"}

// serviceDefinition is a single entry of the services document after type checks.
type serviceDefinition struct {
	Realm    string `json:"realm" validate:"required,notblank"`
	ClientID string `json:"client_id" validate:"required,notblank"`
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("notblank", validators.NotBlank)
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
}

// readDocument loads the raw bytes of the definition file.
func readDocument(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, configErrorf(err, "configuration file not found: %s", path)
		}
		return nil, configErrorf(err, "failed to read configuration file %s: %v", path, err)
	}
	return data, nil
}

// Parse decodes and validates a service definition document and resolves the
// client secret of every entry through lookup. A nil lookup reads the process
// environment.
func Parse(data []byte, format Format, lookup SecretLookup) (map[string]ServiceConfig, error) {
	if lookup == nil {
		lookup = EnvSecretLookup
	}

	var doc interface{}
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, configErrorf(ErrInvalidDocument, "invalid YAML in configuration file: %v", err)
		}
	default:
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, configErrorf(ErrInvalidDocument, "invalid JSON in configuration file: %v", err)
		}
	}

	root, ok := doc.(map[string]interface{})
	if !ok {
		return nil, configErrorf(ErrInvalidDocument, "configuration must be an object")
	}

	raw, ok := root["services"]
	if !ok {
		return nil, configErrorf(ErrInvalidDocument, "configuration must contain 'services' field")
	}

	entries, ok := raw.(map[string]interface{})
	if !ok {
		return nil, configErrorf(ErrInvalidDocument, "'services' field must be an object")
	}

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	services := make(map[string]ServiceConfig, len(entries))
	for _, name := range names {
		def, err := decodeDefinition(name, entries[name])
		if err != nil {
			return nil, err
		}
		services[name] = ServiceConfig{
			Name:         name,
			Realm:        def.Realm,
			ClientID:     def.ClientID,
			ClientSecret: lookup(SecretKey(def.ClientID)),
		}
	}

	return services, nil
}

func decodeDefinition(name string, raw interface{}) (*serviceDefinition, error) {
	entry, ok := raw.(map[string]interface{})
	if !ok {
		return nil, configErrorf(ErrInvalidDocument, "service '%s' configuration must be an object", name)
	}

	values := make(map[string]string, len(requiredFields))
	for _, field := range requiredFields {
		v, present := entry[field]
		if !present {
			return nil, configErrorf(ErrInvalidDocument, "service '%s' is missing required field: '%s'", name, field)
		}
		s, isString := v.(string)
		if !isString {
			return nil, configErrorf(ErrInvalidDocument, "service '%s' field '%s' must be a string", name, field)
		}
		values[field] = s
	}

	def := &serviceDefinition{
		Realm:    values["realm"],
		ClientID: values["client_id"],
	}
	if err := validate.Struct(def); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return nil, configErrorf(ErrInvalidDocument, "service '%s' field '%s' cannot be empty", name, fieldErrs[0].Field())
		}
		return nil, configErrorf(ErrInvalidDocument, "service '%s' is invalid: %v", name, err)
	}

	return def, nil
}

// describeNames renders service names for error messages.
func describeNames(names []string) string {
	if len(names) == 0 {
		return "[]"
	}
	return fmt.Sprintf("[%s]", strings.Join(names, ", "))
}
