package schemas

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	jsoniter "github.com/json-iterator/go"
	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

const testDataSchemaID = "https://github.com/xkilldash9x/flowreplay/schemas/test-data-v1.json"

var json2 = jsoniter.ConfigCompatibleWithStandardLibrary

// Issue is one problem found while validating a test-data document.
type Issue struct {
	Phase   string `json:"phase"` // "schema" or "domain"
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	if i.Path == "" {
		return fmt.Sprintf("[%s] %s", i.Phase, i.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", i.Phase, i.Path, i.Message)
}

// GenerateJSONSchema produces the JSON Schema document for the interpreter input file.
func GenerateJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	r.DoNotReference = false

	s := r.Reflect(&TestData{})
	s.ID = testDataSchemaID
	s.Title = "flowreplay test data v1"
	s.Description = "Ordered scenarios, each with screens of browser actions"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return data, nil
}

// ValidateSchema checks raw test-data JSON against the generated schema.
// An empty result means the document is structurally valid.
func ValidateSchema(data []byte) []Issue {
	schemaJSON, err := GenerateJSONSchema()
	if err != nil {
		return []Issue{{Phase: "schema", Message: err.Error()}}
	}
	schemaDoc, err := sjsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return []Issue{{Phase: "schema", Message: fmt.Sprintf("unmarshal schema: %v", err)}}
	}

	c := sjsonschema.NewCompiler()
	if err := c.AddResource("test-data-v1.json", schemaDoc); err != nil {
		return []Issue{{Phase: "schema", Message: fmt.Sprintf("add schema resource: %v", err)}}
	}
	sch, err := c.Compile("test-data-v1.json")
	if err != nil {
		return []Issue{{Phase: "schema", Message: fmt.Sprintf("compile schema: %v", err)}}
	}

	doc, err := sjsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return []Issue{{Phase: "schema", Message: fmt.Sprintf("unmarshal document: %v", err)}}
	}

	if err := sch.Validate(doc); err != nil {
		ve, ok := err.(*sjsonschema.ValidationError)
		if !ok {
			return []Issue{{Phase: "schema", Message: err.Error()}}
		}
		var issues []Issue
		for _, cause := range flattenValidationErrors(ve) {
			issues = append(issues, Issue{
				Phase:   "schema",
				Path:    strings.Join(cause.InstanceLocation, "/"),
				Message: fmt.Sprintf("%v", cause.ErrorKind),
			})
		}
		return issues
	}
	return nil
}

func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}

// ValidateDomain checks rules the schema cannot express.
func ValidateDomain(td TestData) []Issue {
	var issues []Issue
	add := func(path, format string, args ...interface{}) {
		issues = append(issues, Issue{Phase: "domain", Path: path, Message: fmt.Sprintf(format, args...)})
	}

	for i, sc := range td {
		scPath := fmt.Sprintf("%d", i)
		if sc.Name == "" {
			add(scPath+"/scenario", "scenario name is required")
		}
		if sc.StartURL == "" {
			add(scPath+"/url", "start url is required")
		}
		for j, screen := range sc.Screens {
			for k, a := range screen.Actions {
				aPath := fmt.Sprintf("%s/screens/%d/actions/%d", scPath, j, k)
				if a.ActionVerb != "" && !a.ActionVerb.Valid() {
					add(aPath+"/actionVerb", "unknown verb %q", a.ActionVerb)
				}
				if a.LocatorType != "" && !a.LocatorType.Valid() {
					add(aPath+"/locatorType", "unknown locator type %q", a.LocatorType)
				}
				if !a.BehaviorHint.Valid() {
					add(aPath+"/behaviorHint", "unknown behavior hint %q", a.BehaviorHint)
				}
				if a.ActionVerb == VerbExpect && a.AssertionType == "" {
					add(aPath+"/assertionType", "expect actions need an assertion type")
				}
				if a.ActionVerb != VerbExpect && a.ActionVerb != "" && a.AssertionType != "" {
					add(aPath+"/assertionType", "assertion type is only valid on expect actions")
				}
				if a.Nth != nil && *a.Nth < 0 {
					add(aPath+"/nth", "nth must not be negative")
				}
				if es := a.ExternalService; es != nil && es.Type == ServicePolling &&
					(es.PollingOptions == nil || es.PollingOptions.Timeout <= 0) {
					add(aPath+"/externalService/pollingOptions", "polling services need a positive timeout")
				}
			}
		}
	}
	return issues
}

// DecodeTestData parses the interpreter input file.
func DecodeTestData(data []byte) (TestData, error) {
	var td TestData
	if err := json2.Unmarshal(data, &td); err != nil {
		return nil, fmt.Errorf("failed to decode test data: %w", err)
	}
	return td, nil
}

// EncodeTestData renders the interpreter input file.
func EncodeTestData(td TestData) ([]byte, error) {
	return json2.MarshalIndent(td, "", "  ")
}
