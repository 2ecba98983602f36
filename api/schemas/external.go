package schemas

import (
	"encoding/json"
	"time"

	"github.com/invopop/jsonschema"
)

// ServiceCallType selects single-shot or polling correlation.
type ServiceCallType string

const (
	ServiceStateless ServiceCallType = "stateless"
	ServicePolling   ServiceCallType = "polling"
)

// PollingOptions bounds a polling correlation.
type PollingOptions struct {
	Interval Duration `json:"interval,omitempty" yaml:"interval,omitempty"`
	Timeout  Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// ExternalService describes an out-of-band HTTP check linked to an action.
type ExternalService struct {
	Method         string            `json:"method" yaml:"method" jsonschema:"enum=get,enum=post,enum=put,enum=delete"`
	URL            string            `json:"url" yaml:"url"`
	Headers        map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body           RawJSON           `json:"body,omitempty" yaml:"-"`
	Type           ServiceCallType   `json:"type" yaml:"type" jsonschema:"enum=stateless,enum=polling"`
	PollingOptions *PollingOptions   `json:"pollingOptions,omitempty" yaml:"pollingOptions,omitempty"`
	ExpectedStatus int               `json:"expectedStatus,omitempty" yaml:"expectedStatus,omitempty"`
	ExpectedBody   RawJSON           `json:"expectedBody,omitempty" yaml:"-"`
	// Condition is an optional boolean expression over status, body and headers.
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// Duration is a time.Duration that reads and writes as a Go duration string
// ("3s") or as integer milliseconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var ms int64
	if err := json.Unmarshal(b, &ms); err == nil {
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// JSONSchema accepts either form.
func (Duration) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		OneOf: []*jsonschema.Schema{
			{Type: "string", Pattern: `^([0-9.]+(ns|us|µs|ms|s|m|h))+$`},
			{Type: "integer", Minimum: json.Number("0")},
		},
	}
}

// RawJSON is an arbitrary JSON document carried verbatim.
type RawJSON = json.RawMessage
