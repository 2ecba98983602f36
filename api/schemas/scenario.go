package schemas

import (
	"fmt"
)

// -- Locator Schemas --

// LocatorType names one of the supported element lookup strategies.
type LocatorType string

const (
	LocatorByRole          LocatorType = "byRole"
	LocatorByLabel         LocatorType = "byLabel"
	LocatorByText          LocatorType = "byText"
	LocatorByTitle         LocatorType = "byTitle"
	LocatorGenericSelector LocatorType = "genericSelector"
)

// LocatorTypes lists every supported strategy in declaration order.
var LocatorTypes = []LocatorType{
	LocatorByRole, LocatorByLabel, LocatorByText, LocatorByTitle, LocatorGenericSelector,
}

// Valid reports whether t is one of the known strategies.
func (t LocatorType) Valid() bool {
	switch t {
	case LocatorByRole, LocatorByLabel, LocatorByText, LocatorByTitle, LocatorGenericSelector:
		return true
	}
	return false
}

// LocatorParams holds the disambiguation options for a locator, e.g. {name, exact}.
type LocatorParams struct {
	Name  string `json:"name,omitempty" yaml:"name,omitempty"`
	Exact bool   `json:"exact,omitempty" yaml:"exact,omitempty"`
}

// IsZero reports whether no option is set.
func (p LocatorParams) IsZero() bool { return p.Name == "" && !p.Exact }

// LocatorSpec is a single symbolic lookup step.
type LocatorSpec struct {
	LocatorType LocatorType   `json:"locatorType" yaml:"locatorType" jsonschema:"enum=byRole,enum=byLabel,enum=byText,enum=byTitle,enum=genericSelector"`
	Selector    string        `json:"selector" yaml:"selector"`
	Params      LocatorParams `json:"params,omitempty" yaml:"params,omitempty"`
}

// String renders a compact description for logs.
func (s LocatorSpec) String() string {
	if s.Params.IsZero() {
		return fmt.Sprintf("%s(%q)", s.LocatorType, s.Selector)
	}
	return fmt.Sprintf("%s(%q, name=%q, exact=%t)", s.LocatorType, s.Selector, s.Params.Name, s.Params.Exact)
}

// Filter narrows a resolved set by inclusion and exclusion text.
type Filter struct {
	HasText string `json:"hasText,omitempty" yaml:"hasText,omitempty"`
	HasNot  string `json:"hasNot,omitempty" yaml:"hasNot,omitempty"`
}

// IsZero reports whether the filter has no predicate.
func (f *Filter) IsZero() bool { return f == nil || (f.HasText == "" && f.HasNot == "") }

// -- Action Schemas --

// ActionVerb is the operation performed against the resolved element.
type ActionVerb string

const (
	VerbClick        ActionVerb = "click"
	VerbFill         ActionVerb = "fill"
	VerbPress        ActionVerb = "press"
	VerbSelectOption ActionVerb = "selectOption"
	VerbGetText      ActionVerb = "getText"
	VerbExpect       ActionVerb = "expect"
)

// Valid reports whether v is a supported verb.
func (v ActionVerb) Valid() bool {
	switch v {
	case VerbClick, VerbFill, VerbPress, VerbSelectOption, VerbGetText, VerbExpect:
		return true
	}
	return false
}

// AssertionType is the kind of check an expect action performs.
type AssertionType string

const (
	AssertToContainText AssertionType = "toContainText"
	AssertToHaveText    AssertionType = "toHaveText"
	AssertToHaveValue   AssertionType = "toHaveValue"
	AssertToBeVisible   AssertionType = "toBeVisible"
	AssertIncludes      AssertionType = "includes"
)

// BehaviorHint selects an application-specific execution policy for an action.
// It is attached when the scenario is authored; the interpreter never infers it
// from raw text at run time.
type BehaviorHint string

const (
	HintGeneric BehaviorHint = "generic"

	// click
	HintRefresh       BehaviorHint = "refresh"
	HintTabNavigation BehaviorHint = "tabNavigation"
	HintNumericLink   BehaviorHint = "numericLink"
	HintDelayedClick  BehaviorHint = "delayedClick"

	// fill
	HintOrderRef       BehaviorHint = "orderRef"
	HintProcessRef     BehaviorHint = "processRef"
	HintShipmentRef    BehaviorHint = "shipmentRef"
	HintRequisitionRef BehaviorHint = "requisitionRef"
	HintComboBox       BehaviorHint = "comboBox"
	HintCopyPaste      BehaviorHint = "copyPaste"
	HintComboBoxCommit BehaviorHint = "comboBoxCommit"

	// getText
	HintRequisitionText   BehaviorHint = "requisitionText"
	HintPurchaseOrderText BehaviorHint = "purchaseOrderText"
	HintPickWaveMessage   BehaviorHint = "pickWaveMessage"
	HintSalesOrderMessage BehaviorHint = "salesOrderMessage"
	HintShipmentMessage   BehaviorHint = "shipmentMessage"
	HintProcessMessage    BehaviorHint = "processMessage"
	HintStatusText        BehaviorHint = "statusText"
)

// BehaviorHints lists every known hint.
var BehaviorHints = []BehaviorHint{
	HintGeneric,
	HintRefresh, HintTabNavigation, HintNumericLink, HintDelayedClick,
	HintOrderRef, HintProcessRef, HintShipmentRef, HintRequisitionRef, HintComboBox, HintCopyPaste, HintComboBoxCommit,
	HintRequisitionText, HintPurchaseOrderText, HintPickWaveMessage, HintSalesOrderMessage,
	HintShipmentMessage, HintProcessMessage, HintStatusText,
}

// Valid reports whether h is a known hint. The empty hint is valid and means generic.
func (h BehaviorHint) Valid() bool {
	if h == "" {
		return true
	}
	for _, known := range BehaviorHints {
		if h == known {
			return true
		}
	}
	return false
}

// OrDefault returns HintGeneric for the empty hint.
func (h BehaviorHint) OrDefault() BehaviorHint {
	if h == "" {
		return HintGeneric
	}
	return h
}

// Action is the unit the interpreter consumes. The structured fields are
// authoritative; Raw is kept for logs and diagnostics only.
type Action struct {
	Raw              string           `json:"raw" yaml:"raw"`
	LocatorType      LocatorType      `json:"locatorType,omitempty" yaml:"locatorType,omitempty" jsonschema:"enum=byRole,enum=byLabel,enum=byText,enum=byTitle,enum=genericSelector"`
	Selector         string           `json:"selector,omitempty" yaml:"selector,omitempty"`
	Params           LocatorParams    `json:"params,omitempty" yaml:"params,omitempty"`
	ChildLocator     *LocatorSpec     `json:"childLocator,omitempty" yaml:"childLocator,omitempty"`
	AdditionalFilter *Filter          `json:"additionalFilter,omitempty" yaml:"additionalFilter,omitempty"`
	Nth              *int             `json:"nth,omitempty" yaml:"nth,omitempty"`
	ActionVerb       ActionVerb       `json:"actionVerb,omitempty" yaml:"actionVerb,omitempty" jsonschema:"enum=click,enum=fill,enum=press,enum=selectOption,enum=getText,enum=expect"`
	Value            string           `json:"value,omitempty" yaml:"value,omitempty"`
	ParsedValue      string           `json:"parsedValue,omitempty" yaml:"parsedValue,omitempty"`
	AssertionType    AssertionType    `json:"assertionType,omitempty" yaml:"assertionType,omitempty" jsonschema:"enum=toContainText,enum=toHaveText,enum=toHaveValue,enum=toBeVisible,enum=includes"`
	BehaviorHint     BehaviorHint     `json:"behaviorHint,omitempty" yaml:"behaviorHint,omitempty"`
	Variable         string           `json:"variable,omitempty" yaml:"variable,omitempty"`
	ExternalService  *ExternalService `json:"externalService,omitempty" yaml:"externalService,omitempty"`
}

// Locator returns the primary lookup step of the action.
func (a Action) Locator() LocatorSpec {
	return LocatorSpec{LocatorType: a.LocatorType, Selector: a.Selector, Params: a.Params}
}

// Input returns the literal input for the action. ParsedValue wins over Value
// because recorded scripts carry the literal there and leave Value empty.
func (a Action) Input() string {
	if a.ParsedValue != "" {
		return a.ParsedValue
	}
	return a.Value
}

// Hint returns the action's behavior hint, defaulting to generic.
func (a Action) Hint() BehaviorHint { return a.BehaviorHint.OrDefault() }

// Describe returns raw when present, otherwise a structured rendering.
func (a Action) Describe() string {
	if a.Raw != "" {
		return a.Raw
	}
	return fmt.Sprintf("%s.%s", a.Locator(), a.ActionVerb)
}

// -- Scenario Schemas --

// Screen is a named, ordered group of actions.
type Screen struct {
	ScreenName string   `json:"screenName" yaml:"screenName"`
	Actions    []Action `json:"actions" yaml:"actions"`
}

// Scenario is one end-to-end run: a start URL and ordered screens.
type Scenario struct {
	Name     string   `json:"scenario" yaml:"scenario"`
	StartURL string   `json:"url" yaml:"url"`
	Screens  []Screen `json:"screens" yaml:"screens"`
}

// ActionCount returns the total number of actions across all screens.
func (s Scenario) ActionCount() int {
	n := 0
	for _, screen := range s.Screens {
		n += len(screen.Actions)
	}
	return n
}

// TestData is the interpreter input file: an ordered array of scenarios.
type TestData []Scenario
