package dsl

import (
	"regexp"
	"strings"

	"github.com/xkilldash9x/flowreplay/api/schemas"
	"github.com/xkilldash9x/flowreplay/internal/interpreter"
)

var numericName = regexp.MustCompile(`^\d+$`)

// labelText joins every human-readable label of the action.
func labelText(a schemas.Action) string {
	parts := []string{a.Selector, a.Params.Name}
	if a.ChildLocator != nil {
		parts = append(parts, a.ChildLocator.Selector, a.ChildLocator.Params.Name)
	}
	if a.AdditionalFilter != nil {
		parts = append(parts, a.AdditionalFilter.HasText)
	}
	return strings.Join(parts, " ")
}

// InferHint proposes a behavior hint from an action's labels. It is an
// authoring aid for converted scripts; the result is stored on the action and
// the interpreter only ever reads the stored tag. It may also switch a click
// on a known confirmation banner to getText.
func InferHint(a schemas.Action) (schemas.BehaviorHint, schemas.ActionVerb) {
	ctx := labelText(a)
	verb := a.ActionVerb

	if a.LocatorType == schemas.LocatorByText && (verb == schemas.VerbClick || verb == schemas.VerbGetText) {
		if hint := messageHint(ctx); hint != schemas.HintGeneric {
			return hint, schemas.VerbGetText
		}
	}

	switch verb {
	case schemas.VerbGetText:
		return messageHint(ctx), verb

	case schemas.VerbClick:
		switch {
		case a.LocatorType == schemas.LocatorByRole && a.Selector == "link" && numericName.MatchString(a.Params.Name):
			return schemas.HintNumericLink, verb
		case strings.Contains(ctx, "Interfaces shipping details"):
			return schemas.HintDelayedClick, verb
		case strings.Contains(ctx, "Refresh"):
			return schemas.HintRefresh, verb
		case a.Params.Name != "" && interpreter.KnownTab(a.Params.Name):
			return schemas.HintTabNavigation, verb
		}

	case schemas.VerbFill:
		if a.LocatorType == schemas.LocatorByRole && a.Selector == "combobox" {
			switch {
			case strings.Contains(ctx, "Manage Shipment Interface"):
				return schemas.HintComboBoxCommit, verb
			case strings.Contains(ctx, "From Shipment"), strings.Contains(ctx, "To Shipment"):
				return schemas.HintShipmentRef, verb
			case strings.Contains(ctx, "Requisition"):
				return schemas.HintRequisitionRef, verb
			case a.Params.Name == "Order":
				return schemas.HintOrderRef, verb
			default:
				return schemas.HintComboBox, verb
			}
		}
		switch {
		case strings.Contains(ctx, "Process ID"):
			return schemas.HintProcessRef, verb
		case strings.Contains(ctx, "Order"):
			return schemas.HintOrderRef, verb
		}
	}
	return schemas.HintGeneric, verb
}

func messageHint(ctx string) schemas.BehaviorHint {
	switch {
	case strings.Contains(ctx, "Requisition"):
		return schemas.HintRequisitionText
	case strings.Contains(ctx, "Purchase Orders"):
		return schemas.HintPurchaseOrderText
	case strings.Contains(ctx, "was released"):
		return schemas.HintPickWaveMessage
	case strings.Contains(ctx, "Sales order"):
		return schemas.HintSalesOrderMessage
	case strings.Contains(ctx, "The shipment"):
		return schemas.HintShipmentMessage
	case strings.Contains(ctx, "Process"):
		return schemas.HintProcessMessage
	case strings.Contains(ctx, "Shipped"):
		return schemas.HintStatusText
	}
	return schemas.HintGeneric
}
