package interpreter

import (
	"sort"

	"github.com/xkilldash9x/flowreplay/api/schemas"
)

// Variable names shared between capturing and consuming actions.
const (
	VarRequisitionID   = "requisitionId"
	VarPurchaseOrderID = "purchaseOrderId"
	VarSalesOrderID    = "salesOrderId"
	VarShipmentID      = "shipmentId"
	VarProcessID       = "processId"
	VarPickWaveID      = "pickWaveId"
	VarPickSlipID      = "pickSlipId"
)

// fillVariables maps a fill hint to the variable that overrides its literal value.
var fillVariables = map[schemas.BehaviorHint]string{
	schemas.HintShipmentRef:    VarShipmentID,
	schemas.HintRequisitionRef: VarRequisitionID,
	schemas.HintOrderRef:       VarSalesOrderID,
	schemas.HintProcessRef:     VarProcessID,
}

// Variables is the run-scoped bag of captured values. One bag belongs to one
// scenario execution and is not safe for concurrent use.
type Variables struct {
	values map[string]string
}

// NewVariables returns an empty bag.
func NewVariables() *Variables {
	return &Variables{values: make(map[string]string)}
}

func (v *Variables) Get(key string) (string, bool) {
	val, ok := v.values[key]
	return val, ok
}

func (v *Variables) Set(key, value string) {
	v.values[key] = value
}

func (v *Variables) Len() int { return len(v.values) }

// Snapshot returns a copy of the bag.
func (v *Variables) Snapshot() map[string]string {
	out := make(map[string]string, len(v.values))
	for k, val := range v.values {
		out[k] = val
	}
	return out
}

// Keys returns the variable names in sorted order.
func (v *Variables) Keys() []string {
	keys := make([]string, 0, len(v.values))
	for k := range v.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// fillValue returns the value a fill action writes. A stored variable for the
// action's hint always wins over the literal.
func fillValue(a schemas.Action, vars *Variables) (value string, variable string) {
	if key, ok := fillVariables[a.Hint()]; ok {
		if stored, ok := vars.Get(key); ok {
			return stored, key
		}
	}
	return a.Input(), ""
}
