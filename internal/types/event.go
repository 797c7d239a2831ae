package types

// AmendmentType marks persisted records that were generated by conflict resolution.
// Ordinary usage records carry no amendment type.
type AmendmentType string

const (
	AmendmentTypeNone      AmendmentType = ""
	AmendmentTypeDeduction AmendmentType = "DEDUCTION"
)

func (a AmendmentType) IsDeduction() bool {
	return a == AmendmentTypeDeduction
}

// EventConflictType classifies an incoming event against the latest tracked usage
// for one conflict key.
type EventConflictType string

const (
	// EventConflictTypeOriginal means nothing is tracked for the key.
	EventConflictTypeOriginal EventConflictType = "ORIGINAL"
	// EventConflictTypeIdentical means value and descriptor both match.
	EventConflictTypeIdentical EventConflictType = "IDENTICAL"
	// EventConflictTypeContextual means the value matches but the descriptor changed.
	EventConflictTypeContextual EventConflictType = "CONTEXTUAL"
	// EventConflictTypeCorrective means the value changed and the descriptor matches.
	EventConflictTypeCorrective EventConflictType = "CORRECTIVE"
	// EventConflictTypeComprehensive means value and descriptor both changed.
	EventConflictTypeComprehensive EventConflictType = "COMPREHENSIVE"
)

type eventConflictRule struct {
	requiresDeduction bool
	saveIncoming      bool
}

var eventConflictRules = map[EventConflictType]eventConflictRule{
	EventConflictTypeOriginal:      {requiresDeduction: false, saveIncoming: true},
	EventConflictTypeIdentical:     {requiresDeduction: false, saveIncoming: false},
	EventConflictTypeContextual:    {requiresDeduction: true, saveIncoming: true},
	EventConflictTypeCorrective:    {requiresDeduction: true, saveIncoming: true},
	EventConflictTypeComprehensive: {requiresDeduction: true, saveIncoming: true},
}

// ClassifyEventConflict picks the conflict type for a key that already has tracked usage.
func ClassifyEventConflict(valueEqual, descriptorEqual bool) EventConflictType {
	switch {
	case valueEqual && descriptorEqual:
		return EventConflictTypeIdentical
	case valueEqual:
		return EventConflictTypeContextual
	case descriptorEqual:
		return EventConflictTypeCorrective
	default:
		return EventConflictTypeComprehensive
	}
}

func (t EventConflictType) RequiresDeduction() bool {
	return eventConflictRules[t].requiresDeduction
}

func (t EventConflictType) SaveIncoming() bool {
	return eventConflictRules[t].saveIncoming
}

func (t EventConflictType) String() string {
	return string(t)
}
