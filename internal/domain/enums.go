package domain

// Condition is the item condition reported by the listing.
type Condition string

const (
	ConditionNew  Condition = "New"
	ConditionUsed Condition = "Used"
)

// IsValid checks if the condition is a valid value.
func (c Condition) IsValid() bool {
	return c == ConditionNew || c == ConditionUsed
}

// ListingStatus is the auction state observed on the source page.
type ListingStatus string

const (
	StatusActive  ListingStatus = "Active"
	StatusEnded   ListingStatus = "Ended"
	StatusUnknown ListingStatus = "Unknown"
)

// IsValid checks if the status is a valid value.
func (s ListingStatus) IsValid() bool {
	return s == StatusActive || s == StatusEnded || s == StatusUnknown
}

// PublishState tracks the target platform draft lifecycle.
type PublishState string

const (
	PublishDraft     PublishState = "DRAFT"
	PublishPrepared  PublishState = "PREPARED"
	PublishPublished PublishState = "PUBLISHED"
)

// IsValid checks if the publish state is a valid value.
func (p PublishState) IsValid() bool {
	return p == PublishDraft || p == PublishPrepared || p == PublishPublished
}

// WriteAction is the outcome of an upsert.
type WriteAction string

const (
	ActionInsert WriteAction = "INSERT"
	ActionUpdate WriteAction = "UPDATE"
	ActionDelete WriteAction = "DELETE"
)
