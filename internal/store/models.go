package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Listing lifecycle: draft -> active (paid) -> under_contract -> sold.
// withdrawn can follow draft or active.
type Listing struct {
	ID              string
	SellerID        string
	Status          string
	PriceCents      int64
	AddressLine1    string
	AddressLine2    string
	City            string
	State           string
	Zip             string
	Beds            int
	Baths           float64
	Sqft            int
	Description     string
	ListedAt        *time.Time
	UnderContractAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Offer struct {
	ID          string
	ListingID   string
	BuyerID     string
	PriceCents  int64
	Financing   string
	ClosingDate string
	Status      string
	Message     string
	SubmittedAt time.Time
	RespondedAt *time.Time
}

type Showing struct {
	ID                 string
	ListingID          string
	BuyerUserID        *string
	BuyerName          string
	BuyerEmail         string
	BuyerPhone         string
	RequestedDate      string
	RequestedTimeStart string
	RequestedTimeEnd   string
	ConfirmedDate      string
	ConfirmedTimeStart string
	ConfirmedTimeEnd   string
	Status             string
	LockboxCode        string
	AccessInstructions string
	CreatedAt          time.Time
}

// ShowingPatch carries the seller-editable showing fields. Nil pointers mean
// "leave unchanged".
type ShowingPatch struct {
	Status             *string
	ConfirmedDate      *string
	ConfirmedTimeStart *string
	ConfirmedTimeEnd   *string
	LockboxCode        *string
	AccessInstructions *string
}

type DisclosureForm struct {
	ID      string
	Name    string
	Region  string
	Version int
}

type DisclosureQuestion struct {
	ID           string
	FormID       string
	Key          string
	Prompt       string
	SectionKey   string
	SectionLabel string
	Required     bool
	DisplayOrder int
}

type DisclosureSession struct {
	ID             string
	UserID         string
	ListingID      *string
	FormID         string
	CurrentSection string
	Status         string
	CompletionPct  int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DisclosureAnswer is keyed by (SessionID, QuestionID); writes are upserts on
// that composite key.
type DisclosureAnswer struct {
	SessionID   string
	QuestionID  string
	Value       string
	Explanation string
	UpdatedAt   time.Time
}

type ListingPhoto struct {
	ID          string
	ListingID   string
	ObjectKey   string
	ContentType string
	SortOrder   int
	CreatedAt   time.Time
}

type Payment struct {
	ID          string
	ListingID   string
	UserID      string
	EventID     string
	AmountCents int64
	Status      string
	CreatedAt   time.Time
}
