package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"strings"
	"time"

	"yardsign/api/internal/auth"
	"yardsign/api/internal/authpw"
	"yardsign/api/internal/config"
	"yardsign/api/internal/email"
	"yardsign/api/internal/export"
	"yardsign/api/internal/payment"
	"yardsign/api/internal/photos"
	"yardsign/api/internal/search"
	"yardsign/api/internal/store"
	"yardsign/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

type CreateListingInput struct {
	PriceCents   int64   `json:"priceCents"`
	AddressLine1 string  `json:"addressLine1"`
	AddressLine2 string  `json:"addressLine2"`
	City         string  `json:"city"`
	State        string  `json:"state"`
	Zip          string  `json:"zip"`
	Beds         int     `json:"beds"`
	Baths        float64 `json:"baths"`
	Sqft         int     `json:"sqft"`
	Description  string  `json:"description"`
}

type SubmitOfferInput struct {
	PriceCents  int64  `json:"priceCents"`
	Financing   string `json:"financing"`
	ClosingDate string `json:"closingDate"`
	Message     string `json:"message"`
}

type RequestShowingInput struct {
	BuyerName          string `json:"buyerName"`
	BuyerEmail         string `json:"buyerEmail"`
	BuyerPhone         string `json:"buyerPhone"`
	RequestedDate      string `json:"requestedDate"`
	RequestedTimeStart string `json:"requestedTimeStart"`
	RequestedTimeEnd   string `json:"requestedTimeEnd"`
}

// UpdateShowingInput carries the seller-editable showing fields. Only keys
// that arrive non-empty are applied; absent and empty mean the same thing.
type UpdateShowingInput struct {
	Status             string `json:"status"`
	ConfirmedDate      string `json:"confirmedDate"`
	ConfirmedTimeStart string `json:"confirmedTimeStart"`
	ConfirmedTimeEnd   string `json:"confirmedTimeEnd"`
	LockboxCode        string `json:"lockboxCode"`
	AccessInstructions string `json:"accessInstructions"`
}

type AnswerInput struct {
	QuestionKey string `json:"questionKey"`
	Value       string `json:"value"`
	Explanation string `json:"explanation"`
}

// AnswerBatch decodes from either a single answer object or an array of them.
type AnswerBatch []AnswerInput

func (b *AnswerBatch) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return json.Unmarshal(trimmed, (*[]AnswerInput)(b))
	}
	var one AnswerInput
	if err := json.Unmarshal(trimmed, &one); err != nil {
		return err
	}
	*b = AnswerBatch{one}
	return nil
}

type StartDisclosureInput struct {
	FormID    string `json:"formId"`
	ListingID string `json:"listingId"`
}

var allowedOfferTransitions = map[string]struct{}{
	"accepted":  {},
	"rejected":  {},
	"countered": {},
	"withdrawn": {},
}

var allowedShowingStatuses = map[string]struct{}{
	"requested": {},
	"confirmed": {},
	"declined":  {},
	"completed": {},
	"cancelled": {},
}

// DefaultDisclosureFormID is the seeded standard disclosure form.
const DefaultDisclosureFormID = "form_std_disclosure"

type dataStore interface {
	GetUserByID(context.Context, string) (store.User, error)
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)

	InsertListing(context.Context, store.Listing) error
	GetListing(context.Context, string) (store.Listing, error)
	ListListingsBySeller(context.Context, string) ([]store.Listing, error)
	UpdateListingDetails(context.Context, store.Listing) error
	ActivateListing(context.Context, string) (bool, error)
	WithdrawListing(context.Context, string) error

	InsertOffer(context.Context, store.Offer) error
	GetOffer(context.Context, string) (store.Offer, error)
	ListOffersByListing(context.Context, string) ([]store.Offer, error)
	UpdateOfferStatus(context.Context, string, string, time.Time) error
	AcceptOffer(context.Context, string, string, time.Time) (int, error)

	InsertShowing(context.Context, store.Showing) error
	GetShowing(context.Context, string) (store.Showing, error)
	ListShowingsByListing(context.Context, string) ([]store.Showing, error)
	UpdateShowing(context.Context, string, store.ShowingPatch) (store.Showing, error)

	InsertDisclosureForm(context.Context, store.DisclosureForm) error
	GetDisclosureForm(context.Context, string) (store.DisclosureForm, error)
	InsertDisclosureQuestion(context.Context, store.DisclosureQuestion) error
	ListFormQuestions(context.Context, string) ([]store.DisclosureQuestion, error)
	InsertDisclosureSession(context.Context, store.DisclosureSession) error
	GetDisclosureSession(context.Context, string) (store.DisclosureSession, error)
	UpsertDisclosureAnswer(context.Context, store.DisclosureAnswer) error
	ListSessionAnswers(context.Context, string) ([]store.DisclosureAnswer, error)
	UpdateSessionCompletion(context.Context, string, int, string) error
	UpdateSessionSection(context.Context, string, string) error

	InsertListingPhoto(context.Context, store.ListingPhoto) error
	ListListingPhotos(context.Context, string) ([]store.ListingPhoto, error)

	RecordPayment(context.Context, store.Payment) (bool, error)

	Ping(ctx context.Context) error
}

// refreshSessionStore is the subset a session backend must provide. The
// Postgres store satisfies it too, so Redis stays optional.
type refreshSessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions refreshSessionStore
	search   *search.Service
	authpw   *authpw.Service
	email    *email.Service
	photos   *photos.Service
	exporter *export.Service
	now      func() time.Time
}

func New(cfg config.Config, dataStore *store.PostgresStore, searchService *search.Service) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: dataStore,
		search:   searchService,
		now:      time.Now,
	}
}

// NewWithSessionStore uses a dedicated backend (Redis) for refresh tokens
// instead of the Postgres fallback.
func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessions refreshSessionStore, searchService *search.Service) *Service {
	service := New(cfg, dataStore, searchService)
	service.sessions = sessions
	return service
}

// SetAuthPassword wires email/password authentication. Optional; auth routes
// report unavailable without it.
func (s *Service) SetAuthPassword(svc *authpw.Service) {
	s.authpw = svc
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

// SetEmail wires outbound notifications. All sends are best-effort.
func (s *Service) SetEmail(svc *email.Service) {
	s.email = svc
}

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

// SendVerificationEmail mails the signup verification link. Best-effort.
func (s *Service) SendVerificationEmail(to, userName, token string) {
	if !s.SMTPConfigured() {
		return
	}
	link := strings.TrimRight(s.cfg.AppBaseURL, "/") + "/verify-email?token=" + token
	if err := s.email.SendVerificationEmail(to, userName, link); err != nil {
		log.Printf("email: verification: %v", err)
	}
}

// SendPasswordResetEmail mails the reset link. Best-effort.
func (s *Service) SendPasswordResetEmail(to, userName, token string) {
	if !s.SMTPConfigured() {
		return
	}
	link := strings.TrimRight(s.cfg.AppBaseURL, "/") + "/reset-password?token=" + token
	if err := s.email.SendPasswordResetEmail(to, userName, link); err != nil {
		log.Printf("email: password reset: %v", err)
	}
}

// SetPhotos wires object storage for listing photos. Optional.
func (s *Service) SetPhotos(svc *photos.Service) {
	s.photos = svc
}

// SetExporter wires the PDF pipeline for disclosure packets. Optional.
func (s *Service) SetExporter(svc *export.Service) {
	s.exporter = svc
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Bootstrap seeds the standard disclosure form. Inserts are conflict-tolerant
// so this is safe to run on every boot.
func (s *Service) Bootstrap(ctx context.Context) error {
	if err := s.store.InsertDisclosureForm(ctx, store.DisclosureForm{
		ID:      DefaultDisclosureFormID,
		Name:    "Seller Property Disclosure Statement",
		Region:  "US-Standard",
		Version: 1,
	}); err != nil {
		return err
	}

	type seedQuestion struct {
		key          string
		prompt       string
		sectionKey   string
		sectionLabel string
		required     bool
	}
	seeds := []seedQuestion{
		{"roof_leaks", "Are you aware of any past or present roof leaks?", "structure", "Structure", true},
		{"foundation_issues", "Are you aware of any settling, cracking, or other foundation issues?", "structure", "Structure", true},
		{"structural_modifications", "Have any structural modifications been made without permits?", "structure", "Structure", true},
		{"plumbing_defects", "Are you aware of any defects in the plumbing system?", "systems", "Systems", true},
		{"electrical_defects", "Are you aware of any defects in the electrical system?", "systems", "Systems", true},
		{"hvac_defects", "Are you aware of any defects in the heating or cooling system?", "systems", "Systems", true},
		{"appliances_included", "List any appliances included in the sale and their condition.", "systems", "Systems", false},
		{"water_damage", "Has the property experienced flooding, water intrusion, or drainage problems?", "water", "Water & Moisture", true},
		{"mold_presence", "Are you aware of any mold or mildew on the property?", "water", "Water & Moisture", true},
		{"well_septic", "Is the property served by a private well or septic system?", "water", "Water & Moisture", false},
		{"lead_paint", "Was the home built before 1978, and are you aware of lead-based paint?", "environmental", "Environmental Hazards", true},
		{"asbestos", "Are you aware of asbestos-containing materials on the property?", "environmental", "Environmental Hazards", true},
		{"radon_testing", "Has the property been tested for radon? If so, describe the results.", "environmental", "Environmental Hazards", false},
		{"hoa_membership", "Is the property subject to a homeowners association?", "legal", "Legal & HOA", true},
		{"boundary_disputes", "Are you aware of any boundary disputes, easements, or encroachments?", "legal", "Legal & HOA", true},
		{"pending_litigation", "Is there any pending litigation or insurance claim affecting the property?", "legal", "Legal & HOA", false},
	}

	for i, seed := range seeds {
		if err := s.store.InsertDisclosureQuestion(ctx, store.DisclosureQuestion{
			ID:           fmt.Sprintf("q_std_%02d", i+1),
			FormID:       DefaultDisclosureFormID,
			Key:          seed.key,
			Prompt:       seed.prompt,
			SectionKey:   seed.sectionKey,
			SectionLabel: seed.sectionLabel,
			Required:     seed.required,
			DisplayOrder: i + 1,
		}); err != nil {
			return err
		}
	}

	if s.search != nil {
		s.search.ReindexAllFromPG(ctx)
	}
	return nil
}

// ---- sessions ----

func (s *Service) IssueSessionFor(ctx context.Context, user store.User) (Session, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.IssueSessionFor(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	// Redis lookups carry only the user id; fill in the display name.
	if user.DisplayName == "" {
		if full, err := s.store.GetUserByID(ctx, user.ID); err == nil {
			user = full
		}
	}
	return s.IssueSessionFor(ctx, user)
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// ---- access predicates ----
//
// Every guarded path does the same dance: load the record, compare the acting
// user to its owner, refuse or proceed.

func requireSeller(listing store.Listing, userID string) error {
	if listing.SellerID != userID {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return nil
}

func requireBuyer(offer store.Offer, userID string) error {
	if offer.BuyerID != userID {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return nil
}

// requireSessionOwner masks foreign sessions as not-found so callers cannot
// probe for other users' disclosure sessions.
func requireSessionOwner(session store.DisclosureSession, userID string) error {
	if session.UserID != userID {
		return sql.ErrNoRows
	}
	return nil
}

// ---- listings ----

func (s *Service) CreateListing(ctx context.Context, session Session, input CreateListingInput) (map[string]any, error) {
	if err := validateListingInput(input); err != nil {
		return nil, err
	}

	listing := store.Listing{
		ID:           util.NewID("lst"),
		SellerID:     session.UserID,
		Status:       "draft",
		PriceCents:   input.PriceCents,
		AddressLine1: strings.TrimSpace(input.AddressLine1),
		AddressLine2: strings.TrimSpace(input.AddressLine2),
		City:         strings.TrimSpace(input.City),
		State:        strings.TrimSpace(input.State),
		Zip:          strings.TrimSpace(input.Zip),
		Beds:         input.Beds,
		Baths:        input.Baths,
		Sqft:         input.Sqft,
		Description:  input.Description,
	}
	if err := s.store.InsertListing(ctx, listing); err != nil {
		return nil, err
	}

	created, err := s.store.GetListing(ctx, listing.ID)
	if err != nil {
		return nil, err
	}
	return listingPayload(created), nil
}

func validateListingInput(input CreateListingInput) error {
	var missing []string
	if input.PriceCents <= 0 {
		missing = append(missing, "priceCents")
	}
	if strings.TrimSpace(input.AddressLine1) == "" {
		missing = append(missing, "addressLine1")
	}
	if strings.TrimSpace(input.City) == "" {
		missing = append(missing, "city")
	}
	if strings.TrimSpace(input.State) == "" {
		missing = append(missing, "state")
	}
	if strings.TrimSpace(input.Zip) == "" {
		missing = append(missing, "zip")
	}
	if len(missing) > 0 {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Missing or invalid listing fields", map[string]any{"fields": missing})
	}
	return nil
}

// GetListing returns a listing. Drafts and withdrawn listings are visible only
// to their seller; everyone else gets not-found.
func (s *Service) GetListing(ctx context.Context, session Session, listingID string) (map[string]any, error) {
	listing, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if (listing.Status == "draft" || listing.Status == "withdrawn") && listing.SellerID != session.UserID {
		return nil, sql.ErrNoRows
	}

	payload := listingPayload(listing)
	payload["photos"] = s.photoPayloads(ctx, listing.ID)
	return payload, nil
}

func (s *Service) ListMyListings(ctx context.Context, session Session) ([]map[string]any, error) {
	listings, err := s.store.ListListingsBySeller(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(listings))
	for _, listing := range listings {
		items = append(items, listingPayload(listing))
	}
	return items, nil
}

func (s *Service) UpdateListing(ctx context.Context, session Session, listingID string, input CreateListingInput) (map[string]any, error) {
	listing, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if err := requireSeller(listing, session.UserID); err != nil {
		return nil, err
	}
	if listing.Status == "under_contract" || listing.Status == "sold" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Listing can no longer be edited", nil)
	}
	if err := validateListingInput(input); err != nil {
		return nil, err
	}

	listing.PriceCents = input.PriceCents
	listing.AddressLine1 = strings.TrimSpace(input.AddressLine1)
	listing.AddressLine2 = strings.TrimSpace(input.AddressLine2)
	listing.City = strings.TrimSpace(input.City)
	listing.State = strings.TrimSpace(input.State)
	listing.Zip = strings.TrimSpace(input.Zip)
	listing.Beds = input.Beds
	listing.Baths = input.Baths
	listing.Sqft = input.Sqft
	listing.Description = input.Description

	if err := s.store.UpdateListingDetails(ctx, listing); err != nil {
		return nil, err
	}

	updated, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if s.search != nil && updated.Status == "active" {
		s.search.IndexListing(listingRecord(updated))
	}
	return listingPayload(updated), nil
}

func (s *Service) WithdrawListing(ctx context.Context, session Session, listingID string) (map[string]any, error) {
	listing, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if err := requireSeller(listing, session.UserID); err != nil {
		return nil, err
	}
	if listing.Status != "draft" && listing.Status != "active" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Only draft or active listings can be withdrawn", nil)
	}
	if err := s.store.WithdrawListing(ctx, listingID); err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.DeleteListing(listingID)
	}
	updated, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	return listingPayload(updated), nil
}

// ---- offers ----

func (s *Service) SubmitOffer(ctx context.Context, session Session, listingID string, input SubmitOfferInput) (map[string]any, error) {
	listing, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.Status != "active" {
		return nil, domainError(http.StatusUnprocessableEntity, "LISTING_NOT_ACTIVE", "Listing is not accepting offers", nil)
	}
	if listing.SellerID == session.UserID {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Sellers cannot make offers on their own listing", nil)
	}
	if input.PriceCents <= 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "priceCents must be positive", nil)
	}

	offer := store.Offer{
		ID:          util.NewID("ofr"),
		ListingID:   listing.ID,
		BuyerID:     session.UserID,
		PriceCents:  input.PriceCents,
		Financing:   strings.TrimSpace(input.Financing),
		ClosingDate: strings.TrimSpace(input.ClosingDate),
		Status:      "pending",
		Message:     input.Message,
	}
	if err := s.store.InsertOffer(ctx, offer); err != nil {
		return nil, err
	}

	s.notifySellerOfOffer(ctx, listing, offer)

	created, err := s.store.GetOffer(ctx, offer.ID)
	if err != nil {
		return nil, err
	}
	return offerPayload(created), nil
}

func (s *Service) ListOffers(ctx context.Context, session Session, listingID string) ([]map[string]any, error) {
	listing, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if err := requireSeller(listing, session.UserID); err != nil {
		return nil, err
	}
	offers, err := s.store.ListOffersByListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(offers))
	for _, offer := range offers {
		items = append(items, offerPayload(offer))
	}
	return items, nil
}

// TransitionOffer moves an offer to accepted, rejected, countered, or
// withdrawn. Withdrawal belongs to the buyer; everything else to the seller.
// Accepting cascades in one transaction: the listing goes under contract and
// every other pending offer on it is rejected with the same timestamp.
func (s *Service) TransitionOffer(ctx context.Context, session Session, offerID, requestedStatus string) (map[string]any, error) {
	if _, ok := allowedOfferTransitions[requestedStatus]; !ok {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "status must be one of accepted, rejected, countered, withdrawn", nil)
	}

	offer, err := s.store.GetOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}
	listing, err := s.store.GetListing(ctx, offer.ListingID)
	if err != nil {
		return nil, err
	}

	if requestedStatus == "withdrawn" {
		if err := requireBuyer(offer, session.UserID); err != nil {
			return nil, err
		}
	} else {
		if err := requireSeller(listing, session.UserID); err != nil {
			return nil, err
		}
	}

	respondedAt := s.now()
	if requestedStatus == "accepted" {
		if _, err := s.store.AcceptOffer(ctx, offer.ID, offer.ListingID, respondedAt); err != nil {
			if errors.Is(err, store.ErrListingConflict) {
				return nil, domainError(http.StatusConflict, "OFFER_CONFLICT", "Listing is no longer accepting offers", nil)
			}
			return nil, err
		}
		if s.search != nil {
			s.search.DeleteListing(listing.ID)
		}
	} else {
		if err := s.store.UpdateOfferStatus(ctx, offer.ID, requestedStatus, respondedAt); err != nil {
			return nil, err
		}
	}

	updated, err := s.store.GetOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}
	return offerPayload(updated), nil
}

func (s *Service) notifySellerOfOffer(ctx context.Context, listing store.Listing, offer store.Offer) {
	if !s.SMTPConfigured() {
		return
	}
	seller, err := s.store.GetUserByID(ctx, listing.SellerID)
	if err != nil || seller.Email == "" {
		return
	}
	price := fmt.Sprintf("$%.2f", float64(offer.PriceCents)/100)
	if err := s.email.SendNewOfferEmail(seller.Email, listing.AddressLine1, price); err != nil {
		log.Printf("email: new offer notification: %v", err)
	}
}

// ---- showings ----

// RequestShowing creates a showing request. session may be nil: buyers without
// accounts can request with contact details only.
func (s *Service) RequestShowing(ctx context.Context, session *Session, listingID string, input RequestShowingInput) (map[string]any, error) {
	listing, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.Status != "active" {
		return nil, domainError(http.StatusUnprocessableEntity, "LISTING_NOT_ACTIVE", "Listing is not accepting showings", nil)
	}

	var missing []string
	if strings.TrimSpace(input.BuyerName) == "" {
		missing = append(missing, "buyerName")
	}
	if strings.TrimSpace(input.RequestedDate) == "" {
		missing = append(missing, "requestedDate")
	}
	if strings.TrimSpace(input.RequestedTimeStart) == "" {
		missing = append(missing, "requestedTimeStart")
	}
	if strings.TrimSpace(input.RequestedTimeEnd) == "" {
		missing = append(missing, "requestedTimeEnd")
	}
	if len(missing) > 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Missing showing fields", map[string]any{"fields": missing})
	}

	showing := store.Showing{
		ID:                 util.NewID("shw"),
		ListingID:          listing.ID,
		BuyerName:          strings.TrimSpace(input.BuyerName),
		BuyerEmail:         strings.TrimSpace(input.BuyerEmail),
		BuyerPhone:         strings.TrimSpace(input.BuyerPhone),
		RequestedDate:      strings.TrimSpace(input.RequestedDate),
		RequestedTimeStart: strings.TrimSpace(input.RequestedTimeStart),
		RequestedTimeEnd:   strings.TrimSpace(input.RequestedTimeEnd),
		Status:             "requested",
	}
	if session != nil {
		showing.BuyerUserID = &session.UserID
	}
	if err := s.store.InsertShowing(ctx, showing); err != nil {
		return nil, err
	}

	created, err := s.store.GetShowing(ctx, showing.ID)
	if err != nil {
		return nil, err
	}
	return showingPayload(created, true), nil
}

func (s *Service) ListShowings(ctx context.Context, session Session, listingID string) ([]map[string]any, error) {
	listing, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if err := requireSeller(listing, session.UserID); err != nil {
		return nil, err
	}
	showings, err := s.store.ListShowingsByListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(showings))
	for _, showing := range showings {
		items = append(items, showingPayload(showing, true))
	}
	return items, nil
}

// UpdateShowing applies a partial patch to a showing. Only fields that arrive
// non-empty are written; everything else is left alone. Seller only.
func (s *Service) UpdateShowing(ctx context.Context, session Session, showingID string, input UpdateShowingInput) (map[string]any, error) {
	showing, err := s.store.GetShowing(ctx, showingID)
	if err != nil {
		return nil, err
	}
	listing, err := s.store.GetListing(ctx, showing.ListingID)
	if err != nil {
		return nil, err
	}
	if err := requireSeller(listing, session.UserID); err != nil {
		return nil, err
	}

	if input.Status != "" {
		if _, ok := allowedShowingStatuses[input.Status]; !ok {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status must be one of requested, confirmed, declined, completed, cancelled", nil)
		}
	}

	patch := store.ShowingPatch{}
	assign := func(target **string, value string) {
		if value != "" {
			*target = &value
		}
	}
	assign(&patch.Status, input.Status)
	assign(&patch.ConfirmedDate, input.ConfirmedDate)
	assign(&patch.ConfirmedTimeStart, input.ConfirmedTimeStart)
	assign(&patch.ConfirmedTimeEnd, input.ConfirmedTimeEnd)
	assign(&patch.LockboxCode, input.LockboxCode)
	assign(&patch.AccessInstructions, input.AccessInstructions)

	updated, err := s.store.UpdateShowing(ctx, showingID, patch)
	if err != nil {
		return nil, err
	}

	if input.Status == "confirmed" && showing.Status != "confirmed" {
		s.notifyBuyerOfConfirmation(listing, updated)
	}

	return showingPayload(updated, true), nil
}

func (s *Service) notifyBuyerOfConfirmation(listing store.Listing, showing store.Showing) {
	if !s.SMTPConfigured() || showing.BuyerEmail == "" {
		return
	}
	date := showing.ConfirmedDate
	if date == "" {
		date = showing.RequestedDate
	}
	window := showing.ConfirmedTimeStart + "–" + showing.ConfirmedTimeEnd
	if showing.ConfirmedTimeStart == "" {
		window = showing.RequestedTimeStart + "–" + showing.RequestedTimeEnd
	}
	if err := s.email.SendShowingConfirmedEmail(showing.BuyerEmail, listing.AddressLine1, date, window); err != nil {
		log.Printf("email: showing confirmation: %v", err)
	}
}

// ---- disclosures ----

func (s *Service) StartDisclosureSession(ctx context.Context, session Session, input StartDisclosureInput) (map[string]any, error) {
	formID := strings.TrimSpace(input.FormID)
	if formID == "" {
		formID = DefaultDisclosureFormID
	}
	form, err := s.store.GetDisclosureForm(ctx, formID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Unknown disclosure form", nil)
		}
		return nil, err
	}

	var listingID *string
	if strings.TrimSpace(input.ListingID) != "" {
		listing, err := s.store.GetListing(ctx, input.ListingID)
		if err != nil {
			return nil, err
		}
		if err := requireSeller(listing, session.UserID); err != nil {
			return nil, err
		}
		listingID = &listing.ID
	}

	questions, err := s.store.ListFormQuestions(ctx, form.ID)
	if err != nil {
		return nil, err
	}
	firstSection := ""
	if len(questions) > 0 {
		firstSection = questions[0].SectionKey
	}

	disclosure := store.DisclosureSession{
		ID:             util.NewID("dss"),
		UserID:         session.UserID,
		ListingID:      listingID,
		FormID:         form.ID,
		CurrentSection: firstSection,
		Status:         "in_progress",
		CompletionPct:  0,
	}
	if err := s.store.InsertDisclosureSession(ctx, disclosure); err != nil {
		return nil, err
	}

	created, err := s.store.GetDisclosureSession(ctx, disclosure.ID)
	if err != nil {
		return nil, err
	}
	return disclosureSessionPayload(created), nil
}

// RecordAnswers upserts a batch of answers into a disclosure session,
// recomputes completion, and returns the saved rows. Entries whose question
// key does not belong to the session's form are silently dropped; if nothing
// survives, the write is rejected outright.
func (s *Service) RecordAnswers(ctx context.Context, session Session, sessionID string, answers []AnswerInput) (map[string]any, error) {
	disclosure, err := s.store.GetDisclosureSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := requireSessionOwner(disclosure, session.UserID); err != nil {
		return nil, err
	}

	questions, err := s.store.ListFormQuestions(ctx, disclosure.FormID)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]store.DisclosureQuestion, len(questions))
	for _, question := range questions {
		byKey[question.Key] = question
	}

	savedIDs := make([]string, 0, len(answers))
	touched := make(map[string]bool, len(answers))
	lastSection := ""
	for _, answer := range answers {
		question, ok := byKey[strings.TrimSpace(answer.QuestionKey)]
		if !ok {
			continue
		}
		if err := s.store.UpsertDisclosureAnswer(ctx, store.DisclosureAnswer{
			SessionID:   disclosure.ID,
			QuestionID:  question.ID,
			Value:       answer.Value,
			Explanation: answer.Explanation,
		}); err != nil {
			return nil, err
		}
		if !touched[question.ID] {
			touched[question.ID] = true
			savedIDs = append(savedIDs, question.ID)
		}
		lastSection = question.SectionKey
	}
	if len(savedIDs) == 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "NO_VALID_ANSWERS", "No answers matched the session's form", nil)
	}

	if lastSection != "" && lastSection != disclosure.CurrentSection {
		if err := s.store.UpdateSessionSection(ctx, disclosure.ID, lastSection); err != nil {
			return nil, err
		}
	}

	summary, byQuestion, err := s.recomputeCompletion(ctx, disclosure.ID, questions)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]store.DisclosureQuestion, len(questions))
	for _, question := range questions {
		byID[question.ID] = question
	}
	saved := make([]map[string]any, 0, len(savedIDs))
	for _, id := range savedIDs {
		row := byQuestion[id]
		saved = append(saved, map[string]any{
			"questionId":  id,
			"questionKey": byID[id].Key,
			"value":       row.Value,
			"explanation": row.Explanation,
			"updatedAt":   row.UpdatedAt,
		})
	}

	return map[string]any{
		"saved":      saved,
		"completion": summary,
	}, nil
}

// GetDisclosureSession returns the session, its form, the questions grouped by
// section in first-seen order, each with the caller's answer, and the same
// completion summary the write path computes.
func (s *Service) GetDisclosureSession(ctx context.Context, session Session, sessionID string) (map[string]any, error) {
	disclosure, err := s.store.GetDisclosureSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := requireSessionOwner(disclosure, session.UserID); err != nil {
		return nil, err
	}

	form, err := s.store.GetDisclosureForm(ctx, disclosure.FormID)
	if err != nil {
		return nil, err
	}
	questions, err := s.store.ListFormQuestions(ctx, disclosure.FormID)
	if err != nil {
		return nil, err
	}
	answers, err := s.store.ListSessionAnswers(ctx, disclosure.ID)
	if err != nil {
		return nil, err
	}
	byQuestion := make(map[string]store.DisclosureAnswer, len(answers))
	for _, answer := range answers {
		byQuestion[answer.QuestionID] = answer
	}

	sections := groupSections(questions, byQuestion)
	summary := completionSummary(questions, byQuestion)

	answered := 0
	for _, question := range questions {
		if answeredNonEmpty(byQuestion, question.ID) {
			answered++
		}
	}

	return map[string]any{
		"session": disclosureSessionPayload(disclosure),
		"form": map[string]any{
			"id":      form.ID,
			"name":    form.Name,
			"region":  form.Region,
			"version": form.Version,
		},
		"sections":          sections,
		"completion":        summary,
		"totalQuestions":    len(questions),
		"answeredQuestions": answered,
	}, nil
}

// groupSections preserves the first-seen order of section keys as questions
// appear in display order.
func groupSections(questions []store.DisclosureQuestion, answers map[string]store.DisclosureAnswer) []map[string]any {
	sections := make([]map[string]any, 0)
	index := make(map[string]int)
	for _, question := range questions {
		i, seen := index[question.SectionKey]
		if !seen {
			i = len(sections)
			index[question.SectionKey] = i
			sections = append(sections, map[string]any{
				"key":       question.SectionKey,
				"label":     question.SectionLabel,
				"questions": []map[string]any{},
			})
		}
		entry := map[string]any{
			"id":           question.ID,
			"key":          question.Key,
			"prompt":       question.Prompt,
			"required":     question.Required,
			"displayOrder": question.DisplayOrder,
			"answer":       nil,
		}
		if answer, ok := answers[question.ID]; ok {
			entry["answer"] = map[string]any{
				"value":       answer.Value,
				"explanation": answer.Explanation,
				"updatedAt":   answer.UpdatedAt,
			}
		}
		sections[i]["questions"] = append(sections[i]["questions"].([]map[string]any), entry)
	}
	return sections
}

// answeredNonEmpty reports whether the question carries a stored answer with a
// non-blank value. A stored empty answer does not count toward completion.
func answeredNonEmpty(answers map[string]store.DisclosureAnswer, questionID string) bool {
	answer, ok := answers[questionID]
	return ok && strings.TrimSpace(answer.Value) != ""
}

// completionSummary is the single completion routine: both the read and write
// paths go through it so the stored percentage can never drift from what a
// reader would derive.
func completionSummary(questions []store.DisclosureQuestion, answers map[string]store.DisclosureAnswer) map[string]any {
	requiredTotal := 0
	requiredAnswered := 0
	for _, question := range questions {
		if !question.Required {
			continue
		}
		requiredTotal++
		if answeredNonEmpty(answers, question.ID) {
			requiredAnswered++
		}
	}
	pct := 0
	if requiredTotal > 0 {
		pct = int(math.Round(100 * float64(requiredAnswered) / float64(requiredTotal)))
	}
	return map[string]any{
		"percent":          pct,
		"requiredAnswered": requiredAnswered,
		"requiredTotal":    requiredTotal,
		"complete":         pct == 100,
	}
}

func (s *Service) recomputeCompletion(ctx context.Context, sessionID string, questions []store.DisclosureQuestion) (map[string]any, map[string]store.DisclosureAnswer, error) {
	answers, err := s.store.ListSessionAnswers(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	byQuestion := make(map[string]store.DisclosureAnswer, len(answers))
	for _, answer := range answers {
		byQuestion[answer.QuestionID] = answer
	}
	summary := completionSummary(questions, byQuestion)

	pct := summary["percent"].(int)
	status := "in_progress"
	if pct == 100 {
		status = "complete"
	}
	if err := s.store.UpdateSessionCompletion(ctx, sessionID, pct, status); err != nil {
		return nil, nil, err
	}
	return summary, byQuestion, nil
}

// ExportDisclosurePacket renders the session as a PDF packet.
func (s *Service) ExportDisclosurePacket(ctx context.Context, session Session, sessionID string) (*export.Result, error) {
	if s.exporter == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export not configured", nil)
	}

	disclosure, err := s.store.GetDisclosureSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := requireSessionOwner(disclosure, session.UserID); err != nil {
		return nil, err
	}

	form, err := s.store.GetDisclosureForm(ctx, disclosure.FormID)
	if err != nil {
		return nil, err
	}
	questions, err := s.store.ListFormQuestions(ctx, disclosure.FormID)
	if err != nil {
		return nil, err
	}
	answers, err := s.store.ListSessionAnswers(ctx, disclosure.ID)
	if err != nil {
		return nil, err
	}
	byQuestion := make(map[string]store.DisclosureAnswer, len(answers))
	for _, answer := range answers {
		byQuestion[answer.QuestionID] = answer
	}

	address := ""
	if disclosure.ListingID != nil {
		if listing, err := s.store.GetListing(ctx, *disclosure.ListingID); err == nil {
			address = listing.AddressLine1
		}
	}

	packet := export.Packet{
		FormName:    form.Name,
		Region:      form.Region,
		Version:     form.Version,
		SellerName:  session.UserName,
		Address:     address,
		Completion:  disclosure.CompletionPct,
		GeneratedAt: s.now(),
	}
	var current *export.PacketSection
	for _, question := range questions {
		if current == nil || current.Key != question.SectionKey {
			packet.Sections = append(packet.Sections, export.PacketSection{
				Key:   question.SectionKey,
				Label: question.SectionLabel,
			})
			current = &packet.Sections[len(packet.Sections)-1]
		}
		pq := export.PacketQuestion{
			Prompt:   question.Prompt,
			Required: question.Required,
		}
		if answer, ok := byQuestion[question.ID]; ok {
			pq.Value = answer.Value
			pq.Explanation = answer.Explanation
		}
		current.Questions = append(current.Questions, pq)
	}

	return s.exporter.ExportPDF(packet)
}

// ---- payments ----

// HandlePaymentEvent processes a verified webhook event. Only
// checkout.completed activates listings; everything else is acknowledged and
// ignored. Redeliveries are detected on the event id and do nothing.
func (s *Service) HandlePaymentEvent(ctx context.Context, event payment.Event) (map[string]any, error) {
	if event.Type != payment.EventCheckoutCompleted {
		return map[string]any{"received": true, "handled": false}, nil
	}

	listingID := event.Data.Metadata.ListingID
	userID := event.Data.Metadata.UserID
	if listingID == "" || userID == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Event metadata missing listing_id or user_id", nil)
	}

	listing, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.SellerID != userID {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Listing does not belong to the paying user", nil)
	}

	recorded, err := s.store.RecordPayment(ctx, store.Payment{
		ID:          util.NewID("pay"),
		ListingID:   listingID,
		UserID:      userID,
		EventID:     event.ID,
		AmountCents: event.Data.AmountCents,
		Status:      "completed",
	})
	if err != nil {
		return nil, err
	}
	if !recorded {
		return map[string]any{"received": true, "handled": false, "duplicate": true}, nil
	}

	activated, err := s.store.ActivateListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if activated && s.search != nil {
		if fresh, err := s.store.GetListing(ctx, listingID); err == nil {
			s.search.IndexListing(listingRecord(fresh))
		}
	}

	return map[string]any{"received": true, "handled": true, "activated": activated}, nil
}

// ---- search ----

func (s *Service) SearchListings(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

// ---- photos ----

func (s *Service) UploadListingPhoto(ctx context.Context, session Session, listingID, contentType string, body io.Reader, size int64) (map[string]any, error) {
	if s.photos == nil {
		return nil, domainError(http.StatusServiceUnavailable, "PHOTOS_UNAVAILABLE", "Photo storage not configured", nil)
	}
	listing, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if err := requireSeller(listing, session.UserID); err != nil {
		return nil, err
	}
	if contentType != "image/jpeg" && contentType != "image/png" && contentType != "image/webp" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Content-Type must be image/jpeg, image/png, or image/webp", nil)
	}

	existing, err := s.store.ListListingPhotos(ctx, listingID)
	if err != nil {
		return nil, err
	}

	photo := store.ListingPhoto{
		ID:          util.NewID("pht"),
		ListingID:   listing.ID,
		ContentType: contentType,
		SortOrder:   len(existing),
	}
	photo.ObjectKey = fmt.Sprintf("listings/%s/%s", listing.ID, photo.ID)

	if err := s.photos.Put(ctx, photo.ObjectKey, contentType, body, size); err != nil {
		return nil, err
	}
	if err := s.store.InsertListingPhoto(ctx, photo); err != nil {
		return nil, err
	}

	return s.photoPayload(ctx, photo), nil
}

func (s *Service) ListPhotos(ctx context.Context, session Session, listingID string) ([]map[string]any, error) {
	listing, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if (listing.Status == "draft" || listing.Status == "withdrawn") && listing.SellerID != session.UserID {
		return nil, sql.ErrNoRows
	}
	return s.photoPayloads(ctx, listingID), nil
}

func (s *Service) photoPayloads(ctx context.Context, listingID string) []map[string]any {
	items := make([]map[string]any, 0)
	photosList, err := s.store.ListListingPhotos(ctx, listingID)
	if err != nil {
		log.Printf("photos: list for listing %s: %v", listingID, err)
		return items
	}
	for _, photo := range photosList {
		items = append(items, s.photoPayload(ctx, photo))
	}
	return items
}

func (s *Service) photoPayload(ctx context.Context, photo store.ListingPhoto) map[string]any {
	payload := map[string]any{
		"id":          photo.ID,
		"listingId":   photo.ListingID,
		"contentType": photo.ContentType,
		"sortOrder":   photo.SortOrder,
	}
	if s.photos != nil {
		if url, err := s.photos.URL(ctx, photo.ObjectKey, time.Hour); err == nil {
			payload["url"] = url
		}
	}
	return payload
}

// ---- payloads ----

func listingPayload(listing store.Listing) map[string]any {
	return map[string]any{
		"id":              listing.ID,
		"sellerId":        listing.SellerID,
		"status":          listing.Status,
		"priceCents":      listing.PriceCents,
		"addressLine1":    listing.AddressLine1,
		"addressLine2":    listing.AddressLine2,
		"city":            listing.City,
		"state":           listing.State,
		"zip":             listing.Zip,
		"beds":            listing.Beds,
		"baths":           listing.Baths,
		"sqft":            listing.Sqft,
		"description":     listing.Description,
		"listedAt":        listing.ListedAt,
		"underContractAt": listing.UnderContractAt,
		"createdAt":       listing.CreatedAt,
		"updatedAt":       listing.UpdatedAt,
	}
}

func listingRecord(listing store.Listing) search.ListingRecord {
	return search.ListingRecord{
		ID:          listing.ID,
		Address:     listing.AddressLine1,
		City:        listing.City,
		State:       listing.State,
		Zip:         listing.Zip,
		Description: listing.Description,
		PriceCents:  listing.PriceCents,
		Beds:        listing.Beds,
		Baths:       listing.Baths,
		Sqft:        listing.Sqft,
		Status:      listing.Status,
	}
}

func offerPayload(offer store.Offer) map[string]any {
	return map[string]any{
		"id":          offer.ID,
		"listingId":   offer.ListingID,
		"buyerId":     offer.BuyerID,
		"priceCents":  offer.PriceCents,
		"financing":   offer.Financing,
		"closingDate": offer.ClosingDate,
		"status":      offer.Status,
		"message":     offer.Message,
		"submittedAt": offer.SubmittedAt,
		"respondedAt": offer.RespondedAt,
	}
}

func showingPayload(showing store.Showing, includeAccess bool) map[string]any {
	payload := map[string]any{
		"id":                 showing.ID,
		"listingId":          showing.ListingID,
		"buyerName":          showing.BuyerName,
		"buyerEmail":         showing.BuyerEmail,
		"buyerPhone":         showing.BuyerPhone,
		"requestedDate":      showing.RequestedDate,
		"requestedTimeStart": showing.RequestedTimeStart,
		"requestedTimeEnd":   showing.RequestedTimeEnd,
		"confirmedDate":      showing.ConfirmedDate,
		"confirmedTimeStart": showing.ConfirmedTimeStart,
		"confirmedTimeEnd":   showing.ConfirmedTimeEnd,
		"status":             showing.Status,
		"createdAt":          showing.CreatedAt,
	}
	if includeAccess {
		payload["lockboxCode"] = showing.LockboxCode
		payload["accessInstructions"] = showing.AccessInstructions
	}
	return payload
}

func disclosureSessionPayload(session store.DisclosureSession) map[string]any {
	return map[string]any{
		"id":             session.ID,
		"userId":         session.UserID,
		"listingId":      session.ListingID,
		"formId":         session.FormID,
		"currentSection": session.CurrentSection,
		"status":         session.Status,
		"completionPct":  session.CompletionPct,
		"createdAt":      session.CreatedAt,
		"updatedAt":      session.UpdatedAt,
	}
}
