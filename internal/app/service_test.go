package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"yardsign/api/internal/config"
	"yardsign/api/internal/payment"
	"yardsign/api/internal/store"
)

type fakeStore struct {
	getUserByIDFn             func(context.Context, string) (store.User, error)
	saveRefreshSessionFn      func(context.Context, string, string, time.Time) error
	lookupRefreshSessionFn    func(context.Context, string) (store.User, error)
	revokeRefreshSessionFn    func(context.Context, string) error
	revokeAccessTokenFn       func(context.Context, string, time.Time) error
	isAccessTokenRevokedFn    func(context.Context, string) (bool, error)
	insertListingFn           func(context.Context, store.Listing) error
	getListingFn              func(context.Context, string) (store.Listing, error)
	listListingsBySellerFn    func(context.Context, string) ([]store.Listing, error)
	updateListingDetailsFn    func(context.Context, store.Listing) error
	activateListingFn         func(context.Context, string) (bool, error)
	withdrawListingFn         func(context.Context, string) error
	insertOfferFn             func(context.Context, store.Offer) error
	getOfferFn                func(context.Context, string) (store.Offer, error)
	listOffersByListingFn     func(context.Context, string) ([]store.Offer, error)
	updateOfferStatusFn       func(context.Context, string, string, time.Time) error
	acceptOfferFn             func(context.Context, string, string, time.Time) (int, error)
	insertShowingFn           func(context.Context, store.Showing) error
	getShowingFn              func(context.Context, string) (store.Showing, error)
	listShowingsByListingFn   func(context.Context, string) ([]store.Showing, error)
	updateShowingFn           func(context.Context, string, store.ShowingPatch) (store.Showing, error)
	insertDisclosureFormFn    func(context.Context, store.DisclosureForm) error
	getDisclosureFormFn       func(context.Context, string) (store.DisclosureForm, error)
	insertQuestionFn          func(context.Context, store.DisclosureQuestion) error
	listFormQuestionsFn       func(context.Context, string) ([]store.DisclosureQuestion, error)
	insertDisclosureSessionFn func(context.Context, store.DisclosureSession) error
	getDisclosureSessionFn    func(context.Context, string) (store.DisclosureSession, error)
	upsertDisclosureAnswerFn  func(context.Context, store.DisclosureAnswer) error
	listSessionAnswersFn      func(context.Context, string) ([]store.DisclosureAnswer, error)
	updateSessionCompletionFn func(context.Context, string, int, string) error
	updateSessionSectionFn    func(context.Context, string, string) error
	insertListingPhotoFn      func(context.Context, store.ListingPhoto) error
	listListingPhotosFn       func(context.Context, string) ([]store.ListingPhoto, error)
	recordPaymentFn           func(context.Context, store.Payment) (bool, error)
}

func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	if f.saveRefreshSessionFn != nil {
		return f.saveRefreshSessionFn(ctx, tokenHash, userID, expiresAt)
	}
	return nil
}
func (f *fakeStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	if f.lookupRefreshSessionFn != nil {
		return f.lookupRefreshSessionFn(ctx, tokenHash)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if f.revokeRefreshSessionFn != nil {
		return f.revokeRefreshSessionFn(ctx, tokenHash)
	}
	return nil
}
func (f *fakeStore) RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error {
	if f.revokeAccessTokenFn != nil {
		return f.revokeAccessTokenFn(ctx, jti, expiresAt)
	}
	return nil
}
func (f *fakeStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if f.isAccessTokenRevokedFn != nil {
		return f.isAccessTokenRevokedFn(ctx, jti)
	}
	return false, nil
}
func (f *fakeStore) InsertListing(ctx context.Context, listing store.Listing) error {
	if f.insertListingFn != nil {
		return f.insertListingFn(ctx, listing)
	}
	return nil
}
func (f *fakeStore) GetListing(ctx context.Context, listingID string) (store.Listing, error) {
	if f.getListingFn != nil {
		return f.getListingFn(ctx, listingID)
	}
	return store.Listing{}, sql.ErrNoRows
}
func (f *fakeStore) ListListingsBySeller(ctx context.Context, sellerID string) ([]store.Listing, error) {
	if f.listListingsBySellerFn != nil {
		return f.listListingsBySellerFn(ctx, sellerID)
	}
	return nil, nil
}
func (f *fakeStore) UpdateListingDetails(ctx context.Context, listing store.Listing) error {
	if f.updateListingDetailsFn != nil {
		return f.updateListingDetailsFn(ctx, listing)
	}
	return nil
}
func (f *fakeStore) ActivateListing(ctx context.Context, listingID string) (bool, error) {
	if f.activateListingFn != nil {
		return f.activateListingFn(ctx, listingID)
	}
	return false, nil
}
func (f *fakeStore) WithdrawListing(ctx context.Context, listingID string) error {
	if f.withdrawListingFn != nil {
		return f.withdrawListingFn(ctx, listingID)
	}
	return nil
}
func (f *fakeStore) InsertOffer(ctx context.Context, offer store.Offer) error {
	if f.insertOfferFn != nil {
		return f.insertOfferFn(ctx, offer)
	}
	return nil
}
func (f *fakeStore) GetOffer(ctx context.Context, offerID string) (store.Offer, error) {
	if f.getOfferFn != nil {
		return f.getOfferFn(ctx, offerID)
	}
	return store.Offer{}, sql.ErrNoRows
}
func (f *fakeStore) ListOffersByListing(ctx context.Context, listingID string) ([]store.Offer, error) {
	if f.listOffersByListingFn != nil {
		return f.listOffersByListingFn(ctx, listingID)
	}
	return nil, nil
}
func (f *fakeStore) UpdateOfferStatus(ctx context.Context, offerID, status string, respondedAt time.Time) error {
	if f.updateOfferStatusFn != nil {
		return f.updateOfferStatusFn(ctx, offerID, status, respondedAt)
	}
	return nil
}
func (f *fakeStore) AcceptOffer(ctx context.Context, offerID, listingID string, respondedAt time.Time) (int, error) {
	if f.acceptOfferFn != nil {
		return f.acceptOfferFn(ctx, offerID, listingID, respondedAt)
	}
	return 0, nil
}
func (f *fakeStore) InsertShowing(ctx context.Context, showing store.Showing) error {
	if f.insertShowingFn != nil {
		return f.insertShowingFn(ctx, showing)
	}
	return nil
}
func (f *fakeStore) GetShowing(ctx context.Context, showingID string) (store.Showing, error) {
	if f.getShowingFn != nil {
		return f.getShowingFn(ctx, showingID)
	}
	return store.Showing{}, sql.ErrNoRows
}
func (f *fakeStore) ListShowingsByListing(ctx context.Context, listingID string) ([]store.Showing, error) {
	if f.listShowingsByListingFn != nil {
		return f.listShowingsByListingFn(ctx, listingID)
	}
	return nil, nil
}
func (f *fakeStore) UpdateShowing(ctx context.Context, showingID string, patch store.ShowingPatch) (store.Showing, error) {
	if f.updateShowingFn != nil {
		return f.updateShowingFn(ctx, showingID, patch)
	}
	return store.Showing{}, sql.ErrNoRows
}
func (f *fakeStore) InsertDisclosureForm(ctx context.Context, form store.DisclosureForm) error {
	if f.insertDisclosureFormFn != nil {
		return f.insertDisclosureFormFn(ctx, form)
	}
	return nil
}
func (f *fakeStore) GetDisclosureForm(ctx context.Context, formID string) (store.DisclosureForm, error) {
	if f.getDisclosureFormFn != nil {
		return f.getDisclosureFormFn(ctx, formID)
	}
	return store.DisclosureForm{ID: formID, Name: "Seller Property Disclosure Statement", Region: "US-Standard", Version: 1}, nil
}
func (f *fakeStore) InsertDisclosureQuestion(ctx context.Context, question store.DisclosureQuestion) error {
	if f.insertQuestionFn != nil {
		return f.insertQuestionFn(ctx, question)
	}
	return nil
}
func (f *fakeStore) ListFormQuestions(ctx context.Context, formID string) ([]store.DisclosureQuestion, error) {
	if f.listFormQuestionsFn != nil {
		return f.listFormQuestionsFn(ctx, formID)
	}
	return nil, nil
}
func (f *fakeStore) InsertDisclosureSession(ctx context.Context, session store.DisclosureSession) error {
	if f.insertDisclosureSessionFn != nil {
		return f.insertDisclosureSessionFn(ctx, session)
	}
	return nil
}
func (f *fakeStore) GetDisclosureSession(ctx context.Context, sessionID string) (store.DisclosureSession, error) {
	if f.getDisclosureSessionFn != nil {
		return f.getDisclosureSessionFn(ctx, sessionID)
	}
	return store.DisclosureSession{}, sql.ErrNoRows
}
func (f *fakeStore) UpsertDisclosureAnswer(ctx context.Context, answer store.DisclosureAnswer) error {
	if f.upsertDisclosureAnswerFn != nil {
		return f.upsertDisclosureAnswerFn(ctx, answer)
	}
	return nil
}
func (f *fakeStore) ListSessionAnswers(ctx context.Context, sessionID string) ([]store.DisclosureAnswer, error) {
	if f.listSessionAnswersFn != nil {
		return f.listSessionAnswersFn(ctx, sessionID)
	}
	return nil, nil
}
func (f *fakeStore) UpdateSessionCompletion(ctx context.Context, sessionID string, pct int, status string) error {
	if f.updateSessionCompletionFn != nil {
		return f.updateSessionCompletionFn(ctx, sessionID, pct, status)
	}
	return nil
}
func (f *fakeStore) UpdateSessionSection(ctx context.Context, sessionID, section string) error {
	if f.updateSessionSectionFn != nil {
		return f.updateSessionSectionFn(ctx, sessionID, section)
	}
	return nil
}
func (f *fakeStore) InsertListingPhoto(ctx context.Context, photo store.ListingPhoto) error {
	if f.insertListingPhotoFn != nil {
		return f.insertListingPhotoFn(ctx, photo)
	}
	return nil
}
func (f *fakeStore) ListListingPhotos(ctx context.Context, listingID string) ([]store.ListingPhoto, error) {
	if f.listListingPhotosFn != nil {
		return f.listListingPhotosFn(ctx, listingID)
	}
	return nil, nil
}
func (f *fakeStore) RecordPayment(ctx context.Context, p store.Payment) (bool, error) {
	if f.recordPaymentFn != nil {
		return f.recordPaymentFn(ctx, p)
	}
	return true, nil
}
func (f *fakeStore) Ping(context.Context) error { return nil }

var testTime = time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)

func newTestService(fs *fakeStore) *Service {
	return &Service{
		cfg: config.Config{
			JWTSecret:  "test-secret",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 30 * 24 * time.Hour,
		},
		store:    fs,
		sessions: fs,
		now:      func() time.Time { return testTime },
	}
}

func sellerSession() Session { return Session{UserID: "usr_seller", UserName: "Sam Seller"} }
func buyerSession() Session  { return Session{UserID: "usr_buyer", UserName: "Blair Buyer"} }

func activeListing() store.Listing {
	return store.Listing{
		ID:           "lst_1",
		SellerID:     "usr_seller",
		Status:       "active",
		PriceCents:   45000000,
		AddressLine1: "12 Oak St",
		City:         "Springfield",
		State:        "IL",
		Zip:          "62704",
		Beds:         3,
	}
}

func pendingOffer() store.Offer {
	return store.Offer{
		ID:         "ofr_1",
		ListingID:  "lst_1",
		BuyerID:    "usr_buyer",
		PriceCents: 44000000,
		Status:     "pending",
	}
}

func assertDomainError(t *testing.T, err error, status int, code string) {
	t.Helper()
	var de *DomainError
	if !errors.As(err, &de) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if de.Status != status || de.Code != code {
		t.Fatalf("expected %d %s, got %d %s", status, code, de.Status, de.Code)
	}
}

// ---- offer transitions ----

func TestTransitionOfferRejectsUnknownStatus(t *testing.T) {
	svc := newTestService(&fakeStore{})
	_, err := svc.TransitionOffer(context.Background(), sellerSession(), "ofr_1", "escalated")
	assertDomainError(t, err, http.StatusBadRequest, "VALIDATION_ERROR")
}

func TestTransitionOfferAcceptCascades(t *testing.T) {
	acceptCalls := 0
	fs := &fakeStore{
		getOfferFn: func(_ context.Context, offerID string) (store.Offer, error) {
			offer := pendingOffer()
			if acceptCalls > 0 {
				offer.Status = "accepted"
				responded := testTime
				offer.RespondedAt = &responded
			}
			return offer, nil
		},
		getListingFn: func(context.Context, string) (store.Listing, error) {
			return activeListing(), nil
		},
		acceptOfferFn: func(_ context.Context, offerID, listingID string, respondedAt time.Time) (int, error) {
			acceptCalls++
			if offerID != "ofr_1" || listingID != "lst_1" {
				t.Fatalf("accept called with offer %s listing %s", offerID, listingID)
			}
			if !respondedAt.Equal(testTime) {
				t.Fatalf("expected respondedAt %v, got %v", testTime, respondedAt)
			}
			return 2, nil
		},
		updateOfferStatusFn: func(context.Context, string, string, time.Time) error {
			t.Fatal("accepted offers must go through the transactional accept path")
			return nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.TransitionOffer(context.Background(), sellerSession(), "ofr_1", "accepted")
	if err != nil {
		t.Fatalf("TransitionOffer() error = %v", err)
	}
	if acceptCalls != 1 {
		t.Fatalf("expected one accept call, got %d", acceptCalls)
	}
	if payload["status"] != "accepted" {
		t.Fatalf("expected accepted offer in response, got %v", payload["status"])
	}
}

func TestTransitionOfferAcceptConflictMapsTo409(t *testing.T) {
	fs := &fakeStore{
		getOfferFn: func(context.Context, string) (store.Offer, error) {
			return pendingOffer(), nil
		},
		getListingFn: func(context.Context, string) (store.Listing, error) {
			listing := activeListing()
			listing.Status = "under_contract"
			return listing, nil
		},
		acceptOfferFn: func(context.Context, string, string, time.Time) (int, error) {
			return 0, store.ErrListingConflict
		},
	}
	svc := newTestService(fs)

	_, err := svc.TransitionOffer(context.Background(), sellerSession(), "ofr_1", "accepted")
	assertDomainError(t, err, http.StatusConflict, "OFFER_CONFLICT")
}

func TestTransitionOfferWithdrawnIsBuyerOnly(t *testing.T) {
	fs := &fakeStore{
		getOfferFn: func(context.Context, string) (store.Offer, error) {
			return pendingOffer(), nil
		},
		getListingFn: func(context.Context, string) (store.Listing, error) {
			return activeListing(), nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.TransitionOffer(context.Background(), sellerSession(), "ofr_1", "withdrawn")
	assertDomainError(t, err, http.StatusForbidden, "FORBIDDEN")
}

func TestTransitionOfferAcceptIsSellerOnly(t *testing.T) {
	fs := &fakeStore{
		getOfferFn: func(context.Context, string) (store.Offer, error) {
			return pendingOffer(), nil
		},
		getListingFn: func(context.Context, string) (store.Listing, error) {
			return activeListing(), nil
		},
		acceptOfferFn: func(context.Context, string, string, time.Time) (int, error) {
			t.Fatal("buyer must not reach the accept path")
			return 0, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.TransitionOffer(context.Background(), buyerSession(), "ofr_1", "accepted")
	assertDomainError(t, err, http.StatusForbidden, "FORBIDDEN")
}

func TestTransitionOfferRejectUpdatesStatus(t *testing.T) {
	var gotStatus string
	fs := &fakeStore{
		getOfferFn: func(context.Context, string) (store.Offer, error) {
			return pendingOffer(), nil
		},
		getListingFn: func(context.Context, string) (store.Listing, error) {
			return activeListing(), nil
		},
		updateOfferStatusFn: func(_ context.Context, offerID, status string, respondedAt time.Time) error {
			gotStatus = status
			if !respondedAt.Equal(testTime) {
				t.Fatalf("expected respondedAt %v, got %v", testTime, respondedAt)
			}
			return nil
		},
	}
	svc := newTestService(fs)

	if _, err := svc.TransitionOffer(context.Background(), sellerSession(), "ofr_1", "rejected"); err != nil {
		t.Fatalf("TransitionOffer() error = %v", err)
	}
	if gotStatus != "rejected" {
		t.Fatalf("expected rejected, got %q", gotStatus)
	}
}

// ---- offers ----

func TestSubmitOfferRequiresActiveListing(t *testing.T) {
	fs := &fakeStore{
		getListingFn: func(context.Context, string) (store.Listing, error) {
			listing := activeListing()
			listing.Status = "draft"
			return listing, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.SubmitOffer(context.Background(), buyerSession(), "lst_1", SubmitOfferInput{PriceCents: 1000})
	assertDomainError(t, err, http.StatusUnprocessableEntity, "LISTING_NOT_ACTIVE")
}

func TestSubmitOfferRejectsSellerSelfBid(t *testing.T) {
	fs := &fakeStore{
		getListingFn: func(context.Context, string) (store.Listing, error) {
			return activeListing(), nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.SubmitOffer(context.Background(), sellerSession(), "lst_1", SubmitOfferInput{PriceCents: 1000})
	assertDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestSubmitOfferStartsPending(t *testing.T) {
	var inserted store.Offer
	fs := &fakeStore{
		getListingFn: func(context.Context, string) (store.Listing, error) {
			return activeListing(), nil
		},
		insertOfferFn: func(_ context.Context, offer store.Offer) error {
			inserted = offer
			return nil
		},
		getOfferFn: func(context.Context, string) (store.Offer, error) {
			return inserted, nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.SubmitOffer(context.Background(), buyerSession(), "lst_1", SubmitOfferInput{PriceCents: 42000000, Financing: "conventional"})
	if err != nil {
		t.Fatalf("SubmitOffer() error = %v", err)
	}
	if inserted.Status != "pending" {
		t.Fatalf("expected pending offer, got %q", inserted.Status)
	}
	if inserted.BuyerID != "usr_buyer" {
		t.Fatalf("expected buyer usr_buyer, got %q", inserted.BuyerID)
	}
	if payload["status"] != "pending" {
		t.Fatalf("expected pending payload, got %v", payload["status"])
	}
}

// ---- showings ----

func TestUpdateShowingOnlyPatchesNonEmptyFields(t *testing.T) {
	var got store.ShowingPatch
	fs := &fakeStore{
		getShowingFn: func(context.Context, string) (store.Showing, error) {
			return store.Showing{ID: "shw_1", ListingID: "lst_1", Status: "requested"}, nil
		},
		getListingFn: func(context.Context, string) (store.Listing, error) {
			return activeListing(), nil
		},
		updateShowingFn: func(_ context.Context, _ string, patch store.ShowingPatch) (store.Showing, error) {
			got = patch
			return store.Showing{ID: "shw_1", ListingID: "lst_1", Status: "confirmed", ConfirmedDate: "2025-07-01"}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.UpdateShowing(context.Background(), sellerSession(), "shw_1", UpdateShowingInput{
		Status:        "confirmed",
		ConfirmedDate: "2025-07-01",
	})
	if err != nil {
		t.Fatalf("UpdateShowing() error = %v", err)
	}
	if got.Status == nil || *got.Status != "confirmed" {
		t.Fatalf("expected status pointer confirmed, got %v", got.Status)
	}
	if got.ConfirmedDate == nil || *got.ConfirmedDate != "2025-07-01" {
		t.Fatalf("expected confirmedDate pointer, got %v", got.ConfirmedDate)
	}
	if got.ConfirmedTimeStart != nil || got.ConfirmedTimeEnd != nil || got.LockboxCode != nil || got.AccessInstructions != nil {
		t.Fatal("empty input fields must stay nil in the patch")
	}
}

func TestUpdateShowingEmptyInputIsNoOp(t *testing.T) {
	fs := &fakeStore{
		getShowingFn: func(context.Context, string) (store.Showing, error) {
			return store.Showing{ID: "shw_1", ListingID: "lst_1", Status: "requested", LockboxCode: "4417"}, nil
		},
		getListingFn: func(context.Context, string) (store.Listing, error) {
			return activeListing(), nil
		},
		updateShowingFn: func(_ context.Context, _ string, patch store.ShowingPatch) (store.Showing, error) {
			if patch != (store.ShowingPatch{}) {
				t.Fatalf("expected empty patch, got %+v", patch)
			}
			return store.Showing{ID: "shw_1", ListingID: "lst_1", Status: "requested", LockboxCode: "4417"}, nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.UpdateShowing(context.Background(), sellerSession(), "shw_1", UpdateShowingInput{})
	if err != nil {
		t.Fatalf("UpdateShowing() error = %v", err)
	}
	if payload["status"] != "requested" || payload["lockboxCode"] != "4417" {
		t.Fatalf("expected current row back unchanged, got %v", payload)
	}
}

func TestUpdateShowingRejectsUnknownStatus(t *testing.T) {
	fs := &fakeStore{
		getShowingFn: func(context.Context, string) (store.Showing, error) {
			return store.Showing{ID: "shw_1", ListingID: "lst_1", Status: "requested"}, nil
		},
		getListingFn: func(context.Context, string) (store.Listing, error) {
			return activeListing(), nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.UpdateShowing(context.Background(), sellerSession(), "shw_1", UpdateShowingInput{Status: "maybe"})
	assertDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestUpdateShowingIsSellerOnly(t *testing.T) {
	fs := &fakeStore{
		getShowingFn: func(context.Context, string) (store.Showing, error) {
			return store.Showing{ID: "shw_1", ListingID: "lst_1", Status: "requested"}, nil
		},
		getListingFn: func(context.Context, string) (store.Listing, error) {
			return activeListing(), nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.UpdateShowing(context.Background(), buyerSession(), "shw_1", UpdateShowingInput{Status: "confirmed"})
	assertDomainError(t, err, http.StatusForbidden, "FORBIDDEN")
}

func TestRequestShowingAnonymousBuyer(t *testing.T) {
	var inserted store.Showing
	fs := &fakeStore{
		getListingFn: func(context.Context, string) (store.Listing, error) {
			return activeListing(), nil
		},
		insertShowingFn: func(_ context.Context, showing store.Showing) error {
			inserted = showing
			return nil
		},
		getShowingFn: func(context.Context, string) (store.Showing, error) {
			return inserted, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.RequestShowing(context.Background(), nil, "lst_1", RequestShowingInput{
		BuyerName:          "Walk-in Wendy",
		BuyerEmail:         "wendy@example.com",
		RequestedDate:      "2025-07-04",
		RequestedTimeStart: "10:00",
		RequestedTimeEnd:   "11:00",
	})
	if err != nil {
		t.Fatalf("RequestShowing() error = %v", err)
	}
	if inserted.BuyerUserID != nil {
		t.Fatalf("anonymous request must not carry a user id, got %v", *inserted.BuyerUserID)
	}
	if inserted.Status != "requested" {
		t.Fatalf("expected requested, got %q", inserted.Status)
	}
}

func TestRequestShowingRequiresActiveListing(t *testing.T) {
	fs := &fakeStore{
		getListingFn: func(context.Context, string) (store.Listing, error) {
			listing := activeListing()
			listing.Status = "draft"
			return listing, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.RequestShowing(context.Background(), nil, "lst_1", RequestShowingInput{
		BuyerName:          "Wendy",
		RequestedDate:      "2025-07-04",
		RequestedTimeStart: "10:00",
		RequestedTimeEnd:   "11:00",
	})
	assertDomainError(t, err, http.StatusUnprocessableEntity, "LISTING_NOT_ACTIVE")
}

// ---- disclosures ----

func testQuestions() []store.DisclosureQuestion {
	return []store.DisclosureQuestion{
		{ID: "q1", FormID: "form_std_disclosure", Key: "roof_leaks", SectionKey: "structure", SectionLabel: "Structure", Required: true, DisplayOrder: 1},
		{ID: "q2", FormID: "form_std_disclosure", Key: "foundation_issues", SectionKey: "structure", SectionLabel: "Structure", Required: true, DisplayOrder: 2},
		{ID: "q3", FormID: "form_std_disclosure", Key: "appliances_included", SectionKey: "systems", SectionLabel: "Systems", Required: false, DisplayOrder: 3},
	}
}

func ownedDisclosureSession() store.DisclosureSession {
	return store.DisclosureSession{
		ID:             "dss_1",
		UserID:         "usr_seller",
		FormID:         "form_std_disclosure",
		CurrentSection: "structure",
		Status:         "in_progress",
	}
}

func TestRecordAnswersDropsUnknownKeysAndComputesCompletion(t *testing.T) {
	var saved []store.DisclosureAnswer
	var gotPct int
	var gotStatus string
	fs := &fakeStore{
		getDisclosureSessionFn: func(context.Context, string) (store.DisclosureSession, error) {
			return ownedDisclosureSession(), nil
		},
		listFormQuestionsFn: func(context.Context, string) ([]store.DisclosureQuestion, error) {
			return testQuestions(), nil
		},
		upsertDisclosureAnswerFn: func(_ context.Context, answer store.DisclosureAnswer) error {
			saved = append(saved, answer)
			return nil
		},
		listSessionAnswersFn: func(context.Context, string) ([]store.DisclosureAnswer, error) {
			return saved, nil
		},
		updateSessionCompletionFn: func(_ context.Context, _ string, pct int, status string) error {
			gotPct = pct
			gotStatus = status
			return nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.RecordAnswers(context.Background(), sellerSession(), "dss_1", []AnswerInput{
		{QuestionKey: "roof_leaks", Value: "yes", Explanation: "patched in 2021"},
		{QuestionKey: "not_a_real_key", Value: "yes"},
	})
	if err != nil {
		t.Fatalf("RecordAnswers() error = %v", err)
	}
	savedRows := payload["saved"].([]map[string]any)
	if len(savedRows) != 1 {
		t.Fatalf("expected 1 saved row, got %v", payload["saved"])
	}
	if savedRows[0]["questionKey"] != "roof_leaks" || savedRows[0]["value"] != "yes" || savedRows[0]["explanation"] != "patched in 2021" {
		t.Fatalf("unexpected saved row %v", savedRows[0])
	}
	if len(saved) != 1 || saved[0].QuestionID != "q1" {
		t.Fatalf("expected only roof_leaks upserted, got %+v", saved)
	}
	// 1 of 2 required answered.
	if gotPct != 50 || gotStatus != "in_progress" {
		t.Fatalf("expected 50%% in_progress, got %d %s", gotPct, gotStatus)
	}
	completion := payload["completion"].(map[string]any)
	if completion["percent"] != 50 || completion["complete"] != false {
		t.Fatalf("unexpected completion summary %v", completion)
	}
}

func TestRecordAnswersAllRequiredAnsweredMarksComplete(t *testing.T) {
	answers := []store.DisclosureAnswer{
		{SessionID: "dss_1", QuestionID: "q1", Value: "no"},
		{SessionID: "dss_1", QuestionID: "q2", Value: "no"},
	}
	var gotPct int
	var gotStatus string
	fs := &fakeStore{
		getDisclosureSessionFn: func(context.Context, string) (store.DisclosureSession, error) {
			return ownedDisclosureSession(), nil
		},
		listFormQuestionsFn: func(context.Context, string) ([]store.DisclosureQuestion, error) {
			return testQuestions(), nil
		},
		listSessionAnswersFn: func(context.Context, string) ([]store.DisclosureAnswer, error) {
			return answers, nil
		},
		updateSessionCompletionFn: func(_ context.Context, _ string, pct int, status string) error {
			gotPct = pct
			gotStatus = status
			return nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.RecordAnswers(context.Background(), sellerSession(), "dss_1", []AnswerInput{
		{QuestionKey: "foundation_issues", Value: "no"},
	})
	if err != nil {
		t.Fatalf("RecordAnswers() error = %v", err)
	}
	if gotPct != 100 || gotStatus != "complete" {
		t.Fatalf("expected 100%% complete, got %d %s", gotPct, gotStatus)
	}
	completion := payload["completion"].(map[string]any)
	if completion["complete"] != true {
		t.Fatalf("expected complete summary, got %v", completion)
	}
	// The unanswered optional question must not hold completion back.
	if completion["requiredTotal"] != 2 || completion["requiredAnswered"] != 2 {
		t.Fatalf("unexpected required counts %v", completion)
	}
}

func TestRecordAnswersEmptyValuesDoNotCountTowardCompletion(t *testing.T) {
	var saved []store.DisclosureAnswer
	var gotPct int
	var gotStatus string
	fs := &fakeStore{
		getDisclosureSessionFn: func(context.Context, string) (store.DisclosureSession, error) {
			return ownedDisclosureSession(), nil
		},
		listFormQuestionsFn: func(context.Context, string) ([]store.DisclosureQuestion, error) {
			return testQuestions(), nil
		},
		upsertDisclosureAnswerFn: func(_ context.Context, answer store.DisclosureAnswer) error {
			saved = append(saved, answer)
			return nil
		},
		listSessionAnswersFn: func(context.Context, string) ([]store.DisclosureAnswer, error) {
			return saved, nil
		},
		updateSessionCompletionFn: func(_ context.Context, _ string, pct int, status string) error {
			gotPct = pct
			gotStatus = status
			return nil
		},
	}
	svc := newTestService(fs)

	// Blank answers for every required question store rows but complete nothing.
	payload, err := svc.RecordAnswers(context.Background(), sellerSession(), "dss_1", []AnswerInput{
		{QuestionKey: "roof_leaks", Value: ""},
		{QuestionKey: "foundation_issues", Value: "   "},
	})
	if err != nil {
		t.Fatalf("RecordAnswers() error = %v", err)
	}
	if gotPct != 0 || gotStatus != "in_progress" {
		t.Fatalf("blank answers must not complete the session, got %d %s", gotPct, gotStatus)
	}
	completion := payload["completion"].(map[string]any)
	if completion["requiredAnswered"] != 0 || completion["complete"] != false {
		t.Fatalf("unexpected completion summary %v", completion)
	}

	// Filling one in for real moves completion to 50.
	if _, err := svc.RecordAnswers(context.Background(), sellerSession(), "dss_1", []AnswerInput{
		{QuestionKey: "roof_leaks", Value: "yes"},
	}); err != nil {
		t.Fatalf("RecordAnswers() error = %v", err)
	}
	if gotPct != 50 || gotStatus != "in_progress" {
		t.Fatalf("expected 50%% in_progress, got %d %s", gotPct, gotStatus)
	}
}

func TestRecordAnswersRejectsWhenNothingSurvives(t *testing.T) {
	fs := &fakeStore{
		getDisclosureSessionFn: func(context.Context, string) (store.DisclosureSession, error) {
			return ownedDisclosureSession(), nil
		},
		listFormQuestionsFn: func(context.Context, string) ([]store.DisclosureQuestion, error) {
			return testQuestions(), nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.RecordAnswers(context.Background(), sellerSession(), "dss_1", []AnswerInput{
		{QuestionKey: "no_such_key", Value: "yes"},
	})
	assertDomainError(t, err, http.StatusUnprocessableEntity, "NO_VALID_ANSWERS")

	_, err = svc.RecordAnswers(context.Background(), sellerSession(), "dss_1", nil)
	assertDomainError(t, err, http.StatusUnprocessableEntity, "NO_VALID_ANSWERS")
}

func TestRecordAnswersMasksForeignSessionAsNotFound(t *testing.T) {
	fs := &fakeStore{
		getDisclosureSessionFn: func(context.Context, string) (store.DisclosureSession, error) {
			session := ownedDisclosureSession()
			session.UserID = "usr_someone_else"
			return session, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.RecordAnswers(context.Background(), sellerSession(), "dss_1", []AnswerInput{
		{QuestionKey: "roof_leaks", Value: "yes"},
	})
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows masking, got %v", err)
	}
}

func TestRecordAnswersAdvancesCurrentSection(t *testing.T) {
	var gotSection string
	fs := &fakeStore{
		getDisclosureSessionFn: func(context.Context, string) (store.DisclosureSession, error) {
			return ownedDisclosureSession(), nil
		},
		listFormQuestionsFn: func(context.Context, string) ([]store.DisclosureQuestion, error) {
			return testQuestions(), nil
		},
		updateSessionSectionFn: func(_ context.Context, _ string, section string) error {
			gotSection = section
			return nil
		},
	}
	svc := newTestService(fs)

	if _, err := svc.RecordAnswers(context.Background(), sellerSession(), "dss_1", []AnswerInput{
		{QuestionKey: "appliances_included", Value: "fridge, range"},
	}); err != nil {
		t.Fatalf("RecordAnswers() error = %v", err)
	}
	if gotSection != "systems" {
		t.Fatalf("expected current section systems, got %q", gotSection)
	}
}

func TestGetDisclosureSessionMatchesWritePathCompletion(t *testing.T) {
	fs := &fakeStore{
		getDisclosureSessionFn: func(context.Context, string) (store.DisclosureSession, error) {
			session := ownedDisclosureSession()
			session.CompletionPct = 50
			return session, nil
		},
		listFormQuestionsFn: func(context.Context, string) ([]store.DisclosureQuestion, error) {
			return testQuestions(), nil
		},
		listSessionAnswersFn: func(context.Context, string) ([]store.DisclosureAnswer, error) {
			return []store.DisclosureAnswer{{SessionID: "dss_1", QuestionID: "q1", Value: "yes", Explanation: "patched"}}, nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.GetDisclosureSession(context.Background(), sellerSession(), "dss_1")
	if err != nil {
		t.Fatalf("GetDisclosureSession() error = %v", err)
	}
	completion := payload["completion"].(map[string]any)
	if completion["percent"] != 50 || completion["requiredAnswered"] != 1 || completion["requiredTotal"] != 2 {
		t.Fatalf("unexpected completion %v", completion)
	}
	if payload["totalQuestions"] != 3 || payload["answeredQuestions"] != 1 {
		t.Fatalf("unexpected question counts total=%v answered=%v", payload["totalQuestions"], payload["answeredQuestions"])
	}

	sections := payload["sections"].([]map[string]any)
	if len(sections) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(sections))
	}
	if sections[0]["key"] != "structure" || sections[1]["key"] != "systems" {
		t.Fatalf("sections out of first-seen order: %v, %v", sections[0]["key"], sections[1]["key"])
	}
	questions := sections[0]["questions"].([]map[string]any)
	if questions[0]["answer"] == nil {
		t.Fatal("expected answered question to carry its answer")
	}
	if questions[1]["answer"] != nil {
		t.Fatal("expected unanswered question to carry nil answer")
	}
}

func TestCompletionSummaryZeroRequired(t *testing.T) {
	questions := []store.DisclosureQuestion{
		{ID: "q1", Required: false},
		{ID: "q2", Required: false},
	}
	summary := completionSummary(questions, map[string]store.DisclosureAnswer{
		"q1": {QuestionID: "q1", Value: "yes"},
	})
	if summary["percent"] != 0 || summary["complete"] != false {
		t.Fatalf("forms with no required questions must report 0%%, got %v", summary)
	}
}

func TestCompletionSummaryIgnoresBlankValues(t *testing.T) {
	questions := []store.DisclosureQuestion{
		{ID: "q1", Required: true},
		{ID: "q2", Required: true},
	}
	summary := completionSummary(questions, map[string]store.DisclosureAnswer{
		"q1": {QuestionID: "q1", Value: "yes"},
		"q2": {QuestionID: "q2", Value: "  "},
	})
	if summary["percent"] != 50 || summary["requiredAnswered"] != 1 {
		t.Fatalf("blank answers must not count, got %v", summary)
	}
}

func TestCompletionSummaryRounds(t *testing.T) {
	questions := []store.DisclosureQuestion{
		{ID: "q1", Required: true},
		{ID: "q2", Required: true},
		{ID: "q3", Required: true},
	}
	summary := completionSummary(questions, map[string]store.DisclosureAnswer{
		"q1": {QuestionID: "q1", Value: "yes"},
	})
	// 1/3 rounds to 33, not truncates to 33.3.
	if summary["percent"] != 33 {
		t.Fatalf("expected 33, got %v", summary["percent"])
	}
	summary = completionSummary(questions, map[string]store.DisclosureAnswer{
		"q1": {QuestionID: "q1", Value: "yes"},
		"q2": {QuestionID: "q2", Value: "no"},
	})
	if summary["percent"] != 67 {
		t.Fatalf("expected 67, got %v", summary["percent"])
	}
}

// ---- payments ----

func paymentEvent() payment.Event {
	event := payment.Event{
		ID:   "evt_1",
		Type: payment.EventCheckoutCompleted,
	}
	event.Data.AmountCents = 9900
	event.Data.Metadata.ListingID = "lst_1"
	event.Data.Metadata.UserID = "usr_seller"
	return event
}

func TestHandlePaymentEventIgnoresOtherTypes(t *testing.T) {
	fs := &fakeStore{
		recordPaymentFn: func(context.Context, store.Payment) (bool, error) {
			t.Fatal("non-checkout events must not touch the store")
			return false, nil
		},
	}
	svc := newTestService(fs)

	event := paymentEvent()
	event.Type = "invoice.paid"
	payload, err := svc.HandlePaymentEvent(context.Background(), event)
	if err != nil {
		t.Fatalf("HandlePaymentEvent() error = %v", err)
	}
	if payload["handled"] != false {
		t.Fatalf("expected handled false, got %v", payload["handled"])
	}
}

func TestHandlePaymentEventActivatesDraftListing(t *testing.T) {
	activated := false
	fs := &fakeStore{
		getListingFn: func(context.Context, string) (store.Listing, error) {
			listing := activeListing()
			listing.Status = "draft"
			return listing, nil
		},
		recordPaymentFn: func(_ context.Context, p store.Payment) (bool, error) {
			if p.EventID != "evt_1" || p.AmountCents != 9900 {
				t.Fatalf("unexpected payment record %+v", p)
			}
			return true, nil
		},
		activateListingFn: func(context.Context, string) (bool, error) {
			activated = true
			return true, nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.HandlePaymentEvent(context.Background(), paymentEvent())
	if err != nil {
		t.Fatalf("HandlePaymentEvent() error = %v", err)
	}
	if !activated {
		t.Fatal("expected listing activation")
	}
	if payload["handled"] != true || payload["activated"] != true {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestHandlePaymentEventDuplicateDoesNothing(t *testing.T) {
	fs := &fakeStore{
		getListingFn: func(context.Context, string) (store.Listing, error) {
			listing := activeListing()
			listing.Status = "draft"
			return listing, nil
		},
		recordPaymentFn: func(context.Context, store.Payment) (bool, error) {
			return false, nil
		},
		activateListingFn: func(context.Context, string) (bool, error) {
			t.Fatal("duplicate events must not activate")
			return false, nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.HandlePaymentEvent(context.Background(), paymentEvent())
	if err != nil {
		t.Fatalf("HandlePaymentEvent() error = %v", err)
	}
	if payload["duplicate"] != true || payload["handled"] != false {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestHandlePaymentEventRejectsWrongOwner(t *testing.T) {
	fs := &fakeStore{
		getListingFn: func(context.Context, string) (store.Listing, error) {
			listing := activeListing()
			listing.SellerID = "usr_other"
			return listing, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.HandlePaymentEvent(context.Background(), paymentEvent())
	assertDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestHandlePaymentEventRequiresMetadata(t *testing.T) {
	svc := newTestService(&fakeStore{})
	event := paymentEvent()
	event.Data.Metadata.ListingID = ""
	_, err := svc.HandlePaymentEvent(context.Background(), event)
	assertDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

// ---- listings ----

func TestGetListingHidesDraftsFromNonSellers(t *testing.T) {
	fs := &fakeStore{
		getListingFn: func(context.Context, string) (store.Listing, error) {
			listing := activeListing()
			listing.Status = "draft"
			return listing, nil
		},
	}
	svc := newTestService(fs)

	if _, err := svc.GetListing(context.Background(), buyerSession(), "lst_1"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected not-found for foreign draft, got %v", err)
	}
	if _, err := svc.GetListing(context.Background(), sellerSession(), "lst_1"); err != nil {
		t.Fatalf("seller must see own draft, got %v", err)
	}
}

func TestCreateListingValidatesRequiredFields(t *testing.T) {
	svc := newTestService(&fakeStore{})
	_, err := svc.CreateListing(context.Background(), sellerSession(), CreateListingInput{
		PriceCents: 0,
		City:       "Springfield",
	})
	var de *DomainError
	if !errors.As(err, &de) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	fields := de.Details.(map[string]any)["fields"].([]string)
	joined := strings.Join(fields, ",")
	for _, want := range []string{"priceCents", "addressLine1", "state", "zip"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected %s in missing fields, got %v", want, fields)
		}
	}
}

func TestWithdrawListingOnlyFromDraftOrActive(t *testing.T) {
	fs := &fakeStore{
		getListingFn: func(context.Context, string) (store.Listing, error) {
			listing := activeListing()
			listing.Status = "under_contract"
			return listing, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.WithdrawListing(context.Background(), sellerSession(), "lst_1")
	assertDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestUpdateListingLockedAfterContract(t *testing.T) {
	fs := &fakeStore{
		getListingFn: func(context.Context, string) (store.Listing, error) {
			listing := activeListing()
			listing.Status = "under_contract"
			return listing, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.UpdateListing(context.Background(), sellerSession(), "lst_1", CreateListingInput{
		PriceCents: 1000, AddressLine1: "12 Oak St", City: "Springfield", State: "IL", Zip: "62704",
	})
	assertDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

// ---- sessions ----

func TestSessionRoundTrip(t *testing.T) {
	savedHashes := map[string]string{}
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, DisplayName: "Sam Seller", Email: "sam@example.com"}, nil
		},
		saveRefreshSessionFn: func(_ context.Context, tokenHash, userID string, _ time.Time) error {
			savedHashes[tokenHash] = userID
			return nil
		},
	}
	svc := newTestService(fs)

	session, err := svc.CreateSession(context.Background(), "usr_seller")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if session.Token == "" || session.RefreshToken == "" {
		t.Fatal("expected both tokens issued")
	}
	if len(savedHashes) != 1 {
		t.Fatalf("expected one refresh session saved, got %d", len(savedHashes))
	}

	parsed, err := svc.SessionFromToken(context.Background(), session.Token)
	if err != nil {
		t.Fatalf("SessionFromToken() error = %v", err)
	}
	if parsed.UserID != "usr_seller" || parsed.UserName != "Sam Seller" {
		t.Fatalf("unexpected session %+v", parsed)
	}
}

func TestSessionFromTokenRejectsRevokedJTI(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, DisplayName: "Sam Seller"}, nil
		},
		isAccessTokenRevokedFn: func(context.Context, string) (bool, error) {
			return true, nil
		},
	}
	svc := newTestService(fs)

	session, err := svc.CreateSession(context.Background(), "usr_seller")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if _, err := svc.SessionFromToken(context.Background(), session.Token); err == nil {
		t.Fatal("expected revoked token to be rejected")
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	revoked := ""
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, DisplayName: "Sam Seller"}, nil
		},
		lookupRefreshSessionFn: func(_ context.Context, tokenHash string) (store.User, error) {
			return store.User{ID: "usr_seller"}, nil
		},
		revokeRefreshSessionFn: func(_ context.Context, tokenHash string) error {
			revoked = tokenHash
			return nil
		},
	}
	svc := newTestService(fs)

	session, err := svc.Refresh(context.Background(), "some-refresh-token")
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if revoked == "" {
		t.Fatal("expected old refresh token revoked")
	}
	if session.RefreshToken == "some-refresh-token" {
		t.Fatal("expected a new refresh token")
	}
	if session.UserName != "Sam Seller" {
		t.Fatalf("expected display name backfilled, got %q", session.UserName)
	}
}
