package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrListingConflict is returned when an accept races another accept and loses
// the compare-and-swap on the listing status.
var ErrListingConflict = errors.New("listing is no longer accepting offers")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- users ----

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, is_email_verified, verification_token)
		VALUES ($1, $2, LOWER($3), $4, $5, $6)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.IsEmailVerified, user.VerificationToken)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, is_email_verified
		FROM users
		WHERE email = LOWER($1)
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, is_email_verified
		FROM users
		WHERE id=$1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW()
		WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("set verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token=NULL, verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token) DO NOTHING
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark reset used: %w", err)
	}
	return nil
}

// ---- refresh sessions (Postgres fallback when Redis is not configured) ----

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.display_name, u.email, u.is_email_verified
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Email, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ---- listings ----

const listingColumns = `id, seller_id, status, price_cents, address_line1, COALESCE(address_line2, ''),
	city, state, zip, beds, baths, sqft, COALESCE(description, ''), listed_at, under_contract_at, created_at, updated_at`

func scanListing(row interface{ Scan(...any) error }) (Listing, error) {
	var item Listing
	err := row.Scan(
		&item.ID,
		&item.SellerID,
		&item.Status,
		&item.PriceCents,
		&item.AddressLine1,
		&item.AddressLine2,
		&item.City,
		&item.State,
		&item.Zip,
		&item.Beds,
		&item.Baths,
		&item.Sqft,
		&item.Description,
		&item.ListedAt,
		&item.UnderContractAt,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	return item, err
}

func (s *PostgresStore) InsertListing(ctx context.Context, item Listing) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO listings (id, seller_id, status, price_cents, address_line1, address_line2, city, state, zip, beds, baths, sqft, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, item.ID, item.SellerID, item.Status, item.PriceCents, item.AddressLine1, item.AddressLine2,
		item.City, item.State, item.Zip, item.Beds, item.Baths, item.Sqft, item.Description)
	if err != nil {
		return fmt.Errorf("insert listing: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetListing(ctx context.Context, listingID string) (Listing, error) {
	item, err := scanListing(s.db.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE id=$1`, listingID))
	if err != nil {
		return Listing{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListListingsBySeller(ctx context.Context, sellerID string) ([]Listing, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+listingColumns+`
		FROM listings
		WHERE seller_id=$1
		ORDER BY created_at DESC
	`, sellerID)
	if err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}
	defer rows.Close()

	items := make([]Listing, 0)
	for rows.Next() {
		item, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate listings: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateListingDetails(ctx context.Context, item Listing) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE listings
		SET price_cents=$2, address_line1=$3, address_line2=$4, city=$5, state=$6, zip=$7,
			beds=$8, baths=$9, sqft=$10, description=$11, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.PriceCents, item.AddressLine1, item.AddressLine2, item.City, item.State,
		item.Zip, item.Beds, item.Baths, item.Sqft, item.Description)
	if err != nil {
		return fmt.Errorf("update listing: %w", err)
	}
	return nil
}

// ActivateListing flips a draft listing to active. Returns false when the
// listing was not in draft (already active, or paid twice).
func (s *PostgresStore) ActivateListing(ctx context.Context, listingID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE listings
		SET status='active', listed_at=NOW(), updated_at=NOW()
		WHERE id=$1 AND status='draft'
	`, listingID)
	if err != nil {
		return false, fmt.Errorf("activate listing: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("activate listing rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) WithdrawListing(ctx context.Context, listingID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE listings SET status='withdrawn', updated_at=NOW()
		WHERE id=$1 AND status IN ('draft', 'active')
	`, listingID)
	if err != nil {
		return fmt.Errorf("withdraw listing: %w", err)
	}
	return nil
}

// ---- offers ----

const offerColumns = `id, listing_id, buyer_id, price_cents, COALESCE(financing, ''), COALESCE(closing_date, ''),
	status, COALESCE(message, ''), submitted_at, responded_at`

func scanOffer(row interface{ Scan(...any) error }) (Offer, error) {
	var item Offer
	err := row.Scan(
		&item.ID,
		&item.ListingID,
		&item.BuyerID,
		&item.PriceCents,
		&item.Financing,
		&item.ClosingDate,
		&item.Status,
		&item.Message,
		&item.SubmittedAt,
		&item.RespondedAt,
	)
	return item, err
}

func (s *PostgresStore) InsertOffer(ctx context.Context, item Offer) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO offers (id, listing_id, buyer_id, price_cents, financing, closing_date, status, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, item.ID, item.ListingID, item.BuyerID, item.PriceCents, item.Financing, item.ClosingDate, item.Status, item.Message)
	if err != nil {
		return fmt.Errorf("insert offer: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetOffer(ctx context.Context, offerID string) (Offer, error) {
	item, err := scanOffer(s.db.QueryRowContext(ctx, `SELECT `+offerColumns+` FROM offers WHERE id=$1`, offerID))
	if err != nil {
		return Offer{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListOffersByListing(ctx context.Context, listingID string) ([]Offer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+offerColumns+`
		FROM offers
		WHERE listing_id=$1
		ORDER BY submitted_at DESC
	`, listingID)
	if err != nil {
		return nil, fmt.Errorf("list offers: %w", err)
	}
	defer rows.Close()

	items := make([]Offer, 0)
	for rows.Next() {
		item, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan offer: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate offers: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateOfferStatus(ctx context.Context, offerID, status string, respondedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE offers SET status=$2, responded_at=$3 WHERE id=$1
	`, offerID, status, respondedAt)
	if err != nil {
		return fmt.Errorf("update offer status: %w", err)
	}
	return nil
}

// AcceptOffer performs the accept cascade as one transaction: the offer goes to
// accepted, the listing to under_contract, and every other pending offer on the
// listing to rejected, all stamped with the same respondedAt. The listing update
// is a compare-and-swap on status='active'; losing the swap (a concurrent accept
// already moved the listing) rolls everything back and returns
// ErrListingConflict. Returns the number of sibling offers rejected.
func (s *PostgresStore) AcceptOffer(ctx context.Context, offerID, listingID string, respondedAt time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin accept tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE listings
		SET status='under_contract', under_contract_at=$2, updated_at=NOW()
		WHERE id=$1 AND status='active'
	`, listingID, respondedAt)
	if err != nil {
		return 0, fmt.Errorf("move listing under contract: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("listing update rows: %w", err)
	}
	if affected == 0 {
		return 0, ErrListingConflict
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE offers SET status='accepted', responded_at=$2 WHERE id=$1
	`, offerID, respondedAt); err != nil {
		return 0, fmt.Errorf("accept offer: %w", err)
	}

	rejected, err := tx.ExecContext(ctx, `
		UPDATE offers
		SET status='rejected', responded_at=$3
		WHERE listing_id=$1 AND id<>$2 AND status='pending'
	`, listingID, offerID, respondedAt)
	if err != nil {
		return 0, fmt.Errorf("reject sibling offers: %w", err)
	}
	rejectedCount, err := rejected.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rejected rows: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit accept tx: %w", err)
	}
	return int(rejectedCount), nil
}

// ---- showings ----

const showingColumns = `id, listing_id, buyer_user_id, buyer_name, COALESCE(buyer_email, ''), COALESCE(buyer_phone, ''),
	requested_date, requested_time_start, requested_time_end,
	COALESCE(confirmed_date, ''), COALESCE(confirmed_time_start, ''), COALESCE(confirmed_time_end, ''),
	status, COALESCE(lockbox_code, ''), COALESCE(access_instructions, ''), created_at`

func scanShowing(row interface{ Scan(...any) error }) (Showing, error) {
	var item Showing
	err := row.Scan(
		&item.ID,
		&item.ListingID,
		&item.BuyerUserID,
		&item.BuyerName,
		&item.BuyerEmail,
		&item.BuyerPhone,
		&item.RequestedDate,
		&item.RequestedTimeStart,
		&item.RequestedTimeEnd,
		&item.ConfirmedDate,
		&item.ConfirmedTimeStart,
		&item.ConfirmedTimeEnd,
		&item.Status,
		&item.LockboxCode,
		&item.AccessInstructions,
		&item.CreatedAt,
	)
	return item, err
}

func (s *PostgresStore) InsertShowing(ctx context.Context, item Showing) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO showings (id, listing_id, buyer_user_id, buyer_name, buyer_email, buyer_phone,
			requested_date, requested_time_start, requested_time_end, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, item.ID, item.ListingID, item.BuyerUserID, item.BuyerName, item.BuyerEmail, item.BuyerPhone,
		item.RequestedDate, item.RequestedTimeStart, item.RequestedTimeEnd, item.Status)
	if err != nil {
		return fmt.Errorf("insert showing: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetShowing(ctx context.Context, showingID string) (Showing, error) {
	item, err := scanShowing(s.db.QueryRowContext(ctx, `SELECT `+showingColumns+` FROM showings WHERE id=$1`, showingID))
	if err != nil {
		return Showing{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListShowingsByListing(ctx context.Context, listingID string) ([]Showing, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+showingColumns+`
		FROM showings
		WHERE listing_id=$1
		ORDER BY requested_date ASC, requested_time_start ASC
	`, listingID)
	if err != nil {
		return nil, fmt.Errorf("list showings: %w", err)
	}
	defer rows.Close()

	items := make([]Showing, 0)
	for rows.Next() {
		item, err := scanShowing(rows)
		if err != nil {
			return nil, fmt.Errorf("scan showing: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate showings: %w", err)
	}
	return items, nil
}

// UpdateShowing applies only the non-nil fields of the patch. A nil-only patch
// is a no-op returning the current row.
func (s *PostgresStore) UpdateShowing(ctx context.Context, showingID string, patch ShowingPatch) (Showing, error) {
	sets := make([]string, 0, 6)
	args := []any{showingID}
	add := func(column string, value *string) {
		if value == nil {
			return
		}
		args = append(args, *value)
		sets = append(sets, fmt.Sprintf("%s=$%d", column, len(args)))
	}
	add("status", patch.Status)
	add("confirmed_date", patch.ConfirmedDate)
	add("confirmed_time_start", patch.ConfirmedTimeStart)
	add("confirmed_time_end", patch.ConfirmedTimeEnd)
	add("lockbox_code", patch.LockboxCode)
	add("access_instructions", patch.AccessInstructions)

	if len(sets) == 0 {
		return s.GetShowing(ctx, showingID)
	}

	query := fmt.Sprintf(`UPDATE showings SET %s WHERE id=$1`, strings.Join(sets, ", "))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return Showing{}, fmt.Errorf("update showing: %w", err)
	}
	return s.GetShowing(ctx, showingID)
}

// ---- disclosures ----

func (s *PostgresStore) InsertDisclosureForm(ctx context.Context, form DisclosureForm) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO disclosure_forms (id, name, region, version)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, form.ID, form.Name, form.Region, form.Version)
	if err != nil {
		return fmt.Errorf("insert disclosure form: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDisclosureForm(ctx context.Context, formID string) (DisclosureForm, error) {
	var form DisclosureForm
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, region, version FROM disclosure_forms WHERE id=$1
	`, formID).Scan(&form.ID, &form.Name, &form.Region, &form.Version)
	if err != nil {
		return DisclosureForm{}, err
	}
	return form, nil
}

func (s *PostgresStore) InsertDisclosureQuestion(ctx context.Context, question DisclosureQuestion) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO disclosure_questions (id, form_id, key, prompt, section_key, section_label, required, display_order)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (form_id, key) DO NOTHING
	`, question.ID, question.FormID, question.Key, question.Prompt, question.SectionKey,
		question.SectionLabel, question.Required, question.DisplayOrder)
	if err != nil {
		return fmt.Errorf("insert disclosure question: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListFormQuestions(ctx context.Context, formID string) ([]DisclosureQuestion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, form_id, key, prompt, section_key, section_label, required, display_order
		FROM disclosure_questions
		WHERE form_id=$1
		ORDER BY display_order ASC
	`, formID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	items := make([]DisclosureQuestion, 0)
	for rows.Next() {
		var item DisclosureQuestion
		if err := rows.Scan(&item.ID, &item.FormID, &item.Key, &item.Prompt, &item.SectionKey,
			&item.SectionLabel, &item.Required, &item.DisplayOrder); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertDisclosureSession(ctx context.Context, session DisclosureSession) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO disclosure_sessions (id, user_id, listing_id, form_id, current_section, status, completion_pct)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, session.ID, session.UserID, session.ListingID, session.FormID, session.CurrentSection,
		session.Status, session.CompletionPct)
	if err != nil {
		return fmt.Errorf("insert disclosure session: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDisclosureSession(ctx context.Context, sessionID string) (DisclosureSession, error) {
	var session DisclosureSession
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, listing_id, form_id, COALESCE(current_section, ''), status, completion_pct, created_at, updated_at
		FROM disclosure_sessions
		WHERE id=$1
	`, sessionID).Scan(&session.ID, &session.UserID, &session.ListingID, &session.FormID,
		&session.CurrentSection, &session.Status, &session.CompletionPct, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		return DisclosureSession{}, err
	}
	return session, nil
}

func (s *PostgresStore) UpsertDisclosureAnswer(ctx context.Context, answer DisclosureAnswer) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO disclosure_answers (session_id, question_id, value, explanation, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (session_id, question_id)
		DO UPDATE SET value=EXCLUDED.value, explanation=EXCLUDED.explanation, updated_at=NOW()
	`, answer.SessionID, answer.QuestionID, answer.Value, answer.Explanation)
	if err != nil {
		return fmt.Errorf("upsert answer: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSessionAnswers(ctx context.Context, sessionID string) ([]DisclosureAnswer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, question_id, value, COALESCE(explanation, ''), updated_at
		FROM disclosure_answers
		WHERE session_id=$1
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	defer rows.Close()

	items := make([]DisclosureAnswer, 0)
	for rows.Next() {
		var item DisclosureAnswer
		if err := rows.Scan(&item.SessionID, &item.QuestionID, &item.Value, &item.Explanation, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate answers: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateSessionCompletion(ctx context.Context, sessionID string, completionPct int, status string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE disclosure_sessions
		SET completion_pct=$2, status=$3, updated_at=NOW()
		WHERE id=$1
	`, sessionID, completionPct, status)
	if err != nil {
		return fmt.Errorf("update session completion: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateSessionSection(ctx context.Context, sessionID, sectionKey string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE disclosure_sessions SET current_section=$2, updated_at=NOW() WHERE id=$1
	`, sessionID, sectionKey)
	if err != nil {
		return fmt.Errorf("update session section: %w", err)
	}
	return nil
}

// ---- photos ----

func (s *PostgresStore) InsertListingPhoto(ctx context.Context, photo ListingPhoto) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO listing_photos (id, listing_id, object_key, content_type, sort_order)
		VALUES ($1, $2, $3, $4, $5)
	`, photo.ID, photo.ListingID, photo.ObjectKey, photo.ContentType, photo.SortOrder)
	if err != nil {
		return fmt.Errorf("insert listing photo: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListListingPhotos(ctx context.Context, listingID string) ([]ListingPhoto, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, listing_id, object_key, content_type, sort_order, created_at
		FROM listing_photos
		WHERE listing_id=$1
		ORDER BY sort_order ASC, created_at ASC
	`, listingID)
	if err != nil {
		return nil, fmt.Errorf("list photos: %w", err)
	}
	defer rows.Close()

	items := make([]ListingPhoto, 0)
	for rows.Next() {
		var item ListingPhoto
		if err := rows.Scan(&item.ID, &item.ListingID, &item.ObjectKey, &item.ContentType, &item.SortOrder, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan photo: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate photos: %w", err)
	}
	return items, nil
}

// ---- payments ----

// RecordPayment inserts a payment row keyed by the gateway event id. Returns
// false when the event was already recorded (webhook redelivery).
func (s *PostgresStore) RecordPayment(ctx context.Context, payment Payment) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO payments (id, listing_id, user_id, event_id, amount_cents, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id) DO NOTHING
	`, payment.ID, payment.ListingID, payment.UserID, payment.EventID, payment.AmountCents, payment.Status)
	if err != nil {
		return false, fmt.Errorf("record payment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record payment rows: %w", err)
	}
	return affected > 0, nil
}
