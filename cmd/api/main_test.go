package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"moveflow/auth"
	"moveflow/notify"
	"moveflow/partner"
	"moveflow/quote"
)

const testSecret = "test-secret"

// fakeAuthRepo is an in-memory auth.Repository.
type fakeAuthRepo struct {
	codes map[string]*auth.VerificationCode // keyed by phone
	users map[string]*auth.User             // keyed by id
}

func newFakeAuthRepo() *fakeAuthRepo {
	return &fakeAuthRepo{
		codes: make(map[string]*auth.VerificationCode),
		users: make(map[string]*auth.User),
	}
}

func (r *fakeAuthRepo) CreateCode(_ context.Context, code auth.VerificationCode) error {
	code.ID = uuid.New().String()
	r.codes[code.Phone] = &code
	return nil
}

func (r *fakeAuthRepo) GetActiveCode(_ context.Context, phone string) (auth.VerificationCode, error) {
	code, ok := r.codes[phone]
	if !ok || code.Used {
		return auth.VerificationCode{}, auth.ErrCodeNotFound
	}
	return *code, nil
}

func (r *fakeAuthRepo) IncrementAttempts(_ context.Context, codeID string) (int, error) {
	for _, code := range r.codes {
		if code.ID == codeID {
			code.Attempts++
			return code.Attempts, nil
		}
	}
	return 0, auth.ErrCodeNotFound
}

func (r *fakeAuthRepo) ConsumeCode(_ context.Context, codeID string) error {
	for _, code := range r.codes {
		if code.ID == codeID {
			code.Used = true
			return nil
		}
	}
	return auth.ErrCodeNotFound
}

func (r *fakeAuthRepo) InvalidateCodes(_ context.Context, phone string) error {
	delete(r.codes, phone)
	return nil
}

func (r *fakeAuthRepo) UpsertUser(_ context.Context, phone string, role auth.Role) (auth.User, error) {
	for _, u := range r.users {
		if u.Phone == phone {
			return *u, nil
		}
	}
	u := auth.User{ID: uuid.New().String(), Phone: phone, Role: role, CreatedAt: time.Now()}
	r.users[u.ID] = &u
	return u, nil
}

func (r *fakeAuthRepo) GetUserByID(_ context.Context, userID string) (auth.User, error) {
	u, ok := r.users[userID]
	if !ok {
		return auth.User{}, auth.ErrUserNotFound
	}
	return *u, nil
}

func (r *fakeAuthRepo) UpdateProfile(_ context.Context, userID, fullName string, email *string) (auth.User, error) {
	u, ok := r.users[userID]
	if !ok {
		return auth.User{}, auth.ErrUserNotFound
	}
	u.FullName = fullName
	u.Email = email
	return *u, nil
}

func (r *fakeAuthRepo) SetRole(_ context.Context, userID string, role auth.Role) error {
	u, ok := r.users[userID]
	if !ok {
		return auth.ErrUserNotFound
	}
	u.Role = role
	return nil
}

type fakeSMS struct {
	messages []string
}

func (s *fakeSMS) SendSMS(_ context.Context, _, message string) error {
	s.messages = append(s.messages, message)
	return nil
}

// fakeDirectory is an in-memory partner.Directory.
type fakeDirectory struct {
	partners map[string]*partner.Partner
}

func (d *fakeDirectory) Create(_ context.Context, params partner.RegisterParams) (partner.Partner, error) {
	p := partner.Partner{
		ID:          uuid.New().String(),
		UserID:      params.UserID,
		CompanyName: params.CompanyName,
		ContactName: params.ContactName,
		Phone:       params.Phone,
		Email:       params.Email,
		Status:      partner.StatusPending,
		CreatedAt:   time.Now(),
	}
	d.partners[p.ID] = &p
	return p, nil
}

func (d *fakeDirectory) GetByID(_ context.Context, id string) (partner.Partner, error) {
	p, ok := d.partners[id]
	if !ok {
		return partner.Partner{}, partner.ErrNotFound
	}
	return *p, nil
}

func (d *fakeDirectory) GetByUserID(_ context.Context, userID string) (partner.Partner, error) {
	for _, p := range d.partners {
		if p.UserID == userID {
			return *p, nil
		}
	}
	return partner.Partner{}, partner.ErrNotFound
}

func (d *fakeDirectory) ListActive(_ context.Context) ([]partner.Partner, error) {
	var out []partner.Partner
	for _, p := range d.partners {
		if p.Status == partner.StatusActive {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (d *fakeDirectory) UpdateStatus(_ context.Context, id string, status partner.Status) (partner.Partner, error) {
	p, ok := d.partners[id]
	if !ok {
		return partner.Partner{}, partner.ErrNotFound
	}
	p.Status = status
	return *p, nil
}

func (d *fakeDirectory) AddReview(_ context.Context, review partner.Review) (partner.Review, error) {
	review.ID = uuid.New().String()
	return review, nil
}

func (d *fakeDirectory) ListReviews(_ context.Context, _ string, _ int) ([]partner.Review, error) {
	return nil, nil
}

// fakeQuoteRepo backs the request-creation path; the quote-side methods
// the fan-out tests never reach are left unimplemented.
type fakeQuoteRepo struct {
	requests  map[string]*quote.Request
	statusErr error
}

func (r *fakeQuoteRepo) CreateRequest(_ context.Context, req quote.Request) (quote.Request, error) {
	req.CreatedAt = time.Now()
	r.requests[req.ID] = &req
	return req, nil
}

func (r *fakeQuoteRepo) GetRequest(_ context.Context, id string) (quote.Request, error) {
	req, ok := r.requests[id]
	if !ok {
		return quote.Request{}, quote.ErrRequestNotFound
	}
	return *req, nil
}

func (r *fakeQuoteRepo) SetRequestStatus(_ context.Context, id string, status quote.RequestStatus) error {
	if r.statusErr != nil {
		return r.statusErr
	}
	req, ok := r.requests[id]
	if !ok {
		return quote.ErrRequestNotFound
	}
	req.Status = status
	return nil
}

func (r *fakeQuoteRepo) ListRequestsByUser(_ context.Context, userID string) ([]quote.Request, error) {
	var out []quote.Request
	for _, req := range r.requests {
		if req.UserID == userID {
			out = append(out, *req)
		}
	}
	return out, nil
}

func (r *fakeQuoteRepo) GetRequestForUpdate(context.Context, pgx.Tx, string) (quote.Request, error) {
	panic("not implemented")
}

func (r *fakeQuoteRepo) SetRequestStatusTx(context.Context, pgx.Tx, string, quote.RequestStatus) error {
	panic("not implemented")
}

func (r *fakeQuoteRepo) InsertQuote(context.Context, pgx.Tx, quote.Quote) (quote.Quote, error) {
	panic("not implemented")
}

func (r *fakeQuoteRepo) GetQuote(context.Context, string) (quote.Quote, error) {
	panic("not implemented")
}

func (r *fakeQuoteRepo) GetQuoteForUpdate(context.Context, pgx.Tx, string) (quote.Quote, error) {
	panic("not implemented")
}

func (r *fakeQuoteRepo) CountQuotes(context.Context, pgx.Tx, string) (int, error) {
	panic("not implemented")
}

func (r *fakeQuoteRepo) MarkAccepted(context.Context, pgx.Tx, string) error {
	panic("not implemented")
}

func (r *fakeQuoteRepo) RejectSiblings(context.Context, pgx.Tx, string, string) (int64, error) {
	panic("not implemented")
}

func (r *fakeQuoteRepo) ExpireQuotesForRequest(context.Context, pgx.Tx, string) (int64, error) {
	panic("not implemented")
}

func (r *fakeQuoteRepo) ListQuotes(context.Context, string) ([]quote.Quote, error) {
	panic("not implemented")
}

func (r *fakeQuoteRepo) ExpireStale(context.Context, time.Time) (int64, error) {
	panic("not implemented")
}

// fakeNotifyRepo is an in-memory notify.Repository.
type fakeNotifyRepo struct {
	records   map[string]*notify.Record // keyed by partner/channel
	summaries map[string]notify.Summary
}

func newFakeNotifyRepo() *fakeNotifyRepo {
	return &fakeNotifyRepo{
		records:   make(map[string]*notify.Record),
		summaries: make(map[string]notify.Summary),
	}
}

func (r *fakeNotifyRepo) UpsertRecord(_ context.Context, rec notify.Record) (notify.Record, error) {
	key := rec.PartnerID + "/" + string(rec.Channel)
	if existing, ok := r.records[key]; ok {
		existing.Status = rec.Status
		existing.Error = rec.Error
		existing.Attempts++
		return *existing, nil
	}
	rec.ID = uuid.New().String()
	rec.Attempts = 1
	r.records[key] = &rec
	return rec, nil
}

func (r *fakeNotifyRepo) ListByRequest(_ context.Context, requestID string) ([]notify.Record, error) {
	var out []notify.Record
	for _, rec := range r.records {
		if rec.RequestID == requestID {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (r *fakeNotifyRepo) ListFailed(_ context.Context, requestID string) ([]notify.Record, error) {
	var out []notify.Record
	for _, rec := range r.records {
		if rec.RequestID == requestID && rec.Status == notify.StatusFailed {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (r *fakeNotifyRepo) UpdateRequestCounters(_ context.Context, requestID string, summary notify.Summary) error {
	r.summaries[requestID] = summary
	return nil
}

type fakeEmail struct {
	sent []string
}

func (e *fakeEmail) SendTemplate(_ context.Context, to, _ string, _ map[string]string) error {
	e.sent = append(e.sent, to)
	return nil
}

func newTestServer() (*Server, *fakeAuthRepo, *fakeDirectory) {
	authRepo := newFakeAuthRepo()
	dir := &fakeDirectory{partners: make(map[string]*partner.Partner)}

	authService := auth.NewService(authRepo, &fakeSMS{}, testSecret, nil).
		WithCodeGenerator(func() (string, error) { return "123456", nil })

	srv := &Server{
		auth:     authService,
		partners: partner.NewService(dir),
	}
	return srv, authRepo, dir
}

func tokenFor(t *testing.T, userID string, role auth.Role) string {
	t.Helper()
	claims := jwt.MapClaims{
		"user_id": userID,
		"role":    string(role),
		"exp":     time.Now().Add(time.Hour).Unix(),
		"iat":     time.Now().Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func doJSON(t *testing.T, handler http.Handler, method, path, token, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope from %q: %v", rec.Body.String(), err)
	}
	return rec, env
}

func TestLoginFlow(t *testing.T) {
	srv, _, _ := newTestServer()
	handler := srv.routes()

	rec, env := doJSON(t, handler, http.MethodPost, "/api/auth/code", "", `{"phone":"91234567"}`)
	if rec.Code != http.StatusOK || !env.Success {
		t.Fatalf("request code: status %d, envelope %+v", rec.Code, env)
	}

	rec, env = doJSON(t, handler, http.MethodPost, "/api/auth/verify", "",
		`{"phone":"91234567","code":"123456"}`)
	if rec.Code != http.StatusOK || !env.Success {
		t.Fatalf("verify code: status %d, envelope %+v", rec.Code, env)
	}

	data, err := json.Marshal(env.Data)
	if err != nil {
		t.Fatalf("re-marshal data: %v", err)
	}
	var login loginResponse
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if login.Token == "" {
		t.Fatal("expected a session token")
	}
	if login.User.Phone != "91234567" || login.User.Role != auth.RoleCustomer {
		t.Fatalf("unexpected user: %+v", login.User)
	}

	rec, env = doJSON(t, handler, http.MethodGet, "/api/me", login.Token, "")
	if rec.Code != http.StatusOK || !env.Success {
		t.Fatalf("get me: status %d, envelope %+v", rec.Code, env)
	}
}

func TestWrongCodeMessage(t *testing.T) {
	srv, _, _ := newTestServer()
	handler := srv.routes()

	doJSON(t, handler, http.MethodPost, "/api/auth/code", "", `{"phone":"91234567"}`)
	rec, env := doJSON(t, handler, http.MethodPost, "/api/auth/verify", "",
		`{"phone":"91234567","code":"000000"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if env.Success || env.Error != "驗證碼錯誤，請重新輸入" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestInvalidPhoneMessage(t *testing.T) {
	srv, _, _ := newTestServer()
	handler := srv.routes()

	rec, env := doJSON(t, handler, http.MethodPost, "/api/auth/code", "", `{"phone":"12345"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if env.Error != "請輸入有效的香港手機號碼" {
		t.Fatalf("unexpected message: %q", env.Error)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, _, _ := newTestServer()
	handler := srv.routes()

	rec, env := doJSON(t, handler, http.MethodGet, "/api/me", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if env.Success || env.Error != msgUnauthorized {
		t.Fatalf("unexpected envelope: %+v", env)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", rec2.Code)
	}
}

func TestAdminGate(t *testing.T) {
	srv, repo, _ := newTestServer()
	handler := srv.routes()

	user, _ := repo.UpsertUser(context.Background(), "91234567", auth.RoleCustomer)
	customer := tokenFor(t, user.ID, auth.RoleCustomer)

	rec, env := doJSON(t, handler, http.MethodPost, "/api/settlements", customer,
		`{"partner_id":"p-1"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if env.Error != msgForbidden {
		t.Fatalf("unexpected message: %q", env.Error)
	}

	rec, env = doJSON(t, handler, http.MethodPost, "/api/partners/p-1/activate", customer, "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 on partner activation, got %d", rec.Code)
	}
}

func TestPartnerLifecycle(t *testing.T) {
	srv, repo, _ := newTestServer()
	handler := srv.routes()

	user, _ := repo.UpsertUser(context.Background(), "61234567", auth.RolePartner)
	token := tokenFor(t, user.ID, auth.RolePartner)
	admin, _ := repo.UpsertUser(context.Background(), "51234567", auth.RoleCustomer)
	adminToken := tokenFor(t, admin.ID, auth.RoleAdmin)

	rec, env := doJSON(t, handler, http.MethodPost, "/api/partners", token,
		`{"company_name":"快搬有限公司","contact_name":"陳先生","phone":"61234567","email":"ops@example.com"}`)
	if rec.Code != http.StatusCreated || !env.Success {
		t.Fatalf("register partner: status %d, envelope %+v", rec.Code, env)
	}
	data, _ := json.Marshal(env.Data)
	var created partnerResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("decode partner: %v", err)
	}
	if created.Status != partner.StatusPending {
		t.Fatalf("expected pending partner, got %s", created.Status)
	}

	// Not listed until an admin activates the account.
	rec, env = doJSON(t, handler, http.MethodGet, "/api/partners", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list partners: status %d", rec.Code)
	}
	data, _ = json.Marshal(env.Data)
	var pending []partnerResponse
	if err := json.Unmarshal(data, &pending); err != nil {
		t.Fatalf("decode partner list: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no active partners, got %+v", pending)
	}

	path := fmt.Sprintf("/api/partners/%s/activate", created.ID)
	rec, env = doJSON(t, handler, http.MethodPost, path, adminToken, "")
	if rec.Code != http.StatusOK || !env.Success {
		t.Fatalf("activate: status %d, envelope %+v", rec.Code, env)
	}

	rec, env = doJSON(t, handler, http.MethodGet, "/api/partners", token, "")
	data, _ = json.Marshal(env.Data)
	var active []partnerResponse
	if err := json.Unmarshal(data, &active); err != nil {
		t.Fatalf("decode partner list: %v", err)
	}
	if len(active) != 1 || active[0].ID != created.ID {
		t.Fatalf("expected the activated partner, got %+v", active)
	}
}

func TestMalformedBody(t *testing.T) {
	srv, _, _ := newTestServer()
	handler := srv.routes()

	rec, env := doJSON(t, handler, http.MethodPost, "/api/auth/code", "", `{"phone":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if env.Error != msgBadRequest {
		t.Fatalf("unexpected message: %q", env.Error)
	}
}

func TestUploadsDisabled(t *testing.T) {
	srv, repo, _ := newTestServer()
	handler := srv.routes()

	user, _ := repo.UpsertUser(context.Background(), "91234567", auth.RoleCustomer)
	token := tokenFor(t, user.ID, auth.RoleCustomer)

	req := httptest.NewRequest(http.MethodPost, "/api/uploads", strings.NewReader(""))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when no bucket is configured, got %d", rec.Code)
	}
}

func newFanOutServer(quoteRepo *fakeQuoteRepo, email *fakeEmail, sms *fakeSMS) (*Server, *fakeAuthRepo, *fakeNotifyRepo) {
	authRepo := newFakeAuthRepo()
	dir := &fakeDirectory{partners: make(map[string]*partner.Partner)}
	dir.partners["p-1"] = &partner.Partner{
		ID: "p-1", UserID: "u-p1", CompanyName: "快搬有限公司",
		Phone: "61234567", Email: "ops@example.com", Status: partner.StatusActive,
	}

	partners := partner.NewService(dir)
	notifyRepo := newFakeNotifyRepo()

	srv := &Server{
		auth:       auth.NewService(authRepo, &fakeSMS{}, testSecret, nil),
		partners:   partners,
		quotes:     quote.NewService(nil, quoteRepo, partners),
		dispatcher: notify.NewDispatcher(notifyRepo, quoteRepo, partners, email, sms),
	}
	return srv, authRepo, notifyRepo
}

const createRequestJSON = `{
	"contact_name": "陳小姐",
	"contact_phone": "91234567",
	"move_date": "2099-01-02T10:00:00Z",
	"origin": {"line": "1 Hoi Yuen Rd", "district": "觀塘", "floor": 12, "elevator": true},
	"destination": {"line": "8 On King St", "district": "沙田", "floor": 3},
	"items": [{"name": "sofa", "quantity": 1}]
}`

func TestCreateRequestFanOut(t *testing.T) {
	quoteRepo := &fakeQuoteRepo{requests: make(map[string]*quote.Request)}
	email := &fakeEmail{}
	sms := &fakeSMS{}
	srv, authRepo, notifyRepo := newFanOutServer(quoteRepo, email, sms)
	handler := srv.routes()

	user, _ := authRepo.UpsertUser(context.Background(), "91234567", auth.RoleCustomer)
	token := tokenFor(t, user.ID, auth.RoleCustomer)

	rec, env := doJSON(t, handler, http.MethodPost, "/api/requests", token, createRequestJSON)
	if rec.Code != http.StatusCreated || !env.Success {
		t.Fatalf("create request: status %d, envelope %+v", rec.Code, env)
	}
	data, _ := json.Marshal(env.Data)
	var created requestResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if created.Status != quote.RequestSent {
		t.Fatalf("expected sent request, got %s", created.Status)
	}
	if created.Notifications.EmailSent != 1 || created.Notifications.SMSSent != 1 {
		t.Fatalf("unexpected delivery counts: %+v", created.Notifications)
	}
	if len(email.sent) != 1 || email.sent[0] != "ops@example.com" {
		t.Fatalf("expected one email to the partner, got %v", email.sent)
	}
	if len(sms.messages) != 1 {
		t.Fatalf("expected one sms, got %v", sms.messages)
	}
	records, _ := notifyRepo.ListByRequest(context.Background(), created.ID)
	if len(records) != 2 {
		t.Fatalf("expected a record per channel, got %+v", records)
	}
}

func TestCreateRequestDispatchPrecedesStatusFlip(t *testing.T) {
	quoteRepo := &fakeQuoteRepo{requests: make(map[string]*quote.Request)}
	email := &fakeEmail{}
	sms := &fakeSMS{}
	srv, authRepo, notifyRepo := newFanOutServer(quoteRepo, email, sms)
	handler := srv.routes()

	user, _ := authRepo.UpsertUser(context.Background(), "91234567", auth.RoleCustomer)
	token := tokenFor(t, user.ID, auth.RoleCustomer)

	// The status store refuses the flip to sent; delivery must still run
	// and the request must keep reading pending, never sent-with-no-records.
	quoteRepo.statusErr = errors.New("status store down")

	rec, env := doJSON(t, handler, http.MethodPost, "/api/requests", token, createRequestJSON)
	if rec.Code != http.StatusCreated || !env.Success {
		t.Fatalf("create request: status %d, envelope %+v", rec.Code, env)
	}
	data, _ := json.Marshal(env.Data)
	var created requestResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if created.Status != quote.RequestPending {
		t.Fatalf("expected request left pending, got %s", created.Status)
	}
	if created.Notifications.EmailSent != 1 || created.Notifications.SMSSent != 1 {
		t.Fatalf("expected delivery despite the failed flip, got %+v", created.Notifications)
	}
	if len(email.sent) != 1 || len(sms.messages) != 1 {
		t.Fatalf("expected both channels attempted, got email=%v sms=%v", email.sent, sms.messages)
	}
	records, _ := notifyRepo.ListByRequest(context.Background(), created.ID)
	if len(records) != 2 {
		t.Fatalf("expected a record per channel, got %+v", records)
	}
	if quoteRepo.requests[created.ID].Status != quote.RequestPending {
		t.Fatalf("expected stored request pending, got %s", quoteRepo.requests[created.ID].Status)
	}
}
