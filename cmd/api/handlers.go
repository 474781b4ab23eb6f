package main

import (
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"moveflow/auth"
	"moveflow/order"
	"moveflow/partner"
	"moveflow/quote"
)

// --- auth ---

func (s *Server) handleRequestCode(w http.ResponseWriter, r *http.Request) {
	var body auth.RequestCodeRequest
	if !decode(w, r, &body) {
		return
	}
	if err := s.auth.RequestCode(r.Context(), body.Phone); err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusOK, nil)
}

func (s *Server) handleVerifyCode(w http.ResponseWriter, r *http.Request) {
	var body auth.VerifyCodeRequest
	if !decode(w, r, &body) {
		return
	}
	result, err := s.auth.VerifyCode(r.Context(), body)
	if err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusOK, loginResponse{
		Token: result.Token,
		User:  toUserResponse(result.User),
	})
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.auth.GetUserByID(r.Context(), userIDFrom(r))
	if err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusOK, toUserResponse(*user))
}

func (s *Server) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FullName string  `json:"full_name"`
		Email    *string `json:"email"`
	}
	if !decode(w, r, &body) {
		return
	}
	user, err := s.auth.UpdateProfile(r.Context(), userIDFrom(r), body.FullName, body.Email)
	if err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusOK, toUserResponse(user))
}

// --- quote requests ---

type createRequestBody struct {
	ContactName  string             `json:"contact_name"`
	ContactPhone string             `json:"contact_phone"`
	ContactEmail string             `json:"contact_email"`
	MoveDate     time.Time          `json:"move_date"`
	Origin       quote.Address      `json:"origin"`
	Destination  quote.Address      `json:"destination"`
	Items        []quote.Item       `json:"items"`
	Services     quote.ServiceFlags `json:"services"`
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	if !decode(w, r, &body) {
		return
	}
	req, err := s.quotes.CreateRequest(r.Context(), quote.CreateRequestParams{
		UserID:       userIDFrom(r),
		ContactName:  body.ContactName,
		ContactPhone: body.ContactPhone,
		ContactEmail: body.ContactEmail,
		MoveDate:     body.MoveDate,
		Origin:       body.Origin,
		Destination:  body.Destination,
		Items:        body.Items,
		Services:     body.Services,
	})
	if err != nil {
		failErr(w, err)
		return
	}

	// Fan-out is best-effort: delivery failures are recorded per partner
	// and never fail the creation. The admin resend endpoint picks up the
	// stragglers.
	req = s.fanOut(r, req)

	respond(w, http.StatusCreated, toRequestResponse(req))
}

func (s *Server) fanOut(r *http.Request, req quote.Request) quote.Request {
	ctx := r.Context()
	audience, err := s.partners.ListActive(ctx)
	if err != nil {
		log.Printf("api: list fan-out audience for %s: %v", req.ID, err)
		return req
	}
	if len(audience) == 0 {
		return req
	}
	// Dispatch before the status flip: a request must never read "sent"
	// with zero delivery records behind it.
	summary, err := s.dispatcher.DispatchQuoteRequest(ctx, req, audience)
	if err != nil {
		log.Printf("api: dispatch request %s: %v", req.ID, err)
		return req
	}
	req.NotificationStatus = quote.NotificationStatus{
		EmailSent:   summary.EmailSent,
		EmailFailed: summary.EmailFailed,
		SMSSent:     summary.SMSSent,
		SMSFailed:   summary.SMSFailed,
	}
	if err := s.quotes.MarkSent(ctx, req.ID); err != nil {
		log.Printf("api: mark request %s sent: %v", req.ID, err)
		return req
	}
	req.Status = quote.RequestSent
	return req
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := s.quotes.ListRequests(r.Context(), userIDFrom(r))
	if err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusOK, toRequestResponses(reqs))
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.quotes.GetRequest(r.Context(), r.PathValue("id"), userIDFrom(r), isAdmin(r))
	if err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusOK, toRequestResponse(req))
}

func (s *Server) handleCancelRequest(w http.ResponseWriter, r *http.Request) {
	if err := s.quotes.CancelRequest(r.Context(), r.PathValue("id"), userIDFrom(r)); err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusOK, nil)
}

func (s *Server) handleListQuotes(w http.ResponseWriter, r *http.Request) {
	quotes, err := s.quotes.ListQuotesForRequest(r.Context(), r.PathValue("id"), userIDFrom(r), isAdmin(r))
	if err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusOK, toQuoteResponses(quotes))
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	records, err := s.dispatcher.Records(r.Context(), r.PathValue("id"))
	if err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusOK, toNotificationResponses(records))
}

func (s *Server) handleResendNotifications(w http.ResponseWriter, r *http.Request) {
	summary, err := s.dispatcher.ResendFailed(r.Context(), r.PathValue("id"))
	if err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusOK, toSummaryResponse(summary))
}

// --- quotes ---

type submitQuoteBody struct {
	RequestID          string           `json:"request_id"`
	BasicFee           int64            `json:"basic_fee"`
	AdditionalServices map[string]int64 `json:"additional_services"`
	Discount           int64            `json:"discount"`
	AvailableTimes     []quote.TimeSlot `json:"available_times"`
}

func (s *Server) handleSubmitQuote(w http.ResponseWriter, r *http.Request) {
	var body submitQuoteBody
	if !decode(w, r, &body) {
		return
	}
	p, err := s.partners.GetByUserID(r.Context(), userIDFrom(r))
	if errors.Is(err, partner.ErrNotFound) {
		fail(w, http.StatusForbidden, msgForbidden)
		return
	}
	if err != nil {
		failErr(w, err)
		return
	}
	q, err := s.quotes.SubmitQuote(r.Context(), quote.SubmitQuoteParams{
		RequestID:          body.RequestID,
		PartnerID:          p.ID,
		BasicFee:           body.BasicFee,
		AdditionalServices: body.AdditionalServices,
		Discount:           body.Discount,
		AvailableTimes:     body.AvailableTimes,
	})
	if err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusCreated, toQuoteResponse(q))
}

func (s *Server) handleAcceptQuote(w http.ResponseWriter, r *http.Request) {
	q, err := s.quotes.AcceptQuote(r.Context(), r.PathValue("id"), userIDFrom(r))
	if err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusOK, toQuoteResponse(q))
}

// --- orders ---

// actorID resolves the identity used for order participant checks: the
// partner record ID for partner accounts, the user ID otherwise.
func (s *Server) actorID(r *http.Request) (string, error) {
	userID := userIDFrom(r)
	if roleFrom(r) != auth.RolePartner {
		return userID, nil
	}
	p, err := s.partners.GetByUserID(r.Context(), userID)
	if errors.Is(err, partner.ErrNotFound) {
		return userID, nil
	}
	if err != nil {
		return "", err
	}
	return p.ID, nil
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var body struct {
		QuoteID string `json:"quote_id"`
	}
	if !decode(w, r, &body) {
		return
	}
	o, err := s.orders.CreateFromQuote(r.Context(), body.QuoteID, userIDFrom(r))
	if err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusCreated, toOrderResponse(o))
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	var (
		orders []order.Order
		err    error
	)
	if roleFrom(r) == auth.RolePartner {
		actor, actorErr := s.actorID(r)
		if actorErr != nil {
			failErr(w, actorErr)
			return
		}
		orders, err = s.orders.ListPartnerOrders(r.Context(), actor)
	} else {
		orders, err = s.orders.ListOrders(r.Context(), userIDFrom(r))
	}
	if err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusOK, toOrderResponses(orders))
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actorID(r)
	if err != nil {
		failErr(w, err)
		return
	}
	o, err := s.orders.GetOrder(r.Context(), r.PathValue("id"), actor, isAdmin(r))
	if err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusOK, toOrderResponse(o))
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if !decode(w, r, &body) {
		return
	}
	refunded, err := s.orders.Cancel(r.Context(), r.PathValue("id"), userIDFrom(r), body.Reason)
	if err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]int64{"refunded": refunded})
}

func (s *Server) handleOrderStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status order.Status `json:"status"`
	}
	if !decode(w, r, &body) {
		return
	}
	actor, err := s.actorID(r)
	if err != nil {
		failErr(w, err)
		return
	}
	if err := s.orders.UpdateStatus(r.Context(), r.PathValue("id"), actor, body.Status); err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusOK, nil)
}

func (s *Server) handleOrderNote(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Note string `json:"note"`
	}
	if !decode(w, r, &body) {
		return
	}
	actor, err := s.actorID(r)
	if err != nil {
		failErr(w, err)
		return
	}
	if err := s.orders.AddNote(r.Context(), r.PathValue("id"), actor, body.Note); err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusOK, nil)
}

// --- payments ---

func (s *Server) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Type order.PaymentType `json:"type"`
	}
	if !decode(w, r, &body) {
		return
	}

	orderID, userID := r.PathValue("id"), userIDFrom(r)
	var (
		p   order.Payment
		err error
	)
	switch body.Type {
	case order.PaymentDeposit:
		p, err = s.orders.ProcessDeposit(r.Context(), orderID, userID)
	case order.PaymentFinal:
		p, err = s.orders.ProcessFinal(r.Context(), orderID, userID)
	case order.PaymentFull:
		p, err = s.orders.ProcessFull(r.Context(), orderID, userID)
	default:
		fail(w, http.StatusBadRequest, msgBadRequest)
		return
	}
	if err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusCreated, toPaymentResponse(p))
}

func (s *Server) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		GatewayRef string `json:"gateway_ref"`
	}
	if !decode(w, r, &body) {
		return
	}
	p, err := s.orders.ConfirmPayment(r.Context(), r.PathValue("id"), body.GatewayRef)
	if err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusOK, toPaymentResponse(p))
}

func (s *Server) handleFailPayment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		GatewayRef string `json:"gateway_ref"`
	}
	if !decode(w, r, &body) {
		return
	}
	if err := s.orders.FailPayment(r.Context(), r.PathValue("id"), body.GatewayRef); err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusOK, nil)
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Amount int64 `json:"amount"`
	}
	if !decode(w, r, &body) {
		return
	}
	p, err := s.orders.ProcessRefund(r.Context(), r.PathValue("id"), body.Amount)
	if err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusOK, toPaymentResponse(p))
}

// --- partners ---

func (s *Server) handleRegisterPartner(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CompanyName string `json:"company_name"`
		ContactName string `json:"contact_name"`
		Phone       string `json:"phone"`
		Email       string `json:"email"`
	}
	if !decode(w, r, &body) {
		return
	}
	p, err := s.partners.Register(r.Context(), partner.RegisterParams{
		UserID:      userIDFrom(r),
		CompanyName: body.CompanyName,
		ContactName: body.ContactName,
		Phone:       body.Phone,
		Email:       body.Email,
	})
	if err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusCreated, toPartnerResponse(p))
}

func (s *Server) handleListPartners(w http.ResponseWriter, r *http.Request) {
	partners, err := s.partners.ListActive(r.Context())
	if err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusOK, toPartnerResponses(partners))
}

func (s *Server) handleGetPartner(w http.ResponseWriter, r *http.Request) {
	p, err := s.partners.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusOK, toPartnerResponse(p))
}

func (s *Server) handleActivatePartner(w http.ResponseWriter, r *http.Request) {
	p, err := s.partners.Activate(r.Context(), r.PathValue("id"))
	if err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusOK, toPartnerResponse(p))
}

func (s *Server) handleSuspendPartner(w http.ResponseWriter, r *http.Request) {
	p, err := s.partners.Suspend(r.Context(), r.PathValue("id"))
	if err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusOK, toPartnerResponse(p))
}

func (s *Server) handleAddReview(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OrderID string `json:"order_id"`
		Rating  int    `json:"rating"`
		Comment string `json:"comment"`
	}
	if !decode(w, r, &body) {
		return
	}
	partnerID, userID := r.PathValue("id"), userIDFrom(r)

	// Reviews are tied to the reviewer's own completed order with this
	// partner.
	o, err := s.orders.GetOrder(r.Context(), body.OrderID, userID, false)
	if err != nil {
		failErr(w, err)
		return
	}
	if o.PartnerID != partnerID {
		fail(w, http.StatusForbidden, msgForbidden)
		return
	}
	if o.Status != order.StatusCompleted {
		fail(w, http.StatusConflict, "訂單尚未完成，無法評價")
		return
	}

	rv, err := s.partners.AddReview(r.Context(), partner.Review{
		OrderID:   body.OrderID,
		PartnerID: partnerID,
		UserID:    userID,
		Rating:    body.Rating,
		Comment:   body.Comment,
	})
	if err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusCreated, toReviewResponse(rv))
}

func (s *Server) handleListReviews(w http.ResponseWriter, r *http.Request) {
	reviews, err := s.partners.ListReviews(r.Context(), r.PathValue("id"), 50)
	if err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusOK, toReviewResponses(reviews))
}

// --- referral ---

func (s *Server) handleReferralCode(w http.ResponseWriter, r *http.Request) {
	code, err := s.referrals.IssueCode(r.Context(), userIDFrom(r))
	if err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusOK, referralCodeResponse{Code: code.Code, CreatedAt: code.CreatedAt})
}

func (s *Server) handleReferralRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code string `json:"code"`
	}
	if !decode(w, r, &body) {
		return
	}
	rel, err := s.referrals.Register(r.Context(), body.Code, userIDFrom(r))
	if err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusCreated, toRelationshipResponse(rel))
}

func (s *Server) handleReferralBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := s.referrals.Balance(r.Context(), userIDFrom(r))
	if err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]int64{"balance": balance})
}

func (s *Server) handleReferralRewards(w http.ResponseWriter, r *http.Request) {
	rewards, err := s.referrals.Rewards(r.Context(), userIDFrom(r))
	if err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusOK, toRewardResponses(rewards))
}

func (s *Server) handleReferralUse(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Amount int64 `json:"amount"`
	}
	if !decode(w, r, &body) {
		return
	}
	if body.Amount <= 0 {
		fail(w, http.StatusBadRequest, msgBadRequest)
		return
	}
	used, err := s.referrals.UseCredit(r.Context(), userIDFrom(r), body.Amount)
	if err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]int64{"used": used})
}

// --- uploads ---

// uploadBodyLimit leaves headroom over the 5MB image cap for the
// multipart framing; the storage layer enforces the real limit.
const uploadBodyLimit = 6 << 20

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.uploads == nil {
		fail(w, http.StatusServiceUnavailable, "圖片服務未啟用")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, uploadBodyLimit)
	if err := r.ParseMultipartForm(uploadBodyLimit); err != nil {
		fail(w, http.StatusBadRequest, msgBadRequest)
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		fail(w, http.StatusBadRequest, msgBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		fail(w, http.StatusBadRequest, msgBadRequest)
		return
	}

	prefix := "uploads"
	switch r.FormValue("kind") {
	case "request":
		prefix = "requests"
	case "partner":
		prefix = "partners"
	}

	key, err := s.uploads.Upload(r.Context(), prefix, data)
	if err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusCreated, uploadResponse{Key: key, URL: s.uploads.PublicURL(key)})
}

// --- settlements ---

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PartnerID   string    `json:"partner_id"`
		PeriodStart time.Time `json:"period_start"`
		PeriodEnd   time.Time `json:"period_end"`
	}
	if !decode(w, r, &body) {
		return
	}
	st, err := s.orders.Settle(r.Context(), body.PartnerID, body.PeriodStart, body.PeriodEnd)
	if err != nil {
		failErr(w, err)
		return
	}
	respond(w, http.StatusCreated, toSettlementResponse(st))
}
