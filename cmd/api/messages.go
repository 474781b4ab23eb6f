package main

import (
	"errors"
	"net/http"

	"moveflow/auth"
	"moveflow/order"
	"moveflow/partner"
	"moveflow/quote"
	"moveflow/referral"
	"moveflow/storage"
)

// httpError pairs an HTTP status with the localized message shown to end
// users. The UI renders the message string directly.
type httpError struct {
	status  int
	message string
}

var errorTable = []struct {
	err  error
	resp httpError
}{
	{auth.ErrInvalidPhone, httpError{http.StatusBadRequest, "請輸入有效的香港手機號碼"}},
	{auth.ErrInvalidCode, httpError{http.StatusBadRequest, "驗證碼錯誤，請重新輸入"}},
	{auth.ErrTooManyAttempts, httpError{http.StatusTooManyRequests, "嘗試次數過多，請重新獲取驗證碼"}},
	{auth.ErrCodeStillActive, httpError{http.StatusTooManyRequests, "驗證碼已發送，請查收短訊"}},
	{auth.ErrUserNotFound, httpError{http.StatusNotFound, "用戶不存在"}},

	{quote.ErrRequestNotFound, httpError{http.StatusNotFound, "搬運需求不存在"}},
	{quote.ErrQuoteNotFound, httpError{http.StatusNotFound, "報價不存在"}},
	{quote.ErrNotOwner, httpError{http.StatusForbidden, "無權執行此操作"}},
	{quote.ErrRequestClosed, httpError{http.StatusConflict, "此需求已結束，無法操作"}},
	{quote.ErrQuoteExpired, httpError{http.StatusConflict, "報價已過期"}},
	{quote.ErrQuoteNotAcceptable, httpError{http.StatusConflict, "此報價無法接受"}},
	{quote.ErrAcceptConflict, httpError{http.StatusConflict, "已接受其他報價"}},
	{quote.ErrPartnerInactive, httpError{http.StatusForbidden, "合作夥伴帳戶未啟用"}},
	{quote.ErrInvalidPricing, httpError{http.StatusBadRequest, "報價金額無效"}},

	{partner.ErrNotFound, httpError{http.StatusNotFound, "合作夥伴不存在"}},
	{partner.ErrInvalidRating, httpError{http.StatusBadRequest, "評分必須介乎1至5"}},
	{partner.ErrDuplicateReview, httpError{http.StatusConflict, "此訂單已評價"}},
	{partner.ErrNotActive, httpError{http.StatusForbidden, "合作夥伴帳戶未啟用"}},

	{order.ErrOrderNotFound, httpError{http.StatusNotFound, "訂單不存在"}},
	{order.ErrOrderExists, httpError{http.StatusConflict, "此報價已建立訂單"}},
	{order.ErrNotOwner, httpError{http.StatusForbidden, "無權執行此操作"}},
	{order.ErrNotParticipant, httpError{http.StatusForbidden, "無權執行此操作"}},
	{order.ErrOrderClosed, httpError{http.StatusConflict, "訂單已結束，無法操作"}},
	{order.ErrInvalidTransition, httpError{http.StatusBadRequest, "訂單狀態無法變更"}},
	{order.ErrQuoteNotAccepted, httpError{http.StatusConflict, "報價尚未被接受"}},
	{order.ErrDoublePayment, httpError{http.StatusConflict, "請勿重複付款"}},
	{order.ErrPaymentState, httpError{http.StatusConflict, "付款狀態不允許此操作"}},
	{order.ErrRefundTooLarge, httpError{http.StatusBadRequest, "退款金額超過原付款"}},
	{order.ErrPaymentNotFound, httpError{http.StatusNotFound, "付款紀錄不存在"}},
	{order.ErrNothingToSettle, httpError{http.StatusNotFound, "沒有可結算的訂單"}},

	{referral.ErrSelfReferral, httpError{http.StatusBadRequest, "不能使用自己的推薦碼"}},
	{referral.ErrAlreadyReferred, httpError{http.StatusConflict, "此帳戶已使用過推薦碼"}},
	{referral.ErrCodeNotFound, httpError{http.StatusNotFound, "推薦碼不存在"}},
	{referral.ErrRelationshipNotFound, httpError{http.StatusNotFound, "沒有推薦紀錄"}},

	{storage.ErrUnsupportedType, httpError{http.StatusBadRequest, "只接受 JPEG、PNG、GIF 或 WebP 圖片"}},
	{storage.ErrTooLarge, httpError{http.StatusBadRequest, "檔案不可超過5MB"}},
	{storage.ErrEmptyFile, httpError{http.StatusBadRequest, "檔案是空的"}},
	{storage.ErrObjectNotFound, httpError{http.StatusNotFound, "檔案不存在"}},
}

const (
	msgUnauthorized = "請先登入"
	msgForbidden    = "無權執行此操作"
	msgBadRequest   = "請求格式錯誤"
	msgInternal     = "系統錯誤，請稍後再試"
)

// classify maps a service error to its HTTP status and user message.
// Unrecognized errors collapse to a generic 500 so internals never leak.
func classify(err error) httpError {
	for _, entry := range errorTable {
		if errors.Is(err, entry.err) {
			return entry.resp
		}
	}
	return httpError{http.StatusInternalServerError, msgInternal}
}
