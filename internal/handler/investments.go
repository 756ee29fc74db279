package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/invest-ledger/internal/middleware"
	"github.com/mmeshcher/invest-ledger/internal/model"
	"github.com/mmeshcher/invest-ledger/internal/service"
	"github.com/mmeshcher/invest-ledger/internal/validation"
)

const maxVoucherSize = 10 << 20

type investmentRequest struct {
	PlanName             string          `json:"planName"`
	Investment           decimal.Decimal `json:"investment"`
	InterestRate         decimal.Decimal `json:"interestRate"`
	Duration             int             `json:"duration"`
	MinWithdrawalPercent decimal.Decimal `json:"minWithdrawalPercent"`
	VoucherURL           string          `json:"voucherUrl"`
}

type investmentResponse struct {
	ID                   string                 `json:"id"`
	UserID               string                 `json:"userId"`
	PlanName             string                 `json:"planName"`
	Investment           decimal.Decimal        `json:"investment"`
	InterestRate         decimal.Decimal        `json:"interestRate"`
	Duration             int                    `json:"duration"`
	MinWithdrawalPercent decimal.Decimal        `json:"minWithdrawalPercent"`
	Status               model.InvestmentStatus `json:"status"`
	Earnings             decimal.Decimal        `json:"earnings"`
	EarningsWithdrawn    decimal.Decimal        `json:"earningsWithdrawn"`
	ActivationDate       *string                `json:"activationDate,omitempty"`
	ExpirationDate       *string                `json:"expirationDate,omitempty"`
	BonusCredited        bool                   `json:"bonusCredited"`
	HasVoucher           bool                   `json:"hasVoucher"`
	CreatedAt            string                 `json:"createdAt"`
}

func newInvestmentResponse(inv *model.Investment) investmentResponse {
	return investmentResponse{
		ID:                   inv.ID,
		UserID:               inv.UserID,
		PlanName:             inv.PlanName,
		Investment:           inv.Investment,
		InterestRate:         inv.InterestRate,
		Duration:             inv.Duration,
		MinWithdrawalPercent: inv.MinWithdrawalPercent,
		Status:               inv.Status,
		Earnings:             inv.Earnings,
		EarningsWithdrawn:    inv.EarningsWithdrawn,
		ActivationDate:       formatTime(inv.ActivationDate),
		ExpirationDate:       formatTime(inv.ExpirationDate),
		BonusCredited:        inv.BonusCredited,
		HasVoucher:           inv.VoucherURL != "",
		CreatedAt:            inv.CreatedAt.Format(timeLayout),
	}
}

func isExternalURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", model.ErrValidation, fmt.Sprintf(format, args...))
}

// UploadInvestment создаёт заявку на инвестицию текущего пользователя.
// Принимает multipart-форму с файлом квитанции или JSON со ссылкой на неё.
func (h *Handler) UploadInvestment(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var (
		in  service.NewInvestment
		err error
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		in, err = h.investmentFromForm(w, r, userID)
	} else {
		in, err = investmentFromJSON(r)
	}
	if err != nil {
		h.writeError(w, err, "parse investment error", zap.String("userID", userID))
		return
	}
	in.UserID = userID

	inv, err := h.service.CreateInvestment(r.Context(), in)
	if err != nil {
		h.writeError(w, err, "create investment error", zap.String("userID", userID))
		return
	}

	h.writeJSON(w, http.StatusCreated, newInvestmentResponse(inv))
}

func investmentFromJSON(r *http.Request) (service.NewInvestment, error) {
	var req investmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return service.NewInvestment{}, validationError("malformed request body")
	}

	if !validation.IsValidAmount(req.Investment) {
		return service.NewInvestment{}, validationError("investment must be a positive amount")
	}
	if req.VoucherURL != "" && !isExternalURL(req.VoucherURL) {
		return service.NewInvestment{}, validationError("voucherUrl must be an http(s) URL")
	}

	return service.NewInvestment{
		PlanName:             req.PlanName,
		Investment:           req.Investment,
		InterestRate:         req.InterestRate,
		Duration:             req.Duration,
		MinWithdrawalPercent: req.MinWithdrawalPercent,
		VoucherURL:           req.VoucherURL,
	}, nil
}

func (h *Handler) investmentFromForm(w http.ResponseWriter, r *http.Request, userID string) (service.NewInvestment, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxVoucherSize+1<<20)
	if err := r.ParseMultipartForm(maxVoucherSize); err != nil {
		return service.NewInvestment{}, validationError("malformed multipart form")
	}

	amount, err := validation.ParseAmount(r.FormValue("investment"))
	if err != nil {
		return service.NewInvestment{}, validationError("investment must be a positive amount")
	}
	rate, err := decimalField(r, "interestRate")
	if err != nil {
		return service.NewInvestment{}, err
	}
	minPercent, err := decimalField(r, "minWithdrawalPercent")
	if err != nil {
		return service.NewInvestment{}, err
	}
	duration, err := strconv.Atoi(strings.TrimSpace(r.FormValue("duration")))
	if err != nil {
		return service.NewInvestment{}, validationError("duration must be a whole number of months")
	}

	in := service.NewInvestment{
		PlanName:             strings.TrimSpace(r.FormValue("planName")),
		Investment:           amount,
		InterestRate:         rate,
		Duration:             duration,
		MinWithdrawalPercent: minPercent,
	}

	file, header, err := r.FormFile("voucher")
	switch {
	case errors.Is(err, http.ErrMissingFile):
		in.VoucherURL = strings.TrimSpace(r.FormValue("voucherUrl"))
		if in.VoucherURL != "" && !isExternalURL(in.VoucherURL) {
			return service.NewInvestment{}, validationError("voucherUrl must be an http(s) URL")
		}
		return in, nil
	case err != nil:
		return service.NewInvestment{}, validationError("malformed voucher file")
	}
	defer file.Close()

	key, err := h.uploadVoucher(r, userID, file, header)
	if err != nil {
		return service.NewInvestment{}, err
	}
	in.VoucherURL = key
	return in, nil
}

func (h *Handler) uploadVoucher(r *http.Request, userID string, file multipart.File, header *multipart.FileHeader) (string, error) {
	if h.vouchers == nil {
		return "", fmt.Errorf("%w: voucher storage is not configured", model.ErrStoreUnavailable)
	}

	contentType := header.Header.Get("Content-Type")
	if !validation.IsAllowedVoucherType(contentType) {
		return "", validationError("voucher must be a JPEG, PNG or PDF file")
	}
	if header.Size > maxVoucherSize {
		return "", validationError("voucher exceeds %d bytes", maxVoucherSize)
	}

	key, err := h.vouchers.Upload(r.Context(), userID, header.Filename, contentType, file, header.Size)
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}

	h.logger.Info("voucher uploaded", zap.String("userID", userID), zap.String("key", key))
	return key, nil
}

func decimalField(r *http.Request, name string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(r.FormValue(name)))
	if err != nil {
		return decimal.Zero, validationError("%s must be a number", name)
	}
	return d, nil
}

// GetInvestments возвращает инвестиции текущего пользователя.
func (h *Handler) GetInvestments(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	investments, err := h.service.InvestmentsByUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, err, "get investments error", zap.String("userID", userID))
		return
	}

	if len(investments) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]investmentResponse, 0, len(investments))
	for i := range investments {
		resp = append(resp, newInvestmentResponse(&investments[i]))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// ApproveInvestment одобряет инвестицию. Если реферальный бонус не удалось
// начислить сразу, отвечает 202: бонус дозачислит фоновый процесс.
func (h *Handler) ApproveInvestment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	inv, err := h.service.Approve(r.Context(), id)
	if err != nil {
		if inv == nil {
			h.writeError(w, err, "approve investment error", zap.String("investmentID", id))
			return
		}
		h.logger.Warn("investment approved without referral bonus", zap.String("investmentID", id), zap.Error(err))
		h.writeJSON(w, http.StatusAccepted, newInvestmentResponse(inv))
		return
	}

	h.writeJSON(w, http.StatusOK, newInvestmentResponse(inv))
}

// RejectInvestment отклоняет инвестицию в ожидании.
func (h *Handler) RejectInvestment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	if err := h.service.Reject(r.Context(), id); err != nil {
		h.writeError(w, err, "reject investment error", zap.String("investmentID", id))
		return
	}

	w.WriteHeader(http.StatusOK)
}

type earningsResponse struct {
	InvestmentID string          `json:"investmentId"`
	Earnings     decimal.Decimal `json:"earnings"`
}

// RecomputeInvestment пересчитывает доходность одной инвестиции.
func (h *Handler) RecomputeInvestment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	earnings, err := h.service.RecomputeEarnings(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "recompute earnings error", zap.String("investmentID", id))
		return
	}

	h.writeJSON(w, http.StatusOK, earningsResponse{InvestmentID: id, Earnings: earnings})
}

type recomputeAllResponse struct {
	Updated int `json:"updated"`
}

// RecomputeAllEarnings пересчитывает доходность всех активных инвестиций.
func (h *Handler) RecomputeAllEarnings(w http.ResponseWriter, r *http.Request) {
	updated, err := h.service.RecomputeAllEarnings(r.Context())
	if err != nil {
		h.writeError(w, err, "recompute all earnings error")
		return
	}

	h.writeJSON(w, http.StatusOK, recomputeAllResponse{Updated: updated})
}

// GetVoucher перенаправляет на квитанцию инвестиции.
func (h *Handler) GetVoucher(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	inv, err := h.service.Investment(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "get investment error", zap.String("investmentID", id))
		return
	}

	if inv.VoucherURL == "" {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	if isExternalURL(inv.VoucherURL) {
		http.Redirect(w, r, inv.VoucherURL, http.StatusTemporaryRedirect)
		return
	}
	if h.vouchers == nil {
		h.writeError(w, fmt.Errorf("%w: voucher storage is not configured", model.ErrStoreUnavailable),
			"presign voucher error", zap.String("investmentID", id))
		return
	}

	link, err := h.vouchers.PresignURL(r.Context(), inv.VoucherURL)
	if err != nil {
		h.writeError(w, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err),
			"presign voucher error", zap.String("investmentID", id))
		return
	}

	http.Redirect(w, r, link, http.StatusTemporaryRedirect)
}
