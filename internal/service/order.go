package service

import (
	"context"
	"encoding/base32"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ayo6706/saldo-exchange/internal/admintoken"
	"github.com/ayo6706/saldo-exchange/internal/domain"
	"github.com/ayo6706/saldo-exchange/internal/gateway"
	"github.com/ayo6706/saldo-exchange/internal/models"
	"github.com/ayo6706/saldo-exchange/internal/notify"
	"github.com/ayo6706/saldo-exchange/internal/observability"
	"github.com/ayo6706/saldo-exchange/internal/rates"
	"github.com/ayo6706/saldo-exchange/internal/repository"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderSettings are the creation knobs taken from configuration.
type OrderSettings struct {
	MinOrderIDR     decimal.Decimal
	NetworkFeesIDR  map[string]decimal.Decimal
	DuplicateWindow time.Duration
	PaymentWindow   time.Duration
	ProofWindow     time.Duration
	GatewayTimeout  time.Duration
	// CallbackBaseURL receives gateway IPNs; empty disables callbacks.
	CallbackBaseURL string
}

// CreateOrderRequest is a validated order submission.
type CreateOrderRequest struct {
	UserID            uuid.UUID       `json:"-" validate:"required"`
	Channel           string          `json:"channel" validate:"required,oneof=cryptocurrency paypal skrill"`
	Direction         string          `json:"direction" validate:"required,oneof=buy sell"`
	Amount            decimal.Decimal `json:"amount"`
	CryptoSymbol      string          `json:"crypto_symbol" validate:"required_if=Channel cryptocurrency,omitempty,alphanum,max=16"`
	Network           string          `json:"network" validate:"required_if=Channel cryptocurrency,omitempty,alphanum,max=32"`
	WalletAddress     string          `json:"wallet_address" validate:"required_if=Channel cryptocurrency Direction buy,omitempty,printascii,min=8,max=128"`
	WalletTag         string          `json:"wallet_tag" validate:"omitempty,printascii,max=64"`
	ExternalEmail     string          `json:"external_email" validate:"omitempty,email,max=254"`
	BankName          string          `json:"bank_name" validate:"omitempty,max=100"`
	BankAccountNumber string          `json:"bank_account_number" validate:"omitempty,numeric,max=34"`
	BankAccountName   string          `json:"bank_account_name" validate:"omitempty,max=100"`
}

func (r *CreateOrderRequest) normalize() {
	r.Channel = strings.ToLower(strings.TrimSpace(r.Channel))
	r.Direction = strings.ToLower(strings.TrimSpace(r.Direction))
	r.CryptoSymbol = strings.ToLower(strings.TrimSpace(r.CryptoSymbol))
	r.Network = strings.ToLower(strings.TrimSpace(r.Network))
	r.WalletAddress = strings.TrimSpace(r.WalletAddress)
	r.WalletTag = strings.TrimSpace(r.WalletTag)
	r.ExternalEmail = strings.ToLower(strings.TrimSpace(r.ExternalEmail))
	if r.Channel != domain.ChannelCrypto {
		r.CryptoSymbol, r.Network, r.WalletAddress, r.WalletTag = "", "", "", ""
	}
}

// rateSymbol is the oracle key: the crypto symbol or the e-wallet channel.
func (r *CreateOrderRequest) rateSymbol() string {
	if r.Channel == domain.ChannelCrypto {
		return r.CryptoSymbol
	}
	return r.Channel
}

// OrderService creates orders and drives their first non-terminal steps.
type OrderService struct {
	store      QueryStore
	gateway    gateway.Gateway
	oracle     rates.Oracle
	settlement *SettlementService
	notifier   notify.Notifier
	signer     *admintoken.Signer
	audit      *AuditService
	validate   *validator.Validate
	settings   OrderSettings
	now        func() time.Time
	newCode    func(time.Time) string
	// linkRetryDelay is the backoff step between payout linkage attempts.
	linkRetryDelay time.Duration
}

func NewOrderService(store QueryStore, gw gateway.Gateway, oracle rates.Oracle, settlement *SettlementService, notifier notify.Notifier, signer *admintoken.Signer, settings OrderSettings) *OrderService {
	if notifier == nil {
		notifier = notify.Discard{}
	}
	if settings.GatewayTimeout <= 0 {
		settings.GatewayTimeout = 15 * time.Second
	}
	return &OrderService{
		store:          store,
		gateway:        gw,
		oracle:         oracle,
		settlement:     settlement,
		notifier:       notifier,
		signer:         signer,
		audit:          NewAuditService(store),
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		settings:       settings,
		now:            time.Now,
		newCode:        NewOrderCode,
		linkRetryDelay: 200 * time.Millisecond,
	}
}

const (
	codeSuffixLen      = 12
	maxCodeAttempts    = 3
	payoutLinkAttempts = 3
	// Postgres' default name for the UNIQUE on orders.order_code.
	orderCodeConstraint = "orders_order_code_key"
)

var codeEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewOrderCode returns a human readable order reference, EX-YYYYMMDD-<12 base32>.
// The suffix carries 60 random bits.
func NewOrderCode(now time.Time) string {
	id := uuid.New()
	suffix := codeEncoding.EncodeToString(id[:8])[:codeSuffixLen]
	return fmt.Sprintf("EX-%s-%s", now.UTC().Format("20060102"), suffix)
}

func isOrderCodeConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == orderCodeConstraint
}

// unusedCode picks a code no stored order carries. Crypto sells need it settled
// before the payment intent is opened, because the gateway echoes it back.
func (s *OrderService) unusedCode(ctx context.Context, now time.Time) (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code := s.newCode(now)
		_, err := s.store.Queries().GetOrderByCode(ctx, code)
		if errors.Is(err, pgx.ErrNoRows) {
			return code, nil
		}
		if err != nil {
			return "", fmt.Errorf("check order code: %w", err)
		}
	}
	return "", errors.New("no unused order code after retries")
}

func (s *OrderService) validateRequest(req *CreateOrderRequest) error {
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %s", ErrValidation, strings.ToLower(fe.Field()), fe.Tag())
		}
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if !req.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if req.Amount.Exponent() < -domain.CryptoScale {
		return fmt.Errorf("%w: amount has more than %d decimal places", ErrValidation, domain.CryptoScale)
	}
	if domain.IsManualChannel(req.Channel) && req.Direction == domain.DirectionBuy && req.ExternalEmail == "" {
		return fmt.Errorf("%w: external_email is required", ErrValidation)
	}
	if req.Channel == domain.ChannelCrypto && req.Direction == domain.DirectionBuy && gateway.NetworkRequiresTag(req.Network) && req.WalletTag == "" {
		return fmt.Errorf("%w: wallet_tag is required on %s", ErrValidation, req.Network)
	}
	return nil
}

// quote fills rate, IDR amount and network fee, and enforces the minimum.
func (s *OrderService) quote(ctx context.Context, req *CreateOrderRequest, o *models.Order) error {
	rate, err := s.oracle.Rate(ctx, req.rateSymbol())
	if err != nil {
		if errors.Is(err, rates.ErrUnknownSymbol) {
			return fmt.Errorf("%w: %s is not traded", ErrValidation, req.rateSymbol())
		}
		return fmt.Errorf("%w: %v", ErrRateUnavailable, err)
	}
	if !rate.IsPositive() {
		return fmt.Errorf("%w: no market price for %s", ErrRateUnavailable, req.rateSymbol())
	}

	minimum := domain.FromIDR(s.settings.MinOrderIDR, rate)
	if req.Channel == domain.ChannelCrypto {
		currency, err := gateway.CurrencyCode(req.CryptoSymbol, req.Network)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		gwMin, err := s.gateway.MinAmount(ctx, currency)
		if err != nil {
			return fmt.Errorf("gateway minimum for %s: %w", currency, err)
		}
		minimum = decimal.Max(minimum, gwMin)
	}
	if req.Amount.LessThan(minimum) {
		return fmt.Errorf("%w: minimum is %s", ErrBelowMinimum, minimum.String())
	}

	o.Rate = rate
	o.AmountIDR = domain.ToIDR(req.Amount, rate)
	o.NetworkFeeIDR = decimal.Zero
	if req.Channel == domain.ChannelCrypto && req.Direction == domain.DirectionBuy {
		o.NetworkFeeIDR = s.settings.NetworkFeesIDR[req.Network]
		o.AmountIDR = o.AmountIDR.Add(o.NetworkFeeIDR)
	}
	return nil
}

func submissionKey(req *CreateOrderRequest) string {
	return strings.Join([]string{req.UserID.String(), req.Channel, req.Direction, req.Amount.String()}, "|")
}

func (s *OrderService) recentDuplicate(ctx context.Context, q *repository.Queries, req *CreateOrderRequest) error {
	n, err := q.CountRecentOrders(ctx, repository.CountRecentOrdersParams{
		UserID:    req.UserID,
		Channel:   req.Channel,
		Direction: req.Direction,
		Amount:    req.Amount,
		Since:     s.now().Add(-s.settings.DuplicateWindow),
	})
	if err != nil {
		return fmt.Errorf("check duplicate order: %w", err)
	}
	if n > 0 {
		return ErrDuplicateOrder
	}
	return nil
}

func (s *OrderService) callbackURL(path string) string {
	if s.settings.CallbackBaseURL == "" {
		return ""
	}
	return strings.TrimRight(s.settings.CallbackBaseURL, "/") + path
}

// CreateOrder persists exactly one order or returns a typed rejection.
func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*models.Order, error) {
	req.normalize()
	if err := s.validateRequest(&req); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	order := &models.Order{
		ID:                uuid.New(),
		Code:              s.newCode(now),
		UserID:            uuid.NullUUID{UUID: req.UserID, Valid: true},
		Channel:           req.Channel,
		Direction:         req.Direction,
		CryptoSymbol:      req.CryptoSymbol,
		Network:           req.Network,
		AmountInput:       req.Amount,
		WalletAddress:     req.WalletAddress,
		WalletTag:         req.WalletTag,
		ExternalEmail:     req.ExternalEmail,
		BankName:          req.BankName,
		BankAccountNumber: req.BankAccountNumber,
		BankAccountName:   req.BankAccountName,
	}
	if err := s.quote(ctx, &req, order); err != nil {
		return nil, err
	}

	switch {
	case req.Direction == domain.DirectionBuy:
		order.Status = domain.StatusConfirmed
		order.PaidWithSaldo = true
	case req.Channel == domain.ChannelCrypto:
		order.Status = domain.StatusPending
		exp := now.Add(s.settings.PaymentWindow)
		order.ExpiresAt = &exp
	default:
		order.Status = domain.StatusPendingProof
		exp := now.Add(s.settings.ProofWindow)
		order.ExpiresAt = &exp
	}

	// The payment intent is created before the insert so the deposit address ships
	// with the order. Check duplicates first so double submits do not open intents.
	if req.Direction == domain.DirectionSell && req.Channel == domain.ChannelCrypto {
		if err := s.recentDuplicate(ctx, s.store.Queries(), &req); err != nil {
			return nil, err
		}
		code, err := s.unusedCode(ctx, now)
		if err != nil {
			return nil, err
		}
		order.Code = code
		if err := s.openPaymentIntent(ctx, order); err != nil {
			return nil, err
		}
	}

	// A code clash with another order is retried under a fresh code, unless the
	// gateway already holds this one.
	var created *models.Order
	var err error
	for attempt := 1; ; attempt++ {
		created, err = s.insertOrder(ctx, &req, order)
		if err == nil || !isOrderCodeConflict(err) || order.GatewayPaymentID != "" || attempt >= maxCodeAttempts {
			break
		}
		zap.L().Warn("order code collision, retrying", zap.String("order_code", order.Code), zap.Int("attempt", attempt))
		order.Code = s.newCode(now)
	}
	if err != nil {
		return nil, err
	}

	observability.IncrementOrderCreated(created.Channel, created.Direction)
	if created.PaidWithSaldo {
		observability.IncrementLedgerMutation(domain.EntryDebit)
	}
	zap.L().Info("order created",
		zap.String("order_code", created.Code),
		zap.String("channel", created.Channel),
		zap.String("direction", created.Direction),
		zap.String("status", created.Status.String()),
		zap.String("amount_idr", created.AmountIDR.String()))

	if created.Channel == domain.ChannelCrypto && created.Direction == domain.DirectionBuy {
		if err := s.requestPayout(ctx, created); err != nil {
			return nil, err
		}
	}

	s.announce(ctx, created)
	return created, nil
}

// insertOrder runs the creation transaction: duplicate guard, insert, saldo
// debit with its journal row, and the audit record.
func (s *OrderService) insertOrder(ctx context.Context, req *CreateOrderRequest, order *models.Order) (*models.Order, error) {
	var created *models.Order
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		if err := qtx.LockOrderSubmission(ctx, submissionKey(req)); err != nil {
			return err
		}
		if err := s.recentDuplicate(ctx, qtx, req); err != nil {
			return err
		}

		inserted, err := qtx.InsertOrder(ctx, order)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		if order.PaidWithSaldo {
			if _, err := qtx.DebitSaldo(ctx, req.UserID, order.AmountIDR); err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return ErrInsufficientFunds
				}
				return fmt.Errorf("debit saldo: %w", err)
			}
			rows, err := qtx.InsertSaldoEntry(ctx, repository.InsertSaldoEntryParams{
				UserID:  req.UserID,
				OrderID: order.ID,
				Kind:    domain.EntryDebit,
				Amount:  order.AmountIDR,
			})
			if err != nil {
				return fmt.Errorf("journal debit: %w", err)
			}
			if err := requireExactlyOne(rows, "journal debit"); err != nil {
				return err
			}
		}

		actor := req.UserID
		if err := s.audit.Write(ctx, qtx, entityOrder, order.ID, &actor, "order."+domain.SourceCreation, "", inserted.Status.String(), map[string]any{
			"channel":    order.Channel,
			"direction":  order.Direction,
			"amount":     order.AmountInput.String(),
			"amount_idr": order.AmountIDR.String(),
			"rate":       order.Rate.String(),
		}); err != nil {
			return err
		}
		created = inserted
		return nil
	})
	return created, err
}

func (s *OrderService) openPaymentIntent(ctx context.Context, order *models.Order) error {
	currency, err := gateway.CurrencyCode(order.CryptoSymbol, order.Network)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	gctx, cancel := context.WithTimeout(ctx, s.settings.GatewayTimeout)
	defer cancel()
	payment, err := s.gateway.CreatePayment(gctx, gateway.PaymentRequest{
		OrderCode:   order.Code,
		Currency:    currency,
		Amount:      order.AmountInput,
		CallbackURL: s.callbackURL("/v1/webhooks/gateway/payments"),
		Description: "Sell " + order.AmountInput.String() + " " + strings.ToUpper(order.CryptoSymbol),
	})
	if err != nil {
		return fmt.Errorf("create payment intent: %w", err)
	}
	order.GatewayPaymentID = payment.ID
	order.PayAddress = payment.PayAddress
	order.PaymentStatus = payment.Status
	return nil
}

// requestPayout sends the bought crypto. Any failure cancels the order and
// refunds the debit through the settlement path.
func (s *OrderService) requestPayout(ctx context.Context, order *models.Order) error {
	payout, err := s.sendPayout(ctx, order)
	if err != nil {
		zap.L().Warn("payout request failed, compensating",
			zap.String("order_code", order.Code),
			zap.Error(err))
		if gwErr := s.store.Queries().SetGatewayError(ctx, order.ID, truncate(err.Error(), 500)); gwErr != nil {
			zap.L().Error("record gateway error", zap.String("order_code", order.Code), zap.Error(gwErr))
		}
		res, cerr := s.settlement.ApplyTerminalTransition(context.WithoutCancel(ctx), repository.OrderRef{ID: order.ID},
			domain.Outcome{Kind: domain.OutcomeRejected, Reason: "payout_request_failed"}, domain.SourceCreation, nil)
		if cerr != nil {
			zap.L().Error("payout compensation failed", zap.String("order_code", order.Code), zap.Error(cerr))
			return fmt.Errorf("%w: compensation pending: %v", ErrPayoutFailed, cerr)
		}
		order.Status = res.Status
		return ErrPayoutFailed
	}

	if err := s.linkPayout(ctx, order, payout); err != nil {
		// The poller cannot see the order without a payout id. The payout IPN still
		// resolves it through unique_external_id, which carries the order code.
		zap.L().Error("payout sent but not recorded",
			zap.String("order_code", order.Code),
			zap.String("payout_id", payout.ID),
			zap.String("batch_id", payout.BatchID),
			zap.Error(err))
		return nil
	}
	order.GatewayPayoutID = payout.ID
	order.GatewayBatchID = payout.BatchID
	order.PayoutStatus = payout.Status
	order.Status = domain.StatusProcessing
	return nil
}

// linkPayout stores the payout ids and moves the order to processing, retrying
// a few times since the payout is already out.
func (s *OrderService) linkPayout(ctx context.Context, order *models.Order, payout *gateway.Payout) error {
	ctx = context.WithoutCancel(ctx)
	var err error
	for attempt := 1; attempt <= payoutLinkAttempts; attempt++ {
		if err = s.storePayoutLinkage(ctx, order, payout); err == nil {
			return nil
		}
		zap.L().Warn("store payout linkage failed",
			zap.String("order_code", order.Code),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt < payoutLinkAttempts {
			time.Sleep(time.Duration(attempt) * s.linkRetryDelay)
		}
	}
	return err
}

func (s *OrderService) storePayoutLinkage(ctx context.Context, order *models.Order, payout *gateway.Payout) error {
	return s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		rows, err := qtx.SetPayoutLinkage(ctx, repository.SetPayoutLinkageParams{
			ID:           order.ID,
			PayoutID:     payout.ID,
			BatchID:      payout.BatchID,
			PayoutStatus: payout.Status,
		})
		if err != nil {
			return fmt.Errorf("store payout linkage: %w", err)
		}
		if err := requireExactlyOne(rows, "store payout linkage"); err != nil {
			return err
		}
		_, err = advanceOrderState(ctx, qtx, s.audit, order.ID, domain.StatusProcessing, nil, "order.payout_requested", map[string]any{
			"payout_id": payout.ID,
			"batch_id":  payout.BatchID,
		})
		return err
	})
}

func (s *OrderService) sendPayout(ctx context.Context, order *models.Order) (*gateway.Payout, error) {
	if order.WalletAddress == "" {
		return nil, errors.New("missing wallet address")
	}
	currency, err := gateway.CurrencyCode(order.CryptoSymbol, order.Network)
	if err != nil {
		return nil, err
	}
	// Fee buffer uses the rate frozen on the order.
	amount := order.AmountInput.Add(domain.FromIDR(order.NetworkFeeIDR, order.Rate))

	gctx, cancel := context.WithTimeout(ctx, s.settings.GatewayTimeout)
	defer cancel()
	return s.gateway.CreatePayout(gctx, gateway.PayoutRequest{
		OrderCode:   order.Code,
		Address:     order.WalletAddress,
		ExtraID:     order.WalletTag,
		Currency:    currency,
		Amount:      amount,
		CallbackURL: s.callbackURL("/v1/webhooks/gateway/payouts"),
	})
}

func (s *OrderService) announce(ctx context.Context, o *models.Order) {
	recipient := recipientFor(ctx, s.store.Queries(), o)
	admin := adminEvent(notify.KindOrderCreated, o)
	// Manual buys are fulfilled by hand, so the admin gets the action links up front.
	if o.Direction == domain.DirectionBuy && domain.IsManualChannel(o.Channel) && s.signer != nil {
		links, err := s.signer.Links(o.Code)
		if err != nil {
			zap.L().Warn("issue admin links", zap.String("order_code", o.Code), zap.Error(err))
		} else {
			admin.Links = links
		}
	}
	dispatch(ctx, s.notifier, customerEvent(notify.KindOrderCreated, o, recipient), admin)
}

// GetOrder returns an order owned by userID.
func (s *OrderService) GetOrder(ctx context.Context, userID uuid.UUID, code string) (*models.Order, error) {
	o, err := s.store.Queries().GetOrderByCode(ctx, code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	if !o.OwnedBy(userID) {
		return nil, ErrForbidden
	}
	return o, nil
}

// GetSaldo returns the user's balance.
func (s *OrderService) GetSaldo(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	saldo, err := s.store.Queries().GetSaldo(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, models.ErrUserNotFound
		}
		return decimal.Zero, fmt.Errorf("get saldo: %w", err)
	}
	return saldo, nil
}

// truncate caps s at n bytes without splitting a rune. Invalid bytes from the
// gateway are replaced so the text column accepts the result.
func truncate(s string, n int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
