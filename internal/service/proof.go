package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/ayo6706/saldo-exchange/internal/admintoken"
	"github.com/ayo6706/saldo-exchange/internal/domain"
	"github.com/ayo6706/saldo-exchange/internal/models"
	"github.com/ayo6706/saldo-exchange/internal/notify"
	"github.com/ayo6706/saldo-exchange/internal/proofstore"
	"github.com/ayo6706/saldo-exchange/internal/repository"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// DefaultProofMaxBytes caps uploads when no limit is configured.
const DefaultProofMaxBytes int64 = 5 << 20

const sniffLen = 3072

var allowedProofTypes = []string{"image/jpeg", "image/png", "image/webp", "application/pdf"}

// ProofService accepts proof-of-payment uploads for manual channel sell orders.
type ProofService struct {
	store    QueryStore
	files    proofstore.Store
	notifier notify.Notifier
	signer   *admintoken.Signer
	audit    *AuditService
	maxBytes int64
	now      func() time.Time
}

func NewProofService(store QueryStore, files proofstore.Store, notifier notify.Notifier, signer *admintoken.Signer, maxBytes int64) *ProofService {
	if notifier == nil {
		notifier = notify.Discard{}
	}
	if maxBytes <= 0 {
		maxBytes = DefaultProofMaxBytes
	}
	return &ProofService{
		store:    store,
		files:    files,
		notifier: notifier,
		signer:   signer,
		audit:    NewAuditService(store),
		maxBytes: maxBytes,
		now:      time.Now,
	}
}

// MaxBytes is the upload cap, exposed for the HTTP layer's body limit.
func (s *ProofService) MaxBytes() int64 { return s.maxBytes }

// UploadProof stores the file and moves the order pending_proof -> pending,
// which also takes it out of the expiry sweep.
func (s *ProofService) UploadProof(ctx context.Context, userID uuid.UUID, code string, file io.Reader) (*models.Order, error) {
	order, err := s.store.Queries().GetOrderByCode(ctx, code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	if !order.OwnedBy(userID) {
		return nil, ErrForbidden
	}
	if !domain.IsManualChannel(order.Channel) || order.Status != domain.StatusPendingProof {
		return nil, ErrProofNotAllowed
	}
	if order.ExpiresAt != nil && !s.now().Before(*order.ExpiresAt) {
		return nil, fmt.Errorf("%w: upload window has closed", ErrProofNotAllowed)
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read proof: %w", err)
	}
	head = head[:n]
	if n == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrUnsupportedFile)
	}
	mtype := mimetype.Detect(head)
	if !mimetype.EqualsAny(mtype.String(), allowedProofTypes...) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, mtype.String())
	}

	body := &capReader{r: io.MultiReader(bytes.NewReader(head), file), remaining: s.maxBytes}
	name, err := s.files.Save(ctx, order.Code, mtype.Extension(), body)
	if err != nil {
		if errors.Is(err, ErrFileTooLarge) {
			return nil, ErrFileTooLarge
		}
		return nil, fmt.Errorf("save proof: %w", err)
	}

	var updated *models.Order
	err = s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		rows, err := qtx.AttachProof(ctx, repository.AttachProofParams{ID: order.ID, Path: name, MIME: mtype.String()})
		if err != nil {
			return fmt.Errorf("attach proof: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("%w: order changed during upload", ErrProofNotAllowed)
		}
		actor := userID
		if err := s.audit.Write(ctx, qtx, entityOrder, order.ID, &actor, "order."+domain.SourceProof, order.Status.String(), domain.StatusPending.String(), map[string]any{
			"mime": mtype.String(),
			"file": name,
		}); err != nil {
			return err
		}
		updated, err = qtx.GetOrderByID(ctx, order.ID)
		return err
	})
	if err != nil {
		if rmErr := s.files.Remove(name); rmErr != nil {
			zap.L().Warn("remove orphaned proof", zap.String("file", name), zap.Error(rmErr))
		}
		return nil, err
	}

	zap.L().Info("proof uploaded", zap.String("order_code", updated.Code), zap.String("mime", mtype.String()))
	s.announce(ctx, updated, name, mtype.String())
	return updated, nil
}

func (s *ProofService) announce(ctx context.Context, o *models.Order, name, mime string) {
	admin := adminEvent(notify.KindProofUploaded, o)
	admin.PrevStatus = domain.StatusPendingProof
	if path, err := s.files.Path(name); err == nil {
		admin.Attachment = &notify.Attachment{Name: o.Code + "-proof" + filepath.Ext(name), MIME: mime, Path: path}
	}
	if s.signer != nil {
		links, err := s.signer.Links(o.Code)
		if err != nil {
			zap.L().Warn("issue admin links", zap.String("order_code", o.Code), zap.Error(err))
		} else {
			admin.Links = links
		}
	}
	customer := customerEvent(notify.KindProofUploaded, o, recipientFor(ctx, s.store.Queries(), o))
	customer.PrevStatus = domain.StatusPendingProof
	dispatch(ctx, s.notifier, admin, customer)
}

// capReader fails with ErrFileTooLarge once more than remaining bytes are read.
type capReader struct {
	r         io.Reader
	remaining int64
}

func (c *capReader) Read(p []byte) (int, error) {
	if c.remaining < 0 {
		return 0, ErrFileTooLarge
	}
	if int64(len(p)) > c.remaining+1 {
		p = p[:c.remaining+1]
	}
	n, err := c.r.Read(p)
	c.remaining -= int64(n)
	if c.remaining < 0 {
		return n, ErrFileTooLarge
	}
	return n, err
}
