package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/ayo6706/saldo-exchange/internal/service"
	"github.com/go-chi/chi/v5"
)

// ProofField is the multipart field carrying the receipt.
const ProofField = "proof"

// multipartSlack covers boundaries and part headers around the file itself.
const multipartSlack = 64 << 10

type ProofHandler struct {
	proofs *service.ProofService
}

func NewProofHandler(proofs *service.ProofService) *ProofHandler {
	return &ProofHandler{proofs: proofs}
}

// UploadProof handles POST /v1/orders/{code}/proof. The part is streamed to
// the service, which sniffs and caps it.
func (h *ProofHandler) UploadProof(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.proofs.MaxBytes()+multipartSlack)
	mr, err := r.MultipartReader()
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-multipart", "request must be multipart/form-data")
		return
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			RespondError(w, r, http.StatusBadRequest, "proof/missing-file", "multipart field \"proof\" is required")
			return
		}
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				respondServiceError(w, r, service.ErrFileTooLarge, "", "")
				return
			}
			RespondError(w, r, http.StatusBadRequest, "request/invalid-multipart", "malformed multipart body")
			return
		}
		if part.FormName() != ProofField {
			_ = part.Close()
			continue
		}

		order, err := h.proofs.UploadProof(r.Context(), actorID, chi.URLParam(r, "code"), part)
		_ = part.Close()
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				err = service.ErrFileTooLarge
			}
			respondServiceError(w, r, err, "proof/upload-failed", "upload proof")
			return
		}
		RespondJSON(w, http.StatusOK, order)
		return
	}
}
