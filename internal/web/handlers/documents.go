package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/staffhub/staffhub/internal/database"
	"github.com/staffhub/staffhub/internal/notification"
	"github.com/staffhub/staffhub/internal/rpc"
	"github.com/staffhub/staffhub/internal/storage"
)

const (
	uploadURLTTL   = 15 * time.Minute
	downloadURLTTL = 5 * time.Minute
)

type ListDocumentsInput struct {
	UserID   *int64                    `json:"userId" validate:"omitempty,gt=0"`
	Category database.DocumentCategory `json:"category" validate:"omitempty,oneof=CONTRACT PAYSLIP IDENTITY CERTIFICATE OTHER"`
}

type RequestUploadInput struct {
	UserID      *int64                    `json:"userId" validate:"omitempty,gt=0"`
	Name        string                    `json:"name" validate:"required,max=255"`
	ContentType string                    `json:"contentType" validate:"required,max=127"`
	Category    database.DocumentCategory `json:"category" validate:"omitempty,oneof=CONTRACT PAYSLIP IDENTITY CERTIFICATE OTHER"`
}

type UploadTicket struct {
	Document  *database.Document `json:"document"`
	UploadURL string             `json:"uploadUrl"`
	Method    string             `json:"method"`
	Headers   map[string]string  `json:"headers"`
	ExpiresAt time.Time          `json:"expiresAt"`
}

type DocumentIDInput struct {
	ID string `json:"id" validate:"required,uuid"`
}

type DownloadURL struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (h *Handlers) registerDocuments(r *rpc.Router) {
	rpc.Query(r, "document.list", rpc.Authenticated, h.listDocuments)
	rpc.Mutation(r, "document.requestUpload", rpc.Authenticated, h.requestUpload)
	rpc.Mutation(r, "document.confirmUpload", rpc.Authenticated, h.confirmUpload)
	rpc.Query(r, "document.getDownloadUrl", rpc.Authenticated, h.getDownloadURL)
	rpc.Mutation(r, "document.delete", rpc.Authenticated, h.deleteDocument)
}

// storageError turns object store failures into client errors where the
// client can act on them
func storageError(err error) error {
	switch {
	case errors.Is(err, storage.ErrDisabled):
		return rpc.BadRequest("document storage is not configured")
	case errors.Is(err, storage.ErrNotFound):
		return rpc.BadRequest("the file has not been uploaded")
	}
	return fmt.Errorf("object storage: %w", err)
}

// documentOwner resolves whose documents the caller is acting on
func (h *Handlers) documentOwner(ctx context.Context, actor *database.User, userID *int64) (int64, error) {
	if userID == nil || *userID == actor.ID {
		return actor.ID, nil
	}
	allowed, err := h.canView(ctx, actor, *userID)
	if err != nil {
		return 0, err
	}
	if !allowed {
		return 0, rpc.Forbidden("you cannot access this user's documents")
	}
	if _, err := h.loadUser(ctx, *userID); err != nil {
		return 0, err
	}
	return *userID, nil
}

// visibleDocument loads a document the caller may see. Others' documents are
// reported as missing.
func (h *Handlers) visibleDocument(ctx context.Context, actor *database.User, id string) (*database.Document, error) {
	d, err := h.db.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, rpc.NotFound("document")
	}
	visible, err := h.canView(ctx, actor, d.OwnerID)
	if err != nil {
		return nil, err
	}
	if !visible && (d.UploadedBy == nil || *d.UploadedBy != actor.ID) {
		return nil, rpc.NotFound("document")
	}
	return d, nil
}

func (h *Handlers) listDocuments(ctx context.Context, in ListDocumentsInput) ([]*database.Document, error) {
	user := rpc.MustUser(ctx)
	ownerID, err := h.documentOwner(ctx, user, in.UserID)
	if err != nil {
		return nil, err
	}
	return h.db.ListDocuments(ctx, ownerID, in.Category, false)
}

func (h *Handlers) requestUpload(ctx context.Context, in RequestUploadInput) (*UploadTicket, error) {
	user := rpc.MustUser(ctx)
	ownerID, err := h.documentOwner(ctx, user, in.UserID)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	key := storage.ObjectKey(ownerID, id, in.Name)
	uploadURL, err := h.store.PresignPut(ctx, key, in.ContentType, uploadURLTTL)
	if err != nil {
		return nil, storageError(err)
	}

	d := &database.Document{
		ID:          id,
		OwnerID:     ownerID,
		UploadedBy:  &user.ID,
		Name:        storage.SanitizeFilename(in.Name),
		ContentType: in.ContentType,
		Category:    in.Category,
		ObjectKey:   key,
	}
	if err := h.db.CreateDocument(ctx, d); err != nil {
		return nil, err
	}

	log.Debug().Str("document_id", id).Int64("owner_id", ownerID).Msg("Document upload requested")
	return &UploadTicket{
		Document:  d,
		UploadURL: uploadURL,
		Method:    "PUT",
		Headers:   map[string]string{"Content-Type": in.ContentType},
		ExpiresAt: h.now().Add(uploadURLTTL).UTC(),
	}, nil
}

// confirmUpload checks the object landed in the bucket and publishes the
// document. Confirming twice is harmless.
func (h *Handlers) confirmUpload(ctx context.Context, in DocumentIDInput) (*database.Document, error) {
	user := rpc.MustUser(ctx)
	d, err := h.visibleDocument(ctx, user, in.ID)
	if err != nil {
		return nil, err
	}
	if d.Status == database.DocumentAvailable {
		return d, nil
	}
	if d.UploadedBy == nil || *d.UploadedBy != user.ID {
		return nil, rpc.Forbidden("only the uploader can confirm this upload")
	}

	info, err := h.store.Head(ctx, d.ObjectKey)
	if err != nil {
		return nil, storageError(err)
	}
	if err := h.db.MarkDocumentAvailable(ctx, d.ID, info.Size); err != nil {
		return nil, err
	}

	if d.OwnerID != user.ID {
		h.notify(ctx, notification.Event{
			Type:    notification.EventDocumentUploaded,
			Title:   "New document",
			Message: fmt.Sprintf("%s uploaded %s to your documents", user.Name, d.Name),
			Link:    "/documents",
		}, d.OwnerID)
	}

	log.Info().Str("document_id", d.ID).Int64("size", info.Size).Msg("Document uploaded")
	return h.db.GetDocument(ctx, d.ID)
}

func (h *Handlers) getDownloadURL(ctx context.Context, in DocumentIDInput) (*DownloadURL, error) {
	d, err := h.visibleDocument(ctx, rpc.MustUser(ctx), in.ID)
	if err != nil {
		return nil, err
	}
	if d.Status != database.DocumentAvailable {
		return nil, rpc.Conflict("document upload has not been confirmed")
	}
	u, err := h.store.PresignGet(ctx, d.ObjectKey, d.Name, downloadURLTTL)
	if err != nil {
		return nil, storageError(err)
	}
	return &DownloadURL{URL: u, ExpiresAt: h.now().Add(downloadURLTTL).UTC()}, nil
}

func (h *Handlers) deleteDocument(ctx context.Context, in DocumentIDInput) (OK, error) {
	user := rpc.MustUser(ctx)
	d, err := h.visibleDocument(ctx, user, in.ID)
	if err != nil {
		return OK{}, err
	}
	uploader := d.UploadedBy != nil && *d.UploadedBy == user.ID
	if !uploader && user.Role != database.RoleAdmin {
		return OK{}, rpc.Forbidden("only the uploader or an admin can delete this document")
	}

	if err := h.store.Delete(ctx, d.ObjectKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return OK{}, storageError(err)
	}
	if err := h.db.DeleteDocument(ctx, d.ID); err != nil {
		return OK{}, err
	}
	log.Info().Str("document_id", d.ID).Int64("user_id", user.ID).Msg("Document deleted")
	return ok, nil
}
