package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DocumentStatus tracks whether the object has reached the store
type DocumentStatus string

const (
	DocumentPending   DocumentStatus = "PENDING"
	DocumentAvailable DocumentStatus = "AVAILABLE"
)

// DocumentCategory classifies employee documents
type DocumentCategory string

const (
	CategoryContract    DocumentCategory = "CONTRACT"
	CategoryPayslip     DocumentCategory = "PAYSLIP"
	CategoryIdentity    DocumentCategory = "IDENTITY"
	CategoryCertificate DocumentCategory = "CERTIFICATE"
	CategoryOther       DocumentCategory = "OTHER"
)

// Document is metadata for an object held in the document store
type Document struct {
	ID             string           `json:"id"`
	OwnerID        int64            `json:"ownerId"`
	OwnerName      string           `json:"ownerName,omitempty"`
	UploadedBy     *int64           `json:"uploadedBy"`
	UploadedByName string           `json:"uploadedByName,omitempty"`
	Name           string           `json:"name"`
	ContentType    string           `json:"contentType"`
	Size           int64            `json:"size"`
	Category       DocumentCategory `json:"category"`
	ObjectKey      string           `json:"-"`
	Status         DocumentStatus   `json:"status"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

const documentSelect = `
	SELECT d.id, d.owner_id, o.name, d.uploaded_by, COALESCE(up.name, ''), d.name, d.content_type, d.size,
		d.category, d.object_key, d.status, d.created_at, d.updated_at
	FROM documents d
	JOIN users o ON o.id = d.owner_id
	LEFT JOIN users up ON up.id = d.uploaded_by
`

func scanDocument(row scanner) (*Document, error) {
	d := &Document{}
	var uploadedBy sql.NullInt64
	err := row.Scan(&d.ID, &d.OwnerID, &d.OwnerName, &uploadedBy, &d.UploadedByName, &d.Name, &d.ContentType,
		&d.Size, &d.Category, &d.ObjectKey, &d.Status, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.UploadedBy = nullInt64ToPtr(uploadedBy)
	return d, nil
}

// CreateDocument inserts a PENDING document row; the caller assigns ID and ObjectKey
func (db *DB) CreateDocument(ctx context.Context, d *Document) error {
	ts := now()
	d.Status = DocumentPending
	if d.Category == "" {
		d.Category = CategoryOther
	}
	_, err := db.exec(ctx, `
		INSERT INTO documents (id, owner_id, uploaded_by, name, content_type, size, category, object_key, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.OwnerID, int64PtrArg(d.UploadedBy), d.Name, d.ContentType, d.Size, d.Category, d.ObjectKey, d.Status, ts, ts)
	if err != nil {
		return mapConstraint(err, "create document")
	}
	d.CreatedAt = ts
	d.UpdatedAt = ts
	return nil
}

// GetDocument retrieves a document by ID. Returns nil, nil when not found.
func (db *DB) GetDocument(ctx context.Context, id string) (*Document, error) {
	d, err := scanDocument(db.queryRow(ctx, documentSelect+" WHERE d.id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return d, nil
}

// ListDocuments returns a user's documents, newest first. Pending uploads are
// included only when includePending is set.
func (db *DB) ListDocuments(ctx context.Context, ownerID int64, category DocumentCategory, includePending bool) ([]*Document, error) {
	q := documentSelect + " WHERE d.owner_id = ?"
	args := []any{ownerID}
	if category != "" {
		q += " AND d.category = ?"
		args = append(args, category)
	}
	if !includePending {
		q += " AND d.status = ?"
		args = append(args, DocumentAvailable)
	}
	q += " ORDER BY d.created_at DESC, d.id"

	rows, err := db.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	docs := []*Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// MarkDocumentAvailable records the stored size and flips the document to AVAILABLE
func (db *DB) MarkDocumentAvailable(ctx context.Context, id string, size int64) error {
	_, err := db.exec(ctx, `
		UPDATE documents SET status = ?, size = ?, updated_at = ? WHERE id = ?
	`, DocumentAvailable, size, now(), id)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	return nil
}

// DeleteDocument removes a document row
func (db *DB) DeleteDocument(ctx context.Context, id string) error {
	if _, err := db.exec(ctx, "DELETE FROM documents WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}
