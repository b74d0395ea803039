package model

import (
	"time"

	"gorm.io/datatypes"
)

// CertificateRecord is a stored academic certificate.
// It is created before minting with StatusIssued and later moved to
// StatusMinted together with the transaction hash. Records are never deleted,
// revocation only changes the status.
type CertificateRecord struct {
	// ID is generated by the issuer before anything is uploaded and doubles as
	// the idempotency key of the issuance
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	StudentName string `json:"student_name"`
	Institution string `json:"institution"`
	// Recipient is the lower-case wallet the token is minted to; it can be
	// empty until the mint step has been reached
	Recipient string    `gorm:"index;size:42" json:"recipient"`
	IssuedAt  time.Time `json:"issued_at"`

	ImageURL    *string        `json:"image_url,omitempty"`
	MetadataURL *string        `json:"metadata_url,omitempty"`
	Metadata    datatypes.JSON `json:"metadata,omitempty"`

	TxHash  *string `gorm:"uniqueIndex;size:66" json:"tx_hash,omitempty"`
	TokenID *string `json:"token_id,omitempty"`
	// PendingTxHash is the signed mint transaction of a record that is not
	// minted yet. While it is set no other mint may be sent.
	PendingTxHash *string `gorm:"size:66" json:"pending_tx_hash,omitempty"`

	Status    CertificateStatus `gorm:"type:varchar(16);index" json:"status"`
	CreatedBy string            `gorm:"index;size:42" json:"created_by"`
}

// TableName implements gorm's tabler interface
func (CertificateRecord) TableName() string {
	return "certificates"
}

// PublicCertificate holds the fields of a CertificateRecord that are shown on
// the public verification page
type PublicCertificate struct {
	ID          string            `json:"id"`
	StudentName string            `json:"student_name"`
	Institution string            `json:"institution"`
	Recipient   string            `json:"recipient,omitempty"`
	IssuedAt    time.Time         `json:"issued_at"`
	ImageURL    string            `json:"image_url,omitempty"`
	MetadataURL string            `json:"metadata_url,omitempty"`
	TxHash      string            `json:"tx_hash,omitempty"`
	TokenID     string            `json:"token_id,omitempty"`
	Status      CertificateStatus `json:"status"`
}

// Public returns the public view of the record
func (c CertificateRecord) Public() PublicCertificate {
	return PublicCertificate{
		ID:          c.ID,
		StudentName: c.StudentName,
		Institution: c.Institution,
		Recipient:   c.Recipient,
		IssuedAt:    c.IssuedAt,
		ImageURL:    derefString(c.ImageURL),
		MetadataURL: derefString(c.MetadataURL),
		TxHash:      derefString(c.TxHash),
		TokenID:     derefString(c.TokenID),
		Status:      c.Status,
	}
}

// CertificatesStore abstracts access to stored certificates.
// Address parameters are matched case-insensitively.
type CertificatesStore interface {
	// Create stores a new record; fails with AlreadyExistsError on a duplicate id
	Create(rec *CertificateRecord) error
	// Get returns a record by id or a NotFoundError
	Get(id string) (*CertificateRecord, error)
	// ListByRecipient returns the certificates of a wallet, newest first
	ListByRecipient(address string) ([]CertificateRecord, error)
	// ListByCreator returns the certificates issued by a wallet, newest first
	ListByCreator(address string) ([]CertificateRecord, error)
	// ListByStatus returns all certificates in a status, oldest first
	ListByStatus(status CertificateStatus) ([]CertificateRecord, error)
	// ReserveMint stores the recipient and the hash of a signed mint
	// transaction before it is sent. It fails with a ConflictError unless the
	// record is issued and has no pending transaction.
	ReserveMint(id, recipient, txHash string) error
	// ClearPendingTx removes the pending transaction txHash, it is a no-op if
	// another or no transaction is pending
	ClearPendingTx(id, txHash string) error
	// MarkMinted sets the transaction hash, token id and StatusMinted in one
	// write and clears the pending transaction. Marking an already minted
	// record with the same hash is a no-op, a different hash is a
	// ConflictError.
	MarkMinted(id, txHash, tokenID string) (*CertificateRecord, error)
	// Revoke moves a certificate to StatusRevoked
	Revoke(id string) (*CertificateRecord, error)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
