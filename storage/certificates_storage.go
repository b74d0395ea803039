package storage

import (
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/certifychain/certifychain/storage/model"
)

// CertificatesStorage implements model.CertificatesStore using GORM
type CertificatesStorage struct {
	db *gorm.DB
}

// Create stores a new certificate record
func (s *CertificatesStorage) Create(rec *model.CertificateRecord) error {
	if rec.ID == "" {
		return errors.New("certificate id is required")
	}
	var existing int64
	if err := s.db.Model(&model.CertificateRecord{}).Where("id = ?", rec.ID).Count(&existing).Error; err != nil {
		return err
	}
	if existing > 0 {
		return model.AlreadyExistsErrorFmt("certificate already exists: %s", rec.ID)
	}
	rec.Recipient = model.NormalizeAddress(rec.Recipient)
	rec.CreatedBy = model.NormalizeAddress(rec.CreatedBy)
	return errors.WithStack(s.db.Create(rec).Error)
}

// Get returns a certificate by id
func (s *CertificatesStorage) Get(id string) (*model.CertificateRecord, error) {
	var rec model.CertificateRecord
	if err := s.db.Where("id = ?", id).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.NotFoundErrorFmt("certificate not found: %s", id)
		}
		return nil, errors.WithStack(err)
	}
	return &rec, nil
}

// ListByRecipient returns the certificates minted or to be minted to address
func (s *CertificatesStorage) ListByRecipient(address string) ([]model.CertificateRecord, error) {
	var recs []model.CertificateRecord
	err := whereAddress(s.db, "recipient", address).Order("created_at desc").Find(&recs).Error
	return recs, errors.WithStack(err)
}

// ListByCreator returns the certificates issued by address
func (s *CertificatesStorage) ListByCreator(address string) ([]model.CertificateRecord, error) {
	var recs []model.CertificateRecord
	err := whereAddress(s.db, "created_by", address).Order("created_at desc").Find(&recs).Error
	return recs, errors.WithStack(err)
}

// ListByStatus returns the certificates in the passed status
func (s *CertificatesStorage) ListByStatus(status model.CertificateStatus) ([]model.CertificateRecord, error) {
	var recs []model.CertificateRecord
	err := s.db.Where("status = ?", status).Order("created_at asc").Find(&recs).Error
	return recs, errors.WithStack(err)
}

// ReserveMint claims the mint of an issued certificate for txHash. The
// conditional update lets only one of concurrent callers succeed.
func (s *CertificatesStorage) ReserveMint(id, recipient, txHash string) error {
	if txHash == "" {
		return errors.New("transaction hash is required")
	}
	res := s.db.Model(&model.CertificateRecord{}).
		Where("id = ? AND status = ? AND pending_tx_hash IS NULL", id, model.StatusIssued).
		Updates(
			map[string]any{
				"recipient":       model.NormalizeAddress(recipient),
				"pending_tx_hash": txHash,
			},
		)
	if res.Error != nil {
		return errors.WithStack(res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}
	rec, err := s.Get(id)
	if err != nil {
		return err
	}
	if rec.PendingTxHash != nil {
		return model.ConflictErrorFmt("certificate %s has the pending transaction %s", id, *rec.PendingTxHash)
	}
	return model.ConflictErrorFmt("certificate %s is %s", id, rec.Status)
}

// ClearPendingTx releases the mint reservation of txHash
func (s *CertificatesStorage) ClearPendingTx(id, txHash string) error {
	err := s.db.Model(&model.CertificateRecord{}).
		Where("id = ? AND pending_tx_hash = ?", id, txHash).
		Update("pending_tx_hash", nil).Error
	return errors.WithStack(err)
}

// MarkMinted attaches the mint transaction and flips the status to minted
func (s *CertificatesStorage) MarkMinted(id, txHash, tokenID string) (*model.CertificateRecord, error) {
	if txHash == "" {
		return nil, errors.New("transaction hash is required")
	}
	var out *model.CertificateRecord
	err := s.db.Transaction(
		func(tx *gorm.DB) error {
			rec, err := getForUpdate(tx, id)
			if err != nil {
				return err
			}
			switch rec.Status {
			case model.StatusMinted:
				if rec.TxHash != nil && *rec.TxHash == txHash {
					out = rec
					return nil
				}
				return model.ConflictErrorFmt("certificate %s is already minted in another transaction", id)
			case model.StatusRevoked:
				return model.ConflictErrorFmt("certificate %s is revoked", id)
			}
			rec.TxHash = &txHash
			if tokenID != "" {
				rec.TokenID = &tokenID
			}
			rec.PendingTxHash = nil
			rec.Status = model.StatusMinted
			if err = tx.Save(rec).Error; err != nil {
				return err
			}
			out = rec
			return nil
		},
	)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Revoke marks a certificate as revoked
func (s *CertificatesStorage) Revoke(id string) (*model.CertificateRecord, error) {
	var out *model.CertificateRecord
	err := s.db.Transaction(
		func(tx *gorm.DB) error {
			rec, err := getForUpdate(tx, id)
			if err != nil {
				return err
			}
			if rec.Status == model.StatusRevoked {
				out = rec
				return nil
			}
			rec.Status = model.StatusRevoked
			if err = tx.Save(rec).Error; err != nil {
				return err
			}
			out = rec
			return nil
		},
	)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func getForUpdate(tx *gorm.DB, id string) (*model.CertificateRecord, error) {
	var rec model.CertificateRecord
	if err := tx.Where("id = ?", id).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.NotFoundErrorFmt("certificate not found: %s", id)
		}
		return nil, err
	}
	return &rec, nil
}
