// Package issuance drives a certificate from its image through the metadata
// upload and the stored record up to the confirmed mint.
package issuance

import (
	"context"
	"encoding/json"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/TwiN/gocache/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/certifychain/certifychain/chain"
	"github.com/certifychain/certifychain/composer"
	"github.com/certifychain/certifychain/pinning"
	"github.com/certifychain/certifychain/storage/model"
)

// ImageComposer renders certificate images
type ImageComposer interface {
	Compose(req composer.Request) ([]byte, error)
}

// MintGateway is the part of the token contract the workflow uses
type MintGateway interface {
	MintPrice(ctx context.Context) (*big.Int, error)
	SignMint(ctx context.Context, to common.Address, uri string, value *big.Int) (*types.Transaction, error)
	Send(ctx context.Context, tx *types.Transaction) error
	WaitMined(ctx context.Context, tx *types.Transaction) (*chain.MintReceipt, error)
	Receipt(ctx context.Context, txHash common.Hash) (*chain.MintReceipt, error)
	TokenURI(ctx context.Context, tokenID *big.Int) (string, error)
}

// Config configures a Workflow
type Config struct {
	// PublicBaseURL is the base of the verification links encoded in the QR code
	PublicBaseURL string
	// ExternalURL is the external_url of the metadata documents
	ExternalURL string
	// RunLifetime is how long an untouched run is kept in memory
	RunLifetime time.Duration
	// StepTimeout bounds each remote call of a step
	StepTimeout time.Duration
	// ConfirmTimeout bounds the wait for a transaction receipt
	ConfirmTimeout time.Duration
	// VerifyTokenURI makes finalize compare the token uri with the stored
	// metadata link
	VerifyTokenURI bool
}

var defaultConfig = Config{
	RunLifetime:    2 * time.Hour,
	StepTimeout:    time.Minute,
	ConfirmTimeout: 5 * time.Minute,
}

// Dependencies are the components the workflow orchestrates
type Dependencies struct {
	Composer     ImageComposer
	Pins         pinning.Gateway
	Certificates model.CertificatesStore
	Token        MintGateway
	// Wallet is watched for disconnects while a transaction is confirmed; it
	// may be nil
	Wallet  chain.Wallet
	Metrics *Metrics
}

// GenerateRequest is the user input of the first step
type GenerateRequest struct {
	StudentName string    `json:"student_name"`
	Institution string    `json:"institution"`
	IssuedAt    time.Time `json:"issued_at"`
}

type run struct {
	mu   sync.Mutex
	busy bool

	id        string
	createdBy string
	req       GenerateRequest
	step      Step
	failure   *Failure
	image     *pinning.Pin
	metadata  *pinning.Pin
	fields    *MetadataFields
	doc       []byte
	recipient string
	price     *big.Int
	txHash    string
	// pending is set while the sent transaction txHash is not known to have
	// failed or minted
	pending   bool
	tokenID   string
	updatedAt time.Time
}

// Workflow is the issuance state machine. Each run is strictly sequential,
// different runs are independent.
type Workflow struct {
	deps Dependencies
	conf Config
	runs *gocache.Cache

	// resuming serializes the lookup and resume of expired runs
	resuming sync.Mutex
}

// New creates a Workflow; zero durations in conf are replaced by defaults
func New(deps Dependencies, conf Config) (*Workflow, error) {
	if deps.Composer == nil || deps.Pins == nil || deps.Certificates == nil || deps.Token == nil {
		return nil, errors.New("composer, pinning gateway, certificate store and token are required")
	}
	if conf.RunLifetime <= 0 {
		conf.RunLifetime = defaultConfig.RunLifetime
	}
	if conf.StepTimeout <= 0 {
		conf.StepTimeout = defaultConfig.StepTimeout
	}
	if conf.ConfirmTimeout <= 0 {
		conf.ConfirmTimeout = defaultConfig.ConfirmTimeout
	}
	conf.PublicBaseURL = strings.TrimSuffix(conf.PublicBaseURL, "/")
	runs := gocache.NewCache().WithEvictionPolicy(gocache.LeastRecentlyUsed).WithMaxSize(gocache.NoMaxSize)
	if err := runs.StartJanitor(); err != nil {
		return nil, errors.WithStack(err)
	}
	return &Workflow{
		deps: deps,
		conf: conf,
		runs: runs,
	}, nil
}

// Close releases the resources of the workflow
func (w *Workflow) Close() {
	w.runs.StopJanitor()
}

// VerificationURL returns the public verification link of a certificate
func (w *Workflow) VerificationURL(id string) string {
	return w.conf.PublicBaseURL + "/" + id
}

func (w *Workflow) store(r *run) {
	w.runs.SetWithTTL(r.id, r, w.conf.RunLifetime)
	w.deps.Metrics.runs(w.runs.Count())
}

func (w *Workflow) lookup(id string) (*run, bool) {
	v, ok := w.runs.Get(id)
	if !ok {
		return nil, false
	}
	r, ok := v.(*run)
	return r, ok
}

// acquire marks r as busy; it fails if a step of r is already executing
func acquire(r *run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.busy {
		return ErrStepInProgress
	}
	r.busy = true
	return nil
}

func (w *Workflow) release(r *run) {
	r.mu.Lock()
	r.busy = false
	r.mu.Unlock()
	w.store(r)
}

func (r *run) update(f func(r *run)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f(r)
	r.updatedAt = time.Now()
}

func (w *Workflow) enter(r *run, s Step) {
	r.update(
		func(r *run) {
			r.step = s
			r.failure = nil
		},
	)
	w.deps.Metrics.transition(s)
	log.WithFields(
		log.Fields{
			"certificate_id": r.id,
			"step":           s.String(),
		},
	).Info(stepStatus[s])
}

// fail moves r to the error state at step s and returns err annotated with s
func (w *Workflow) fail(r *run, s Step, err error) error {
	r.update(
		func(r *run) {
			r.step = s
			r.failure = &Failure{
				Step:    s,
				Message: err.Error(),
			}
		},
	)
	w.deps.Metrics.failure(s)
	log.WithError(err).WithFields(
		log.Fields{
			"certificate_id": r.id,
			"step":           s.String(),
		},
	).Error("issuance step failed")
	return errors.WithMessagef(err, "%s", s)
}

func (r *run) snapshot() *Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &Snapshot{
		ID:          r.id,
		Step:        r.step,
		StudentName: r.req.StudentName,
		Institution: r.req.Institution,
		IssuedAt:    r.req.IssuedAt,
		CreatedBy:   r.createdBy,
		Recipient:   r.recipient,
		TxHash:      r.txHash,
		TokenID:     r.tokenID,
		UpdatedAt:   r.updatedAt,
		Status:      stepStatus[r.step],
	}
	if r.failure != nil {
		f := *r.failure
		s.Error = &f
		s.Status = "Error while " + strings.ReplaceAll(f.Step.String(), "_", " ") + ": " + f.Message
	}
	if r.image != nil {
		s.ImageURL = r.image.URL
	}
	if r.metadata != nil {
		s.MetadataURL = r.metadata.URL
	}
	if r.price != nil {
		s.MintPrice = r.price.String()
	}
	return s
}

// failedAt reports whether r is in the error state at one of steps
func (r *run) failedAt(steps ...Step) bool {
	if r.failure == nil {
		return false
	}
	for _, s := range steps {
		if r.failure.Step == s {
			return true
		}
	}
	return false
}

func (w *Workflow) stepContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, w.conf.StepTimeout)
}

// Get returns the current state of a run
func (w *Workflow) Get(id string) (*Snapshot, error) {
	r, ok := w.lookup(id)
	if !ok {
		return nil, ErrRunNotFound
	}
	return r.snapshot(), nil
}

// Start validates the request, renders the certificate and uploads the image.
// Empty names or institutions are rejected with ErrValidation before anything
// else happens. On success the run waits for the metadata input.
func (w *Workflow) Start(ctx context.Context, createdBy string, req GenerateRequest) (*Snapshot, error) {
	req.StudentName = strings.TrimSpace(req.StudentName)
	req.Institution = strings.TrimSpace(req.Institution)
	if req.StudentName == "" {
		return nil, validationError("student name is required")
	}
	if req.Institution == "" {
		return nil, validationError("institution is required")
	}
	if req.IssuedAt.IsZero() {
		req.IssuedAt = time.Now()
	}
	r := &run{
		id:        uuid.NewString(),
		createdBy: model.NormalizeAddress(createdBy),
		req:       req,
		step:      StepIdle,
		busy:      true,
		updatedAt: time.Now(),
	}
	w.store(r)
	defer w.release(r)
	err := w.produceImage(ctx, r)
	return r.snapshot(), err
}

// RetryImage repeats the image steps of a run that failed in one of them
func (w *Workflow) RetryImage(ctx context.Context, id string) (*Snapshot, error) {
	r, ok := w.lookup(id)
	if !ok {
		return nil, ErrRunNotFound
	}
	if err := acquire(r); err != nil {
		return nil, err
	}
	defer w.release(r)
	if !r.failedAt(StepComposingImage, StepUploadingImage) {
		return r.snapshot(), wrongStep(r.step, "regenerate the image")
	}
	err := w.produceImage(ctx, r)
	return r.snapshot(), err
}

func (w *Workflow) produceImage(ctx context.Context, r *run) error {
	w.enter(r, StepComposingImage)
	jpeg, err := w.deps.Composer.Compose(
		composer.Request{
			StudentName: r.req.StudentName,
			Institution: r.req.Institution,
			IssuedAt:    r.req.IssuedAt,
			QRPayload:   w.VerificationURL(r.id),
		},
	)
	if err != nil {
		return w.fail(r, StepComposingImage, err)
	}

	w.enter(r, StepUploadingImage)
	sctx, cancel := w.stepContext(ctx)
	defer cancel()
	pin, err := w.deps.Pins.UploadImage(sctx, jpeg, imageFilename(r.req.StudentName))
	if err != nil {
		return w.fail(r, StepUploadingImage, err)
	}
	r.update(func(r *run) { r.image = &pin })
	w.enter(r, StepAwaitingMetadataInput)
	return nil
}

// SubmitMetadata uploads the metadata document and stores the certificate
// record with status issued. A failed upload leaves no record behind and
// keeps the image link, so the step can be repeated.
func (w *Workflow) SubmitMetadata(ctx context.Context, id string, fields MetadataFields) (*Snapshot, error) {
	r, ok := w.lookup(id)
	if !ok {
		return nil, ErrRunNotFound
	}
	if err := acquire(r); err != nil {
		return nil, err
	}
	defer w.release(r)
	if r.step != StepAwaitingMetadataInput && !r.failedAt(StepUploadingMetadata, StepPersistingRecord) {
		return r.snapshot(), wrongStep(r.step, "submit metadata")
	}
	fields.Name = strings.TrimSpace(fields.Name)
	if err := fields.validate(); err != nil {
		return r.snapshot(), err
	}

	if r.metadata == nil || r.fields == nil || *r.fields != fields {
		w.enter(r, StepUploadingMetadata)
		doc := buildMetadata(fields, r.image.URL, w.conf.ExternalURL)
		data, err := json.Marshal(doc)
		if err != nil {
			return r.snapshot(), w.fail(r, StepUploadingMetadata, err)
		}
		sctx, cancel := w.stepContext(ctx)
		pin, err := w.deps.Pins.UploadJSON(sctx, doc, "certificate-"+r.id+".json")
		cancel()
		if err != nil {
			return r.snapshot(), w.fail(r, StepUploadingMetadata, err)
		}
		r.update(
			func(r *run) {
				r.metadata = &pin
				r.fields = &fields
				r.doc = data
			},
		)
	}

	w.enter(r, StepPersistingRecord)
	imageURL, metadataURL := r.image.URL, r.metadata.URL
	err := w.deps.Certificates.Create(
		&model.CertificateRecord{
			ID:          r.id,
			StudentName: r.req.StudentName,
			Institution: r.req.Institution,
			IssuedAt:    r.req.IssuedAt,
			ImageURL:    &imageURL,
			MetadataURL: &metadataURL,
			Metadata:    datatypes.JSON(r.doc),
			Status:      model.StatusIssued,
			CreatedBy:   r.createdBy,
		},
	)
	var exists model.AlreadyExistsError
	if err != nil && !errors.As(err, &exists) {
		return r.snapshot(), w.fail(r, StepPersistingRecord, err)
	}
	w.enter(r, StepAwaitingMintInput)
	return r.snapshot(), nil
}

// mintRun returns the run of id, resuming it from the stored record if it
// expired
func (w *Workflow) mintRun(id string) (*run, error) {
	w.resuming.Lock()
	defer w.resuming.Unlock()
	if r, ok := w.lookup(id); ok {
		return r, nil
	}
	return w.resume(id)
}

// resume rebuilds a run waiting for the mint input from a stored record
func (w *Workflow) resume(id string) (*run, error) {
	rec, err := w.deps.Certificates.Get(id)
	if err != nil {
		var notFound model.NotFoundError
		if errors.As(err, &notFound) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	if rec.Status != model.StatusIssued || rec.MetadataURL == nil {
		return nil, errors.Wrapf(ErrWrongStep, "certificate %s is %s", id, rec.Status)
	}
	if rec.PendingTxHash != nil {
		return nil, errors.Wrapf(ErrWrongStep, "transaction %s is pending, finalize it", *rec.PendingTxHash)
	}
	r := &run{
		id:        rec.ID,
		createdBy: rec.CreatedBy,
		req: GenerateRequest{
			StudentName: rec.StudentName,
			Institution: rec.Institution,
			IssuedAt:    rec.IssuedAt,
		},
		step:      StepAwaitingMintInput,
		metadata:  &pinning.Pin{URL: *rec.MetadataURL},
		doc:       rec.Metadata,
		recipient: rec.Recipient,
		updatedAt: time.Now(),
	}
	if rec.ImageURL != nil {
		r.image = &pinning.Pin{URL: *rec.ImageURL}
	}
	w.store(r)
	log.WithField("certificate_id", id).Info("resumed issuance from stored record")
	return r, nil
}

// Mint validates the recipient, pays the current mint price and waits for the
// confirmation before the transaction hash is stored. The signed transaction
// is reserved on the record before it is sent, so a certificate never has two
// mints in flight. Runs that expired are resumed from their stored record.
func (w *Workflow) Mint(ctx context.Context, id, recipient string) (*Snapshot, error) {
	r, err := w.mintRun(id)
	if err != nil {
		return nil, err
	}
	if err = acquire(r); err != nil {
		return nil, err
	}
	defer w.release(r)
	if r.pending {
		return r.snapshot(), errors.Wrapf(wrongStep(r.step, "mint again"), "transaction %s is pending, finalize it", r.txHash)
	}
	if r.step != StepAwaitingMintInput &&
		!r.failedAt(StepMinting, StepConfirmingTransaction, StepPersistingTxHash) {
		return r.snapshot(), wrongStep(r.step, "mint")
	}
	to, err := chain.ParseAddress(strings.TrimSpace(recipient))
	if err != nil {
		return r.snapshot(), validationError(err.Error())
	}

	w.enter(r, StepMinting)
	r.update(
		func(r *run) {
			r.recipient = model.NormalizeAddress(to.Hex())
			r.txHash = ""
		},
	)
	sctx, cancel := w.stepContext(ctx)
	defer cancel()
	price, err := w.deps.Token.MintPrice(sctx)
	if err != nil {
		return r.snapshot(), w.fail(r, StepMinting, err)
	}
	r.update(func(r *run) { r.price = price })
	tx, err := w.deps.Token.SignMint(sctx, to, r.metadata.URL, price)
	if err != nil {
		return r.snapshot(), w.fail(r, StepMinting, err)
	}
	txHash := tx.Hash().Hex()
	if err = w.deps.Certificates.ReserveMint(r.id, to.Hex(), txHash); err != nil {
		return r.snapshot(), w.fail(r, StepMinting, err)
	}
	if err = w.deps.Token.Send(sctx, tx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			// the node may have accepted it
			r.update(
				func(r *run) {
					r.txHash = txHash
					r.pending = true
				},
			)
			return r.snapshot(), w.fail(r, StepConfirmingTransaction, err)
		}
		if cerr := w.releaseMint(r.id, txHash); cerr != nil {
			r.update(
				func(r *run) {
					r.txHash = txHash
					r.pending = true
				},
			)
		}
		return r.snapshot(), w.fail(r, StepMinting, err)
	}
	r.update(
		func(r *run) {
			r.txHash = txHash
			r.pending = true
		},
	)

	w.enter(r, StepConfirmingTransaction)
	mint, err := w.confirm(ctx, tx)
	if err != nil {
		if withoutMint(err) && w.releaseMint(r.id, txHash) == nil {
			r.update(func(r *run) { r.pending = false })
		}
		return r.snapshot(), w.fail(r, StepConfirmingTransaction, err)
	}

	w.enter(r, StepPersistingTxHash)
	rec, err := w.deps.Certificates.Get(r.id)
	if err != nil {
		return r.snapshot(), w.fail(r, StepPersistingTxHash, err)
	}
	if _, err = w.markMinted(ctx, rec, mint); err != nil {
		return r.snapshot(), w.fail(r, StepPersistingTxHash, err)
	}
	r.update(
		func(r *run) {
			r.tokenID = mint.TokenID.String()
			r.pending = false
		},
	)
	w.enter(r, StepDone)
	return r.snapshot(), nil
}

// withoutMint reports whether err says a transaction was mined without
// minting, so it is safe to sign a new one
func withoutMint(err error) bool {
	return errors.Is(err, chain.ErrTransactionReverted) || errors.Is(err, chain.ErrNotMinted)
}

// releaseMint drops the reservation of txHash
func (w *Workflow) releaseMint(id, txHash string) error {
	if err := w.deps.Certificates.ClearPendingTx(id, txHash); err != nil {
		log.WithError(err).WithFields(
			log.Fields{
				"certificate_id": id,
				"tx_hash":        txHash,
			},
		).Error("could not clear pending mint transaction")
		return err
	}
	return nil
}

// confirm waits for tx; a wallet disconnect aborts the wait with
// chain.ErrWalletUnavailable
func (w *Workflow) confirm(ctx context.Context, tx *types.Transaction) (*chain.MintReceipt, error) {
	cctx, cancel := context.WithTimeout(ctx, w.conf.ConfirmTimeout)
	defer cancel()
	var disconnected <-chan struct{}
	if w.deps.Wallet != nil {
		disconnected = w.deps.Wallet.Disconnected()
		go func() {
			select {
			case <-disconnected:
				cancel()
			case <-cctx.Done():
			}
		}()
	}
	mint, err := w.deps.Token.WaitMined(cctx, tx)
	if err == nil {
		return mint, nil
	}
	if disconnected != nil {
		select {
		case <-disconnected:
			return nil, errors.Wrap(chain.ErrWalletUnavailable, "wallet disconnected while waiting for confirmation")
		default:
		}
	}
	return nil, err
}

// markMinted checks that mint belongs to rec and stores the transaction hash
func (w *Workflow) markMinted(ctx context.Context, rec *model.CertificateRecord, mint *chain.MintReceipt) (
	*model.CertificateRecord, error,
) {
	if rec.Recipient == "" || !strings.EqualFold(rec.Recipient, mint.Recipient.Hex()) {
		return nil, errors.Wrapf(
			ErrReceiptMismatch, "minted to %s, certificate recipient is '%s'", mint.Recipient.Hex(), rec.Recipient,
		)
	}
	if w.conf.VerifyTokenURI && rec.MetadataURL != nil {
		sctx, cancel := w.stepContext(ctx)
		uri, err := w.deps.Token.TokenURI(sctx, mint.TokenID)
		cancel()
		if err != nil {
			return nil, err
		}
		if uri != *rec.MetadataURL {
			return nil, errors.Wrapf(ErrReceiptMismatch, "token %s points to %s", mint.TokenID, uri)
		}
	}
	updated, err := w.deps.Certificates.MarkMinted(rec.ID, mint.TxHash.Hex(), mint.TokenID.String())
	if err != nil {
		return nil, err
	}
	w.deps.Metrics.mint()
	log.WithFields(
		log.Fields{
			"certificate_id": rec.ID,
			"tx_hash":        mint.TxHash.Hex(),
			"token_id":       mint.TokenID.String(),
		},
	).Info("certificate minted")
	return updated, nil
}

// Finalize marks a certificate as minted by txHash after verifying that the
// transaction succeeded and minted to the stored recipient. It can be repeated
// and is a no-op for a certificate already minted by the same transaction.
// Finalizing a pending transaction that reverted or that the node does not
// know releases the certificate for a new Mint.
func (w *Workflow) Finalize(ctx context.Context, id, txHash string) (*model.CertificateRecord, error) {
	w.deps.Metrics.finalize()
	raw, err := hexutil.Decode(strings.TrimSpace(txHash))
	if err != nil || len(raw) != common.HashLength {
		return nil, validationError("invalid transaction hash")
	}
	hash := common.BytesToHash(raw)

	rec, err := w.deps.Certificates.Get(id)
	if err != nil {
		return nil, err
	}
	switch rec.Status {
	case model.StatusMinted:
		if rec.TxHash != nil && strings.EqualFold(*rec.TxHash, hash.Hex()) {
			return rec, nil
		}
		return nil, model.ConflictErrorFmt("certificate %s is already minted in another transaction", id)
	case model.StatusRevoked:
		return nil, model.ConflictErrorFmt("certificate %s is revoked", id)
	}
	if rec.Recipient == "" {
		return nil, validationError("certificate has no recipient")
	}

	r, ok := w.lookup(id)
	if ok {
		if err = acquire(r); err != nil {
			return nil, err
		}
		defer w.release(r)
		w.enter(r, StepPersistingTxHash)
		r.update(func(r *run) { r.txHash = hash.Hex() })
	}
	cctx, cancel := context.WithTimeout(ctx, w.conf.ConfirmTimeout)
	defer cancel()
	mint, err := w.deps.Token.Receipt(cctx, hash)
	if err == nil {
		rec, err = w.markMinted(ctx, rec, mint)
	} else if rec.PendingTxHash != nil && strings.EqualFold(*rec.PendingTxHash, hash.Hex()) &&
		(withoutMint(err) || errors.Is(err, chain.ErrUnknownTransaction)) {
		// nothing was minted by the pending transaction, a new mint may be sent
		if w.releaseMint(id, *rec.PendingTxHash) == nil && r != nil {
			r.update(func(r *run) { r.pending = false })
		}
	}
	if err != nil {
		if r != nil {
			return nil, w.fail(r, StepPersistingTxHash, err)
		}
		return nil, err
	}
	if r != nil {
		r.update(
			func(r *run) {
				r.tokenID = mint.TokenID.String()
				r.pending = false
			},
		)
		w.enter(r, StepDone)
	}
	return rec, nil
}

// MintPrice returns the current mint price
func (w *Workflow) MintPrice(ctx context.Context) (*big.Int, error) {
	sctx, cancel := w.stepContext(ctx)
	defer cancel()
	return w.deps.Token.MintPrice(sctx)
}
