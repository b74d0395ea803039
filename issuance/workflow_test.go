package issuance

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/certifychain/certifychain/chain"
	"github.com/certifychain/certifychain/storage/model"
)

const (
	director  = "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"
	recipient = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
)

type harness struct {
	wf      *Workflow
	comp    *fakeComposer
	pins    *fakePins
	certs   *memCertificates
	token   *fakeToken
	wallet  *chain.KeyWallet
	metrics *Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	h := &harness{
		comp:    &fakeComposer{},
		pins:    &fakePins{},
		certs:   newMemCertificates(),
		token:   newFakeToken(),
		wallet:  chain.NewKeyWallet(key, big.NewInt(50312), nil),
		metrics: &Metrics{},
	}
	h.metrics.Register(prometheus.NewRegistry())
	h.wf = h.workflow(t)
	return h
}

// workflow creates a workflow on the fakes of h; several workflows share the
// certificate store like replicas of the server
func (h *harness) workflow(t *testing.T) *Workflow {
	t.Helper()
	wf, err := New(
		Dependencies{
			Composer:     h.comp,
			Pins:         h.pins,
			Certificates: h.certs,
			Token:        h.token,
			Wallet:       h.wallet,
			Metrics:      h.metrics,
		}, Config{
			PublicBaseURL:  "https://certifychain.example/",
			ExternalURL:    "https://certifychain.example",
			StepTimeout:    time.Second,
			ConfirmTimeout: 5 * time.Second,
			VerifyTokenURI: true,
		},
	)
	require.NoError(t, err)
	return wf
}

var validRequest = GenerateRequest{
	StudentName: "Ada Lovelace",
	Institution: "Analytical Engine University",
}

var validFields = MetadataFields{
	Name:        "Diploma in Computing",
	Description: "Awarded for the first algorithm",
	Attributes: Attributes{
		Base:    "Mathematics",
		Content: "Bernoulli numbers",
	},
}

// toMintInput walks a new run up to the mint step
func (h *harness) toMintInput(t *testing.T) *Snapshot {
	t.Helper()
	snap, err := h.wf.Start(context.Background(), director, validRequest)
	require.NoError(t, err)
	snap, err = h.wf.SubmitMetadata(context.Background(), snap.ID, validFields)
	require.NoError(t, err)
	require.Equal(t, StepAwaitingMintInput, snap.Step)
	return snap
}

func TestStartRejectsEmptyFields(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t)
	defer h.wf.Close()

	for _, req := range []GenerateRequest{
		{StudentName: "", Institution: "Somewhere"},
		{StudentName: "Someone", Institution: "   "},
	} {
		snap, err := h.wf.Start(context.Background(), director, req)
		assert.ErrorIs(t, err, ErrValidation)
		assert.Nil(t, snap)
	}
	assert.Equal(t, 0, h.comp.calls)
	images, docs := h.pins.calls()
	assert.Zero(t, images)
	assert.Zero(t, docs)
	assert.Empty(t, h.certs.records)
}

func TestIssuanceHappyPath(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t)
	defer h.wf.Close()
	ctx := context.Background()

	snap, err := h.wf.Start(ctx, director, validRequest)
	require.NoError(t, err)
	assert.Equal(t, StepAwaitingMetadataInput, snap.Step)
	assert.NotEmpty(t, snap.ImageURL)
	assert.Contains(t, snap.ImageURL, "certificate-ada-lovelace.jpg")
	require.Len(t, h.comp.requests, 1)
	assert.Equal(t, "https://certifychain.example/"+snap.ID, h.comp.requests[0].QRPayload)

	snap, err = h.wf.SubmitMetadata(ctx, snap.ID, validFields)
	require.NoError(t, err)
	assert.Equal(t, StepAwaitingMintInput, snap.Step)

	doc := decodeDoc(h.pins.documents[0])
	assert.Equal(t, "Diploma in Computing", doc["name"])
	assert.Equal(t, "https://certifychain.example", doc["external_url"])
	assert.Equal(t, snap.ImageURL, doc["image"])
	assert.Equal(
		t, []any{
			map[string]any{"trait_type": "Base", "value": "Mathematics"},
			map[string]any{"trait_type": "Content", "value": "Bernoulli numbers"},
		}, doc["attributes"],
	)

	rec, err := h.certs.Get(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusIssued, rec.Status)
	assert.Nil(t, rec.TxHash)
	assert.Equal(t, model.NormalizeAddress(director), rec.CreatedBy)
	assert.Equal(t, snap.MetadataURL, *rec.MetadataURL)

	snap, err = h.wf.Mint(ctx, snap.ID, recipient)
	require.NoError(t, err)
	assert.Equal(t, StepDone, snap.Step)
	assert.Equal(t, h.token.price.String(), snap.MintPrice)
	require.Len(t, h.token.sent, 1)
	assert.Equal(t, 0, h.token.sent[0].Value().Cmp(h.token.price), "pays exactly the fetched price")

	rec, err = h.certs.Get(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusMinted, rec.Status)
	require.NotNil(t, rec.TxHash)
	assert.Equal(t, h.token.sent[0].Hash().Hex(), *rec.TxHash)
	assert.Equal(t, "1", *rec.TokenID)
	assert.Equal(t, model.NormalizeAddress(recipient), rec.Recipient)
	assert.Nil(t, rec.PendingTxHash)

	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.minted))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.transitions.WithLabelValues(StepDone.String())))
}

func TestMetadataFailureLeavesNoRecord(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t)
	defer h.wf.Close()
	ctx := context.Background()

	snap, err := h.wf.Start(ctx, director, validRequest)
	require.NoError(t, err)
	imageURL := snap.ImageURL

	h.pins.jsonErr = errors.New("pinata unavailable")
	snap, err = h.wf.SubmitMetadata(ctx, snap.ID, validFields)
	require.Error(t, err)
	require.True(t, snap.Failed())
	assert.Equal(t, StepUploadingMetadata, snap.Error.Step)
	assert.Contains(t, snap.Status, "pinata unavailable")
	assert.Equal(t, imageURL, snap.ImageURL, "image link is kept")
	_, err = h.certs.Get(snap.ID)
	var nf model.NotFoundError
	assert.ErrorAs(t, err, &nf)

	h.pins.jsonErr = nil
	snap, err = h.wf.SubmitMetadata(ctx, snap.ID, validFields)
	require.NoError(t, err)
	assert.Equal(t, StepAwaitingMintInput, snap.Step)
	images, _ := h.pins.calls()
	assert.Equal(t, 1, images, "image is not uploaded again")
}

func TestMetadataRequiresName(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t)
	defer h.wf.Close()

	snap, err := h.wf.Start(context.Background(), director, validRequest)
	require.NoError(t, err)
	snap, err = h.wf.SubmitMetadata(context.Background(), snap.ID, MetadataFields{Description: "x"})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, StepAwaitingMetadataInput, snap.Step)
	_, docs := h.pins.calls()
	assert.Zero(t, docs)
}

func TestPersistFailureRetriesWithoutReupload(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t)
	defer h.wf.Close()
	ctx := context.Background()

	snap, err := h.wf.Start(ctx, director, validRequest)
	require.NoError(t, err)
	h.certs.createErr = errors.New("database is locked")
	snap, err = h.wf.SubmitMetadata(ctx, snap.ID, validFields)
	require.Error(t, err)
	assert.Equal(t, StepPersistingRecord, snap.Error.Step)
	assert.NotEmpty(t, snap.MetadataURL)

	h.certs.createErr = nil
	snap, err = h.wf.SubmitMetadata(ctx, snap.ID, validFields)
	require.NoError(t, err)
	assert.Equal(t, StepAwaitingMintInput, snap.Step)
	_, docs := h.pins.calls()
	assert.Equal(t, 1, docs)
}

func TestImageUploadFailureAndRetry(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t)
	defer h.wf.Close()
	ctx := context.Background()

	h.pins.imageErr = errors.New("timeout")
	snap, err := h.wf.Start(ctx, director, validRequest)
	require.Error(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, StepUploadingImage, snap.Error.Step)

	_, err = h.wf.SubmitMetadata(ctx, snap.ID, validFields)
	assert.ErrorIs(t, err, ErrWrongStep)

	h.pins.imageErr = nil
	snap, err = h.wf.RetryImage(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, StepAwaitingMetadataInput, snap.Step)
}

func TestInsufficientPaymentDoesNotMarkMinted(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t)
	defer h.wf.Close()
	ctx := context.Background()

	snap := h.toMintInput(t)
	h.token.set(
		func(f *fakeToken) {
			f.mintErr = errors.Wrap(chain.ErrTransactionReverted, "execution reverted: insufficient payment")
		},
	)
	snap, err := h.wf.Mint(ctx, snap.ID, recipient)
	require.ErrorIs(t, err, chain.ErrTransactionReverted)
	assert.Equal(t, StepMinting, snap.Error.Step)

	rec, err := h.certs.Get(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusIssued, rec.Status)
	assert.Nil(t, rec.TxHash)
	assert.Zero(t, h.certs.markMintedCalls())
}

func TestRevertedMintCanBeRetried(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t)
	defer h.wf.Close()

	snap := h.toMintInput(t)
	h.token.set(func(f *fakeToken) { f.revertMint = true })
	snap, err := h.wf.Mint(context.Background(), snap.ID, recipient)
	require.ErrorIs(t, err, chain.ErrTransactionReverted)
	assert.Equal(t, StepConfirmingTransaction, snap.Error.Step)
	assert.NotEmpty(t, snap.TxHash)

	rec, err := h.certs.Get(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusIssued, rec.Status)
	assert.Nil(t, rec.TxHash)
	assert.Nil(t, rec.PendingTxHash, "a reverted transaction releases the mint")
	assert.Zero(t, h.certs.markMintedCalls())

	// the price was raised in between
	raised := big.NewInt(3_000_000_000_000_000)
	h.token.set(
		func(f *fakeToken) {
			f.revertMint = false
			f.price = raised
		},
	)
	snap, err = h.wf.Mint(context.Background(), snap.ID, recipient)
	require.NoError(t, err)
	assert.Equal(t, StepDone, snap.Step)
	require.Equal(t, 2, h.token.sentCount())
	assert.Equal(t, 0, h.token.sent[1].Value().Cmp(raised), "pays the refreshed price")
	rec, err = h.certs.Get(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, h.token.sent[1].Hash().Hex(), *rec.TxHash)
}

func TestFinalizeReleasesRevertedTransaction(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t)
	defer h.wf.Close()

	snap := h.toMintInput(t)
	h.token.set(
		func(f *fakeToken) {
			f.revertMint = true
			f.waitErr = errors.Wrap(chain.ErrWalletUnavailable, "connection lost")
		},
	)
	snap, err := h.wf.Mint(context.Background(), snap.ID, recipient)
	require.ErrorIs(t, err, chain.ErrWalletUnavailable)
	require.NotNil(t, h.certs.pendingTx(snap.ID))

	_, err = h.wf.Mint(context.Background(), snap.ID, recipient)
	assert.ErrorIs(t, err, ErrWrongStep, "outcome of the sent transaction is unknown")

	_, err = h.wf.Finalize(context.Background(), snap.ID, snap.TxHash)
	require.ErrorIs(t, err, chain.ErrTransactionReverted)
	assert.Contains(t, err.Error(), StepPersistingTxHash.String())
	assert.Nil(t, h.certs.pendingTx(snap.ID))
	current, err := h.wf.Get(snap.ID)
	require.NoError(t, err)
	require.True(t, current.Failed())
	assert.Equal(t, StepPersistingTxHash, current.Error.Step)

	h.token.set(
		func(f *fakeToken) {
			f.revertMint = false
			f.waitErr = nil
		},
	)
	snap, err = h.wf.Mint(context.Background(), snap.ID, recipient)
	require.NoError(t, err)
	assert.Equal(t, StepDone, snap.Step)
	assert.Equal(t, 2, h.token.sentCount())
}

func TestExpiredRunWithPendingTransaction(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t)
	defer h.wf.Close()

	snap := h.toMintInput(t)
	h.token.set(func(f *fakeToken) { f.waitErr = errors.Wrap(chain.ErrWalletUnavailable, "connection lost") })
	snap, err := h.wf.Mint(context.Background(), snap.ID, recipient)
	require.ErrorIs(t, err, chain.ErrWalletUnavailable)
	h.wf.runs.Delete(snap.ID)

	h.token.set(func(f *fakeToken) { f.waitErr = nil })
	_, err = h.wf.Mint(context.Background(), snap.ID, recipient)
	assert.ErrorIs(t, err, ErrWrongStep)
	assert.Contains(t, err.Error(), snap.TxHash)
	assert.Equal(t, 1, h.token.sentCount())

	rec, err := h.wf.Finalize(context.Background(), snap.ID, snap.TxHash)
	require.NoError(t, err)
	assert.Equal(t, model.StatusMinted, rec.Status)
	assert.Nil(t, rec.PendingTxHash)
}

func TestConcurrentMintOfStoredRecordSendsOnce(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t)
	defer h.wf.Close()

	metadataURL := "https://gw.test/ipfs/bafystored"
	const id = "6f1d2b8a-3c4e-4f5a-8b9c-0d1e2f3a4b5c"
	require.NoError(
		t, h.certs.Create(
			&model.CertificateRecord{
				ID:          id,
				StudentName: "Grace Hopper",
				Institution: "Yale",
				MetadataURL: &metadataURL,
				Status:      model.StatusIssued,
				CreatedBy:   director,
			},
		),
	)

	const callers = 8
	results := make(chan error, callers)
	for range callers {
		go func() {
			_, err := h.wf.Mint(context.Background(), id, recipient)
			results <- err
		}()
	}
	succeeded := 0
	for range callers {
		if err := <-results; err == nil {
			succeeded++
		} else {
			assert.True(t, errors.Is(err, ErrStepInProgress) || errors.Is(err, ErrWrongStep), err.Error())
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, h.token.sentCount())
}

func TestReplicasShareMintReservation(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t)
	defer h.wf.Close()
	replica := h.workflow(t)
	defer replica.Close()

	snap := h.toMintInput(t)
	h.token.set(func(f *fakeToken) { f.blockWait = true })
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := h.wf.Mint(ctx, snap.ID, recipient)
		done <- err
	}()
	<-h.token.waiting

	_, err := replica.Mint(context.Background(), snap.ID, recipient)
	assert.ErrorIs(t, err, ErrWrongStep)
	assert.Equal(t, 1, h.token.sentCount())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.NotNil(t, h.certs.pendingTx(snap.ID))
}

func TestUserRejectedMint(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t)
	defer h.wf.Close()

	snap := h.toMintInput(t)
	h.token.set(func(f *fakeToken) { f.mintErr = chain.ErrUserRejected })
	snap, err := h.wf.Mint(context.Background(), snap.ID, recipient)
	require.ErrorIs(t, err, chain.ErrUserRejected)
	assert.Equal(t, StepMinting, snap.Error.Step)

	h.token.set(func(f *fakeToken) { f.mintErr = nil })
	snap, err = h.wf.Mint(context.Background(), snap.ID, recipient)
	require.NoError(t, err)
	assert.Equal(t, StepDone, snap.Step)
}

func TestWalletDisconnectDuringConfirmation(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t)
	defer h.wf.Close()

	snap := h.toMintInput(t)
	h.token.set(func(f *fakeToken) { f.blockWait = true })
	go func() {
		<-h.token.waiting
		h.wallet.Disconnect()
	}()

	snap, err := h.wf.Mint(context.Background(), snap.ID, recipient)
	require.ErrorIs(t, err, chain.ErrWalletUnavailable)
	require.True(t, snap.Failed())
	assert.Equal(t, StepConfirmingTransaction, snap.Error.Step)

	rec, err := h.certs.Get(snap.ID)
	require.NoError(t, err)
	assert.Nil(t, rec.TxHash, "no transaction hash before confirmation")
	assert.Equal(t, model.StatusIssued, rec.Status)
	require.NotNil(t, rec.PendingTxHash)
	assert.Equal(t, snap.TxHash, *rec.PendingTxHash)

	// the transaction was mined after all
	rec, err = h.wf.Finalize(context.Background(), snap.ID, snap.TxHash)
	require.NoError(t, err)
	assert.Equal(t, model.StatusMinted, rec.Status)
	snap, err = h.wf.Get(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, StepDone, snap.Step)
}

func TestFinalizeIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t)
	defer h.wf.Close()

	snap := h.toMintInput(t)
	snap, err := h.wf.Mint(context.Background(), snap.ID, recipient)
	require.NoError(t, err)

	for range 2 {
		rec, err := h.wf.Finalize(context.Background(), snap.ID, snap.TxHash)
		require.NoError(t, err)
		assert.Equal(t, snap.TxHash, *rec.TxHash)
	}

	other := common.HexToHash("0x1234").Hex()
	_, err = h.wf.Finalize(context.Background(), snap.ID, other)
	var conflict model.ConflictError
	assert.ErrorAs(t, err, &conflict)

	_, err = h.wf.Finalize(context.Background(), snap.ID, "0xnothex")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestFinalizeRejectsForeignTransaction(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t)
	defer h.wf.Close()

	first := h.toMintInput(t)
	second := h.toMintInput(t)
	minted, err := h.wf.Mint(context.Background(), first.ID, recipient)
	require.NoError(t, err)

	h.certs.setRecipient(second.ID, recipient)
	_, err = h.wf.Finalize(context.Background(), second.ID, minted.TxHash)
	assert.ErrorIs(t, err, ErrReceiptMismatch)
	snap, err := h.wf.Get(second.ID)
	require.NoError(t, err)
	require.True(t, snap.Failed())
	assert.Equal(t, StepPersistingTxHash, snap.Error.Step)
	rec, err := h.certs.Get(second.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusIssued, rec.Status)
}

func TestFinalizeWithoutRecipient(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t)
	defer h.wf.Close()

	snap := h.toMintInput(t)
	_, err := h.wf.Finalize(context.Background(), snap.ID, common.HexToHash("0x01").Hex())
	assert.ErrorIs(t, err, ErrValidation)
}

func TestMintRejectsInvalidRecipient(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t)
	defer h.wf.Close()

	snap := h.toMintInput(t)
	snap, err := h.wf.Mint(context.Background(), snap.ID, "0x123")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, StepAwaitingMintInput, snap.Step)
	assert.False(t, snap.Failed())
	assert.Zero(t, h.token.sentCount())
}

func TestConcurrentStepIsRejected(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t)
	defer h.wf.Close()

	snap := h.toMintInput(t)
	h.token.set(func(f *fakeToken) { f.blockWait = true })
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := h.wf.Mint(ctx, snap.ID, recipient)
		done <- err
	}()
	<-h.token.waiting

	_, err := h.wf.Mint(context.Background(), snap.ID, recipient)
	assert.ErrorIs(t, err, ErrStepInProgress)
	_, err = h.wf.Finalize(context.Background(), snap.ID, common.HexToHash("0x01").Hex())
	assert.ErrorIs(t, err, ErrStepInProgress)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	current, err := h.wf.Get(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, StepConfirmingTransaction, current.Error.Step)
}

func TestMintResumesStoredRecord(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t)
	defer h.wf.Close()

	metadataURL := "https://gw.test/ipfs/bafystored"
	require.NoError(
		t, h.certs.Create(
			&model.CertificateRecord{
				ID:          "0b6a4c2e-6f39-4c1e-9d55-6d0c7f1f2a11",
				StudentName: "Grace Hopper",
				Institution: "Yale",
				MetadataURL: &metadataURL,
				Status:      model.StatusIssued,
				CreatedBy:   director,
			},
		),
	)

	snap, err := h.wf.Mint(context.Background(), "0b6a4c2e-6f39-4c1e-9d55-6d0c7f1f2a11", recipient)
	require.NoError(t, err)
	assert.Equal(t, StepDone, snap.Step)
	assert.Equal(t, []byte(metadataURL), h.token.sent[0].Data())

	_, err = h.wf.Mint(context.Background(), "ffffffff-0000-4000-8000-000000000000", recipient)
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestMintPrice(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t)
	defer h.wf.Close()

	price, err := h.wf.MintPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, price.Cmp(h.token.price))

	h.token.set(func(f *fakeToken) { f.priceErr = errors.New("rpc down") })
	_, err = h.wf.MintPrice(context.Background())
	assert.Error(t, err, "no fallback price")
}

func TestGetUnknownRun(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t)
	defer h.wf.Close()

	_, err := h.wf.Get("missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}
