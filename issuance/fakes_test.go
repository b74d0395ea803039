package issuance

import (
	"context"
	"encoding/json"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"github.com/certifychain/certifychain/chain"
	"github.com/certifychain/certifychain/composer"
	"github.com/certifychain/certifychain/pinning"
	"github.com/certifychain/certifychain/storage/model"
)

type fakeComposer struct {
	mu       sync.Mutex
	calls    int
	requests []composer.Request
	err      error
}

func (f *fakeComposer) Compose(req composer.Request) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return []byte("jpeg:" + req.StudentName), nil
}

type fakePins struct {
	mu         sync.Mutex
	images     int
	documents  []any
	imageErr   error
	jsonErr    error
	lastSerial int
}

func (f *fakePins) UploadImage(_ context.Context, _ []byte, filename string) (pinning.Pin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images++
	if f.imageErr != nil {
		return pinning.Pin{}, f.imageErr
	}
	return pinning.Pin{CID: "bafyimage", URL: "https://gw.test/ipfs/bafyimage/" + filename}, nil
}

func (f *fakePins) UploadJSON(_ context.Context, doc any, _ string) (pinning.Pin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.documents = append(f.documents, doc)
	if f.jsonErr != nil {
		return pinning.Pin{}, f.jsonErr
	}
	f.lastSerial++
	cid := "bafymeta" + string(rune('a'+f.lastSerial))
	return pinning.Pin{CID: cid, URL: "https://gw.test/ipfs/" + cid}, nil
}

func (f *fakePins) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.images, len(f.documents)
}

// memCertificates is an in-memory model.CertificatesStore with the same
// state rules as the gorm implementation
type memCertificates struct {
	mu         sync.Mutex
	records    map[string]model.CertificateRecord
	markMinted int
	createErr  error
}

func newMemCertificates() *memCertificates {
	return &memCertificates{records: make(map[string]model.CertificateRecord)}
}

func (m *memCertificates) Create(rec *model.CertificateRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.records[rec.ID]; ok {
		return model.AlreadyExistsErrorFmt("exists: %s", rec.ID)
	}
	rec.CreatedAt = time.Now()
	rec.Recipient = model.NormalizeAddress(rec.Recipient)
	m.records[rec.ID] = *rec
	return nil
}

func (m *memCertificates) Get(id string) (*model.CertificateRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, model.NotFoundErrorFmt("not found: %s", id)
	}
	return &rec, nil
}

func (m *memCertificates) list(keep func(model.CertificateRecord) bool) []model.CertificateRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.CertificateRecord
	for _, r := range m.records {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *memCertificates) ListByRecipient(address string) ([]model.CertificateRecord, error) {
	return m.list(
		func(r model.CertificateRecord) bool {
			return strings.EqualFold(r.Recipient, address)
		},
	), nil
}

func (m *memCertificates) ListByCreator(address string) ([]model.CertificateRecord, error) {
	return m.list(
		func(r model.CertificateRecord) bool {
			return strings.EqualFold(r.CreatedBy, address)
		},
	), nil
}

func (m *memCertificates) ListByStatus(status model.CertificateStatus) ([]model.CertificateRecord, error) {
	return m.list(
		func(r model.CertificateRecord) bool {
			return r.Status == status
		},
	), nil
}

func (m *memCertificates) ReserveMint(id, recipient, txHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return model.NotFoundErrorFmt("not found: %s", id)
	}
	if rec.Status != model.StatusIssued || rec.PendingTxHash != nil {
		return model.ConflictErrorFmt("certificate %s cannot be minted", id)
	}
	rec.Recipient = model.NormalizeAddress(recipient)
	rec.PendingTxHash = &txHash
	m.records[id] = rec
	return nil
}

func (m *memCertificates) ClearPendingTx(id, txHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if ok && rec.PendingTxHash != nil && *rec.PendingTxHash == txHash {
		rec.PendingTxHash = nil
		m.records[id] = rec
	}
	return nil
}

// setRecipient stores a recipient without reserving a mint
func (m *memCertificates) setRecipient(id, address string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.records[id]
	rec.Recipient = model.NormalizeAddress(address)
	m.records[id] = rec
}

func (m *memCertificates) pendingTx(id string) *string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[id].PendingTxHash
}

func (m *memCertificates) MarkMinted(id, txHash, tokenID string) (*model.CertificateRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markMinted++
	rec, ok := m.records[id]
	if !ok {
		return nil, model.NotFoundErrorFmt("not found: %s", id)
	}
	switch rec.Status {
	case model.StatusMinted:
		if *rec.TxHash == txHash {
			return &rec, nil
		}
		return nil, model.ConflictErrorFmt("other hash")
	case model.StatusRevoked:
		return nil, model.ConflictErrorFmt("revoked")
	}
	rec.TxHash = &txHash
	rec.TokenID = &tokenID
	rec.PendingTxHash = nil
	rec.Status = model.StatusMinted
	m.records[id] = rec
	return &rec, nil
}

func (m *memCertificates) Revoke(id string) (*model.CertificateRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, model.NotFoundErrorFmt("not found: %s", id)
	}
	rec.Status = model.StatusRevoked
	m.records[id] = rec
	return &rec, nil
}

func (m *memCertificates) markMintedCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markMinted
}

// fakeToken simulates the token contract. Sent transactions that pay the
// price are confirmed with a Transfer to the recipient unless revertMint or
// waitErr is set or blockWait is true, in which case WaitMined blocks until its
// context is done.
type fakeToken struct {
	mu         sync.Mutex
	address    common.Address
	price      *big.Int
	priceErr   error
	mintErr    error
	sendErr    error
	revertMint bool
	waitErr    error
	blockWait  bool
	waiting    chan struct{}
	signed     int
	sent       []*types.Transaction
	recipients map[common.Hash]common.Address
	receipts   map[common.Hash]*chain.MintReceipt
	uris       map[string]string
	nextToken  int64
}

func newFakeToken() *fakeToken {
	return &fakeToken{
		address:    common.HexToAddress("0x3942A2e611Cd2C8272Ae9C05A40001aF1903d1aD"),
		price:      big.NewInt(1_000_000_000_000_000),
		waiting:    make(chan struct{}, 1),
		recipients: make(map[common.Hash]common.Address),
		receipts:   make(map[common.Hash]*chain.MintReceipt),
		uris:       make(map[string]string),
	}
}

func (f *fakeToken) MintPrice(context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.priceErr != nil {
		return nil, f.priceErr
	}
	return new(big.Int).Set(f.price), nil
}

func (f *fakeToken) SignMint(_ context.Context, to common.Address, uri string, value *big.Int) (
	*types.Transaction, error,
) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mintErr != nil {
		return nil, f.mintErr
	}
	tx := types.NewTx(
		&types.LegacyTx{
			Nonce: uint64(f.signed),
			To:    &f.address,
			Value: value,
			Data:  []byte(uri),
		},
	)
	f.signed++
	f.recipients[tx.Hash()] = to
	return tx, nil
}

func (f *fakeToken) Send(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	if f.revertMint || tx.Value().Cmp(f.price) < 0 {
		return nil
	}
	f.nextToken++
	f.receipts[tx.Hash()] = &chain.MintReceipt{
		TxHash:    tx.Hash(),
		TokenID:   big.NewInt(f.nextToken),
		Recipient: f.recipients[tx.Hash()],
	}
	f.uris[big.NewInt(f.nextToken).String()] = string(tx.Data())
	return nil
}

func (f *fakeToken) WaitMined(ctx context.Context, tx *types.Transaction) (*chain.MintReceipt, error) {
	f.mu.Lock()
	block, waitErr := f.blockWait, f.waitErr
	f.mu.Unlock()
	if block {
		f.waiting <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if waitErr != nil {
		return nil, waitErr
	}
	return f.Receipt(ctx, tx.Hash())
}

func (f *fakeToken) Receipt(_ context.Context, txHash common.Hash) (*chain.MintReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.receipts[txHash]; ok {
		return r, nil
	}
	for _, tx := range f.sent {
		if tx.Hash() == txHash {
			return nil, errors.Wrapf(chain.ErrTransactionReverted, "transaction %s", txHash.Hex())
		}
	}
	return nil, errors.Wrapf(chain.ErrUnknownTransaction, "%s", txHash.Hex())
}

func (f *fakeToken) TokenURI(_ context.Context, tokenID *big.Int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uris[tokenID.String()], nil
}

func (f *fakeToken) set(fn func(f *fakeToken)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeToken) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func decodeDoc(doc any) map[string]any {
	data, _ := json.Marshal(doc)
	var m map[string]any
	_ = json.Unmarshal(data, &m)
	return m
}
