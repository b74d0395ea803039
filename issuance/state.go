package issuance

import (
	"time"

	"github.com/pkg/errors"
)

// Step is a state of the issuance workflow
type Step int

// Steps of the issuance workflow in the order they are passed
const (
	StepIdle Step = iota
	StepComposingImage
	StepUploadingImage
	StepAwaitingMetadataInput
	StepUploadingMetadata
	StepPersistingRecord
	StepAwaitingMintInput
	StepMinting
	StepConfirmingTransaction
	StepPersistingTxHash
	StepDone
)

var stepNames = map[Step]string{
	StepIdle:                  "idle",
	StepComposingImage:        "composing_image",
	StepUploadingImage:        "uploading_image",
	StepAwaitingMetadataInput: "awaiting_metadata_input",
	StepUploadingMetadata:     "uploading_metadata",
	StepPersistingRecord:      "persisting_record",
	StepAwaitingMintInput:     "awaiting_mint_input",
	StepMinting:               "minting",
	StepConfirmingTransaction: "confirming_transaction",
	StepPersistingTxHash:      "persisting_tx_hash",
	StepDone:                  "done",
}

// stepStatus are the human-readable status lines shown while a step is active
var stepStatus = map[Step]string{
	StepIdle:                  "Ready to generate a certificate.",
	StepComposingImage:        "Generating certificate image...",
	StepUploadingImage:        "Uploading certificate to IPFS...",
	StepAwaitingMetadataInput: "Certificate uploaded. Enter the NFT metadata.",
	StepUploadingMetadata:     "Uploading metadata JSON...",
	StepPersistingRecord:      "Saving certificate record...",
	StepAwaitingMintInput:     "Certificate saved. Enter the recipient wallet to mint.",
	StepMinting:               "Fetching mint price and sending mint transaction...",
	StepConfirmingTransaction: "Waiting for transaction confirmation...",
	StepPersistingTxHash:      "Saving transaction hash...",
	StepDone:                  "NFT minted successfully.",
}

// String returns the canonical name of the step
func (s Step) String() string {
	if n, ok := stepNames[s]; ok {
		return n
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler
func (s Step) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *Step) UnmarshalText(text []byte) error {
	for step, name := range stepNames {
		if name == string(text) {
			*s = step
			return nil
		}
	}
	return errors.Errorf("unknown step '%s'", text)
}

// Failure describes the step a run failed at
type Failure struct {
	Step    Step   `json:"step"`
	Message string `json:"message"`
}

// Snapshot is a point-in-time view of a Run
type Snapshot struct {
	ID          string    `json:"id"`
	Step        Step      `json:"step"`
	Error       *Failure  `json:"error,omitempty"`
	Status      string    `json:"status"`
	StudentName string    `json:"student_name"`
	Institution string    `json:"institution"`
	IssuedAt    time.Time `json:"issued_at"`
	CreatedBy   string    `json:"created_by"`
	ImageURL    string    `json:"image_url,omitempty"`
	MetadataURL string    `json:"metadata_url,omitempty"`
	Recipient   string    `json:"recipient,omitempty"`
	MintPrice   string    `json:"mint_price,omitempty"`
	TxHash      string    `json:"tx_hash,omitempty"`
	TokenID     string    `json:"token_id,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Failed reports whether the run is in the error state
func (s Snapshot) Failed() bool {
	return s.Error != nil
}
