package ledger

import (
	"time"

	"github.com/google/uuid"
)

// Donor is a wallet that has deposited principal.
type Donor struct {
	WalletAddress string    `json:"wallet_address"`
	CreatedAt     time.Time `json:"created_at"`
}

// Recipient is a creator registered to receive yield.
type Recipient struct {
	WalletAddress  string    `json:"wallet_address"`
	DisplayName    *string   `json:"display_name"`
	ProfilePicURL  *string   `json:"profile_pic_url"`
	SocialLinks    []string  `json:"social_links"`
	PreferredChain *string   `json:"preferred_chain"`
	CreatedAt      time.Time `json:"created_at"`
}

/// Donation is a principal deposit. Withdrawn is terminal: once set,
// the donation never re-enters distribution.
type Donation struct {
	ID                 uuid.UUID `json:"id"`
	DonorWalletAddress string    `json:"donor_wallet_address"`
	ChainID            int64     `json:"chain_id"`
	InputAssetAddress  string    `json:"input_asset_address"`
	TargetAssetAddress string    `json:"target_asset_address"`
	AmountIn           string    `json:"amount_in"`
	AmountInBaseUnits  string    `json:"amount_in_base_units"`
	DepositTxHash      string    `json:"deposit_tx_hash"`
	Withdrawn          bool      `json:"withdrawn"`
	WithdrawTxHash     *string   `json:"withdraw_tx_hash"`
	CreatedAt          time.Time `json:"created_at"`
}

/// YieldDistribution is one settled payout leg: a single recipient's
// share of one donation's yield in one cycle. Append-only.
type YieldDistribution struct {
	ID                     int64     `json:"id"`
	ChainID                int64     `json:"chain_id"`
	DonationID             uuid.UUID `json:"donation_id"`
	DonorWalletAddress     string    `json:"donor_wallet_address"`
	RecipientWalletAddress string    `json:"recipient_wallet_address"`
	ClaimedTxHash          string    `json:"claimed_tx_hash"`
	TransferTxHash         *string   `json:"transfer_tx_hash"`
	AmountBaseUnits        string    `json:"amount_base_units"`
	Amount                 string    `json:"amount"`
	CreatedAt              time.Time `json:"created_at"`
}

// RecipientDonation attributes a donation to one of its selected
// recipients, with the recipient's equal share of the principal.
type RecipientDonation struct {
	DonationID uuid.UUID `json:"donation_id"`
	CreatedAt  time.Time `json:"created_at"`
	Amount     string    `json:"amount"`
}

// CreateDonationParams carries a new deposit record and the recipient
// set selected for it.
type CreateDonationParams struct {
	DonorWalletAddress string
	ChainID            int64
	InputAssetAddress  string
	TargetAssetAddress string
	AmountIn           string
	AmountInBaseUnits  string
	DepositTxHash      string
	Recipients         []string
}
