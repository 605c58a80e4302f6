package domain

// ProcessModel is the per-trade scratch space shared by the protocol tasks.
// Most of its fields are set once by the corresponding protocol step and
// survive until the trade is closed.
type ProcessModel struct {
	Maker      *TradePeer
	Taker      *TradePeer
	Arbitrator *TradePeer

	// Multisig wallet shared among maker, taker and arbitrator.
	MultisigAddress       string
	MultisigSetupComplete bool
	MultisigImported      bool
	// Number of multisig rounds whose hexes were sent to both peers.
	MultisigRoundsSent int

	// Address collecting maker and taker trade fees.
	TradeFeeAddress string

	// Local payment account of maker or taker, and the address that receives
	// the change of the reserve transaction.
	PaymentAccount *PaymentAccount
	ReturnAddress  string

	// Local deposit transaction created but not yet relayed.
	DepositTxHash string
	DepositTxHex  string
	DepositTxKey  string

	DepositsConfirmedMsgSent   bool
	PaymentSentMsgSent         bool
	PaymentReceivedMsgSent     bool
	// Unix time of the last request of the seller's payment account key to
	// the arbitrator.
	PaymentAccountKeyRequestedAt int64
}

func newProcessModel(makerAddress, takerAddress, arbitratorAddress string) ProcessModel {
	return ProcessModel{
		Maker:      &TradePeer{NodeAddress: makerAddress},
		Taker:      &TradePeer{NodeAddress: takerAddress},
		Arbitrator: &TradePeer{NodeAddress: arbitratorAddress},
	}
}
