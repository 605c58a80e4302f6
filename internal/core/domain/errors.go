package domain

import "errors"

var (
	// ErrPeerMissingPubKeyRing is returned when binding a peer to an empty key
	// ring.
	ErrPeerMissingPubKeyRing = errors.New("peer pubkey ring must not be empty")
	// ErrPeerPubKeyRingChanged is returned when trying to change the key ring
	// of an already bound peer.
	ErrPeerPubKeyRingChanged = errors.New("peer pubkey ring can't be changed")
	// ErrMissingMultisigHex ...
	ErrMissingMultisigHex = errors.New("multisig hex must not be empty")
	// ErrMultisigHexMismatch is returned when a peer sends a multisig hex that
	// differs from the one previously recorded for the same round.
	ErrMultisigHexMismatch = errors.New("multisig hex differs from the one previously received")
	// ErrMissingSignature ...
	ErrMissingSignature = errors.New("signature must not be empty")
	// ErrContractSignatureMismatch ...
	ErrContractSignatureMismatch = errors.New("contract signature differs from the one previously received")
	// ErrMissingDepositTx ...
	ErrMissingDepositTx = errors.New("deposit tx hash must not be empty")
	// ErrDepositTxMismatch ...
	ErrDepositTxMismatch = errors.New("deposit tx differs from the one previously received")

	// ErrOfferMissingId ...
	ErrOfferMissingId = errors.New("offer id must not be empty")
	// ErrOfferInvalidAmount ...
	ErrOfferInvalidAmount = errors.New("offer amount must be greater than zero")
	// ErrOfferInvalidPrice ...
	ErrOfferInvalidPrice = errors.New("offer price must be greater than zero")
	// ErrOfferInvalidDirection ...
	ErrOfferInvalidDirection = errors.New("offer direction must be either BUY or SELL")
	// ErrOfferMissingMaker ...
	ErrOfferMissingMaker = errors.New("offer must contain maker address and pubkey ring")
	// ErrOfferMissingArbitrator ...
	ErrOfferMissingArbitrator = errors.New("offer must contain arbitrator address and pubkey ring")
	// ErrOfferMissingPaymentMethod ...
	ErrOfferMissingPaymentMethod = errors.New("offer must contain a payment method")

	// ErrTradeInvalidAmount is returned when the trade amount is zero or
	// greater than the one of the offer.
	ErrTradeInvalidAmount = errors.New("trade amount must be in range (0, offer amount]")
	// ErrTradeInvalidRole ...
	ErrTradeInvalidRole = errors.New("invalid trade role")
	// ErrTradeNotFound ...
	ErrTradeNotFound = errors.New("trade not found")
	// ErrTradeAlreadyExists ...
	ErrTradeAlreadyExists = errors.New("trade already exists")
	// ErrTradePayoutNotUnlocked is returned when trying to close a trade whose
	// payout isn't unlocked yet.
	ErrTradePayoutNotUnlocked = errors.New("trade payout is not unlocked yet")
	// ErrContractMismatch is returned when trying to bind a trade to a contract
	// different from the one already agreed.
	ErrContractMismatch = errors.New("contract differs from the one already agreed")
	// ErrInsufficientDeposit is returned when the seller's deposit can't cover
	// the trade amount.
	ErrInsufficientDeposit = errors.New("seller deposit does not cover trade amount")

	// ErrPaymentMethodMismatch ...
	ErrPaymentMethodMismatch = errors.New("maker and taker payment methods do not match")
	// ErrContractMissingDepositTx ...
	ErrContractMissingDepositTx = errors.New("contract requires both deposit tx hashes")
	// ErrContractMissingPayoutAddress ...
	ErrContractMissingPayoutAddress = errors.New("contract requires both payout addresses")

	// ErrOpenOfferNotFound ...
	ErrOpenOfferNotFound = errors.New("open offer not found")
	// ErrDisputeNotFound ...
	ErrDisputeNotFound = errors.New("dispute not found")
	// ErrDisputeAlreadyClosed ...
	ErrDisputeAlreadyClosed = errors.New("dispute is already closed")
	// ErrDisputeInvalidPayout is returned when the amounts of a dispute result
	// exceed the funds locked in the escrow.
	ErrDisputeInvalidPayout = errors.New("dispute payout amounts exceed escrowed funds")

	// ErrUnknownMessageType ...
	ErrUnknownMessageType = errors.New("unknown message type")
	// ErrMalformedMessage ...
	ErrMalformedMessage = errors.New("message is malformed")
)
