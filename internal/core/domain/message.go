package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProtocolVersion is the version of the trade protocol spoken by this node.
const ProtocolVersion = 1

// MessageType identifies the kind of a protocol message on the wire.
type MessageType string

const (
	MsgInitTradeRequest          MessageType = "InitTradeRequest"
	MsgInitMultisigRequest       MessageType = "InitMultisigRequest"
	MsgSignContractRequest       MessageType = "SignContractRequest"
	MsgSignContractResponse      MessageType = "SignContractResponse"
	MsgDepositRequest            MessageType = "DepositRequest"
	MsgDepositResponse           MessageType = "DepositResponse"
	MsgDepositsConfirmed         MessageType = "DepositsConfirmedMessage"
	MsgPaymentSent               MessageType = "PaymentSentMessage"
	MsgPaymentReceived           MessageType = "PaymentReceivedMessage"
	MsgPayoutTxPublished         MessageType = "PayoutTxPublishedMessage"
	MsgUpdateMultisigRequest     MessageType = "UpdateMultisigRequest"
	MsgUpdateMultisigResponse    MessageType = "UpdateMultisigResponse"
	MsgPaymentAccountKeyRequest  MessageType = "PaymentAccountKeyRequest"
	MsgPaymentAccountKeyResponse MessageType = "PaymentAccountKeyResponse"
	MsgDisputeOpened             MessageType = "DisputeOpenedMessage"
	MsgDisputeClosed             MessageType = "DisputeClosedMessage"
	MsgAck                       MessageType = "AckMessage"
)

// Mailbox messages pending for the same trade are delivered in this order,
// which reflects their causal dependency.
var mailboxPriority = map[MessageType]int{
	MsgAck:               0,
	MsgDepositsConfirmed: 1,
	MsgPaymentSent:       2,
	MsgPaymentReceived:   3,
	MsgDisputeOpened:     4,
	MsgDisputeClosed:     5,
}

// MailboxPriority returns the delivery rank of a message type, lower first.
// Types without an explicit rank come after all the others.
func MailboxPriority(t MessageType) int {
	if p, ok := mailboxPriority[t]; ok {
		return p
	}
	return len(mailboxPriority)
}

// IsMailboxMessage returns whether a message type is stored for later
// delivery when its recipient is offline, rather than failing the send.
func IsMailboxMessage(t MessageType) bool {
	switch t {
	case MsgDepositsConfirmed, MsgPaymentSent, MsgPaymentReceived,
		MsgPayoutTxPublished, MsgDisputeOpened, MsgDisputeClosed, MsgAck:
		return true
	default:
		return false
	}
}

// MessageHeader is embedded by every protocol message.
type MessageHeader struct {
	TradeId           string     `json:"tradeId"`
	Uid               string     `json:"uid"`
	SenderNodeAddress string     `json:"senderNodeAddress"`
	SenderPubKeyRing  PubKeyRing `json:"senderPubKeyRing"`
	ProtocolVersion   int        `json:"protocolVersion"`
	Date              int64      `json:"date"`
}

func NewMessageHeader(
	tradeId, senderAddress string, senderPubKeyRing PubKeyRing,
) MessageHeader {
	return MessageHeader{
		TradeId:           tradeId,
		Uid:               uuid.New().String(),
		SenderNodeAddress: senderAddress,
		SenderPubKeyRing:  senderPubKeyRing,
		ProtocolVersion:   ProtocolVersion,
		Date:              time.Now().UnixMilli(),
	}
}

func (h *MessageHeader) Header() *MessageHeader {
	return h
}

// TradeMessage is the interface implemented by every protocol message.
type TradeMessage interface {
	Header() *MessageHeader
	Type() MessageType
}

// SignedMessage is implemented by messages that embed a signature of their
// sender covering the whole message except the signature itself.
type SignedMessage interface {
	TradeMessage
	UnsignedBytes() ([]byte, error)
	Signature() []byte
}

// ReserveTx is the evidence that a trader reserved the funds needed for a
// trade: the trade fee is paid to the fee address and the amount to be
// deposited is sent back to the trader's own return address.
type ReserveTx struct {
	Hash          string   `json:"hash"`
	Hex           string   `json:"hex"`
	Key           string   `json:"key"`
	KeyImages     []string `json:"keyImages"`
	ReturnAddress string   `json:"returnAddress"`
}

type InitTradeRequest struct {
	MessageHeader
	Offer                 Offer           `json:"offer"`
	TradeAmount           uint64          `json:"tradeAmount"`
	TradePrice            decimal.Decimal `json:"tradePrice"`
	TakerFee              uint64          `json:"takerFee"`
	MakerNodeAddress      string          `json:"makerNodeAddress"`
	TakerNodeAddress      string          `json:"takerNodeAddress"`
	ArbitratorNodeAddress string          `json:"arbitratorNodeAddress"`
	TakerPubKeyRing       PubKeyRing      `json:"takerPubKeyRing"`
	MakerAccountId        string          `json:"makerAccountId,omitempty"`
	TakerAccountId        string          `json:"takerAccountId"`
	MakerPaymentMethodId  string          `json:"makerPaymentMethodId,omitempty"`
	TakerPaymentMethodId  string          `json:"takerPaymentMethodId"`
	MakerReserveTx        *ReserveTx      `json:"makerReserveTx,omitempty"`
	TakerReserveTx        *ReserveTx      `json:"takerReserveTx,omitempty"`
	MakerSignature        []byte          `json:"makerSignature,omitempty"`
}

func (InitTradeRequest) Type() MessageType { return MsgInitTradeRequest }

func (m InitTradeRequest) UnsignedBytes() ([]byte, error) {
	m.MakerSignature = nil
	return json.Marshal(m)
}

func (m InitTradeRequest) Signature() []byte { return m.MakerSignature }

type InitMultisigRequest struct {
	MessageHeader
	PreparedMultisigHex  string `json:"preparedMultisigHex,omitempty"`
	MadeMultisigHex      string `json:"madeMultisigHex,omitempty"`
	ExchangedMultisigHex string `json:"exchangedMultisigHex,omitempty"`
}

func (InitMultisigRequest) Type() MessageType { return MsgInitMultisigRequest }

type SignContractRequest struct {
	MessageHeader
	AccountId                  string `json:"accountId"`
	PaymentMethodId            string `json:"paymentMethodId"`
	PaymentAccountPayloadHash  []byte `json:"paymentAccountPayloadHash"`
	PayoutAddress              string `json:"payoutAddress"`
	DepositTxHash              string `json:"depositTxHash"`
	AccountAgeWitnessSignature []byte `json:"accountAgeWitnessSignature,omitempty"`
}

func (SignContractRequest) Type() MessageType { return MsgSignContractRequest }

type SignContractResponse struct {
	MessageHeader
	ContractJSON                   []byte `json:"contractJson"`
	ContractSignature              []byte `json:"contractSignature"`
	EncryptedPaymentAccountPayload []byte `json:"encryptedPaymentAccountPayload,omitempty"`
}

func (SignContractResponse) Type() MessageType { return MsgSignContractResponse }

type DepositRequest struct {
	MessageHeader
	ContractSignature []byte `json:"contractSignature"`
	DepositTxHash     string `json:"depositTxHash"`
	DepositTxHex      string `json:"depositTxHex"`
	DepositTxKey      string `json:"depositTxKey"`
	PaymentAccountKey []byte `json:"paymentAccountKey,omitempty"`
}

func (DepositRequest) Type() MessageType { return MsgDepositRequest }

type DepositResponse struct {
	MessageHeader
	Success      bool   `json:"success"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

func (DepositResponse) Type() MessageType { return MsgDepositResponse }

type DepositsConfirmedMessage struct {
	MessageHeader
	UpdatedMultisigHex      string `json:"updatedMultisigHex"`
	SellerPaymentAccountKey []byte `json:"sellerPaymentAccountKey,omitempty"`
}

func (DepositsConfirmedMessage) Type() MessageType { return MsgDepositsConfirmed }

type PaymentSentMessage struct {
	MessageHeader
	CounterCurrencyTxId string `json:"counterCurrencyTxId,omitempty"`
	PayoutTxHex         string `json:"payoutTxHex"`
	UpdatedMultisigHex  string `json:"updatedMultisigHex"`
	PaymentAccountKey   []byte `json:"paymentAccountKey,omitempty"`
	BuyerSignature      []byte `json:"buyerSignature,omitempty"`
}

func (PaymentSentMessage) Type() MessageType { return MsgPaymentSent }

func (m PaymentSentMessage) UnsignedBytes() ([]byte, error) {
	m.BuyerSignature = nil
	return json.Marshal(m)
}

func (m PaymentSentMessage) Signature() []byte { return m.BuyerSignature }

type PaymentReceivedMessage struct {
	MessageHeader
	UnsignedPayoutTxHex string              `json:"unsignedPayoutTxHex,omitempty"`
	SignedPayoutTxHex   string              `json:"signedPayoutTxHex,omitempty"`
	PayoutTxHash        string              `json:"payoutTxHash,omitempty"`
	UpdatedMultisigHex  string              `json:"updatedMultisigHex"`
	PaymentSentMessage  *PaymentSentMessage `json:"paymentSentMessage,omitempty"`
	SellerSignature     []byte              `json:"sellerSignature,omitempty"`
}

func (PaymentReceivedMessage) Type() MessageType { return MsgPaymentReceived }

func (m PaymentReceivedMessage) UnsignedBytes() ([]byte, error) {
	m.SellerSignature = nil
	return json.Marshal(m)
}

func (m PaymentReceivedMessage) Signature() []byte { return m.SellerSignature }

type PayoutTxPublishedMessage struct {
	MessageHeader
	SignedPayoutTxHex string `json:"signedPayoutTxHex"`
	PayoutTxHash      string `json:"payoutTxHash"`
}

func (PayoutTxPublishedMessage) Type() MessageType { return MsgPayoutTxPublished }

type UpdateMultisigRequest struct {
	MessageHeader
	UpdatedMultisigHex string `json:"updatedMultisigHex"`
}

func (UpdateMultisigRequest) Type() MessageType { return MsgUpdateMultisigRequest }

type UpdateMultisigResponse struct {
	MessageHeader
	UpdatedMultisigHex string `json:"updatedMultisigHex"`
}

func (UpdateMultisigResponse) Type() MessageType { return MsgUpdateMultisigResponse }

type PaymentAccountKeyRequest struct {
	MessageHeader
}

func (PaymentAccountKeyRequest) Type() MessageType { return MsgPaymentAccountKeyRequest }

type PaymentAccountKeyResponse struct {
	MessageHeader
	PaymentAccountKey  []byte `json:"paymentAccountKey"`
	UpdatedMultisigHex string `json:"updatedMultisigHex,omitempty"`
}

func (PaymentAccountKeyResponse) Type() MessageType { return MsgPaymentAccountKeyResponse }

type DisputeOpenedMessage struct {
	MessageHeader
	OpenerIsBuyer      bool   `json:"openerIsBuyer"`
	Reason             string `json:"reason"`
	UpdatedMultisigHex string `json:"updatedMultisigHex"`
}

func (DisputeOpenedMessage) Type() MessageType { return MsgDisputeOpened }

type DisputeClosedMessage struct {
	MessageHeader
	Result             DisputeResult `json:"result"`
	PayoutTxHex        string        `json:"payoutTxHex"`
	UpdatedMultisigHex string        `json:"updatedMultisigHex"`
}

func (DisputeClosedMessage) Type() MessageType { return MsgDisputeClosed }

// AckMessage acknowledges the processing of another message, correlated by
// the type and uid of the source message.
type AckMessage struct {
	MessageHeader
	SourceType   MessageType `json:"sourceType"`
	SourceUid    string      `json:"sourceUid"`
	Success      bool        `json:"success"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
}

func (AckMessage) Type() MessageType { return MsgAck }

// NewAckMessage returns the acknowledgment of the given source message.
func NewAckMessage(
	header MessageHeader, source TradeMessage, err error,
) *AckMessage {
	ack := &AckMessage{
		MessageHeader: header,
		SourceType:    source.Type(),
		SourceUid:     source.Header().Uid,
		Success:       err == nil,
	}
	if err != nil {
		ack.ErrorMessage = err.Error()
	}
	return ack
}

var messageFactory = map[MessageType]func() TradeMessage{
	MsgInitTradeRequest:          func() TradeMessage { return &InitTradeRequest{} },
	MsgInitMultisigRequest:       func() TradeMessage { return &InitMultisigRequest{} },
	MsgSignContractRequest:       func() TradeMessage { return &SignContractRequest{} },
	MsgSignContractResponse:      func() TradeMessage { return &SignContractResponse{} },
	MsgDepositRequest:            func() TradeMessage { return &DepositRequest{} },
	MsgDepositResponse:           func() TradeMessage { return &DepositResponse{} },
	MsgDepositsConfirmed:         func() TradeMessage { return &DepositsConfirmedMessage{} },
	MsgPaymentSent:               func() TradeMessage { return &PaymentSentMessage{} },
	MsgPaymentReceived:           func() TradeMessage { return &PaymentReceivedMessage{} },
	MsgPayoutTxPublished:         func() TradeMessage { return &PayoutTxPublishedMessage{} },
	MsgUpdateMultisigRequest:     func() TradeMessage { return &UpdateMultisigRequest{} },
	MsgUpdateMultisigResponse:    func() TradeMessage { return &UpdateMultisigResponse{} },
	MsgPaymentAccountKeyRequest:  func() TradeMessage { return &PaymentAccountKeyRequest{} },
	MsgPaymentAccountKeyResponse: func() TradeMessage { return &PaymentAccountKeyResponse{} },
	MsgDisputeOpened:             func() TradeMessage { return &DisputeOpenedMessage{} },
	MsgDisputeClosed:             func() TradeMessage { return &DisputeClosedMessage{} },
	MsgAck:                       func() TradeMessage { return &AckMessage{} },
}

type messageEnvelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// EncodeMessage serializes a message along with its type.
func EncodeMessage(msg TradeMessage) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(messageEnvelope{msg.Type(), payload})
}

// DecodeMessage deserializes a message encoded with EncodeMessage.
func DecodeMessage(buf []byte) (TradeMessage, error) {
	env := messageEnvelope{}
	if err := json.Unmarshal(buf, &env); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedMessage, err)
	}
	newMsg, ok := messageFactory[env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessageType, env.Type)
	}
	msg := newMsg()
	if err := json.Unmarshal(env.Payload, msg); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedMessage, err)
	}
	if len(msg.Header().TradeId) <= 0 || len(msg.Header().Uid) <= 0 {
		return nil, fmt.Errorf("%w: missing trade id or uid", ErrMalformedMessage)
	}
	return msg, nil
}
