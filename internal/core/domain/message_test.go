package domain_test

import (
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tdex-network/escrowd/internal/core/domain"
)

func TestMailboxPriority(t *testing.T) {
	t.Parallel()

	msgTypes := []domain.MessageType{
		domain.MsgDisputeClosed,
		domain.MsgUpdateMultisigRequest,
		domain.MsgPaymentReceived,
		domain.MsgDisputeOpened,
		domain.MsgAck,
		domain.MsgPaymentSent,
		domain.MsgDepositsConfirmed,
	}
	sort.SliceStable(msgTypes, func(i, j int) bool {
		return domain.MailboxPriority(msgTypes[i]) < domain.MailboxPriority(msgTypes[j])
	})

	expected := []domain.MessageType{
		domain.MsgAck,
		domain.MsgDepositsConfirmed,
		domain.MsgPaymentSent,
		domain.MsgPaymentReceived,
		domain.MsgDisputeOpened,
		domain.MsgDisputeClosed,
		domain.MsgUpdateMultisigRequest,
	}
	require.Equal(t, expected, msgTypes)
}

func TestEncodeDecodeMessage(t *testing.T) {
	t.Parallel()

	ring := domain.PubKeyRing{SignaturePubKey: []byte{1}, EncryptionPubKey: []byte{2}}

	t.Run("valid", func(t *testing.T) {
		t.Parallel()

		msg := &domain.PaymentSentMessage{
			MessageHeader:      domain.NewMessageHeader("trade-id", "taker:9999", ring),
			PayoutTxHex:        "payout",
			UpdatedMultisigHex: "multisig",
			BuyerSignature:     []byte{9},
		}
		buf, err := domain.EncodeMessage(msg)
		require.NoError(t, err)

		decoded, err := domain.DecodeMessage(buf)
		require.NoError(t, err)
		require.Equal(t, domain.MsgPaymentSent, decoded.Type())

		paymentSent, ok := decoded.(*domain.PaymentSentMessage)
		require.True(t, ok)
		require.Equal(t, msg.Uid, paymentSent.Uid)
		require.Equal(t, "payout", paymentSent.PayoutTxHex)
		require.True(t, paymentSent.SenderPubKeyRing.Equal(ring))

		unsigned, err := paymentSent.UnsignedBytes()
		require.NoError(t, err)
		expectedUnsigned, err := msg.UnsignedBytes()
		require.NoError(t, err)
		require.Equal(t, expectedUnsigned, unsigned)
	})

	t.Run("invalid", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			name          string
			buf           []byte
			expectedError error
		}{
			{
				name:          "malformed",
				buf:           []byte("not json"),
				expectedError: domain.ErrMalformedMessage,
			},
			{
				name:          "unknown_type",
				buf:           []byte(`{"type":"FooMessage","payload":{}}`),
				expectedError: domain.ErrUnknownMessageType,
			},
			{
				name:          "missing_uid",
				buf:           []byte(`{"type":"AckMessage","payload":{"tradeId":"id"}}`),
				expectedError: domain.ErrMalformedMessage,
			},
		}
		for i := range tests {
			tt := tests[i]
			t.Run(tt.name, func(t *testing.T) {
				t.Parallel()

				msg, err := domain.DecodeMessage(tt.buf)
				require.True(t, errors.Is(err, tt.expectedError))
				require.Nil(t, msg)
			})
		}
	})
}

func TestNewAckMessage(t *testing.T) {
	t.Parallel()

	ring := domain.PubKeyRing{SignaturePubKey: []byte{1}}
	source := &domain.DepositRequest{
		MessageHeader: domain.NewMessageHeader("trade-id", "maker:9999", ring),
	}
	header := domain.NewMessageHeader("trade-id", "arbitrator:9999", ring)

	ack := domain.NewAckMessage(header, source, nil)
	require.True(t, ack.Success)
	require.Equal(t, domain.MsgDepositRequest, ack.SourceType)
	require.Equal(t, source.Uid, ack.SourceUid)

	nack := domain.NewAckMessage(header, source, errors.New("boom"))
	require.False(t, nack.Success)
	require.Equal(t, "boom", nack.ErrorMessage)
}
