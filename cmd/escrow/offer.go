package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tdex-network/escrowd/internal/core/domain"
	"github.com/urfave/cli/v2"
)

var xmrUnit = decimal.NewFromInt(domain.AtomicUnitsPerXmr)

var accountFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "account_id",
		Usage: "the id of the payment account",
	},
	&cli.StringFlag{
		Name:     "payment_method",
		Usage:    "the payment method of the account, ie. SEPA",
		Required: true,
	},
	&cli.StringSliceFlag{
		Name:  "account_field",
		Usage: "a key=value entry of the payment account, can be repeated",
	},
}

var offers = cli.Command{
	Name:  "offers",
	Usage: "manage the offers of the daemon",
	Subcommands: []*cli.Command{
		{
			Name:   "list",
			Usage:  "list the open offers placed by the daemon",
			Action: listOffersAction,
		},
		{
			Name:  "place",
			Usage: "place a new offer and reserve the funds for its deposit",
			Flags: append([]cli.Flag{
				&cli.StringFlag{
					Name:     "direction",
					Usage:    "BUY or SELL, from the maker's perspective",
					Required: true,
				},
				&cli.StringFlag{
					Name:     "amount",
					Usage:    "the max amount of XMR to trade",
					Required: true,
				},
				&cli.StringFlag{
					Name:  "min_amount",
					Usage: "the min amount of XMR to trade, defaults to amount",
				},
				&cli.StringFlag{
					Name:     "price",
					Usage:    "the price of 1 XMR in counter currency",
					Required: true,
				},
				&cli.StringFlag{
					Name:     "currency",
					Usage:    "the counter currency, ie. EUR",
					Required: true,
				},
				&cli.StringFlag{
					Name:  "buyer_deposit",
					Usage: "the security deposit of the buyer in XMR",
					Value: "0",
				},
				&cli.StringFlag{
					Name:  "seller_deposit",
					Usage: "the security deposit of the seller in XMR",
					Value: "0",
				},
				&cli.StringFlag{
					Name:  "maker_fee",
					Usage: "the trade fee of the maker in XMR",
					Value: "0",
				},
				&cli.StringFlag{
					Name:  "arbitrator_address",
					Usage: "the arbitrator node address, defaults to the daemon's one",
				},
				&cli.StringFlag{
					Name:     "arbitrator_signature_pubkey",
					Usage:    "hex encoded signature pubkey of the arbitrator",
					Required: true,
				},
				&cli.StringFlag{
					Name:     "arbitrator_encryption_pubkey",
					Usage:    "hex encoded encryption pubkey of the arbitrator",
					Required: true,
				},
			}, accountFlags...),
			Action: placeOfferAction,
		},
		{
			Name:      "cancel",
			Usage:     "cancel an open offer and release its reserved funds",
			ArgsUsage: "<offer_id>",
			Action:    cancelOfferAction,
		},
		{
			Name:  "take",
			Usage: "take an offer and start a new trade",
			Flags: append([]cli.Flag{
				&cli.StringFlag{
					Name:     "offer_file",
					Usage:    "path of the JSON offer published by the maker",
					Required: true,
				},
				&cli.StringFlag{
					Name:     "amount",
					Usage:    "the amount of XMR to trade",
					Required: true,
				},
			}, accountFlags...),
			Action: takeOfferAction,
		},
	},
}

func listOffersAction(ctx *cli.Context) error {
	client, err := getOperatorClient(ctx)
	if err != nil {
		return err
	}

	var reply []map[string]interface{}
	if err := client.get(ctx, "/offers", &reply); err != nil {
		return err
	}
	return printRespJSON(ctx, reply)
}

func placeOfferAction(ctx *cli.Context) error {
	client, err := getOperatorClient(ctx)
	if err != nil {
		return err
	}

	amount, err := parseXMR(ctx.String("amount"))
	if err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}
	minAmount := amount
	if s := ctx.String("min_amount"); len(s) > 0 {
		if minAmount, err = parseXMR(s); err != nil {
			return fmt.Errorf("invalid min amount: %w", err)
		}
	}
	price, err := decimal.NewFromString(ctx.String("price"))
	if err != nil {
		return fmt.Errorf("invalid price: %w", err)
	}
	buyerDeposit, err := parseXMR(ctx.String("buyer_deposit"))
	if err != nil {
		return fmt.Errorf("invalid buyer deposit: %w", err)
	}
	sellerDeposit, err := parseXMR(ctx.String("seller_deposit"))
	if err != nil {
		return fmt.Errorf("invalid seller deposit: %w", err)
	}
	makerFee, err := parseXMR(ctx.String("maker_fee"))
	if err != nil {
		return fmt.Errorf("invalid maker fee: %w", err)
	}
	sigPubkey, err := hex.DecodeString(ctx.String("arbitrator_signature_pubkey"))
	if err != nil {
		return fmt.Errorf("invalid arbitrator signature pubkey: %w", err)
	}
	encPubkey, err := hex.DecodeString(ctx.String("arbitrator_encryption_pubkey"))
	if err != nil {
		return fmt.Errorf("invalid arbitrator encryption pubkey: %w", err)
	}
	account, err := parseAccount(ctx)
	if err != nil {
		return err
	}

	offer := domain.Offer{
		Id:                    uuid.New().String(),
		Direction:             domain.Direction(strings.ToUpper(ctx.String("direction"))),
		Amount:                amount,
		MinAmount:             minAmount,
		Price:                 price,
		CounterCurrency:       strings.ToUpper(ctx.String("currency")),
		BuyerSecurityDeposit:  buyerDeposit,
		SellerSecurityDeposit: sellerDeposit,
		MakerFee:              makerFee,
		PaymentMethodId:       account.PaymentMethodId,
		ArbitratorNodeAddress: ctx.String("arbitrator_address"),
		ArbitratorPubKeyRing: domain.PubKeyRing{
			SignaturePubKey:  sigPubkey,
			EncryptionPubKey: encPubkey,
		},
		CreatedAt: time.Now().Unix(),
	}

	var reply map[string]interface{}
	if err := client.post(ctx, "/offers", map[string]interface{}{
		"offer":          offer,
		"paymentAccount": account,
	}, &reply); err != nil {
		return err
	}
	return printRespJSON(ctx, reply)
}

func cancelOfferAction(ctx *cli.Context) error {
	if ctx.NArg() < 1 {
		return &invalidUsageError{ctx, "cancel"}
	}
	client, err := getOperatorClient(ctx)
	if err != nil {
		return err
	}

	if err := client.delete(ctx, "/offers/"+ctx.Args().First()); err != nil {
		return err
	}
	fmt.Fprintln(ctx.App.Writer, "offer canceled")
	return nil
}

func takeOfferAction(ctx *cli.Context) error {
	client, err := getOperatorClient(ctx)
	if err != nil {
		return err
	}

	buf, err := os.ReadFile(ctx.String("offer_file"))
	if err != nil {
		return err
	}
	var offer domain.Offer
	if err := json.Unmarshal(buf, &offer); err != nil {
		return fmt.Errorf("invalid offer file: %w", err)
	}
	amount, err := parseXMR(ctx.String("amount"))
	if err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}
	account, err := parseAccount(ctx)
	if err != nil {
		return err
	}

	var reply map[string]interface{}
	if err := client.post(ctx, "/offers/take", map[string]interface{}{
		"offer":          offer,
		"amount":         amount,
		"paymentAccount": account,
	}, &reply); err != nil {
		return err
	}
	return printRespJSON(ctx, reply)
}

// parseXMR converts an amount of XMR to atomic units.
func parseXMR(s string) (uint64, error) {
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	if amount.IsNegative() {
		return 0, fmt.Errorf("amount must not be negative")
	}
	atomic := amount.Mul(xmrUnit)
	if !atomic.Equal(atomic.Truncate(0)) {
		return 0, fmt.Errorf("amount has more than 12 decimals")
	}
	return uint64(atomic.IntPart()), nil
}

func parseAccount(ctx *cli.Context) (domain.PaymentAccount, error) {
	payload := make(map[string]string)
	for _, field := range ctx.StringSlice("account_field") {
		kv := strings.SplitN(field, "=", 2)
		if len(kv) != 2 || len(kv[0]) <= 0 {
			return domain.PaymentAccount{}, fmt.Errorf(
				"invalid account field %q, must be key=value", field,
			)
		}
		payload[kv[0]] = kv[1]
	}

	id := ctx.String("account_id")
	if len(id) <= 0 {
		id = uuid.New().String()
	}
	return domain.PaymentAccount{
		Id:              id,
		PaymentMethodId: ctx.String("payment_method"),
		Payload:         payload,
	}, nil
}
