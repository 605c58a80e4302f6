package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/tdex-network/escrowd/internal/core/domain"
	"github.com/urfave/cli/v2"
)

var disputes = cli.Command{
	Name:  "disputes",
	Usage: "open, resolve and inspect the disputes of the trades",
	Subcommands: []*cli.Command{
		{
			Name:   "list",
			Usage:  "list all disputes known by the daemon",
			Action: listDisputesAction,
		},
		{
			Name:      "get",
			Usage:     "get the dispute of a trade",
			ArgsUsage: "<trade_id>",
			Action:    getDisputeAction,
		},
		{
			Name:      "open",
			Usage:     "open a dispute for a trade, as buyer or seller",
			ArgsUsage: "<trade_id>",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "reason",
					Usage:    "why the dispute is opened",
					Required: true,
				},
			},
			Action: openDisputeAction,
		},
		{
			Name:      "close",
			Usage:     "resolve a dispute and publish its payout, as arbitrator",
			ArgsUsage: "<trade_id>",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "winner",
					Usage:    "BUYER or SELLER",
					Required: true,
				},
				&cli.StringFlag{
					Name:     "buyer_payout",
					Usage:    "the amount of XMR paid out to the buyer",
					Required: true,
				},
				&cli.StringFlag{
					Name:     "seller_payout",
					Usage:    "the amount of XMR paid out to the seller",
					Required: true,
				},
				&cli.StringFlag{
					Name:  "reason",
					Usage: "the reason of the resolution",
				},
				&cli.StringFlag{
					Name:  "summary",
					Usage: "a summary of the resolution",
				},
			},
			Action: closeDisputeAction,
		},
	},
}

func listDisputesAction(ctx *cli.Context) error {
	client, err := getOperatorClient(ctx)
	if err != nil {
		return err
	}

	var reply []map[string]interface{}
	if err := client.get(ctx, "/disputes", &reply); err != nil {
		return err
	}
	return printRespJSON(ctx, reply)
}

func getDisputeAction(ctx *cli.Context) error {
	if ctx.NArg() < 1 {
		return &invalidUsageError{ctx, "get"}
	}
	client, err := getOperatorClient(ctx)
	if err != nil {
		return err
	}

	var reply map[string]interface{}
	path := fmt.Sprintf("/trades/%s/dispute", ctx.Args().First())
	if err := client.get(ctx, path, &reply); err != nil {
		return err
	}
	return printRespJSON(ctx, reply)
}

func openDisputeAction(ctx *cli.Context) error {
	if ctx.NArg() < 1 {
		return &invalidUsageError{ctx, "open"}
	}
	client, err := getOperatorClient(ctx)
	if err != nil {
		return err
	}

	path := fmt.Sprintf("/trades/%s/dispute", ctx.Args().First())
	if err := client.post(ctx, path, map[string]string{
		"reason": ctx.String("reason"),
	}, nil); err != nil {
		return err
	}
	fmt.Fprintln(ctx.App.Writer, "dispute opened")
	return nil
}

func closeDisputeAction(ctx *cli.Context) error {
	if ctx.NArg() < 1 {
		return &invalidUsageError{ctx, "close"}
	}
	client, err := getOperatorClient(ctx)
	if err != nil {
		return err
	}

	buyerPayout, err := parseXMR(ctx.String("buyer_payout"))
	if err != nil {
		return fmt.Errorf("invalid buyer payout: %w", err)
	}
	sellerPayout, err := parseXMR(ctx.String("seller_payout"))
	if err != nil {
		return fmt.Errorf("invalid seller payout: %w", err)
	}

	tradeId := ctx.Args().First()
	result := domain.DisputeResult{
		TradeId:            tradeId,
		Winner:             domain.Winner(strings.ToUpper(ctx.String("winner"))),
		Reason:             ctx.String("reason"),
		Summary:            ctx.String("summary"),
		BuyerPayoutAmount:  buyerPayout,
		SellerPayoutAmount: sellerPayout,
		CloseDate:          time.Now().Unix(),
	}
	path := fmt.Sprintf("/trades/%s/dispute/close", tradeId)
	if err := client.post(ctx, path, result, nil); err != nil {
		return err
	}
	fmt.Fprintln(ctx.App.Writer, "dispute closed")
	return nil
}
