package main

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

var trades = cli.Command{
	Name:  "trades",
	Usage: "inspect and advance the trades of the daemon",
	Subcommands: []*cli.Command{
		{
			Name:  "list",
			Usage: "list the trades of a bucket",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "bucket",
					Usage: "one of open, closed or failed",
					Value: "open",
				},
			},
			Action: listTradesAction,
		},
		{
			Name:      "get",
			Usage:     "get the details of a trade",
			ArgsUsage: "<trade_id>",
			Action:    getTradeAction,
		},
		{
			Name:      "paymentsent",
			Usage:     "confirm, as buyer, that the counter currency payment was sent",
			ArgsUsage: "<trade_id>",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "txid",
					Usage: "the id of the counter currency payment, if any",
				},
			},
			Action: paymentSentAction,
		},
		{
			Name:      "paymentreceived",
			Usage:     "confirm, as seller, that the counter currency payment was received",
			ArgsUsage: "<trade_id>",
			Action:    paymentReceivedAction,
		},
	},
}

func listTradesAction(ctx *cli.Context) error {
	client, err := getOperatorClient(ctx)
	if err != nil {
		return err
	}

	var reply []map[string]interface{}
	if err := client.get(ctx, "/trades?bucket="+ctx.String("bucket"), &reply); err != nil {
		return err
	}
	return printRespJSON(ctx, reply)
}

func getTradeAction(ctx *cli.Context) error {
	if ctx.NArg() < 1 {
		return &invalidUsageError{ctx, "get"}
	}
	client, err := getOperatorClient(ctx)
	if err != nil {
		return err
	}

	var reply map[string]interface{}
	if err := client.get(ctx, "/trades/"+ctx.Args().First(), &reply); err != nil {
		return err
	}
	return printRespJSON(ctx, reply)
}

func paymentSentAction(ctx *cli.Context) error {
	if ctx.NArg() < 1 {
		return &invalidUsageError{ctx, "paymentsent"}
	}
	client, err := getOperatorClient(ctx)
	if err != nil {
		return err
	}

	tradeId := ctx.Args().First()
	if err := client.post(ctx, fmt.Sprintf("/trades/%s/payment-sent", tradeId), map[string]string{
		"counterCurrencyTxId": ctx.String("txid"),
	}, nil); err != nil {
		return err
	}
	fmt.Fprintln(ctx.App.Writer, "payment sent confirmed")
	return nil
}

func paymentReceivedAction(ctx *cli.Context) error {
	if ctx.NArg() < 1 {
		return &invalidUsageError{ctx, "paymentreceived"}
	}
	client, err := getOperatorClient(ctx)
	if err != nil {
		return err
	}

	tradeId := ctx.Args().First()
	if err := client.post(
		ctx, fmt.Sprintf("/trades/%s/payment-received", tradeId), nil, nil,
	); err != nil {
		return err
	}
	fmt.Fprintln(ctx.App.Writer, "payment received confirmed")
	return nil
}
