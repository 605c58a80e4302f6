package main

import (
	"fmt"
	"net/url"

	"github.com/urfave/cli/v2"
)

var webhooks = cli.Command{
	Name:  "webhooks",
	Usage: "manage the webhooks notified of trade events",
	Subcommands: []*cli.Command{
		{
			Name:  "add",
			Usage: "add a webhook registered for some topic",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "endpoint",
					Usage:    "the endpoint where to notify the webhook",
					Required: true,
				},
				&cli.StringFlag{
					Name:  "secret",
					Usage: "the eventual secret to authenticate requests",
				},
				&cli.StringFlag{
					Name:  "topic",
					Usage: "the topic for which the webhook gets notified, * for any",
					Value: "*",
				},
			},
			Action: addWebhookAction,
		},
		{
			Name:      "remove",
			Usage:     "remove a webhook",
			ArgsUsage: "<hook_id>",
			Action:    removeWebhookAction,
		},
		{
			Name:  "list",
			Usage: "list all webhooks registered for some topic",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "topic",
					Usage: "the topic to filter hooks by",
				},
			},
			Action: listWebhooksAction,
		},
	},
}

func addWebhookAction(ctx *cli.Context) error {
	client, err := getOperatorClient(ctx)
	if err != nil {
		return err
	}

	var reply struct {
		Id string `json:"id"`
	}
	if err := client.post(ctx, "/webhooks", map[string]string{
		"topic":    ctx.String("topic"),
		"endpoint": ctx.String("endpoint"),
		"secret":   ctx.String("secret"),
	}, &reply); err != nil {
		return err
	}

	fmt.Fprintln(ctx.App.Writer, "hook id:", reply.Id)
	return nil
}

func removeWebhookAction(ctx *cli.Context) error {
	if ctx.NArg() < 1 {
		return &invalidUsageError{ctx, "remove"}
	}
	client, err := getOperatorClient(ctx)
	if err != nil {
		return err
	}

	if err := client.delete(ctx, "/webhooks/"+ctx.Args().First()); err != nil {
		return err
	}
	fmt.Fprintln(ctx.App.Writer, "webhook removed")
	return nil
}

func listWebhooksAction(ctx *cli.Context) error {
	client, err := getOperatorClient(ctx)
	if err != nil {
		return err
	}

	path := "/webhooks"
	if topic := ctx.String("topic"); len(topic) > 0 {
		path += "?topic=" + url.QueryEscape(topic)
	}
	var reply []map[string]interface{}
	if err := client.get(ctx, path, &reply); err != nil {
		return err
	}
	return printRespJSON(ctx, reply)
}
