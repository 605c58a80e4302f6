package main

import "github.com/urfave/cli/v2"

var info = cli.Command{
	Name:   "info",
	Usage:  "get the node address, the public keys and the role of the daemon",
	Action: infoAction,
}

func infoAction(ctx *cli.Context) error {
	client, err := getOperatorClient(ctx)
	if err != nil {
		return err
	}

	var reply map[string]interface{}
	if err := client.get(ctx, "/info", &reply); err != nil {
		return err
	}
	return printRespJSON(ctx, reply)
}
