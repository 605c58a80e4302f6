package main

import (
	"errors"
	"fmt"
	"sort"

	httpinterface "github.com/tdex-network/escrowd/internal/interfaces/http"
	"github.com/urfave/cli/v2"
)

var (
	rpcFlag = cli.StringFlag{
		Name:  "rpcserver",
		Usage: "escrowd operator interface address host:port",
		Value: "localhost:9000",
	}

	tokenFlag = cli.StringFlag{
		Name:  "token",
		Usage: "bearer token for the operator interface",
		Value: "",
	}
)

var config = cli.Command{
	Name:   "config",
	Usage:  "Print local configuration of the escrow CLI",
	Action: configAction,
	Subcommands: []*cli.Command{
		{
			Name:   "set",
			Usage:  "set a <key> <value> in the local state",
			Action: configSetAction,
		},
		{
			Name:   "init",
			Usage:  "initialize the local state with flags",
			Action: configInitAction,
			Flags: []cli.Flag{
				&rpcFlag,
				&tokenFlag,
			},
		},
		{
			Name:  "gentoken",
			Usage: "generate a bearer token signed with the daemon's jwt secret and store it",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "secret",
					Usage:    "the OPERATOR_JWT_SECRET of the daemon",
					Required: true,
				},
				&cli.StringFlag{
					Name:  "scope",
					Usage: "either admin or readonly",
					Value: httpinterface.ScopeAdmin,
				},
				&cli.DurationFlag{
					Name:  "ttl",
					Usage: "lifetime of the token, 0 for no expiration",
				},
			},
			Action: configGenTokenAction,
		},
	},
}

func configAction(ctx *cli.Context) error {
	state, err := getState(ctx)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(state))
	for key := range state {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintln(ctx.App.Writer, key+": "+state[key])
	}
	return nil
}

func configInitAction(ctx *cli.Context) error {
	return setState(ctx, map[string]string{
		"rpcserver": ctx.String(rpcFlag.Name),
		"token":     ctx.String(tokenFlag.Name),
	})
}

func configSetAction(ctx *cli.Context) error {
	if ctx.NArg() < 2 {
		return errors.New("key and value are missing")
	}

	key := ctx.Args().Get(0)
	value := ctx.Args().Get(1)
	if err := setState(ctx, map[string]string{key: value}); err != nil {
		return err
	}

	fmt.Fprintf(ctx.App.Writer, "%s %s has been set\n", key, value)
	return nil
}

func configGenTokenAction(ctx *cli.Context) error {
	token, err := httpinterface.NewToken(
		[]byte(ctx.String("secret")), ctx.String("scope"), ctx.Duration("ttl"),
	)
	if err != nil {
		return err
	}
	if err := setState(ctx, map[string]string{"token": token}); err != nil {
		return err
	}

	fmt.Fprintln(ctx.App.Writer, token)
	return nil
}
