package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/urfave/cli/v2"
)

const stateFile = "state.json"

var (
	defaultDatadir = btcutil.AppDataDir("escrow-operator", false)

	datadirFlag = cli.StringFlag{
		Name:  "datadir",
		Usage: "directory of the local state of the CLI",
		Value: defaultDatadir,
	}
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fatal(err)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()

	app.Version = "0.1.0"
	app.Name = "escrow operator CLI"
	app.Usage = "Command line interface for escrowd daemon operators"
	app.Flags = []cli.Flag{&datadirFlag}
	app.Commands = append(
		app.Commands,
		&config,
		&info,
		&offers,
		&trades,
		&disputes,
		&webhooks,
	)
	return app
}

func statePath(ctx *cli.Context) string {
	return filepath.Join(ctx.String(datadirFlag.Name), stateFile)
}

func getState(ctx *cli.Context) (map[string]string, error) {
	data := map[string]string{}

	buf, err := os.ReadFile(statePath(ctx))
	if err != nil {
		return nil, errors.New("get config state error: try 'config init'")
	}
	if err := json.Unmarshal(buf, &data); err != nil {
		return nil, fmt.Errorf("invalid config state: %w", err)
	}
	return data, nil
}

func setState(ctx *cli.Context, data map[string]string) error {
	datadir := ctx.String(datadirFlag.Name)
	if _, err := os.Stat(datadir); os.IsNotExist(err) {
		if err := os.MkdirAll(datadir, os.ModeDir|0755); err != nil {
			return err
		}
	}

	currentData, err := getState(ctx)
	if err != nil {
		currentData = map[string]string{}
	}
	mergedData := merge(currentData, data)

	buf, err := json.Marshal(mergedData)
	if err != nil {
		return err
	}
	if err := os.WriteFile(statePath(ctx), buf, 0600); err != nil {
		return fmt.Errorf("writing to file: %w", err)
	}
	return nil
}

func merge(maps ...map[string]string) map[string]string {
	merge := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			merge[k] = v
		}
	}
	return merge
}

func printRespJSON(ctx *cli.Context, resp interface{}) error {
	buf, err := json.MarshalIndent(resp, "", "\t")
	if err != nil {
		return fmt.Errorf("unable to decode response: %w", err)
	}
	fmt.Fprintln(ctx.App.Writer, string(buf))
	return nil
}

type invalidUsageError struct {
	ctx     *cli.Context
	command string
}

func (e *invalidUsageError) Error() string {
	return fmt.Sprintf("invalid usage of command %s", e.command)
}

func fatal(err error) {
	var e *invalidUsageError
	if errors.As(err, &e) {
		_ = cli.ShowCommandHelp(e.ctx, e.command)
	} else {
		_, _ = fmt.Fprintf(os.Stderr, "[escrow] %v\n", err)
	}
	os.Exit(1)
}
