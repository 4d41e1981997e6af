// Command bsctl is a thin JSON-RPC client for talking to a running
// bsd's bitcoind-compatible RPC endpoint, in the same spirit as
// lncli: a urfave/cli app whose commands each build one request,
// round-trip it over HTTP, and print the decoded result.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/urfave/cli"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[bsctl] %v\n", err)
	os.Exit(1)
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	ID     int             `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func call(ctx *cli.Context, method string, params ...interface{}) (json.RawMessage, error) {
	req := rpcRequest{JSONRPC: "1.0", ID: 1, Method: method, Params: params}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	url := "http://" + ctx.GlobalString("rpcserver") + "/"
	httpResp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}

	var resp rpcResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("malformed response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("rpc error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	return resp.Result, nil
}

func printResult(result json.RawMessage) {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, result, "", "  "); err != nil {
		fmt.Println(string(result))
		return
	}
	fmt.Println(pretty.String())
}

var getInfoCommand = cli.Command{
	Name:  "getinfo",
	Usage: "returns the chain tip as seen by the gateway's query facade",
	Action: func(ctx *cli.Context) error {
		result, err := call(ctx, "getblockchaininfo")
		if err != nil {
			return err
		}
		printResult(result)
		return nil
	},
}

var getBlockHeaderCommand = cli.Command{
	Name:      "getblockheader",
	Usage:     "returns the header for a given block hash",
	ArgsUsage: "<blockhash>",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 1 {
			return cli.ShowCommandHelp(ctx, "getblockheader")
		}
		result, err := call(ctx, "getblockheader", ctx.Args().First())
		if err != nil {
			return err
		}
		printResult(result)
		return nil
	},
}

var sendRawTransactionCommand = cli.Command{
	Name:      "sendrawtransaction",
	Usage:     "submits a raw signed transaction to the mempool",
	ArgsUsage: "<hex>",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 1 {
			return cli.ShowCommandHelp(ctx, "sendrawtransaction")
		}
		result, err := call(ctx, "sendrawtransaction", ctx.Args().First())
		if err != nil {
			return err
		}
		printResult(result)
		return nil
	},
}

var estimateFeeCommand = cli.Command{
	Name:      "estimatefee",
	Usage:     "estimates a fee rate for confirmation within the given block horizon",
	ArgsUsage: "<conf_target>",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 1 {
			return cli.ShowCommandHelp(ctx, "estimatefee")
		}
		target, err := strconv.Atoi(ctx.Args().First())
		if err != nil {
			return fmt.Errorf("conf_target must be an integer: %w", err)
		}
		result, err := call(ctx, "estimatesmartfee", target)
		if err != nil {
			return err
		}
		printResult(result)
		return nil
	},
}

func main() {
	app := cli.NewApp()
	app.Name = "bsctl"
	app.Version = "0.1.0"
	app.Usage = "control plane for bsd, the bitcoin full-node gateway"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "rpcserver",
			Value: "localhost:8334",
			Usage: "host:port of the bitcoind-compatible RPC endpoint",
		},
	}
	app.Commands = []cli.Command{
		getInfoCommand,
		getBlockHeaderCommand,
		sendRawTransactionCommand,
		estimateFeeCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}
