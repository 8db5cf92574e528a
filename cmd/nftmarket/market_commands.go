package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/brojonat/nftmarket/client"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

func newClient(c *cli.Context) *client.Client {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only errors to stderr
	}))
	return client.NewClient(c.String("server-url"), nil, logger)
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func walletCommands() *cli.Command {
	return &cli.Command{
		Name:  "wallet",
		Usage: "Wallet connection commands",
		Subcommands: []*cli.Command{
			{
				Name:  "status",
				Usage: "Show the server's wallet connection state",
				Action: func(c *cli.Context) error {
					status, err := newClient(c).Wallet(c.Context)
					if err != nil {
						return err
					}
					return printWalletStatus(c, status)
				},
			},
			{
				Name:  "connect",
				Usage: "Ask the server to connect its wallet",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "passphrase",
						Usage:   "Keystore passphrase",
						EnvVars: []string{"WALLET_PASSPHRASE"},
					},
					&cli.BoolFlag{
						Name:  "deny",
						Usage: "Refuse the connection request",
					},
				},
				Action: func(c *cli.Context) error {
					status, err := newClient(c).Connect(c.Context, !c.Bool("deny"), c.String("passphrase"))
					if err != nil {
						return err
					}
					return printWalletStatus(c, status)
				},
			},
		},
	}
}

func printWalletStatus(c *cli.Context, status *client.WalletStatus) error {
	w := c.App.Writer
	if c.Bool("json") {
		return printJSON(w, status)
	}
	fmt.Fprintf(w, "State:    %s\n", status.State)
	if status.Account != "" {
		fmt.Fprintf(w, "Account:  %s\n", status.Account)
	}
	fmt.Fprintf(w, "Currency: %s\n", status.Currency)
	if !status.HasWallet {
		fmt.Fprintf(w, "No wallet configured; the market is read-only.\n")
	}
	return nil
}

func assetCommands() *cli.Command {
	return &cli.Command{
		Name:  "asset",
		Usage: "Asset storage commands",
		Subcommands: []*cli.Command{
			{
				Name:      "upload",
				Usage:     "Upload a file and print its public URL",
				ArgsUsage: "FILE",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("file path is required")
					}
					path := c.Args().Get(0)
					f, err := os.Open(path)
					if err != nil {
						return fmt.Errorf("failed to open %s: %w", path, err)
					}
					defer f.Close()

					url, err := newClient(c).UploadAsset(c.Context, filepath.Base(path), f)
					if err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(c.App.Writer, map[string]string{"url": url})
					}
					fmt.Fprintln(c.App.Writer, url)
					return nil
				},
			},
		},
	}
}

func listingCommands() *cli.Command {
	return &cli.Command{
		Name:  "listing",
		Usage: "Marketplace listing commands",
		Subcommands: []*cli.Command{
			createListingCommand(),
			resellCommand(),
			listListingsCommand(),
			workflowStatusCommand(),
		},
	}
}

func createListingCommand() *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "Publish metadata and list a new token",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Required: true, Usage: "Token name"},
			&cli.StringFlag{Name: "description", Required: true, Usage: "Token description"},
			&cli.StringFlag{Name: "price", Required: true, Usage: "Price in the chain's currency, e.g. 0.025"},
			&cli.StringFlag{Name: "image", Usage: "Image URL returned by 'asset upload'"},
			&cli.StringFlag{Name: "file", Usage: "Upload this file first and use it as the image"},
			&cli.BoolFlag{Name: "durable", Usage: "Run as a server-side workflow and return its id"},
		},
		Action: func(c *cli.Context) error {
			cl := newClient(c)
			image := c.String("image")
			if path := c.String("file"); path != "" {
				f, err := os.Open(path)
				if err != nil {
					return fmt.Errorf("failed to open %s: %w", path, err)
				}
				image, err = cl.UploadAsset(c.Context, filepath.Base(path), f)
				f.Close()
				if err != nil {
					return err
				}
			}
			if image == "" {
				return fmt.Errorf("one of --image or --file is required")
			}

			req := client.CreateRequest{
				Name:        c.String("name"),
				Description: c.String("description"),
				Price:       c.String("price"),
				Image:       image,
			}

			if c.Bool("durable") {
				id, err := cl.CreateListingDurable(c.Context, req)
				if err != nil {
					return err
				}
				if c.Bool("json") {
					return printJSON(c.App.Writer, map[string]string{"workflow_id": id})
				}
				fmt.Fprintf(c.App.Writer, "Workflow started: %s\n", id)
				return nil
			}

			listing, err := cl.CreateListing(c.Context, req)
			if err != nil {
				return err
			}
			return printListing(c, listing)
		},
	}
}

func resellCommand() *cli.Command {
	return &cli.Command{
		Name:      "resell",
		Usage:     "Relist an owned token at a new price",
		ArgsUsage: "TOKEN_ID",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "price", Required: true, Usage: "New price"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("token id is required")
			}
			listing, err := newClient(c).Resell(c.Context, c.Args().Get(0), c.String("price"))
			if err != nil {
				return err
			}
			return printListing(c, listing)
		},
	}
}

func printListing(c *cli.Context, l *client.Listing) error {
	w := c.App.Writer
	if c.Bool("json") {
		return printJSON(w, l)
	}
	fmt.Fprintf(w, "Token ID:  %s\n", l.TokenID)
	fmt.Fprintf(w, "Token URI: %s\n", l.TokenURI)
	fmt.Fprintf(w, "Price:     %s\n", l.Price)
	fmt.Fprintf(w, "Tx:        %s (block %d)\n", l.TxHash, l.BlockNumber)
	return nil
}

func workflowStatusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show a durable listing workflow",
		ArgsUsage: "WORKFLOW_ID",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "wait", Usage: "Poll until the workflow closes"},
			&cli.DurationFlag{Name: "interval", Value: 2 * time.Second, Usage: "Poll interval for --wait"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("workflow id is required")
			}
			cl := newClient(c)
			id := c.Args().Get(0)

			status, err := cl.WorkflowStatus(c.Context, id)
			for err == nil && c.Bool("wait") && status.Status == "running" {
				select {
				case <-c.Context.Done():
					return c.Context.Err()
				case <-time.After(c.Duration("interval")):
				}
				status, err = cl.WorkflowStatus(c.Context, id)
			}
			if err != nil {
				return err
			}

			w := c.App.Writer
			if c.Bool("json") {
				return printJSON(w, status)
			}
			fmt.Fprintf(w, "Workflow: %s\n", status.WorkflowID)
			fmt.Fprintf(w, "Status:   %s\n", status.Status)
			if status.TokenURI != "" {
				fmt.Fprintf(w, "URI:      %s\n", status.TokenURI)
			}
			if status.Listing != nil {
				fmt.Fprintf(w, "Token ID: %s\n", status.Listing.TokenID)
			}
			if status.Error != "" {
				fmt.Fprintf(w, "Error:    %s\n", status.Error)
			}
			return nil
		},
	}
}

func listListingsCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List unsold tokens",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "jq",
				Usage: "jq filter each item must satisfy (repeatable), e.g. '.price | tonumber < 1'",
			},
		},
		Action: func(c *cli.Context) error {
			filters, err := compileFilters(c.StringSlice("jq"))
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(c.Context, 2*time.Minute)
			defer cancel()
			items, err := newClient(c).Listings(ctx)
			if err != nil {
				return err
			}

			kept := make([]client.Item, 0, len(items))
			for _, item := range items {
				ok, err := matchItem(filters, item)
				if err != nil {
					return err
				}
				if ok {
					kept = append(kept, item)
				}
			}

			w := c.App.Writer
			if c.Bool("json") {
				return printJSON(w, kept)
			}
			if len(kept) == 0 {
				fmt.Fprintln(w, "No items in marketplace")
				return nil
			}
			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TOKEN\tPRICE\tNAME\tSELLER")
			for _, item := range kept {
				name := item.Name
				if item.Error != "" {
					name = fmt.Sprintf("<%s: %s>", item.ErrorKind, item.Error)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", item.TokenID, item.Price, name, item.Seller)
			}
			return tw.Flush()
		},
	}
}

// compileFilters parses and compiles jq expressions.
func compileFilters(filters []string) ([]*gojq.Code, error) {
	codes := make([]*gojq.Code, len(filters))
	for i, filter := range filters {
		query, err := gojq.Parse(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
		}
		codes[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
		}
	}
	return codes, nil
}

// matchItem reports whether every filter yields a truthy first value for item.
func matchItem(codes []*gojq.Code, item client.Item) (bool, error) {
	if len(codes) == 0 {
		return true, nil
	}

	// gojq only walks plain maps and slices.
	data, err := json.Marshal(item)
	if err != nil {
		return false, err
	}
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return false, err
	}

	for _, code := range codes {
		iter := code.Run(v)
		out, ok := iter.Next()
		if !ok {
			return false, nil
		}
		if _, isErr := out.(error); isErr {
			return false, nil
		}
		if !isTruthy(out) {
			return false, nil
		}
	}
	return true, nil
}

// isTruthy follows jq: only false and null are falsy.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}
