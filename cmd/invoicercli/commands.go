package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/fuentelabs/invoicer/adminconf"
	"github.com/fuentelabs/invoicer/journal"
	"github.com/fuentelabs/invoicer/nostr"
	"github.com/fuentelabs/invoicer/orders"
	"github.com/fuentelabs/invoicer/relay"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli"
	"golang.org/x/term"
)

const (
	// connectTimeout bounds the wait for the first relay connection.
	connectTimeout = 15 * time.Second

	// requestTimeout bounds status server requests.
	requestTimeout = 10 * time.Second
)

func printRespJSON(resp interface{}) {
	jsonBytes, err := json.MarshalIndent(resp, "", "    ")
	if err != nil {
		fmt.Println("unable to decode response: ", err)
		return
	}

	fmt.Println(string(jsonBytes))
}

// readKey returns the private key given by flag, prompting for it on a
// terminal if it is empty.
func readKey(ctx *cli.Context, flag string) (*nostr.Keys, error) {
	privKey := ctx.String(flag)
	if privKey == "" {
		// The variable syscall.Stdin is of a different type in the
		// Windows API that's why we need the explicit cast.
		fd := int(syscall.Stdin) // nolint:unconvert
		if !term.IsTerminal(fd) {
			return nil, fmt.Errorf("--%s required", flag)
		}

		fmt.Print("Private key (hex): ")
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return nil, err
		}
		privKey = string(raw)
	}

	return nostr.ParseKeys(strings.TrimSpace(privKey))
}

var genKeyCommand = cli.Command{
	Name:     "genkey",
	Category: "Keys",
	Usage:    "Generate a new identity key pair.",
	Action:   genKey,
}

type keyPair struct {
	PrivateKey string `json:"private_key,omitempty"`
	PublicKey  string `json:"public_key"`
}

func genKey(_ *cli.Context) error {
	keys, err := nostr.GenerateKeys()
	if err != nil {
		return err
	}

	printRespJSON(&keyPair{
		PrivateKey: keys.PrivateKeyHex(),
		PublicKey:  keys.PublicKey(),
	})

	return nil
}

var pubKeyCommand = cli.Command{
	Name:      "pubkey",
	Category:  "Keys",
	Usage:     "Derive the public key of a private key.",
	ArgsUsage: "[privatekey]",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:   "privatekey",
			Usage:  "the hex private key",
			EnvVar: "INVOICER_PRIVATE_KEY",
		},
	},
	Action: pubKey,
}

func pubKey(ctx *cli.Context) error {
	var (
		keys *nostr.Keys
		err  error
	)
	if ctx.NArg() > 0 {
		keys, err = nostr.ParseKeys(ctx.Args().First())
	} else {
		keys, err = readKey(ctx, "privatekey")
	}
	if err != nil {
		return err
	}

	printRespJSON(&keyPair{PublicKey: keys.PublicKey()})

	return nil
}

var adminRequestCommand = cli.Command{
	Name:     "adminrequest",
	Category: "Admin",
	Usage:    "Replace an entry of the platform configuration.",
	Description: `
	Sign a configuration request with an admin key, wrap it for the platform
	and publish it on the given relays.

	The type is one of AdminWhitelist, CommerceWhitelist, ConsumerBlacklist,
	UserRegistrations, ExchangeRate or CourierWhitelist (or its numeric
	code). Key lists are given as a JSON array of hex pubkeys, the exchange
	rate as a decimal number.`,
	ArgsUsage: "type value",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:   "privatekey",
			Usage:  "the hex private key of the admin",
			EnvVar: "INVOICER_ADMIN_KEY",
		},
		cli.StringFlag{
			Name:  "platform",
			Usage: "the hex pubkey of the platform",
		},
		cli.StringFlag{
			Name: "relays",
			Usage: "newline or comma separated ws:// or wss:// " +
				"relays to publish on",
			EnvVar: "RELAY_URLS",
		},
		cli.BoolFlag{
			Name:  "print",
			Usage: "print the envelope instead of publishing it",
		},
	},
	Action: adminRequest,
}

func adminRequest(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return cli.ShowCommandHelp(ctx, "adminrequest")
	}

	keys, err := readKey(ctx, "privatekey")
	if err != nil {
		return fmt.Errorf("invalid admin key: %w", err)
	}

	envelope, err := buildAdminRequest(
		keys, ctx.String("platform"), ctx.Args().Get(0),
		ctx.Args().Get(1),
	)
	if err != nil {
		return err
	}

	if ctx.Bool("print") {
		printRespJSON(envelope)
		return nil
	}

	relays := strings.FieldsFunc(ctx.String("relays"), func(r rune) bool {
		return r == '\n' || r == ',' || r == ' '
	})

	return publish(
		context.Background(), relays, ctx.GlobalString("socksproxy"),
		envelope,
	)
}

// buildAdminRequest signs the request and wraps it for the platform.
func buildAdminRequest(keys *nostr.Keys, platform, configType,
	value string) (*nostr.Note, error) {

	if !nostr.ValidPubKey(platform) {
		return nil, fmt.Errorf("invalid platform pubkey %q", platform)
	}

	t, err := adminconf.ParseConfigType(configType)
	if err != nil {
		return nil, err
	}

	// Validate the value locally so a typo is not published.
	if err := adminconf.NewConfiguration().Apply(t, value); err != nil {
		return nil, err
	}

	req := &adminconf.ServerRequest{ConfigType: t, ConfigStr: value}
	inner, err := req.Sign(keys)
	if err != nil {
		return nil, err
	}

	return keys.Wrap(inner, orders.KindAdminRequest, platform)
}

// publish broadcasts notes once at least one relay is connected.
func publish(ctx context.Context, relays []string, socksProxy string,
	notes ...*nostr.Note) error {

	pool, err := relay.NewPool(&relay.Config{
		URLs:   relays,
		Dialer: relay.NewDialer(socksProxy),
	})
	if err != nil {
		return err
	}
	if err := pool.Start(ctx); err != nil {
		return err
	}
	defer pool.Stop()

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	poll := time.NewTicker(50 * time.Millisecond)
	defer poll.Stop()

	for pool.NumConnected() == 0 {
		select {
		case <-poll.C:
		case <-ctx.Done():
			return errors.New("no relay reachable")
		}
	}

	if err := pool.Broadcast(ctx, notes...); err != nil {
		return err
	}

	for _, n := range notes {
		fmt.Printf("published %s on %d relays\n", n.ID,
			pool.NumConnected())
	}

	return nil
}

var orderCommand = cli.Command{
	Name:      "order",
	Category:  "Status",
	Usage:     "Show the status and history of an order.",
	ArgsUsage: "order_id",
	Action:    order,
}

func order(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "order")
	}

	var resp json.RawMessage
	err := fetchStatus(
		ctx.GlobalString("statusserver"),
		"/orders/"+url.PathEscape(ctx.Args().First()), &resp,
	)
	if err != nil {
		return err
	}
	printRespJSON(resp)

	return nil
}

var interventionsCommand = cli.Command{
	Name:     "interventions",
	Category: "Status",
	Usage:    "List failed cleanups that need an operator.",
	Flags: []cli.Flag{
		cli.BoolFlag{
			Name:  "json",
			Usage: "print JSON instead of a table",
		},
	},
	Action: interventions,
}

func interventions(ctx *cli.Context) error {
	var list []journal.Intervention
	err := fetchStatus(
		ctx.GlobalString("statusserver"), "/interventions", &list,
	)
	if err != nil {
		return err
	}

	if ctx.Bool("json") {
		printRespJSON(list)
		return nil
	}

	renderInterventions(os.Stdout, list)

	return nil
}

// renderInterventions writes the interventions as a table.
func renderInterventions(w io.Writer, list []journal.Intervention) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"#", "time", "order", "action", "error"})
	for _, i := range list {
		t.AppendRow(table.Row{
			i.Seq, i.Time.Format(time.RFC3339), i.OrderID, i.Action,
			i.Error,
		})
	}
	t.AppendFooter(table.Row{"", "", "", "total", len(list)})
	t.Render()
}

// fetchStatus decodes the JSON served by the status server at path.
func fetchStatus(server, path string, v interface{}) error {
	if !strings.Contains(server, "://") {
		server = "http://" + server
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(
		ctx, http.MethodGet, server+path, nil,
	)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
		}

		return errors.New(resp.Status)
	}

	return json.Unmarshal(body, v)
}
