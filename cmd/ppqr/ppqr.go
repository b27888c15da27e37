package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/tablepos/promptpay/history"
	"github.com/tablepos/promptpay/promptpay"
	"github.com/tablepos/promptpay/qrimage"
	"github.com/urfave/cli/v2"
)

const (
	idFlag      = "id"
	kindFlag    = "kind"
	amountFlag  = "amount"
	nameFlag    = "name"
	cityFlag    = "city"
	refFlag     = "ref"
	staticFlag  = "static"
	dynamicFlag = "dynamic"
	outFlag     = "out"
	scaleFlag   = "scale"
	limitFlag   = "limit"
)

var historyDB *history.BoltDB

func main() {
	// .env is optional, the environment may already be set
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Fatalf("error loading .env file: %v", err)
	}

	app := &cli.App{
		Name:  "ppqr",
		Usage: "PromptPay QR payload generator",
		Commands: []*cli.Command{
			payloadCmd,
			qrCmd,
			decodeCmd,
			historyCmd,
		},
		After: func(ctx *cli.Context) error {
			if historyDB != nil {
				return historyDB.Close()
			}
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// historyPath returns the path of the payload history
// at $HOME/.tablepos/ppqr
func historyPath() (string, error) {
	homedir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	path := filepath.Join(homedir, ".tablepos", "ppqr")
	if err := os.MkdirAll(path, 0700); err != nil {
		return "", err
	}
	return path, nil
}

func setupHistory(ctx *cli.Context) error {
	path, err := historyPath()
	if err != nil {
		return err
	}
	historyDB, err = history.InitBolt(path)
	return err
}

var payloadFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    idFlag,
		Usage:   "PromptPay phone number or national id",
		EnvVars: []string{"SYSTEM_PROMPTPAY_ID"},
	},
	&cli.StringFlag{
		Name:    kindFlag,
		Usage:   "identifier kind: PHONE or NATIONAL_ID",
		Value:   promptpay.Phone.String(),
		EnvVars: []string{"SYSTEM_PROMPTPAY_KIND"},
	},
	&cli.StringFlag{
		Name:  amountFlag,
		Usage: "amount in THB",
	},
	&cli.StringFlag{
		Name:  nameFlag,
		Usage: "merchant name",
	},
	&cli.StringFlag{
		Name:  cityFlag,
		Usage: "merchant city",
	},
	&cli.StringFlag{
		Name:  refFlag,
		Usage: "payment reference, cut to 25 characters",
	},
	&cli.BoolFlag{
		Name:  staticFlag,
		Usage: "mark the payload as reusable",
	},
	&cli.BoolFlag{
		Name:  dynamicFlag,
		Usage: "mark the payload as single use",
	},
}

type payloadInput struct {
	identifier string
	kind       promptpay.IdentifierKind
	opts       promptpay.Options
}

func readPayloadFlags(ctx *cli.Context) (payloadInput, error) {
	identifier := ctx.String(idFlag)
	if len(identifier) == 0 {
		return payloadInput{}, errors.New("specify a PromptPay identifier with --id")
	}

	kind, err := promptpay.ParseIdentifierKind(ctx.String(kindFlag))
	if err != nil {
		return payloadInput{}, err
	}

	opts := promptpay.Options{
		MerchantName: ctx.String(nameFlag),
		MerchantCity: ctx.String(cityFlag),
		Reference:    ctx.String(refFlag),
	}

	if ctx.IsSet(amountFlag) {
		amount, err := decimal.NewFromString(ctx.String(amountFlag))
		if err != nil {
			return payloadInput{}, fmt.Errorf("invalid amount '%v'", ctx.String(amountFlag))
		}
		opts.Amount = &amount
	}

	if ctx.Bool(staticFlag) && ctx.Bool(dynamicFlag) {
		return payloadInput{}, errors.New("--static and --dynamic cannot be used together")
	}
	if ctx.Bool(staticFlag) {
		dynamic := false
		opts.Dynamic = &dynamic
	} else if ctx.Bool(dynamicFlag) {
		dynamic := true
		opts.Dynamic = &dynamic
	}

	return payloadInput{identifier: identifier, kind: kind, opts: opts}, nil
}

// saveHistory records a generated payload. Failing to save
// does not fail the command.
func saveHistory(input payloadInput, payload string) {
	if historyDB == nil {
		return
	}

	record := history.Record{
		Payload:   payload,
		Kind:      input.kind.String(),
		Reference: input.opts.Reference,
		CreatedAt: time.Now().Unix(),
	}
	if id, err := promptpay.NormalizeIdentifier(input.identifier, input.kind); err == nil {
		record.Identifier = id.Digits()
	}
	if input.opts.Amount != nil {
		record.Amount, _ = promptpay.FormatAmount(*input.opts.Amount)
	}

	if _, err := historyDB.Save(record); err != nil {
		fmt.Fprintf(os.Stderr, "could not save payload to history: %v\n", err)
	}
}

var payloadCmd = &cli.Command{
	Name:   "payload",
	Usage:  "print the payload text",
	Before: setupHistory,
	Flags:  payloadFlags,
	Action: printPayload,
}

func printPayload(ctx *cli.Context) error {
	input, err := readPayloadFlags(ctx)
	if err != nil {
		printErr(err)
	}

	payload, err := promptpay.BuildPayload(input.identifier, input.kind, input.opts)
	if err != nil {
		printErr(err)
	}
	saveHistory(input, payload)

	fmt.Println(payload)
	return nil
}

var qrCmd = &cli.Command{
	Name:   "qr",
	Usage:  "write the payload as a PNG QR code",
	Before: setupHistory,
	Flags: append([]cli.Flag{
		&cli.StringFlag{
			Name:  outFlag,
			Usage: "output file",
			Value: "promptpay.png",
		},
		&cli.IntFlag{
			Name:    scaleFlag,
			Usage:   "pixels per QR module",
			Value:   qrimage.DefaultScale,
			EnvVars: []string{"QR_SCALE"},
		},
	}, payloadFlags...),
	Action: writeQR,
}

func writeQR(ctx *cli.Context) error {
	input, err := readPayloadFlags(ctx)
	if err != nil {
		printErr(err)
	}

	payload, err := promptpay.BuildPayload(input.identifier, input.kind, input.opts)
	if err != nil {
		printErr(err)
	}

	png, err := qrimage.NewPNGRenderer(ctx.Int(scaleFlag)).Render(payload)
	if err != nil {
		printErr(err)
	}

	out := ctx.String(outFlag)
	if err := os.WriteFile(out, png, 0644); err != nil {
		printErr(err)
	}
	saveHistory(input, payload)

	fmt.Printf("QR code for payload '%v' written to %v\n", payload, out)
	return nil
}

var decodeCmd = &cli.Command{
	Name:      "decode",
	Usage:     "verify a payload and print its fields",
	ArgsUsage: "[payload]",
	Action:    decode,
}

func decode(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("payload not provided"))
	}

	details, err := promptpay.Decode(args.First())
	if err != nil {
		printErr(err)
	}

	mode := "static"
	if details.Dynamic {
		mode = "dynamic"
	}

	fmt.Printf("identifier: %v (%v)\n", details.Identifier.Digits(), details.Identifier.Kind())
	fmt.Printf("mode: %v\n", mode)
	if details.Amount != nil {
		fmt.Printf("amount: %v THB\n", details.Amount.StringFixed(2))
	}
	fmt.Printf("merchant: %v, %v\n", details.MerchantName, details.MerchantCity)
	if len(details.Reference) > 0 {
		fmt.Printf("reference: %v\n", details.Reference)
	}
	fmt.Printf("checksum: %v\n", details.Checksum)
	return nil
}

var historyCmd = &cli.Command{
	Name:   "history",
	Usage:  "list generated payloads, newest first",
	Before: setupHistory,
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  limitFlag,
			Usage: "max number of payloads to list",
			Value: 10,
		},
	},
	Action: listHistory,
}

func listHistory(ctx *cli.Context) error {
	records, err := historyDB.List(ctx.Int(limitFlag))
	if err != nil {
		printErr(err)
	}

	if len(records) == 0 {
		fmt.Println("no payloads generated yet")
		return nil
	}

	for _, record := range records {
		createdAt := time.Unix(record.CreatedAt, 0).Format(time.DateTime)
		amount := "-"
		if len(record.Amount) > 0 {
			amount = record.Amount
		}
		fmt.Printf("#%v  %v  %v %v  amount: %v  ref: %v\n",
			record.Id, createdAt, record.Kind, record.Identifier, amount, strconv.Quote(record.Reference))
		fmt.Printf("    %v\n", record.Payload)
	}
	return nil
}

func printErr(msg error) {
	fmt.Println(msg.Error())
	os.Exit(1)
}
