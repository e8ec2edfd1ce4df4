package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"time"

	"github.com/elnosh/nutsack/cashu"
	"github.com/elnosh/nutsack/wallet"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

var nutw *wallet.Wallet

func walletConfig() wallet.Config {
	path := setWalletPath()
	config := wallet.DefaultConfig()
	config.WalletPath = path
	config.CurrentMintURL = "http://127.0.0.1:3338"

	envPath := filepath.Join(path, ".env")
	if _, err := os.Stat(envPath); err != nil {
		wd, err := os.Getwd()
		if err != nil {
			envPath = ""
		} else {
			envPath = filepath.Join(wd, ".env")
		}
	}

	if len(envPath) > 0 {
		// variables already set in the environment are not overridden
		godotenv.Load(envPath)
	}
	config.CurrentMintURL = getMintURL()
	config.Mnemonic = os.Getenv("WALLET_MNEMONIC")

	if timeout, err := time.ParseDuration(os.Getenv("NUTW_POLL_TIMEOUT")); err == nil {
		config.PollTimeout = timeout
	}
	randomSecrets, _ := strconv.ParseBool(os.Getenv("NUTW_RANDOM_SECRETS"))
	config.RandomSecrets = randomSecrets

	logger, err := setupLogger(path, os.Getenv("NUTW_LOG_LEVEL"))
	if err != nil {
		log.Fatal(err)
	}
	config.Logger = logger

	return config
}

func setWalletPath() string {
	homedir, err := os.UserHomeDir()
	if err != nil {
		log.Fatal(err)
	}

	path := filepath.Join(homedir, ".gonuts", "wallet")
	err = os.MkdirAll(path, 0700)
	if err != nil {
		log.Fatal(err)
	}
	return path
}

func getMintURL() string {
	mintUrl := os.Getenv("MINT_URL")
	if len(mintUrl) > 0 {
		return mintUrl
	}

	mintHost := os.Getenv("MINT_HOST")
	mintPort := os.Getenv("MINT_PORT")
	if len(mintHost) == 0 || len(mintPort) == 0 {
		return "http://127.0.0.1:3338"
	}

	url := &url.URL{
		Scheme: "http",
		Host:   mintHost + ":" + mintPort,
	}
	return url.String()
}

func setupWallet(ctx *cli.Context) error {
	config := walletConfig()

	var err error
	nutw, err = wallet.LoadWallet(config)
	if err != nil {
		printErr(err)
	}
	return nil
}

func shutdownWallet(ctx *cli.Context) error {
	if nutw != nil {
		nutw.Shutdown()
	}
	closeLogger()
	return nil
}

func main() {
	app := &cli.App{
		Name:  "nutw",
		Usage: "cashu cli wallet",
		Commands: []*cli.Command{
			balanceCmd,
			mintCmd,
			sendCmd,
			receiveCmd,
			payCmd,
			invoicesCmd,
			mnemonicCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// interruptContext is canceled on ctrl-c so that a long poll
// leaves the invoice as expired instead of killing the process.
func interruptContext(ctx *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx.Context, os.Interrupt)
}

var balanceCmd = &cli.Command{
	Name:   "balance",
	Usage:  "Wallet balance by mint",
	Before: setupWallet,
	After:  shutdownWallet,
	Action: getBalance,
}

func getBalance(ctx *cli.Context) error {
	balanceByMints := nutw.GetBalanceByMints()
	fmt.Printf("Balance by mint:\n\n")
	totalBalance := uint64(0)

	for mint, balance := range balanceByMints {
		fmt.Printf("Mint: %v ---- balance: %v sats\n", mint, balance)
		totalBalance += balance
	}

	fmt.Printf("\nTotal balance: %v sats\n", totalBalance)
	return nil
}

var receiveCmd = &cli.Command{
	Name:      "receive",
	Usage:     "Receive a cashu token",
	ArgsUsage: "[TOKEN]",
	Before:    setupWallet,
	After:     shutdownWallet,
	Action:    receive,
}

func receive(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("cashu token not provided"))
	}
	serializedToken := args.First()

	token, err := cashu.DecodeToken(serializedToken)
	if err != nil {
		printErr(err)
	}

	amount, err := nutw.Receive(ctx.Context, token)
	if err != nil {
		printErr(err)
	}

	fmt.Printf("%v sats received\n", amount)
	return nil
}

const invoiceFlag = "invoice"

var mintCmd = &cli.Command{
	Name:      "mint",
	Usage:     "Request an invoice and mint tokens once it is paid",
	ArgsUsage: "[AMOUNT]",
	Before:    setupWallet,
	After:     shutdownWallet,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  invoiceFlag,
			Usage: "Payment hash of a previously requested invoice to mint tokens for",
		},
	},
	Action: mint,
}

func mint(ctx *cli.Context) error {
	// if an invoice was passed, resume waiting for it
	if ctx.IsSet(invoiceFlag) {
		err := mintTokens(ctx, ctx.String(invoiceFlag))
		if err != nil {
			printErr(err)
		}
		return nil
	}

	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("specify an amount to mint"))
	}
	amountStr := args.First()
	err := requestMint(ctx, amountStr)
	if err != nil {
		printErr(err)
	}

	return nil
}

func requestMint(ctx *cli.Context, amountStr string) error {
	amount, err := strconv.ParseUint(amountStr, 10, 64)
	if err != nil {
		return errors.New("invalid amount")
	}

	session, err := nutw.NewMintSession(nutw.CurrentMint(), amount)
	if err != nil {
		return err
	}

	invoice, err := session.Request(ctx.Context)
	if err != nil {
		return err
	}

	fmt.Printf("invoice: %v\n\n", invoice.PaymentRequest)
	fmt.Println("waiting for the invoice to be paid...")

	return waitAndMint(ctx, session)
}

func mintTokens(ctx *cli.Context, hash string) error {
	session, err := nutw.ResumeMintSession(nutw.CurrentMint(), hash)
	if err != nil {
		return err
	}
	return waitAndMint(ctx, session)
}

func waitAndMint(ctx *cli.Context, session *wallet.MintSession) error {
	runCtx, cancel := interruptContext(ctx)
	defer cancel()

	proofs, err := session.Run(runCtx)
	if errors.Is(err, wallet.ErrInvoiceExpired) {
		fmt.Printf("invoice was not paid in time. If you pay it later, you can redeem "+
			"the ecash using the --%v flag with hash: %v\n", invoiceFlag, session.Hash())
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Printf("%v sats successfully minted\n", proofs.Amount())
	return nil
}

const v4Flag = "v4"

var sendCmd = &cli.Command{
	Name:      "send",
	Usage:     "Generates token to be sent for the specified amount",
	ArgsUsage: "[AMOUNT]",
	Before:    setupWallet,
	After:     shutdownWallet,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  v4Flag,
			Usage: "Serialize token in the cashuB format",
		},
	},
	Action: send,
}

func send(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("specify an amount to send"))
	}
	amountStr := args.First()
	sendAmount, err := strconv.ParseUint(amountStr, 10, 64)
	if err != nil {
		printErr(err)
	}

	tokenV3, err := nutw.Send(ctx.Context, sendAmount)
	if err != nil {
		printErr(err)
	}

	var token cashu.Token = tokenV3
	if ctx.Bool(v4Flag) {
		tokenV4, err := cashu.NewTokenV4(tokenV3.Proofs(), tokenV3.Mint(), cashu.Sat)
		if err != nil {
			printErr(err)
		}
		token = tokenV4
	}

	serialized, err := token.Serialize()
	if err != nil {
		printErr(err)
	}
	fmt.Printf("%v\n", serialized)
	return nil
}

var payCmd = &cli.Command{
	Name:      "pay",
	Usage:     "Pay a lightning invoice",
	ArgsUsage: "[INVOICE]",
	Before:    setupWallet,
	After:     shutdownWallet,
	Action:    pay,
}

func pay(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("specify a lightning invoice to pay"))
	}

	invoice := args.First()
	meltResult, err := nutw.Melt(ctx.Context, invoice)
	if err != nil {
		printErr(err)
	}

	fmt.Printf("invoice paid: %v\n", meltResult.Paid)
	fmt.Printf("preimage: %v\n", meltResult.Preimage)
	fmt.Printf("fee: %v sats\n", meltResult.Fee)
	if meltResult.ChangeErr != nil {
		fmt.Printf("change could not be stored: %v\n", meltResult.ChangeErr)
	}
	return nil
}

var invoicesCmd = &cli.Command{
	Name:   "invoices",
	Usage:  "List invoices of the current mint",
	Before: setupWallet,
	After:  shutdownWallet,
	Action: listInvoices,
}

func listInvoices(ctx *cli.Context) error {
	invoices, err := nutw.Invoices(nutw.CurrentMint())
	if err != nil {
		printErr(err)
	}

	for _, invoice := range invoices {
		fmt.Printf("%v ---- %v ---- %v sats ---- %v\n", invoice.Kind, invoice.Hash, invoice.Amount, invoice.Status)
		fmt.Printf("%v\n\n", invoice.PaymentRequest)
	}
	return nil
}

var mnemonicCmd = &cli.Command{
	Name:   "mnemonic",
	Usage:  "Mnemonic to restore wallet",
	Before: setupWallet,
	After:  shutdownWallet,
	Action: mnemonic,
}

func mnemonic(ctx *cli.Context) error {
	fmt.Printf("mnemonic: %v\n", nutw.Mnemonic())
	return nil
}

func printErr(msg error) {
	fmt.Println(msg.Error())
	shutdownWallet(nil)
	os.Exit(0)
}
