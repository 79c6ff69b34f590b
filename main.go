package main

import (
	"context"
	"flag"
	"os"
	"receipt_fiscalizer/cis"
	"receipt_fiscalizer/fiscpdf"
	"receipt_fiscalizer/receipts"
	"receipt_fiscalizer/utils"

	"github.com/ansel1/merry"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func run(env utils.Env, serverAddr, certPath, certPassword, oib, operatorOib, premiseID, posID, issuerName, issuerAddress string, useVat, numberOnDevice bool) error {
	certP12, err := os.ReadFile(certPath)
	if err != nil {
		return merry.Wrap(err)
	}

	// Fail on bad credentials at startup, not on the first receipt.
	creds, err := cis.ExtractCredentials(certP12, certPassword)
	if err != nil {
		return merry.Wrap(err)
	}
	log.Info().Str("issuer", creds.IssuerName()).Str("serial", creds.SerialNumber).Msg("certificate loaded")

	fiscal := &FiscalContext{
		User: cis.UserSettings{
			Pin:                   oib,
			UseVat:                useVat,
			ReceiptNumberOnDevice: numberOnDevice,
			Environment:           cis.Environment(env.Val),
			CertP12:               certP12,
			CertPassword:          certPassword,
		},
		Pos:     cis.PosSettings{PremiseID: premiseID, PosID: posID},
		PosUser: cis.PosUser{OperatorPin: operatorOib},
		Issuer:  receipts.Party{Name: issuerName, Address: issuerAddress, Pin: oib},
		Client:  cis.NewClient(cis.Environment(env.Val)),
	}

	cfgDir, err := utils.MakeConfigDir()
	if err != nil {
		return merry.Wrap(err)
	}

	db, err := setupDB(cfgDir)
	if err != nil {
		return merry.Wrap(err)
	}
	defer db.Close()
	store := NewReceiptStore(db)

	blobs, err := NewFsBlobStore(cfgDir)
	if err != nil {
		return merry.Wrap(err)
	}
	pdfService := receipts.NewPdfService(store, blobs.Upload, blobs.Download, fiscpdf.BuildReceiptPdf)

	triggerChan := make(chan struct{}, 1)
	go func() {
		if err := StartPdfWorker(context.Background(), store, pdfService, triggerChan); err != nil {
			log.Fatal().Stack().Err(err).Msg("")
		}
	}()

	return merry.Wrap(StartHTTPServer(serverAddr, env, store, fiscal, pdfService, triggerChan))
}

func main() {
	var env utils.Env
	var serverAddr, certPath, certPassword, oib, operatorOib, premiseID, posID, issuerName, issuerAddress string
	var useVat, numberOnDevice bool
	flag.Var(&env, "env", "environment, educ or prod")
	flag.StringVar(&serverAddr, "addr", "127.0.0.1:9011", "HTTP server address:port")
	flag.StringVar(&certPath, "cert", "", "path to the PKCS#12 certificate bundle")
	flag.StringVar(&certPassword, "cert-pass", "", "PKCS#12 bundle password")
	flag.StringVar(&oib, "oib", "", "OIB of the issuing business")
	flag.StringVar(&operatorOib, "operator-oib", "", "OIB of the POS operator")
	flag.StringVar(&premiseID, "premise", "PP1", "premise identifier")
	flag.StringVar(&posID, "pos", "1", "POS device identifier")
	flag.StringVar(&issuerName, "issuer-name", "", "issuer name printed on receipts")
	flag.StringVar(&issuerAddress, "issuer-address", "", "issuer address printed on receipts")
	flag.BoolVar(&useVat, "use-vat", true, "issuer is in the VAT system")
	flag.BoolVar(&numberOnDevice, "number-on-device", false, "receipt numbers sequence per device instead of per premise")
	flag.Parse()

	// Logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	zerolog.ErrorStackMarshaler = func(err error) interface{} { return merry.Details(err) }
	zerolog.ErrorStackFieldName = "message" //TODO: https://github.com/rs/zerolog/issues/157
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05.000"})

	if env.Val == "" {
		log.Fatal().Msg("-env is required (educ or prod)")
	}
	if certPath == "" || oib == "" {
		log.Fatal().Msg("-cert and -oib are required")
	}

	if err := run(env, serverAddr, certPath, certPassword, oib, operatorOib, premiseID, posID, issuerName, issuerAddress, useVat, numberOnDevice); err != nil {
		log.Fatal().Stack().Err(err).Msg("")
	}
}
