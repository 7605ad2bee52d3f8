package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/maabara/core"
	"github.com/trezcool/maabara/core/session"
	"github.com/trezcool/maabara/core/submission"
	backendsvc "github.com/trezcool/maabara/services/backend"
	credsvc "github.com/trezcool/maabara/services/credential"
	logsvc "github.com/trezcool/maabara/services/logger"
	"github.com/trezcool/maabara/storage/tokencache"
)

func main() {
	defer os.Exit(0)

	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	logger := logsvc.NewRollbarLogger(
		log.New(os.Stderr, "PORTAL : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)

	if err := os.MkdirAll(filepath.Dir(conf.TokenCachePath), 0700); err != nil {
		logger.Fatal("creating cache directory", err)
	}
	cache, err := tokencache.NewCacheFromFile(conf.TokenCachePath)
	if err != nil {
		logger.Fatal("opening token cache", err)
	}
	defer cache.Close()

	validate := validator.New()
	translator := newTranslator()
	core.InitValidators(validate, translator)
	session.InitValidators(validate, translator, conf.RequiredEmailSuffix)

	httpClient := &http.Client{Timeout: conf.HTTPTimeout}
	credStore := credsvc.NewClient(conf, httpClient)
	backend := backendsvc.NewClient(conf, httpClient)

	manager := session.NewManager(credStore, cache, backend, conf, logger, validate)
	uploader := submission.NewUploader(backend, manager, nil /* no timeout on transfers */, conf.MaxUploadBytes)
	reviewer := submission.NewController(backend, manager, logger, conf.DefaultApproveFeedback)

	// =========================================================================
	// Run

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// silent refresh in the background while a command runs
	go manager.RunRefreshJob(ctx)

	cli := commandLine{
		conf:     conf,
		logger:   logger,
		cache:    cache,
		manager:  manager,
		backend:  backend,
		uploader: uploader,
		reviewer: reviewer,
	}
	if err = cli.run(ctx, os.Args); err != nil {
		if err != errHelp {
			fmt.Fprintln(os.Stderr, formatError(err, translator))
			logger.Debug(err.Error(), err)
		}
		cancel()
		os.Exit(1)
	}
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}
