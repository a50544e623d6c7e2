// Writer-cli — прогон агента-писателя из терминала без HTTP сервера.
//
// Использование:
//
//	writer-cli "sleep and memory"
//	writer-cli --debug --translate-to ja --images "sleep and memory"
//	writer-cli -m glm-4.6 --style review "CRISPR"
//
// События графа печатаются по мере выполнения, итог сохраняется в output_dir.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/jessevdk/go-flags"

	"github.com/ilkoid/poncho-writer/internal/ui"
	"github.com/ilkoid/poncho-writer/internal/writer"
	"github.com/ilkoid/poncho-writer/pkg/app"
	"github.com/ilkoid/poncho-writer/pkg/chain"
	"github.com/ilkoid/poncho-writer/pkg/events"
	"github.com/ilkoid/poncho-writer/pkg/utils"
)

// Version — версия утилиты (заполняется при сборке)
var Version = "dev"

// Options — флаги утилиты. Теги разбирает github.com/jessevdk/go-flags.
type Options struct {
	Config  string `short:"f" long:"config" description:"path to config.yaml (default: ./config.yaml or $PONCHO_WRITER_CONFIG)"`
	Model   string `short:"m" long:"model" description:"override model name"`
	Debug   bool   `long:"debug" description:"write a JSON trace of the run"`
	Verbose bool   `short:"v" long:"verbose" description:"print full tool results instead of previews"`
	Width   int    `long:"width" default:"100" description:"output width"`

	Style       string   `long:"style" description:"article style"`
	Language    string   `long:"language" description:"article language"`
	Keywords    []string `short:"k" long:"keyword" description:"keyword (repeatable)"`
	TranslateTo []string `short:"t" long:"translate-to" description:"translation language code (repeatable)"`
	Images      bool     `long:"images" description:"generate a cover image"`

	Args struct {
		Topic []string `positional-arg-name:"topic" required:"1"`
	} `positional-args:"yes"`
}

func main() {
	var opts Options
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	parser.LongDescription = "Run the article writing agent once " + Version

	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			fmt.Println(err)
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	outcome, err := run(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if !outcome.Completed() {
		os.Exit(2)
	}
}

func run(opts Options) (chain.RunOutcome, error) {
	cfg, cfgPath, err := app.InitializeConfig(&app.DefaultConfigPathFinder{ConfigFlag: opts.Config})
	if err != nil {
		return chain.RunOutcome{}, err
	}
	if err := utils.InitLogger(cfg.App.LogLevel, cfg.App.LogFile); err != nil {
		return chain.RunOutcome{}, fmt.Errorf("failed to init logger: %w", err)
	}
	defer utils.Close()
	utils.Info("Config loaded", "path", cfgPath, "version", Version)

	req := writer.WriteRequest{
		Topic:          strings.Join(opts.Args.Topic, " "),
		Style:          opts.Style,
		Language:       opts.Language,
		Keywords:       opts.Keywords,
		TranslateTo:    opts.TranslateTo,
		GenerateImages: opts.Images,
	}
	if err := req.Normalize(cfg.API); err != nil {
		return chain.RunOutcome{}, err
	}

	ctx, shutdown := utils.SetupGracefulShutdownWithContext()
	defer shutdown()

	comps, err := app.Initialize(ctx, cfg, app.Options{Model: opts.Model, Debug: opts.Debug, SkipStore: true})
	if err != nil {
		return chain.RunOutcome{}, fmt.Errorf("failed to initialize: %w", err)
	}
	defer func() {
		if err := comps.Close(); err != nil {
			utils.Error("Failed to close components", "error", err)
		}
	}()

	if cfg.Agent.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Agent.RunTimeout)
		defer cancel()
	}

	articleID := uuid.NewString()
	printer := ui.NewPrinter(os.Stdout, opts.Width, opts.Verbose)
	printer.Header(fmt.Sprintf("%s  %s", req.Topic, articleID[:8]))

	seed := writer.BuildSeed(articleID, cfg.App.OutputDir, req)
	stream := tee(comps.Cycle.Run(ctx, seed), printer.Event)
	outcome := chain.Collect(ctx, stream, comps.Tools.ProducesFiles)

	printer.Outcome(outcome)
	return outcome, nil
}

// tee передаёт каждое событие в fn и дальше по возвращаемому каналу.
//
// Канал закрывается вслед за src.
func tee(src <-chan events.Event, fn func(events.Event)) <-chan events.Event {
	out := make(chan events.Event, cap(src))
	go func() {
		defer close(out)
		for ev := range src {
			fn(ev)
			out <- ev
		}
	}()
	return out
}
