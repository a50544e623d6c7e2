// Poncho-writer — HTTP сервис написания научно-популярных статей агентом.
//
// Использование:
//
//	poncho-writer -f config.yaml serve
//	poncho-writer -f config.yaml serve --port 9000
//	poncho-writer -f config.yaml runs --limit 10
//	poncho-writer -f config.yaml bucket --prefix articles/md
//
// Rule 11: config.yaml ищется рядом с бинарником, если не указан явно.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/ilkoid/poncho-writer/pkg/app"
	"github.com/ilkoid/poncho-writer/pkg/config"
	"github.com/ilkoid/poncho-writer/pkg/utils"
)

// Version — версия утилиты (заполняется при сборке)
var Version = "dev"

func main() {
	parser := flags.NewParser(&options, flags.HelpFlag|flags.PassDoubleDash)
	parser.LongDescription = "Context article writing API " + Version

	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			fmt.Println(err)
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig загружает конфиг и инициализирует логгер.
func loadConfig() (*config.AppConfig, error) {
	cfg, cfgPath, err := app.InitializeConfig(&app.DefaultConfigPathFinder{ConfigFlag: options.Config})
	if err != nil {
		return nil, err
	}
	if err := utils.InitLogger(cfg.App.LogLevel, cfg.App.LogFile); err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}
	utils.Info("Config loaded", "path", cfgPath, "version", Version)
	return cfg, nil
}
