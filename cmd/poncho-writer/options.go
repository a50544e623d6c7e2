package main

// Options — корневая команда. Теги разбирает github.com/jessevdk/go-flags.
type Options struct {
	Config string `short:"f" long:"config" description:"path to config.yaml (default: ./config.yaml or $PONCHO_WRITER_CONFIG)"`

	Serve  ServeCmd  `command:"serve" description:"Start HTTP API server"`
	Runs   RunsCmd   `command:"runs" description:"List recent run outcomes from the store"`
	Bucket BucketCmd `command:"bucket" description:"List or download mirrored artifacts in S3"`
}

// options заполняется парсером до вызова Execute подкоманды.
var options Options
