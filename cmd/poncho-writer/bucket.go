package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"text/tabwriter"
	"time"

	"github.com/ilkoid/poncho-writer/pkg/s3storage"
	"github.com/ilkoid/poncho-writer/pkg/utils"
)

// BucketCmd показывает зеркало артефактов в S3 или скачивает объект.
type BucketCmd struct {
	Prefix string `long:"prefix" description:"list only keys under this prefix (default: s3.prefix)"`
	Get    string `long:"get" value-name:"KEY" description:"download the object to stdout instead of listing"`
}

// Execute реализует flags.Commander.
func (b *BucketCmd) Execute(_ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer utils.Close()

	if !cfg.S3.Enabled {
		return errors.New("s3 mirror is disabled (s3.enabled: false)")
	}

	client, err := s3storage.New(cfg.S3)
	if err != nil {
		return fmt.Errorf("s3 client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if b.Get != "" {
		data, err := client.DownloadFile(ctx, b.Get)
		if err != nil {
			return fmt.Errorf("download %s: %w", b.Get, err)
		}
		_, err = os.Stdout.Write(data)
		return err
	}

	prefix := b.Prefix
	if prefix == "" {
		prefix = cfg.S3.Prefix
	}
	objects, err := client.ListFiles(ctx, prefix)
	if err != nil {
		return fmt.Errorf("list %s: %w", prefix, err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODIFIED\tSIZE\tKEY")
	for _, obj := range objects {
		fmt.Fprintf(w, "%s\t%d\t%s\n",
			obj.LastModified.Local().Format(time.DateTime),
			obj.Size,
			obj.Key)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d objects in %s\n", len(objects), path.Join(cfg.S3.Bucket, prefix))
	return nil
}
