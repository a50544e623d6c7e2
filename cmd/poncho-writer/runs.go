package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/ilkoid/poncho-writer/pkg/store"
	"github.com/ilkoid/poncho-writer/pkg/utils"
)

// RunsCmd печатает последние итоги прогонов из SQLite.
type RunsCmd struct {
	Limit int `short:"n" long:"limit" default:"20" description:"number of runs to show"`
}

// Execute реализует flags.Commander.
func (r *RunsCmd) Execute(_ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer utils.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st, err := store.Open(ctx, cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	records, err := st.List(ctx, r.Limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CREATED\tARTICLE ID\tSTATUS\tSTEPS\tDURATION\tTOPIC / ERROR")
	for _, rec := range records {
		detail := rec.Topic
		if rec.Error != "" {
			detail = rec.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			rec.CreatedAt.Local().Format(time.DateTime),
			rec.ArticleID,
			rec.Status,
			rec.Iterations,
			rec.Duration.Round(time.Millisecond),
			utils.TruncateText(detail, 60))
	}
	return w.Flush()
}
