package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/crowdeval/mapseval/internal/store"
	"github.com/crowdeval/mapseval/internal/tasklog"
)

var importCmd = &cobra.Command{
	Use:   "import <ratings-log.csv>",
	Short: "Import a CSV ratings log into the store",
	Long:  "Loads task records from a ratings log file. Against Postgres the rows go through a bulk COPY upsert; re-importing the same file is idempotent.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		records, err := tasklog.ReadAll(args[0])
		if err != nil {
			return eris.Wrap(err, "read ratings log")
		}
		if len(records) == 0 {
			fmt.Println("nothing to import")
			return nil
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		var imported int64
		if pg, ok := st.(*store.PostgresStore); ok {
			imported, err = pg.ImportTasks(ctx, records)
			if err != nil {
				return eris.Wrap(err, "bulk import")
			}
		} else {
			for _, rec := range records {
				if err := st.InsertTask(ctx, rec); err != nil {
					zap.L().Warn("skipping record", zap.String("task_id", rec.ID), zap.Error(err))
					continue
				}
				imported++
			}
		}

		fmt.Printf("imported %d of %d records\n", imported, len(records))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}
