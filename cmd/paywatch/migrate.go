/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/


package main

import (
	"fmt"

	"github.com/blnkfinance/paywatch"
	"github.com/blnkfinance/paywatch/database"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/spf13/cobra"
)

const migrationSchema = "paywatch"

// migrateCommands creates the root command for migration-related operations.
func migrateCommands(app *paywatchInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "run paywatch database migrations",
	}

	cmd.AddCommand(migrateDirectionCommand(app, "up", migrate.Up))
	cmd.AddCommand(migrateDirectionCommand(app, "down", migrate.Down))

	return cmd
}

func migrateDirectionCommand(app *paywatchInstance, use string, direction migrate.MigrationDirection) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   use,
		Short: fmt.Sprintf("apply %s migrations", use),
		RunE: func(cmd *cobra.Command, args []string) error {
			migrations := migrate.EmbedFileSystemMigrationSource{
				FileSystem: paywatch.SQLFiles,
				Root:       "sql",
			}

			cnf, err := app.loadConfig()
			if err != nil {
				return err
			}

			db, err := database.ConnectDB(cnf.DataSource.Dns)
			if err != nil {
				return fmt.Errorf("error connecting to database: %w", err)
			}
			defer func() { _ = db.Close() }()

			migrate.SetSchema(migrationSchema)

			n, err := migrate.ExecMax(db, "postgres", migrations, direction, limit)
			if err != nil {
				return fmt.Errorf("error migrating %s: %w", use, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d %s migrations!\n", n, use)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "max", 0, "maximum number of migrations to apply, 0 for all")

	return cmd
}
