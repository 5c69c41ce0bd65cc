package main

import (
	"errors"
	"log"
	"os"

	"github.com/NordCoder/Deliverus/migrations"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var down bool

	cmd := &cobra.Command{
		Use:          "migrator",
		Short:        "Applies the embedded goose migrations",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(*cobra.Command, []string) error {
			return migrate(v.GetString("dsn"), down)
		},
	}
	cmd.Flags().String("dsn", "", "postgres dsn (env DB_DSN)")
	cmd.Flags().BoolVar(&down, "down", false, "roll back the latest migration")
	_ = v.BindPFlag("dsn", cmd.Flags().Lookup("dsn"))
	_ = v.BindEnv("dsn", "DB_DSN")
	return cmd
}

func migrate(dsn string, down bool) error {
	if dsn == "" {
		return errors.New("DB_DSN is empty")
	}

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	db, err := goose.OpenDBWithDriver("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	if down {
		if err := goose.Down(db, "."); err != nil {
			return err
		}
		log.Println("migrations: down OK")
		return nil
	}
	if err := goose.Up(db, "."); err != nil {
		return err
	}
	log.Println("migrations: up OK")
	return nil
}
