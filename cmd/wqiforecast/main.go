package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	_ "modernc.org/sqlite"

	"github.com/lox/wqiforecast/internal/config"
	"github.com/lox/wqiforecast/internal/store"
)

type CLI struct {
	EnvFile kongdotenv.ENVFileConfig `kong:"optional,default='.env',name=env-file,help='Path to .env file'"`
	DB      string                   `kong:"name=db,default='data/wqiforecast.db',env=WQI_DB,help='Path to SQLite database'"`
	Config  string                   `kong:"optional,name=config,env=WQI_CONFIG,help='Thresholds and forecast settings (YAML)'"`

	Import ImportCmd `kong:"cmd,help='Import a CSV or XLSX dataset for a site'"`
	Run    RunCmd    `kong:"cmd,help='Forecast, score and store the seasonal WQI series of a site'"`
	WQI    WQICmd    `kong:"cmd,name=wqi,help='Print the stored WQI series of a site'"`
	Chart  ChartCmd  `kong:"cmd,help='Render the WQI series of a site as PNG'"`
	Report ReportCmd `kong:"cmd,help='Print a plain-language summary of a site'"`
	Serve  ServeCmd  `kong:"cmd,help='Serve the API and refresh sites on a schedule'"`
}

// App is bound into every command's Run method.
type App struct {
	ctx   context.Context
	db    *sql.DB
	store *store.Store
	cfg   *config.Config
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("wqiforecast"),
		kong.Description("Seasonal CCME water quality index with SARIMA forecasts."),
		kong.UsageOnError(),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := open(ctx, cli.DB, cli.Config)
	kctx.FatalIfErrorf(err)
	defer app.db.Close()

	kctx.FatalIfErrorf(kctx.Run(app))
}

func open(ctx context.Context, dbPath, configPath string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	st := store.New(db)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Println("database migrated")

	return &App{ctx: ctx, db: db, store: st, cfg: cfg}, nil
}
