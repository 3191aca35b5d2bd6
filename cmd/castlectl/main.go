// castlectl runs one-off maintenance jobs against the castlebook database:
// an expiry sweep, a backup, a spreadsheet export, booking statistics and
// requeueing of dead-lettered calendar sync tasks.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"castlebook/internal/config"
	"castlebook/internal/database"
	"castlebook/internal/domain"
	"castlebook/internal/export"
	"castlebook/internal/google"
	"castlebook/internal/logging"
	"castlebook/internal/models"
	"castlebook/internal/repository"
	"castlebook/internal/service"
	"castlebook/internal/worker"
)

const usage = `usage: castlectl [--config path] <command> [flags]

commands:
  sweep          complete confirmed bookings whose window has passed
  backup         write a database backup and prune old ones
  export         write bookings to an .xlsx file
  stats          print booking statistics as JSON
  sync-requeue   move failed calendar sync tasks back to the queue
  import-castles create or update castles from a YAML file
`

var errUsage = errors.New("invalid usage")

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type env struct {
	cfg    *config.Config
	db     *database.DB
	logger *zerolog.Logger
}

func run(args []string) error {
	var configPath string

	flagSet := pflag.NewFlagSet("castlectl", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", envOr("CONFIG_PATH", "configs/config.yaml"), "path to config file")
	flagSet.SetInterspersed(false)
	flagSet.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if flagSet.NArg() == 0 {
		return errUsage
	}

	command, rest := flagSet.Arg(0), flagSet.Args()[1:]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, closeEnv, err := openEnv(configPath)
	if err != nil {
		return err
	}
	defer closeEnv()

	switch command {
	case "sweep":
		return runSweep(ctx, e, rest)
	case "backup":
		return runBackup(ctx, e, rest)
	case "export":
		return runExport(ctx, e, rest)
	case "stats":
		return runStats(ctx, e, rest)
	case "sync-requeue":
		return runSyncRequeue(ctx, e, rest)
	case "import-castles":
		return runImportCastles(ctx, e, rest)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, command)
	}
}

func openEnv(configPath string) (*env, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "castlectl").Logger()

	db, err := database.NewDBWithConfig(cfg.Database, &logger)
	if err != nil {
		if closer != nil {
			_ = closer.Close()
		}
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	cleanup := func() {
		db.Close()
		if closer != nil {
			_ = closer.Close()
		}
	}
	return &env{cfg: cfg, db: db, logger: &logger}, cleanup, nil
}

func (e *env) bookingService(sync domain.SyncWorker) *service.BookingService {
	return service.NewBookingService(e.db, nil, sync, service.BookingOptionsFromConfig(e.cfg), e.logger)
}

// redisClient connects to redis when redis.address is set. It returns nil
// when redis is not configured or does not answer a ping.
func (e *env) redisClient(ctx context.Context, unavailable string) *redis.Client {
	if e.cfg.Redis.Address == "" {
		return nil
	}
	client := repository.NewRedisClient(e.cfg.Redis)
	if err := repository.Ping(ctx, client); err != nil {
		e.logger.Warn().Err(err).Msg(unavailable)
		_ = client.Close()
		return nil
	}
	return client
}

func runSweep(ctx context.Context, e *env, args []string) error {
	flagSet := pflag.NewFlagSet("sweep", pflag.ContinueOnError)
	batch := flagSet.Int("batch", e.cfg.Sweeper.BatchSize, "bookings per batch")
	if err := flagSet.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	leases := domain.LeaseRepository(repository.NewMemoryLeaseRepository())
	redisClient := e.redisClient(ctx, "redis unavailable, sweeping under a local lease")
	if redisClient != nil {
		defer redisClient.Close()
		leases = repository.NewFailoverLeaseRepository(repository.NewRedisLeaseRepository(redisClient), leases, e.logger)
	}

	cfg := e.cfg.Sweeper
	cfg.BatchSize = *batch
	sweeper := worker.NewSweeper(e.db, e.bookingService(nil), leases, cfg, e.logger)
	n, err := sweeper.SweepOnce(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("swept %d bookings\n", n)
	return nil
}

func runBackup(ctx context.Context, e *env, args []string) error {
	flagSet := pflag.NewFlagSet("backup", pflag.ContinueOnError)
	prune := flagSet.Bool("prune", true, "delete backups older than the retention window")
	if err := flagSet.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	backups := database.NewBackupService(e.cfg.Database.Path, e.cfg.Backup, e.logger)
	path, err := backups.PerformBackup(ctx)
	if err != nil {
		return err
	}
	fmt.Println(path)
	if *prune {
		if removed := backups.CleanupOldBackups(); removed > 0 {
			fmt.Printf("removed %d old backups\n", removed)
		}
	}
	return nil
}

func runExport(ctx context.Context, e *env, args []string) error {
	flagSet := pflag.NewFlagSet("export", pflag.ContinueOnError)
	dir := flagSet.String("dir", e.cfg.Exports.Path, "output directory")
	filter, err := filterFlags(flagSet, args)
	if err != nil {
		return err
	}
	if *dir == "" {
		*dir = "."
	}

	exporter := export.NewExporter(e.bookingService(nil), e.cfg.Bookings.Location(), e.logger)
	path, err := exporter.ExportToFile(ctx, *dir, filter)
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}

func runStats(ctx context.Context, e *env, args []string) error {
	flagSet := pflag.NewFlagSet("stats", pflag.ContinueOnError)
	filter, err := filterFlags(flagSet, args)
	if err != nil {
		return err
	}

	stats, err := e.bookingService(nil).GetBookingStats(ctx, filter)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}

func runSyncRequeue(ctx context.Context, e *env, args []string) error {
	flagSet := pflag.NewFlagSet("sync-requeue", pflag.ContinueOnError)
	process := flagSet.Bool("process", false, "process the requeued tasks right away")
	if err := flagSet.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	redisClient := e.redisClient(ctx, "redis unavailable, dead-letter list left untouched")
	if redisClient != nil {
		defer redisClient.Close()
	}

	var calendar domain.CalendarClient
	if *process {
		if !e.cfg.Google.Enabled() {
			return errors.New("--process needs google.credentials_file and google.calendar_id")
		}
		svc, err := google.NewCalendarService(ctx, e.cfg.Google.CredentialsFile, e.cfg.Google.CalendarID, e.cfg.Bookings.Location())
		if err != nil {
			return err
		}
		calendar = svc
	}

	w := worker.NewCalendarWorker(e.db, calendar, redisClient, e.cfg.Retry.Sync, e.logger)
	n, err := w.RequeueFailed(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("requeued %d tasks\n", n)

	if *process {
		done, err := w.ProcessPending(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("processed %d tasks\n", done)
	}
	return nil
}

type castlesFile struct {
	Castles []models.Castle `yaml:"castles"`
}

func runImportCastles(ctx context.Context, e *env, args []string) error {
	flagSet := pflag.NewFlagSet("import-castles", pflag.ContinueOnError)
	path := flagSet.String("file", "configs/config.yaml", "YAML file with a castles list")
	if err := flagSet.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	data, err := os.ReadFile(*path)
	if err != nil {
		return fmt.Errorf("read castles: %w", err)
	}
	var file castlesFile
	if err = yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse castles: %w", err)
	}
	if len(file.Castles) == 0 {
		return errors.New("no castles in yaml")
	}
	if err = config.ValidateCastles(file.Castles); err != nil {
		return err
	}

	castles := service.NewCastleService(e.db, e.logger)
	created, updated := 0, 0
	for i := range file.Castles {
		c := file.Castles[i]
		_, err := castles.GetCastle(ctx, c.ID)
		switch {
		case err == nil:
			// leaves maintenance state alone
			if err = castles.UpdateCastle(ctx, &c); err != nil {
				return fmt.Errorf("update castle %d: %w", c.ID, err)
			}
			updated++
		case errors.Is(err, domain.ErrNotFound):
			if err = castles.CreateCastle(ctx, &c); err != nil {
				return fmt.Errorf("create castle %d: %w", c.ID, err)
			}
			created++
		default:
			return fmt.Errorf("get castle %d: %w", c.ID, err)
		}
	}

	fmt.Printf("done: created=%d updated=%d\n", created, updated)
	return nil
}

// filterFlags parses the booking filter flags shared by export and stats.
// Event dates are calendar days, so bounds parse in UTC.
func filterFlags(flagSet *pflag.FlagSet, args []string) (models.BookingFilter, error) {
	var (
		statuses []string
		from, to string
		castleID int64
		search   string
		filter   models.BookingFilter
	)
	flagSet.StringSliceVar(&statuses, "status", nil, "statuses to include (comma separated)")
	flagSet.StringVar(&from, "from", "", "first event date, YYYY-MM-DD")
	flagSet.StringVar(&to, "to", "", "last event date, YYYY-MM-DD")
	flagSet.Int64Var(&castleID, "castle", 0, "castle id")
	flagSet.StringVar(&search, "q", "", "search customer name, email or reference")
	if err := flagSet.Parse(args); err != nil {
		return filter, fmt.Errorf("%w: %v", errUsage, err)
	}

	for _, raw := range statuses {
		status, err := models.ParseStatus(strings.TrimSpace(raw))
		if err != nil {
			return filter, err
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	if from != "" {
		t, err := time.Parse(models.DateLayout, from)
		if err != nil {
			return filter, fmt.Errorf("--from: %w", err)
		}
		filter.From = &t
	}
	if to != "" {
		t, err := time.Parse(models.DateLayout, to)
		if err != nil {
			return filter, fmt.Errorf("--to: %w", err)
		}
		filter.To = &t
	}
	if castleID > 0 {
		filter.CastleID = &castleID
	}
	filter.Search = search
	return filter, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
