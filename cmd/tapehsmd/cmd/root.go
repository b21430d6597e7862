package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/hashicorp/go-uuid"
	"github.com/labstack/echo/v4"
	"github.com/materials-commons/tapehsm/pkg/clog"
	"github.com/materials-commons/tapehsm/pkg/config"
	"github.com/materials-commons/tapehsm/pkg/fileop"
	"github.com/materials-commons/tapehsm/pkg/fsobj"
	"github.com/materials-commons/tapehsm/pkg/hsm"
	"github.com/materials-commons/tapehsm/pkg/hsmdb"
	"github.com/materials-commons/tapehsm/pkg/hsmdb/stor"
	"github.com/materials-commons/tapehsm/pkg/inventory"
	"github.com/materials-commons/tapehsm/pkg/scheduler"
	"github.com/materials-commons/tapehsm/pkg/status"
	"github.com/materials-commons/tapehsm/pkg/tape"
	"github.com/materials-commons/tapehsm/pkg/workpool"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tapehsmd",
	Short: "Tape HSM daemon",
	Long:  `Schedules migrations of files to tape and recalls from tape over a shared set of drives.`,
	Run: func(cmd *cobra.Command, args []string) {
		c := config.MustLoadFromEnvPath()
		if err := Run(context.Background(), c); err != nil {
			log.Fatalf("tapehsmd: %s", err)
		}
	},
}

func Run(c context.Context, cfg config.Configer) error {
	startTime := time.Now()

	logLevel := cfg.GetKeyWithDefault("TAPEHSM_LOG_LEVEL", "info")
	if err := clog.SetGlobalLoggerLevelFromString(logLevel); err != nil {
		return err
	}
	log.SetLevelFromString(logLevel)

	desc, err := config.LoadLibrary(cfg.MustGetKey("TAPEHSM_LIBRARY_FILE"))
	if err != nil {
		return err
	}

	db := hsmdb.MustConnectToDB(cfg)
	if err := hsmdb.RunMigrations(db); err != nil {
		return errors.Wrap(err, "unable to migrate database")
	}
	stors := stor.NewGormStors(db)

	inv, err := inventory.New(desc,
		inventory.WithPoolStor(stors.PoolStor),
		inventory.WithPoolReferenceChecker(stors.RequestStor))
	if err != nil {
		return err
	}

	lib := tape.NewDirLibrary(cfg.MustGetKey("TAPEHSM_TAPE_ROOT"),
		cfg.GetDurationKeyWithDefault("TAPEHSM_MOUNT_DELAY_MS", time.Millisecond, 0))
	for _, d := range inv.ListDrives() {
		if d.Cartridge == "" {
			continue
		}
		if err := lib.MarkMounted(d.ID, d.Cartridge); err != nil {
			return err
		}
	}

	termination := hsm.NewTermination()
	pool := workpool.New("units", cfg.GetIntKeyWithDefault("TAPEHSM_WORKERS", 8))
	sched := scheduler.New(inv, lib, stors, status.NewTracker(), pool, scheduler.WithTermination(termination))

	env := &fileop.Env{
		Opener:           fsobj.NewPosixOpener(managedRoots(cfg)...),
		Inventory:        inv,
		Scheduler:        sched,
		Stors:            stors,
		Library:          lib,
		ProgressInterval: cfg.GetDurationKeyWithDefault("TAPEHSM_PROGRESS_INTERVAL_SEC", time.Second, 10*time.Second),
		MaxPools:         cfg.GetIntKeyWithDefault("TAPEHSM_MAX_POOLS", hsm.DefaultMaxPoolsPerRequest),
	}
	fileop.NewRunner(env).Register()

	// Transitional job rows are settled before Recover rebuilds the trackers.
	if _, err := fileop.Reconcile(env); err != nil {
		return errors.Wrap(err, "unable to reconcile interrupted jobs")
	}

	if err := sched.Recover(); err != nil {
		return errors.Wrap(err, "unable to recover request queue")
	}

	numbers, err := fileop.NewRequestNumbers(stors.RequestStor)
	if err != nil {
		return err
	}

	key, err := writeKeyFile(cfg.GetKey("TAPEHSM_KEY_FILE"))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(c)
	defer cancel()
	sched.Start(ctx)

	stopCh := make(chan struct{})
	var stopOnce sync.Once
	shutdown := func() {
		stopOnce.Do(func() { close(stopCh) })
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	setupRoutes(RouteDependencies{
		e:         e,
		env:       env,
		numbers:   numbers,
		startTime: startTime,
		shutdown:  shutdown,
		key:       key,
	})

	listen := cfg.GetKeyWithDefault("TAPEHSM_LISTEN", "localhost:7450")
	go func() {
		if err := e.Start(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Unable to start web server: %s", err)
		}
	}()

	log.Infof("tapehsmd %d listening on %s, %d drives, %d cartridges", os.Getpid(), listen,
		len(inv.ListDrives()), len(inv.ListCartridges()))

	go stopOnSignal(termination, shutdown)

	<-stopCh
	log.Infof("Stopping, waiting for running units...")
	sched.Stop()
	log.Infof("Scheduler stopped: %s", sched.Stats())

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	return e.Shutdown(shutdownCtx)
}

// stopOnSignal stops between files on the first signal and abandons running transfers
// on the second.
func stopOnSignal(termination *hsm.Termination, shutdown func()) {
	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)

	sig := <-c
	log.Infof("Got %s signal, stopping after the current files...", sig)
	termination.Terminate()
	shutdown()

	sig = <-c
	log.Infof("Got %s signal again, abandoning transfers", sig)
	termination.ForceTerminate()
}

func managedRoots(cfg config.Configer) []string {
	var roots []string
	for _, root := range strings.Split(cfg.GetKey("TAPEHSM_MANAGED_ROOTS"), ":") {
		if root = strings.TrimSpace(root); root != "" {
			roots = append(roots, filepath.Clean(root))
		}
	}
	return roots
}

// writeKeyFile creates a new client key for this run. Without a key file the API is open.
func writeKeyFile(path string) (string, error) {
	if path == "" {
		log.Warnf("TAPEHSM_KEY_FILE not set, API requests are not authenticated")
		return "", nil
	}

	key, err := uuid.GenerateUUID()
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(path, []byte(key+"\n"), 0600); err != nil {
		return "", errors.Wrapf(err, "unable to write key file %s", path)
	}

	return key, nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
