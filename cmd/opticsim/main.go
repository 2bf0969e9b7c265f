package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/opticsim/internal/config"
	"github.com/banshee-data/opticsim/internal/fieldstore"
	"github.com/banshee-data/opticsim/internal/monitoring"
	"github.com/banshee-data/opticsim/internal/optics/fftprop"
	"github.com/banshee-data/opticsim/internal/prescription"
	"github.com/banshee-data/opticsim/internal/quicklook"
	"github.com/banshee-data/opticsim/internal/runcache"
	"github.com/banshee-data/opticsim/internal/simerr"
	"github.com/banshee-data/opticsim/internal/timeseries"
	"github.com/banshee-data/opticsim/internal/version"
)

var (
	configPath   = flag.String("config", "", "Run configuration file (.json, .yaml or .yml); defaults are used when empty")
	runName      = flag.String("name", "", "Run name; output is written to <datadir>/<name>")
	product      = flag.String("product", timeseries.ProductRebinnedCube, "Product to build: fields or rebinned_cube")
	policyFlag   = flag.String("policy", "", "Cache policy when a prior run differs: abort, archive, overwrite or reuse (default abort, or reuse when auto_load is set)")
	quicklookDir = flag.String("quicklook", "", "Write detector heat maps of the rebinned cube to this directory")
	metricsAddr  = flag.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	verbose      = flag.Bool("verbose", false, "Enable debug logging")
	showVersion  = flag.Bool("version", false, "Print version and exit")
)

const shutdownTimeout = 5 * time.Second

// options is the parsed command line.
type options struct {
	ConfigPath   string
	Name         string
	Product      string
	Policy       string
	QuicklookDir string
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	monitoring.SetVerbose(*verbose)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *metricsAddr != "" {
		srv := &http.Server{Addr: *metricsAddr, Handler: newRouter(), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			log.Printf("serving metrics on %s", *metricsAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("metrics server error: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	err := run(ctx, options{
		ConfigPath:   *configPath,
		Name:         *runName,
		Product:      *product,
		Policy:       *policyFlag,
		QuicklookDir: *quicklookDir,
	})
	var wf *simerr.WorkerFailure
	switch {
	case err == nil:
	case errors.Is(err, simerr.ErrCacheMismatch):
		log.Printf("stopping: %v", err)
		stop()
		os.Exit(2)
	case errors.As(err, &wf):
		log.Printf("run incomplete, rerun to resume: %v", err)
		stop()
		os.Exit(3)
	default:
		stop()
		log.Fatalf("opticsim: %v", err)
	}
}

func newRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// loadConfig reads the configuration file, or starts from the defaults with
// environment overrides when no file is given.
func loadConfig(path string) (*config.Params, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg := config.Default()
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// choosePolicy maps the -policy flag to a cache policy. auto_load stands in
// for an explicit reuse.
func choosePolicy(flagValue string, autoLoad bool) (runcache.Policy, error) {
	if flagValue != "" {
		return runcache.ParsePolicy(flagValue)
	}
	if autoLoad {
		return runcache.PolicyForceReuse, nil
	}
	return runcache.PolicyAbort, nil
}

func run(ctx context.Context, opts options) error {
	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}
	if opts.Product != timeseries.ProductFields && opts.Product != timeseries.ProductRebinnedCube {
		return simerr.Configf("unknown product %q (want %s or %s)", opts.Product,
			timeseries.ProductFields, timeseries.ProductRebinnedCube)
	}
	name := opts.Name
	if name == "" {
		base := filepath.Base(opts.ConfigPath)
		name = config.SanitizeName(strings.TrimSuffix(base, filepath.Ext(base)))
	}
	policy, err := choosePolicy(opts.Policy, cfg.Sim.AutoLoad)
	if err != nil {
		return err
	}
	monitoring.Logf("run %s: %s", name, cfg)

	outcome, err := runcache.NewController().Resolve(cfg, name, policy)
	if err != nil {
		return err
	}

	store, err := fieldstore.Open(filepath.Join(outcome.RunDir, config.FieldsFile))
	if err != nil {
		return err
	}
	defer store.Close()

	build, err := prescription.Builder(cfg, fftprop.Propagator{})
	if err != nil {
		return err
	}
	p := &timeseries.Pipeline{
		Config: cfg,
		Pool:   timeseries.NewPool(cfg.Sim.NumProcesses, build, cfg.Sim.GetResultTimeout()),
		Store:  store,
	}
	if opts.Product == timeseries.ProductRebinnedCube {
		p.Camera = timeseries.NewIntensityCamera(cfg, store)
	}
	if err := p.Run(ctx); err != nil {
		return err
	}

	if opts.QuicklookDir != "" && p.Camera != nil {
		cube, _, err := store.Product(timeseries.ProductRebinnedCube)
		if err != nil {
			return err
		}
		files, err := quicklook.SaveCube(cube, opts.QuicklookDir, name, true)
		if err != nil {
			return err
		}
		monitoring.Logf("wrote %d quicklook images to %s", len(files), opts.QuicklookDir)
	}
	monitoring.Logf("run %s complete in %s", name, outcome.RunDir)
	return nil
}
