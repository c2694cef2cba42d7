// Command afsim runs the autofocus engine against a synthetic scene. The lens
// is either a simulated motor controller (-dev) or a real one on a serial
// port; sharpness always comes from the scene model.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/autofocus/internal/af"
	"github.com/banshee-data/autofocus/internal/config"
	"github.com/banshee-data/autofocus/internal/db"
	"github.com/banshee-data/autofocus/internal/lens"
	"github.com/banshee-data/autofocus/internal/monitor"
	"github.com/banshee-data/autofocus/internal/timeutil"
	"github.com/banshee-data/autofocus/internal/version"
)

var (
	strategyFlag = flag.String("strategy", "", "Search strategy: full, hill or adaptive (overrides config)")
	modeFlag     = flag.String("mode", "", "Trigger mode: oneshot or continuous (overrides config)")
	configPath   = flag.String("config", "", "Tuning config JSON (defaults to built-in values)")
	devMode      = flag.Bool("dev", true, "Use a simulated lens controller instead of a serial port")
	port         = flag.String("port", "/dev/ttyUSB0", "Serial port of the lens controller (ignored in dev mode)")
	baud         = flag.Int("baud", lens.DefaultBaudRate, "Serial baud rate")
	camera       = flag.String("camera", "cam0", "Camera name used in logs, runs and plots")
	rangeMax     = flag.Int("range", 1023, "Simulated actuator range maximum (dev mode)")
	startPos     = flag.Int("start", 0, "Simulated lens start position (dev mode)")
	peak         = flag.Float64("peak", 600, "In-focus lens position of the scene")
	width        = flag.Float64("width", 120, "Depth of the scene's focus response in lens units")
	noise        = flag.Float64("noise", 0.01, "Relative sharpness noise")
	seed         = flag.Uint64("seed", 1, "Noise seed")
	moveAt       = flag.Int("move-at", 0, "Frame at which the scene focus moves (0 disables)")
	moveTo       = flag.Float64("move-to", 300, "Where the scene focus moves to")
	frames       = flag.Int("frames", 0, "Stop after this many frames (0 runs until settled or interrupted)")
	fps          = flag.Float64("fps", 0, "Frame rate (overrides the config frame interval)")
	dbPath       = flag.String("db", "", "Record runs to this SQLite database")
	plotDir      = flag.String("plot", "", "Write trace plots under this directory")
	listen       = flag.String("listen", "", "Serve /debug/ routes on this address")
	showVersion  = flag.Bool("version", false, "Print the version and exit")
)

func loadTuning() (*config.TuningConfig, error) {
	tuning := config.DefaultTuningConfig()
	if *configPath != "" {
		var err error
		if tuning, err = config.LoadTuningConfig(*configPath); err != nil {
			return nil, err
		}
	}
	if *strategyFlag != "" {
		s, err := af.ParseStrategy(*strategyFlag)
		if err != nil {
			return nil, err
		}
		name := s.String()
		tuning.Strategy = &name
	}
	if *modeFlag != "" {
		mode := *modeFlag
		tuning.Mode = &mode
	}
	if *fps > 0 {
		interval := time.Duration(float64(time.Second) / *fps).String()
		tuning.FrameInterval = &interval
	}
	return tuning, tuning.Validate()
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	tuning, err := loadTuning()
	if err != nil {
		log.Fatalf("invalid tuning: %v", err)
	}

	var focusLens interface {
		af.Sensor
		Monitor(ctx context.Context) error
		Run(ctx context.Context) error
		AttachAdminRoutes(mux *http.ServeMux)
		Close() error
	}
	if *devMode {
		focusLens = lens.New(lens.NewSimulatedPort(af.FocusRange{Min: 0, Max: *rangeMax}, *startPos))
	} else {
		l, err := lens.OpenSerial(*port, lens.PortOptions{BaudRate: *baud})
		if err != nil {
			log.Fatalf("failed to open lens controller: %v", err)
		}
		focusLens = l
	}
	defer focusLens.Close()

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ioCtx, stopIO := context.WithCancel(context.Background())
	for name, loop := range map[string]func(context.Context) error{
		"monitor": focusLens.Monitor,
		"writer":  focusLens.Run,
	} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := loop(ioCtx); err != nil && err != context.Canceled {
				log.Printf("lens %s routine: %v", name, err)
			}
		}()
	}

	scene := lens.NewScene(*peak, *width, *noise, *seed)
	sim, err := newSimulator(*camera, focusLens, scene, tuning, timeutil.RealClock{})
	if err != nil {
		log.Fatalf("failed to start autofocus: %v", err)
	}
	defer sim.Close()
	sim.maxFrames = *frames
	sim.moveAt, sim.moveTo = *moveAt, *moveTo

	var store *db.DB
	if *dbPath != "" {
		store, err = db.Open(*dbPath)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		defer store.Close()
		sim.store = store
	}

	recorder := monitor.NewRecorder(*camera)
	sim.recorder = recorder
	if *plotDir != "" {
		if err := recorder.Start(monitor.MakePlotOutputDir(*plotDir, *camera, time.Now())); err != nil {
			log.Fatalf("failed to prepare plot dir: %v", err)
		}
	}

	var server *http.Server
	if *listen != "" {
		mux := http.NewServeMux()
		focusLens.AttachAdminRoutes(mux)
		recorder.AttachAdminRoutes(mux)
		sim.attachAdminRoutes(mux)
		if store != nil {
			if err := store.AttachAdminRoutes(mux); err != nil {
				log.Fatalf("failed to attach db routes: %v", err)
			}
		}
		server = &http.Server{Addr: *listen, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()
		log.Printf("debug routes on http://%s/debug/", *listen)
	}

	log.Printf("%s %s search, frame interval %s", tuning.GetMode(), tuning.GetStrategy(), sim.interval)
	if err := sim.Run(ctx); err != nil && err != context.Canceled {
		log.Printf("frame loop: %v", err)
	}
	report(sim, recorder)

	// Keep serving debug routes after a one-shot run until interrupted.
	if server != nil {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}

	stopIO()
	focusLens.Close()
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

func report(sim *simulator, recorder *monitor.Recorder) {
	st := sim.h.Status()
	sum := recorder.Summary()
	fmt.Fprintf(os.Stdout, "state=%s focused=%v position=%d best=%d sharpness=%.1f frames=%d travel=%d reversals=%d\n",
		st.State, sim.h.Focused(), st.Position, st.BestPosition, st.BestSharpness, sum.Frames, sum.Travel, sum.Reversals)

	if recorder.OutputDir() == "" {
		return
	}
	n, err := recorder.GeneratePlots()
	if err != nil {
		log.Printf("failed to write plots: %v", err)
		return
	}
	log.Printf("wrote %d plots to %s", n, recorder.OutputDir())
}
