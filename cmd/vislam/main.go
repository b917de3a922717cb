package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ChristophTobler/ros-examples/internal/config"
	"github.com/ChristophTobler/ros-examples/internal/db"
	"github.com/ChristophTobler/ros-examples/internal/vislam"
	"github.com/ChristophTobler/ros-examples/internal/vislam/camera"
	"github.com/ChristophTobler/ros-examples/internal/vislam/imu"
	"github.com/ChristophTobler/ros-examples/internal/vislam/monitor"
	"github.com/ChristophTobler/ros-examples/internal/vislam/recorder"
)

var (
	devMode    = flag.Bool("dev", false, "Run in dev mode (mock IMU instead of serial)")
	listen     = flag.String("listen", ":8080", "Listen address for the monitor web server")
	imuPort    = flag.String("imu-port", "/dev/ttyUSB0", "Serial port for the IMU (ignored in dev mode)")
	imuBaud    = flag.Int("imu-baud", imu.DefaultBaudRate, "Baud rate for the serial IMU")
	dbFile     = flag.String("db", "vislam.db", "Path to the trajectory database")
	record     = flag.Bool("record", false, "Record poses to the trajectory database")
	notes      = flag.String("notes", "", "Session notes when recording")
	configPath = flag.String("config", "", "Optional JSON tuning config")
	width      = flag.Int("width", 640, "Camera frame width")
	height     = flag.Int("height", 480, "Camera frame height")
	fps        = flag.Float64("fps", 30, "Camera frame rate")
)

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	tuning := config.EmptyTuningConfig()
	if *configPath != "" {
		var err error
		tuning, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load tuning config: %v", err)
		}
	}

	database, err := db.New(*dbFile)
	if err != nil {
		log.Fatalf("Failed to open trajectory database: %v", err)
	}
	defer database.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var imuSource vislam.ImuSource
	if *devMode {
		mock := imu.NewMockSource()
		go mock.Generate(ctx, 5*time.Millisecond)
		imuSource = mock
		log.Printf("Using mock IMU source (dev mode)")
	} else {
		baud := *imuBaud
		if tuning.ImuBaudRate != nil {
			baud = *tuning.ImuBaudRate
		}
		serialSource, err := imu.OpenSerialSource(*imuPort, baud)
		if err != nil {
			log.Fatalf("failed to open IMU serial port: %v", err)
		}
		defer serialSource.Close()
		go func() {
			if err := serialSource.Monitor(ctx); err != nil && ctx.Err() == nil {
				log.Printf("IMU monitor exited: %v", err)
			}
		}()
		imuSource = serialSource
		log.Printf("Reading IMU samples from %s @ %d baud", *imuPort, baud)
	}

	var sink vislam.PoseSink
	if *record {
		rec, err := recorder.New(database, *notes)
		if err != nil {
			log.Fatalf("failed to start recording session: %v", err)
		}
		defer func() {
			if err := rec.End(); err != nil {
				log.Printf("failed to end recording session: %v", err)
			}
		}()
		sink = rec
		log.Printf("Recording poses to session %s", rec.SessionID())
	}

	queueDepth := vislam.DefaultQueueDepth
	if tuning.QueueDepth != nil {
		queueDepth = *tuning.QueueDepth
	}

	manager, err := vislam.NewManager(vislam.ManagerConfig{
		Camera: camera.NewSynthetic(),
		Imu:    imuSource,
		// The production engine is the vendor estimation SDK behind a cgo
		// binding; the mock engine keeps the pipeline runnable without it.
		NewEngine: func(vislam.InitParams) (vislam.Engine, error) {
			return vislam.NewMockEngine(), nil
		},
		QueueDepth:       queueDepth,
		JoinTimeout:      tuning.JoinTimeoutDuration(vislam.DefaultJoinTimeout),
		StatsLogInterval: tuning.StatsLogIntervalDuration(10 * time.Second),
		PoseSink:         sink,
	})
	if err != nil {
		log.Fatalf("failed to create vislam manager: %v", err)
	}

	camParams := vislam.CameraParameters{
		Width:          *width,
		Height:         *height,
		FrameRate:      *fps,
		FocalLength:    [2]float64{275.0, 275.0},
		PrincipalPoint: [2]float64{float64(*width) / 2, float64(*height) / 2},
	}
	initParams := vislam.InitParams{
		Std0Delta:         1e-3,
		AccelMeasRange:    156.0,
		GyroMeasRange:     34.0,
		StdAccelMeasNoise: 0.316,
		StdGyroMeasNoise:  1e-2,
		StdCamNoise:       100.0,
		MinStdPixelNoise:  0.5,
		LogDepthBootstrap: -3.2,
		NoInitWhenMoving:  true,
	}

	if err := manager.Initialize(camParams, initParams); err != nil {
		log.Fatalf("failed to initialize vislam manager: %v", err)
	}
	if err := manager.Start(); err != nil {
		log.Fatalf("failed to start vislam manager: %v", err)
	}

	webserver := monitor.NewWebServer(monitor.WebServerConfig{
		Address: *listen,
		Manager: manager,
		DB:      database,
	})

	// Blocks until SIGINT/SIGTERM cancels the context.
	if err := webserver.Start(ctx); err != nil {
		log.Printf("web server error: %v", err)
	}

	if err := manager.Stop(); err != nil {
		log.Printf("stop error: %v", err)
	}
	if err := manager.Close(); err != nil {
		log.Printf("close error: %v", err)
	}
	log.Printf("vislam shut down")
}
