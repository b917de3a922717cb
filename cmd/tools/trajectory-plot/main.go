// trajectory-plot renders the XY path of a recorded vislam session to an
// image file using gonum/plot.
//
// Usage:
//
//	trajectory-plot -db vislam.db -session <uuid> -out trajectory.png
//
// When -session is omitted the most recent session is plotted.
package main

import (
	"flag"
	"log"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/ChristophTobler/ros-examples/internal/db"
	"github.com/ChristophTobler/ros-examples/internal/vislam/recorder"
)

var (
	dbFile    = flag.String("db", "vislam.db", "Path to the trajectory database")
	sessionID = flag.String("session", "", "Session to plot (default: most recent)")
	outFile   = flag.String("out", "trajectory.png", "Output image path (.png, .svg, .pdf)")
	limit     = flag.Int("limit", 0, "Max poses to plot (0 = all)")
)

func main() {
	flag.Parse()

	database, err := db.Open(*dbFile)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()

	session := *sessionID
	if session == "" {
		sessions, err := recorder.ListSessions(database, 1)
		if err != nil {
			log.Fatalf("failed to list sessions: %v", err)
		}
		if len(sessions) == 0 {
			log.Fatal("no recorded sessions in database")
		}
		session = sessions[0].SessionID
		log.Printf("plotting most recent session %s", session)
	}

	poses, err := recorder.ListPoses(database, session, *limit)
	if err != nil {
		log.Fatalf("failed to list poses: %v", err)
	}
	if len(poses) == 0 {
		log.Fatalf("no poses recorded for session %s", session)
	}

	xys := make(plotter.XYs, len(poses))
	for i, pose := range poses {
		xys[i].X = pose.X
		xys[i].Y = pose.Y
	}

	p := plot.New()
	p.Title.Text = "Vislam Trajectory (XY)"
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"
	p.Add(plotter.NewGrid())

	line, err := plotter.NewLine(xys)
	if err != nil {
		log.Fatalf("failed to build line plot: %v", err)
	}
	p.Add(line)

	if err := p.Save(8*vg.Inch, 8*vg.Inch, *outFile); err != nil {
		log.Fatalf("failed to save plot: %v", err)
	}
	log.Printf("wrote %s (%d poses)", *outFile, len(poses))
}
