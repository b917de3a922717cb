package monitor

import (
	"fmt"
	"log"
	"math"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/ChristophTobler/ros-examples/internal/vislam/recorder"
)

// handleTrajectoryChart renders a quick XY plot (HTML) of a recorded
// trajectory using go-echarts. This is a debugging-only endpoint (no auth) to
// eyeball a session's path without external tooling.
// Query params:
//   - session_id (required)
//   - max_points (optional; default 5000) to reduce payload size
func (ws *WebServer) handleTrajectoryChart(w http.ResponseWriter, r *http.Request) {
	if ws.db == nil {
		ws.writeJSONError(w, http.StatusInternalServerError, "no database configured for trajectory lookup")
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		ws.writeJSONError(w, http.StatusBadRequest, "missing 'session_id' parameter")
		return
	}

	maxPoints := 5000
	if mp := r.URL.Query().Get("max_points"); mp != "" {
		if v, err := strconv.Atoi(mp); err == nil && v > 100 && v <= 50000 {
			maxPoints = v
		}
	}

	poses, err := recorder.ListPoses(ws.db, sessionID, 0)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list poses: %v", err))
		return
	}
	if len(poses) == 0 {
		ws.writeJSONError(w, http.StatusNotFound, "no poses recorded for session")
		return
	}

	// Downsample by stride to stay within maxPoints
	stride := 1
	if len(poses) > maxPoints {
		stride = int(math.Ceil(float64(len(poses)) / float64(maxPoints)))
	}

	data := make([]opts.ScatterData, 0, len(poses)/stride+1)
	maxAbs := 0.0
	for i := 0; i < len(poses); i += stride {
		p := poses[i]
		if math.Abs(p.X) > maxAbs {
			maxAbs = math.Abs(p.X)
		}
		if math.Abs(p.Y) > maxAbs {
			maxAbs = math.Abs(p.Y)
		}
		data = append(data, opts.ScatterData{Value: []interface{}{p.X, p.Y, p.FrameID}})
	}

	pad := maxAbs * 1.05
	if pad == 0 {
		pad = 1.0
	}

	// Force a square plot by using equal width/height and symmetric axis ranges
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Vislam Trajectory", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: "Vislam Trajectory (XY)", Subtitle: fmt.Sprintf("session=%s poses=%d stride=%d", sessionID, len(poses), stride)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
	)
	scatter.AddSeries("trajectory", data)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := scatter.Render(w); err != nil {
		log.Printf("Failed to render trajectory chart: %v", err)
	}
}
