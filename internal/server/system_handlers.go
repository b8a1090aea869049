package server

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// handleSystemStatus reports process and data-directory health.
// GET /system/status
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuPct, memPct := s.systemStats()

	status := map[string]interface{}{
		"status":         "ok",
		"time":           time.Now().Format(time.RFC3339),
		"cpu_percent":    cpuPct,
		"memory_percent": memPct,
		"data_dir":       s.cfg.DataDir,
		"data_size_mb":   dirSizeMB(s.cfg.DataDir),
		"rules_versions": s.rules.LoadedVersions(),
		"oracle_enabled": s.oracle != nil,
	}

	if s.db != nil {
		if err := s.db.HealthCheck(r.Context()); err != nil {
			status["database"] = "unhealthy: " + err.Error()
			status["status"] = "degraded"
		} else {
			status["database"] = "healthy"
		}
	}

	s.writeJSON(w, status)
}

// handleSchedulerRuns returns recent ingestion run history.
// GET /scheduler/runs?limit=20
func (s *Server) handleSchedulerRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		s.writeError(w, http.StatusServiceUnavailable, "run history is not configured")
		return
	}

	records, err := s.runs.Recent(queryInt(r, "limit", 20))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, map[string]interface{}{
		"count": len(records),
		"runs":  records,
	})
}

// handleTriggerRun starts the daily pipeline immediately.
// POST /scheduler/run
func (s *Server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil || s.dailyJob == nil {
		s.writeError(w, http.StatusServiceUnavailable, "daily update job is not configured")
		return
	}

	// The pipeline can take minutes; run it detached and report the trigger.
	go func() {
		if err := s.scheduler.RunNow(s.dailyJob); err != nil {
			s.log.Error().Err(err).Msg("Manually triggered run failed")
		}
	}()

	s.writeJSONStatus(w, http.StatusAccepted, map[string]string{
		"status": "triggered",
		"job":    s.dailyJob.Name(),
	})
}

// systemStats samples CPU over a short interval so the endpoint stays fast.
func (s *Server) systemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return cpuPercent[0], 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}
	return cpuAvg, memStat.UsedPercent
}

func dirSizeMB(dir string) float64 {
	var total int64
	_ = filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return float64(total) / 1024 / 1024
}
