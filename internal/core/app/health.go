package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"unremark/internal/shared/util"

	"github.com/dustin/go-humanize"
)

type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components"`
}

type HealthService struct {
	app *App
}

func NewHealthService(app *App) *HealthService {
	return &HealthService{app: app}
}

func (s *HealthService) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:     "up",
		Timestamp:  time.Now().UTC(),
		Components: make(map[string]string),
	}

	// Grammars
	if s.app.Parsers == nil || len(s.app.Parsers.Languages()) == 0 {
		status.Status = "degraded"
		status.Components["grammars"] = "none enabled"
	} else {
		langs := make([]string, 0)
		for _, l := range s.app.Parsers.Languages() {
			langs = append(langs, string(l))
		}
		status.Components["grammars"] = "ok (" + strings.Join(langs, ", ") + ")"

		var created, inUse int64
		for _, st := range s.app.Parsers.ParserStats() {
			created += st.Created
			inUse += st.InUse
		}
		status.Components["parsers"] = fmt.Sprintf("%d created, %d in use", created, inUse)
	}

	// Judge
	switch j := s.app.Judge(); {
	case j == nil:
		status.Components["judge"] = "disabled"
	case j.Cooldown().Remaining() > 0:
		status.Status = "degraded"
		status.Components["judge"] = fmt.Sprintf("cooling down (%s left)", j.Cooldown().Remaining().Round(time.Second))
	default:
		status.Components["judge"] = fmt.Sprintf("ok (%d cached, %d calls)", j.Cache().Len(), j.Calls())
	}

	// Verdict store
	if st := s.app.Store(); st != nil {
		if runs, err := st.RecentRuns(ctx, 1); err != nil {
			status.Status = "degraded"
			status.Components["verdict_store"] = "error: " + err.Error()
		} else if len(runs) > 0 {
			status.Components["verdict_store"] = fmt.Sprintf("ok (%s, last run %s)", st.Path(), humanize.Time(runs[0].FinishedAt))
		} else {
			status.Components["verdict_store"] = "ok (" + st.Path() + ")"
		}
	} else if s.app.Config.Cache.Persist && s.app.Config.Judge.IsEnabled() {
		status.Status = "degraded"
		status.Components["verdict_store"] = "missing but enabled in config"
	}

	status.Components["memory"] = humanize.Bytes(util.HeapAlloc())
	return status
}
